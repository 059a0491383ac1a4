package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
)

// Archive keeps saved chats in the local area, shared by all tabs.
type Archive struct {
	storage storage.Store
	now     func() time.Time

	mu sync.Mutex
}

func NewArchive(st storage.Store) *Archive {
	return &Archive{storage: st, now: time.Now}
}

func (a *Archive) load(ctx context.Context) ([]models.SavedChat, error) {
	var chats []models.SavedChat
	if _, err := a.storage.Get(ctx, storage.Local, storage.KeySavedChats, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// Save stores a copy of sess and returns the saved entry.
func (a *Archive) Save(ctx context.Context, sess models.Session) (models.SavedChat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chats, err := a.load(ctx)
	if err != nil {
		return models.SavedChat{}, err
	}
	saved := models.SavedChat{
		ID:       "chat-" + uuid.NewString(),
		Title:    sess.Title,
		Model:    sess.Model,
		Messages: append([]models.Message{}, sess.Messages...),
		SavedAt:  a.now().UnixMilli(),
	}
	chats = append(chats, saved)
	if err := a.storage.Set(ctx, storage.Local, storage.KeySavedChats, chats); err != nil {
		return models.SavedChat{}, err
	}
	return saved, nil
}

// List returns saved chats, newest first.
func (a *Archive) List(ctx context.Context) ([]models.SavedChat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chats, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(chats, func(i, j int) bool { return chats[i].SavedAt > chats[j].SavedAt })
	if chats == nil {
		chats = []models.SavedChat{}
	}
	return chats, nil
}

func (a *Archive) Get(ctx context.Context, id string) (models.SavedChat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chats, err := a.load(ctx)
	if err != nil {
		return models.SavedChat{}, err
	}
	for _, c := range chats {
		if c.ID == id {
			return c, nil
		}
	}
	return models.SavedChat{}, fmt.Errorf("saved chat %s: %w", id, ErrNotFound)
}

func (a *Archive) Delete(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	chats, err := a.load(ctx)
	if err != nil {
		return err
	}
	kept := make([]models.SavedChat, 0, len(chats))
	for _, c := range chats {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(chats) {
		return fmt.Errorf("saved chat %s: %w", id, ErrNotFound)
	}
	return a.storage.Set(ctx, storage.Local, storage.KeySavedChats, kept)
}
