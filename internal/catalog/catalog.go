// Package catalog is the model directory: a 24h cache of the remote model
// list, client-side filtering, and the persisted model selection.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
)

const DefaultTTL = 24 * time.Hour

// Lister is satisfied by *openrouter.Client.
type Lister interface {
	ListModels(ctx context.Context, apiKey string) ([]models.ModelDescriptor, error)
}

// CacheEntry is stored under storage.KeyModelsCache. Timestamp is in
// milliseconds.
type CacheEntry struct {
	Models    []models.ModelDescriptor `json:"models"`
	Timestamp int64                    `json:"timestamp"`
}

type Criteria struct {
	Provider   string  `json:"provider,omitempty"`
	Query      string  `json:"query,omitempty"`
	MaxLatency float64 `json:"max_latency,omitempty"`
	MaxCost    float64 `json:"max_cost,omitempty"`
}

type Directory struct {
	storage storage.Store
	lister  Lister
	ttl     time.Duration

	// Now is the clock used for cache age.
	Now func() time.Time
	// OnSelect is called after a selection is persisted.
	OnSelect func(modelID string)
}

func New(st storage.Store, lister Lister, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Directory{storage: st, lister: lister, ttl: ttl, Now: time.Now}
}

// List returns the cached models while the cache is younger than the TTL,
// else fetches and overwrites the cache. A failed fetch falls back to
// whatever is cached, possibly nothing, and is only logged.
func (d *Directory) List(ctx context.Context, apiKey string) []models.ModelDescriptor {
	entry, found, err := d.cached(ctx)
	if err != nil {
		logrus.WithError(err).Warn("read model cache failed")
	}
	now := d.Now()
	if found && now.Sub(time.UnixMilli(entry.Timestamp)) < d.ttl {
		return entry.Models
	}

	fresh, err := d.lister.ListModels(ctx, apiKey)
	if err != nil {
		logrus.WithError(err).Warn("fetch models failed, using cache")
		return entry.Models
	}
	if err := d.storage.Set(ctx, storage.Local, storage.KeyModelsCache, CacheEntry{Models: fresh, Timestamp: now.UnixMilli()}); err != nil {
		logrus.WithError(err).Warn("write model cache failed")
	}
	logrus.WithField("count", len(fresh)).Debug("model list refreshed")
	return fresh
}

func (d *Directory) cached(ctx context.Context) (CacheEntry, bool, error) {
	var entry CacheEntry
	found, err := d.storage.Get(ctx, storage.Local, storage.KeyModelsCache, &entry)
	return entry, found, err
}

// Filter keeps the models that satisfy every supplied criterion. Zero
// values are not supplied. A model with unknown latency or price passes
// those criteria.
func Filter(list []models.ModelDescriptor, c Criteria) []models.ModelDescriptor {
	if c == (Criteria{}) {
		return list
	}
	query := strings.ToLower(c.Query)
	out := make([]models.ModelDescriptor, 0, len(list))
	for _, m := range list {
		if c.Provider != "" && !strings.Contains(m.ProviderID(), c.Provider) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(m.Name), query) {
			continue
		}
		if c.MaxLatency > 0 && m.Latency > 0 && m.Latency > c.MaxLatency {
			continue
		}
		if c.MaxCost > 0 {
			if price, ok := m.PromptPrice(); ok && price > c.MaxCost {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// Select persists modelID as the selected model and notifies OnSelect.
func (d *Directory) Select(ctx context.Context, modelID string) error {
	if strings.TrimSpace(modelID) == "" {
		return errors.New("model id is empty")
	}
	if err := d.storage.Set(ctx, storage.Local, storage.KeySelectedModel, modelID); err != nil {
		return err
	}
	if d.OnSelect != nil {
		d.OnSelect(modelID)
	}
	return nil
}

// Selected returns the persisted selection, if any.
func (d *Directory) Selected(ctx context.Context) (string, bool, error) {
	var id string
	found, err := d.storage.Get(ctx, storage.Local, storage.KeySelectedModel, &id)
	return id, found && id != "", err
}

// Label returns the cached display name of modelID, or fallback when the
// model is unknown.
func (d *Directory) Label(ctx context.Context, modelID, fallback string) string {
	entry, _, err := d.cached(ctx)
	if err != nil {
		return fallback
	}
	for _, m := range entry.Models {
		if m.ID == modelID && m.Name != "" {
			return m.Name
		}
	}
	return fallback
}
