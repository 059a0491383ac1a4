// Package session owns a tab's chat sessions: numbering, the active
// pointer, persistence to the tab's page area, and transient "thinking"
// placeholders.
//
// A Store has a single writer (its mutex). Readers take deep copies via
// Snapshot, Get and Active, or observe changes through the observer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
)

// DefaultModel is used for new sessions unless WithDefaultModel says otherwise.
const DefaultModel = "qwen/qwq-32b"

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Placeholder is a transient entry shown while a reply is pending.
type Placeholder struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Label     string `json:"label"`
}

// View is a read-only copy of the store's state. Sessions are ordered by
// number. Version grows with every change, so a consumer can drop a view
// older than one it already has.
type View struct {
	Version      uint64           `json:"version"`
	Sessions     []models.Session `json:"sessions"`
	ActiveID     string           `json:"active_id"`
	Placeholders []Placeholder    `json:"placeholders"`
}

// Active returns the active session of the view.
func (v View) Active() (models.Session, bool) {
	for _, s := range v.Sessions {
		if s.ID == v.ActiveID {
			return s, true
		}
	}
	return models.Session{}, false
}

// persisted is the layout stored under storage.KeyActiveSessions.
type persisted struct {
	Sessions map[string]models.Session `json:"sessions"`
	ActiveID string                    `json:"active_id"`
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultModel sets the model given to new sessions. Empty keeps DefaultModel.
func WithDefaultModel(model string) Option {
	return func(s *Store) {
		if model != "" {
			s.defaultModel = model
		}
	}
}

// WithObserver registers fn to be called with a fresh View after every
// mutation. fn runs outside the store lock.
func WithObserver(fn func(View)) Option {
	return func(s *Store) { s.observer = fn }
}

// Store holds one tab's sessions and persists them to the tab's page area.
type Store struct {
	storage      storage.Store
	area         storage.Area
	defaultModel string
	observer     func(View)

	// notifyMu orders observer calls.
	notifyMu sync.Mutex

	mu           sync.Mutex
	version      uint64
	sessions     map[string]*models.Session
	activeID     string
	placeholders []Placeholder
}

// New returns an empty Store persisting to area. Call Restore to load a
// previous snapshot.
func New(st storage.Store, area storage.Area, opts ...Option) *Store {
	s := &Store{
		storage:      st,
		area:         area,
		defaultModel: DefaultModel,
		sessions:     make(map[string]*models.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Area() storage.Area { return s.area }

func (s *Store) DefaultModel() string { return s.defaultModel }

// Create adds a session numbered after the existing ones and makes it
// active.
func (s *Store) Create(ctx context.Context) (models.Session, error) {
	s.mu.Lock()
	created := s.createLocked()
	err := s.persistLocked(ctx)
	s.unlockAndNotify()
	return created, err
}

func (s *Store) createLocked() models.Session {
	n := len(s.sessions) + 1
	sess := &models.Session{
		ID:       "session-" + uuid.NewString(),
		Number:   n,
		Title:    models.TitleFor(n),
		Messages: []models.Message{},
		Model:    s.defaultModel,
	}
	s.sessions[sess.ID] = sess
	s.activeID = sess.ID
	return sess.Clone()
}

// Close removes a session and renumbers the survivors densely. When the
// active session is closed the lowest-numbered survivor becomes active;
// closing the last session creates a fresh one.
func (s *Store) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("close %s: %w", id, ErrNotFound)
	}
	delete(s.sessions, id)
	s.dropPlaceholdersLocked(id)
	s.renumberLocked()

	if s.activeID == id {
		s.activeID = ""
		if first := s.orderedLocked(); len(first) > 0 {
			s.activeID = first[0].ID
		}
	}
	if len(s.sessions) == 0 {
		s.createLocked()
	}
	err := s.persistLocked(ctx)
	s.unlockAndNotify()
	return err
}

// Switch makes id the active session.
func (s *Store) Switch(ctx context.Context, id string) error {
	return s.mutate(ctx, func() error {
		if _, ok := s.sessions[id]; !ok {
			return fmt.Errorf("switch %s: %w", id, ErrNotFound)
		}
		s.activeID = id
		return nil
	})
}

// Append adds a message to the active session, creating one first when
// none is active. It returns the id of the session written to.
func (s *Store) Append(ctx context.Context, sender, content string) (string, error) {
	var id string
	err := s.mutate(ctx, func() error {
		sess, ok := s.sessions[s.activeID]
		if !ok {
			created := s.createLocked()
			sess = s.sessions[created.ID]
		}
		sess.Messages = append(sess.Messages, models.Message{Sender: sender, Content: content})
		id = sess.ID
		return nil
	})
	return id, err
}

// AppendTo adds a message to a specific session, active or not.
func (s *Store) AppendTo(ctx context.Context, id, sender, content string) error {
	return s.mutate(ctx, func() error {
		sess, ok := s.sessions[id]
		if !ok {
			return fmt.Errorf("append to %s: %w", id, ErrNotFound)
		}
		sess.Messages = append(sess.Messages, models.Message{Sender: sender, Content: content})
		return nil
	})
}

func (s *Store) SetModel(ctx context.Context, id, model string) error {
	return s.mutate(ctx, func() error {
		sess, ok := s.sessions[id]
		if !ok {
			return fmt.Errorf("set model of %s: %w", id, ErrNotFound)
		}
		sess.Model = model
		return nil
	})
}

// EnsureSession guarantees an active session exists and returns it.
func (s *Store) EnsureSession(ctx context.Context) (models.Session, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[s.activeID]; ok {
		out := sess.Clone()
		s.mu.Unlock()
		return out, nil
	}
	var out models.Session
	if ordered := s.orderedLocked(); len(ordered) > 0 {
		s.activeID = ordered[0].ID
		out = ordered[0].Clone()
	} else {
		out = s.createLocked()
	}
	err := s.persistLocked(ctx)
	s.unlockAndNotify()
	return out, err
}

// OpenSaved opens an archived chat as a new active session.
func (s *Store) OpenSaved(ctx context.Context, saved models.SavedChat) (models.Session, error) {
	s.mu.Lock()
	created := s.createLocked()
	sess := s.sessions[created.ID]
	sess.Messages = append([]models.Message{}, saved.Messages...)
	if saved.Model != "" {
		sess.Model = saved.Model
	}
	out := sess.Clone()
	err := s.persistLocked(ctx)
	s.unlockAndNotify()
	return out, err
}

// ShowPlaceholder adds a transient entry to sessionID and returns its id.
// Placeholders are part of every View but never persisted.
func (s *Store) ShowPlaceholder(sessionID, label string) string {
	p := Placeholder{ID: "loader-" + uuid.NewString(), SessionID: sessionID, Label: label}
	s.mu.Lock()
	s.placeholders = append(s.placeholders, p)
	s.unlockAndNotify()
	return p.ID
}

// RemovePlaceholder drops the placeholder with id. It reports whether one
// was removed; removing twice is harmless.
func (s *Store) RemovePlaceholder(id string) bool {
	s.mu.Lock()
	removed := false
	kept := s.placeholders[:0]
	for _, p := range s.placeholders {
		if p.ID == id {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	s.placeholders = kept
	if !removed {
		s.mu.Unlock()
		return false
	}
	s.unlockAndNotify()
	return true
}

func (s *Store) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Store) Active() (models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[s.activeID]
	if !ok {
		return models.Session{}, false
	}
	return sess.Clone(), true
}

func (s *Store) Get(id string) (models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, false
	}
	return sess.Clone(), true
}

// Persist writes the session map and active id to the page area.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// Restore replaces the in-memory sessions with the persisted snapshot. A
// missing or empty snapshot leaves state untouched and reports false.
// Numbers are made dense again in their persisted order.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	var snap persisted
	found, err := s.storage.Get(ctx, s.area, storage.KeyActiveSessions, &snap)
	if err != nil {
		return false, fmt.Errorf("restore sessions: %w", err)
	}
	if !found || len(snap.Sessions) == 0 {
		return false, nil
	}

	s.mu.Lock()
	s.sessions = make(map[string]*models.Session, len(snap.Sessions))
	for id, sess := range snap.Sessions {
		sess := sess.Clone()
		sess.ID = id
		if sess.Messages == nil {
			sess.Messages = []models.Message{}
		}
		if sess.Model == "" {
			sess.Model = s.defaultModel
		}
		s.sessions[id] = &sess
	}
	s.placeholders = nil
	s.renumberLocked()
	s.activeID = snap.ActiveID
	if _, ok := s.sessions[s.activeID]; !ok {
		s.activeID = s.orderedLocked()[0].ID
	}
	view := s.unlockAndNotify()

	logrus.WithFields(logrus.Fields{"area": s.area, "sessions": len(view.Sessions)}).Debug("restored sessions")
	return true, nil
}

func (s *Store) mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	err := s.persistLocked(ctx)
	s.unlockAndNotify()
	return err
}

func (s *Store) persistLocked(ctx context.Context) error {
	snap := persisted{Sessions: make(map[string]models.Session, len(s.sessions)), ActiveID: s.activeID}
	for id, sess := range s.sessions {
		snap.Sessions[id] = sess.Clone()
	}
	if err := s.storage.Set(ctx, s.area, storage.KeyActiveSessions, snap); err != nil {
		logrus.WithError(err).WithField("area", s.area).Error("persist sessions failed")
		return fmt.Errorf("persist sessions: %w", err)
	}
	return nil
}

// orderedLocked returns the sessions by ascending number, ties by id.
func (s *Store) orderedLocked() []*models.Session {
	out := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) renumberLocked() {
	for i, sess := range s.orderedLocked() {
		sess.Number = i + 1
		sess.Title = models.TitleFor(sess.Number)
	}
}

func (s *Store) dropPlaceholdersLocked(sessionID string) {
	kept := s.placeholders[:0]
	for _, p := range s.placeholders {
		if p.SessionID != sessionID {
			kept = append(kept, p)
		}
	}
	s.placeholders = kept
}

func (s *Store) viewLocked() View {
	v := View{
		Version:      s.version,
		Sessions:     make([]models.Session, 0, len(s.sessions)),
		ActiveID:     s.activeID,
		Placeholders: append([]Placeholder{}, s.placeholders...),
	}
	for _, sess := range s.orderedLocked() {
		v.Sessions = append(v.Sessions, sess.Clone())
	}
	return v
}

// unlockAndNotify bumps the version, releases mu and hands the new view to
// the observer. notifyMu is taken before mu is released, so observers
// receive views in version order without running under the state lock.
func (s *Store) unlockAndNotify() View {
	s.version++
	view := s.viewLocked()
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if s.observer != nil {
		s.observer(view)
	}
	return view
}
