package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
)

// Registry holds one Store per tab.
type Registry struct {
	storage storage.Store
	opts    []Option

	mu       sync.Mutex
	stores   map[string]*Store
	onChange func(tabID string, v View)
}

func NewRegistry(st storage.Store, opts ...Option) *Registry {
	return &Registry{storage: st, opts: opts, stores: make(map[string]*Store)}
}

// OnChange sets the callback fired after any tab's sessions change. Set it
// before the first ForTab.
func (r *Registry) OnChange(fn func(tabID string, v View)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// ForTab returns the tab's store, restoring it from the page area and
// ensuring an active session on first use.
func (r *Registry) ForTab(ctx context.Context, tabID string) (*Store, error) {
	if tabID == "" {
		return nil, errors.New("empty tab id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[tabID]; ok {
		return s, nil
	}

	opts := append([]Option{}, r.opts...)
	if fn := r.onChange; fn != nil {
		opts = append(opts, WithObserver(func(v View) { fn(tabID, v) }))
	}
	s := New(r.storage, storage.PageArea(tabID), opts...)
	if _, err := s.Restore(ctx); err != nil {
		return nil, err
	}
	if _, err := s.EnsureSession(ctx); err != nil {
		return nil, err
	}
	r.stores[tabID] = s
	return s, nil
}

// Forget drops the tab's in-memory store. Its persisted snapshot stays.
func (r *Registry) Forget(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, tabID)
}

// Tabs lists the tabs with a loaded store.
func (r *Registry) Tabs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.stores))
	for id := range r.stores {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
