package widget

import (
	"sync"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
)

// Registry holds one Tracker per tab. All trackers share the saved panel
// geometry.
type Registry struct {
	storage storage.Store

	mu       sync.Mutex
	trackers map[string]*Tracker
}

func NewRegistry(st storage.Store) *Registry {
	return &Registry{storage: st, trackers: make(map[string]*Tracker)}
}

func (r *Registry) ForTab(tabID string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[tabID]
	if !ok {
		t = NewTracker(r.storage)
		r.trackers[tabID] = t
	}
	return t
}

// Release abandons the tab's gesture in progress without saving and drops
// its tracker.
func (r *Registry) Release(tabID string) {
	r.mu.Lock()
	t, ok := r.trackers[tabID]
	delete(r.trackers, tabID)
	r.mu.Unlock()
	if ok {
		t.Reset()
	}
}
