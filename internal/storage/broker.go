package storage

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const subscriberBuffer = 64

// Broker fans changes out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the change and a warning is logged.
// Watchers never miss one; their signals coalesce instead.
type Broker struct {
	mu       sync.Mutex
	nextID   int
	subs     map[int]chan Change
	watchers map[int]*watcher
}

type watcher struct {
	match func(Change) bool
	ch    chan struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Change), watchers: make(map[int]*watcher)}
}

func (b *Broker) Subscribe() (<-chan Change, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Change, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Watch returns a channel that is signaled after every change match accepts.
// It holds at most one pending signal: any number of matching changes before
// the receiver drains it collapse into one, so a receiver that re-reads the
// state after each signal always ends up seeing the latest write.
func (b *Broker) Watch(match func(Change) bool) (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	w := &watcher{match: match, ch: make(chan struct{}, 1)}
	b.watchers[id] = w

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if w, ok := b.watchers[id]; ok {
				delete(b.watchers, id)
				close(w.ch)
			}
		})
	}
	return w.ch, cancel
}

func (b *Broker) Publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.watchers {
		if !w.match(c) {
			continue
		}
		select {
		case w.ch <- struct{}{}:
		default:
			// A signal is already pending.
		}
	}
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
			logrus.WithFields(logrus.Fields{"area": c.Area, "key": c.Key}).Warn("storage subscriber lagging, change dropped")
		}
	}
}

// CloseAll closes every subscription and watch.
func (b *Broker) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	for id, w := range b.watchers {
		delete(b.watchers, id)
		close(w.ch)
	}
}
