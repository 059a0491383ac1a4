// Package widget tracks the panel's drag and resize gestures as a state
// machine and persists where the panel ended up.
//
//	idle -> dragging -> idle
//	idle -> resizing -> idle
//
// A Gesture returns the tracker to idle on End, Release or Tracker.Reset,
// whichever happens first; the rest are no-ops.
package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
)

type Mode string

const (
	ModeDrag   Mode = "drag"
	ModeResize Mode = "resize"
)

type State string

const (
	Idle     State = "idle"
	Dragging State = "dragging"
	Resizing State = "resizing"
)

const (
	MinWidth  = 300
	MinHeight = 400
)

var DefaultSize = models.Size{Width: 400, Height: 600}

var (
	ErrBusy     = errors.New("a gesture is already in progress")
	ErrReleased = errors.New("gesture already released")
)

// Update is the panel geometry after a move.
type Update struct {
	Position models.Position `json:"position"`
	Size     models.Size     `json:"size"`
}

type Tracker struct {
	storage storage.Store

	mu     sync.Mutex
	state  State
	active *Gesture
}

func NewTracker(st storage.Store) *Tracker {
	return &Tracker{storage: st, state: Idle}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Begin starts a gesture at pointer position at. It fails with ErrBusy
// unless the tracker is idle.
func (t *Tracker) Begin(ctx context.Context, mode Mode, at models.Position) (*Gesture, error) {
	var next State
	switch mode {
	case ModeDrag:
		next = Dragging
	case ModeResize:
		next = Resizing
	default:
		return nil, fmt.Errorf("unknown gesture mode %q", mode)
	}

	pos, err := t.Position(ctx)
	if err != nil {
		return nil, err
	}
	size, err := t.Size(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Idle {
		return nil, ErrBusy
	}
	g := &Gesture{
		tracker: t,
		mode:    mode,
		start:   at,
		current: Update{Position: pos, Size: size},
		origin:  Update{Position: pos, Size: size},
	}
	t.state = next
	t.active = g
	return g, nil
}

// Active returns the gesture in progress, if any.
func (t *Tracker) Active() (*Gesture, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active, t.active != nil
}

// Reset releases any gesture in progress.
func (t *Tracker) Reset() {
	if g, ok := t.Active(); ok {
		g.Release()
	}
}

// Position returns the saved panel position, {0,0} when none is saved.
func (t *Tracker) Position(ctx context.Context) (models.Position, error) {
	var p models.Position
	if _, err := t.storage.Get(ctx, storage.Local, storage.KeyDragPosition, &p); err != nil {
		return models.Position{}, err
	}
	return p, nil
}

func (t *Tracker) SavePosition(ctx context.Context, p models.Position) error {
	return t.storage.Set(ctx, storage.Local, storage.KeyDragPosition, p)
}

// Size returns the saved panel size, DefaultSize when none is saved.
func (t *Tracker) Size(ctx context.Context) (models.Size, error) {
	s := DefaultSize
	if _, err := t.storage.Get(ctx, storage.Local, storage.KeyPanelSize, &s); err != nil {
		return models.Size{}, err
	}
	return s, nil
}

func (t *Tracker) release(g *Gesture) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == g {
		t.active = nil
		t.state = Idle
	}
}

type Gesture struct {
	tracker *Tracker
	mode    Mode
	start   models.Position
	origin  Update

	mu       sync.Mutex
	current  Update
	released bool
}

func (g *Gesture) Mode() Mode { return g.mode }

// Move applies the pointer at to the panel. A resize never shrinks a
// dimension to MinWidth/MinHeight or below; that dimension keeps its last
// value.
func (g *Gesture) Move(at models.Position) (Update, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return g.current, ErrReleased
	}
	dx, dy := at.X-g.start.X, at.Y-g.start.Y
	switch g.mode {
	case ModeDrag:
		g.current.Position = models.Position{X: g.origin.Position.X + dx, Y: g.origin.Position.Y + dy}
	case ModeResize:
		if w := g.origin.Size.Width + dx; w > MinWidth {
			g.current.Size.Width = w
		}
		if h := g.origin.Size.Height + dy; h > MinHeight {
			g.current.Size.Height = h
		}
	}
	return g.current, nil
}

// End persists the result and releases the gesture.
func (g *Gesture) End(ctx context.Context) (Update, error) {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return Update{}, ErrReleased
	}
	final := g.current
	g.mu.Unlock()
	defer g.Release()

	var err error
	switch g.mode {
	case ModeDrag:
		err = g.tracker.SavePosition(ctx, final.Position)
	case ModeResize:
		err = g.tracker.storage.Set(ctx, storage.Local, storage.KeyPanelSize, final.Size)
	}
	return final, err
}

// Release returns the tracker to idle without saving. Safe to call more
// than once.
func (g *Gesture) Release() {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return
	}
	g.released = true
	g.mu.Unlock()
	g.tracker.release(g)
}
