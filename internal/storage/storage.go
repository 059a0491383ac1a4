// Package storage defines the key/value storage areas shared by every
// component of the service. Values are JSON documents addressed by
// (area, key); writers publish change notifications to subscribers.
package storage

import (
	"context"
	"fmt"
)

// Area names a storage namespace.
type Area string

// Local is the service-wide area (the extension's local storage).
const Local Area = "local"

// PageArea returns the page-local area of a tab.
func PageArea(tabID string) Area {
	return Area("page:" + tabID)
}

// Well-known keys in the Local area.
const (
	KeyEncryptionKey = "openrouter_api_key_encryption_key"
	KeyCredential    = "openrouter_api_key"
	KeyDragPosition  = "drag_position"
	KeyPanelSize     = "panel_size"
	KeyMetrics       = "performance_metrics"
	KeyModelsCache   = "openrouter_models_cache"
	KeySelectedModel = "openrouter_selected_model"
	KeyDarkMode      = "dark_mode"
	KeySavedChats    = "saved_chats"
)

// KeyActiveSessions holds a tab's session snapshot in its page area.
const KeyActiveSessions = "active_sessions"

type Store interface {
	// Get decodes the value stored under key into dst. found is false when
	// nothing is stored; dst is left untouched in that case.
	Get(ctx context.Context, area Area, key string, dst any) (found bool, err error)
	Set(ctx context.Context, area Area, key string, value any) error
	// SetIfAbsent stores value only when key is missing. It reports whether
	// this call stored it; the check and the write are one atomic statement.
	SetIfAbsent(ctx context.Context, area Area, key string, value any) (stored bool, err error)
	Remove(ctx context.Context, area Area, keys ...string) error
	Clear(ctx context.Context, area Area) error
	Keys(ctx context.Context, area Area) ([]string, error)

	// Subscribe returns a channel of changes and a func that cancels the
	// subscription and closes the channel.
	Subscribe() (<-chan Change, func())
	// Watch returns a coalescing signal for changes match accepts; see
	// Broker.Watch. Unlike Subscribe it never loses a change.
	Watch(match func(Change) bool) (<-chan struct{}, func())

	Close() error
}

// Change describes one mutation. Cleared is set when a whole area was wiped
// and Key is empty.
type Change struct {
	Area    Area
	Key     string
	Cleared bool
}

// Affects reports whether the change touches key in area.
func (c Change) Affects(area Area, key string) bool {
	if c.Area != area {
		return false
	}
	return c.Cleared || c.Key == key
}

// Error wraps a failed storage operation.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
