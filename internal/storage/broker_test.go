package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func credentialOnly(c Change) bool { return c.Affects(Local, KeyCredential) }

func TestWatchCoalescesAndNeverDrops(t *testing.T) {
	b := NewBroker()
	dirty, cancel := b.Watch(credentialOnly)
	defer cancel()
	changes, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// Flood past the subscriber buffer, then change the credential.
	for i := 0; i < subscriberBuffer*2; i++ {
		b.Publish(Change{Area: PageArea("tab"), Key: KeyActiveSessions})
	}
	b.Publish(Change{Area: Local, Key: KeyCredential})
	b.Publish(Change{Area: Local, Key: KeyCredential})

	assert.Len(t, changes, subscriberBuffer)
	select {
	case <-dirty:
	case <-time.After(time.Second):
		t.Fatal("credential change was not signaled")
	}
	// Both credential writes collapsed into the one signal.
	select {
	case <-dirty:
		t.Fatal("unexpected second signal")
	default:
	}

	b.Publish(Change{Area: Local, Cleared: true})
	select {
	case <-dirty:
	case <-time.After(time.Second):
		t.Fatal("area clear was not signaled")
	}
}

func TestWatchIgnoresOtherKeys(t *testing.T) {
	b := NewBroker()
	dirty, cancel := b.Watch(credentialOnly)
	defer cancel()

	b.Publish(Change{Area: Local, Key: KeyMetrics})
	b.Publish(Change{Area: PageArea("tab"), Key: KeyCredential})
	assert.Len(t, dirty, 0)
}

func TestWatchCancelAndCloseAll(t *testing.T) {
	b := NewBroker()
	dirty, cancel := b.Watch(credentialOnly)
	cancel()
	cancel()
	_, ok := <-dirty
	assert.False(t, ok)

	other, _ := b.Watch(credentialOnly)
	b.CloseAll()
	_, ok = <-other
	require.False(t, ok)

	// Publishing after everything closed must not panic.
	b.Publish(Change{Area: Local, Key: KeyCredential})
}
