// Package pubsub declares the PubsubTransport collaborator (spec §6) and
// ships an in-memory implementation suitable for a single-process
// deployment and for tests. A production transport (a real channel
// pubsub fabric) is a named external collaborator the spec leaves
// unimplemented — see SPEC_FULL.md's dependency disposition.
package pubsub

import (
	"context"
	"sort"
	"sync"

	"github.com/kachery-network/kachery-daemon/internal/types"
)

// Handler receives one delivered envelope on a subscribed sub-channel.
type Handler func(ctx context.Context, subchannel string, env types.PubsubEnvelope)

// Transport is the minimal publish/subscribe surface HubCoordinator
// consumes: per-channel sub-channels named "<channel>-<role>" carrying
// signed envelopes (spec §4.7/§6).
type Transport interface {
	// Subscribe registers handler for subchannel, returning a function
	// that cancels the subscription.
	Subscribe(subchannel string, handler Handler) (unsubscribe func())
	// Publish delivers env to every current subscriber of subchannel.
	Publish(ctx context.Context, subchannel string, env types.PubsubEnvelope) error
}

// MemoryTransport is an in-process Transport: publishing on a
// sub-channel synchronously fans out to every currently-registered
// handler, in registration order. Safe for concurrent use.
type MemoryTransport struct {
	mu   sync.RWMutex
	subs map[string]map[int]Handler
	next int
}

// NewMemoryTransport returns an empty in-memory transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers handler for subchannel.
func (t *MemoryTransport) Subscribe(subchannel string, handler Handler) func() {
	t.mu.Lock()
	id := t.next
	t.next++
	if t.subs[subchannel] == nil {
		t.subs[subchannel] = make(map[int]Handler)
	}
	t.subs[subchannel][id] = handler
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs[subchannel], id)
		t.mu.Unlock()
	}
}

// Publish fans env out to subchannel's current subscribers, synchronously
// and in registration order.
func (t *MemoryTransport) Publish(ctx context.Context, subchannel string, env types.PubsubEnvelope) error {
	t.mu.RLock()
	ids := make([]int, 0, len(t.subs[subchannel]))
	for id := range t.subs[subchannel] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, t.subs[subchannel][id])
	}
	t.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, subchannel, env)
	}
	return nil
}
