// Package bridge is the frontend-facing entry point: it assigns call ids,
// hands envelopes to the dispatcher and returns futures.
package bridge

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/velox/internal/dispatch"
	"github.com/mattjoyce/velox/internal/log"
	"github.com/mattjoyce/velox/internal/protocol"
)

// Dispatcher is the subset of *dispatch.Dispatcher the bridge drives.
type Dispatcher interface {
	Submit(ctx context.Context, env protocol.Envelope) (*dispatch.Call, error)
	Cancel(id string) error
	Pending() int
	Shutdown(ctx context.Context) error
}

// Bridge correlates frontend calls with results.
type Bridge struct {
	dispatcher Dispatcher
	newID      func() string

	mu     sync.RWMutex
	closed bool
}

func New(d Dispatcher) *Bridge {
	return &Bridge{dispatcher: d, newID: uuid.NewString}
}

// Submit assigns an id when env has none and registers the call. The
// assigned id is the returned call's ID.
func (b *Bridge) Submit(ctx context.Context, env protocol.Envelope) (*dispatch.Call, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, protocol.Errorf(protocol.KindTransportClosed, "bridge is closed")
	}
	if env.ID == "" {
		env.ID = b.newID()
	}
	return b.dispatcher.Submit(ctx, env)
}

// Call submits env and waits for its result. Transport failures are
// returned as results too, so the caller always gets exactly one.
func (b *Bridge) Call(ctx context.Context, env protocol.Envelope) protocol.Result {
	// Assigned here rather than in Submit so a rejection still carries it.
	if env.ID == "" {
		env.ID = b.newID()
	}
	c, err := b.Submit(ctx, env)
	if err != nil {
		return protocol.Fail(env.ID, err)
	}
	select {
	case <-c.Done():
	case <-ctx.Done():
		c.Cancel()
		<-c.Done()
	}
	res, _ := c.Result()
	return res
}

// Cancel cancels a pending call.
func (b *Bridge) Cancel(id string) error {
	return b.dispatcher.Cancel(id)
}

// Pending reports how many calls are in flight.
func (b *Bridge) Pending() int {
	return b.dispatcher.Pending()
}

// Close refuses new calls and shuts the dispatcher down. Calls still
// running when ctx ends are cancelled.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	log.WithComponent("bridge").Info("bridge closing", "pending", b.dispatcher.Pending())
	return b.dispatcher.Shutdown(ctx)
}
