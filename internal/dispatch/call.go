package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mattjoyce/velox/internal/handler"
	"github.com/mattjoyce/velox/internal/protocol"
)

// State is a call's position in its lifecycle.
type State string

const (
	StateCreated    State = "created"
	StateAuthorized State = "authorized"
	StateDispatched State = "dispatched"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

var transitions = map[State][]State{
	StateCreated:    {StateAuthorized, StateFailed, StateCancelled},
	StateAuthorized: {StateDispatched, StateFailed, StateCancelled},
	StateDispatched: {StateCompleted, StateFailed, StateCancelled},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	errCancelledByCaller = errors.New("cancelled by caller")
	errDeadline          = context.DeadlineExceeded
)

// Call is a pending call and the future of its result.
type Call struct {
	ID        string
	Envelope  protocol.Envelope
	CreatedAt time.Time

	ctx      context.Context
	cancel   context.CancelCauseFunc
	release  []func()
	handler  handler.Handler
	args     protocol.Args
	done     chan struct{}
	resolved time.Time

	mu     sync.Mutex
	state  State
	result protocol.Result
}

func newCall(env protocol.Envelope, now time.Time) *Call {
	return &Call{
		ID:        env.ID,
		Envelope:  env,
		CreatedAt: now,
		done:      make(chan struct{}),
		state:     StateCreated,
	}
}

// Done is closed once the result is available.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result returns the result and whether it is available yet.
func (c *Call) Result() (protocol.Result, bool) {
	select {
	case <-c.done:
		return c.result, true
	default:
		return protocol.Result{}, false
	}
}

// Wait blocks until the call resolves or ctx ends. Giving up on the wait
// does not cancel the call.
func (c *Call) Wait(ctx context.Context) (protocol.Result, error) {
	select {
	case <-c.done:
		return c.result, nil
	case <-ctx.Done():
		return protocol.Result{}, ctx.Err()
	}
}

// Cancel requests cancellation. It is a no-op once the call has resolved.
func (c *Call) Cancel() {
	if c.cancel != nil {
		c.cancel(errCancelledByCaller)
	}
}

// State returns the current lifecycle state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// advance moves to a non-terminal state if legal.
func (c *Call) advance(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !CanTransition(c.state, to) {
		return false
	}
	c.state = to
	return true
}

// settle moves to a terminal state and stores the result. Only the first
// caller wins; allowedFrom, when non-empty, restricts the source state.
func (c *Call) settle(to State, res protocol.Result, allowedFrom ...State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() || !CanTransition(c.state, to) {
		return false
	}
	if len(allowedFrom) > 0 {
		ok := false
		for _, s := range allowedFrom {
			if c.state == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	c.state = to
	c.result = res
	return true
}

// cancelReason classifies why the call context ended.
func (c *Call) cancelReason() *protocol.Error {
	cause := context.Cause(c.ctx)
	if errors.Is(cause, errDeadline) {
		return protocol.Errorf(protocol.KindCancelled, "deadline exceeded")
	}
	if errors.Is(cause, errShutdown) {
		return protocol.Errorf(protocol.KindCancelled, "bridge shutting down")
	}
	return protocol.Errorf(protocol.KindCancelled, "cancelled")
}
