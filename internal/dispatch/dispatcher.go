package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/velox/internal/events"
	"github.com/mattjoyce/velox/internal/handler"
	"github.com/mattjoyce/velox/internal/journal"
	"github.com/mattjoyce/velox/internal/log"
	"github.com/mattjoyce/velox/internal/protocol"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
	recordTimeout    = 2 * time.Second
)

var errShutdown = errors.New("dispatcher shutting down")

// Authorizer decides whether an envelope may run.
type Authorizer interface {
	Authorize(env *protocol.Envelope) error
}

// Recorder persists terminal calls.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(eventType string, data any) events.Event
}

// Config sizes the worker pool.
type Config struct {
	Workers   int
	QueueSize int
	// DefaultTimeout applies to envelopes without timeout_ms. Zero means none.
	DefaultTimeout time.Duration
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder journals every terminal call.
func WithRecorder(r Recorder) Option { return func(d *Dispatcher) { d.recorder = r } }

// WithEvents publishes lifecycle events.
func WithEvents(p Publisher) Option { return func(d *Dispatcher) { d.events = p } }

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option { return func(d *Dispatcher) { d.tracer = t } }

// Dispatcher routes envelopes to handlers.
type Dispatcher struct {
	cfg      Config
	gate     Authorizer
	registry *handler.Registry
	recorder Recorder
	events   Publisher
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*Call
	closed  bool
	idle    chan struct{}

	queue   chan *Call
	workers sync.WaitGroup
}

// New starts the worker pool.
func New(cfg Config, gate Authorizer, registry *handler.Registry, opts ...Option) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	d := &Dispatcher{
		cfg:      cfg,
		gate:     gate,
		registry: registry,
		tracer:   otel.Tracer("github.com/mattjoyce/velox/internal/dispatch"),
		logger:   log.WithComponent("dispatch"),
		now:      time.Now,
		pending:  make(map[string]*Call),
		queue:    make(chan *Call, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.work()
	}
	return d
}

// Submit registers env and returns its future. It returns an error, with no
// future, when the envelope cannot be accepted at all: TransportClosed after
// Shutdown, InvalidArguments for an empty id, DuplicateId while another call
// holds the id, and Overloaded when the queue is full. Every other failure
// resolves the returned future.
//
// The call's context derives from ctx, so ending ctx cancels the call.
func (d *Dispatcher) Submit(ctx context.Context, env protocol.Envelope) (*Call, error) {
	if env.ID == "" {
		return nil, protocol.Errorf(protocol.KindInvalidArguments, "envelope missing required field: id")
	}

	c := newCall(env, d.now())
	c.ctx, c.cancel = context.WithCancelCause(ctx)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		c.cancel(nil)
		return nil, protocol.Errorf(protocol.KindTransportClosed, "bridge is shut down")
	}
	if _, exists := d.pending[env.ID]; exists {
		d.mu.Unlock()
		c.cancel(nil)
		return nil, protocol.Errorf(protocol.KindDuplicateID, "call %q is already pending", env.ID)
	}
	d.pending[env.ID] = c
	d.mu.Unlock()

	logger := d.logger.With("call_id", c.ID)

	if err := c.Envelope.Normalize(); err != nil {
		d.resolve(c, StateFailed, protocol.Fail(c.ID, err))
		return c, nil
	}
	h, schema, err := d.registry.Lookup(c.Envelope.Capability, c.Envelope.Operation)
	if err != nil {
		d.resolve(c, StateFailed, protocol.Fail(c.ID, err))
		return c, nil
	}
	if err := d.gate.Authorize(&c.Envelope); err != nil {
		logger.Warn("call denied", "capability", c.Envelope.Capability, "operation", c.Envelope.Operation)
		d.resolve(c, StateFailed, protocol.Fail(c.ID, err))
		return c, nil
	}
	args, err := schema.Bind(c.Envelope.Args)
	if err != nil {
		d.resolve(c, StateFailed, protocol.Fail(c.ID, err))
		return c, nil
	}
	c.handler, c.args = h, args
	c.advance(StateAuthorized)
	d.publish(events.TypeCallAuthorized, c, nil)

	if timeout := d.timeoutFor(&c.Envelope); timeout > 0 {
		var stop context.CancelFunc
		c.ctx, stop = context.WithTimeoutCause(c.ctx, timeout, errDeadline)
		c.release = append(c.release, stop)
	}
	stopWatch := context.AfterFunc(c.ctx, func() {
		// Queued calls resolve the moment they are cancelled; running calls
		// resolve when their handler returns.
		d.resolve(c, StateCancelled, protocol.Result{ID: c.ID, Error: c.cancelReason()}, StateCreated, StateAuthorized)
	})
	c.release = append(c.release, func() { stopWatch() })

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.resolve(c, StateFailed, protocol.Fail(c.ID, protocol.Errorf(protocol.KindTransportClosed, "bridge is shut down")))
		return c, nil
	}
	select {
	case d.queue <- c:
		d.mu.Unlock()
	default:
		d.mu.Unlock()
		stopWatch()
		logger.Warn("queue full, rejecting call", "queue_size", d.cfg.QueueSize)
		overloaded := protocol.Errorf(protocol.KindOverloaded, "dispatch queue is full (%d)", d.cfg.QueueSize)
		// The call was announced as authorized, so observers still need its
		// terminal event and journal entry.
		d.resolve(c, StateFailed, protocol.Fail(c.ID, overloaded))
		return nil, overloaded
	}
	logger.Debug("call queued", "capability", c.Envelope.Capability, "operation", c.Envelope.Operation)
	return c, nil
}

// Dispatch submits env and waits for its result. If ctx ends first the
// call is cancelled and its Cancelled result returned.
func (d *Dispatcher) Dispatch(ctx context.Context, env protocol.Envelope) protocol.Result {
	c, err := d.Submit(ctx, env)
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

// Cancel cancels a pending call by id.
func (d *Dispatcher) Cancel(id string) error {
	d.mu.Lock()
	c, ok := d.pending[id]
	d.mu.Unlock()
	if !ok {
		return protocol.Errorf(protocol.KindNotFound, "no pending call %q", id)
	}
	c.Cancel()
	return nil
}

// Pending returns the number of unresolved calls.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Workers returns the pool size.
func (d *Dispatcher) Workers() int { return d.cfg.Workers }

// Shutdown stops accepting calls and lets queued and running ones finish.
// When ctx ends first, everything still pending is cancelled. Shutdown
// returns once every accepted call has resolved and the workers exited.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		idle := d.idle
		d.mu.Unlock()
		d.workers.Wait()
		<-idle
		return nil
	}
	d.closed = true
	close(d.queue)
	d.idle = make(chan struct{})
	if len(d.pending) == 0 {
		close(d.idle)
	}
	idle := d.idle
	remaining := len(d.pending)
	d.mu.Unlock()

	d.logger.Info("dispatcher shutting down", "pending", remaining)

	drained := make(chan struct{})
	go func() {
		d.workers.Wait()
		<-idle
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
	}

	d.mu.Lock()
	calls := make([]*Call, 0, len(d.pending))
	for _, c := range d.pending {
		calls = append(calls, c)
	}
	d.mu.Unlock()
	d.logger.Warn("shutdown deadline reached, cancelling pending calls", "pending", len(calls))
	for _, c := range calls {
		if c.cancel != nil {
			c.cancel(errShutdown)
		}
	}
	<-drained
	return ctx.Err()
}

func (d *Dispatcher) timeoutFor(env *protocol.Envelope) time.Duration {
	if t := env.Timeout(); t > 0 {
		return t
	}
	return d.cfg.DefaultTimeout
}

func (d *Dispatcher) work() {
	defer d.workers.Done()
	for c := range d.queue {
		d.run(c)
	}
}

func (d *Dispatcher) run(c *Call) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		d.resolve(c, StateCancelled, protocol.Result{ID: c.ID, Error: c.cancelReason()})
		return
	}
	c.state = StateDispatched
	c.mu.Unlock()
	d.publish(events.TypeCallDispatched, c, nil)

	env := &c.Envelope
	ctx, span := d.tracer.Start(c.ctx, fmt.Sprintf("%s.%s", env.Capability, env.Operation),
		trace.WithAttributes(
			attribute.String("velox.call_id", c.ID),
			attribute.String("velox.capability", string(env.Capability)),
			attribute.String("velox.operation", env.Operation),
		),
	)
	value, err := d.invoke(ctx, c)

	var res protocol.Result
	state := StateCompleted
	switch {
	case c.ctx.Err() != nil:
		state = StateCancelled
		res = protocol.Result{ID: c.ID, Error: c.cancelReason()}
	case err != nil:
		state = StateFailed
		res = protocol.Fail(c.ID, err)
	default:
		res = protocol.Ok(c.ID, value)
	}
	if res.Error != nil {
		span.SetStatus(codes.Error, res.Error.Message)
		span.SetAttributes(attribute.String("velox.error_kind", string(res.Error.Kind)))
	}
	span.End()

	d.resolve(c, state, res)
}

// invoke runs the handler, converting a panic into HandlerError.
func (d *Dispatcher) invoke(ctx context.Context, c *Call) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "call_id", c.ID, "panic", r, "stack", string(debug.Stack()))
			value = nil
			err = protocol.Errorf(protocol.KindHandlerError, "handler panic: %v", r)
		}
	}()
	return c.handler.Execute(ctx, handler.Call{
		ID:        c.ID,
		Operation: c.Envelope.Operation,
		Window:    c.Envelope.TargetWindow(),
		Args:      c.args,
	})
}

// resolve settles c, unregisters it, and then wakes waiters. It is safe to
// call from several goroutines; only the first settle has any effect.
func (d *Dispatcher) resolve(c *Call, to State, res protocol.Result, allowedFrom ...State) {
	if res.ID == "" {
		res.ID = c.ID
	}
	if !c.settle(to, res, allowedFrom...) {
		return
	}
	c.resolved = d.now()
	c.cleanup()

	d.mu.Lock()
	if d.pending[c.ID] == c {
		delete(d.pending, c.ID)
	}
	if d.closed && len(d.pending) == 0 && d.idle != nil {
		select {
		case <-d.idle:
		default:
			close(d.idle)
		}
	}
	d.mu.Unlock()

	close(c.done)

	d.observe(c, to, res)
}

func (c *Call) cleanup() {
	for _, f := range c.release {
		f()
	}
	if c.cancel != nil {
		c.cancel(nil)
	}
}

func (d *Dispatcher) observe(c *Call, state State, res protocol.Result) {
	duration := c.resolved.Sub(c.CreatedAt)
	logger := d.logger.With(
		"call_id", c.ID,
		"capability", c.Envelope.Capability,
		"operation", c.Envelope.Operation,
		"state", state,
		"duration_ms", duration.Milliseconds(),
	)

	eventType := events.TypeCallCompleted
	entry := journal.Entry{
		CallID:      c.ID,
		Capability:  string(c.Envelope.Capability),
		Operation:   c.Envelope.Operation,
		CreatedAt:   c.CreatedAt,
		CompletedAt: c.resolved,
		Duration:    duration,
		Status:      journal.StatusCompleted,
	}
	if c.Envelope.Capability == protocol.CapabilityWindow {
		w := c.Envelope.TargetWindow()
		entry.Window = &w
	}
	switch state {
	case StateFailed:
		eventType, entry.Status = events.TypeCallFailed, journal.StatusFailed
	case StateCancelled:
		eventType, entry.Status = events.TypeCallCancelled, journal.StatusCancelled
	}
	if res.Error != nil {
		kind, msg := string(res.Error.Kind), res.Error.Message
		entry.ErrorKind, entry.Error = &kind, &msg
		logger.Info("call resolved", "error_kind", kind, "error", msg)
	} else {
		logger.Debug("call resolved")
	}

	d.publish(eventType, c, res.Error)

	if d.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := d.recorder.Record(ctx, entry); err != nil {
			logger.Error("failed to journal call", "error", err)
		}
	}
}

func (d *Dispatcher) publish(eventType string, c *Call, perr *protocol.Error) {
	if d.events == nil {
		return
	}
	ev := events.CallEvent{
		CallID:     c.ID,
		Capability: string(c.Envelope.Capability),
		Operation:  c.Envelope.Operation,
	}
	if c.Envelope.Capability == protocol.CapabilityWindow {
		ev.Window = c.Envelope.TargetWindow()
	}
	if !c.resolved.IsZero() {
		ev.DurationMs = c.resolved.Sub(c.CreatedAt).Milliseconds()
	}
	if perr != nil {
		ev.ErrorKind = string(perr.Kind)
		ev.Error = perr.Message
	}
	d.events.Publish(eventType, ev)
}
