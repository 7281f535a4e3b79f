// Package handler defines the contract every capability implementation
// satisfies and the registry the dispatcher routes through.
package handler

import (
	"context"
	"fmt"
	"sort"

	"github.com/mattjoyce/velox/internal/protocol"
)

// Handler executes the operations of one capability.
//
// Execute runs on a dispatcher worker, never on the frontend thread. It must
// observe ctx and return promptly once ctx is done; whatever it returns
// after cancellation is discarded.
type Handler interface {
	Capability() protocol.Capability
	Operations() map[string]protocol.Schema
	Execute(ctx context.Context, call Call) (any, error)
}

// Call is the validated input to Execute.
type Call struct {
	ID        string
	Operation string
	Window    string
	Args      protocol.Args
}

// Registry maps capabilities to handlers. It is built at startup and read-only afterwards.
type Registry struct {
	handlers map[protocol.Capability]Handler
}

// NewRegistry registers the given handlers. A capability registered twice is an error.
func NewRegistry(hs ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[protocol.Capability]Handler, len(hs))}
	for _, h := range hs {
		if h == nil {
			continue
		}
		c := h.Capability()
		if _, exists := r.handlers[c]; exists {
			return nil, fmt.Errorf("capability %q registered twice", c)
		}
		r.handlers[c] = h
	}
	return r, nil
}

// Lookup returns the handler and schema for an operation. Unknown
// capabilities and operations are InvalidArguments.
func (r *Registry) Lookup(c protocol.Capability, op string) (Handler, protocol.Schema, error) {
	h, ok := r.handlers[c]
	if !ok {
		return nil, nil, protocol.Errorf(protocol.KindInvalidArguments, "capability %q is not available", c)
	}
	schema, ok := h.Operations()[op]
	if !ok {
		return nil, nil, protocol.Errorf(protocol.KindInvalidArguments, "unknown operation %s.%s", c, op)
	}
	return h, schema, nil
}

// Operations lists every registered "capability.operation", sorted.
func (r *Registry) Operations() []string {
	var out []string
	for c, h := range r.handlers {
		for op := range h.Operations() {
			out = append(out, string(c)+"."+op)
		}
	}
	sort.Strings(out)
	return out
}

// Schemas returns the argument schema of every operation keyed by
// "capability.operation".
func (r *Registry) Schemas() map[string]protocol.Schema {
	out := make(map[string]protocol.Schema)
	for c, h := range r.handlers {
		for op, schema := range h.Operations() {
			out[string(c)+"."+op] = schema
		}
	}
	return out
}
