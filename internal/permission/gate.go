// Package permission decides which capability operations the frontend may
// invoke. The allowlist is built once from the manifest and never mutated.
package permission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/velox/internal/protocol"
)

// Wildcard grants every operation of a capability. It must be listed
// explicitly; nothing is allowed by default.
const Wildcard = "*"

// Set maps capability to the operations it allows.
type Set map[protocol.Capability]map[string]struct{}

// Gate authorizes envelopes against a read-only Set.
type Gate struct {
	set Set
}

// NewGate builds a gate from the manifest form: capability name -> operation names.
// Capability aliases are resolved; unknown capabilities are rejected.
func NewGate(manifest map[string][]string) (*Gate, error) {
	set := make(Set, len(manifest))
	for name, ops := range manifest {
		c, err := protocol.ParseCapability(name)
		if err != nil {
			return nil, fmt.Errorf("permissions: %w", err)
		}
		allowed, ok := set[c]
		if !ok {
			allowed = make(map[string]struct{}, len(ops))
			set[c] = allowed
		}
		for _, op := range ops {
			op = strings.TrimSpace(op)
			if op == "" {
				return nil, fmt.Errorf("permissions: empty operation under %q", name)
			}
			allowed[op] = struct{}{}
		}
	}
	return &Gate{set: set}, nil
}

// Authorize returns PermissionDenied unless the (capability, operation) pair is listed.
func (g *Gate) Authorize(env *protocol.Envelope) error {
	if g == nil || env == nil {
		return protocol.Errorf(protocol.KindPermissionDenied, "no permissions configured")
	}
	if g.Allows(env.Capability, env.Operation) {
		return nil
	}
	return protocol.Errorf(protocol.KindPermissionDenied, "%s.%s is not permitted", env.Capability, env.Operation)
}

// Allows reports whether the pair is permitted.
func (g *Gate) Allows(c protocol.Capability, op string) bool {
	allowed, ok := g.set[c]
	if !ok {
		return false
	}
	if _, ok := allowed[Wildcard]; ok {
		return true
	}
	_, ok = allowed[op]
	return ok
}

// Describe returns a sorted "capability.operation" listing for diagnostics.
func (g *Gate) Describe() []string {
	var out []string
	for c, ops := range g.set {
		for op := range ops {
			out = append(out, string(c)+"."+op)
		}
	}
	sort.Strings(out)
	return out
}
