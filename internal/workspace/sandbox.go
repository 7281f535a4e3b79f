package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/velox/internal/protocol"
)

// Sandbox is a directory-rooted Resolver.
type Sandbox struct {
	root         string
	unrestricted bool
}

var _ Resolver = (*Sandbox)(nil)

// NewSandbox creates the root directory if needed. When unrestricted is set,
// absolute paths anywhere on the host are allowed and only relative paths
// are anchored at root.
func NewSandbox(root string, unrestricted bool) (*Sandbox, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("sandbox root is empty")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	return &Sandbox{root: real, unrestricted: unrestricted}, nil
}

func (s *Sandbox) Root() string { return s.root }

// Resolve cleans p and anchors it at the root. Symlinks in the parent
// directories are followed before the containment check.
func (s *Sandbox) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", protocol.Errorf(protocol.KindInvalidArguments, "path is empty")
	}
	if strings.ContainsRune(p, 0) {
		return "", protocol.Errorf(protocol.KindInvalidArguments, "path contains NUL byte")
	}

	var candidate string
	if filepath.IsAbs(p) {
		candidate = filepath.Clean(p)
	} else {
		candidate = filepath.Join(s.root, p)
	}
	if s.unrestricted {
		return candidate, nil
	}

	parent, err := evalExisting(filepath.Dir(candidate))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	resolved := filepath.Join(parent, filepath.Base(candidate))
	if !within(s.root, resolved) {
		return "", protocol.Errorf(protocol.KindPermissionDenied, "path %q is outside the sandbox", p)
	}
	// The final element is kept unresolved so link operations act on the
	// link itself, but a link must not point out of the sandbox.
	if target, err := filepath.EvalSymlinks(resolved); err == nil && !within(s.root, target) {
		return "", protocol.Errorf(protocol.KindPermissionDenied, "path %q links outside the sandbox", p)
	}
	return resolved, nil
}

func within(root, p string) bool {
	if p == root {
		return true
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting resolves symlinks in the longest existing prefix of p and
// re-appends the missing tail.
func evalExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				real = filepath.Join(real, tail[i])
			}
			return real, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}
