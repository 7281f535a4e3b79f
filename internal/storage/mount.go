package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mount describes the filesystem holding a path.
type Mount struct {
	// Path is the nearest existing ancestor that was inspected.
	Path   string
	FSType string
}

// Network reports whether the mount is remote. SQLite locking and atomic
// renames are unreliable on these.
func (m Mount) Network() bool {
	switch strings.ToLower(strings.TrimSpace(m.FSType)) {
	case "afpfs", "cifs", "nfs", "smbfs", "smb2", "webdav", "9p":
		return true
	}
	return false
}

// Inspect finds the filesystem of path, which need not exist yet.
func Inspect(path string) (Mount, error) {
	return inspectWith(path, statFSType)
}

// RequireLocal fails when path sits on a network mount. setting names the
// config key to change in the error.
func RequireLocal(setting, path string) error {
	return requireLocalWith(setting, path, statFSType)
}

func requireLocalWith(setting, path string, detect func(string) (string, error)) error {
	m, err := inspectWith(path, detect)
	if err != nil {
		return err
	}
	if m.Network() {
		return fmt.Errorf("%s %q is on network filesystem %q; use a local path", setting, path, m.FSType)
	}
	return nil
}

func inspectWith(path string, detect func(string) (string, error)) (Mount, error) {
	if path == "" {
		return Mount{}, fmt.Errorf("path is empty")
	}
	existing, err := nearestExisting(path)
	if err != nil {
		return Mount{}, err
	}
	fsType, err := detect(existing)
	if err != nil {
		return Mount{}, fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	return Mount{Path: existing, FSType: fsType}, nil
}

func nearestExisting(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", p, err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		p = parent
	}
}
