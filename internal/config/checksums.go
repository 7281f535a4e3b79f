package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumsFileName holds the locked hashes next to the config file.
const ChecksumsFileName = ".checksums"

const checksumsVersion = 1

// ChecksumManifest is the on-disk .checksums format.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// LockScope is the set of files that decide what the frontend may call:
// the config file and the optional permissions file beside it.
type LockScope struct {
	Dir   string
	Files []string
}

// ScopeFor returns the lock scope of a config file.
func ScopeFor(configPath string) LockScope {
	return LockScope{
		Dir:   filepath.Dir(configPath),
		Files: []string{filepath.Base(configPath), PermissionsFileName},
	}
}

func (s LockScope) checksumPath() string { return filepath.Join(s.Dir, ChecksumsFileName) }

// FileStatus is the verification outcome for one scoped file.
type FileStatus string

const (
	FileLocked   FileStatus = "locked"
	FileChanged  FileStatus = "changed"
	FileUnlocked FileStatus = "unlocked"
	FileRemoved  FileStatus = "removed"
	FileAbsent   FileStatus = "absent"
)

// LockedFile reports one scoped file.
type LockedFile struct {
	Name   string
	Hash   string
	Status FileStatus
}

// LockReport is the outcome of Lock.
type LockReport struct {
	ChecksumPath string
	Written      bool
	Files        []LockedFile
}

// IntegrityResult collects the outcome of Verify. Every scoped file is
// reported, not just the first one that fails.
type IntegrityResult struct {
	Passed   bool
	Warnings []string
	Errors   []string
	Files    []LockedFile
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Lock hashes every present scoped file and, unless dryRun, writes the
// manifest with owner-only permissions.
func Lock(scope LockScope, dryRun bool) (*LockReport, error) {
	manifest := ChecksumManifest{
		Version:     checksumsVersion,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string, len(scope.Files)),
	}
	report := &LockReport{ChecksumPath: scope.checksumPath()}

	for _, name := range scope.Files {
		hash, err := hashFile(filepath.Join(scope.Dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			report.Files = append(report.Files, LockedFile{Name: name, Status: FileAbsent})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", name, err)
		}
		manifest.Hashes[name] = hash
		report.Files = append(report.Files, LockedFile{Name: name, Hash: hash, Status: FileLocked})
	}
	if dryRun {
		return report, nil
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal checksums: %w", err)
	}
	if err := os.WriteFile(report.ChecksumPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write checksums: %w", err)
	}
	report.Written = true
	return report, nil
}

// ReadManifest loads .checksums from dir. A missing file is reported with
// fs.ErrNotExist in the chain.
func ReadManifest(dir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumsFileName))
	if err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}
	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse checksums: %w", err)
	}
	if manifest.Version != checksumsVersion {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// Verify compares the scoped files with the manifest. A changed, unlocked
// or removed file always fails. A missing manifest fails only when
// required and is otherwise a warning. Manifest entries outside the scope
// are warned about.
func Verify(scope LockScope, required bool) *IntegrityResult {
	result := &IntegrityResult{Passed: true}

	manifest, err := ReadManifest(scope.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		msg := fmt.Sprintf("no %s manifest at %s; run 'velox config lock' to pin permissions",
			ChecksumsFileName, scope.checksumPath())
		if required {
			result.Passed = false
			result.Errors = append(result.Errors, msg)
		} else {
			result.Warnings = append(result.Warnings, msg)
		}
		return result
	}
	if err != nil {
		result.Passed = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	inScope := make(map[string]bool, len(scope.Files))
	for _, name := range scope.Files {
		inScope[name] = true
		file := LockedFile{Name: name}
		want, locked := manifest.Hashes[name]
		got, err := hashFile(filepath.Join(scope.Dir, name))
		switch {
		case errors.Is(err, fs.ErrNotExist) && locked:
			file.Status = FileRemoved
			result.Errors = append(result.Errors, fmt.Sprintf("%s is locked but missing from disk", name))
		case errors.Is(err, fs.ErrNotExist):
			file.Status = FileAbsent
		case err != nil:
			file.Status = FileChanged
			result.Errors = append(result.Errors, fmt.Sprintf("hash %s: %v", name, err))
		case !locked:
			file.Hash, file.Status = got, FileUnlocked
			result.Errors = append(result.Errors, fmt.Sprintf("%s has no hash in checksums (run 'velox config lock')", name))
		case got != want:
			file.Hash, file.Status = got, FileChanged
			result.Errors = append(result.Errors, fmt.Sprintf("hash mismatch for %s", name))
		default:
			file.Hash, file.Status = got, FileLocked
		}
		result.Files = append(result.Files, file)
	}

	var stale []string
	for name := range manifest.Hashes {
		if !inScope[name] {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%s lists files outside the lock scope: %s", ChecksumsFileName, strings.Join(stale, ", ")))
	}
	result.Passed = len(result.Errors) == 0
	return result
}
