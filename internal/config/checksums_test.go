package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statuses(files []LockedFile) map[string]FileStatus {
	out := make(map[string]FileStatus, len(files))
	for _, f := range files {
		out[f.Name] = f.Status
	}
	return out
}

func TestLockDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalConfig)

	report, err := Lock(ScopeFor(path), true)
	require.NoError(t, err)
	assert.False(t, report.Written)
	assert.Equal(t, map[string]FileStatus{FileName: FileLocked, PermissionsFileName: FileAbsent}, statuses(report.Files))
	assert.NotEmpty(t, report.Files[0].Hash)

	_, err = os.Stat(filepath.Join(dir, ChecksumsFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestLockWritesOwnerOnlyManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalConfig)
	require.NoError(t, os.WriteFile(filepath.Join(dir, PermissionsFileName), []byte("fs: [\"*\"]\n"), 0o600))

	report, err := Lock(ScopeFor(path), false)
	require.NoError(t, err)
	require.True(t, report.Written)

	info, err := os.Stat(report.ChecksumPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Len(t, manifest.Hashes, 2)
}

func TestLoadVerifiesChecksums(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalConfig)
	_, err := Lock(ScopeFor(path), false)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Warnings)

	// Widening permissions after locking is refused.
	writeConfig(t, dir, minimalConfig+"  subprocess: [\"*\"]\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestLoadRejectsUnlockedPermissionsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalConfig)
	_, err := Lock(ScopeFor(path), false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, PermissionsFileName), []byte("fs: [\"*\"]\n"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no hash in checksums")
}

func TestVerifyReportsEveryFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalConfig)
	permPath := filepath.Join(dir, PermissionsFileName)
	require.NoError(t, os.WriteFile(permPath, []byte("fs: [readTextFile]\n"), 0o600))
	scope := ScopeFor(path)
	_, err := Lock(scope, false)
	require.NoError(t, err)

	res := Verify(scope, true)
	assert.True(t, res.Passed)
	assert.Equal(t, map[string]FileStatus{FileName: FileLocked, PermissionsFileName: FileLocked}, statuses(res.Files))

	// Both failures are reported, not just the first.
	writeConfig(t, dir, minimalConfig+"# edited\n")
	require.NoError(t, os.Remove(permPath))
	res = Verify(scope, false)
	assert.False(t, res.Passed)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, map[string]FileStatus{FileName: FileChanged, PermissionsFileName: FileRemoved}, statuses(res.Files))
}

func TestVerifyManifestStates(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalConfig)
	scope := ScopeFor(path)

	res := Verify(scope, false)
	assert.True(t, res.Passed)
	assert.Len(t, res.Warnings, 1)

	res = Verify(scope, true)
	assert.False(t, res.Passed)
	assert.Len(t, res.Errors, 1)

	manifest := "version: 1\nhashes:\n  old.yaml: abc\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ChecksumsFileName), []byte(manifest), 0o600))
	res = Verify(scope, false)
	assert.False(t, res.Passed)
	assert.Equal(t, FileUnlocked, statuses(res.Files)[FileName])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "old.yaml")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ChecksumsFileName), []byte("version: 9\n"), 0o600))
	res = Verify(scope, false)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Errors[0], "unsupported checksums version")
}
