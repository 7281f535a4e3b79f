package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/velox/internal/protocol"
	"github.com/mattjoyce/velox/internal/workspace"
)

type fakeDialog struct {
	folder string
	files  []string
	asked  []bool
}

func (f *fakeDialog) SelectFolder(context.Context) (string, error) { return f.folder, nil }

func (f *fakeDialog) OpenFiles(_ context.Context, multiple bool) ([]string, error) {
	f.asked = append(f.asked, multiple)
	return f.files, nil
}

func newDialogHandler(t *testing.T, d Dialog) *Handler {
	t.Helper()
	sb, err := workspace.NewSandbox(t.TempDir(), false)
	require.NoError(t, err)
	return New(sb, Config{Dialog: d})
}

func TestSelectFolderAndOpenDialog(t *testing.T) {
	d := &fakeDialog{folder: "/home/u/projects", files: []string{"/tmp/a.txt", "/tmp/b.txt"}}
	h := newDialogHandler(t, d)

	got, err := invoke(t, h, "selectFolder")
	require.NoError(t, err)
	assert.Equal(t, "/home/u/projects", got)

	got, err = invoke(t, h, "openDialog")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.txt", got)

	got, err = invoke(t, h, "openDialog", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/a.txt", "/tmp/b.txt"}, got)
	assert.Equal(t, []bool{false, true}, d.asked)
}

func TestDismissedDialogYieldsNil(t *testing.T) {
	h := newDialogHandler(t, &fakeDialog{})

	got, err := invoke(t, h, "selectFolder")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = invoke(t, h, "openDialog", true)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDialogUnsupportedByDefault(t *testing.T) {
	h, _ := newHandler(t)
	_, err := invoke(t, h, "selectFolder")
	assert.Equal(t, protocol.KindUnsupportedPlatform, protocol.KindOf(err))
}

func TestNewDialogBackends(t *testing.T) {
	d, err := NewDialog("none")
	require.NoError(t, err)
	_, err = d.SelectFolder(context.Background())
	assert.Equal(t, protocol.KindUnsupportedPlatform, protocol.KindOf(err))

	d, err = NewDialog("zenity")
	require.NoError(t, err)
	assert.Equal(t, &CommandDialog{Binary: "zenity", Flavor: DialogZenity}, d)

	_, err = NewDialog("gtk")
	assert.Error(t, err)
}

// writeStub installs a fake dialog binary that records its arguments.
func writeStub(t *testing.T, body string) (bin, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	bin = filepath.Join(dir, "zenity")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + argsFile + "\n" + body
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, argsFile
}

func TestCommandDialogZenity(t *testing.T) {
	bin, argsFile := writeStub(t, "printf '/srv/one\\n/srv/two\\n'\n")
	d := &CommandDialog{Binary: bin, Flavor: DialogZenity}

	paths, err := d.OpenFiles(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/one", "/srv/two"}, paths)

	b, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), "--file-selection")
	assert.Contains(t, string(b), "--multiple")

	folder, err := d.SelectFolder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/srv/one", folder)
	b, err = os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "--directory"))
}

func TestCommandDialogCancelAndFailure(t *testing.T) {
	bin, _ := writeStub(t, "exit 1\n")
	d := &CommandDialog{Binary: bin, Flavor: DialogZenity}
	paths, err := d.OpenFiles(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, paths)

	bin, _ = writeStub(t, "echo 'no display' >&2\nexit 5\n")
	d = &CommandDialog{Binary: bin, Flavor: DialogZenity}
	_, err = d.SelectFolder(context.Background())
	assert.Equal(t, protocol.KindHandlerError, protocol.KindOf(err))
	assert.Contains(t, err.Error(), "no display")

	// osascript exits 1 on any error; only -128 is a dismissal.
	bin, _ = writeStub(t, "echo 'execution error: boom (-1700)' >&2\nexit 1\n")
	d = &CommandDialog{Binary: bin, Flavor: DialogOSAScript}
	_, err = d.SelectFolder(context.Background())
	assert.Equal(t, protocol.KindHandlerError, protocol.KindOf(err))

	bin, _ = writeStub(t, "echo 'User canceled. (-128)' >&2\nexit 1\n")
	d = &CommandDialog{Binary: bin, Flavor: DialogOSAScript}
	folder, err := d.SelectFolder(context.Background())
	require.NoError(t, err)
	assert.Empty(t, folder)
}
