package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/velox/internal/handler"
	"github.com/mattjoyce/velox/internal/protocol"
	"github.com/mattjoyce/velox/internal/workspace"
)

func newHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	sb, err := workspace.NewSandbox(t.TempDir(), false)
	require.NoError(t, err)
	return New(sb, Config{}), sb.Root()
}

func invoke(t *testing.T, h *Handler, op string, raw ...any) (any, error) {
	t.Helper()
	msgs := make([]json.RawMessage, len(raw))
	for i, v := range raw {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		msgs[i] = b
	}
	args, err := h.Operations()[op].Bind(msgs)
	if err != nil {
		return nil, err
	}
	return h.Execute(context.Background(), handler.Call{ID: "t", Operation: op, Args: args})
}

func TestSaveThenReadRoundTrip(t *testing.T) {
	h, _ := newHandler(t)

	_, err := invoke(t, h, "saveFile", "notes.txt", []byte("hello\nworld"))
	require.NoError(t, err)

	got, err := invoke(t, h, "readTextFile", "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", got)

	_, err = invoke(t, h, "saveFile", "notes.txt", []byte("!"), "a")
	require.NoError(t, err)
	got, err = invoke(t, h, "readTextFile", "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld!", got)

	_, err = invoke(t, h, "saveFile", "notes.txt", []byte("replaced"), "w")
	require.NoError(t, err)
	got, err = invoke(t, h, "readTextFile", "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "replaced", got)
}

func TestSaveFileLeavesNoTempFiles(t *testing.T) {
	h, root := newHandler(t)
	require.NoError(t, h.SaveFile("a.txt", []byte("x"), ModeWrite))
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name())
}

func TestSaveFileInvalidMode(t *testing.T) {
	h, _ := newHandler(t)
	err := h.SaveFile("a.txt", []byte("x"), "rw")
	assert.Equal(t, protocol.KindInvalidArguments, protocol.KindOf(err))
}

func TestCreateDir(t *testing.T) {
	h, root := newHandler(t)

	_, err := invoke(t, h, "createDir", "d")
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(root, "d"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = invoke(t, h, "createDir", "d")
	assert.Equal(t, protocol.KindAlreadyExists, protocol.KindOf(err))

	_, err = invoke(t, h, "createDir", "x/y/z")
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))

	_, err = invoke(t, h, "createDir", "x/y/z", true)
	require.NoError(t, err)
	_, err = invoke(t, h, "createDir", "x/y/z", true)
	assert.Equal(t, protocol.KindAlreadyExists, protocol.KindOf(err))
}

func TestCreateFile(t *testing.T) {
	h, root := newHandler(t)
	_, err := invoke(t, h, "createFile", "empty.txt")
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(root, "empty.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	_, err = invoke(t, h, "createFile", "empty.txt")
	assert.Equal(t, protocol.KindAlreadyExists, protocol.KindOf(err))
}

func TestReadTextFileRejectsBinary(t *testing.T) {
	h, root := newHandler(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin"), []byte{0x00, 0xff, 0x10}, 0o644))

	_, err := invoke(t, h, "readTextFile", "bin")
	assert.Equal(t, protocol.KindInvalidArguments, protocol.KindOf(err))

	got, err := invoke(t, h, "readFile", "bin")
	require.NoError(t, err)
	fc := got.(*FileContents)
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, fc.Data)
	assert.True(t, fc.Metadata.IsBinary)
	assert.False(t, fc.Metadata.IsText)
	assert.Equal(t, int64(3), fc.Metadata.Size)
}

func TestReadMissingFile(t *testing.T) {
	h, _ := newHandler(t)
	_, err := invoke(t, h, "readTextFile", "missing.txt")
	require.Error(t, err)
	pe := protocol.AsError(err)
	assert.Equal(t, protocol.KindNotFound, pe.Kind)
	assert.NotZero(t, pe.Code)
}

func TestReadSizeLimit(t *testing.T) {
	sb, err := workspace.NewSandbox(t.TempDir(), false)
	require.NoError(t, err)
	h := New(sb, Config{MaxReadBytes: 4})
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "big"), []byte("12345"), 0o644))
	_, err = h.ReadTextFile("big")
	assert.Equal(t, protocol.KindInvalidArguments, protocol.KindOf(err))
}

func TestReadDir(t *testing.T) {
	h, root := newHandler(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("abc"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "a"), 0o755))

	got, err := invoke(t, h, "readDir", ".")
	require.NoError(t, err)
	entries := got.([]DirEntry)
	require.Len(t, entries, 2)
	assert.Equal(t, DirEntry{Name: "a", IsDir: true}, entries[0])
	assert.Equal(t, DirEntry{Name: "b.txt", IsFile: true, Size: 3}, entries[1])

	_, err = invoke(t, h, "readDir", "nope")
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
}

func TestCopyAndRename(t *testing.T) {
	h, root := newHandler(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "src.txt"), []byte("data"), 0o600))

	_, err := invoke(t, h, "copyFile", "src.txt", "copy.txt")
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(root, "copy.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))
	info, err := os.Stat(filepath.Join(root, "copy.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = invoke(t, h, "renameFile", "copy.txt", "moved.txt")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "copy.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = invoke(t, h, "copyFile", "missing.txt", "x.txt")
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
	_, err = invoke(t, h, "renameFile", "missing.txt", "x.txt")
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
}

func TestSameSourceAndDestinationIsNoop(t *testing.T) {
	h, root := newHandler(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "same.txt"), []byte("keep"), 0o644))

	_, err := invoke(t, h, "copyFile", "same.txt", "./same.txt")
	require.NoError(t, err)
	_, err = invoke(t, h, "renameFile", "same.txt", "same.txt")
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(root, "same.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep", string(b))

	_, err = invoke(t, h, "copyFile", "ghost.txt", "ghost.txt")
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
}

func TestCopyFileCancelled(t *testing.T) {
	h, root := newHandler(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "src.txt"), []byte("data"), 0o644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.CopyFile(ctx, "src.txt", "dst.txt")
	assert.Equal(t, protocol.KindCancelled, protocol.KindOf(err))
	_, statErr := os.Stat(filepath.Join(root, "dst.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRemove(t *testing.T) {
	h, root := newHandler(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tree", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tree", "sub", "f"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "file"), []byte("x"), 0o644))

	_, err := invoke(t, h, "removeFile", "tree")
	assert.Equal(t, protocol.KindInvalidArguments, protocol.KindOf(err))
	_, err = invoke(t, h, "removeDir", "file")
	assert.Equal(t, protocol.KindInvalidArguments, protocol.KindOf(err))

	_, err = invoke(t, h, "removeFile", "file")
	require.NoError(t, err)
	_, err = invoke(t, h, "removeDir", "tree")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "tree"))
	assert.True(t, os.IsNotExist(err))

	_, err = invoke(t, h, "removeDir", "tree")
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
	_, err = invoke(t, h, "removeDir", ".")
	assert.Equal(t, protocol.KindPermissionDenied, protocol.KindOf(err))
}

func TestSandboxEscapeDenied(t *testing.T) {
	h, _ := newHandler(t)
	for _, op := range []string{"readTextFile", "removeFile", "createFile"} {
		_, err := invoke(t, h, op, "../escape")
		assert.Equal(t, protocol.KindPermissionDenied, protocol.KindOf(err), op)
	}
}
