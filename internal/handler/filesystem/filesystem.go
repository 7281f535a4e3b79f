// Package filesystem implements the fs capability: sandboxed file and
// directory operations on behalf of the frontend.
package filesystem

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/mattjoyce/velox/internal/handler"
	"github.com/mattjoyce/velox/internal/log"
	"github.com/mattjoyce/velox/internal/protocol"
	"github.com/mattjoyce/velox/internal/workspace"
)

const defaultMaxReadBytes = 64 << 20

// Save modes.
const (
	ModeWrite  = "w"
	ModeAppend = "a"
)

var schemas = map[string]protocol.Schema{
	"createDir":    {{Name: "path", Kind: protocol.ArgString}, {Name: "recursive", Kind: protocol.ArgBool, Optional: true}},
	"createFile":   {{Name: "path", Kind: protocol.ArgString}},
	"readTextFile": {{Name: "path", Kind: protocol.ArgString}},
	"readFile":     {{Name: "path", Kind: protocol.ArgString}},
	"readDir":      {{Name: "path", Kind: protocol.ArgString}},
	"copyFile":     {{Name: "source", Kind: protocol.ArgString}, {Name: "destination", Kind: protocol.ArgString}},
	"renameFile":   {{Name: "source", Kind: protocol.ArgString}, {Name: "destination", Kind: protocol.ArgString}},
	"saveFile":     {{Name: "path", Kind: protocol.ArgString}, {Name: "data", Kind: protocol.ArgBytes}, {Name: "mode", Kind: protocol.ArgString, Optional: true}},
	"removeFile":   {{Name: "path", Kind: protocol.ArgString}},
	"removeDir":    {{Name: "path", Kind: protocol.ArgString}},
	"selectFolder": {},
	"openDialog":   {{Name: "multiple", Kind: protocol.ArgBool, Optional: true}},
}

// Metadata describes a path without its contents.
type Metadata struct {
	IsDir    bool  `json:"is_dir"`
	IsFile   bool  `json:"is_file"`
	IsText   bool  `json:"is_text"`
	IsBinary bool  `json:"is_binary"`
	Size     int64 `json:"size"`
}

// FileContents is the readFile result. Data marshals as base64.
type FileContents struct {
	Data     []byte   `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// DirEntry is one readDir element.
type DirEntry struct {
	Name   string `json:"name"`
	IsDir  bool   `json:"is_dir"`
	IsFile bool   `json:"is_file"`
	Size   int64  `json:"size"`
}

// Config tunes the handler.
type Config struct {
	// MaxReadBytes caps readTextFile and readFile. Zero means 64 MiB.
	MaxReadBytes int64
	// Dialog backs selectFolder and openDialog. Nil means unsupported.
	Dialog Dialog
}

// Handler is the fs capability.
type Handler struct {
	resolver     workspace.Resolver
	maxReadBytes int64
	dialog       Dialog
	logger       *slog.Logger
}

var _ handler.Handler = (*Handler)(nil)

func New(resolver workspace.Resolver, cfg Config) *Handler {
	if cfg.MaxReadBytes <= 0 {
		cfg.MaxReadBytes = defaultMaxReadBytes
	}
	if cfg.Dialog == nil {
		cfg.Dialog = UnsupportedDialog{Reason: "no dialog backend configured"}
	}
	return &Handler{
		resolver:     resolver,
		maxReadBytes: cfg.MaxReadBytes,
		dialog:       cfg.Dialog,
		logger:       log.WithCapability(string(protocol.CapabilityFS)),
	}
}

func (h *Handler) Capability() protocol.Capability { return protocol.CapabilityFS }

func (h *Handler) Operations() map[string]protocol.Schema { return schemas }

func (h *Handler) Execute(ctx context.Context, call handler.Call) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a := call.Args
	switch call.Operation {
	case "createDir":
		return nil, h.CreateDir(a.String(0), a.Bool(1))
	case "createFile":
		return nil, h.CreateFile(a.String(0))
	case "readTextFile":
		return h.ReadTextFile(a.String(0))
	case "readFile":
		return h.ReadFile(a.String(0))
	case "readDir":
		return h.ReadDir(a.String(0))
	case "copyFile":
		return nil, h.CopyFile(ctx, a.String(0), a.String(1))
	case "renameFile":
		return nil, h.RenameFile(a.String(0), a.String(1))
	case "saveFile":
		mode := ModeWrite
		if a.Has(2) {
			mode = a.String(2)
		}
		return nil, h.SaveFile(a.String(0), a.Bytes(1), mode)
	case "removeFile":
		return nil, h.RemoveFile(a.String(0))
	case "removeDir":
		return nil, h.RemoveDir(a.String(0))
	case "selectFolder":
		return h.SelectFolder(ctx)
	case "openDialog":
		return h.OpenDialog(ctx, a.Bool(0))
	default:
		return nil, protocol.Errorf(protocol.KindInvalidArguments, "unknown operation fs.%s", call.Operation)
	}
}

// CreateDir fails with AlreadyExists when path exists, even as a directory.
func (h *Handler) CreateDir(path string, recursive bool) error {
	p, err := h.resolver.Resolve(path)
	if err != nil {
		return err
	}
	if recursive {
		if _, err := os.Lstat(p); err == nil {
			return protocol.Errorf(protocol.KindAlreadyExists, "%s already exists", path)
		}
		return protocol.FromOSError("create directory", path, os.MkdirAll(p, 0o755))
	}
	return protocol.FromOSError("create directory", path, os.Mkdir(p, 0o755))
}

// CreateFile creates an empty file; it never truncates an existing one.
func (h *Handler) CreateFile(path string) error {
	p, err := h.resolver.Resolve(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return protocol.FromOSError("create file", path, err)
	}
	return protocol.FromOSError("create file", path, f.Close())
}

// ReadTextFile returns the file as a string. Binary content is InvalidArguments.
func (h *Handler) ReadTextFile(path string) (string, error) {
	data, err := h.read(path)
	if err != nil {
		return "", err
	}
	if !isText(data) {
		return "", protocol.Errorf(protocol.KindInvalidArguments, "%s is not a text file", path)
	}
	return string(data), nil
}

// ReadFile returns raw bytes and metadata.
func (h *Handler) ReadFile(path string) (*FileContents, error) {
	data, err := h.read(path)
	if err != nil {
		return nil, err
	}
	text := isText(data)
	return &FileContents{
		Data: data,
		Metadata: Metadata{
			IsFile:   true,
			IsText:   text,
			IsBinary: !text,
			Size:     int64(len(data)),
		},
	}, nil
}

func (h *Handler) read(path string) ([]byte, error) {
	p, err := h.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, protocol.FromOSError("read file", path, err)
	}
	if info.IsDir() {
		return nil, protocol.Errorf(protocol.KindInvalidArguments, "%s is a directory", path)
	}
	if info.Size() > h.maxReadBytes {
		return nil, protocol.Errorf(protocol.KindInvalidArguments, "%s is %d bytes, limit is %d", path, info.Size(), h.maxReadBytes)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, protocol.FromOSError("read file", path, err)
	}
	return data, nil
}

// ReadDir lists a directory, sorted by name.
func (h *Handler) ReadDir(path string) ([]DirEntry, error) {
	p, err := h.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, protocol.FromOSError("read directory", path, err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		de := DirEntry{Name: e.Name(), IsDir: e.IsDir(), IsFile: e.Type().IsRegular()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			de.Size = info.Size()
		}
		out = append(out, de)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CopyFile copies source to destination atomically. Copying a file onto
// itself succeeds without touching it.
func (h *Handler) CopyFile(ctx context.Context, source, destination string) error {
	src, dst, err := h.resolvePair(source, destination)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return protocol.FromOSError("copy file", source, err)
	}
	if info.IsDir() {
		return protocol.Errorf(protocol.KindInvalidArguments, "%s is a directory", source)
	}
	if src == dst {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return protocol.FromOSError("copy file", source, err)
	}
	defer in.Close()

	return protocol.FromOSError("copy file", destination, writeAtomic(dst, info.Mode().Perm(), &ctxReader{ctx: ctx, r: in}))
}

// RenameFile moves source to destination. Renaming onto itself is a no-op.
func (h *Handler) RenameFile(source, destination string) error {
	src, dst, err := h.resolvePair(source, destination)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(src); err != nil {
		return protocol.FromOSError("rename file", source, err)
	}
	if src == dst {
		return nil
	}
	return protocol.FromOSError("rename file", source, os.Rename(src, dst))
}

// SaveFile writes data. Mode "w" replaces the file atomically via a temp
// file and rename. Mode "a" appends in place and is not atomic: a failure
// part way through can leave a partial tail.
func (h *Handler) SaveFile(path string, data []byte, mode string) error {
	p, err := h.resolver.Resolve(path)
	if err != nil {
		return err
	}
	switch mode {
	case ModeWrite:
		perm := fs.FileMode(0o644)
		if info, err := os.Stat(p); err == nil {
			if info.IsDir() {
				return protocol.Errorf(protocol.KindInvalidArguments, "%s is a directory", path)
			}
			perm = info.Mode().Perm()
		}
		return protocol.FromOSError("save file", path, writeAtomic(p, perm, bytesReader(data)))
	case ModeAppend:
		f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return protocol.FromOSError("save file", path, err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return protocol.FromOSError("save file", path, err)
		}
		return protocol.FromOSError("save file", path, f.Close())
	default:
		return protocol.Errorf(protocol.KindInvalidArguments, "invalid save mode %q (must be 'w' or 'a')", mode)
	}
}

// RemoveFile deletes a single non-directory entry.
func (h *Handler) RemoveFile(path string) error {
	p, err := h.resolver.Resolve(path)
	if err != nil {
		return err
	}
	info, err := os.Lstat(p)
	if err != nil {
		return protocol.FromOSError("remove file", path, err)
	}
	if info.IsDir() {
		return protocol.Errorf(protocol.KindInvalidArguments, "%s is a directory", path)
	}
	return protocol.FromOSError("remove file", path, os.Remove(p))
}

// RemoveDir deletes a directory and everything below it. The sandbox root
// itself cannot be removed.
func (h *Handler) RemoveDir(path string) error {
	p, err := h.resolver.Resolve(path)
	if err != nil {
		return err
	}
	if p == h.resolver.Root() {
		return protocol.Errorf(protocol.KindPermissionDenied, "refusing to remove the sandbox root")
	}
	info, err := os.Lstat(p)
	if err != nil {
		return protocol.FromOSError("remove directory", path, err)
	}
	if !info.IsDir() {
		return protocol.Errorf(protocol.KindInvalidArguments, "%s is not a directory", path)
	}
	h.logger.Debug("removing directory tree", "path", p)
	return protocol.FromOSError("remove directory", path, os.RemoveAll(p))
}

func (h *Handler) resolvePair(a, b string) (string, string, error) {
	pa, err := h.resolver.Resolve(a)
	if err != nil {
		return "", "", err
	}
	pb, err := h.resolver.Resolve(b)
	if err != nil {
		return "", "", err
	}
	return pa, pb, nil
}

// writeAtomic streams r into a temp file beside dst, then renames it over dst.
func writeAtomic(dst string, perm fs.FileMode, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		cleanup()
		return err
	}
	return nil
}

// isText treats content as text when it is valid UTF-8 without NUL bytes.
func isText(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(data)
}

// SelectFolder shows a folder picker. A dismissed picker yields nil.
func (h *Handler) SelectFolder(ctx context.Context) (any, error) {
	path, err := h.dialog.SelectFolder(ctx)
	if err != nil || path == "" {
		return nil, err
	}
	return path, nil
}

// OpenDialog shows a file picker. It yields one path, or a list when
// multiple is set, and nil when the picker is dismissed.
func (h *Handler) OpenDialog(ctx context.Context, multiple bool) (any, error) {
	paths, err := h.dialog.OpenFiles(ctx, multiple)
	if err != nil || len(paths) == 0 {
		return nil, err
	}
	if multiple {
		return paths, nil
	}
	return paths[0], nil
}
