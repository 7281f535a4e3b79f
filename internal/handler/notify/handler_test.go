package notify_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/velox/internal/handler"
	"github.com/mattjoyce/velox/internal/handler/notify"
	"github.com/mattjoyce/velox/internal/handler/notify/mocks"
	"github.com/mattjoyce/velox/internal/protocol"
)

func TestShowNotification(t *testing.T) {
	ctrl := gomock.NewController(t)
	n := mocks.NewMockNotifier(ctrl)

	n.EXPECT().Notify(gomock.Any(), notify.Notification{
		AppName: "velox",
		Title:   "Build done",
		Body:    "All green",
		Timeout: 1500 * time.Millisecond,
	}).Return(nil)

	h := notify.New("velox", n)
	_, err := h.Execute(context.Background(), handler.Call{
		ID:        "1",
		Operation: "showNotification",
		Args:      protocol.NewArgs("Build done", "All green", int64(1500)),
	})
	require.NoError(t, err)
}

func TestShowNotificationDefaultDuration(t *testing.T) {
	ctrl := gomock.NewController(t)
	n := mocks.NewMockNotifier(ctrl)

	n.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, got notify.Notification) error {
		assert.Zero(t, got.Timeout)
		return nil
	})

	h := notify.New("velox", n)
	_, err := h.Execute(context.Background(), handler.Call{
		ID:        "1",
		Operation: "showNotification",
		Args:      protocol.NewArgs("t", "b"),
	})
	require.NoError(t, err)
}

func TestShowNotificationPropagatesUnsupported(t *testing.T) {
	ctrl := gomock.NewController(t)
	n := mocks.NewMockNotifier(ctrl)
	n.EXPECT().Notify(gomock.Any(), gomock.Any()).
		Return(protocol.Errorf(protocol.KindUnsupportedPlatform, "no service"))

	h := notify.New("velox", n)
	_, err := h.Execute(context.Background(), handler.Call{
		ID:        "1",
		Operation: "showNotification",
		Args:      protocol.NewArgs("t", "b"),
	})
	assert.Equal(t, protocol.KindUnsupportedPlatform, protocol.KindOf(err))
}

func TestNegativeDurationRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := notify.New("velox", mocks.NewMockNotifier(ctrl))
	_, err := h.Execute(context.Background(), handler.Call{
		ID:        "1",
		Operation: "showNotification",
		Args:      protocol.NewArgs("t", "b", int64(-5)),
	})
	assert.Equal(t, protocol.KindInvalidArguments, protocol.KindOf(err))
}

func TestNewNotifier(t *testing.T) {
	_, err := notify.NewNotifier("carrier-pigeon")
	assert.Error(t, err)

	n, err := notify.NewNotifier("none")
	require.NoError(t, err)
	assert.Equal(t, protocol.KindUnsupportedPlatform, protocol.KindOf(n.Notify(context.Background(), notify.Notification{})))
}

func TestDesktopNotifierMissingBinary(t *testing.T) {
	d := &notify.DesktopNotifier{Binary: "/nonexistent/busctl"}
	err := d.Notify(context.Background(), notify.Notification{Title: "x"})
	assert.Equal(t, protocol.KindUnsupportedPlatform, protocol.KindOf(err))
}

func TestDesktopNotifierArgs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "args")
	stub := filepath.Join(dir, "busctl")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + out + "\necho 'u 7'\n"
	require.NoError(t, os.WriteFile(stub, []byte(script), 0o755))

	d := &notify.DesktopNotifier{Binary: stub}
	require.NoError(t, d.Notify(context.Background(), notify.Notification{
		AppName: "velox",
		Title:   "Title",
		Body:    "Body",
	}))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	require.Len(t, lines, 16)
	assert.Equal(t, "--user", lines[0])
	assert.Equal(t, "--", lines[1])
	assert.Equal(t, "Notify", lines[6])
	assert.Equal(t, "velox", lines[8])
	assert.Equal(t, "Title", lines[11])
	assert.Equal(t, "Body", lines[12])
	assert.Equal(t, "-1", lines[15])
}

func TestDesktopNotifierDashedTextStaysPositional(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "args")
	stub := filepath.Join(dir, "busctl")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + out + "\n"
	require.NoError(t, os.WriteFile(stub, []byte(script), 0o755))

	d := &notify.DesktopNotifier{Binary: stub}
	require.NoError(t, d.Notify(context.Background(), notify.Notification{
		AppName: "--machine=x",
		Title:   "-Hsomehost",
		Body:    "--verbose",
	}))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	require.Len(t, lines, 16)
	// Everything the caller controls sits after the terminator.
	terminator := -1
	for i, l := range lines {
		if l == "--" {
			terminator = i
			break
		}
	}
	require.Equal(t, 1, terminator)
	assert.Equal(t, "--machine=x", lines[8])
	assert.Equal(t, "-Hsomehost", lines[11])
	assert.Equal(t, "--verbose", lines[12])
}

func TestDesktopNotifierFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	stub := filepath.Join(t.TempDir(), "busctl")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\necho 'no bus' >&2\nexit 1\n"), 0o755))

	d := &notify.DesktopNotifier{Binary: stub}
	err := d.Notify(context.Background(), notify.Notification{Title: "x"})
	require.Error(t, err)
	assert.Equal(t, protocol.KindHandlerError, protocol.KindOf(err))
	assert.Contains(t, err.Error(), "no bus")
}
