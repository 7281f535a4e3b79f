package bridge

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/velox/internal/dispatch"
	"github.com/mattjoyce/velox/internal/handler"
	"github.com/mattjoyce/velox/internal/permission"
	"github.com/mattjoyce/velox/internal/protocol"
)

type pingHandler struct {
	block chan struct{}
}

func (p *pingHandler) Capability() protocol.Capability { return protocol.CapabilityNotification }

func (p *pingHandler) Operations() map[string]protocol.Schema {
	return map[string]protocol.Schema{"ping": {}, "wait": {}}
}

func (p *pingHandler) Execute(ctx context.Context, call handler.Call) (any, error) {
	if call.Operation == "wait" {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return map[string]string{"id": call.ID}, nil
}

func newBridge(t *testing.T) (*Bridge, *pingHandler) {
	t.Helper()
	h := &pingHandler{block: make(chan struct{})}
	reg, err := handler.NewRegistry(h)
	require.NoError(t, err)
	gate, err := permission.NewGate(map[string][]string{"notification": {"*"}})
	require.NoError(t, err)
	b := New(dispatch.New(dispatch.Config{Workers: 2}, gate, reg))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b, h
}

func TestCallAssignsID(t *testing.T) {
	b, _ := newBridge(t)

	res := b.Call(context.Background(), protocol.Envelope{Capability: "core", Operation: "ping"})
	require.True(t, res.OK, "%+v", res.Error)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, map[string]string{"id": res.ID}, res.Value)
}

func TestSubmitKeepsCallerID(t *testing.T) {
	b, _ := newBridge(t)

	c, err := b.Submit(context.Background(), protocol.Envelope{ID: "mine", Capability: "notification", Operation: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "mine", c.ID)
	res, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mine", res.ID)
}

func TestGeneratedIDsAreUnique(t *testing.T) {
	b, _ := newBridge(t)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, err := b.Submit(context.Background(), protocol.Envelope{Capability: "notification", Operation: "ping"})
		require.NoError(t, err)
		assert.False(t, seen[c.ID])
		seen[c.ID] = true
		_, err = c.Wait(context.Background())
		require.NoError(t, err)
	}
}

func TestCancelByID(t *testing.T) {
	b, _ := newBridge(t)

	c, err := b.Submit(context.Background(), protocol.Envelope{ID: "w", Capability: "notification", Operation: "wait"})
	require.NoError(t, err)
	require.NoError(t, b.Cancel("w"))

	res, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.KindCancelled, res.Error.Kind)
	assert.True(t, protocol.IsKind(b.Cancel("w"), protocol.KindNotFound))
}

func TestCallReturnsTransportErrorsAsResults(t *testing.T) {
	b, h := newBridge(t)

	c, err := b.Submit(context.Background(), protocol.Envelope{ID: "held", Capability: "notification", Operation: "wait"})
	require.NoError(t, err)

	res := b.Call(context.Background(), protocol.Envelope{ID: "held", Capability: "notification", Operation: "ping"})
	require.False(t, res.OK)
	assert.Equal(t, protocol.KindDuplicateID, res.Error.Kind)
	assert.Equal(t, "held", res.ID)

	close(h.block)
	_, err = c.Wait(context.Background())
	require.NoError(t, err)
}

func TestClosedBridgeResultKeepsAssignedID(t *testing.T) {
	b, _ := newBridge(t)
	require.NoError(t, b.Close(context.Background()))

	res := b.Call(context.Background(), protocol.Envelope{Capability: "notification", Operation: "ping"})
	require.False(t, res.OK)
	assert.Equal(t, protocol.KindTransportClosed, res.Error.Kind)
	assert.NotEmpty(t, res.ID)

	var buf bytes.Buffer
	require.NoError(t, protocol.EncodeResult(&buf, res))
}

func TestCloseRefusesNewCalls(t *testing.T) {
	b, h := newBridge(t)

	c, err := b.Submit(context.Background(), protocol.Envelope{ID: "held", Capability: "notification", Operation: "wait"})
	require.NoError(t, err)
	close(h.block)
	require.NoError(t, b.Close(context.Background()))

	res, ok := c.Result()
	require.True(t, ok)
	assert.True(t, res.OK)

	_, err = b.Submit(context.Background(), protocol.Envelope{Capability: "notification", Operation: "ping"})
	assert.True(t, protocol.IsKind(err, protocol.KindTransportClosed))
	assert.NoError(t, b.Close(context.Background()))
}

func TestCloseCancelsWhenDeadlinePasses(t *testing.T) {
	b, _ := newBridge(t)

	c, err := b.Submit(context.Background(), protocol.Envelope{ID: "stuck", Capability: "notification", Operation: "wait"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Close(ctx), context.DeadlineExceeded)

	res, ok := c.Result()
	require.True(t, ok)
	assert.Equal(t, protocol.KindCancelled, res.Error.Kind)
}
