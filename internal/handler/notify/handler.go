// Package notify implements the notification capability.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattjoyce/velox/internal/handler"
	"github.com/mattjoyce/velox/internal/log"
	"github.com/mattjoyce/velox/internal/protocol"
)

var schemas = map[string]protocol.Schema{
	"showNotification": {
		{Name: "title", Kind: protocol.ArgString},
		{Name: "body", Kind: protocol.ArgString},
		{Name: "durationMs", Kind: protocol.ArgInt, Optional: true},
	},
}

// Handler is the notification capability.
type Handler struct {
	appName  string
	notifier Notifier
	logger   *slog.Logger
}

var _ handler.Handler = (*Handler)(nil)

func New(appName string, notifier Notifier) *Handler {
	return &Handler{
		appName:  appName,
		notifier: notifier,
		logger:   log.WithCapability(string(protocol.CapabilityNotification)),
	}
}

func (h *Handler) Capability() protocol.Capability { return protocol.CapabilityNotification }

func (h *Handler) Operations() map[string]protocol.Schema { return schemas }

func (h *Handler) Execute(ctx context.Context, call handler.Call) (any, error) {
	if call.Operation != "showNotification" {
		return nil, protocol.Errorf(protocol.KindInvalidArguments, "unknown operation notification.%s", call.Operation)
	}
	ms := call.Args.Int(2)
	if ms < 0 {
		return nil, protocol.Errorf(protocol.KindInvalidArguments, "durationMs must be >= 0, got %d", ms)
	}
	n := Notification{
		AppName: h.appName,
		Title:   call.Args.String(0),
		Body:    call.Args.String(1),
		Timeout: time.Duration(ms) * time.Millisecond,
	}
	if err := h.notifier.Notify(ctx, n); err != nil {
		return nil, err
	}
	h.logger.Debug("notification shown", "title", n.Title)
	return nil, nil
}
