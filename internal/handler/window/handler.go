package window

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/velox/internal/handler"
	"github.com/mattjoyce/velox/internal/log"
	"github.com/mattjoyce/velox/internal/protocol"
)

var schemas = map[string]protocol.Schema{
	"setTitle":       {{Name: "title", Kind: protocol.ArgString}},
	"setTransparent": {{Name: "transparent", Kind: protocol.ArgBool}},
	"setFullscreen":  {{Name: "fullscreen", Kind: protocol.ArgBool}},
	"maximize":       {{Name: "maximized", Kind: protocol.ArgBool, Optional: true}},
	"minimize":       {},
	"getState":       {},
	"addWindow":      {{Name: "label", Kind: protocol.ArgString}, {Name: "title", Kind: protocol.ArgString, Optional: true}},
	"closeWindow":    {},
}

// Opener creates the native side of a window added at runtime.
type Opener func(label string) (Native, error)

// Option customizes a Handler.
type Option func(*Handler)

// WithOpener enables addWindow.
func WithOpener(open Opener) Option { return func(h *Handler) { h.open = open } }

// Handler is the window capability.
type Handler struct {
	manager *Manager
	open    Opener
	logger  *slog.Logger
}

var _ handler.Handler = (*Handler)(nil)

func New(manager *Manager, opts ...Option) *Handler {
	h := &Handler{
		manager: manager,
		logger:  log.WithCapability(string(protocol.CapabilityWindow)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Capability() protocol.Capability { return protocol.CapabilityWindow }

func (h *Handler) Operations() map[string]protocol.Schema { return schemas }

func (h *Handler) Execute(ctx context.Context, call handler.Call) (any, error) {
	if call.Operation == "addWindow" {
		return h.AddWindow(ctx, call.Args.String(0), call.Args.String(1))
	}
	label := call.Window
	if label == "" {
		label = protocol.DefaultWindow
	}
	w, err := h.manager.Get(label)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a := call.Args
	switch call.Operation {
	case "setTitle":
		title := a.String(0)
		err = w.Apply(func(n Native, s *State) error {
			if err := n.SetTitle(title); err != nil {
				return err
			}
			s.Title = title
			return nil
		})
	case "setTransparent":
		on := a.Bool(0)
		err = w.Apply(func(n Native, s *State) error {
			if err := n.SetTransparent(on); err != nil {
				return err
			}
			s.Transparent = on
			return nil
		})
	case "setFullscreen":
		on := a.Bool(0)
		err = w.Apply(func(n Native, s *State) error {
			if err := n.SetFullscreen(on); err != nil {
				return err
			}
			s.Fullscreen = on
			return nil
		})
	case "maximize":
		on := true
		if a.Has(0) {
			on = a.Bool(0)
		}
		err = w.Apply(func(n Native, s *State) error {
			if err := n.SetMaximized(on); err != nil {
				return err
			}
			s.Maximized = on
			if on {
				s.Minimized = false
			}
			return nil
		})
	case "minimize":
		err = w.Apply(func(n Native, s *State) error {
			if err := n.Minimize(); err != nil {
				return err
			}
			s.Minimized = true
			return nil
		})
	case "getState":
		return w.State(), nil
	case "closeWindow":
		if err := h.manager.Close(label); err != nil {
			return nil, protocol.Errorf(protocol.KindWindowError, "close window %q: %v", label, err)
		}
		h.logger.Info("window closed", "window", label)
		return nil, nil
	default:
		return nil, protocol.Errorf(protocol.KindInvalidArguments, "unknown operation window.%s", call.Operation)
	}
	if err != nil {
		return nil, err
	}
	h.logger.Debug("window updated", "window", label, "operation", call.Operation)
	return nil, nil
}

// AddWindow opens a new labelled window and applies title when given.
func (h *Handler) AddWindow(ctx context.Context, label, title string) (any, error) {
	if h.open == nil {
		return nil, protocol.Errorf(protocol.KindUnsupportedPlatform, "this window backend cannot open windows")
	}
	if label == "" {
		return nil, protocol.Errorf(protocol.KindInvalidArguments, "window label is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	native, err := h.open(label)
	if err != nil {
		return nil, protocol.Errorf(protocol.KindWindowError, "open window %q: %v", label, err)
	}
	w, err := h.manager.Open(label, native)
	if err != nil {
		_ = native.Close()
		return nil, err
	}
	if title != "" {
		err := w.Apply(func(n Native, s *State) error {
			if err := n.SetTitle(title); err != nil {
				return err
			}
			s.Title = title
			return nil
		})
		if err != nil {
			_ = h.manager.Close(label)
			return nil, err
		}
	}
	h.logger.Info("window added", "window", label)
	return w.State(), nil
}
