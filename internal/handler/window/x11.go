package window

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
)

// Requests go through the window manager via EWMH so it can honour them
// alongside its own layout rules.
const (
	stateRemove = 0
	stateAdd    = 1

	opaque           = 1.0
	transparentAlpha = 0.85
)

// X11 drives a toplevel window through the X server.
type X11 struct {
	xu  *xgbutil.XUtil
	win xproto.Window
}

// ConnectX11 opens a connection to $DISPLAY and binds to a window. target is
// a window id in decimal or 0x-hex; empty picks the first client window
// owned by this process.
func ConnectX11(target string) (*X11, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connect to X server: %w", err)
	}

	var win xproto.Window
	if strings.TrimSpace(target) != "" {
		id, err := strconv.ParseUint(strings.TrimSpace(target), 0, 32)
		if err != nil {
			xu.Conn().Close()
			return nil, fmt.Errorf("parse window id %q: %w", target, err)
		}
		win = xproto.Window(id)
	} else {
		win, err = findWindowByPID(xu, os.Getpid())
		if err != nil {
			xu.Conn().Close()
			return nil, err
		}
	}
	return &X11{xu: xu, win: win}, nil
}

func findWindowByPID(xu *xgbutil.XUtil, pid int) (xproto.Window, error) {
	clients, err := ewmh.ClientListGet(xu)
	if err != nil {
		return 0, fmt.Errorf("list client windows: %w", err)
	}
	for _, win := range clients {
		if p, err := ewmh.WmPidGet(xu, win); err == nil && int(p) == pid {
			return win, nil
		}
	}
	return 0, fmt.Errorf("no client window owned by pid %d", pid)
}

// WindowID returns the bound X window id.
func (x *X11) WindowID() uint32 { return uint32(x.win) }

func (x *X11) SetTitle(title string) error {
	if err := ewmh.WmNameSet(x.xu, x.win, title); err != nil {
		return fmt.Errorf("set _NET_WM_NAME: %w", err)
	}
	// Legacy WM_NAME for window managers without EWMH.
	if err := icccm.WmNameSet(x.xu, x.win, title); err != nil {
		return fmt.Errorf("set WM_NAME: %w", err)
	}
	return nil
}

func (x *X11) SetTransparent(transparent bool) error {
	opacity := opaque
	if transparent {
		opacity = transparentAlpha
	}
	if err := ewmh.WmWindowOpacitySet(x.xu, x.win, opacity); err != nil {
		return fmt.Errorf("set _NET_WM_WINDOW_OPACITY: %w", err)
	}
	return nil
}

func (x *X11) SetFullscreen(fullscreen bool) error {
	if err := ewmh.WmStateReq(x.xu, x.win, action(fullscreen), "_NET_WM_STATE_FULLSCREEN"); err != nil {
		return fmt.Errorf("request fullscreen: %w", err)
	}
	return nil
}

func (x *X11) SetMaximized(maximized bool) error {
	for _, atom := range []string{"_NET_WM_STATE_MAXIMIZED_VERT", "_NET_WM_STATE_MAXIMIZED_HORZ"} {
		if err := ewmh.WmStateReq(x.xu, x.win, action(maximized), atom); err != nil {
			return fmt.Errorf("request %s: %w", atom, err)
		}
	}
	return nil
}

func (x *X11) Minimize() error {
	if err := ewmh.ClientEvent(x.xu, x.win, "WM_CHANGE_STATE", icccm.StateIconic); err != nil {
		return fmt.Errorf("request iconic state: %w", err)
	}
	return nil
}

func (x *X11) Close() error {
	x.xu.Conn().Close()
	return nil
}

func action(on bool) int {
	if on {
		return stateAdd
	}
	return stateRemove
}
