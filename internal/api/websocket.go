package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mattjoyce/velox/internal/protocol"
)

// wsClient serializes writes to one connection and tracks the calls it
// submitted, which are the only ones it may cancel.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex

	ownedMu sync.Mutex
	owned   map[string]int
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, owned: make(map[string]int)}
}

func (c *wsClient) write(ctx context.Context, frame ServerFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, frame)
}

func (c *wsClient) own(id string) {
	c.ownedMu.Lock()
	c.owned[id]++
	c.ownedMu.Unlock()
}

func (c *wsClient) release(id string) {
	c.ownedMu.Lock()
	if c.owned[id]--; c.owned[id] <= 0 {
		delete(c.owned, id)
	}
	c.ownedMu.Unlock()
}

func (c *wsClient) owns(id string) bool {
	c.ownedMu.Lock()
	defer c.ownedMu.Unlock()
	return c.owned[id] > 0
}

// handleBridge serves the frontend websocket. Calls run concurrently and
// results are pushed as they complete. Closing the connection cancels
// every call it still has in flight.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin requests are always allowed by the websocket library.
		OriginPatterns: s.config.AllowOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxCallBody)

	ctx, cancel := context.WithCancel(r.Context())
	c := newWSClient(conn)
	var inflight sync.WaitGroup
	s.logger.Info("bridge client connected", "remote", r.RemoteAddr)
	defer func() {
		cancel()
		inflight.Wait()
		s.logger.Info("bridge client disconnected", "remote", r.RemoteAddr)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.logger.Debug("bridge read ended", "error", err)
			}
			return
		}
		s.handleFrame(ctx, c, &inflight, data)
	}
}

func (s *Server) handleFrame(ctx context.Context, c *wsClient, inflight *sync.WaitGroup, data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.reply(ctx, c, ServerFrame{
			Type:   FrameResult,
			Result: failed(protocol.RecoverID(data), protocol.Errorf(protocol.KindInvalidArguments, "malformed frame: %v", err)),
		})
		return
	}

	switch frame.Type {
	case FrameCall:
		env, err := protocol.DecodeEnvelopeBytes(frame.Envelope)
		if err != nil {
			s.reply(ctx, c, ServerFrame{Type: FrameResult, Result: failed(protocol.RecoverID(frame.Envelope), err)})
			return
		}
		// Results arrive out of order, so the frontend must name each call.
		if env.ID == "" {
			s.reply(ctx, c, ServerFrame{
				Type:  FrameError,
				Error: protocol.Errorf(protocol.KindInvalidArguments, "envelope missing required field: id"),
			})
			return
		}
		// Owned before submit so a cancel racing the result is honoured.
		c.own(env.ID)
		call, err := s.bridge.Submit(ctx, *env)
		if err != nil {
			c.release(env.ID)
			s.reply(ctx, c, ServerFrame{Type: FrameResult, Result: failed(env.ID, err)})
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			<-call.Done()
			c.release(call.ID)
			res, _ := call.Result()
			s.reply(ctx, c, ServerFrame{Type: FrameResult, Result: &res})
		}()

	case FrameCancel:
		if !c.owns(frame.ID) {
			s.reply(ctx, c, ServerFrame{
				Type:  FrameError,
				ID:    frame.ID,
				Error: protocol.Errorf(protocol.KindNotFound, "no pending call %q", frame.ID),
			})
			return
		}
		if err := s.bridge.Cancel(frame.ID); err != nil {
			s.reply(ctx, c, ServerFrame{Type: FrameError, ID: frame.ID, Error: protocol.AsError(err)})
		}

	default:
		s.reply(ctx, c, ServerFrame{
			Type:  FrameError,
			ID:    frame.ID,
			Error: protocol.Errorf(protocol.KindInvalidArguments, "unknown frame type %q", frame.Type),
		})
	}
}

func (s *Server) reply(ctx context.Context, c *wsClient, frame ServerFrame) {
	if err := c.write(ctx, frame); err != nil && ctx.Err() == nil {
		s.logger.Warn("bridge write failed", "type", frame.Type, "error", err)
	}
}

func failed(id string, err error) *protocol.Result {
	res := protocol.Fail(id, err)
	return &res
}
