package api

import (
	"encoding/json"

	"github.com/mattjoyce/velox/internal/protocol"
)

// Websocket frame types.
const (
	FrameCall   = "call"
	FrameCancel = "cancel"
	FrameResult = "result"
	FrameError  = "error"
)

// ClientFrame is one message from the frontend on /bridge.
type ClientFrame struct {
	Type     string          `json:"type"`
	Envelope json.RawMessage `json:"envelope,omitempty"`
	ID       string          `json:"id,omitempty"`
}

// ServerFrame is one message to the frontend on /bridge. Result frames
// carry a call's single result; error frames report problems with a
// frame that produced no call.
type ServerFrame struct {
	Type   string           `json:"type"`
	Result *protocol.Result `json:"result,omitempty"`
	ID     string           `json:"id,omitempty"`
	Error  *protocol.Error  `json:"error,omitempty"`
}

// CallRequest is the JSON body for POST /call/{capability}/{operation}
type CallRequest struct {
	ID        string            `json:"id,omitempty"`
	Args      []json.RawMessage `json:"args,omitempty"`
	Window    string            `json:"window,omitempty"`
	TimeoutMs int64             `json:"timeout_ms,omitempty"`
}

// CancelResponse is returned by POST /cancel/{id}
type CancelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// OperationInfo describes one operation in GET /operations.
type OperationInfo struct {
	Name string    `json:"name"`
	Args []ArgInfo `json:"args"`
}

type ArgInfo struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Optional bool   `json:"optional,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Pending       int    `json:"pending"`
	Workers       int    `json:"workers"`
	Operations    int    `json:"operations"`
}
