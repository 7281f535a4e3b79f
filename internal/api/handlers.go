package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/velox/internal/protocol"
)

const maxCallBody = 32 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Pending:       s.bridge.Pending(),
		Workers:       s.config.Workers,
	}
	if s.catalog != nil {
		resp.Operations = len(s.catalog.Schemas())
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCall handles POST /call/{capability}/{operation}
// and blocks until the call has a result. A client disconnect cancels the call.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallBody+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxCallBody {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			res := protocol.Fail("", protocol.Errorf(protocol.KindInvalidArguments, "invalid request body: %v", err))
			respondJSON(w, http.StatusBadRequest, res)
			return
		}
	}

	env := protocol.Envelope{
		ID:         req.ID,
		Capability: protocol.Capability(chi.URLParam(r, "capability")),
		Operation:  chi.URLParam(r, "operation"),
		Args:       req.Args,
		Window:     req.Window,
		TimeoutMs:  req.TimeoutMs,
	}
	if env.Args == nil {
		env.Args = []json.RawMessage{}
	}

	res := s.bridge.Call(r.Context(), env)
	respondJSON(w, statusForResult(res), res)
}

// handleCancel handles POST /cancel/{id}
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.bridge.Cancel(id); err != nil {
		var perr *protocol.Error
		if errors.As(err, &perr) && perr.Kind == protocol.KindNotFound {
			s.writeError(w, http.StatusNotFound, perr.Message)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, CancelResponse{ID: id, Status: "cancelling"})
}

// handleOperations handles GET /operations
func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	out := []OperationInfo{}
	if s.catalog != nil {
		for name, schema := range s.catalog.Schemas() {
			info := OperationInfo{Name: name, Args: make([]ArgInfo, 0, len(schema))}
			for _, a := range schema {
				info.Args = append(info.Args, ArgInfo{Name: a.Name, Kind: a.Kind.String(), Optional: a.Optional})
			}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	respondJSON(w, http.StatusOK, out)
}

// handleOpenAPI handles GET /openapi.json
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	var schemas map[string]protocol.Schema
	if s.catalog != nil {
		schemas = s.catalog.Schemas()
	}
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(schemas))
}

// statusForResult picks the HTTP status for a call result. The body always
// carries the full result.
func statusForResult(res protocol.Result) int {
	if res.OK || res.Error == nil {
		return http.StatusOK
	}
	switch res.Error.Kind {
	case protocol.KindInvalidArguments:
		return http.StatusBadRequest
	case protocol.KindPermissionDenied:
		return http.StatusForbidden
	case protocol.KindNotFound:
		return http.StatusNotFound
	case protocol.KindDuplicateID, protocol.KindAlreadyExists:
		return http.StatusConflict
	case protocol.KindCancelled:
		return http.StatusRequestTimeout
	case protocol.KindOverloaded, protocol.KindTransportClosed:
		return http.StatusServiceUnavailable
	case protocol.KindUnsupportedPlatform:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
