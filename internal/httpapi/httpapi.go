// Package httpapi exposes the sync engine over HTTP for clients that
// cannot hold a unix socket open: a JSON RPC endpoint plus a
// server-sent-events stream for broadcasts.
package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/taskwire/taskwire/internal/protocol"
	"github.com/taskwire/taskwire/internal/server"
	"github.com/taskwire/taskwire/internal/types"
)

// ConnHeader names the header tying an RPC call to an open event
// stream, so subscription-scoped operations see the right connection.
const ConnHeader = "X-Taskwire-Conn"

// Handler serves the HTTP surface
type Handler struct {
	dispatcher *server.Dispatcher
	registry   *server.Registry
	logger     *slog.Logger
	mux        *http.ServeMux
}

func NewHandler(dispatcher *server.Dispatcher, registry *server.Registry, logger *slog.Logger) *Handler {
	h := &Handler{
		dispatcher: dispatcher,
		registry:   registry,
		logger:     logger,
		mux:        http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /api/rpc", h.handleRPC)
	h.mux.HandleFunc("GET /api/events", h.handleEvents)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleRPC runs one request envelope through the dispatcher. If the
// caller names an open event stream via the conn header, the request
// runs on that connection; otherwise it runs on a throwaway one with
// no subscriptions.
func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, protocol.Fail("", types.NewValidationError([]types.FieldViolation{
			{Field: "body", Reason: "is not a valid request envelope: " + err.Error()},
		})))
		return
	}

	conn := h.registry.Lookup(r.Header.Get(ConnHeader))
	if conn == nil {
		// Subscription state lives on an event-stream connection; a
		// subscribe with nowhere to deliver events must not report ok.
		if req.Type == protocol.MsgSubscribe || req.Type == protocol.MsgUnsubscribe {
			writeResponse(w, http.StatusBadRequest, protocol.Fail(req.CorrelationID,
				types.NewValidationError([]types.FieldViolation{
					{Field: ConnHeader, Reason: "must name an open event stream for subscription calls"},
				})))
			return
		}
		conn = server.NewConn(uuid.NewString(), "")
	}

	resp := h.dispatcher.Dispatch(r.Context(), conn, req)
	status := http.StatusOK
	if resp.Status == protocol.StatusError {
		status = httpStatus(resp.Error.Code)
	}
	writeResponse(w, status, resp)
}

func httpStatus(code types.ErrorCode) int {
	switch code {
	case types.CodeValidation, types.CodeUnknownMessageType:
		return http.StatusBadRequest
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeAccessDenied:
		return http.StatusForbidden
	case types.CodeVersionConflict, types.CodeInvalidStateTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeResponse(w http.ResponseWriter, status int, resp protocol.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleEvents opens an SSE stream. The first event names the
// connection id; every broadcast frame after that arrives as an
// "event" message. Optional project_id query params subscribe
// immediately.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	conn := server.NewConn(uuid.NewString(), r.URL.Query().Get("actor"))
	h.registry.Register(conn)
	defer func() {
		conn.Close()
		h.registry.Unregister(conn.ID)
	}()

	for _, projectID := range r.URL.Query()["project_id"] {
		h.registry.Subscribe(conn.ID, projectID)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: hello\ndata: {\"conn_id\":%q}\n\n", conn.ID)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done():
			return
		case frame := <-conn.Send():
			fmt.Fprintf(w, "event: event\ndata: %s\n\n", bytes.TrimRight(frame, "\n"))
			flusher.Flush()
		}
	}
}
