// Package handler adapts HTTP requests to the service layer.
//
// Each handler decodes the request, calls one service method and writes the
// result with writeJSON or writeError. Decisions about documents, runs and
// fixes stay in internal/service; handlers only pick status codes.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sakif/autofix-playground/internal/apperror"
	"github.com/sakif/autofix-playground/internal/service"
)

// Websocket timings for the event stream.
const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

// PlaygroundHandler drives a workspace's orchestrator: run with automatic
// fixes, interactive input, code generation and the live event stream.
//
// Run, input and compose block until the orchestrator settles and respond
// with the final Snapshot. Clients that want progress while they wait open
// the events websocket first.
type PlaygroundHandler struct {
	playground *service.Playground
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewPlaygroundHandler creates a new PlaygroundHandler. allowedOrigins
// restricts websocket handshakes; empty means any origin is accepted,
// which is fine because the stream is token-authenticated.
func NewPlaygroundHandler(playground *service.Playground, allowedOrigins []string, logger *slog.Logger) *PlaygroundHandler {
	h := &PlaygroundHandler{playground: playground, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// HandleRun runs the workspace's code through the analyze/fix/run loop.
//
// HTTP: POST /api/workspaces/{id}/run
// RESPONSE: the final Snapshot, e.g.
//
//	{"state":"completed","transcript":["Sum of 5 numbers is: 15"],"attempts":1,...}
func (h *PlaygroundHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	snap, err := h.playground.Run(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, snap, err)
}

type inputRequest struct {
	Text string `json:"text"`
}

// HandleInput sends one line of stdin to a suspended run.
//
// HTTP: POST /api/workspaces/{id}/input
// REQUEST BODY: {"text": "5"}
func (h *PlaygroundHandler) HandleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.playground.SubmitInput(r.Context(), chi.URLParam(r, "id"), req.Text)
	h.respond(w, snap, err)
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// HandleCompose replaces the workspace's code with code generated from a
// prompt, then runs it.
//
// HTTP: POST /api/workspaces/{id}/compose
// REQUEST BODY: {"prompt": "read n and print the sum 1..n"}
func (h *PlaygroundHandler) HandleCompose(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.playground.Compose(r.Context(), chi.URLParam(r, "id"), req.Prompt)
	h.respond(w, snap, err)
}

type askRequest struct {
	Question string `json:"question"`
}

// HandleAsk answers a free-form question. The workspace is not touched.
//
// HTTP: POST /api/workspaces/{id}/ask
func (h *PlaygroundHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Question == "" {
		writeError(w, apperror.ValidationFailed("question", "question is required"))
		return
	}

	answer, err := h.playground.Ask(r.Context(), req.Question)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// HandleSnapshot returns the orchestrator's current state without changing it.
//
// HTTP: GET /api/workspaces/{id}/snapshot
func (h *PlaygroundHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.playground.Snapshot(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, snap, err)
}

// HandleEvents streams orchestrator events over a websocket.
//
// HTTP: GET /api/workspaces/{id}/events (Upgrade: websocket)
//
// The first message is the current Snapshot; every following message is an
// Event. The server pings every pingInterval and drops clients that stop
// answering. Messages sent by the client are read and discarded.
func (h *PlaygroundHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// subscribe before upgrading so a missing workspace is still a plain 404
	events, cancel, err := h.playground.Subscribe(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	snap, err := h.playground.Snapshot(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	logger := h.logger.With(slog.String("workspace", id))
	logger.Debug("event stream opened")

	closed := make(chan struct{})
	go readPump(conn, closed)

	if err := writeMessage(conn, snap); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// workspace forgotten
				_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "workspace closed"))
				return
			}
			if err := writeMessage(conn, ev); err != nil {
				logger.Debug("event stream write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			logger.Debug("event stream closed by client")
			return
		}
	}
}

// respond writes the snapshot, or the error if there is no snapshot to show.
// A run that failed after starting still has a meaningful snapshot (its
// transcript ends with the error line), so the snapshot wins whenever the
// orchestrator produced one.
func (h *PlaygroundHandler) respond(w http.ResponseWriter, snap service.Snapshot, err error) {
	if err != nil && snap.State == "" {
		writeError(w, err)
		return
	}
	if err != nil {
		h.logger.Info("run ended with error", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, snap)
}

// readPump consumes client frames so pongs and close frames are processed,
// and closes done when the connection is gone.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, v interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
