package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/autofix-playground/internal/service"
)

// WorkspaceHandler exposes workspace CRUD, token issuance and run history.
//
// Create and token routes are public: creating a workspace returns its first
// token, and the owner can trade the workspace secret for a new one. All
// other routes sit behind auth.RequireWorkspace.
type WorkspaceHandler struct {
	service    *service.WorkspaceService
	playground *service.Playground
	logger     *slog.Logger
}

// NewWorkspaceHandler creates a new WorkspaceHandler.
func NewWorkspaceHandler(svc *service.WorkspaceService, playground *service.Playground, logger *slog.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{service: svc, playground: playground, logger: logger}
}

// HandleCreate creates a workspace.
//
// HTTP: POST /api/workspaces
// REQUEST BODY: {"name": "sums", "language": "python", "code": "...", "secret": "optional"}
// RESPONSE: 201 {"workspace": {...}, "token": "eyJ..."}
func (h *WorkspaceHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.CreateWorkspaceInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.service.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	setTokenCookie(w, out.Workspace.ID, out.Token)
	writeJSON(w, http.StatusCreated, out)
}

type tokenRequest struct {
	Secret string `json:"secret"`
}

// HandleToken issues a fresh token in exchange for the workspace secret.
//
// HTTP: POST /api/workspaces/{id}/token
func (h *WorkspaceHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	token, err := h.service.IssueToken(r.Context(), id, req.Secret)
	if err != nil {
		writeError(w, err)
		return
	}
	setTokenCookie(w, id, token)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// HandleGet returns a workspace.
//
// HTTP: GET /api/workspaces/{id}
func (h *WorkspaceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ws, err := h.service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// HandleUpdate changes name, language or code. Omitted fields are kept.
//
// HTTP: PUT /api/workspaces/{id}
func (h *WorkspaceHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateWorkspaceInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	ws, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// HandleDelete removes a workspace, its history and its orchestrator.
//
// HTTP: DELETE /api/workspaces/{id}
func (h *WorkspaceHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.playground.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRuns lists the workspace's run history, newest first.
//
// HTTP: GET /api/workspaces/{id}/runs?limit=20&offset=0
func (h *WorkspaceHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	// Atoi failures fall back to 0, which the service treats as the default.
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	runs, err := h.service.ListRuns(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// setTokenCookie stores the token for browsers, which cannot attach an
// Authorization header to a websocket handshake. The cookie is scoped to
// the workspace's routes and lives for the browser session; expiry is
// enforced by the token itself.
func setTokenCookie(w http.ResponseWriter, workspaceID, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/api/workspaces/" + workspaceID,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		// Secure: true, // Uncomment in production (requires HTTPS)
	})
}
