package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/autofix-playground/internal/apperror"
	"github.com/sakif/autofix-playground/internal/executor"
)

// Runner is the part of *executor.Client the execute endpoint needs.
type Runner interface {
	Execute(ctx context.Context, p executor.ExecuteParams) (*executor.ExecutionResult, error)
}

// ExecuteHandler runs code directly, without a workspace or the fix loop.
// A program that suspends on input returns a sessionId; posting again with
// that sessionId and the next stdin continues it.
type ExecuteHandler struct {
	runner Runner
	logger *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(runner Runner, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		runner: runner,
		logger: logger,
	}
}

// ExecuteRequest is the body of POST /api/execute.
type ExecuteRequest struct {
	Language  string `json:"language"`
	Code      string `json:"code"`
	Stdin     string `json:"stdin,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// HandleExecute processes an incoming code execution request.
//
// HTTP: POST /api/execute
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	if req.Code == "" && req.SessionID == "" {
		writeError(w, apperror.ValidationFailed("code", "code cannot be empty"))
		return
	}
	if req.Language == "" {
		req.Language = "python"
	}

	h.logger.Info("executing code",
		slog.String("language", req.Language),
		slog.Bool("continuation", req.SessionID != ""),
	)

	result, err := h.runner.Execute(r.Context(), executor.ExecuteParams{
		Language:  req.Language,
		Code:      req.Code,
		Stdin:     req.Stdin,
		SessionID: req.SessionID,
	})
	if err != nil {
		h.logger.Error("code execution failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleLanguages lists the supported languages and their versions.
//
// HTTP: GET /api/languages
func (h *ExecuteHandler) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	names := executor.LanguageNames()
	langs := make([]executor.Language, 0, len(names))
	for _, name := range names {
		lang, _ := executor.LookupLanguage(name)
		langs = append(langs, lang)
	}
	writeJSON(w, http.StatusOK, langs)
}

// HandleHealth reports that the process is serving requests.
//
// HTTP: GET /healthz
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
