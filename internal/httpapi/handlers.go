package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clrke/claude-web/internal/errors"
	"github.com/clrke/claude-web/internal/orchestrator"
	"github.com/clrke/claude-web/internal/session"
)

// SessionHandler serves the session lifecycle endpoints.
type SessionHandler struct {
	orc *orchestrator.Orchestrator
}

// NewSessionHandler creates the handler set.
func NewSessionHandler(orc *orchestrator.Orchestrator) *SessionHandler {
	return &SessionHandler{orc: orc}
}

// Health handles GET /health.
func (h *SessionHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRequest struct {
	ProjectID          string                        `json:"project_id"`
	FeatureID          string                        `json:"feature_id"`
	Description        string                        `json:"description"`
	Preferences        *session.Preferences          `json:"preferences,omitempty"`
	AcceptanceCriteria []session.AcceptanceCriterion `json:"acceptance_criteria,omitempty"`
}

// Create handles POST /sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProjectID == "" || req.FeatureID == "" {
		writeError(w, http.StatusBadRequest, "project_id and feature_id are required")
		return
	}

	sess, err := h.orc.CreateSession(r.Context(), orchestrator.CreateRequest{
		ProjectID:          req.ProjectID,
		FeatureID:          req.FeatureID,
		Description:        req.Description,
		Preferences:        req.Preferences,
		AcceptanceCriteria: req.AcceptanceCriteria,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// Get handles GET /sessions/{project}/{feature}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orc.Get(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "feature"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type editRequest struct {
	ExpectedVersion    int64                          `json:"expected_version"`
	Description        *string                        `json:"description,omitempty"`
	Preferences        *session.Preferences           `json:"preferences,omitempty"`
	AcceptanceCriteria *[]session.AcceptanceCriterion `json:"acceptance_criteria,omitempty"`
	AffectedFiles      *[]string                      `json:"affected_files,omitempty"`
}

// conflictResponse carries the latest committed record so the caller can
// rebase its edit.
type conflictResponse struct {
	Error  string           `json:"error"`
	Latest *session.Session `json:"latest"`
}

// Edit handles PATCH /sessions/{project}/{feature}.
func (h *SessionHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	patch := session.Patch{
		Description:        req.Description,
		Preferences:        req.Preferences,
		AcceptanceCriteria: req.AcceptanceCriteria,
		AffectedFiles:      req.AffectedFiles,
	}

	sess, err := h.orc.EditQueued(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "feature"), req.ExpectedVersion, patch)
	if err != nil {
		if errors.IsConflict(err) {
			writeJSON(w, http.StatusConflict, conflictResponse{
				Error:  err.Error(),
				Latest: sess,
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Retry handles POST /sessions/{project}/{feature}/retry.
func (h *SessionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orc.RetryStage(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "feature"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

type backoutRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Backout handles POST /sessions/{project}/{feature}/backout.
func (h *SessionHandler) Backout(w http.ResponseWriter, r *http.Request) {
	var req backoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, err := h.orc.Backout(r.Context(),
		chi.URLParam(r, "project"), chi.URLParam(r, "feature"),
		orchestrator.BackoutAction(req.Action), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Queue handles GET /projects/{project}/queue.
func (h *SessionHandler) Queue(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.orc.ProjectQueue(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": sessions})
}

// Resume handles POST /projects/{project}/resume.
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orc.Resume(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sess == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Expired handles GET /sessions/expired, consumed by the retention sweeper.
func (h *SessionHandler) Expired(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.orc.ExpiredSessions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": sessions})
}

// writeDomainError maps the error taxonomy to HTTP status codes. Queue
// invariant violations deliberately surface as opaque 500s; they are
// internal bugs, not caller-visible states.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.IsInvalidState(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, errors.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errors.ErrQueueInvariant):
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
