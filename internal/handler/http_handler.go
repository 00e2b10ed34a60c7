package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/procurehq/be-proc-requests/internal/errors"
	"github.com/procurehq/be-proc-requests/internal/logger"
	"github.com/procurehq/be-proc-requests/internal/repository"
	"github.com/procurehq/be-proc-requests/internal/service"
	"github.com/procurehq/be-proc-requests/internal/workflow"
)

// HTTPHandler exposes the workflow engine over HTTP.
type HTTPHandler struct {
	transitions *service.TransitionService
	approvals   *service.ApprovalService
	overrides   *service.OverrideService
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	transitions *service.TransitionService,
	approvals *service.ApprovalService,
	overrides *service.OverrideService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		transitions: transitions,
		approvals:   approvals,
		overrides:   overrides,
		log:         log,
	}
}

// Register attaches all routes to the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/api/v1/requests/transition", h.Transition)
	mux.HandleFunc("/api/v1/requests/approve", h.Approve)
	mux.HandleFunc("/api/v1/requests/approval/reset", h.ResetApproval)
	mux.HandleFunc("/api/v1/requests/approval-state", h.GetApprovalState)
	mux.HandleFunc("/api/v1/requests/history", h.GetHistory)
	mux.HandleFunc("/api/v1/requests/override", h.Override)
	mux.HandleFunc("/api/v1/approvals/pending", h.ListPending)
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

type transitionRequest struct {
	RequestID string                    `json:"requestId"`
	Target    string                    `json:"target"`
	ActorID   string                    `json:"actorId"`
	Notes     *string                   `json:"notes,omitempty"`
	Payload   service.TransitionPayload `json:"payload"`
}

// Transition handles status change requests.
func (h *HTTPHandler) Transition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid JSON"))
		return
	}

	result, err := h.transitions.RequestTransition(r.Context(), service.TransitionRequest{
		RequestID: req.RequestID,
		Target:    workflow.Status(req.Target),
		ActorID:   req.ActorID,
		Notes:     req.Notes,
		Payload:   req.Payload,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type approveRequest struct {
	RequestID     string `json:"requestId"`
	ApproverID    string `json:"approverId"`
	QuoteID       string `json:"quoteId"`
	Justification string `json:"justification,omitempty"`
}

// Approve handles approver quote selections.
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid JSON"))
		return
	}

	result, err := h.approvals.RecordApproval(r.Context(), service.ApprovalRequest{
		RequestID:     req.RequestID,
		ApproverID:    req.ApproverID,
		QuoteID:       req.QuoteID,
		Justification: req.Justification,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type resetApprovalRequest struct {
	RequestID string `json:"requestId"`
	ActorID   string `json:"actorId"`
	Reason    string `json:"reason"`
}

// ResetApproval handles administrative approval state resets.
func (h *HTTPHandler) ResetApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req resetApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid JSON"))
		return
	}

	result, err := h.approvals.ResetApprovalState(r.Context(), req.RequestID, req.ActorID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetApprovalState returns the live approval state and attempt history.
func (h *HTTPHandler) GetApprovalState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		h.writeError(w, r, errors.InvalidInput("request_id", "query parameter is required"))
		return
	}

	view, err := h.approvals.GetApprovalState(r.Context(), requestID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// GetHistory returns the ordered status transition history.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		h.writeError(w, r, errors.InvalidInput("request_id", "query parameter is required"))
		return
	}

	history, err := h.transitions.GetStatusHistory(r.Context(), requestID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

type overrideRequest struct {
	RequestID     string `json:"requestId"`
	Kind          string `json:"kind"`
	ActorID       string `json:"actorId"`
	Justification string `json:"justification,omitempty"`
}

// Override creates (POST) or clears (DELETE) an override.
func (h *HTTPHandler) Override(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req overrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, errors.InvalidInput("body", "invalid JSON"))
			return
		}
		o, err := h.overrides.CreateOverride(r.Context(), req.RequestID, repository.OverrideKind(req.Kind), req.ActorID, req.Justification)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, o)

	case http.MethodDelete:
		var req overrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, errors.InvalidInput("body", "invalid JSON"))
			return
		}
		if err := h.overrides.ClearOverride(r.Context(), req.RequestID, repository.OverrideKind(req.Kind), req.ActorID); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		requestID := r.URL.Query().Get("request_id")
		if requestID == "" {
			h.writeError(w, r, errors.InvalidInput("request_id", "query parameter is required"))
			return
		}
		overrides, err := h.overrides.ListOverrides(r.Context(), requestID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"overrides": overrides})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ListPending returns the requests awaiting an approver.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	organizationID := r.URL.Query().Get("organization_id")
	approverID := r.URL.Query().Get("approver_id")

	requests, err := h.approvals.ListPendingApprovals(r.Context(), organizationID, approverID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("handler: failed to encode response")
	}
}

type errorResponse struct {
	Error        string            `json:"error"`
	Code         string            `json:"code"`
	FailingRules []service.Failure `json:"failingRules,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *service.ValidationError
	if stderrors.As(err, &vErr) {
		h.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:        vErr.Error(),
			Code:         string(errors.ErrCodeValidationFailed),
			FailingRules: vErr.Failures,
		})
		return
	}

	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("handler: request failed")
	}
	h.writeJSON(w, status, errorResponse{
		Error: err.Error(),
		Code:  string(errors.Code(err)),
	})
}
