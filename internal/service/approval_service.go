package service

import (
	"context"
	"fmt"

	"github.com/procurehq/be-proc-requests/internal/errors"
	"github.com/procurehq/be-proc-requests/internal/logger"
	"github.com/procurehq/be-proc-requests/internal/repository"
	"github.com/procurehq/be-proc-requests/internal/workflow"
)

// ApprovalOutcome is what a recorded approval resolved to.
type ApprovalOutcome string

const (
	// OutcomePending: recorded, waiting on the other approver.
	OutcomePending ApprovalOutcome = "PENDING"
	// OutcomeConflict: both approvers selected different quotes.
	OutcomeConflict ApprovalOutcome = "CONFLICT"
	// OutcomeResolved: approval is complete and the request moved to APPROVED.
	OutcomeResolved ApprovalOutcome = "RESOLVED"
)

// ApprovalRequest is one approver's quote selection.
type ApprovalRequest struct {
	RequestID     string
	ApproverID    string
	QuoteID       string
	Justification string
}

// ApprovalResult reports the coordinator outcome. Transition is set only when
// the approval resolved and the request was committed to APPROVED.
type ApprovalResult struct {
	Outcome    ApprovalOutcome           `json:"outcome"`
	State      *repository.ApprovalState `json:"state"`
	Transition *TransitionResult         `json:"transition,omitempty"`
}

// ApprovalStateView bundles the live state with the immutable attempt history.
type ApprovalStateView struct {
	State   *repository.ApprovalState          `json:"state"`
	History []*repository.ApprovalHistoryEntry `json:"history"`
}

// ApprovalService coordinates single and dual approval. Every attempt is
// appended to the immutable history; the live state is replaced wholesale on
// each write. An approver repeating or changing their selection overwrites
// their own side only, which is how a quote conflict gets resolved.
type ApprovalService struct {
	requests    RequestStore
	approvals   ApprovalStore
	authz       Authorizer
	notifier    Notifier
	transitions *TransitionService
	locker      *RequestLocker
	log         *logger.Logger
}

// NewApprovalService wires the approval coordinator.
func NewApprovalService(
	requests RequestStore,
	approvals ApprovalStore,
	authz Authorizer,
	notifier Notifier,
	transitions *TransitionService,
	locker *RequestLocker,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		requests:    requests,
		approvals:   approvals,
		authz:       authz,
		notifier:    notifier,
		transitions: transitions,
		locker:      locker,
		log:         log,
	}
}

// RecordApproval records one approver's quote selection and advances the
// coordinator. Resolution commits PENDING_APPROVAL -> APPROVED in the same
// critical section.
func (s *ApprovalService) RecordApproval(ctx context.Context, in ApprovalRequest) (*ApprovalResult, error) {
	if in.QuoteID == "" {
		return nil, errors.InvalidInput("quoteId", "field is required")
	}
	if in.ApproverID == "" {
		return nil, errors.InvalidInput("approverId", "field is required")
	}

	unlock := s.locker.Lock(in.RequestID)
	defer unlock()

	req, err := s.requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != workflow.StatusPendingApproval {
		return nil, errors.New(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("approvals may only be recorded while PENDING_APPROVAL, request is %s", req.Status))
	}

	role, err := approverRole(req, in.ApproverID)
	if err != nil {
		return nil, err
	}

	quote := req.QuoteByID(in.QuoteID)
	if quote == nil {
		return nil, errors.InvalidInput("quoteId", fmt.Sprintf("quote '%s' does not belong to this request", in.QuoteID))
	}

	state, err := s.approvals.GetState(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.New(errors.ErrCodeConflict, "request has no approval state")
	}

	lowest := req.LowestQuote()
	notLowest := lowest != nil && lowest.ID != quote.ID
	if (state.RequiresDual || notLowest) && in.Justification == "" {
		if notLowest {
			return nil, errors.New(errors.ErrCodeValidationFailed,
				"justification is required when approving a quote other than the lowest")
		}
		return nil, errors.New(errors.ErrCodeValidationFailed,
			"justification is required for dual-approval requests")
	}

	// Copy-on-write: mutate a copy, persist it wholesale, never touch the
	// loaded state in place.
	next := *state
	quoteID := in.QuoteID
	justification := in.Justification
	switch role {
	case "primary":
		next.FirstComplete = true
		next.FirstSelectedQuoteID = &quoteID
		next.FirstJustification = optional(justification)
	case "secondary":
		next.SecondComplete = true
		next.SecondSelectedQuoteID = &quoteID
		next.SecondJustification = optional(justification)
	}

	outcome := resolveOutcome(&next)
	next.Conflict = outcome == OutcomeConflict

	if err := s.approvals.ReplaceState(ctx, &next); err != nil {
		return nil, err
	}

	if err := s.approvals.AppendHistory(ctx, &repository.ApprovalHistoryEntry{
		RequestID:  in.RequestID,
		ApproverID: in.ApproverID,
		Approved:   true,
		QuoteID:    &quoteID,
		Notes:      optional(justification),
	}); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", in.RequestID).
		Str("approver_id", in.ApproverID).
		Str("role", role).
		Str("quote_id", quoteID).
		Str("outcome", string(outcome)).
		Msg("approval: recorded")

	result := &ApprovalResult{Outcome: outcome, State: &next}

	switch outcome {
	case OutcomeConflict:
		s.notifier.PublishApprovalEvent(ctx, "quote_conflict", in.RequestID, in.ApproverID, map[string]any{
			"firstQuoteId":  deref(next.FirstSelectedQuoteID),
			"secondQuoteId": deref(next.SecondSelectedQuoteID),
		})
	case OutcomeResolved:
		if state.Conflict {
			s.notifier.PublishApprovalEvent(ctx, "conflict_resolved", in.RequestID, in.ApproverID, map[string]any{
				"quoteId": quoteID,
			})
		}
		note := fmt.Sprintf("approval resolved on quote %s", quoteID)
		transition, err := s.transitions.commit(ctx, repository.TransitionCommit{
			RequestID:       req.ID,
			From:            req.Status,
			To:              workflow.StatusApproved,
			ActorID:         in.ApproverID,
			Notes:           &note,
			ExpectedVersion: req.Version,
		}, "")
		if err != nil {
			return nil, err
		}
		result.Transition = transition
	default:
		s.notifier.PublishApprovalEvent(ctx, "approval_recorded", in.RequestID, in.ApproverID, map[string]any{
			"quoteId": quoteID,
			"role":    role,
		})
	}

	return result, nil
}

// ResetApprovalState wipes the live approval state back to empty, keeping the
// attempt history. An APPROVED request returns to PENDING_APPROVAL in the same
// critical section. Administrative capability required.
func (s *ApprovalService) ResetApprovalState(ctx context.Context, requestID, actorID, reason string) (*ApprovalResult, error) {
	if reason == "" {
		return nil, errors.InvalidInput("reason", "field is required")
	}

	unlock := s.locker.Lock(requestID)
	defer unlock()

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != workflow.StatusPendingApproval && req.Status != workflow.StatusApproved {
		return nil, errors.New(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("approval state can only be reset while PENDING_APPROVAL or APPROVED, request is %s", req.Status))
	}

	if err := s.transitions.authorize(ctx, actorID, "approval:reset", requestID); err != nil {
		return nil, err
	}

	state, err := s.approvals.GetState(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.New(errors.ErrCodeConflict, "request has no approval state")
	}

	fresh := &repository.ApprovalState{RequestID: requestID, RequiresDual: state.RequiresDual}
	if err := s.approvals.ReplaceState(ctx, fresh); err != nil {
		return nil, err
	}

	note := "approval state reset: " + reason
	if err := s.approvals.AppendHistory(ctx, &repository.ApprovalHistoryEntry{
		RequestID:  requestID,
		ApproverID: actorID,
		Approved:   false,
		Notes:      &note,
	}); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", requestID).
		Str("actor_id", actorID).
		Msg("approval: state reset")

	result := &ApprovalResult{Outcome: OutcomePending, State: fresh}

	if req.Status == workflow.StatusApproved {
		transition, err := s.transitions.commit(ctx, repository.TransitionCommit{
			RequestID:       req.ID,
			From:            req.Status,
			To:              workflow.StatusPendingApproval,
			ActorID:         actorID,
			Notes:           &note,
			ExpectedVersion: req.Version,
		}, "")
		if err != nil {
			return nil, err
		}
		result.Transition = transition
	} else {
		s.notifier.PublishApprovalEvent(ctx, "approval_required", requestID, actorID, nil)
	}

	return result, nil
}

// GetApprovalState returns the live state plus the attempt history.
func (s *ApprovalService) GetApprovalState(ctx context.Context, requestID string) (*ApprovalStateView, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	state, err := s.approvals.GetState(ctx, requestID)
	if err != nil {
		return nil, err
	}
	history, err := s.approvals.ListHistory(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &ApprovalStateView{State: state, History: history}, nil
}

// ListPendingApprovals returns the requests awaiting the given approver.
func (s *ApprovalService) ListPendingApprovals(ctx context.Context, organizationID, approverID string) ([]*repository.Request, error) {
	if approverID == "" {
		return nil, errors.InvalidInput("approverId", "field is required")
	}
	return s.requests.ListPendingForApprover(ctx, organizationID, approverID)
}

func approverRole(req *repository.Request, approverID string) (string, error) {
	switch {
	case req.ApproverPrimaryID != nil && *req.ApproverPrimaryID == approverID:
		return "primary", nil
	case req.ApproverSecondaryID != nil && *req.ApproverSecondaryID == approverID:
		return "secondary", nil
	default:
		return "", errors.New(errors.ErrCodeUnauthorized,
			fmt.Sprintf("'%s' is not an assigned approver on this request", approverID))
	}
}

// resolveOutcome inspects a candidate state. Dual approval resolves only when
// both sides completed on the same quote; order of arrival never matters.
func resolveOutcome(state *repository.ApprovalState) ApprovalOutcome {
	if !state.RequiresDual {
		if state.FirstComplete || state.SecondComplete {
			return OutcomeResolved
		}
		return OutcomePending
	}
	if !state.FirstComplete || !state.SecondComplete {
		return OutcomePending
	}
	if deref(state.FirstSelectedQuoteID) != deref(state.SecondSelectedQuoteID) {
		return OutcomeConflict
	}
	return OutcomeResolved
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
