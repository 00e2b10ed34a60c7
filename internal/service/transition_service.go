package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/procurehq/be-proc-requests/internal/errors"
	"github.com/procurehq/be-proc-requests/internal/logger"
	"github.com/procurehq/be-proc-requests/internal/repository"
	"github.com/procurehq/be-proc-requests/internal/rules"
	"github.com/procurehq/be-proc-requests/internal/workflow"
)

// ValidationError carries the full set of gate failures so callers can report
// every unmet requirement at once.
type ValidationError struct {
	Failures []Failure
}

func (e *ValidationError) Error() string {
	codes := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		codes[i] = f.Code
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(codes, ", "))
}

// TransitionPayload carries the optional edge-specific data a transition may
// need.
type TransitionPayload struct {
	FinalPrice            *int64  `json:"finalPrice,omitempty"`
	EstimatedDeliveryDate *string `json:"estimatedDeliveryDate,omitempty"`
	// Satisfactory is required on ORDERED -> COMPLETED.
	Satisfactory *bool `json:"satisfactory,omitempty"`
	// OverrideDespiteIssues completes an unsatisfactory delivery anyway,
	// granting the vendor a short manual trust window.
	OverrideDespiteIssues bool   `json:"overrideDespiteIssues,omitempty"`
	Justification         string `json:"justification,omitempty"`
}

// TransitionRequest is one status change attempt.
type TransitionRequest struct {
	RequestID string
	Target    workflow.Status
	ActorID   string
	Notes     *string
	Payload   TransitionPayload
}

// TransitionResult is the outcome of a committed (or idempotently repeated)
// transition.
type TransitionResult struct {
	Status       workflow.Status                `json:"status"`
	HistoryEntry *repository.StatusHistoryEntry `json:"historyEntry"`
	// Warning reports non-fatal side-effect failures, e.g. a vendor directory
	// write that did not land.
	Warning string `json:"warning,omitempty"`
}

// TransitionService drives status changes: it checks graph legality,
// authorization, and the edge-specific business gates, then commits the status
// update and history append atomically.
type TransitionService struct {
	requests  RequestStore
	approvals ApprovalStore
	overrides OverrideStore
	rules     RuleSource
	authz     Authorizer
	evidence  EvidenceSource
	vendors   VendorDirectory
	notifier  Notifier
	gate      *Gate
	calc      *VendorApprovalCalculator
	locker    *RequestLocker
	log       *logger.Logger
}

// NewTransitionService wires the transition controller.
func NewTransitionService(
	requests RequestStore,
	approvals ApprovalStore,
	overrides OverrideStore,
	ruleSource RuleSource,
	authz Authorizer,
	evidence EvidenceSource,
	vendors VendorDirectory,
	notifier Notifier,
	gate *Gate,
	calc *VendorApprovalCalculator,
	locker *RequestLocker,
	log *logger.Logger,
) *TransitionService {
	return &TransitionService{
		requests:  requests,
		approvals: approvals,
		overrides: overrides,
		rules:     ruleSource,
		authz:     authz,
		evidence:  evidence,
		vendors:   vendors,
		notifier:  notifier,
		gate:      gate,
		calc:      calc,
		locker:    locker,
		log:       log,
	}
}

// RequestTransition attempts a status change. Repeating an already-applied
// transition succeeds without writing again.
func (s *TransitionService) RequestTransition(ctx context.Context, in TransitionRequest) (*TransitionResult, error) {
	if !in.Target.IsValid() {
		return nil, errors.InvalidInput("target", fmt.Sprintf("unknown status '%s'", in.Target))
	}
	if in.ActorID == "" {
		return nil, errors.InvalidInput("actorId", "field is required")
	}

	unlock := s.locker.Lock(in.RequestID)
	defer unlock()

	req, err := s.requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}

	if req.Status == in.Target {
		// Repeats carry the same capability requirement as the original
		// transition; the no-op path must not leak history to other actors.
		if err := s.authorize(ctx, in.ActorID, transitionAction(in.Target), req.ID); err != nil {
			return nil, err
		}
		last, err := s.requests.LastHistoryEntry(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		s.log.Info().
			Str("request_id", req.ID).
			Str("status", req.Status.String()).
			Msg("transition: already in target status, no-op")
		return &TransitionResult{Status: req.Status, HistoryEntry: last}, nil
	}

	if req.Status.IsTerminal() {
		return nil, errors.New(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("request is %s, no further transitions are possible", req.Status))
	}

	if req.Status == workflow.StatusRejected || req.Status == workflow.StatusCanceled {
		return s.resurrect(ctx, req, in)
	}

	if !workflow.CanTransition(req.Status, in.Target) {
		return nil, errors.New(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("cannot transition from %s to %s", req.Status, in.Target))
	}

	if err := s.authorize(ctx, in.ActorID, transitionAction(in.Target), req.ID); err != nil {
		return nil, err
	}

	switch {
	case in.Target == workflow.StatusPendingApproval && req.Status == workflow.StatusInQueue:
		return s.enterApproval(ctx, req, in)
	case in.Target == workflow.StatusApproved:
		return nil, errors.New(errors.ErrCodeInvalidTransition,
			"approval is recorded through the approval endpoint, not as a direct transition")
	case in.Target == workflow.StatusPendingApproval && req.Status == workflow.StatusApproved:
		return nil, errors.New(errors.ErrCodeInvalidTransition,
			"re-opening an approved request requires an approval state reset")
	case in.Target == workflow.StatusOrdered:
		return s.enterOrdered(ctx, req, in)
	case in.Target == workflow.StatusCompleted:
		return s.complete(ctx, req, in)
	default:
		return s.commit(ctx, repository.TransitionCommit{
			RequestID:       req.ID,
			From:            req.Status,
			To:              in.Target,
			ActorID:         in.ActorID,
			Notes:           in.Notes,
			ExpectedVersion: req.Version,
		}, "")
	}
}

// resurrect handles REJECTED/CANCELED -> active. The target must be SUBMITTED
// or the last active status recorded in history, and the actor needs the
// administrative resurrect capability.
func (s *TransitionService) resurrect(ctx context.Context, req *repository.Request, in TransitionRequest) (*TransitionResult, error) {
	if in.Target != workflow.StatusSubmitted {
		lastActive, err := s.requests.LastActiveStatus(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if in.Target != lastActive {
			return nil, errors.New(errors.ErrCodeInvalidTransition,
				fmt.Sprintf("a %s request may only return to SUBMITTED or its last active status %s", req.Status, lastActive))
		}
	}

	if err := s.authorize(ctx, in.ActorID, "request:resurrect", req.ID); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("from", req.Status.String()).
		Str("to", in.Target.String()).
		Str("actor_id", in.ActorID).
		Msg("transition: resurrecting request")

	return s.commit(ctx, repository.TransitionCommit{
		RequestID:       req.ID,
		From:            req.Status,
		To:              in.Target,
		ActorID:         in.ActorID,
		Notes:           in.Notes,
		ExpectedVersion: req.Version,
	}, "")
}

// enterApproval guards IN_QUEUE -> PENDING_APPROVAL with the submission gate
// and sets up the approval state.
func (s *TransitionService) enterApproval(ctx context.Context, req *repository.Request, in TransitionRequest) (*TransitionResult, error) {
	ruleSet, err := s.rules.GetRules(ctx, req.OrganizationID)
	if err != nil {
		// Fail closed: without the registry no threshold can be checked.
		return nil, err
	}

	vendorApproved := false
	if req.PreferredQuoteID != nil {
		if q := req.QuoteByID(*req.PreferredQuoteID); q != nil {
			approved, err := s.vendors.IsApproved(ctx, q.VendorID)
			if err != nil {
				s.log.Warn().Err(err).
					Str("request_id", req.ID).
					Str("vendor_id", q.VendorID).
					Msg("transition: vendor lookup failed, treating vendor as unapproved")
			} else {
				vendorApproved = approved
			}
		}
	}

	tiers := make(map[string]int, 2)
	for _, approverID := range []*string{req.ApproverPrimaryID, req.ApproverSecondaryID} {
		if approverID == nil {
			continue
		}
		tier, err := s.authz.ApproverTier(ctx, *approverID)
		if err != nil {
			return nil, err
		}
		tiers[*approverID] = tier
	}

	overrides, err := s.overrides.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	res := s.gate.EvaluateSubmission(SubmissionInput{
		Request:                 req,
		Rules:                   ruleSet,
		PreferredVendorApproved: vendorApproved,
		ApproverTiers:           tiers,
		Overrides:               overrides,
	})
	if !res.OK() {
		return nil, &ValidationError{Failures: res.Failures}
	}

	requiresDual := res.Cardinality == CardinalityDual
	existing, err := s.approvals.GetState(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if _, err := s.approvals.CreateState(ctx, req.ID, requiresDual); err != nil {
			return nil, err
		}
	} else {
		// Re-entering approval after a revision cycle: start over with a
		// fresh state. The attempt history keeps the old selections.
		if err := s.approvals.ReplaceState(ctx, &repository.ApprovalState{
			RequestID:    req.ID,
			RequiresDual: requiresDual,
		}); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("cardinality", string(res.Cardinality)).
		Msg("transition: submission gate passed, entering approval")

	return s.commit(ctx, repository.TransitionCommit{
		RequestID:       req.ID,
		From:            req.Status,
		To:              workflow.StatusPendingApproval,
		ActorID:         in.ActorID,
		Notes:           in.Notes,
		ExpectedVersion: req.Version,
	}, "")
}

// enterOrdered guards APPROVED -> ORDERED with the order gate and, on success,
// renumbers PR- to PO- and stores the final price and delivery date in the
// same transaction.
func (s *TransitionService) enterOrdered(ctx context.Context, req *repository.Request, in TransitionRequest) (*TransitionResult, error) {
	ruleSet, err := s.rules.GetRules(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	finalPrice := in.Payload.FinalPrice
	if finalPrice == nil {
		finalPrice = req.FinalPrice
	}
	delivery := in.Payload.EstimatedDeliveryDate
	if delivery == nil {
		delivery = req.EstimatedDeliveryDate
	}

	evidence, err := s.gatherEvidence(ctx, req, ruleSet)
	if err != nil {
		return nil, err
	}

	overrides, err := s.overrides.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	res := s.gate.EvaluateOrder(OrderInput{
		Request:               req,
		Rules:                 ruleSet,
		Evidence:              evidence,
		FinalPrice:            finalPrice,
		EstimatedDeliveryDate: delivery,
		Overrides:             overrides,
	})
	if !res.OK() {
		return nil, &ValidationError{Failures: res.Failures}
	}

	commit := repository.TransitionCommit{
		RequestID:             req.ID,
		From:                  req.Status,
		To:                    workflow.StatusOrdered,
		ActorID:               in.ActorID,
		Notes:                 in.Notes,
		ExpectedVersion:       req.Version,
		FinalPrice:            finalPrice,
		EstimatedDeliveryDate: delivery,
	}
	if n, ok := strings.CutPrefix(req.Number, "PR-"); ok {
		poNumber := "PO-" + n
		commit.NewNumber = &poNumber
	}

	return s.commit(ctx, commit, "")
}

// gatherEvidence checks presence only for the kinds the thresholds actually
// require. Evidence store failures fail closed.
func (s *TransitionService) gatherEvidence(ctx context.Context, req *repository.Request, ruleSet rules.Set) (map[string]bool, error) {
	required := make([]string, 0, 3)
	if ceiling, ok := ruleSet.Get(rules.KindSingleApprovalCeiling); ok && req.Amount > ceiling.Threshold {
		required = append(required, EvidenceProforma, EvidenceProofOfPayment)
	}
	if floor, ok := ruleSet.PODocFloor(); ok && req.Amount > floor.Threshold {
		required = append(required, EvidencePODocument)
	}

	evidence := make(map[string]bool, len(required))
	for _, kind := range required {
		present, err := s.evidence.HasEvidence(ctx, req.ID, kind)
		if err != nil {
			return nil, err
		}
		evidence[kind] = present
	}
	return evidence, nil
}

// complete guards ORDERED -> COMPLETED: the satisfactory verdict is mandatory,
// and the vendor trust calculator runs before the commit. A vendor directory
// failure downgrades to a warning.
func (s *TransitionService) complete(ctx context.Context, req *repository.Request, in TransitionRequest) (*TransitionResult, error) {
	if in.Payload.Satisfactory == nil {
		return nil, errors.InvalidInput("satisfactory", "field is required when completing a request")
	}
	satisfactory := *in.Payload.Satisfactory
	if !satisfactory && in.Payload.OverrideDespiteIssues && in.Payload.Justification == "" {
		return nil, errors.InvalidInput("justification", "field is required when overriding an unsatisfactory delivery")
	}

	vendorID := s.winningVendorID(ctx, req)

	warning := s.calc.Apply(ctx, CompletionInput{
		RequestID:      req.ID,
		VendorID:       vendorID,
		UsedThreeQuote: len(req.Quotes) >= 3,
		Satisfactory:   satisfactory,
		Overridden:     in.Payload.OverrideDespiteIssues,
	}, in.Payload.Justification)

	notes := in.Notes
	if !satisfactory {
		issue := "delivery marked unsatisfactory"
		if in.Payload.OverrideDespiteIssues {
			issue += ", completed by override: " + in.Payload.Justification
		}
		if notes != nil {
			issue = *notes + "; " + issue
		}
		notes = &issue
	}

	return s.commit(ctx, repository.TransitionCommit{
		RequestID:       req.ID,
		From:            req.Status,
		To:              workflow.StatusCompleted,
		ActorID:         in.ActorID,
		Notes:           notes,
		ExpectedVersion: req.Version,
	}, warning)
}

// winningVendorID resolves the vendor that fulfilled the order: the resolved
// approval selection when present, else the preferred quote's vendor.
func (s *TransitionService) winningVendorID(ctx context.Context, req *repository.Request) string {
	quoteID := req.PreferredQuoteID
	state, err := s.approvals.GetState(ctx, req.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", req.ID).Msg("transition: approval state lookup failed")
	} else if state != nil && state.FirstSelectedQuoteID != nil {
		quoteID = state.FirstSelectedQuoteID
	}
	if quoteID == nil {
		return ""
	}
	if q := req.QuoteByID(*quoteID); q != nil {
		return q.VendorID
	}
	return ""
}

// authorize asks the authorization service and fails closed when it cannot
// answer.
func (s *TransitionService) authorize(ctx context.Context, actorID, action, requestID string) error {
	allowed, err := s.authz.CanPerform(ctx, actorID, action, requestID)
	if err != nil {
		return err
	}
	if !allowed {
		return errors.New(errors.ErrCodeUnauthorized,
			fmt.Sprintf("actor '%s' may not perform %s on this request", actorID, action))
	}
	return nil
}

// commit writes the transition atomically, then publishes and logs it.
func (s *TransitionService) commit(ctx context.Context, c repository.TransitionCommit, warning string) (*TransitionResult, error) {
	entry, err := s.requests.CommitTransition(ctx, c)
	if err != nil {
		return nil, err
	}

	note := ""
	if c.Notes != nil {
		note = *c.Notes
	}
	s.notifier.PublishStatusChange(ctx, c.RequestID, c.From, c.To, c.ActorID, note)

	s.log.Info().
		Str("request_id", c.RequestID).
		Str("from", c.From.String()).
		Str("to", c.To.String()).
		Str("actor_id", c.ActorID).
		Msg("transition: committed")

	return &TransitionResult{Status: c.To, HistoryEntry: entry, Warning: warning}, nil
}

// GetStatusHistory returns the ordered transition history.
func (s *TransitionService) GetStatusHistory(ctx context.Context, requestID string) ([]*repository.StatusHistoryEntry, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.requests.ListHistory(ctx, requestID)
}

func transitionAction(target workflow.Status) string {
	return "transition:" + strings.ToLower(string(target))
}
