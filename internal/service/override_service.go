package service

import (
	"context"
	"fmt"

	"github.com/procurehq/be-proc-requests/internal/errors"
	"github.com/procurehq/be-proc-requests/internal/logger"
	"github.com/procurehq/be-proc-requests/internal/repository"
)

// OverrideService maintains the override ledger: justified, attributed
// bypasses of overridable validation failures. At most one override per
// (request, kind); re-creation replaces the earlier record.
type OverrideService struct {
	requests  RequestStore
	overrides OverrideStore
	authz     Authorizer
	notifier  Notifier
	locker    *RequestLocker
	log       *logger.Logger
}

// NewOverrideService wires the override ledger.
func NewOverrideService(
	requests RequestStore,
	overrides OverrideStore,
	authz Authorizer,
	notifier Notifier,
	locker *RequestLocker,
	log *logger.Logger,
) *OverrideService {
	return &OverrideService{
		requests:  requests,
		overrides: overrides,
		authz:     authz,
		notifier:  notifier,
		locker:    locker,
		log:       log,
	}
}

// CreateOverride records an override. The justification is mandatory and the
// actor needs the override capability for the kind.
func (s *OverrideService) CreateOverride(ctx context.Context, requestID string, kind repository.OverrideKind, actorID, justification string) (*repository.Override, error) {
	if !kind.IsValid() {
		return nil, errors.InvalidInput("kind", fmt.Sprintf("unknown override kind '%s'", kind))
	}
	if justification == "" {
		return nil, errors.InvalidInput("justification", "field is required")
	}
	if actorID == "" {
		return nil, errors.InvalidInput("actorId", "field is required")
	}

	unlock := s.locker.Lock(requestID)
	defer unlock()

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("overrides cannot be recorded on a %s request", req.Status))
	}

	allowed, err := s.authz.CanPerform(ctx, actorID, "override:"+string(kind), requestID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errors.New(errors.ErrCodeUnauthorized,
			fmt.Sprintf("actor '%s' may not override %s", actorID, kind))
	}

	o := &repository.Override{
		RequestID:     requestID,
		Kind:          kind,
		Justification: justification,
		ByActorID:     actorID,
	}
	if err := s.overrides.Upsert(ctx, o); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", requestID).
		Str("kind", string(kind)).
		Str("actor_id", actorID).
		Msg("override: recorded")

	s.notifier.PublishApprovalEvent(ctx, "override_created", requestID, actorID, map[string]any{
		"kind": string(kind),
	})

	return o, nil
}

// ClearOverride removes an override. Clearing an absent override is a no-op.
func (s *OverrideService) ClearOverride(ctx context.Context, requestID string, kind repository.OverrideKind, actorID string) error {
	if !kind.IsValid() {
		return errors.InvalidInput("kind", fmt.Sprintf("unknown override kind '%s'", kind))
	}

	unlock := s.locker.Lock(requestID)
	defer unlock()

	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return err
	}

	allowed, err := s.authz.CanPerform(ctx, actorID, "override:"+string(kind), requestID)
	if err != nil {
		return err
	}
	if !allowed {
		return errors.New(errors.ErrCodeUnauthorized,
			fmt.Sprintf("actor '%s' may not clear %s overrides", actorID, kind))
	}

	if err := s.overrides.Clear(ctx, requestID, kind); err != nil {
		return err
	}

	s.log.Info().
		Str("request_id", requestID).
		Str("kind", string(kind)).
		Str("actor_id", actorID).
		Msg("override: cleared")
	return nil
}

// ListOverrides returns the overrides recorded on a request.
func (s *OverrideService) ListOverrides(ctx context.Context, requestID string) (map[repository.OverrideKind]*repository.Override, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.overrides.ListByRequest(ctx, requestID)
}
