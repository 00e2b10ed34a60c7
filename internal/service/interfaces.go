package service

import (
	"context"
	"time"

	"github.com/procurehq/be-proc-requests/internal/repository"
	"github.com/procurehq/be-proc-requests/internal/rules"
	"github.com/procurehq/be-proc-requests/internal/workflow"
)

// The services depend on narrow interfaces so tests can substitute in-memory
// fakes; the concrete implementations live in internal/repository and
// internal/client.

// RequestStore persists procurement requests and their status history.
type RequestStore interface {
	GetByID(ctx context.Context, id string) (*repository.Request, error)
	CommitTransition(ctx context.Context, commit repository.TransitionCommit) (*repository.StatusHistoryEntry, error)
	ListHistory(ctx context.Context, requestID string) ([]*repository.StatusHistoryEntry, error)
	LastHistoryEntry(ctx context.Context, requestID string) (*repository.StatusHistoryEntry, error)
	LastActiveStatus(ctx context.Context, requestID string) (workflow.Status, error)
	ListPendingForApprover(ctx context.Context, organizationID, approverID string) ([]*repository.Request, error)
}

// ApprovalStore persists the approval sub-entity and its attempt history.
type ApprovalStore interface {
	GetState(ctx context.Context, requestID string) (*repository.ApprovalState, error)
	CreateState(ctx context.Context, requestID string, requiresDual bool) (*repository.ApprovalState, error)
	ReplaceState(ctx context.Context, state *repository.ApprovalState) error
	AppendHistory(ctx context.Context, entry *repository.ApprovalHistoryEntry) error
	ListHistory(ctx context.Context, requestID string) ([]*repository.ApprovalHistoryEntry, error)
}

// OverrideStore persists the override ledger.
type OverrideStore interface {
	Upsert(ctx context.Context, o *repository.Override) error
	ListByRequest(ctx context.Context, requestID string) (map[repository.OverrideKind]*repository.Override, error)
	Clear(ctx context.Context, requestID string, kind repository.OverrideKind) error
}

// RuleSource supplies the organization rule registry.
type RuleSource interface {
	GetRules(ctx context.Context, organizationID string) (rules.Set, error)
}

// Authorizer answers capability questions; the engine never re-derives role
// arithmetic itself.
type Authorizer interface {
	CanPerform(ctx context.Context, actorID, action, requestID string) (bool, error)
	ApproverTier(ctx context.Context, approverID string) (int, error)
}

// EvidenceSource reports document presence.
type EvidenceSource interface {
	HasEvidence(ctx context.Context, requestID, kind string) (bool, error)
}

// VendorDirectory reads and mutates vendor trust approval.
type VendorDirectory interface {
	IsApproved(ctx context.Context, vendorID string) (bool, error)
	SetApproval(ctx context.Context, vendorID string, approved bool, expiry time.Time, reason, justification string) error
}

// Notifier delivers workflow events. Fire-and-forget: implementations never
// return errors to callers.
type Notifier interface {
	PublishStatusChange(ctx context.Context, requestID string, from, to workflow.Status, actorID, note string)
	PublishApprovalEvent(ctx context.Context, eventType, requestID, actorID string, payload map[string]any)
}
