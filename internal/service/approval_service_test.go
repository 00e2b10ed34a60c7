package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurehq/be-proc-requests/internal/errors"
	"github.com/procurehq/be-proc-requests/internal/repository"
	"github.com/procurehq/be-proc-requests/internal/workflow"
)

func pendingRequest() *repository.Request {
	return &repository.Request{
		ID:                  "req-1",
		Number:              "PR-001",
		OrganizationID:      "org-1",
		Amount:              300_000,
		Currency:            "EUR",
		Status:              workflow.StatusPendingApproval,
		ApproverPrimaryID:   strptr("alice"),
		ApproverSecondaryID: strptr("bob"),
		Version:             3,
		Quotes: []repository.Quote{
			{ID: "q1", VendorID: "v1", Amount: 1_000, Position: 0},
			{ID: "q2", VendorID: "v2", Amount: 1_500, Position: 1},
			{ID: "q3", VendorID: "v3", Amount: 2_000, Position: 2},
		},
	}
}

func approvalEnv(t *testing.T, requiresDual bool) *testEnv {
	t.Helper()
	env := newTestEnv(pendingRequest())
	_, err := env.approvals.CreateState(context.Background(), "req-1", requiresDual)
	require.NoError(t, err)
	return env
}

func TestRecordApproval_SingleResolves(t *testing.T) {
	env := approvalEnv(t, false)
	ctx := context.Background()

	result, err := env.approval.RecordApproval(ctx, ApprovalRequest{
		RequestID: "req-1", ApproverID: "alice", QuoteID: "q1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, result.Outcome)
	require.NotNil(t, result.Transition)
	assert.Equal(t, workflow.StatusApproved, result.Transition.Status)

	req, _ := env.requests.GetByID(ctx, "req-1")
	assert.Equal(t, workflow.StatusApproved, req.Status)
	assert.Equal(t, 4, req.Version)

	history, _ := env.approvals.ListHistory(ctx, "req-1")
	require.Len(t, history, 1)
	assert.Equal(t, "alice", history[0].ApproverID)
	assert.True(t, history[0].Approved)
}

func TestRecordApproval_NonLowestQuoteNeedsJustification(t *testing.T) {
	env := approvalEnv(t, false)
	ctx := context.Background()

	_, err := env.approval.RecordApproval(ctx, ApprovalRequest{
		RequestID: "req-1", ApproverID: "alice", QuoteID: "q2",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.Code(err))

	result, err := env.approval.RecordApproval(ctx, ApprovalRequest{
		RequestID: "req-1", ApproverID: "alice", QuoteID: "q2",
		Justification: "preferred vendor has shorter lead time",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, result.Outcome)
}

func TestRecordApproval_DualFlow(t *testing.T) {
	env := approvalEnv(t, true)
	ctx := context.Background()

	t.Run("justification is mandatory in dual mode", func(t *testing.T) {
		_, err := env.approval.RecordApproval(ctx, ApprovalRequest{
			RequestID: "req-1", ApproverID: "alice", QuoteID: "q1",
		})
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeValidationFailed, errors.Code(err))
	})

	t.Run("first approval leaves the request pending", func(t *testing.T) {
		result, err := env.approval.RecordApproval(ctx, ApprovalRequest{
			RequestID: "req-1", ApproverID: "alice", QuoteID: "q1", Justification: "lowest bid",
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, result.Outcome)
		assert.Nil(t, result.Transition)

		req, _ := env.requests.GetByID(ctx, "req-1")
		assert.Equal(t, workflow.StatusPendingApproval, req.Status)
	})

	t.Run("matching second approval resolves", func(t *testing.T) {
		result, err := env.approval.RecordApproval(ctx, ApprovalRequest{
			RequestID: "req-1", ApproverID: "bob", QuoteID: "q1", Justification: "agree",
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeResolved, result.Outcome)
		assert.False(t, result.State.Conflict)

		req, _ := env.requests.GetByID(ctx, "req-1")
		assert.Equal(t, workflow.StatusApproved, req.Status)
	})
}

func TestRecordApproval_DualIsCommutative(t *testing.T) {
	env := approvalEnv(t, true)
	ctx := context.Background()

	// Secondary first, primary second: same outcome.
	result, err := env.approval.RecordApproval(ctx, ApprovalRequest{
		RequestID: "req-1", ApproverID: "bob", QuoteID: "q1", Justification: "lowest bid",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, result.Outcome)

	result, err = env.approval.RecordApproval(ctx, ApprovalRequest{
		RequestID: "req-1", ApproverID: "alice", QuoteID: "q1", Justification: "agree",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, result.Outcome)
}

func TestRecordApproval_ConflictAndResolution(t *testing.T) {
	env := approvalEnv(t, true)
	ctx := context.Background()

	_, err := env.approval.RecordApproval(ctx, ApprovalRequest{
		RequestID: "req-1", ApproverID: "alice", QuoteID: "q1", Justification: "lowest bid",
	})
	require.NoError(t, err)

	result, err := env.approval.RecordApproval(ctx, ApprovalRequest{
		RequestID: "req-1", ApproverID: "bob", QuoteID: "q2", Justification: "better terms",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, result.Outcome)
	assert.True(t, result.State.Conflict)
	assert.Contains(t, env.notifier.events, "quote_conflict")

	// The request stays pending through the conflict.
	req, _ := env.requests.GetByID(ctx, "req-1")
	assert.Equal(t, workflow.StatusPendingApproval, req.Status)

	// One approver changes their selection; the conflict resolves.
	result, err = env.approval.RecordApproval(ctx, ApprovalRequest{
		RequestID: "req-1", ApproverID: "alice", QuoteID: "q2", Justification: "conceding to better terms",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, result.Outcome)
	assert.False(t, result.State.Conflict)
	assert.Contains(t, env.notifier.events, "conflict_resolved")

	req, _ = env.requests.GetByID(ctx, "req-1")
	assert.Equal(t, workflow.StatusApproved, req.Status)

	// Every attempt landed in the history.
	history, _ := env.approvals.ListHistory(ctx, "req-1")
	assert.Len(t, history, 3)
}

func TestRecordApproval_RepeatedSelectionIsIdempotent(t *testing.T) {
	env := approvalEnv(t, true)
	ctx := context.Background()

	_, err := env.approval.RecordApproval(ctx, ApprovalRequest{
		RequestID: "req-1", ApproverID: "alice", QuoteID: "q1", Justification: "lowest bid",
	})
	require.NoError(t, err)
	_, err = env.approval.RecordApproval(ctx, ApprovalRequest{
		RequestID: "req-1", ApproverID: "bob", QuoteID: "q2", Justification: "better terms",
	})
	require.NoError(t, err)

	before, err := env.approvals.GetState(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, before.Conflict)

	// Alice re-submits the exact same selection: the conflict stands, the
	// state is untouched, and only the history grows.
	result, err := env.approval.RecordApproval(ctx, ApprovalRequest{
		RequestID: "req-1", ApproverID: "alice", QuoteID: "q1", Justification: "lowest bid",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, result.Outcome)

	after, err := env.approvals.GetState(ctx, "req-1")
	require.NoError(t, err)
	after.UpdatedAt = before.UpdatedAt
	assert.Equal(t, before, after)

	req, _ := env.requests.GetByID(ctx, "req-1")
	assert.Equal(t, workflow.StatusPendingApproval, req.Status)

	history, _ := env.approvals.ListHistory(ctx, "req-1")
	assert.Len(t, history, 3)
}

func TestRecordApproval_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("unassigned approver is rejected", func(t *testing.T) {
		env := approvalEnv(t, false)
		_, err := env.approval.RecordApproval(ctx, ApprovalRequest{
			RequestID: "req-1", ApproverID: "mallory", QuoteID: "q1",
		})
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeUnauthorized, errors.Code(err))
	})

	t.Run("unknown quote is rejected", func(t *testing.T) {
		env := approvalEnv(t, false)
		_, err := env.approval.RecordApproval(ctx, ApprovalRequest{
			RequestID: "req-1", ApproverID: "alice", QuoteID: "q9",
		})
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))
	})

	t.Run("only PENDING_APPROVAL accepts approvals", func(t *testing.T) {
		req := pendingRequest()
		req.Status = workflow.StatusInQueue
		env := newTestEnv(req)
		_, err := env.approval.RecordApproval(ctx, ApprovalRequest{
			RequestID: "req-1", ApproverID: "alice", QuoteID: "q1",
		})
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeInvalidTransition, errors.Code(err))
	})
}

func TestResetApprovalState(t *testing.T) {
	ctx := context.Background()

	t.Run("wipes selections and keeps history", func(t *testing.T) {
		env := approvalEnv(t, true)
		_, err := env.approval.RecordApproval(ctx, ApprovalRequest{
			RequestID: "req-1", ApproverID: "alice", QuoteID: "q1", Justification: "lowest bid",
		})
		require.NoError(t, err)

		result, err := env.approval.ResetApprovalState(ctx, "req-1", "admin", "approver reassignment")
		require.NoError(t, err)
		assert.False(t, result.State.FirstComplete)
		assert.Nil(t, result.State.FirstSelectedQuoteID)
		assert.True(t, result.State.RequiresDual)

		history, _ := env.approvals.ListHistory(ctx, "req-1")
		assert.Len(t, history, 2) // the approval plus the reset marker
	})

	t.Run("re-opens an approved request", func(t *testing.T) {
		env := approvalEnv(t, false)
		_, err := env.approval.RecordApproval(ctx, ApprovalRequest{
			RequestID: "req-1", ApproverID: "alice", QuoteID: "q1",
		})
		require.NoError(t, err)

		result, err := env.approval.ResetApprovalState(ctx, "req-1", "admin", "wrong quote approved")
		require.NoError(t, err)
		require.NotNil(t, result.Transition)
		assert.Equal(t, workflow.StatusPendingApproval, result.Transition.Status)

		req, _ := env.requests.GetByID(ctx, "req-1")
		assert.Equal(t, workflow.StatusPendingApproval, req.Status)
	})

	t.Run("requires the reset capability", func(t *testing.T) {
		env := approvalEnv(t, false)
		env.authz.denied["approval:reset"] = true
		_, err := env.approval.ResetApprovalState(ctx, "req-1", "admin", "testing")
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeUnauthorized, errors.Code(err))
	})

	t.Run("requires a reason", func(t *testing.T) {
		env := approvalEnv(t, false)
		_, err := env.approval.ResetApprovalState(ctx, "req-1", "admin", "")
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))
	})
}
