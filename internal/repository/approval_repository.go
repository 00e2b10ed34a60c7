package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/procurehq/be-proc-requests/internal/database"
	"github.com/procurehq/be-proc-requests/internal/errors"
)

// ApprovalRepository persists the approval sub-entity and its append-only
// attempt history. The state row is replaced wholesale on every write so the
// coordinator's copy-on-write semantics survive persistence.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// GetState returns the approval state for a request, or nil when the request
// has not entered approval yet.
func (r *ApprovalRepository) GetState(ctx context.Context, requestID string) (*ApprovalState, error) {
	query := `
		SELECT request_id, requires_dual,
		       first_complete, second_complete,
		       first_selected_quote_id, second_selected_quote_id,
		       first_justification, second_justification,
		       conflict, created_at, updated_at
		FROM request_approval_state
		WHERE request_id = $1
	`

	state, err := scanApprovalState(r.db.QueryRow(ctx, query, requestID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval state")
	}
	return state, nil
}

// CreateState inserts an empty approval state on entry to PENDING_APPROVAL.
// Creating over an existing row is a conflict; an existing state is wiped via
// ReplaceState with a fresh value.
func (r *ApprovalRepository) CreateState(ctx context.Context, requestID string, requiresDual bool) (*ApprovalState, error) {
	query := `
		INSERT INTO request_approval_state (request_id, requires_dual)
		VALUES ($1, $2)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING request_id, requires_dual,
		          first_complete, second_complete,
		          first_selected_quote_id, second_selected_quote_id,
		          first_justification, second_justification,
		          conflict, created_at, updated_at
	`

	state, err := scanApprovalState(r.db.QueryRow(ctx, query, requestID, requiresDual))
	if err == pgx.ErrNoRows {
		return nil, errors.New(errors.ErrCodeConflict, "approval state already exists for request")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval state")
	}
	return state, nil
}

// ReplaceState overwrites the full approval state row.
func (r *ApprovalRepository) ReplaceState(ctx context.Context, state *ApprovalState) error {
	query := `
		UPDATE request_approval_state
		SET requires_dual            = $2,
		    first_complete           = $3,
		    second_complete          = $4,
		    first_selected_quote_id  = $5,
		    second_selected_quote_id = $6,
		    first_justification      = $7,
		    second_justification     = $8,
		    conflict                 = $9,
		    updated_at               = NOW()
		WHERE request_id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		state.RequestID,
		state.RequiresDual,
		state.FirstComplete,
		state.SecondComplete,
		state.FirstSelectedQuoteID,
		state.SecondSelectedQuoteID,
		state.FirstJustification,
		state.SecondJustification,
		state.Conflict,
	).Scan(&state.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_state", state.RequestID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to replace approval state")
	}
	return nil
}

// AppendHistory records one approval attempt. Every coordinator call appends
// exactly one entry regardless of outcome.
func (r *ApprovalRepository) AppendHistory(ctx context.Context, entry *ApprovalHistoryEntry) error {
	query := `
		INSERT INTO request_approval_history
		    (request_id, approver_id, approved, quote_id, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.RequestID,
		entry.ApproverID,
		entry.Approved,
		entry.QuoteID,
		entry.Notes,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval history")
	}
	return nil
}

// ListHistory returns all approval attempts oldest-first.
func (r *ApprovalRepository) ListHistory(ctx context.Context, requestID string) ([]*ApprovalHistoryEntry, error) {
	query := `
		SELECT id, request_id, approver_id, approved, quote_id, notes, created_at
		FROM request_approval_history
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval history")
	}
	defer rows.Close()

	var entries []*ApprovalHistoryEntry
	for rows.Next() {
		entry := &ApprovalHistoryEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.ApproverID,
			&entry.Approved,
			&entry.QuoteID,
			&entry.Notes,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval history entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func scanApprovalState(row rowScanner) (*ApprovalState, error) {
	state := &ApprovalState{}
	err := row.Scan(
		&state.RequestID,
		&state.RequiresDual,
		&state.FirstComplete,
		&state.SecondComplete,
		&state.FirstSelectedQuoteID,
		&state.SecondSelectedQuoteID,
		&state.FirstJustification,
		&state.SecondJustification,
		&state.Conflict,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return state, nil
}
