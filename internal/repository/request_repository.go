package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/procurehq/be-proc-requests/internal/database"
	"github.com/procurehq/be-proc-requests/internal/errors"
	"github.com/procurehq/be-proc-requests/internal/workflow"
)

// RequestRepository manages procurement requests and their status history.
// Status transitions are committed through CommitTransition only, which
// performs the status update and the history append in one transaction
// guarded by the request version.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, number, organization_id, amount, currency, status,
	preferred_quote_id, approver_primary_id, approver_secondary_id,
	final_price, estimated_delivery_date, version,
	created_at, updated_at
`

// GetByID retrieves a request with its quotes.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM procurement_requests
		WHERE id = $1
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get request")
	}

	quotes, err := r.getQuotes(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Quotes = quotes
	return req, nil
}

// CommitTransition applies a status transition atomically: it bumps the
// version, updates the status (and any optional fields), and appends one
// status history entry. A version mismatch means a concurrent writer won and
// surfaces as CONFLICT; nothing is partially applied.
func (r *RequestRepository) CommitTransition(ctx context.Context, commit TransitionCommit) (*StatusHistoryEntry, error) {
	entry := &StatusHistoryEntry{
		RequestID:  commit.RequestID,
		FromStatus: commit.From,
		ToStatus:   commit.To,
		ActorID:    commit.ActorID,
		Notes:      commit.Notes,
	}

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		updateQuery := `
			UPDATE procurement_requests
			SET status                  = $3,
			    number                  = COALESCE($4, number),
			    final_price             = COALESCE($5, final_price),
			    estimated_delivery_date = COALESCE($6, estimated_delivery_date),
			    version                 = version + 1,
			    updated_at              = NOW()
			WHERE id = $1 AND version = $2
			RETURNING id
		`

		var returnedID string
		err := tx.QueryRow(ctx, updateQuery,
			commit.RequestID,
			commit.ExpectedVersion,
			string(commit.To),
			commit.NewNumber,
			commit.FinalPrice,
			commit.EstimatedDeliveryDate,
		).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			return errors.New(errors.ErrCodeConflict,
				"request was modified concurrently; reload and retry")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update request status")
		}

		historyQuery := `
			INSERT INTO request_status_history
			    (request_id, from_status, to_status, actor_id, notes)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`

		err = tx.QueryRow(ctx, historyQuery,
			entry.RequestID,
			string(entry.FromStatus),
			string(entry.ToStatus),
			entry.ActorID,
			entry.Notes,
		).Scan(&entry.ID, &entry.CreatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to append status history")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListHistory returns the full status history oldest-first.
func (r *RequestRepository) ListHistory(ctx context.Context, requestID string) ([]*StatusHistoryEntry, error) {
	query := `
		SELECT id, request_id, from_status, to_status, actor_id, notes, created_at
		FROM request_status_history
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list status history")
	}
	defer rows.Close()

	var entries []*StatusHistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// LastHistoryEntry returns the most recent status history entry, or nil when
// the request has no history yet.
func (r *RequestRepository) LastHistoryEntry(ctx context.Context, requestID string) (*StatusHistoryEntry, error) {
	query := `
		SELECT id, request_id, from_status, to_status, actor_id, notes, created_at
		FROM request_status_history
		WHERE request_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	entry, err := scanHistoryEntry(r.db.QueryRow(ctx, query, requestID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

// LastActiveStatus returns the most recent active (non-terminal,
// non-rejected/canceled) status a request held, for the resurrection path.
func (r *RequestRepository) LastActiveStatus(ctx context.Context, requestID string) (workflow.Status, error) {
	query := `
		SELECT to_status
		FROM request_status_history
		WHERE request_id = $1
		  AND to_status NOT IN ('REJECTED', 'CANCELED', 'COMPLETED', 'REVISION_REQUIRED')
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var raw string
	err := r.db.QueryRow(ctx, query, requestID).Scan(&raw)
	if err == pgx.ErrNoRows {
		return workflow.StatusSubmitted, nil
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve last active status")
	}
	return workflow.Status(raw), nil
}

// ListPendingForApprover returns requests awaiting an approval action from the
// given approver within an organization.
func (r *RequestRepository) ListPendingForApprover(ctx context.Context, organizationID, approverID string) ([]*Request, error) {
	query := `
		SELECT ` + qualifiedRequestColumns("r") + `
		FROM procurement_requests r
		JOIN request_approval_state s ON s.request_id = r.id
		WHERE r.organization_id = $1
		  AND r.status = 'PENDING_APPROVAL'
		  AND ((r.approver_primary_id = $2 AND NOT s.first_complete)
		    OR (r.approver_secondary_id = $2 AND NOT s.second_complete))
		ORDER BY r.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, organizationID, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request")
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// ── quotes ────────────────────────────────────────────────────────────────────

func (r *RequestRepository) getQuotes(ctx context.Context, requestID string) ([]Quote, error) {
	query := `
		SELECT id, vendor_id, amount, currency, position
		FROM request_quotes
		WHERE request_id = $1
		ORDER BY position ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get quotes")
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		var q Quote
		if err := rows.Scan(&q.ID, &q.VendorID, &q.Amount, &q.Currency, &q.Position); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan quote")
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func qualifiedRequestColumns(alias string) string {
	return alias + `.id, ` + alias + `.number, ` + alias + `.organization_id, ` +
		alias + `.amount, ` + alias + `.currency, ` + alias + `.status, ` +
		alias + `.preferred_quote_id, ` + alias + `.approver_primary_id, ` +
		alias + `.approver_secondary_id, ` + alias + `.final_price, ` +
		alias + `.estimated_delivery_date, ` + alias + `.version, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *RequestRepository) scanRequest(row rowScanner) (*Request, error) {
	req := &Request{}
	var status string
	err := row.Scan(
		&req.ID,
		&req.Number,
		&req.OrganizationID,
		&req.Amount,
		&req.Currency,
		&status,
		&req.PreferredQuoteID,
		&req.ApproverPrimaryID,
		&req.ApproverSecondaryID,
		&req.FinalPrice,
		&req.EstimatedDeliveryDate,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = workflow.Status(status)
	return req, nil
}

func scanHistoryEntry(row rowScanner) (*StatusHistoryEntry, error) {
	entry := &StatusHistoryEntry{}
	var from, to string
	err := row.Scan(
		&entry.ID,
		&entry.RequestID,
		&from,
		&to,
		&entry.ActorID,
		&entry.Notes,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.FromStatus = workflow.Status(from)
	entry.ToStatus = workflow.Status(to)
	return entry, nil
}
