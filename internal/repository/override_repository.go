package repository

import (
	"context"

	"github.com/procurehq/be-proc-requests/internal/database"
	"github.com/procurehq/be-proc-requests/internal/errors"
)

// OverrideRepository persists the override ledger. One record per
// (request, kind); re-creating a kind replaces the record, and an evidence
// upload clears the kind it was bypassing.
type OverrideRepository struct {
	db *database.DB
}

// NewOverrideRepository creates a new OverrideRepository.
func NewOverrideRepository(db *database.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// Upsert inserts or replaces the override for a kind.
func (r *OverrideRepository) Upsert(ctx context.Context, o *Override) error {
	query := `
		INSERT INTO request_overrides (request_id, kind, justification, by_actor_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_id, kind) DO UPDATE
		SET justification = EXCLUDED.justification,
		    by_actor_id   = EXCLUDED.by_actor_id,
		    created_at    = NOW()
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		o.RequestID,
		string(o.Kind),
		o.Justification,
		o.ByActorID,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert override")
	}
	return nil
}

// ListByRequest returns all overrides for a request keyed by kind.
func (r *OverrideRepository) ListByRequest(ctx context.Context, requestID string) (map[OverrideKind]*Override, error) {
	query := `
		SELECT id, request_id, kind, justification, by_actor_id, created_at
		FROM request_overrides
		WHERE request_id = $1
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list overrides")
	}
	defer rows.Close()

	overrides := make(map[OverrideKind]*Override)
	for rows.Next() {
		o := &Override{}
		var kind string
		err := rows.Scan(&o.ID, &o.RequestID, &kind, &o.Justification, &o.ByActorID, &o.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan override")
		}
		o.Kind = OverrideKind(kind)
		overrides[o.Kind] = o
	}
	return overrides, nil
}

// Clear removes the override for a kind; called when the evidence it bypassed
// is uploaded. Clearing an absent kind is a no-op.
func (r *OverrideRepository) Clear(ctx context.Context, requestID string, kind OverrideKind) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM request_overrides WHERE request_id = $1 AND kind = $2`,
		requestID, string(kind))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear override")
	}
	return nil
}
