package repository

import (
	"context"
	"encoding/json"

	"github.com/clarofin/be-expense-claims/internal/apperrors"
	"github.com/clarofin/be-expense-claims/internal/database"
)

// AuditRepository appends immutable claim audit entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes one audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *ClaimAuditEntry) error {
	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO claim_audit_log (claim_id, actor_id, action, status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, performed_at
	`
	err := r.db.QueryRow(ctx, query,
		entry.ClaimID, entry.ActorID, entry.Action,
		entry.StatusBefore, entry.StatusAfter, metadata,
	).Scan(&entry.ID, &entry.PerformedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// GetByClaimID returns the audit trail for one claim, oldest first.
func (r *AuditRepository) GetByClaimID(ctx context.Context, claimID int64) ([]*ClaimAuditEntry, error) {
	query := `
		SELECT id, claim_id, actor_id, action, status_before, status_after, metadata, performed_at
		FROM claim_audit_log
		WHERE claim_id = $1
		ORDER BY performed_at ASC
	`
	rows, err := r.db.Query(ctx, query, claimID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get audit trail")
	}
	defer rows.Close()

	var entries []*ClaimAuditEntry
	for rows.Next() {
		e := &ClaimAuditEntry{}
		var metadata []byte
		err := rows.Scan(&e.ID, &e.ClaimID, &e.ActorID, &e.Action,
			&e.StatusBefore, &e.StatusAfter, &metadata, &e.PerformedAt)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan audit entry")
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
