package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clarofin/be-expense-claims/internal/apperrors"
	"github.com/clarofin/be-expense-claims/internal/database"
)

// ApprovalRepository handles approval records and the decision transitions
// that touch both an approval row and its claim.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `id, claim_id, approver_user_id, approval_status, comments, action_date, created_at`

// GetByID returns one approval record.
func (r *ApprovalRepository) GetByID(ctx context.Context, approvalID int64) (*ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + ` FROM expense_approvals WHERE id = $1`
	rec, err := r.scanRecord(r.db.QueryRow(ctx, query, approvalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval", formatID(approvalID))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get approval record")
	}
	return rec, nil
}

// ListPendingForApprover returns all Pending records assigned to a user,
// oldest first.
func (r *ApprovalRepository) ListPendingForApprover(ctx context.Context, approverUserID int64) ([]*ApprovalRecord, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM expense_approvals
		WHERE approver_user_id = $1 AND approval_status = 'Pending'
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, approverUserID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	var records []*ApprovalRecord
	for rows.Next() {
		rec := &ApprovalRecord{}
		err := rows.Scan(&rec.ID, &rec.ClaimID, &rec.ApproverUserID, &rec.Status,
			&rec.Comments, &rec.ActionDate, &rec.CreatedAt)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval record")
		}
		records = append(records, rec)
	}
	return records, nil
}

// ApproveAndAdvance marks a Pending record Approved and moves the claim
// forward in one transaction: either to the next step with a fresh Pending
// record, or to Approved when the policy is exhausted.
func (r *ApprovalRepository) ApproveAndAdvance(
	ctx context.Context,
	approvalID, claimID int64,
	comments *string,
	nextStepOrder int,
	nextApproverUserID *int64,
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := decideRecord(ctx, tx, approvalID, ApprovalApproved, comments); err != nil {
			return err
		}

		if nextApproverUserID != nil {
			query := `
				UPDATE claims
				SET current_approval_step = $2, updated_at = NOW()
				WHERE id = $1 AND status = 'Processing'
				RETURNING id
			`
			var id int64
			err := tx.QueryRow(ctx, query, claimID, nextStepOrder).Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.New(apperrors.ErrCodeConflict, "claim is not in Processing status")
			}
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to advance claim")
			}
			return insertPendingApproval(ctx, tx, claimID, *nextApproverUserID)
		}

		query := `
			UPDATE claims
			SET status = 'Approved', updated_at = NOW()
			WHERE id = $1 AND status = 'Processing'
			RETURNING id
		`
		var id int64
		err := tx.QueryRow(ctx, query, claimID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.New(apperrors.ErrCodeConflict, "claim is not in Processing status")
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to approve claim")
		}
		return nil
	})
}

// RejectClaim marks a Pending record Rejected and the claim with it, in one
// transaction.
func (r *ApprovalRepository) RejectClaim(ctx context.Context, approvalID, claimID int64, reason string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := decideRecord(ctx, tx, approvalID, ApprovalRejected, &reason); err != nil {
			return err
		}

		query := `
			UPDATE claims
			SET status = 'Rejected', updated_at = NOW()
			WHERE id = $1 AND status = 'Processing'
			RETURNING id
		`
		var id int64
		err := tx.QueryRow(ctx, query, claimID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.New(apperrors.ErrCodeConflict, "claim is not in Processing status")
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to reject claim")
		}
		return nil
	})
}

// decideRecord flips a Pending approval to its final status. The status
// guard in the WHERE clause makes double decisions a conflict, not a
// silent overwrite.
func decideRecord(ctx context.Context, tx pgx.Tx, approvalID int64, status ApprovalStatus, comments *string) error {
	query := `
		UPDATE expense_approvals
		SET approval_status = $2, comments = $3, action_date = NOW()
		WHERE id = $1 AND approval_status = 'Pending'
		RETURNING id
	`
	var id int64
	err := tx.QueryRow(ctx, query, approvalID, string(status), comments).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.New(apperrors.ErrCodeConflict, "approval is not pending")
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update approval record")
	}
	return nil
}

type recordScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRepository) scanRecord(row recordScanner) (*ApprovalRecord, error) {
	rec := &ApprovalRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.ClaimID,
		&rec.ApproverUserID,
		&rec.Status,
		&rec.Comments,
		&rec.ActionDate,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
