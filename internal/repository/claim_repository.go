package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clarofin/be-expense-claims/internal/apperrors"
	"github.com/clarofin/be-expense-claims/internal/database"
)

// ClaimRepository handles claim persistence. The two submission writers keep
// the status transition and the pending approval record in one transaction so
// a claim can never land in Processing without an approval row.
type ClaimRepository struct {
	db *database.DB
}

// NewClaimRepository creates a new ClaimRepository.
func NewClaimRepository(db *database.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

const claimColumns = `id, user_id, company_id, description, expense_date, category_id,
	       amount_cents, currency_code, receipt_url, policy_id,
	       current_approval_step, status, submitted_at, created_at, updated_at`

// SubmissionDetails are the final, validated fields written on submission.
type SubmissionDetails struct {
	Description  string
	ExpenseDate  time.Time
	CategoryID   int64
	AmountCents  int64
	CurrencyCode string
	ReceiptURL   *string
	PolicyID     int64
}

// DraftUpdate carries the fields a draft update may touch. Nil pointers are
// left untouched; SetNull lists fields to clear explicitly.
type DraftUpdate struct {
	Description  *string
	ExpenseDate  *time.Time
	CategoryID   *int64
	AmountCents  *int64
	CurrencyCode *string
	ReceiptURL   *string
	PolicyID     *int64
	SetNull      []string
}

// CreateDraft inserts a claim with Draft status. Partial data is allowed.
func (r *ClaimRepository) CreateDraft(ctx context.Context, c *Claim) error {
	query := `
		INSERT INTO claims (user_id, company_id, description, expense_date, category_id,
		                    amount_cents, currency_code, receipt_url, policy_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'Draft')
		RETURNING id, current_approval_step, status, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		c.UserID, c.CompanyID, c.Description, c.ExpenseDate, c.CategoryID,
		c.AmountCents, c.CurrencyCode, c.ReceiptURL, c.PolicyID,
	).Scan(&c.ID, &c.CurrentApprovalStep, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create draft claim")
	}
	return nil
}

// CreateAndSubmit inserts a claim directly in Processing status together with
// its first pending approval record, in one transaction.
func (r *ClaimRepository) CreateAndSubmit(ctx context.Context, c *Claim, approverUserID int64) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO claims (user_id, company_id, description, expense_date, category_id,
			                    amount_cents, currency_code, receipt_url, policy_id,
			                    current_approval_step, status, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'Processing', NOW())
			RETURNING id, status, submitted_at, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			c.UserID, c.CompanyID, c.Description, c.ExpenseDate, c.CategoryID,
			c.AmountCents, c.CurrencyCode, c.ReceiptURL, c.PolicyID,
			c.CurrentApprovalStep,
		).Scan(&c.ID, &c.Status, &c.SubmittedAt, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create claim")
		}
		return insertPendingApproval(ctx, tx, c.ID, approverUserID)
	})
}

// SubmitDraft transitions a Draft claim to Processing, writes the final
// details, and inserts the first pending approval record — all in one
// transaction. Returns a conflict error when the claim is no longer a draft.
func (r *ClaimRepository) SubmitDraft(
	ctx context.Context,
	claimID, userID int64,
	details SubmissionDetails,
	firstStepOrder int,
	approverUserID int64,
) (*Claim, error) {
	c := &Claim{}
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE claims
			SET description = $3, expense_date = $4, category_id = $5,
			    amount_cents = $6, currency_code = $7, receipt_url = $8, policy_id = $9,
			    current_approval_step = $10, status = 'Processing',
			    submitted_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND user_id = $2 AND status = 'Draft'
			RETURNING ` + claimColumns + `
		`
		err := r.scanClaim(tx.QueryRow(ctx, query,
			claimID, userID,
			details.Description, details.ExpenseDate, details.CategoryID,
			details.AmountCents, details.CurrencyCode, details.ReceiptURL, details.PolicyID,
			firstStepOrder,
		), c)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.New(apperrors.ErrCodeConflict, "claim is not a draft or does not exist")
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to submit draft claim")
		}
		return insertPendingApproval(ctx, tx, claimID, approverUserID)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// insertPendingApproval writes one Pending approval record. The partial
// unique index on (claim_id, approver_user_id) WHERE status = 'Pending'
// makes retries idempotent.
func insertPendingApproval(ctx context.Context, tx pgx.Tx, claimID, approverUserID int64) error {
	query := `
		INSERT INTO expense_approvals (claim_id, approver_user_id, approval_status, action_date)
		VALUES ($1, $2, 'Pending', NOW())
		ON CONFLICT DO NOTHING
	`
	if _, err := tx.Exec(ctx, query, claimID, approverUserID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create approval record")
	}
	return nil
}

// GetByIDAndUser returns a claim owned by the given user.
func (r *ClaimRepository) GetByIDAndUser(ctx context.Context, claimID, userID int64) (*Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = $1 AND user_id = $2`
	c := &Claim{}
	err := r.scanClaim(r.db.QueryRow(ctx, query, claimID, userID), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("claim", formatID(claimID))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get claim")
	}
	return c, nil
}

// GetByID returns a claim regardless of owner. Used by the approval flow.
func (r *ClaimRepository) GetByID(ctx context.Context, claimID int64) (*Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = $1`
	c := &Claim{}
	err := r.scanClaim(r.db.QueryRow(ctx, query, claimID), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("claim", formatID(claimID))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get claim")
	}
	return c, nil
}

// ListByUser returns all claims owned by a user, newest first.
func (r *ClaimRepository) ListByUser(ctx context.Context, userID int64) ([]*Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list claims")
	}
	defer rows.Close()

	var claims []*Claim
	for rows.Next() {
		c := &Claim{}
		if err := r.scanClaim(rows, c); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan claim")
		}
		claims = append(claims, c)
	}
	return claims, nil
}

// UpdateDraft applies a partial update to a draft claim. Returns the updated
// claim, or a conflict error when the claim is not a draft anymore.
func (r *ClaimRepository) UpdateDraft(ctx context.Context, claimID, userID int64, upd DraftUpdate) (*Claim, error) {
	set := []string{"updated_at = NOW()"}
	args := []any{claimID, userID}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.ExpenseDate != nil {
		add("expense_date", *upd.ExpenseDate)
	}
	if upd.CategoryID != nil {
		add("category_id", *upd.CategoryID)
	}
	if upd.AmountCents != nil {
		add("amount_cents", *upd.AmountCents)
	}
	if upd.CurrencyCode != nil {
		add("currency_code", *upd.CurrencyCode)
	}
	if upd.ReceiptURL != nil {
		add("receipt_url", *upd.ReceiptURL)
	}
	if upd.PolicyID != nil {
		add("policy_id", *upd.PolicyID)
	}
	for _, column := range upd.SetNull {
		if nullableClaimColumn(column) {
			set = append(set, fmt.Sprintf("%s = NULL", column))
		}
	}

	if len(set) == 1 {
		return nil, apperrors.InvalidInput("body", "no fields to update")
	}

	query := fmt.Sprintf(`
		UPDATE claims
		SET %s
		WHERE id = $1 AND user_id = $2 AND status = 'Draft'
		RETURNING %s
	`, strings.Join(set, ", "), claimColumns)

	c := &Claim{}
	err := r.scanClaim(r.db.QueryRow(ctx, query, args...), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "claim is not a draft or does not exist")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update draft claim")
	}
	return c, nil
}

func nullableClaimColumn(name string) bool {
	switch name {
	case "description", "expense_date", "category_id", "amount_cents",
		"currency_code", "receipt_url", "policy_id":
		return true
	}
	return false
}

type claimScanner interface {
	Scan(dest ...any) error
}

func (r *ClaimRepository) scanClaim(row claimScanner, c *Claim) error {
	return row.Scan(
		&c.ID,
		&c.UserID,
		&c.CompanyID,
		&c.Description,
		&c.ExpenseDate,
		&c.CategoryID,
		&c.AmountCents,
		&c.CurrencyCode,
		&c.ReceiptURL,
		&c.PolicyID,
		&c.CurrentApprovalStep,
		&c.Status,
		&c.SubmittedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
}
