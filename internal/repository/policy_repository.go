package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clarofin/be-expense-claims/internal/apperrors"
	"github.com/clarofin/be-expense-claims/internal/database"
)

// PolicyRepository manages approval policies and their ordered steps.
// Policy + step creation is always done together in a single transaction.
type PolicyRepository struct {
	db *database.DB
}

// NewPolicyRepository creates a new PolicyRepository.
func NewPolicyRepository(db *database.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// Create inserts a policy and its steps in one transaction.
func (r *PolicyRepository) Create(ctx context.Context, policy *ApprovalPolicy) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		policyQuery := `
			INSERT INTO approval_policies (company_id, name)
			VALUES ($1, $2)
			RETURNING id, created_at
		`
		err := tx.QueryRow(ctx, policyQuery, policy.CompanyID, policy.Name).
			Scan(&policy.ID, &policy.CreatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create approval policy")
		}

		stepQuery := `
			INSERT INTO approval_policy_steps
			    (policy_id, sequence_order, approver_determination_type,
			     approver_user_id, manager_level_offset)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`
		for _, step := range policy.Steps {
			step.PolicyID = policy.ID
			err := tx.QueryRow(ctx, stepQuery,
				step.PolicyID,
				step.SequenceOrder,
				string(step.Kind),
				step.ApproverUserID,
				step.ManagerLevelOffset,
			).Scan(&step.ID)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create policy step")
			}
		}
		return nil
	})
}

// GetByID returns a policy with its steps ordered by sequence.
func (r *PolicyRepository) GetByID(ctx context.Context, policyID, companyID int64) (*ApprovalPolicy, error) {
	policyQuery := `
		SELECT id, company_id, name, created_at
		FROM approval_policies
		WHERE id = $1 AND company_id = $2
	`
	p := &ApprovalPolicy{}
	err := r.db.QueryRow(ctx, policyQuery, policyID, companyID).
		Scan(&p.ID, &p.CompanyID, &p.Name, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval_policy", formatID(policyID))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get approval policy")
	}

	steps, err := r.stepsForPolicy(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Steps = steps
	return p, nil
}

// ListByCompany returns all policies for a company, steps included.
func (r *PolicyRepository) ListByCompany(ctx context.Context, companyID int64) ([]*ApprovalPolicy, error) {
	query := `
		SELECT id, company_id, name, created_at
		FROM approval_policies
		WHERE company_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list approval policies")
	}
	defer rows.Close()

	var policies []*ApprovalPolicy
	for rows.Next() {
		p := &ApprovalPolicy{}
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &p.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval policy")
		}
		policies = append(policies, p)
	}
	for _, p := range policies {
		steps, err := r.stepsForPolicy(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Steps = steps
	}
	return policies, nil
}

// GetStep returns the step at sequence_order within a policy, or nil when no
// such step exists. Absence is a terminal routing signal, not an error, so
// this deliberately does not map ErrNoRows to a not-found error.
func (r *PolicyRepository) GetStep(ctx context.Context, policyID int64, sequenceOrder int) (*PolicyStep, error) {
	query := `
		SELECT id, policy_id, sequence_order, approver_determination_type,
		       approver_user_id, manager_level_offset
		FROM approval_policy_steps
		WHERE policy_id = $1 AND sequence_order = $2
	`
	s := &PolicyStep{}
	err := r.db.QueryRow(ctx, query, policyID, sequenceOrder).Scan(
		&s.ID,
		&s.PolicyID,
		&s.SequenceOrder,
		&s.Kind,
		&s.ApproverUserID,
		&s.ManagerLevelOffset,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get policy step")
	}
	return s, nil
}

// FirstStepOrder returns the lowest sequence_order defined for a policy.
// Policies are usually indexed from 1 but nothing requires it; defaults to 1
// when the policy has no steps at all.
func (r *PolicyRepository) FirstStepOrder(ctx context.Context, policyID int64) (int, error) {
	query := `
		SELECT COALESCE(MIN(sequence_order), 1)
		FROM approval_policy_steps
		WHERE policy_id = $1
	`
	var order int
	if err := r.db.QueryRow(ctx, query, policyID).Scan(&order); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get first step order")
	}
	return order, nil
}

// stepsForPolicy loads a policy's steps ordered by sequence.
func (r *PolicyRepository) stepsForPolicy(ctx context.Context, policyID int64) ([]*PolicyStep, error) {
	query := `
		SELECT id, policy_id, sequence_order, approver_determination_type,
		       approver_user_id, manager_level_offset
		FROM approval_policy_steps
		WHERE policy_id = $1
		ORDER BY sequence_order ASC
	`
	rows, err := r.db.Query(ctx, query, policyID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get policy steps")
	}
	defer rows.Close()

	var steps []*PolicyStep
	for rows.Next() {
		s := &PolicyStep{}
		err := rows.Scan(
			&s.ID,
			&s.PolicyID,
			&s.SequenceOrder,
			&s.Kind,
			&s.ApproverUserID,
			&s.ManagerLevelOffset,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan policy step")
		}
		steps = append(steps, s)
	}
	return steps, nil
}
