package service

import (
	"context"
	"strings"
	"time"

	"github.com/clarofin/be-expense-claims/internal/apperrors"
	"github.com/clarofin/be-expense-claims/internal/logger"
	"github.com/clarofin/be-expense-claims/internal/repository"
)

// ClaimStore is the claim persistence surface the lifecycle manager needs.
type ClaimStore interface {
	CreateDraft(ctx context.Context, c *repository.Claim) error
	CreateAndSubmit(ctx context.Context, c *repository.Claim, approverUserID int64) error
	SubmitDraft(ctx context.Context, claimID, userID int64, details repository.SubmissionDetails, firstStepOrder int, approverUserID int64) (*repository.Claim, error)
	GetByIDAndUser(ctx context.Context, claimID, userID int64) (*repository.Claim, error)
	GetByID(ctx context.Context, claimID int64) (*repository.Claim, error)
	ListByUser(ctx context.Context, userID int64) ([]*repository.Claim, error)
	UpdateDraft(ctx context.Context, claimID, userID int64, upd repository.DraftUpdate) (*repository.Claim, error)
}

// ApprovalStore is the approval-record surface used by the decision flow.
type ApprovalStore interface {
	GetByID(ctx context.Context, approvalID int64) (*repository.ApprovalRecord, error)
	ListPendingForApprover(ctx context.Context, approverUserID int64) ([]*repository.ApprovalRecord, error)
	ApproveAndAdvance(ctx context.Context, approvalID, claimID int64, comments *string, nextStepOrder int, nextApproverUserID *int64) error
	RejectClaim(ctx context.Context, approvalID, claimID int64, reason string) error
}

// PolicyMetaStore answers where a policy starts.
type PolicyMetaStore interface {
	FirstStepOrder(ctx context.Context, policyID int64) (int, error)
}

// AuditStore persists claim audit entries. Append failures are logged, never
// propagated.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.ClaimAuditEntry) error
	GetByClaimID(ctx context.Context, claimID int64) ([]*repository.ClaimAuditEntry, error)
}

// EventPublisher delivers lifecycle events to the notification channel.
// Implementations must be non-fatal.
type EventPublisher interface {
	PublishClaimEvent(ctx context.Context, eventType string, claimID, actorID int64, recipients []int64, payload map[string]any)
}

// ClaimService owns the claim lifecycle: draft CRUD, the submission
// transition, and approval decisions. Routing resolution always happens
// before any write, so a failed resolution leaves nothing behind.
type ClaimService struct {
	claims    ClaimStore
	approvals ApprovalStore
	policies  PolicyMetaStore
	routing   *RoutingService
	audit     AuditStore
	events    EventPublisher
	log       *logger.Logger
}

// NewClaimService creates a new ClaimService. audit and events may be nil.
func NewClaimService(
	claims ClaimStore,
	approvals ApprovalStore,
	policies PolicyMetaStore,
	routing *RoutingService,
	audit AuditStore,
	events EventPublisher,
	log *logger.Logger,
) *ClaimService {
	return &ClaimService{
		claims:    claims,
		approvals: approvals,
		policies:  policies,
		routing:   routing,
		audit:     audit,
		events:    events,
		log:       log,
	}
}

// ── Requests ─────────────────────────────────────────────────────────────────

// DraftClaimRequest carries the optional fields of a draft. Dates use
// YYYY-MM-DD.
type DraftClaimRequest struct {
	Description  *string `json:"description"`
	ExpenseDate  *string `json:"expense_date"`
	CategoryID   *int64  `json:"category_id"`
	AmountCents  *int64  `json:"amount_cents"`
	CurrencyCode *string `json:"currency_code"`
	ReceiptURL   *string `json:"receipt_url"`
	PolicyID     *int64  `json:"policy_id"`
}

// SubmitClaimRequest carries the fields required for submission.
type SubmitClaimRequest struct {
	Description  string  `json:"description"`
	ExpenseDate  string  `json:"expense_date"`
	CategoryID   int64   `json:"category_id"`
	AmountCents  int64   `json:"amount_cents"`
	CurrencyCode string  `json:"currency_code"`
	ReceiptURL   *string `json:"receipt_url"`
	PolicyID     int64   `json:"policy_id"`
}

const expenseDateLayout = "2006-01-02"

// validate checks the submission fields and normalizes them into details.
// It runs before any persistence.
func (req *SubmitClaimRequest) validate() (repository.SubmissionDetails, error) {
	var details repository.SubmissionDetails

	if strings.TrimSpace(req.Description) == "" {
		return details, apperrors.InvalidInput("description", "is required")
	}
	if req.ExpenseDate == "" {
		return details, apperrors.InvalidInput("expense_date", "is required")
	}
	expenseDate, err := time.Parse(expenseDateLayout, req.ExpenseDate)
	if err != nil {
		return details, apperrors.InvalidInput("expense_date", "must be a valid date in YYYY-MM-DD format")
	}
	if req.CategoryID <= 0 {
		return details, apperrors.InvalidInput("category_id", "is required")
	}
	if req.AmountCents <= 0 {
		return details, apperrors.InvalidInput("amount_cents", "must be a positive amount")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.CurrencyCode))
	if len(currency) != 3 {
		return details, apperrors.InvalidInput("currency_code", "must be a 3-letter code, e.g. USD")
	}
	if req.PolicyID <= 0 {
		return details, apperrors.InvalidInput("policy_id", "is required")
	}

	details = repository.SubmissionDetails{
		Description:  strings.TrimSpace(req.Description),
		ExpenseDate:  expenseDate,
		CategoryID:   req.CategoryID,
		AmountCents:  req.AmountCents,
		CurrencyCode: currency,
		ReceiptURL:   req.ReceiptURL,
		PolicyID:     req.PolicyID,
	}
	return details, nil
}

// ── Draft operations ─────────────────────────────────────────────────────────

// CreateDraft stores a claim with Draft status. Partial data is fine; nothing
// is validated beyond date syntax because drafts are not routed.
func (s *ClaimService) CreateDraft(ctx context.Context, userID, companyID int64, req *DraftClaimRequest) (*repository.Claim, error) {
	expenseDate, err := parseOptionalDate(req.ExpenseDate)
	if err != nil {
		return nil, err
	}

	claim := &repository.Claim{
		UserID:       userID,
		CompanyID:    companyID,
		Description:  req.Description,
		ExpenseDate:  expenseDate,
		CategoryID:   req.CategoryID,
		AmountCents:  req.AmountCents,
		CurrencyCode: normalizeOptionalCurrency(req.CurrencyCode),
		ReceiptURL:   req.ReceiptURL,
		PolicyID:     req.PolicyID,
	}
	if err := s.claims.CreateDraft(ctx, claim); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("claim_id", claim.ID).
		Int64("user_id", userID).
		Msg("Draft claim created")
	return claim, nil
}

// UpdateDraft applies a partial update to an owned draft.
func (s *ClaimService) UpdateDraft(ctx context.Context, claimID, userID int64, req *DraftClaimRequest) (*repository.Claim, error) {
	claim, err := s.claims.GetByIDAndUser(ctx, claimID, userID)
	if err != nil {
		return nil, err
	}
	if claim.Status != repository.ClaimDraft {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "only Draft claims can be updated")
	}

	expenseDate, err := parseOptionalDate(req.ExpenseDate)
	if err != nil {
		return nil, err
	}

	return s.claims.UpdateDraft(ctx, claimID, userID, repository.DraftUpdate{
		Description:  req.Description,
		ExpenseDate:  expenseDate,
		CategoryID:   req.CategoryID,
		AmountCents:  req.AmountCents,
		CurrencyCode: normalizeOptionalCurrency(req.CurrencyCode),
		ReceiptURL:   req.ReceiptURL,
		PolicyID:     req.PolicyID,
	})
}

// GetClaim returns an owned claim.
func (s *ClaimService) GetClaim(ctx context.Context, claimID, userID int64) (*repository.Claim, error) {
	return s.claims.GetByIDAndUser(ctx, claimID, userID)
}

// ListUserClaims returns all of a user's claims, newest first.
func (s *ClaimService) ListUserClaims(ctx context.Context, userID int64) ([]*repository.Claim, error) {
	return s.claims.ListByUser(ctx, userID)
}

// AuditTrail returns the audit log for an owned claim, oldest first.
func (s *ClaimService) AuditTrail(ctx context.Context, claimID, userID int64) ([]*repository.ClaimAuditEntry, error) {
	if _, err := s.claims.GetByIDAndUser(ctx, claimID, userID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []*repository.ClaimAuditEntry{}, nil
	}
	return s.audit.GetByClaimID(ctx, claimID)
}

// ── Submission ───────────────────────────────────────────────────────────────

// CreateAndSubmit creates a claim directly in Processing, skipping the draft
// phase. The first approver is resolved before anything is written; a failed
// resolution persists nothing.
func (s *ClaimService) CreateAndSubmit(ctx context.Context, userID, companyID int64, req *SubmitClaimRequest) (*repository.Claim, error) {
	details, err := req.validate()
	if err != nil {
		return nil, err
	}

	firstStep, approverID, err := s.resolveFirstApprover(ctx, details.PolicyID, userID)
	if err != nil {
		return nil, err
	}

	claim := &repository.Claim{
		UserID:              userID,
		CompanyID:           companyID,
		Description:         &details.Description,
		ExpenseDate:         &details.ExpenseDate,
		CategoryID:          &details.CategoryID,
		AmountCents:         &details.AmountCents,
		CurrencyCode:        &details.CurrencyCode,
		ReceiptURL:          details.ReceiptURL,
		PolicyID:            &details.PolicyID,
		CurrentApprovalStep: firstStep,
	}
	if err := s.claims.CreateAndSubmit(ctx, claim, approverID); err != nil {
		return nil, err
	}

	s.afterSubmission(ctx, claim, userID, approverID)
	return claim, nil
}

// SubmitDraft submits an existing draft with its final details.
func (s *ClaimService) SubmitDraft(ctx context.Context, claimID, userID int64, req *SubmitClaimRequest) (*repository.Claim, error) {
	details, err := req.validate()
	if err != nil {
		return nil, err
	}

	claim, err := s.claims.GetByIDAndUser(ctx, claimID, userID)
	if err != nil {
		return nil, err
	}
	if claim.Status != repository.ClaimDraft {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "only Draft claims can be submitted")
	}

	firstStep, approverID, err := s.resolveFirstApprover(ctx, details.PolicyID, userID)
	if err != nil {
		return nil, err
	}

	submitted, err := s.claims.SubmitDraft(ctx, claimID, userID, details, firstStep, approverID)
	if err != nil {
		return nil, err
	}

	s.afterSubmission(ctx, submitted, userID, approverID)
	return submitted, nil
}

// resolveFirstApprover finds the policy's first step and runs the routing
// engine against it. A not-found result blocks the submission.
func (s *ClaimService) resolveFirstApprover(ctx context.Context, policyID, employeeID int64) (firstStep int, approverID int64, err error) {
	firstStep, err = s.policies.FirstStepOrder(ctx, policyID)
	if err != nil {
		return 0, 0, err
	}

	approverID, found, err := s.routing.ResolveNextApprover(ctx, &policyID, firstStep, employeeID)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		s.log.Warn().
			Int64("policy_id", policyID).
			Int64("employee_id", employeeID).
			Int("step", firstStep).
			Msg("No approver found for submission; check policy steps and manager assignments")
		return 0, 0, apperrors.New(apperrors.ErrCodeRoutingFailed,
			"could not determine an approver for this claim; check the approval policy configuration and user hierarchy")
	}
	return firstStep, approverID, nil
}

func (s *ClaimService) afterSubmission(ctx context.Context, claim *repository.Claim, userID, approverID int64) {
	s.log.Info().
		Int64("claim_id", claim.ID).
		Int64("user_id", userID).
		Int64("approver_id", approverID).
		Msg("Claim submitted and pending approval")

	draft := string(repository.ClaimDraft)
	processing := string(repository.ClaimProcessing)
	s.appendAudit(ctx, &repository.ClaimAuditEntry{
		ClaimID:      claim.ID,
		ActorID:      userID,
		Action:       "submitted",
		StatusBefore: &draft,
		StatusAfter:  &processing,
		Metadata:     map[string]any{"approver_user_id": approverID},
	})

	s.publish(ctx, "claim_submitted", claim.ID, userID, []int64{userID}, nil)
	s.publish(ctx, "approval_required", claim.ID, userID, []int64{approverID}, map[string]any{
		"step": claim.CurrentApprovalStep,
	})
}

// ── Approval decisions ───────────────────────────────────────────────────────

// PendingApprovals lists the Pending records assigned to a user.
func (s *ClaimService) PendingApprovals(ctx context.Context, approverUserID int64) ([]*repository.ApprovalRecord, error) {
	return s.approvals.ListPendingForApprover(ctx, approverUserID)
}

// Approve records an approval decision. When the policy has a further step
// the engine is re-invoked for the next approver and a fresh Pending record
// is created; otherwise the claim completes as Approved. Returns whether the
// claim is now fully approved.
func (s *ClaimService) Approve(ctx context.Context, approvalID, actorID int64, comments *string) (claimComplete bool, err error) {
	_, claim, err := s.actionableRecord(ctx, approvalID, actorID)
	if err != nil {
		return false, err
	}

	nextStep := claim.CurrentApprovalStep + 1
	nextApproverID, found, err := s.routing.ResolveNextApprover(ctx, claim.PolicyID, nextStep, claim.UserID)
	if err != nil {
		return false, err
	}

	processing := string(repository.ClaimProcessing)
	if found {
		if err := s.approvals.ApproveAndAdvance(ctx, approvalID, claim.ID, comments, nextStep, &nextApproverID); err != nil {
			return false, err
		}
		s.appendAudit(ctx, &repository.ClaimAuditEntry{
			ClaimID:      claim.ID,
			ActorID:      actorID,
			Action:       "approved",
			StatusBefore: &processing,
			StatusAfter:  &processing,
			Metadata:     map[string]any{"step": claim.CurrentApprovalStep, "next_approver_user_id": nextApproverID},
		})
		s.publish(ctx, "approval_required", claim.ID, actorID, []int64{nextApproverID}, map[string]any{
			"step": nextStep,
		})
		return false, nil
	}

	// No further step: the claim is fully approved.
	if err := s.approvals.ApproveAndAdvance(ctx, approvalID, claim.ID, comments, 0, nil); err != nil {
		return false, err
	}
	approved := string(repository.ClaimApproved)
	s.appendAudit(ctx, &repository.ClaimAuditEntry{
		ClaimID:      claim.ID,
		ActorID:      actorID,
		Action:       "approved",
		StatusBefore: &processing,
		StatusAfter:  &approved,
		Metadata:     map[string]any{"step": claim.CurrentApprovalStep},
	})
	s.publish(ctx, "claim_approved", claim.ID, actorID, []int64{claim.UserID}, nil)
	return true, nil
}

// Reject records a rejection. The reason is required and ends the claim.
func (s *ClaimService) Reject(ctx context.Context, approvalID, actorID int64, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return apperrors.InvalidInput("reason", "rejection reason is required")
	}

	_, claim, err := s.actionableRecord(ctx, approvalID, actorID)
	if err != nil {
		return err
	}

	if err := s.approvals.RejectClaim(ctx, approvalID, claim.ID, reason); err != nil {
		return err
	}

	processing := string(repository.ClaimProcessing)
	rejected := string(repository.ClaimRejected)
	s.appendAudit(ctx, &repository.ClaimAuditEntry{
		ClaimID:      claim.ID,
		ActorID:      actorID,
		Action:       "rejected",
		StatusBefore: &processing,
		StatusAfter:  &rejected,
		Metadata:     map[string]any{"reason": reason, "step": claim.CurrentApprovalStep},
	})
	s.publish(ctx, "claim_rejected", claim.ID, actorID, []int64{claim.UserID}, map[string]any{
		"reason": reason,
	})
	return nil
}

// actionableRecord loads an approval record and its claim and checks the
// actor may decide it.
func (s *ClaimService) actionableRecord(ctx context.Context, approvalID, actorID int64) (*repository.ApprovalRecord, *repository.Claim, error) {
	record, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, nil, err
	}
	if record.ApproverUserID != actorID {
		return nil, nil, apperrors.New(apperrors.ErrCodeForbidden, "user is not the assigned approver for this record")
	}
	if record.Status != repository.ApprovalPending {
		return nil, nil, apperrors.New(apperrors.ErrCodeConflict, "approval is not pending")
	}

	claim, err := s.claims.GetByID(ctx, record.ClaimID)
	if err != nil {
		return nil, nil, err
	}
	if claim.Status != repository.ClaimProcessing {
		return nil, nil, apperrors.New(apperrors.ErrCodeConflict, "claim is not in Processing status")
	}
	return record, claim, nil
}

// ── Internal helpers ─────────────────────────────────────────────────────────

// appendAudit writes an audit entry, warn-logging on failure.
func (s *ClaimService) appendAudit(ctx context.Context, entry *repository.ClaimAuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Int64("claim_id", entry.ClaimID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

func (s *ClaimService) publish(ctx context.Context, eventType string, claimID, actorID int64, recipients []int64, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.PublishClaimEvent(ctx, eventType, claimID, actorID, recipients, payload)
}

func parseOptionalDate(value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := time.Parse(expenseDateLayout, *value)
	if err != nil {
		return nil, apperrors.InvalidInput("expense_date", "must be a valid date in YYYY-MM-DD format")
	}
	return &t, nil
}

func normalizeOptionalCurrency(value *string) *string {
	if value == nil {
		return nil
	}
	normalized := strings.ToUpper(strings.TrimSpace(*value))
	return &normalized
}
