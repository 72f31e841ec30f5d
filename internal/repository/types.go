package repository

import "time"

// ── Claim lifecycle ──────────────────────────────────────────────────────────

// ClaimStatus is the lifecycle state of a claim.
type ClaimStatus string

const (
	ClaimDraft      ClaimStatus = "Draft"
	ClaimProcessing ClaimStatus = "Processing"
	ClaimApproved   ClaimStatus = "Approved"
	ClaimRejected   ClaimStatus = "Rejected"
)

// ApprovalStatus is the state of one approval record.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "Pending"
	ApprovalApproved ApprovalStatus = "Approved"
	ApprovalRejected ApprovalStatus = "Rejected"
)

// ── Approver rules ───────────────────────────────────────────────────────────

// ApproverRuleKind says how a policy step picks its approver. The resolver
// switches on this exhaustively; values outside the three constants route
// nowhere.
type ApproverRuleKind string

const (
	RuleSpecificUser  ApproverRuleKind = "SpecificUser"
	RuleDirectManager ApproverRuleKind = "DirectManager"
	RuleManagerNUp    ApproverRuleKind = "ManagerNUp"
)

// Valid reports whether k is one of the known rule kinds.
func (k ApproverRuleKind) Valid() bool {
	switch k {
	case RuleSpecificUser, RuleDirectManager, RuleManagerNUp:
		return true
	}
	return false
}

// ── Users and companies ──────────────────────────────────────────────────────

// Role is a user's role within their company.
type Role string

const (
	RoleAdmin    Role = "Admin"
	RoleManager  Role = "Manager"
	RoleEmployee Role = "Employee"
)

// Company is a tenant. Every user, policy and claim is scoped to one.
type Company struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	DefaultCurrencyCode string    `json:"default_currency_code"`
	CreatedAt           time.Time `json:"created_at"`
}

// User is an account. ManagerID forms the reporting hierarchy; roots have
// a nil manager.
type User struct {
	ID           int64     `json:"id"`
	CompanyID    int64     `json:"company_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	ManagerID    *int64    `json:"manager_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExpenseCategory classifies claims.
type ExpenseCategory struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`
}

// ── Policies ─────────────────────────────────────────────────────────────────

// ApprovalPolicy is an ordered list of steps a claim must pass through.
type ApprovalPolicy struct {
	ID        int64         `json:"id"`
	CompanyID int64         `json:"company_id"`
	Name      string        `json:"name"`
	Steps     []*PolicyStep `json:"steps,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// PolicyStep is one rule in a policy. ApproverUserID is set only for
// SpecificUser, ManagerLevelOffset only for ManagerNUp.
type PolicyStep struct {
	ID                 int64            `json:"id"`
	PolicyID           int64            `json:"policy_id"`
	SequenceOrder      int              `json:"sequence_order"`
	Kind               ApproverRuleKind `json:"approver_determination_type"`
	ApproverUserID     *int64           `json:"approver_user_id,omitempty"`
	ManagerLevelOffset *int             `json:"manager_level_offset,omitempty"`
}

// ── Claims ───────────────────────────────────────────────────────────────────

// Claim is an expense claim. Fields other than ownership are nullable while
// the claim is a draft.
type Claim struct {
	ID                  int64       `json:"id"`
	UserID              int64       `json:"user_id"`
	CompanyID           int64       `json:"company_id"`
	Description         *string     `json:"description,omitempty"`
	ExpenseDate         *time.Time  `json:"expense_date,omitempty"`
	CategoryID          *int64      `json:"category_id,omitempty"`
	AmountCents         *int64      `json:"amount_cents,omitempty"`
	CurrencyCode        *string     `json:"currency_code,omitempty"`
	ReceiptURL          *string     `json:"receipt_url,omitempty"`
	PolicyID            *int64      `json:"policy_id,omitempty"`
	CurrentApprovalStep int         `json:"current_approval_step"`
	Status              ClaimStatus `json:"status"`
	SubmittedAt         *time.Time  `json:"submitted_at,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// ApprovalRecord is one pending/decided approval tied to a claim and an
// approver. At most one Pending record exists per claim and approver; the
// schema enforces it with a partial unique index.
type ApprovalRecord struct {
	ID             int64          `json:"id"`
	ClaimID        int64          `json:"claim_id"`
	ApproverUserID int64          `json:"approver_user_id"`
	Status         ApprovalStatus `json:"approval_status"`
	Comments       *string        `json:"comments,omitempty"`
	ActionDate     time.Time      `json:"action_date"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ClaimAuditEntry is one immutable row in the claim audit log.
type ClaimAuditEntry struct {
	ID           int64          `json:"id"`
	ClaimID      int64          `json:"claim_id"`
	ActorID      int64          `json:"actor_id"`
	Action       string         `json:"action"` // submitted | approved | rejected
	StatusBefore *string        `json:"status_before,omitempty"`
	StatusAfter  *string        `json:"status_after,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	PerformedAt  time.Time      `json:"performed_at"`
}
