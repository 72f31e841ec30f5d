package service

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/clarofin/be-expense-claims/internal/apperrors"
	"github.com/clarofin/be-expense-claims/internal/logger"
	"github.com/clarofin/be-expense-claims/internal/repository"
)

// OrgUserStore is the persistence surface for company user management.
type OrgUserStore interface {
	FindByEmail(ctx context.Context, email string) (*repository.User, error)
	GetByID(ctx context.Context, userID, companyID int64) (*repository.User, error)
	Create(ctx context.Context, u *repository.User) error
	ListByCompany(ctx context.Context, companyID int64) ([]*repository.User, error)
	SetManager(ctx context.Context, userID, companyID int64, managerID *int64) error
}

// PolicyStore is the persistence surface for policy administration.
type PolicyStore interface {
	Create(ctx context.Context, policy *repository.ApprovalPolicy) error
	ListByCompany(ctx context.Context, companyID int64) ([]*repository.ApprovalPolicy, error)
}

// OrgService covers the admin surface: user accounts, the reporting
// hierarchy, and approval policies.
type OrgService struct {
	users    OrgUserStore
	policies PolicyStore
	log      *logger.Logger
}

// NewOrgService creates a new OrgService.
func NewOrgService(users OrgUserStore, policies PolicyStore, log *logger.Logger) *OrgService {
	return &OrgService{users: users, policies: policies, log: log}
}

// ── Users ────────────────────────────────────────────────────────────────────

// CreateUserRequest creates an employee, manager or admin account.
type CreateUserRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	ManagerID *int64 `json:"manager_id"`
}

// CreateUser adds a user to the admin's company. The manager, when given,
// must belong to the same company.
func (s *OrgService) CreateUser(ctx context.Context, companyID int64, req *CreateUserRequest) (*repository.User, error) {
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return nil, apperrors.InvalidInput("body", "name, email and password are required")
	}
	role := repository.Role(req.Role)
	switch role {
	case repository.RoleAdmin, repository.RoleManager, repository.RoleEmployee:
	default:
		return nil, apperrors.InvalidInput("role", "must be Admin, Manager or Employee")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "email already registered")
	}

	if req.ManagerID != nil {
		if _, err := s.users.GetByID(ctx, *req.ManagerID, companyID); err != nil {
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to hash password")
	}

	user := &repository.User{
		CompanyID:    companyID,
		Name:         req.Name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		ManagerID:    req.ManagerID,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("user_id", user.ID).
		Int64("company_id", companyID).
		Str("role", string(role)).
		Msg("User created")
	return user, nil
}

// ListUsers returns the company's users.
func (s *OrgService) ListUsers(ctx context.Context, companyID int64) ([]*repository.User, error) {
	return s.users.ListByCompany(ctx, companyID)
}

// SetManager reassigns a user's direct manager. Both users must belong to
// the company; a user cannot manage themselves.
func (s *OrgService) SetManager(ctx context.Context, companyID, userID int64, managerID *int64) error {
	if managerID != nil {
		if *managerID == userID {
			return apperrors.InvalidInput("manager_id", "a user cannot be their own manager")
		}
		if _, err := s.users.GetByID(ctx, *managerID, companyID); err != nil {
			return err
		}
	}
	return s.users.SetManager(ctx, userID, companyID, managerID)
}

// ── Policies ─────────────────────────────────────────────────────────────────

// PolicyStepRequest is one step definition in a create-policy request.
type PolicyStepRequest struct {
	SequenceOrder      int    `json:"sequence_order"`
	Kind               string `json:"approver_determination_type"`
	ApproverUserID     *int64 `json:"approver_user_id"`
	ManagerLevelOffset *int   `json:"manager_level_offset"`
}

// CreatePolicyRequest defines a policy and its ordered steps.
type CreatePolicyRequest struct {
	Name  string              `json:"name"`
	Steps []PolicyStepRequest `json:"steps"`
}

// CreatePolicy validates and stores an approval policy. Step kinds must be
// known and each kind's required field must be present, so a policy can
// never be written that the resolver would route nowhere on day one.
func (s *OrgService) CreatePolicy(ctx context.Context, companyID int64, req *CreatePolicyRequest) (*repository.ApprovalPolicy, error) {
	if req.Name == "" {
		return nil, apperrors.InvalidInput("name", "is required")
	}
	if len(req.Steps) == 0 {
		return nil, apperrors.InvalidInput("steps", "at least one step is required")
	}

	seen := make(map[int]bool, len(req.Steps))
	steps := make([]*repository.PolicyStep, 0, len(req.Steps))
	for _, sr := range req.Steps {
		if seen[sr.SequenceOrder] {
			return nil, apperrors.InvalidInput("steps", "sequence_order values must be unique")
		}
		seen[sr.SequenceOrder] = true

		kind := repository.ApproverRuleKind(sr.Kind)
		if !kind.Valid() {
			return nil, apperrors.InvalidInput("steps", "approver_determination_type must be SpecificUser, DirectManager or ManagerNUp")
		}
		switch kind {
		case repository.RuleSpecificUser:
			if sr.ApproverUserID == nil {
				return nil, apperrors.InvalidInput("steps", "SpecificUser steps require approver_user_id")
			}
			if _, err := s.users.GetByID(ctx, *sr.ApproverUserID, companyID); err != nil {
				return nil, err
			}
		case repository.RuleManagerNUp:
			if sr.ManagerLevelOffset == nil || *sr.ManagerLevelOffset < 1 {
				return nil, apperrors.InvalidInput("steps", "ManagerNUp steps require a positive manager_level_offset")
			}
		}

		steps = append(steps, &repository.PolicyStep{
			SequenceOrder:      sr.SequenceOrder,
			Kind:               kind,
			ApproverUserID:     sr.ApproverUserID,
			ManagerLevelOffset: sr.ManagerLevelOffset,
		})
	}

	policy := &repository.ApprovalPolicy{
		CompanyID: companyID,
		Name:      req.Name,
		Steps:     steps,
	}
	if err := s.policies.Create(ctx, policy); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("policy_id", policy.ID).
		Int64("company_id", companyID).
		Int("steps", len(steps)).
		Msg("Approval policy created")
	return policy, nil
}

// ListPolicies returns the company's policies with their steps.
func (s *OrgService) ListPolicies(ctx context.Context, companyID int64) ([]*repository.ApprovalPolicy, error) {
	return s.policies.ListByCompany(ctx, companyID)
}
