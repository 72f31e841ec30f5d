package service

import (
	"context"

	"github.com/clarofin/be-expense-claims/internal/apperrors"
	"github.com/clarofin/be-expense-claims/internal/logger"
	"github.com/clarofin/be-expense-claims/internal/repository"
)

// PolicyStepStore supplies policy step rules. A (nil, nil) return means the
// step does not exist, which is a terminal routing signal rather than an
// error.
type PolicyStepStore interface {
	GetStep(ctx context.Context, policyID int64, sequenceOrder int) (*repository.PolicyStep, error)
}

// OrgHierarchyStore supplies direct-manager links. A (nil, nil) return means
// the user has no manager.
type OrgHierarchyStore interface {
	GetManagerOf(ctx context.Context, userID int64) (*int64, error)
}

// ErrChainTooDeep is returned when a ManagerNUp offset exceeds the configured
// walk bound. The bound exists so a cyclic or corrupt hierarchy can never
// stall a request.
var ErrChainTooDeep = apperrors.New(apperrors.ErrCodeConflict, "manager chain walk exceeds configured depth limit")

// RoutingService resolves which user must approve a claim's current policy
// step. It is a pure read: for fixed policy and hierarchy data the result is
// deterministic and repeated calls are safe.
type RoutingService struct {
	policies      PolicyStepStore
	hierarchy     OrgHierarchyStore
	maxChainDepth int
	log           *logger.Logger
}

// NewRoutingService creates a new RoutingService. maxChainDepth bounds
// ManagerNUp walks; values below 1 are raised to 1.
func NewRoutingService(policies PolicyStepStore, hierarchy OrgHierarchyStore, maxChainDepth int, log *logger.Logger) *RoutingService {
	if maxChainDepth < 1 {
		maxChainDepth = 1
	}
	return &RoutingService{
		policies:      policies,
		hierarchy:     hierarchy,
		maxChainDepth: maxChainDepth,
		log:           log,
	}
}

// ResolveNextApprover returns the approver for the given policy step and
// employee. found=false means no approver exists: nil policy, missing step,
// broken manager chain, or an unrecognized rule kind. Only store I/O failures
// produce an error.
func (s *RoutingService) ResolveNextApprover(
	ctx context.Context,
	policyID *int64,
	currentStepOrder int,
	employeeID int64,
) (approverID int64, found bool, err error) {
	if policyID == nil {
		return 0, false, nil
	}

	step, err := s.policies.GetStep(ctx, *policyID, currentStepOrder)
	if err != nil {
		return 0, false, err
	}
	if step == nil {
		// End of the policy, or a misconfigured one.
		return 0, false, nil
	}

	switch step.Kind {
	case repository.RuleSpecificUser:
		// The stored id is returned verbatim; validity is the policy
		// store's responsibility at write time.
		if step.ApproverUserID == nil {
			return 0, false, nil
		}
		return *step.ApproverUserID, true, nil

	case repository.RuleDirectManager:
		managerID, err := s.hierarchy.GetManagerOf(ctx, employeeID)
		if err != nil {
			return 0, false, err
		}
		if managerID == nil {
			return 0, false, nil
		}
		return *managerID, true, nil

	case repository.RuleManagerNUp:
		if step.ManagerLevelOffset == nil || *step.ManagerLevelOffset < 1 {
			return 0, false, nil
		}
		return s.walkManagerChain(ctx, employeeID, *step.ManagerLevelOffset)

	default:
		s.log.Warn().
			Int64("policy_id", *policyID).
			Int("sequence_order", currentStepOrder).
			Str("kind", string(step.Kind)).
			Msg("Unrecognized approver determination type; routing to no one")
		return 0, false, nil
	}
}

// walkManagerChain follows manager links exactly offset hops up from
// employeeID. A missing manager before the final hop means no approver; there
// is no partial credit.
func (s *RoutingService) walkManagerChain(ctx context.Context, employeeID int64, offset int) (int64, bool, error) {
	if offset > s.maxChainDepth {
		return 0, false, ErrChainTooDeep
	}

	current := employeeID
	for i := 0; i < offset; i++ {
		managerID, err := s.hierarchy.GetManagerOf(ctx, current)
		if err != nil {
			return 0, false, err
		}
		if managerID == nil {
			return 0, false, nil
		}
		current = *managerID
	}
	return current, true, nil
}
