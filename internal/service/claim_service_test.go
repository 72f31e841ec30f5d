package service

import (
	"context"
	"errors"
	"testing"

	"github.com/clarofin/be-expense-claims/internal/apperrors"
	"github.com/clarofin/be-expense-claims/internal/logger"
	"github.com/clarofin/be-expense-claims/internal/repository"
)

type fakeClaimStore struct {
	claims map[int64]*repository.Claim
	nextID int64

	createAndSubmitCalls int
	submitDraftCalls     int
	lastApproverID       int64
	lastFirstStep        int
}

func newFakeClaimStore() *fakeClaimStore {
	return &fakeClaimStore{claims: map[int64]*repository.Claim{}, nextID: 100}
}

func (f *fakeClaimStore) add(c *repository.Claim) *repository.Claim {
	f.nextID++
	c.ID = f.nextID
	f.claims[c.ID] = c
	return c
}

func (f *fakeClaimStore) CreateDraft(_ context.Context, c *repository.Claim) error {
	c.Status = repository.ClaimDraft
	f.add(c)
	return nil
}

func (f *fakeClaimStore) CreateAndSubmit(_ context.Context, c *repository.Claim, approverUserID int64) error {
	f.createAndSubmitCalls++
	f.lastApproverID = approverUserID
	c.Status = repository.ClaimProcessing
	f.add(c)
	return nil
}

func (f *fakeClaimStore) SubmitDraft(_ context.Context, claimID, userID int64, details repository.SubmissionDetails, firstStepOrder int, approverUserID int64) (*repository.Claim, error) {
	f.submitDraftCalls++
	f.lastApproverID = approverUserID
	f.lastFirstStep = firstStepOrder
	claim, ok := f.claims[claimID]
	if !ok || claim.UserID != userID {
		return nil, apperrors.NotFound("claim", "?")
	}
	claim.Status = repository.ClaimProcessing
	claim.CurrentApprovalStep = firstStepOrder
	claim.Description = &details.Description
	claim.PolicyID = &details.PolicyID
	return claim, nil
}

func (f *fakeClaimStore) GetByIDAndUser(_ context.Context, claimID, userID int64) (*repository.Claim, error) {
	claim, ok := f.claims[claimID]
	if !ok || claim.UserID != userID {
		return nil, apperrors.NotFound("claim", "?")
	}
	return claim, nil
}

func (f *fakeClaimStore) GetByID(_ context.Context, claimID int64) (*repository.Claim, error) {
	claim, ok := f.claims[claimID]
	if !ok {
		return nil, apperrors.NotFound("claim", "?")
	}
	return claim, nil
}

func (f *fakeClaimStore) ListByUser(_ context.Context, userID int64) ([]*repository.Claim, error) {
	var out []*repository.Claim
	for _, c := range f.claims {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeClaimStore) UpdateDraft(_ context.Context, claimID, userID int64, upd repository.DraftUpdate) (*repository.Claim, error) {
	claim, err := f.GetByIDAndUser(context.Background(), claimID, userID)
	if err != nil {
		return nil, err
	}
	if upd.Description != nil {
		claim.Description = upd.Description
	}
	return claim, nil
}

type fakeApprovalStore struct {
	records map[int64]*repository.ApprovalRecord

	advanceCalls     int
	lastNextStep     int
	lastNextApprover *int64
	rejectCalls      int
	lastReason       string
}

func (f *fakeApprovalStore) GetByID(_ context.Context, approvalID int64) (*repository.ApprovalRecord, error) {
	record, ok := f.records[approvalID]
	if !ok {
		return nil, apperrors.NotFound("approval", "?")
	}
	return record, nil
}

func (f *fakeApprovalStore) ListPendingForApprover(_ context.Context, approverUserID int64) ([]*repository.ApprovalRecord, error) {
	var out []*repository.ApprovalRecord
	for _, r := range f.records {
		if r.ApproverUserID == approverUserID && r.Status == repository.ApprovalPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeApprovalStore) ApproveAndAdvance(_ context.Context, approvalID, claimID int64, _ *string, nextStepOrder int, nextApproverUserID *int64) error {
	f.advanceCalls++
	f.lastNextStep = nextStepOrder
	f.lastNextApprover = nextApproverUserID
	f.records[approvalID].Status = repository.ApprovalApproved
	return nil
}

func (f *fakeApprovalStore) RejectClaim(_ context.Context, approvalID, claimID int64, reason string) error {
	f.rejectCalls++
	f.lastReason = reason
	f.records[approvalID].Status = repository.ApprovalRejected
	return nil
}

type fakePolicyMeta struct {
	firstStep int
}

func (f *fakePolicyMeta) FirstStepOrder(_ context.Context, policyID int64) (int, error) {
	return f.firstStep, nil
}

type fakeAudit struct {
	entries []*repository.ClaimAuditEntry
}

func (f *fakeAudit) Append(_ context.Context, entry *repository.ClaimAuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) GetByClaimID(_ context.Context, claimID int64) ([]*repository.ClaimAuditEntry, error) {
	var out []*repository.ClaimAuditEntry
	for _, e := range f.entries {
		if e.ClaimID == claimID {
			out = append(out, e)
		}
	}
	return out, nil
}

type publishedEvent struct {
	eventType  string
	recipients []int64
}

type fakeEvents struct {
	events []publishedEvent
}

func (f *fakeEvents) PublishClaimEvent(_ context.Context, eventType string, _, _ int64, recipients []int64, _ map[string]any) {
	f.events = append(f.events, publishedEvent{eventType: eventType, recipients: recipients})
}

func (f *fakeEvents) types() []string {
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.eventType
	}
	return out
}

// claimFixture wires a ClaimService over fakes. The policy (id 1) has a
// single DirectManager step; employee 10 reports to 20.
type claimFixture struct {
	svc       *ClaimService
	claims    *fakeClaimStore
	approvals *fakeApprovalStore
	policies  *fakePolicySteps
	hierarchy *fakeHierarchy
	audit     *fakeAudit
	events    *fakeEvents
}

func newClaimFixture() *claimFixture {
	f := &claimFixture{
		claims: newFakeClaimStore(),
		approvals: &fakeApprovalStore{
			records: map[int64]*repository.ApprovalRecord{},
		},
		policies: &fakePolicySteps{steps: map[stepKey]*repository.PolicyStep{
			{policyID: 1, order: 1}: {Kind: repository.RuleDirectManager},
		}},
		hierarchy: &fakeHierarchy{managers: map[int64]int64{10: 20}},
		audit:     &fakeAudit{},
		events:    &fakeEvents{},
	}
	routing := NewRoutingService(f.policies, f.hierarchy, 32, logger.Nop())
	f.svc = NewClaimService(f.claims, f.approvals, &fakePolicyMeta{firstStep: 1}, routing, f.audit, f.events, logger.Nop())
	return f
}

func validSubmit() *SubmitClaimRequest {
	return &SubmitClaimRequest{
		Description:  "Client dinner",
		ExpenseDate:  "2026-08-12",
		CategoryID:   3,
		AmountCents:  12550,
		CurrencyCode: "usd",
		PolicyID:     1,
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmitClaimRequest)
		field  string
	}{
		{"missing description", func(r *SubmitClaimRequest) { r.Description = "  " }, "description"},
		{"missing expense date", func(r *SubmitClaimRequest) { r.ExpenseDate = "" }, "expense_date"},
		{"malformed expense date", func(r *SubmitClaimRequest) { r.ExpenseDate = "12/08/2026" }, "expense_date"},
		{"missing category", func(r *SubmitClaimRequest) { r.CategoryID = 0 }, "category_id"},
		{"zero amount", func(r *SubmitClaimRequest) { r.AmountCents = 0 }, "amount_cents"},
		{"negative amount", func(r *SubmitClaimRequest) { r.AmountCents = -500 }, "amount_cents"},
		{"bad currency", func(r *SubmitClaimRequest) { r.CurrencyCode = "US" }, "currency_code"},
		{"missing policy", func(r *SubmitClaimRequest) { r.PolicyID = 0 }, "policy_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newClaimFixture()
			req := validSubmit()
			tt.mutate(req)

			_, err := f.svc.CreateAndSubmit(context.Background(), 10, 1, req)
			if apperrors.CodeOf(err) != apperrors.ErrCodeInvalidInput {
				t.Fatalf("err = %v, want invalid_input", err)
			}
			if f.claims.createAndSubmitCalls != 0 {
				t.Fatal("invalid request reached the store")
			}
		})
	}
}

func TestCreateAndSubmit(t *testing.T) {
	f := newClaimFixture()

	claim, err := f.svc.CreateAndSubmit(context.Background(), 10, 1, validSubmit())
	if err != nil {
		t.Fatalf("CreateAndSubmit: %v", err)
	}
	if claim.Status != repository.ClaimProcessing {
		t.Fatalf("status = %s, want Processing", claim.Status)
	}
	if claim.CurrentApprovalStep != 1 {
		t.Fatalf("current step = %d, want 1", claim.CurrentApprovalStep)
	}
	if f.claims.lastApproverID != 20 {
		t.Fatalf("pending approval assigned to %d, want 20", f.claims.lastApproverID)
	}
	if got := *claim.CurrencyCode; got != "USD" {
		t.Fatalf("currency = %q, want normalized USD", got)
	}

	wantEvents := []string{"claim_submitted", "approval_required"}
	got := f.events.types()
	if len(got) != len(wantEvents) || got[0] != wantEvents[0] || got[1] != wantEvents[1] {
		t.Fatalf("events = %v, want %v", got, wantEvents)
	}
	if len(f.audit.entries) != 1 || f.audit.entries[0].Action != "submitted" {
		t.Fatalf("audit entries = %+v, want one 'submitted' entry", f.audit.entries)
	}
}

func TestCreateAndSubmitRoutingFailurePersistsNothing(t *testing.T) {
	f := newClaimFixture()
	// Employee 10 loses their manager, so DirectManager resolves to no one.
	delete(f.hierarchy.managers, 10)

	_, err := f.svc.CreateAndSubmit(context.Background(), 10, 1, validSubmit())
	if apperrors.CodeOf(err) != apperrors.ErrCodeRoutingFailed {
		t.Fatalf("err = %v, want routing_failed", err)
	}
	if f.claims.createAndSubmitCalls != 0 {
		t.Fatal("claim was persisted despite routing failure")
	}
	if len(f.events.events) != 0 {
		t.Fatalf("events published despite routing failure: %v", f.events.types())
	}
}

func TestSubmitDraft(t *testing.T) {
	f := newClaimFixture()
	draft := f.claims.add(&repository.Claim{UserID: 10, CompanyID: 1, Status: repository.ClaimDraft})

	submitted, err := f.svc.SubmitDraft(context.Background(), draft.ID, 10, validSubmit())
	if err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}
	if submitted.Status != repository.ClaimProcessing {
		t.Fatalf("status = %s, want Processing", submitted.Status)
	}
	if f.claims.lastApproverID != 20 {
		t.Fatalf("pending approval assigned to %d, want 20", f.claims.lastApproverID)
	}
}

func TestSubmitDraftOnlyFromDraft(t *testing.T) {
	for _, status := range []repository.ClaimStatus{
		repository.ClaimProcessing, repository.ClaimApproved, repository.ClaimRejected,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := newClaimFixture()
			claim := f.claims.add(&repository.Claim{UserID: 10, CompanyID: 1, Status: status})

			_, err := f.svc.SubmitDraft(context.Background(), claim.ID, 10, validSubmit())
			if apperrors.CodeOf(err) != apperrors.ErrCodeConflict {
				t.Fatalf("err = %v, want conflict", err)
			}
			if f.claims.submitDraftCalls != 0 {
				t.Fatal("non-draft submission reached the store")
			}
		})
	}
}

func TestSubmitDraftRoutingFailureKeepsDraft(t *testing.T) {
	f := newClaimFixture()
	delete(f.hierarchy.managers, 10)
	draft := f.claims.add(&repository.Claim{UserID: 10, CompanyID: 1, Status: repository.ClaimDraft})

	_, err := f.svc.SubmitDraft(context.Background(), draft.ID, 10, validSubmit())
	if apperrors.CodeOf(err) != apperrors.ErrCodeRoutingFailed {
		t.Fatalf("err = %v, want routing_failed", err)
	}
	if draft.Status != repository.ClaimDraft {
		t.Fatalf("draft status = %s, want Draft untouched", draft.Status)
	}
}

func TestUpdateDraftOnlyFromDraft(t *testing.T) {
	f := newClaimFixture()
	claim := f.claims.add(&repository.Claim{UserID: 10, CompanyID: 1, Status: repository.ClaimProcessing})

	desc := "new description"
	_, err := f.svc.UpdateDraft(context.Background(), claim.ID, 10, &DraftClaimRequest{Description: &desc})
	if apperrors.CodeOf(err) != apperrors.ErrCodeConflict {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestUpdateDraftOwnershipEnforced(t *testing.T) {
	f := newClaimFixture()
	claim := f.claims.add(&repository.Claim{UserID: 10, CompanyID: 1, Status: repository.ClaimDraft})

	desc := "not yours"
	_, err := f.svc.UpdateDraft(context.Background(), claim.ID, 99, &DraftClaimRequest{Description: &desc})
	if apperrors.CodeOf(err) != apperrors.ErrCodeNotFound {
		t.Fatalf("err = %v, want not_found", err)
	}
}

// submittedFixture is a fixture holding a Processing claim at step 1 with a
// pending approval record (id 500) assigned to manager 20.
func submittedFixture(t *testing.T, policySteps map[stepKey]*repository.PolicyStep) *claimFixture {
	t.Helper()
	f := newClaimFixture()
	if policySteps != nil {
		f.policies.steps = policySteps
	}

	claim := f.claims.add(&repository.Claim{
		UserID:              10,
		CompanyID:           1,
		PolicyID:            i64(1),
		CurrentApprovalStep: 1,
		Status:              repository.ClaimProcessing,
	})
	f.approvals.records[500] = &repository.ApprovalRecord{
		ID:             500,
		ClaimID:        claim.ID,
		ApproverUserID: 20,
		Status:         repository.ApprovalPending,
	}
	return f
}

func TestApproveFinalStepCompletesClaim(t *testing.T) {
	// Policy has only step 1, so approval at step 1 completes the claim.
	f := submittedFixture(t, nil)

	complete, err := f.svc.Approve(context.Background(), 500, 20, nil)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !complete {
		t.Fatal("complete = false, want true on the final step")
	}
	if f.approvals.lastNextApprover != nil {
		t.Fatalf("next approver = %v, want nil on completion", *f.approvals.lastNextApprover)
	}

	got := f.events.types()
	if len(got) != 1 || got[0] != "claim_approved" {
		t.Fatalf("events = %v, want [claim_approved]", got)
	}
}

func TestApproveIntermediateStepAdvances(t *testing.T) {
	f := submittedFixture(t, map[stepKey]*repository.PolicyStep{
		{policyID: 1, order: 1}: {Kind: repository.RuleDirectManager},
		{policyID: 1, order: 2}: specificUserStep(i64(55)),
	})

	complete, err := f.svc.Approve(context.Background(), 500, 20, nil)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if complete {
		t.Fatal("complete = true, want false with a further step")
	}
	if f.approvals.lastNextStep != 2 {
		t.Fatalf("next step = %d, want 2", f.approvals.lastNextStep)
	}
	if f.approvals.lastNextApprover == nil || *f.approvals.lastNextApprover != 55 {
		t.Fatalf("next approver = %v, want 55", f.approvals.lastNextApprover)
	}

	got := f.events.types()
	if len(got) != 1 || got[0] != "approval_required" {
		t.Fatalf("events = %v, want [approval_required]", got)
	}
	if len(f.events.events[0].recipients) != 1 || f.events.events[0].recipients[0] != 55 {
		t.Fatalf("recipients = %v, want [55]", f.events.events[0].recipients)
	}
}

func TestApproveRequiresAssignedApprover(t *testing.T) {
	f := submittedFixture(t, nil)

	_, err := f.svc.Approve(context.Background(), 500, 99, nil)
	if apperrors.CodeOf(err) != apperrors.ErrCodeForbidden {
		t.Fatalf("err = %v, want forbidden", err)
	}
	if f.approvals.advanceCalls != 0 {
		t.Fatal("decision by a non-assigned user reached the store")
	}
}

func TestApproveRequiresPendingRecord(t *testing.T) {
	f := submittedFixture(t, nil)
	f.approvals.records[500].Status = repository.ApprovalApproved

	_, err := f.svc.Approve(context.Background(), 500, 20, nil)
	if apperrors.CodeOf(err) != apperrors.ErrCodeConflict {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestApproveRequiresProcessingClaim(t *testing.T) {
	f := submittedFixture(t, nil)
	f.claims.claims[f.approvals.records[500].ClaimID].Status = repository.ClaimRejected

	_, err := f.svc.Approve(context.Background(), 500, 20, nil)
	if apperrors.CodeOf(err) != apperrors.ErrCodeConflict {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestReject(t *testing.T) {
	f := submittedFixture(t, nil)

	if err := f.svc.Reject(context.Background(), 500, 20, "no receipt attached"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if f.approvals.rejectCalls != 1 {
		t.Fatalf("reject calls = %d, want 1", f.approvals.rejectCalls)
	}
	if f.approvals.lastReason != "no receipt attached" {
		t.Fatalf("reason = %q", f.approvals.lastReason)
	}

	got := f.events.types()
	if len(got) != 1 || got[0] != "claim_rejected" {
		t.Fatalf("events = %v, want [claim_rejected]", got)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	f := submittedFixture(t, nil)

	err := f.svc.Reject(context.Background(), 500, 20, "   ")
	if apperrors.CodeOf(err) != apperrors.ErrCodeInvalidInput {
		t.Fatalf("err = %v, want invalid_input", err)
	}
	if f.approvals.rejectCalls != 0 {
		t.Fatal("reasonless rejection reached the store")
	}
}

func TestCreateDraftAcceptsPartialData(t *testing.T) {
	f := newClaimFixture()

	desc := "taxi"
	claim, err := f.svc.CreateDraft(context.Background(), 10, 1, &DraftClaimRequest{Description: &desc})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if claim.Status != repository.ClaimDraft {
		t.Fatalf("status = %s, want Draft", claim.Status)
	}
	if claim.AmountCents != nil || claim.PolicyID != nil {
		t.Fatal("unset fields should stay nil on a draft")
	}
}

func TestCreateDraftRejectsMalformedDate(t *testing.T) {
	f := newClaimFixture()

	bad := "08-12-2026"
	_, err := f.svc.CreateDraft(context.Background(), 10, 1, &DraftClaimRequest{ExpenseDate: &bad})
	if apperrors.CodeOf(err) != apperrors.ErrCodeInvalidInput {
		t.Fatalf("err = %v, want invalid_input", err)
	}
}

func TestPendingApprovals(t *testing.T) {
	f := submittedFixture(t, nil)
	f.approvals.records[501] = &repository.ApprovalRecord{
		ID: 501, ClaimID: 999, ApproverUserID: 20, Status: repository.ApprovalApproved,
	}

	pending, err := f.svc.PendingApprovals(context.Background(), 20)
	if err != nil {
		t.Fatalf("PendingApprovals: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != 500 {
		t.Fatalf("pending = %+v, want only record 500", pending)
	}
}

func TestAuditTrail(t *testing.T) {
	f := newClaimFixture()

	claim, err := f.svc.CreateAndSubmit(context.Background(), 10, 1, validSubmit())
	if err != nil {
		t.Fatalf("CreateAndSubmit: %v", err)
	}

	trail, err := f.svc.AuditTrail(context.Background(), claim.ID, 10)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(trail) != 1 || trail[0].Action != "submitted" {
		t.Fatalf("trail = %+v, want one 'submitted' entry", trail)
	}

	// Only the owner can read the trail.
	if _, err := f.svc.AuditTrail(context.Background(), claim.ID, 99); apperrors.CodeOf(err) != apperrors.ErrCodeNotFound {
		t.Fatalf("err = %v, want not_found for non-owner", err)
	}
}

func TestApproveChainTooDeepSurfaces(t *testing.T) {
	offset := 100
	f := submittedFixture(t, map[stepKey]*repository.PolicyStep{
		{policyID: 1, order: 1}: {Kind: repository.RuleDirectManager},
		{policyID: 1, order: 2}: {Kind: repository.RuleManagerNUp, ManagerLevelOffset: &offset},
	})

	_, err := f.svc.Approve(context.Background(), 500, 20, nil)
	if !errors.Is(err, ErrChainTooDeep) {
		t.Fatalf("err = %v, want ErrChainTooDeep", err)
	}
	if f.approvals.advanceCalls != 0 {
		t.Fatal("decision persisted despite routing error")
	}
}
