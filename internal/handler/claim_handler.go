package handler

import (
	"net/http"

	"github.com/clarofin/be-expense-claims/internal/logger"
	"github.com/clarofin/be-expense-claims/internal/service"
)

// ClaimHandler handles claim and approval requests.
type ClaimHandler struct {
	claims *service.ClaimService
	log    *logger.Logger
}

// NewClaimHandler creates a new ClaimHandler.
func NewClaimHandler(claims *service.ClaimService, log *logger.Logger) *ClaimHandler {
	return &ClaimHandler{claims: claims, log: log}
}

// CreateDraft creates a claim in Draft status; partial data is allowed.
func (h *ClaimHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	var req service.DraftClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	claim, err := h.claims.CreateDraft(r.Context(), identity.UserID, identity.CompanyID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "draft claim created",
		"claim":   claim,
	})
}

// UpdateDraft applies a partial update to an owned draft.
func (h *ClaimHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	claimID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req service.DraftClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	claim, err := h.claims.UpdateDraft(r.Context(), claimID, identity.UserID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "draft claim updated",
		"claim":   claim,
	})
}

// CreateAndSubmit creates and immediately submits a claim.
func (h *ClaimHandler) CreateAndSubmit(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	var req service.SubmitClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	claim, err := h.claims.CreateAndSubmit(r.Context(), identity.UserID, identity.CompanyID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "claim submitted and pending approval",
		"claim":   claim,
	})
}

// SubmitDraft submits an existing draft with its final details.
func (h *ClaimHandler) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	claimID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req service.SubmitClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	claim, err := h.claims.SubmitDraft(r.Context(), claimID, identity.UserID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "draft claim submitted and pending approval",
		"claim":   claim,
	})
}

// GetClaim returns one owned claim.
func (h *ClaimHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	claimID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	claim, err := h.claims.GetClaim(r.Context(), claimID, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claim": claim})
}

// ListClaims returns the caller's claims, newest first.
func (h *ClaimHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	claims, err := h.claims.ListUserClaims(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": claims})
}

// AuditTrail returns an owned claim's audit log.
func (h *ClaimHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	claimID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := h.claims.AuditTrail(r.Context(), claimID, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": entries})
}

// PendingApprovals lists approvals awaiting the caller's decision.
func (h *ClaimHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	approvals, err := h.claims.PendingApprovals(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}

// Approve records an approval decision on a pending record.
func (h *ClaimHandler) Approve(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	approvalID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Comments *string `json:"comments"`
	}
	// An empty body is fine; comments are optional.
	_ = decodeJSON(r, &req)

	complete, err := h.claims.Approve(r.Context(), approvalID, identity.UserID, req.Comments)
	if err != nil {
		writeError(w, err)
		return
	}

	message := "approval recorded; claim moved to the next step"
	if complete {
		message = "approval recorded; claim fully approved"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        message,
		"claim_complete": complete,
	})
}

// Reject records a rejection on a pending record.
func (h *ClaimHandler) Reject(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	approvalID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.claims.Reject(r.Context(), approvalID, identity.UserID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "claim rejected"})
}
