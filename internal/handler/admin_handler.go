package handler

import (
	"net/http"

	"github.com/clarofin/be-expense-claims/internal/logger"
	"github.com/clarofin/be-expense-claims/internal/service"
)

// AdminHandler handles company administration: users, the reporting
// hierarchy and approval policies.
type AdminHandler struct {
	org *service.OrgService
	log *logger.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(org *service.OrgService, log *logger.Logger) *AdminHandler {
	return &AdminHandler{org: org, log: log}
}

// CreateUser adds a user to the admin's company.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	var req service.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.org.CreateUser(r.Context(), identity.CompanyID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

// ListUsers returns the company's users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	users, err := h.org.ListUsers(r.Context(), identity.CompanyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// SetManager reassigns a user's direct manager.
func (h *AdminHandler) SetManager(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	userID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		ManagerID *int64 `json:"manager_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.org.SetManager(r.Context(), identity.CompanyID, userID, req.ManagerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "manager updated"})
}

// CreatePolicy defines an approval policy with its ordered steps.
func (h *AdminHandler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	var req service.CreatePolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	policy, err := h.org.CreatePolicy(r.Context(), identity.CompanyID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"policy": policy})
}

// ListPolicies returns the company's policies with steps.
func (h *AdminHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	policies, err := h.org.ListPolicies(r.Context(), identity.CompanyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
}
