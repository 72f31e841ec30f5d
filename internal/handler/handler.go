// Package handler exposes the HTTP API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clarofin/be-expense-claims/internal/apperrors"
	"github.com/clarofin/be-expense-claims/internal/logger"
	"github.com/clarofin/be-expense-claims/internal/service"
)

// Handlers bundles everything the router needs.
type Handlers struct {
	Auth   *AuthHandler
	Claims *ClaimHandler
	Admin  *AdminHandler
}

// NewRouter assembles the chi router with the standard middleware stack.
func NewRouter(h Handlers, authSvc *service.AuthService, requestTimeout time.Duration, log *logger.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.Auth.Signup)
			r.Post("/verify-otp", h.Auth.VerifyOTP)
			r.Post("/login", h.Auth.Login)
			r.Post("/forgot-password", h.Auth.ForgotPassword)
			r.Post("/reset-password", h.Auth.ResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate(authSvc))

			r.Route("/claims", func(r chi.Router) {
				r.Post("/", h.Claims.CreateAndSubmit)
				r.Get("/", h.Claims.ListClaims)
				r.Post("/draft", h.Claims.CreateDraft)
				r.Put("/draft/{id}", h.Claims.UpdateDraft)
				r.Post("/{id}/submit", h.Claims.SubmitDraft)
				r.Get("/{id}", h.Claims.GetClaim)
				r.Get("/{id}/audit", h.Claims.AuditTrail)
			})

			r.Route("/approvals", func(r chi.Router) {
				r.Get("/pending", h.Claims.PendingApprovals)
				r.Post("/{id}/approve", h.Claims.Approve)
				r.Post("/{id}/reject", h.Claims.Reject)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/users", h.Admin.CreateUser)
				r.Get("/users", h.Admin.ListUsers)
				r.Put("/users/{id}/manager", h.Admin.SetManager)
				r.Post("/policies", h.Admin.CreatePolicy)
				r.Get("/policies", h.Admin.ListPolicies)
			})
		})
	})

	return r
}

// ── Response helpers ─────────────────────────────────────────────────────────

type errorBody struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a coded error onto the response envelope. Internal causes
// are not leaked to clients.
func writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	code := apperrors.CodeOf(err)

	message := "internal server error"
	var appErr *apperrors.Error
	if code != apperrors.ErrCodeInternal && asAppError(err, &appErr) {
		message = appErr.Message
	}
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body")
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, apperrors.InvalidInput("id", "must be a positive integer")
	}
	return id, nil
}
