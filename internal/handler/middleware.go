package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/clarofin/be-expense-claims/internal/apperrors"
	"github.com/clarofin/be-expense-claims/internal/logger"
	"github.com/clarofin/be-expense-claims/internal/repository"
	"github.com/clarofin/be-expense-claims/internal/service"
)

type contextKey string

const identityKey contextKey = "identity"

// authenticate validates the bearer token and stores the caller identity on
// the request context.
func authenticate(auth *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, apperrors.Unauthorized("missing bearer token"))
				return
			}

			identity, err := auth.ParseToken(token)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireAdmin gates admin-only routes. Must run after authenticate.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := identityFrom(r)
		if identity == nil || identity.Role != repository.RoleAdmin {
			writeError(w, apperrors.New(apperrors.ErrCodeForbidden, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identityFrom returns the authenticated caller, or nil on unauthenticated
// routes.
func identityFrom(r *http.Request) *service.Identity {
	identity, _ := r.Context().Value(identityKey).(*service.Identity)
	return identity
}

// requestLogger emits one structured line per request.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

func asAppError(err error, target **apperrors.Error) bool {
	return errors.As(err, target)
}
