package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"

	"github.com/clarofin/be-expense-claims/internal/apperrors"
	"github.com/clarofin/be-expense-claims/internal/logger"
	"github.com/clarofin/be-expense-claims/internal/repository"
)

// AuthUserStore is the persistence surface the auth flow needs.
type AuthUserStore interface {
	FindByEmail(ctx context.Context, email string) (*repository.User, error)
	CreateCompanyAndAdmin(ctx context.Context, companyName, defaultCurrencyCode string, admin *repository.User) (*repository.Company, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
}

// AuthEventPublisher delivers OTP emails through the notification channel.
// Implementations must be non-fatal.
type AuthEventPublisher interface {
	PublishAuthEvent(ctx context.Context, eventType, email string, payload map[string]any)
}

// Identity is the authenticated caller extracted from a token.
type Identity struct {
	UserID    int64
	CompanyID int64
	Email     string
	Role      repository.Role
}

type authClaims struct {
	UserID    int64  `json:"userId"`
	CompanyID int64  `json:"companyId"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// pendingSignup holds a hashed, unverified signup until its OTP is confirmed
// or the TTL expires.
type pendingSignup struct {
	CompanyName         string
	DefaultCurrencyCode string
	AdminName           string
	Email               string
	PasswordHash        string
	OTP                 string
}

type passwordReset struct {
	UserID int64
	OTP    string
}

const bcryptCost = 10

// genericCredentialsMessage avoids confirming which emails are registered.
const genericCredentialsMessage = "invalid credentials; please check your email and password"

// AuthService implements signup with email OTP verification, login and
// password reset. Unverified state lives in TTL caches, never in the
// database, matching the lifetime the OTPs themselves have.
type AuthService struct {
	users    AuthUserStore
	pending  *expirable.LRU[string, pendingSignup]
	resets   *expirable.LRU[string, passwordReset]
	events   AuthEventPublisher
	secret   []byte
	tokenTTL time.Duration
	log      *logger.Logger

	now func() time.Time
}

// NewAuthService creates a new AuthService. cap bounds the TTL caches;
// otpTTL is how long an OTP stays valid.
func NewAuthService(
	users AuthUserStore,
	events AuthEventPublisher,
	secret string,
	tokenTTL, otpTTL time.Duration,
	cap int,
	log *logger.Logger,
) *AuthService {
	if cap < 1 {
		cap = 1024
	}
	return &AuthService{
		users:    users,
		pending:  expirable.NewLRU[string, pendingSignup](cap, nil, otpTTL),
		resets:   expirable.NewLRU[string, passwordReset](cap, nil, otpTTL),
		events:   events,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		log:      log,
		now:      time.Now,
	}
}

// ── Signup ───────────────────────────────────────────────────────────────────

// SignupRequest starts a company signup.
type SignupRequest struct {
	CompanyName         string `json:"company_name"`
	DefaultCurrencyCode string `json:"default_currency_code"`
	AdminName           string `json:"admin_name"`
	AdminEmail          string `json:"admin_email"`
	AdminPassword       string `json:"admin_password"`
}

// AuthResult is returned on successful verification or login.
type AuthResult struct {
	User  *repository.User `json:"user"`
	Token string           `json:"token"`
}

// Signup validates the request, parks the hashed details in the pending
// cache and publishes an OTP email event. Nothing touches the database yet.
func (s *AuthService) Signup(ctx context.Context, req *SignupRequest) error {
	if req.CompanyName == "" || req.AdminName == "" || req.AdminEmail == "" || req.AdminPassword == "" {
		return apperrors.InvalidInput("body", "company name, admin name, email and password are all required")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.DefaultCurrencyCode))
	if len(currency) != 3 {
		return apperrors.InvalidInput("default_currency_code", "must be a 3-letter code, e.g. USD")
	}
	email := normalizeEmail(req.AdminEmail)

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperrors.New(apperrors.ErrCodeConflict, "email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.AdminPassword), bcryptCost)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to hash password")
	}

	otp, err := generateOTP()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to generate OTP")
	}

	s.pending.Add(email, pendingSignup{
		CompanyName:         req.CompanyName,
		DefaultCurrencyCode: currency,
		AdminName:           req.AdminName,
		Email:               email,
		PasswordHash:        string(hash),
		OTP:                 otp,
	})

	s.publishAuth(ctx, "signup_otp", email, map[string]any{"otp": otp})
	s.log.Info().Str("email", email).Msg("Signup initiated, OTP sent")
	return nil
}

// VerifySignupOTP completes a signup: on a matching OTP the company and its
// admin are created in one transaction and a token is issued.
func (s *AuthService) VerifySignupOTP(ctx context.Context, email, otp string) (*AuthResult, error) {
	if email == "" || otp == "" {
		return nil, apperrors.InvalidInput("body", "email and otp are required")
	}
	email = normalizeEmail(email)

	signup, ok := s.pending.Get(email)
	if !ok {
		return nil, apperrors.InvalidInput("otp", "no pending signup for this email, or the code expired")
	}
	if signup.OTP != otp {
		return nil, apperrors.InvalidInput("otp", "invalid code")
	}

	admin := &repository.User{
		Name:         signup.AdminName,
		Email:        signup.Email,
		PasswordHash: signup.PasswordHash,
	}
	if _, err := s.users.CreateCompanyAndAdmin(ctx, signup.CompanyName, signup.DefaultCurrencyCode, admin); err != nil {
		return nil, err
	}
	s.pending.Remove(email)

	token, err := s.issueToken(admin)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("user_id", admin.ID).
		Int64("company_id", admin.CompanyID).
		Msg("Company and admin account created")
	return &AuthResult{User: admin, Token: token}, nil
}

// ── Login ────────────────────────────────────────────────────────────────────

// Login checks credentials and issues a token. Unknown emails and wrong
// passwords produce the same message.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	if email == "" || password == "" {
		return nil, apperrors.InvalidInput("body", "email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.Unauthorized(genericCredentialsMessage)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.Unauthorized(genericCredentialsMessage)
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token}, nil
}

// ── Password reset ───────────────────────────────────────────────────────────

// RequestPasswordReset sends a reset OTP when the email is registered. The
// response is identical either way, again to avoid user enumeration.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.InvalidInput("email", "is required")
	}
	email = normalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	otp, err := generateOTP()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to generate OTP")
	}
	s.resets.Add(email, passwordReset{UserID: user.ID, OTP: otp})
	s.publishAuth(ctx, "password_reset_otp", email, map[string]any{"otp": otp})
	return nil
}

// ResetPassword verifies a reset OTP and stores the new password hash.
func (s *AuthService) ResetPassword(ctx context.Context, email, otp, newPassword string) error {
	if email == "" || otp == "" || newPassword == "" {
		return apperrors.InvalidInput("body", "email, otp and new password are required")
	}
	email = normalizeEmail(email)

	reset, ok := s.resets.Get(email)
	if !ok {
		return apperrors.InvalidInput("otp", "no pending reset for this email, or the code expired")
	}
	if reset.OTP != otp {
		return apperrors.InvalidInput("otp", "invalid code")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, reset.UserID, string(hash)); err != nil {
		return err
	}
	s.resets.Remove(email)

	s.log.Info().Int64("user_id", reset.UserID).Msg("Password reset completed")
	return nil
}

// ── Tokens ───────────────────────────────────────────────────────────────────

func (s *AuthService) issueToken(user *repository.User) (string, error) {
	now := s.now()
	claims := authClaims{
		UserID:    user.ID,
		CompanyID: user.CompanyID,
		Email:     user.Email,
		Role:      string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to sign token")
	}
	return token, nil
}

// ParseToken validates a bearer token and returns the caller identity.
func (s *AuthService) ParseToken(tokenString string) (*Identity, error) {
	var claims authClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, apperrors.Unauthorized("invalid or expired token")
	}
	return &Identity{
		UserID:    claims.UserID,
		CompanyID: claims.CompanyID,
		Email:     claims.Email,
		Role:      repository.Role(claims.Role),
	}, nil
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (s *AuthService) publishAuth(ctx context.Context, eventType, email string, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.PublishAuthEvent(ctx, eventType, email, payload)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateOTP returns a 6-digit numeric code from crypto/rand.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
