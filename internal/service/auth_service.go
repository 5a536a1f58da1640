package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"ikak/internal/backend"
	"ikak/internal/featureflags"
	"ikak/internal/models"
	"ikak/internal/observability"
	"ikak/internal/repository"
	"ikak/internal/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// FlagEmailConfirmation decides, per email, whether new accounts must be
// confirmed before they can sign in.
const FlagEmailConfirmation = "email_confirmation"

const (
	tokenIssuer   = "ikak-platform"
	tokenAudience = "authenticated"
)

// Auth failures reported to API callers with their message unchanged.
var (
	ErrInvalidCredentials = models.NewAuthError("Invalid login credentials", nil)
	ErrEmailNotConfirmed  = models.NewAuthError("Email not confirmed", nil)
	ErrInvalidRefresh     = models.NewAuthError("Invalid Refresh Token: Refresh Token Not Found", nil)
	ErrInvalidConfirm     = models.NewAuthError("Email link is invalid or has expired", nil)
)

// AccessClaims are the claims carried by platform access tokens.
type AccessClaims struct {
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// AuthConfig holds token settings for the AuthService.
type AuthConfig struct {
	JWTSecret      string
	AccessTokenTTL time.Duration
	// PublicURL is the platform's own base URL, used in verification links.
	PublicURL string
}

// AuthService implements the hosted auth subsystem: accounts, password
// sign-in, refresh tokens and email confirmation.
type AuthService struct {
	accounts repository.AccountRepository
	flags    *featureflags.Manager
	cfg      AuthConfig
	cost     int
	now      func() time.Time
}

// NewAuthService returns an AuthService.
func NewAuthService(accounts repository.AccountRepository, flags *featureflags.Manager, cfg AuthConfig) *AuthService {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = time.Hour
	}
	return &AuthService{
		accounts: accounts,
		flags:    flags,
		cfg:      cfg,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// SignUpInput is the body of a sign-up request.
type SignUpInput struct {
	Email      string
	Password   string
	Data       map[string]any
	RedirectTo string
}

// SignUp creates an account. The session is nil when the account needs email
// confirmation, and also when the email is already registered: that case
// answers with a user that has no identities so callers cannot test for
// existing accounts.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*backend.AuthUser, *backend.Session, error) {
	email := normalizeEmail(in.Email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, nil, models.NewValidationError("Unable to validate email address: invalid format")
	}
	switch err := validation.ValidatePassword(in.Password); {
	case errors.Is(err, validation.ErrPasswordTooShort):
		return nil, nil, models.NewValidationError(
			fmt.Sprintf("Password should be at least %d characters", validation.MinPasswordLength))
	case errors.Is(err, validation.ErrPasswordTooLong):
		return nil, nil, models.NewValidationError(
			fmt.Sprintf("Password cannot be longer than %d characters", validation.MaxPasswordLength))
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		observability.PlatformAuthEvents.WithLabelValues("signup", "existing").Inc()
		return s.obscured(existing), nil, nil
	case !models.HasCode(err, models.CodeNotFound):
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, nil, models.NewInternalError(err)
	}
	meta, err := json.Marshal(in.Data)
	if err != nil {
		return nil, nil, models.NewValidationError("Invalid user metadata")
	}

	account := &models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		UserMetadata: string(meta),
	}
	confirm := s.flags.Enabled(FlagEmailConfirmation, email)
	if confirm {
		account.ConfirmToken = uuid.NewString()
	} else {
		now := s.now().UTC()
		account.EmailConfirmedAt = &now
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if models.HasCode(err, models.CodeConflict) {
			observability.PlatformAuthEvents.WithLabelValues("signup", "existing").Inc()
			return s.obscured(account), nil, nil
		}
		observability.PlatformAuthEvents.WithLabelValues("signup", "error").Inc()
		return nil, nil, err
	}

	if confirm {
		observability.GlobalLogger.InfoContext(ctx, "confirmation required",
			slog.String("account_id", account.ID),
			slog.String("email", email),
			slog.String("verification_link", s.verificationLink(account.ConfirmToken, in.RedirectTo)),
		)
		observability.PlatformAuthEvents.WithLabelValues("signup", "confirmation_required").Inc()
		user := s.toUser(account)
		return &user, nil, nil
	}

	session, err := s.issueSession(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	observability.PlatformAuthEvents.WithLabelValues("signup", "ok").Inc()
	return &session.User, session, nil
}

// SignIn checks a password and opens a session.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*backend.Session, error) {
	account, err := s.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			observability.PlatformAuthEvents.WithLabelValues("sign_in", "invalid").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		observability.PlatformAuthEvents.WithLabelValues("sign_in", "invalid").Inc()
		return nil, ErrInvalidCredentials
	}
	if !account.Confirmed() {
		observability.PlatformAuthEvents.WithLabelValues("sign_in", "unconfirmed").Inc()
		return nil, ErrEmailNotConfirmed
	}

	session, err := s.issueSession(ctx, account)
	if err != nil {
		return nil, err
	}
	observability.PlatformAuthEvents.WithLabelValues("sign_in", "ok").Inc()
	return session, nil
}

// Refresh exchanges a refresh token for a new session. The old token stops
// working.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*backend.Session, error) {
	accountID, err := s.accounts.UseRefreshToken(ctx, refreshToken)
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			observability.PlatformAuthEvents.WithLabelValues("refresh", "invalid").Inc()
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}

	session, err := s.issueSession(ctx, account)
	if err != nil {
		return nil, err
	}
	observability.PlatformAuthEvents.WithLabelValues("refresh", "ok").Inc()
	return session, nil
}

// Logout revokes every refresh token of the account. Access tokens already
// issued stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, accountID string) error {
	err := s.accounts.RevokeRefreshTokens(ctx, accountID)
	observability.PlatformAuthEvents.WithLabelValues("sign_out", result(err)).Inc()
	return err
}

// GetUser returns the account behind an access token subject.
func (s *AuthService) GetUser(ctx context.Context, accountID string) (*backend.AuthUser, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			return nil, models.NewUnauthorizedError("User from sub claim in JWT does not exist")
		}
		return nil, err
	}
	user := s.toUser(account)
	return &user, nil
}

// Verify confirms the account holding token and signs it in.
func (s *AuthService) Verify(ctx context.Context, token string) (*backend.Session, error) {
	account, err := s.accounts.GetByConfirmToken(ctx, token)
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			observability.PlatformAuthEvents.WithLabelValues("verify", "invalid").Inc()
			return nil, ErrInvalidConfirm
		}
		return nil, err
	}

	at := s.now().UTC()
	if err := s.accounts.Confirm(ctx, account.ID, at); err != nil {
		return nil, err
	}
	account.EmailConfirmedAt = &at
	account.ConfirmToken = ""

	session, err := s.issueSession(ctx, account)
	if err != nil {
		return nil, err
	}
	observability.PlatformAuthEvents.WithLabelValues("verify", "ok").Inc()
	return session, nil
}

// ParseAccessToken validates an access token and returns its claims.
func (s *AuthService) ParseAccessToken(raw string) (*AccessClaims, error) {
	return ParseAccessToken(raw, s.cfg.JWTSecret)
}

// ParseAccessToken validates an HS256 access token signed with secret.
func ParseAccessToken(raw, secret string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithAudience(tokenAudience), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (s *AuthService) issueSession(ctx context.Context, account *models.Account) (*backend.Session, error) {
	if s.cfg.JWTSecret == "" {
		return nil, models.NewInternalError(errors.New("JWT secret not configured"))
	}

	user := s.toUser(account)
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTokenTTL)
	claims := AccessClaims{
		Email:        account.Email,
		Role:         tokenAudience,
		UserMetadata: user.UserMetadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	refresh := &models.RefreshToken{
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		AccountID: account.ID,
	}
	if err := s.accounts.CreateRefreshToken(ctx, refresh); err != nil {
		return nil, err
	}

	return &backend.Session{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
		ExpiresAt:    expiresAt.Unix(),
		RefreshToken: refresh.Token,
		User:         user,
	}, nil
}

func (s *AuthService) toUser(a *models.Account) backend.AuthUser {
	var meta map[string]any
	if a.UserMetadata != "" {
		if err := json.Unmarshal([]byte(a.UserMetadata), &meta); err != nil {
			observability.GlobalLogger.Warn("unreadable user metadata",
				slog.String("account_id", a.ID), slog.String("error", err.Error()))
		}
	}
	return backend.AuthUser{
		ID:               a.ID,
		Email:            a.Email,
		UserMetadata:     meta,
		Identities:       []backend.Identity{{ID: a.ID, Provider: "email"}},
		EmailConfirmedAt: a.EmailConfirmedAt,
		CreatedAt:        a.CreatedAt,
	}
}

// obscured is the answer to a sign-up for an email that already exists.
func (s *AuthService) obscured(a *models.Account) *backend.AuthUser {
	return &backend.AuthUser{
		ID:           uuid.NewString(),
		Email:        a.Email,
		UserMetadata: map[string]any{},
		Identities:   []backend.Identity{},
		CreatedAt:    s.now().UTC(),
	}
}

func (s *AuthService) verificationLink(token, redirectTo string) string {
	q := url.Values{"token": {token}, "type": {"signup"}}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/auth/v1/verify?" + q.Encode()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
