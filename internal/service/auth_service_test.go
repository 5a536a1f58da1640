package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"ikak/internal/database"
	"ikak/internal/featureflags"
	"ikak/internal/models"
	"ikak/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
)

const testSecret = "test-secret-that-is-long-enough-32b"

func newTestAuthService(t *testing.T, flags string) (*AuthService, repository.AccountRepository) {
	t.Helper()
	db, err := database.Open(sqlite.Open(":memory:"), false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	accounts := repository.NewAccountRepository(db)
	svc := NewAuthService(accounts, featureflags.NewManager(flags), AuthConfig{
		JWTSecret:      testSecret,
		AccessTokenTTL: 15 * time.Minute,
		PublicURL:      "http://platform.test/",
	})
	svc.cost = bcrypt.MinCost
	return svc, accounts
}

func signUpInput(email string) SignUpInput {
	return SignUpInput{
		Email:    email,
		Password: "secret1",
		Data:     map[string]any{"username": "ann", "display_name": "Ann"},
	}
}

func TestAuthService_SignUp_Immediate(t *testing.T) {
	svc, accounts := newTestAuthService(t, "email_confirmation=off")
	ctx := context.Background()

	user, session, err := svc.SignUp(ctx, signUpInput("  Ann@Example.com "))
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Equal(t, "ann@example.com", user.Email)
	assert.Equal(t, "ann", user.MetadataString("username"))
	require.Len(t, user.Identities, 1)
	assert.NotNil(t, user.EmailConfirmedAt)
	assert.Equal(t, "bearer", session.TokenType)
	assert.Equal(t, 900, session.ExpiresIn)
	assert.NotEmpty(t, session.RefreshToken)

	claims, err := svc.ParseAccessToken(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, "ann@example.com", claims.Email)
	assert.Equal(t, "Ann", claims.UserMetadata["display_name"])

	stored, err := accounts.GetByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.True(t, stored.Confirmed())
	assert.NotEqual(t, "secret1", stored.PasswordHash)
}

func TestAuthService_SignUp_Validation(t *testing.T) {
	svc, _ := newTestAuthService(t, "")
	ctx := context.Background()

	_, _, err := svc.SignUp(ctx, SignUpInput{Email: "not-an-email", Password: "secret1"})
	assert.True(t, models.HasCode(err, models.CodeValidation))

	_, _, err = svc.SignUp(ctx, SignUpInput{Email: "ann@example.com", Password: "short"})
	assert.True(t, models.HasCode(err, models.CodeValidation))
	assert.Contains(t, models.UserMessage(err), "at least 6 characters")

	// bcrypt cannot hash more than 72 bytes; that is the caller's mistake, not a 500.
	_, _, err = svc.SignUp(ctx, SignUpInput{Email: "ann@example.com", Password: strings.Repeat("p", 80)})
	assert.True(t, models.HasCode(err, models.CodeValidation))
	assert.Contains(t, models.UserMessage(err), "longer than 72 characters")
}

func TestAuthService_SignUp_ExistingEmailIsObscured(t *testing.T) {
	svc, _ := newTestAuthService(t, "")
	ctx := context.Background()

	first, _, err := svc.SignUp(ctx, signUpInput("ann@example.com"))
	require.NoError(t, err)

	again, session, err := svc.SignUp(ctx, signUpInput("ann@example.com"))
	require.NoError(t, err)
	assert.Nil(t, session)
	require.NotNil(t, again.Identities)
	assert.Empty(t, again.Identities)
	assert.NotEqual(t, first.ID, again.ID, "the real account id is not revealed")
}

func TestAuthService_ConfirmationFlow(t *testing.T) {
	svc, accounts := newTestAuthService(t, "email_confirmation=on")
	ctx := context.Background()

	user, session, err := svc.SignUp(ctx, signUpInput("ann@example.com"))
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Len(t, user.Identities, 1)
	assert.Nil(t, user.EmailConfirmedAt)

	_, err = svc.SignIn(ctx, "ann@example.com", "secret1")
	assert.ErrorIs(t, err, ErrEmailNotConfirmed)

	stored, err := accounts.GetByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, stored.ConfirmToken)

	_, err = svc.Verify(ctx, "wrong-token")
	assert.ErrorIs(t, err, ErrInvalidConfirm)

	verified, err := svc.Verify(ctx, stored.ConfirmToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, verified.User.ID)
	assert.NotNil(t, verified.User.EmailConfirmedAt)

	_, err = svc.Verify(ctx, stored.ConfirmToken)
	assert.ErrorIs(t, err, ErrInvalidConfirm, "links are single use")

	_, err = svc.SignIn(ctx, "ann@example.com", "secret1")
	assert.NoError(t, err)
}

func TestAuthService_SignIn(t *testing.T) {
	svc, _ := newTestAuthService(t, "")
	ctx := context.Background()
	_, _, err := svc.SignUp(ctx, signUpInput("ann@example.com"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"ok", "ann@example.com", "secret1", nil},
		{"email is normalized", " ANN@example.com", "secret1", nil},
		{"wrong password", "ann@example.com", "secret2", ErrInvalidCredentials},
		{"unknown email", "bob@example.com", "secret1", ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := svc.SignIn(ctx, tt.email, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, "Invalid login credentials", models.UserMessage(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ann@example.com", session.User.Email)
		})
	}
}

func TestAuthService_RefreshAndLogout(t *testing.T) {
	svc, _ := newTestAuthService(t, "")
	ctx := context.Background()
	_, first, err := svc.SignUp(ctx, signUpInput("ann@example.com"))
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.User.ID, second.User.ID)

	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh, "a used refresh token is rejected")

	require.NoError(t, svc.Logout(ctx, second.User.ID))
	_, err = svc.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestAuthService_GetUser(t *testing.T) {
	svc, _ := newTestAuthService(t, "")
	ctx := context.Background()
	user, _, err := svc.SignUp(ctx, signUpInput("ann@example.com"))
	require.NoError(t, err)

	got, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)

	_, err = svc.GetUser(ctx, "missing")
	assert.True(t, models.HasCode(err, models.CodeUnauthorized))
}

func TestParseAccessToken(t *testing.T) {
	svc, _ := newTestAuthService(t, "")
	ctx := context.Background()
	_, session, err := svc.SignUp(ctx, signUpInput("ann@example.com"))
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := ParseAccessToken(session.AccessToken, "another-secret")
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		defer func() { svc.now = time.Now }()
		_, old, err := svc.SignUp(ctx, signUpInput("old@example.com"))
		require.NoError(t, err)
		_, err = svc.ParseAccessToken(old.AccessToken)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"sub": "u1", "iss": tokenIssuer, "aud": tokenAudience,
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.ParseAccessToken(raw)
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": tokenIssuer, "aud": tokenAudience,
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		raw, err := token.SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = svc.ParseAccessToken(raw)
		assert.Error(t, err)
	})
}

func TestAuthService_IssueWithoutSecret(t *testing.T) {
	svc, _ := newTestAuthService(t, "")
	svc.cfg.JWTSecret = ""
	_, _, err := svc.SignUp(context.Background(), signUpInput("ann@example.com"))
	assert.True(t, models.HasCode(err, models.CodeInternal))
}

func TestVerificationLink(t *testing.T) {
	svc, _ := newTestAuthService(t, "")
	link := svc.verificationLink("tok", "http://site.test/")
	assert.Equal(t, "http://platform.test/auth/v1/verify?redirect_to=http%3A%2F%2Fsite.test%2F&token=tok&type=signup", link)
}
