package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ikak/internal/backend"
	"ikak/internal/localstore"
	"ikak/internal/models"
	"ikak/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		RestoreAttempts:  2,
		RestoreDelay:     5 * time.Millisecond,
		RestoreTimeout:   200 * time.Millisecond,
		ActivateAttempts: 5,
		ActivateDelay:    5 * time.Millisecond,
	}
}

func newTestState(t *testing.T, opts ...Option) (*State, *testutil.FakeBackend) {
	t.Helper()
	fb := testutil.NewFakeBackend()
	s := New(fb.Backend(), localstore.NewMemoryStorage(), testConfig(), opts...)
	t.Cleanup(func() {
		s.Close()
		fb.Close()
	})
	return s, fb
}

// signIn creates a confirmed account with a profile and logs s into it.
func signIn(t *testing.T, s *State, fb *testutil.FakeBackend, email, username string) *models.User {
	t.Helper()
	au := fb.AddAccount(email, "secret1", nil, true)
	fb.SeedProfile(backend.Profile{ID: au.ID, Username: username, DisplayName: username})
	require.NoError(t, s.Login(context.Background(), email, "secret1"))
	u := s.User()
	require.NotNil(t, u)
	return u
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected *models.AppError, got %v", err)
	return appErr.Code
}

func TestRegister_ThenLoginAgain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, fb := newTestState(t)

	err := s.Register(ctx, RegisterInput{Email: "a@b.com", Password: "secret1", Username: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, PhaseAuthenticated, s.Phase())
	require.NotNil(t, s.User())
	assert.Equal(t, "abc123", s.User().Username)

	s.Logout(ctx)
	assert.Nil(t, s.User())

	require.NoError(t, s.Login(ctx, "a@b.com", "secret1"))
	u := s.User()
	require.NotNil(t, u)
	assert.Equal(t, "abc123", u.Username)
	assert.Equal(t, "a@b.com", u.Email)

	// Exactly one profile row for the account.
	rows := fb.ProfileRows()
	require.Len(t, rows, 1)
	assert.Equal(t, u.ID, rows[0].ID)
	assert.Equal(t, PlaceholderAvatar("abc123"), rows[0].AvatarURL)

	_, pending := s.pending.Load(ctx)
	assert.False(t, pending)
}

func TestRegister_UsernameTaken(t *testing.T) {
	t.Parallel()
	s, fb := newTestState(t)
	fb.SeedProfile(backend.Profile{ID: "someone", Username: "taken"})

	err := s.Register(context.Background(), RegisterInput{Email: "new@b.com", Password: "secret1", Username: "taken"})
	require.Error(t, err)
	assert.Equal(t, models.CodeValidation, appCode(t, err))
	assert.Equal(t, "Юзернейм занят", models.UserMessage(err))
	assert.Zero(t, fb.Calls(testutil.OpSignUp))
	assert.Zero(t, fb.Calls(testutil.OpProfileInsert))
	assert.Equal(t, PhaseInitial, s.Phase())
}

func TestRegister_ConfirmationRequired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, fb := newTestState(t)
	fb.RequireConfirmation = true

	err := s.Register(ctx, RegisterInput{Email: "a@b.com", Password: "secret1", Username: "abc123", DisplayName: "ABC"})
	require.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Equal(t, PhaseAnonymous, s.Phase())
	assert.Nil(t, s.User())
	assert.Empty(t, fb.ProfileRows())

	pending, ok := s.pending.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc123", pending.Username)
	assert.Equal(t, "ABC", pending.DisplayName)

	fb.Confirm("a@b.com")
	require.NoError(t, s.Login(ctx, "a@b.com", "secret1"))
	u := s.User()
	require.NotNil(t, u)
	assert.Equal(t, "abc123", u.Username)
	assert.Equal(t, "ABC", u.DisplayName)

	_, ok = s.pending.Load(ctx)
	assert.False(t, ok, "pending profile is consumed by the first resolution")
	assert.Len(t, fb.ProfileRows(), 1)
}

func TestRegister_ValidationNeedsNoNetwork(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   RegisterInput
		msg  string
	}{
		{"Invalid Email", RegisterInput{Email: "not-an-email", Password: "secret1", Username: "abc123"}, "Введите корректный email"},
		{"Invalid Username", RegisterInput{Email: "a@b.com", Password: "secret1", Username: "1abc"}, "Юзернейм: 3-20 символов, латиница, цифры"},
		{"Uppercase Username", RegisterInput{Email: "a@b.com", Password: "secret1", Username: "Abc123"}, "Юзернейм: 3-20 символов, латиница, цифры"},
		{"Short Password", RegisterInput{Email: "a@b.com", Password: "12345", Username: "abc123"}, "Пароль от 6 символов"},
		{"Long Password", RegisterInput{Email: "a@b.com", Password: strings.Repeat("p", 80), Username: "abc123"}, "Пароль не длиннее 72 символов"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fb := newTestState(t)
			err := s.Register(context.Background(), tt.in)
			require.Error(t, err)
			assert.Equal(t, models.CodeValidation, appCode(t, err))
			assert.Equal(t, tt.msg, models.UserMessage(err))
			assert.Zero(t, fb.Calls(testutil.OpProfileByName))
			assert.Zero(t, fb.Calls(testutil.OpSignUp))
			assert.Equal(t, PhaseInitial, s.Phase())
		})
	}
}

func TestRegister_RateLimited(t *testing.T) {
	t.Parallel()
	s, _ := newTestState(t)
	in := RegisterInput{Email: "bad", Password: "secret1", Username: "abc123"}

	for i := 0; i < 5; i++ {
		err := s.Register(context.Background(), in)
		assert.Equal(t, models.CodeValidation, appCode(t, err), "attempt %d", i+1)
	}
	err := s.Register(context.Background(), in)
	assert.Equal(t, models.CodeRateLimited, appCode(t, err))
	assert.Equal(t, "Слишком много попыток. Попробуйте позже.", models.UserMessage(err))
}

func TestRegister_ExistingEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, fb := newTestState(t)
	fb.AddAccount("a@b.com", "other-pass", nil, true)

	err := s.Register(ctx, RegisterInput{Email: "a@b.com", Password: "secret1", Username: "abc123"})
	require.Error(t, err)
	assert.Equal(t, models.CodeAuth, appCode(t, err))
	assert.Equal(t, "Аккаунт с таким email уже существует", models.UserMessage(err))
	assert.Zero(t, fb.Calls(testutil.OpSignIn))

	_, ok := s.pending.Load(ctx)
	assert.False(t, ok)
	assert.Equal(t, PhaseInitial, s.Phase())
}

func TestRegister_SignUpErrorPassesThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, fb := newTestState(t)
	fb.Fail(testutil.OpSignUp, &backend.APIError{Status: 422, Code: "weak_password", Message: "Password is too weak"})

	err := s.Register(ctx, RegisterInput{Email: "a@b.com", Password: "secret1", Username: "abc123"})
	require.Error(t, err)
	assert.Equal(t, "Password is too weak", models.UserMessage(err))

	_, ok := s.pending.Load(ctx)
	assert.False(t, ok)
}

func TestRegister_UsernameCheckFailureIsIgnored(t *testing.T) {
	t.Parallel()
	s, fb := newTestState(t)
	fb.Fail(testutil.OpProfileByName, errors.New("connection reset"))

	err := s.Register(context.Background(), RegisterInput{Email: "a@b.com", Password: "secret1", Username: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, PhaseAuthenticated, s.Phase())
}

func TestRegister_SanitizesProfileFields(t *testing.T) {
	t.Parallel()
	s, fb := newTestState(t)

	err := s.Register(context.Background(), RegisterInput{
		Email:       " A@B.com ",
		Password:    "secret1",
		Username:    "abc123",
		DisplayName: "<b>Bold</b> name",
		AvatarURL:   "javascript:alert(1)",
	})
	require.NoError(t, err)

	rows := fb.ProfileRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Bold name", rows[0].DisplayName)
	assert.Equal(t, PlaceholderAvatar("abc123"), rows[0].AvatarURL)
	assert.Equal(t, "a@b.com", s.User().Email)
}

func TestRegister_WhileSignedIn(t *testing.T) {
	t.Parallel()
	s, fb := newTestState(t)
	signIn(t, s, fb, "a@b.com", "alice")

	err := s.Register(context.Background(), RegisterInput{Email: "c@d.com", Password: "secret1", Username: "carol"})
	assert.Equal(t, models.CodeConflict, appCode(t, err))
	assert.Zero(t, fb.Calls(testutil.OpSignUp))
	assert.Equal(t, "alice", s.User().Username)
}

func TestLogin_ErrorMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Invalid Credentials", func(t *testing.T) {
		s, fb := newTestState(t)
		fb.AddAccount("a@b.com", "secret1", nil, true)
		err := s.Login(ctx, "a@b.com", "wrong")
		assert.Equal(t, models.CodeAuth, appCode(t, err))
		assert.Equal(t, "Неверный email или пароль", models.UserMessage(err))
		assert.Nil(t, s.User())
	})

	t.Run("Invalid Credentials In English", func(t *testing.T) {
		s, _ := newTestState(t)
		en := models.LanguageEN
		s.UpdateSettings(models.SettingsUpdate{Language: &en})
		err := s.Login(ctx, "nobody@b.com", "secret1")
		assert.Equal(t, "Wrong email or password", models.UserMessage(err))
	})

	t.Run("Email Not Confirmed", func(t *testing.T) {
		s, fb := newTestState(t)
		fb.AddAccount("a@b.com", "secret1", nil, false)
		err := s.Login(ctx, "a@b.com", "secret1")
		assert.Equal(t, "Подтвердите email", models.UserMessage(err))
	})

	t.Run("Other Errors Pass Through", func(t *testing.T) {
		s, fb := newTestState(t)
		fb.Fail(testutil.OpSignIn, &backend.APIError{Status: 503, Message: "Service unavailable"})
		err := s.Login(ctx, "a@b.com", "secret1")
		assert.Equal(t, "Service unavailable", models.UserMessage(err))
	})
}

func TestLogin_NormalizesEmail(t *testing.T) {
	t.Parallel()
	s, fb := newTestState(t)
	au := fb.AddAccount("a@b.com", "secret1", nil, true)
	fb.SeedProfile(backend.Profile{ID: au.ID, Username: "alice", DisplayName: "Alice"})

	require.NoError(t, s.Login(context.Background(), "  A@B.COM ", "secret1"))
	snap := s.Snapshot()
	assert.True(t, snap.IsAuthenticated)
	assert.False(t, snap.AuthLoading)
	assert.Equal(t, "Alice", snap.User.DisplayName)
}

func TestLogin_LoadsFeed(t *testing.T) {
	t.Parallel()
	s, fb := newTestState(t)
	fb.SeedPost("author", "first")

	signIn(t, s, fb, "a@b.com", "alice")
	require.Len(t, s.Posts(), 1)
	assert.Equal(t, "first", s.Posts()[0].Content)
}

func TestRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Restores Persisted Session", func(t *testing.T) {
		s, fb := newTestState(t)
		au := fb.AddAccount("a@b.com", "secret1", nil, true)
		fb.SeedProfile(backend.Profile{ID: au.ID, Username: "alice", DisplayName: "Alice"})
		fb.SeedPost(au.ID, "hello")
		fb.SetSession("a@b.com")

		assert.True(t, s.Snapshot().AuthLoading)
		s.Restore(ctx)
		assert.Equal(t, PhaseAuthenticated, s.Phase())
		require.NotNil(t, s.User())
		assert.Equal(t, "alice", s.User().Username)
		assert.Len(t, s.Posts(), 1)
		assert.False(t, s.Snapshot().AuthLoading)
	})

	t.Run("No Session Settles Anonymous", func(t *testing.T) {
		s, fb := newTestState(t)
		s.Restore(ctx)
		assert.Equal(t, PhaseAnonymous, s.Phase())
		assert.Nil(t, s.User())
		assert.Equal(t, 2, fb.Calls(testutil.OpGetSession))
	})

	t.Run("Runs Once Per Load", func(t *testing.T) {
		s, fb := newTestState(t)
		s.Restore(ctx)
		calls := fb.Calls(testutil.OpGetSession)

		fb.AddAccount("a@b.com", "secret1", nil, true)
		fb.SetSession("a@b.com")
		s.Restore(ctx)
		assert.Equal(t, calls, fb.Calls(testutil.OpGetSession))
		assert.Equal(t, PhaseAnonymous, s.Phase())
	})

	t.Run("Allowed Again After Logout", func(t *testing.T) {
		s, fb := newTestState(t)
		signIn(t, s, fb, "a@b.com", "alice")
		s.Logout(ctx)
		assert.Equal(t, PhaseSignedOut, s.Phase())

		fb.SetSession("a@b.com")
		s.Restore(ctx)
		assert.Equal(t, PhaseAuthenticated, s.Phase())
		assert.Equal(t, "alice", s.User().Username)
	})

	t.Run("Retries Until Session Is Visible", func(t *testing.T) {
		s, fb := newTestState(t)
		au := fb.AddAccount("a@b.com", "secret1", nil, true)
		fb.SeedProfile(backend.Profile{ID: au.ID, Username: "alice"})
		fb.SetSession("a@b.com")
		fb.HideSession(1)

		s.Restore(ctx)
		assert.Equal(t, PhaseAuthenticated, s.Phase())
		assert.Equal(t, 2, fb.Calls(testutil.OpGetSession))
	})

	t.Run("Times Out", func(t *testing.T) {
		s, fb := newTestState(t)
		fb.AddAccount("a@b.com", "secret1", nil, true)
		fb.SetSession("a@b.com")
		fb.DelaySession(5 * time.Second)

		start := time.Now()
		s.Restore(ctx)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, PhaseAnonymous, s.Phase())
		assert.Nil(t, s.User())
	})

	t.Run("Ignores Caller Cancellation", func(t *testing.T) {
		s, fb := newTestState(t)
		au := fb.AddAccount("a@b.com", "secret1", nil, true)
		fb.SeedProfile(backend.Profile{ID: au.ID, Username: "alice"})
		fb.SetSession("a@b.com")

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		s.Restore(cctx)
		assert.Equal(t, PhaseAuthenticated, s.Phase())
	})
}

func TestActivateSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Adopts After Confirmation", func(t *testing.T) {
		s, fb := newTestState(t)
		fb.RequireConfirmation = true
		err := s.Register(ctx, RegisterInput{Email: "a@b.com", Password: "secret1", Username: "abc123", DisplayName: "ABC"})
		require.ErrorIs(t, err, ErrConfirmationRequired)

		// The confirmation link signs the browser in out of band.
		fb.Confirm("a@b.com")
		fb.SetSession("a@b.com")
		fb.HideSession(2)

		assert.True(t, s.ActivateSession(ctx))
		assert.Equal(t, PhaseAuthenticated, s.Phase())
		assert.Equal(t, "ABC", s.User().DisplayName)
	})

	t.Run("Gives Up", func(t *testing.T) {
		s, fb := newTestState(t)
		assert.False(t, s.ActivateSession(ctx))
		assert.Equal(t, PhaseAnonymous, s.Phase())
		assert.Equal(t, testConfig().ActivateAttempts, fb.Calls(testutil.OpGetSession))
	})

	t.Run("Already Signed In", func(t *testing.T) {
		s, fb := newTestState(t)
		signIn(t, s, fb, "a@b.com", "alice")
		calls := fb.Calls(testutil.OpGetSession)
		assert.True(t, s.ActivateSession(ctx))
		assert.Equal(t, calls, fb.Calls(testutil.OpGetSession))
	})
}

func TestLogout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Clears Everything", func(t *testing.T) {
		s, fb := newTestState(t)
		fb.SeedPost("author", "hello")
		signIn(t, s, fb, "a@b.com", "alice")
		require.NoError(t, s.SetPage(models.PageProfile))
		require.NoError(t, s.pending.Save(ctx, models.PendingProfile{Username: "stale"}))

		s.Logout(ctx)
		snap := s.Snapshot()
		assert.Equal(t, PhaseSignedOut, snap.Phase)
		assert.Nil(t, snap.User)
		assert.Empty(t, snap.Posts)
		assert.Equal(t, models.PageFeed, snap.Page)
		assert.Nil(t, fb.Session())
		_, ok := s.pending.Load(ctx)
		assert.False(t, ok)
	})

	t.Run("Remote Failure Still Clears", func(t *testing.T) {
		s, fb := newTestState(t)
		signIn(t, s, fb, "a@b.com", "alice")
		fb.Fail(testutil.OpSignOut, errors.New("offline"))

		s.Logout(ctx)
		assert.Nil(t, s.User())
		assert.Equal(t, PhaseSignedOut, s.Phase())
	})

	t.Run("Drops Results Started Before", func(t *testing.T) {
		s, fb := newTestState(t)
		u := signIn(t, s, fb, "a@b.com", "alice")
		epoch := s.currentEpoch()

		s.Logout(ctx)
		assert.False(t, s.adopt(u, epoch))
		assert.Nil(t, s.User())
	})
}

func TestAuthEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Signed In Elsewhere", func(t *testing.T) {
		s, fb := newTestState(t)
		au := fb.AddAccount("a@b.com", "secret1", nil, true)
		fb.SeedProfile(backend.Profile{ID: au.ID, Username: "alice"})
		s.Start()
		s.Start()

		_, err := fb.Backend().Auth.SignInWithPassword(ctx, "a@b.com", "secret1")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			u := s.User()
			return u != nil && u.Username == "alice"
		}, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, PhaseAuthenticated, s.Phase())
	})

	t.Run("Signed Out Elsewhere", func(t *testing.T) {
		s, fb := newTestState(t)
		signIn(t, s, fb, "a@b.com", "alice")
		s.Start()

		require.NoError(t, fb.Backend().Auth.SignOut(ctx))

		require.Eventually(t, func() bool {
			return s.User() == nil
		}, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, PhaseAnonymous, s.Phase())
		assert.Empty(t, s.Posts())
	})

	t.Run("Stale Sign Out After New Sign In", func(t *testing.T) {
		s, fb := newTestState(t)
		au := fb.AddAccount("a@b.com", "secret1", nil, true)
		fb.SeedProfile(backend.Profile{ID: au.ID, Username: "alice"})
		fb.SetSession("a@b.com")

		// Delivered while a live session exists, the event is ignored.
		s.Start()
		require.NoError(t, s.Login(ctx, "a@b.com", "secret1"))
		s.handleAuthChange(backend.AuthChange{Event: backend.EventSignedOut})
		assert.NotNil(t, s.User())
		assert.Equal(t, PhaseAuthenticated, s.Phase())
	})

	t.Run("Closed Subscription", func(t *testing.T) {
		s, fb := newTestState(t)
		au := fb.AddAccount("a@b.com", "secret1", nil, true)
		fb.SeedProfile(backend.Profile{ID: au.ID, Username: "alice"})
		s.Start()
		s.Close()

		_, err := fb.Backend().Auth.SignInWithPassword(ctx, "a@b.com", "secret1")
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
		assert.Nil(t, s.User())
	})
}

func TestLogin_WaitsForProfile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Resolves On Retry", func(t *testing.T) {
		s, fb := newTestState(t)
		au := fb.AddAccount("a@b.com", "secret1", nil, true)
		fb.SeedProfile(backend.Profile{ID: au.ID, Username: "alice"})
		fb.HideSession(1)

		require.NoError(t, s.Login(ctx, "a@b.com", "secret1"))
		assert.Equal(t, "alice", s.User().Username)
		assert.Equal(t, 2, fb.Calls(testutil.OpGetSession))
	})

	t.Run("Unresolved Is An Error", func(t *testing.T) {
		s, fb := newTestState(t)
		fb.AddAccount("a@b.com", "secret1", nil, true)
		fb.HideSession(testConfig().RestoreAttempts)

		err := s.Login(ctx, "a@b.com", "secret1")
		require.Error(t, err)
		assert.Equal(t, models.CodeRemote, appCode(t, err))
		assert.Equal(t, "Не удалось загрузить профиль. Попробуйте ещё раз.", models.UserMessage(err))
		assert.Nil(t, s.User())
		assert.False(t, s.Snapshot().IsAuthenticated)
		assert.Equal(t, PhaseInitial, s.Phase())
	})
}

func TestAuthFlowsDoNotOverlap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	registering := func(t *testing.T) (*State, *testutil.FakeBackend) {
		s, fb := newTestState(t)
		fb.AddAccount("a@b.com", "secret1", nil, true)
		s.mu.Lock()
		s.phase = PhaseRegistering
		s.mu.Unlock()
		return s, fb
	}

	t.Run("Login During Registration", func(t *testing.T) {
		s, fb := registering(t)
		err := s.Login(ctx, "a@b.com", "secret1")
		require.Error(t, err)
		assert.Equal(t, models.CodeConflict, appCode(t, err))
		assert.Equal(t, "Регистрация уже выполняется", models.UserMessage(err))
		assert.Zero(t, fb.Calls(testutil.OpSignIn))
		assert.Equal(t, PhaseRegistering, s.Phase())
		assert.Nil(t, s.User())
	})

	t.Run("Activate During Registration", func(t *testing.T) {
		s, fb := registering(t)
		assert.False(t, s.ActivateSession(ctx))
		assert.Zero(t, fb.Calls(testutil.OpGetSession))
		assert.Equal(t, PhaseRegistering, s.Phase())
	})

	t.Run("Register During Sign In", func(t *testing.T) {
		s, fb := newTestState(t)
		s.mu.Lock()
		s.phase = PhaseSigningIn
		s.mu.Unlock()

		err := s.Register(ctx, RegisterInput{Email: "b@b.com", Password: "secret1", Username: "bobby"})
		require.Error(t, err)
		assert.Equal(t, "Вход уже выполняется", models.UserMessage(err))
		assert.Zero(t, fb.Calls(testutil.OpSignUp))
	})
}

func TestLogin_OwnSignInEventIsSkipped(t *testing.T) {
	t.Parallel()
	s, fb := newTestState(t)
	au := fb.AddAccount("a@b.com", "secret1", nil, true)
	fb.SeedProfile(backend.Profile{ID: au.ID, Username: "alice"})
	s.Start()

	require.NoError(t, s.Login(context.Background(), "a@b.com", "secret1"))
	// Give the asynchronous SIGNED_IN delivery time to run.
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, fb.Calls(testutil.OpProfileGet))
	assert.Equal(t, 1, fb.Calls(testutil.OpPostList))
	assert.Equal(t, "alice", s.User().Username)
}
