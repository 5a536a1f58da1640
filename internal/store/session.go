package store

import (
	"context"
	"errors"
	"strings"

	"ikak/internal/backend"
	"ikak/internal/models"
	"ikak/internal/observability"
	"ikak/internal/ratelimit"
	"ikak/internal/validation"
)

// RegisterInput is the sign-up form.
type RegisterInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func (s *State) resolveOnce(ctx context.Context) (*models.User, bool) {
	u := s.resolver.Resolve(ctx)
	return u, u != nil
}

// Restore resolves a persisted session once per load. It returns when the
// resolution finishes or the restore timeout fires, whichever is first; the
// other result is ignored. It does nothing unless the state is fresh or was
// signed out.
func (s *State) Restore(ctx context.Context) {
	s.mu.Lock()
	if !s.phase.canRestore() {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseRestoring
	epoch := s.epoch
	s.mu.Unlock()

	span, ctx := observability.StartStoreSpan(ctx, "restore")
	defer span.End()

	// Restore is bounded by its own timeout, not by the caller's request.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RestoreTimeout)
	defer cancel()

	done := make(chan Outcome[*models.User], 1)
	go func() {
		done <- Poll(rctx, s.cfg.RestoreAttempts, s.cfg.RestoreDelay, s.resolveOnce)
	}()

	select {
	case out := <-done:
		var u *models.User
		if out.Found {
			u = out.Value
		}
		if !s.finishRestore(u, epoch) {
			return
		}
		if u == nil {
			observability.RecordAuthOutcome("restore", "anonymous")
			return
		}
		observability.RecordAuthOutcome("restore", "restored")
		if err := s.FetchPosts(ctx, u.ID); err != nil {
			s.log.Warn(ctx, "feed load after restore failed", err)
		}
	case <-rctx.Done():
		if s.finishRestore(nil, epoch) {
			s.log.Info(ctx, "session restore timed out", "timeout", s.cfg.RestoreTimeout.String())
			observability.RecordAuthOutcome("restore", "timeout")
		}
	}
}

// finishRestore settles a restore that still owns the session.
func (s *State) finishRestore(u *models.User, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseRestoring || s.epoch != epoch {
		return false
	}
	if u == nil {
		s.phase = PhaseAnonymous
		return true
	}
	s.user = copyUser(u)
	s.phase = PhaseAuthenticated
	return true
}

// Start subscribes to auth state changes. Calling it again is a no-op.
func (s *State) Start() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.unsubscribe != nil {
		return
	}
	s.unsubscribe = s.backend.Auth.OnAuthStateChange(s.handleAuthChange)
}

// Close removes the auth subscription.
func (s *State) Close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *State) handleAuthChange(change backend.AuthChange) {
	ctx := context.Background()
	switch change.Event {
	case backend.EventSignedOut:
		s.handleSignedOut(ctx)
	case backend.EventSignedIn:
		s.handleSignedIn(ctx, change.Session)
	}
}

func (s *State) handleSignedOut(ctx context.Context) {
	// Events are delivered late; a sign-in that happened after this sign-out
	// already owns a live session.
	if sess, err := s.backend.Auth.GetSession(ctx); err == nil && sess != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case PhaseAuthenticated, PhaseRegistering:
		s.teardown(PhaseAnonymous)
		s.log.Info(ctx, "signed out by auth event")
	case PhaseRestoring, PhaseActivating, PhaseSigningIn:
		// Those flows settle the phase themselves.
	default:
		s.user = nil
		s.posts = []models.Post{}
	}
}

func (s *State) handleSignedIn(ctx context.Context, sess *backend.Session) {
	if sess == nil || sess.User.ID == "" {
		return
	}

	s.mu.Lock()
	switch s.phase {
	case PhaseRestoring, PhaseRegistering, PhaseActivating, PhaseSigningIn:
		s.mu.Unlock()
		return
	}
	if s.user != nil && s.user.ID == sess.User.ID {
		s.mu.Unlock()
		return
	}
	epoch := s.epoch
	s.mu.Unlock()

	if u := s.resolver.Resolve(ctx); u != nil {
		s.adoptAndFetch(ctx, u, epoch)
	}
}

// Login signs in with email and password. Known auth failures come back as
// localized messages, anything else with the backend's own message. A sign-in
// whose user cannot be resolved is reported as a remote error.
func (s *State) Login(ctx context.Context, email, password string) error {
	span, ctx := observability.StartStoreSpan(ctx, "login")
	defer span.End()

	s.mu.Lock()
	if !s.phase.canSignIn() {
		msg := s.busyMessage()
		s.mu.Unlock()
		return models.NewConflictError(msg)
	}
	prev := s.phase
	s.phase = PhaseSigningIn
	epoch := s.epoch
	s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := s.backend.Auth.SignInWithPassword(ctx, email, password); err != nil {
		s.abortSignIn(prev, epoch)
		span.SetError(err)
		observability.RecordAuthOutcome("login", "rejected")
		return models.NewAuthError(s.loginMessage(err), err)
	}

	// The profile row can lag behind the session.
	out := Poll(ctx, s.cfg.RestoreAttempts, s.cfg.RestoreDelay, s.resolveOnce)
	if !out.Found {
		s.abortSignIn(prev, epoch)
		s.log.Warn(ctx, "signed in but user could not be resolved", nil, "attempts", out.Attempts)
		observability.RecordAuthOutcome("login", "unresolved")
		return &models.AppError{Code: models.CodeRemote, Message: s.msg(msgProfileUnavailable)}
	}
	observability.RecordAuthOutcome("login", "ok")
	s.adoptAndFetch(ctx, out.Value, epoch)
	return nil
}

// abortSignIn hands the session back after a failed sign-in. A restore that
// was overtaken has already finished as a no-op.
func (s *State) abortSignIn(prev Phase, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseSigningIn || s.epoch != epoch {
		return
	}
	if prev == PhaseRestoring {
		prev = PhaseAnonymous
	}
	s.phase = prev
}

// busyMessage names the flow that owns the session. Callers hold s.mu.
func (s *State) busyMessage() string {
	if s.phase == PhaseSigningIn {
		return message(s.settings.Language, msgSignInBusy)
	}
	return message(s.settings.Language, msgRegistrationBusy)
}

func (s *State) loginMessage(err error) string {
	raw := backend.Message(err)
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "invalid login"):
		return s.msg(msgInvalidLogin)
	case strings.Contains(lower, "email not confirmed"):
		return s.msg(msgEmailNotConfirmed)
	}
	return raw
}

// Register creates an account and its profile. It returns nil when the user
// is signed in, ErrConfirmationRequired when the email must be confirmed
// first, and an *models.AppError otherwise.
func (s *State) Register(ctx context.Context, in RegisterInput) error {
	span, ctx := observability.StartStoreSpan(ctx, "register")
	defer span.End()

	if !s.limiter.Allow(ratelimit.ActionRegister, ratelimit.RegisterMax, ratelimit.Window) {
		observability.RecordAuthOutcome("register", "rate_limited")
		return models.NewRateLimitedError(s.msg(msgRateLimited))
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !validation.IsValidEmail(email) {
		return models.NewValidationError(s.msg(msgInvalidEmail))
	}
	if !validation.IsValidUsername(in.Username) {
		return models.NewValidationError(s.msg(msgInvalidUsername))
	}
	switch err := validation.ValidatePassword(in.Password); {
	case errors.Is(err, validation.ErrPasswordTooShort):
		return models.NewValidationError(s.msg(msgShortPassword))
	case errors.Is(err, validation.ErrPasswordTooLong):
		return models.NewValidationError(s.msg(msgLongPassword))
	}

	s.mu.Lock()
	switch {
	case s.phase == PhaseAuthenticated:
		s.mu.Unlock()
		return models.NewConflictError(message(s.settings.Language, msgAlreadySignedIn))
	case !s.phase.canRegister():
		msg := s.busyMessage()
		s.mu.Unlock()
		return models.NewConflictError(msg)
	}
	prev := s.phase
	s.phase = PhaseRegistering
	epoch := s.epoch
	s.mu.Unlock()

	err := s.register(ctx, email, in, epoch)
	if err != nil {
		s.mu.Lock()
		if s.phase == PhaseRegistering && s.epoch == epoch {
			if errors.Is(err, ErrConfirmationRequired) {
				s.phase = PhaseAnonymous
			} else {
				s.phase = prev.settled()
			}
		}
		s.mu.Unlock()
	}
	return err
}

func (s *State) register(ctx context.Context, email string, in RegisterInput, epoch uint64) error {
	username := strings.ToLower(in.Username)

	// The availability check is advisory; the unique index decides.
	if _, err := s.backend.Profiles.GetByUsername(ctx, username); err == nil {
		observability.RecordAuthOutcome("register", "username_taken")
		return models.NewValidationError(s.msg(msgUsernameTaken))
	} else if !errors.Is(err, backend.ErrNotFound) {
		s.log.Warn(ctx, "username availability check failed, continuing", err)
	}

	avatar := validation.SanitizeURL(in.AvatarURL)
	if avatar == "" {
		avatar = PlaceholderAvatar(username)
	}
	pending := models.PendingProfile{
		Username:    validation.SanitizeInput(username, validation.MaxUsernameLength),
		DisplayName: validation.SanitizeInput(in.DisplayName, validation.MaxDisplayNameLen),
		AvatarURL:   avatar,
	}
	if err := s.pending.Save(ctx, pending); err != nil {
		s.log.Warn(ctx, "save pending profile failed", err)
	}

	res, err := s.backend.Auth.SignUp(ctx, email, in.Password, backend.SignUpOptions{
		Metadata: map[string]any{
			"username":     pending.Username,
			"display_name": pending.DisplayName,
		},
		RedirectURL: s.cfg.RedirectURL,
	})
	if err != nil {
		s.clearPending(ctx)
		observability.RecordAuthOutcome("register", "rejected")
		return models.NewAuthError(backend.Message(err), err)
	}
	if res == nil || res.User == nil {
		s.clearPending(ctx)
		observability.RecordAuthOutcome("register", "no_user")
		return models.NewAuthError(s.msg(msgAccountCreation), nil)
	}
	if res.User.Identities != nil && len(res.User.Identities) == 0 {
		s.clearPending(ctx)
		observability.RecordAuthOutcome("register", "already_exists")
		return models.NewAuthError(s.msg(msgAccountExists), nil)
	}

	if res.Session == nil {
		if _, err := s.backend.Auth.SignInWithPassword(ctx, email, in.Password); err != nil {
			observability.RecordAuthOutcome("register", "confirmation_required")
			return ErrConfirmationRequired
		}
	}

	s.completeRegistration(ctx, *res.User, pending, epoch)
	observability.RecordAuthOutcome("register", "ok")
	return nil
}

// completeRegistration writes the profile row and adopts the new user.
func (s *State) completeRegistration(ctx context.Context, au backend.AuthUser, p models.PendingProfile, epoch uint64) {
	created, err := s.backend.Profiles.Insert(ctx, backend.Profile{
		ID:          au.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
	})
	if err != nil {
		s.log.Warn(ctx, "create profile after sign-up failed", err, "user_id", au.ID)
	}
	s.clearPending(ctx)

	u := s.resolver.Resolve(ctx)
	if u == nil {
		u = &models.User{
			ID:          au.ID,
			Email:       au.Email,
			Username:    p.Username,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
		}
		if created != nil {
			u.JoinedDate = models.JoinedDateOf(created.CreatedAt)
		} else {
			u.JoinedDate = models.JoinedDateOf(au.CreatedAt)
		}
	}
	s.adoptAndFetch(ctx, u, epoch)
}

// ActivateSession polls for a session after an out-of-band confirmation and
// adopts the user on the first success. It gives up silently.
func (s *State) ActivateSession(ctx context.Context) bool {
	span, ctx := observability.StartStoreSpan(ctx, "activate")
	defer span.End()

	s.mu.Lock()
	if s.phase == PhaseAuthenticated && s.user != nil {
		s.mu.Unlock()
		return true
	}
	if !s.phase.canActivate() {
		s.mu.Unlock()
		s.log.Info(ctx, "activation skipped, another auth flow is running")
		return false
	}
	s.phase = PhaseActivating
	epoch := s.epoch
	s.mu.Unlock()

	out := Poll(ctx, s.cfg.ActivateAttempts, s.cfg.ActivateDelay, s.resolveOnce)
	if out.Found && s.adoptAndFetch(ctx, out.Value, epoch) {
		observability.RecordAuthOutcome("activate", "ok")
		return true
	}

	s.mu.Lock()
	if s.phase == PhaseActivating && s.epoch == epoch {
		s.phase = PhaseAnonymous
	}
	s.mu.Unlock()
	s.log.Info(ctx, "session activation gave up", "attempts", out.Attempts)
	observability.RecordAuthOutcome("activate", "exhausted")
	return false
}

// Logout signs out remotely, clears all local identity state and allows a
// new restore.
func (s *State) Logout(ctx context.Context) {
	span, ctx := observability.StartStoreSpan(ctx, "logout")
	defer span.End()

	if err := s.backend.Auth.SignOut(ctx); err != nil {
		s.log.Warn(ctx, "remote sign-out failed", err)
	}

	s.mu.Lock()
	s.teardown(PhaseSignedOut)
	s.page = models.PageFeed
	s.mu.Unlock()

	s.clearPending(ctx)
	observability.RecordAuthOutcome("logout", "ok")
}

func (s *State) clearPending(ctx context.Context) {
	if err := s.pending.Clear(ctx); err != nil {
		s.log.Warn(ctx, "clear pending profile failed", err)
	}
}
