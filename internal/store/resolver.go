package store

import (
	"context"
	"errors"
	"time"

	"ikak/internal/backend"
	"ikak/internal/localstore"
	"ikak/internal/models"
	"ikak/internal/observability"
)

// PlaceholderAvatar returns the generated avatar URL for seed.
func PlaceholderAvatar(seed string) string {
	return "https://api.dicebear.com/9.x/avataaars/svg?seed=" + seed
}

// Resolver turns the current auth session into a User, creating the profile
// row when it does not exist yet.
type Resolver struct {
	auth     backend.Auth
	profiles backend.Profiles
	pending  *localstore.PendingProfiles
	now      func() time.Time
	log      *observability.StoreLogger
}

// NewResolver returns a Resolver.
func NewResolver(auth backend.Auth, profiles backend.Profiles, pending *localstore.PendingProfiles) *Resolver {
	return &Resolver{
		auth:     auth,
		profiles: profiles,
		pending:  pending,
		now:      time.Now,
		log:      observability.NewStoreLogger("resolver"),
	}
}

// Resolve returns the signed-in user or nil. It never fails: backend errors
// degrade to nil or to a user derived from the session.
//
// In order: no session gives nil; an existing profile row wins; otherwise the
// pending profile is written as the row and consumed; otherwise a profile is
// derived from session metadata or the email local part.
func (r *Resolver) Resolve(ctx context.Context) *models.User {
	sess, err := r.auth.GetSession(ctx)
	if err != nil {
		r.log.Warn(ctx, "get session failed", err)
		observability.ResolverOutcomes.WithLabelValues("error").Inc()
		return nil
	}
	if sess == nil || sess.User.ID == "" {
		observability.ResolverOutcomes.WithLabelValues("no_session").Inc()
		return nil
	}
	au := sess.User

	profile, err := r.profiles.GetByID(ctx, au.ID)
	if err == nil {
		observability.ResolverOutcomes.WithLabelValues("profile").Inc()
		return userFromProfile(au, profile)
	}
	if !errors.Is(err, backend.ErrNotFound) {
		r.log.Warn(ctx, "profile lookup failed", err, "user_id", au.ID)
		observability.ResolverOutcomes.WithLabelValues("error").Inc()
		return nil
	}

	if pending, ok := r.pending.Load(ctx); ok {
		observability.ResolverOutcomes.WithLabelValues("pending").Inc()
		return r.createFromPending(ctx, au, pending)
	}

	observability.ResolverOutcomes.WithLabelValues("derived").Inc()
	return r.createDerived(ctx, au)
}

func (r *Resolver) createFromPending(ctx context.Context, au backend.AuthUser, pending models.PendingProfile) *models.User {
	created, err := r.profiles.Insert(ctx, backend.Profile{
		ID:          au.ID,
		Username:    pending.Username,
		DisplayName: pending.DisplayName,
		AvatarURL:   pending.AvatarURL,
	})
	if err != nil {
		r.log.Warn(ctx, "create profile from pending failed", err, "user_id", au.ID)
	}
	// One use only, whatever the insert did.
	if err := r.pending.Clear(ctx); err != nil {
		r.log.Warn(ctx, "clear pending profile failed", err)
	}

	var joined time.Time
	if created != nil {
		joined = created.CreatedAt
	}
	return &models.User{
		ID:          au.ID,
		Email:       au.Email,
		Username:    pending.Username,
		DisplayName: pending.DisplayName,
		AvatarURL:   pending.AvatarURL,
		JoinedDate:  r.joinedDate(joined),
	}
}

func (r *Resolver) createDerived(ctx context.Context, au backend.AuthUser) *models.User {
	username := au.MetadataString("username")
	if username == "" {
		username = au.EmailLocalPart()
	}
	if username == "" {
		username = "user"
	}
	displayName := au.MetadataString("display_name")
	if displayName == "" {
		displayName = username
	}
	avatar := PlaceholderAvatar(au.ID)

	if _, err := r.profiles.Insert(ctx, backend.Profile{
		ID:          au.ID,
		Username:    username,
		DisplayName: displayName,
		AvatarURL:   avatar,
	}); err != nil {
		r.log.Warn(ctx, "create derived profile failed", err, "user_id", au.ID)
	}

	return &models.User{
		ID:          au.ID,
		Email:       au.Email,
		Username:    username,
		DisplayName: displayName,
		AvatarURL:   avatar,
		JoinedDate:  r.joinedDate(time.Time{}),
	}
}

func (r *Resolver) joinedDate(t time.Time) string {
	if t.IsZero() {
		t = r.now()
	}
	return models.JoinedDateOf(t)
}

func userFromProfile(au backend.AuthUser, p *backend.Profile) *models.User {
	return &models.User{
		ID:          au.ID,
		Email:       au.Email,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Bio:         p.Bio,
		AvatarURL:   p.AvatarURL,
		JoinedDate:  models.JoinedDateOf(p.CreatedAt),
	}
}
