// Package backend defines the contract between the client and the hosted
// backend service: an auth subsystem plus the profiles, posts, likes and
// comments tables.
package backend

import (
	"context"
	"strings"
	"time"
)

// AuthEvent names an auth state change.
type AuthEvent string

// Auth events. Only SIGNED_IN and SIGNED_OUT change client state.
const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// Identity is one login method attached to an account.
type Identity struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

// AuthUser is the auth subsystem's view of an account.
type AuthUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	Identities       []Identity     `json:"identities"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// MetadataString returns a string metadata value, or "" when absent.
func (u AuthUser) MetadataString(key string) string {
	if u.UserMetadata == nil {
		return ""
	}
	s, _ := u.UserMetadata[key].(string)
	return s
}

// EmailLocalPart returns the part of the email before '@'.
func (u AuthUser) EmailLocalPart() string {
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

// Session proves an authenticated user.
type Session struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         AuthUser `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

// AuthChange is delivered to auth subscribers.
type AuthChange struct {
	Event   AuthEvent
	Session *Session
}

// SignUpOptions carries account metadata and the confirmation redirect.
type SignUpOptions struct {
	Metadata    map[string]any
	RedirectURL string
}

// SignUpResult holds the created user and, when no confirmation is needed,
// its session.
type SignUpResult struct {
	User    *AuthUser
	Session *Session
}

// Auth is the hosted auth subsystem.
type Auth interface {
	// GetSession returns the current session or nil.
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, opts SignUpOptions) (*SignUpResult, error)
	SignOut(ctx context.Context) error
	// OnAuthStateChange registers fn and returns a function that removes it.
	OnAuthStateChange(fn func(AuthChange)) (unsubscribe func())
}

// Profile is a row of the profiles table.
type Profile struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio"`
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// PostRow is a row of the posts table.
type PostRow struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Like is a row of the likes table, unique per (PostID, UserID).
type Like struct {
	PostID string `json:"post_id"`
	UserID string `json:"user_id"`
}

// CommentRow is a row of the comments table.
type CommentRow struct {
	ID        string    `json:"id,omitempty"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Profiles is the profiles table.
type Profiles interface {
	// GetByID returns ErrNotFound when no row exists.
	GetByID(ctx context.Context, id string) (*Profile, error)
	// GetByUsername returns ErrNotFound when no row exists.
	GetByUsername(ctx context.Context, username string) (*Profile, error)
	ListByIDs(ctx context.Context, ids []string) ([]Profile, error)
	Insert(ctx context.Context, p Profile) (*Profile, error)
	// Update applies a sparse column update.
	Update(ctx context.Context, id string, fields map[string]any) (*Profile, error)
}

// Posts is the posts table.
type Posts interface {
	// ListRecent returns every post, newest first.
	ListRecent(ctx context.Context) ([]PostRow, error)
	Insert(ctx context.Context, p PostRow) (*PostRow, error)
	Delete(ctx context.Context, id string) error
}

// Likes is the likes table.
type Likes interface {
	List(ctx context.Context) ([]Like, error)
	ListByUser(ctx context.Context, userID string) ([]Like, error)
	Insert(ctx context.Context, l Like) error
	Delete(ctx context.Context, l Like) error
}

// Comments is the comments table.
type Comments interface {
	// ListByPostIDs returns comments for the given posts, oldest first.
	ListByPostIDs(ctx context.Context, postIDs []string) ([]CommentRow, error)
	Insert(ctx context.Context, c CommentRow) (*CommentRow, error)
}

// Backend groups the auth subsystem and the four tables.
type Backend struct {
	Auth     Auth
	Profiles Profiles
	Posts    Posts
	Likes    Likes
	Comments Comments
}
