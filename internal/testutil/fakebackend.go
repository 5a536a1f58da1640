// Package testutil provides shared test doubles and fixtures.
package testutil

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"ikak/internal/backend"
)

// Operation names accepted by Fail and Calls.
const (
	OpGetSession     = "auth.get_session"
	OpSignIn         = "auth.sign_in"
	OpSignUp         = "auth.sign_up"
	OpSignOut        = "auth.sign_out"
	OpProfileGet     = "profiles.get"
	OpProfileByName  = "profiles.get_by_username"
	OpProfileList    = "profiles.list"
	OpProfileInsert  = "profiles.insert"
	OpProfileUpdate  = "profiles.update"
	OpPostList       = "posts.list"
	OpPostInsert     = "posts.insert"
	OpPostDelete     = "posts.delete"
	OpLikeList       = "likes.list"
	OpLikeListByUser = "likes.list_by_user"
	OpLikeInsert     = "likes.insert"
	OpLikeDelete     = "likes.delete"
	OpCommentList    = "comments.list"
	OpCommentInsert  = "comments.insert"
)

type fakeAccount struct {
	user      backend.AuthUser
	password  string
	confirmed bool
}

// FakeBackend is an in-memory backend with the same visible rules as the
// hosted service: unique usernames, unique likes, owner-only writes.
type FakeBackend struct {
	mu sync.Mutex

	// RequireConfirmation makes sign-ups wait for Confirm before sign-in works.
	RequireConfirmation bool

	accounts map[string]*fakeAccount
	session  *backend.Session
	profiles map[string]backend.Profile
	posts    []backend.PostRow
	likes    []backend.Like
	comments []backend.CommentRow

	failures      map[string]error
	calls         map[string]int
	hiddenSession int
	sessionDelay  time.Duration

	events *backend.Broadcaster
	seq    int
	clock  time.Time
}

// NewFakeBackend returns an empty backend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		accounts: make(map[string]*fakeAccount),
		profiles: make(map[string]backend.Profile),
		failures: make(map[string]error),
		calls:    make(map[string]int),
		events:   backend.NewBroadcaster(),
		clock:    time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Backend returns the contract view of f.
func (f *FakeBackend) Backend() *backend.Backend {
	return &backend.Backend{
		Auth:     fakeAuth{f},
		Profiles: fakeProfiles{f},
		Posts:    fakePosts{f},
		Likes:    fakeLikes{f},
		Comments: fakeComments{f},
	}
}

// Close stops event delivery.
func (f *FakeBackend) Close() {
	f.events.Close()
}

// Fail makes op return err until cleared with a nil err.
func (f *FakeBackend) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// Calls returns how many times op was invoked.
func (f *FakeBackend) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// HideSession makes the next n GetSession calls report no session, as if
// the sign-in had not propagated yet.
func (f *FakeBackend) HideSession(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hiddenSession = n
}

// DelaySession makes every GetSession call block for d.
func (f *FakeBackend) DelaySession(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionDelay = d
}

// AddAccount creates an account directly.
func (f *FakeBackend) AddAccount(email, password string, metadata map[string]any, confirmed bool) backend.AuthUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addAccountLocked(email, password, metadata, confirmed)
}

// Confirm marks an account's email as confirmed.
func (f *FakeBackend) Confirm(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[email]; ok {
		a.confirmed = true
	}
}

// SetSession signs email in without a password and without events, as if a
// session had been persisted by an earlier load.
func (f *FakeBackend) SetSession(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[email]; ok {
		f.session = f.newSessionLocked(a.user)
	}
}

// SeedProfile inserts a profile row.
func (f *FakeBackend) SeedProfile(p backend.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = f.tickLocked()
	}
	f.profiles[p.ID] = p
}

// SeedPost inserts a post row and returns it.
func (f *FakeBackend) SeedPost(userID, content string) backend.PostRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := backend.PostRow{ID: f.nextIDLocked("post"), UserID: userID, Content: content, CreatedAt: f.tickLocked()}
	f.posts = append(f.posts, row)
	return row
}

// SeedLike inserts a like row.
func (f *FakeBackend) SeedLike(postID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.likes = append(f.likes, backend.Like{PostID: postID, UserID: userID})
}

// SeedComment inserts a comment row.
func (f *FakeBackend) SeedComment(postID, userID, content string) backend.CommentRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := backend.CommentRow{ID: f.nextIDLocked("comment"), PostID: postID, UserID: userID, Content: content, CreatedAt: f.tickLocked()}
	f.comments = append(f.comments, row)
	return row
}

// ProfileRows returns every profile row.
func (f *FakeBackend) ProfileRows() []backend.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]backend.Profile, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, p)
	}
	return out
}

// PostRows returns every post row in insertion order.
func (f *FakeBackend) PostRows() []backend.PostRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.posts)
}

// LikeRows returns every like row.
func (f *FakeBackend) LikeRows() []backend.Like {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.likes)
}

// Session returns the current session, if any.
func (f *FakeBackend) Session() *backend.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *FakeBackend) enter(op string) error {
	f.calls[op]++
	return f.failures[op]
}

func (f *FakeBackend) tickLocked() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *FakeBackend) nextIDLocked(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *FakeBackend) addAccountLocked(email, password string, metadata map[string]any, confirmed bool) backend.AuthUser {
	id := f.nextIDLocked("user")
	u := backend.AuthUser{
		ID:           id,
		Email:        email,
		UserMetadata: metadata,
		Identities:   []backend.Identity{{ID: id, Provider: "email"}},
		CreatedAt:    f.tickLocked(),
	}
	f.accounts[email] = &fakeAccount{user: u, password: password, confirmed: confirmed}
	return u
}

func (f *FakeBackend) newSessionLocked(u backend.AuthUser) *backend.Session {
	return &backend.Session{
		AccessToken:  f.nextIDLocked("access"),
		RefreshToken: f.nextIDLocked("refresh"),
		TokenType:    "bearer",
		User:         u,
	}
}

// ownerLocked enforces owner-only writes.
func (f *FakeBackend) ownerLocked(userID string) error {
	if f.session == nil || f.session.User.ID != userID {
		return &backend.APIError{Status: http.StatusForbidden, Code: "42501", Message: "new row violates row-level security policy"}
	}
	return nil
}

type fakeAuth struct{ f *FakeBackend }

func (a fakeAuth) GetSession(ctx context.Context) (*backend.Session, error) {
	a.f.mu.Lock()
	delay := a.f.sessionDelay
	a.f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	if err := a.f.enter(OpGetSession); err != nil {
		return nil, err
	}
	if a.f.hiddenSession > 0 {
		a.f.hiddenSession--
		return nil, nil
	}
	if a.f.session == nil {
		return nil, nil
	}
	s := *a.f.session
	return &s, nil
}

func (a fakeAuth) SignInWithPassword(_ context.Context, email, password string) (*backend.Session, error) {
	a.f.mu.Lock()
	if err := a.f.enter(OpSignIn); err != nil {
		a.f.mu.Unlock()
		return nil, err
	}
	acct, ok := a.f.accounts[email]
	if !ok || acct.password != password {
		a.f.mu.Unlock()
		return nil, &backend.APIError{Status: http.StatusBadRequest, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}
	if !acct.confirmed {
		a.f.mu.Unlock()
		return nil, &backend.APIError{Status: http.StatusBadRequest, Code: "email_not_confirmed", Message: "Email not confirmed"}
	}
	s := a.f.newSessionLocked(acct.user)
	a.f.session = s
	a.f.mu.Unlock()

	a.f.events.Publish(backend.AuthChange{Event: backend.EventSignedIn, Session: s})
	return s, nil
}

func (a fakeAuth) SignUp(_ context.Context, email, password string, opts backend.SignUpOptions) (*backend.SignUpResult, error) {
	a.f.mu.Lock()
	if err := a.f.enter(OpSignUp); err != nil {
		a.f.mu.Unlock()
		return nil, err
	}
	if existing, ok := a.f.accounts[email]; ok {
		u := existing.user
		u.Identities = []backend.Identity{}
		a.f.mu.Unlock()
		return &backend.SignUpResult{User: &u}, nil
	}
	u := a.f.addAccountLocked(email, password, opts.Metadata, !a.f.RequireConfirmation)
	if a.f.RequireConfirmation {
		a.f.mu.Unlock()
		return &backend.SignUpResult{User: &u}, nil
	}
	s := a.f.newSessionLocked(u)
	a.f.session = s
	a.f.mu.Unlock()

	a.f.events.Publish(backend.AuthChange{Event: backend.EventSignedIn, Session: s})
	return &backend.SignUpResult{User: &u, Session: s}, nil
}

func (a fakeAuth) SignOut(_ context.Context) error {
	a.f.mu.Lock()
	err := a.f.enter(OpSignOut)
	a.f.session = nil
	a.f.mu.Unlock()

	a.f.events.Publish(backend.AuthChange{Event: backend.EventSignedOut})
	return err
}

func (a fakeAuth) OnAuthStateChange(fn func(backend.AuthChange)) func() {
	return a.f.events.Subscribe(fn)
}

type fakeProfiles struct{ f *FakeBackend }

func (p fakeProfiles) GetByID(_ context.Context, id string) (*backend.Profile, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpProfileGet); err != nil {
		return nil, err
	}
	row, ok := p.f.profiles[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return &row, nil
}

func (p fakeProfiles) GetByUsername(_ context.Context, username string) (*backend.Profile, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpProfileByName); err != nil {
		return nil, err
	}
	for _, row := range p.f.profiles {
		if row.Username == username {
			return &row, nil
		}
	}
	return nil, backend.ErrNotFound
}

func (p fakeProfiles) ListByIDs(_ context.Context, ids []string) ([]backend.Profile, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpProfileList); err != nil {
		return nil, err
	}
	var out []backend.Profile
	for _, id := range ids {
		if row, ok := p.f.profiles[id]; ok && !slices.ContainsFunc(out, func(x backend.Profile) bool { return x.ID == id }) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (p fakeProfiles) Insert(_ context.Context, row backend.Profile) (*backend.Profile, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpProfileInsert); err != nil {
		return nil, err
	}
	if err := p.f.ownerLocked(row.ID); err != nil {
		return nil, err
	}
	if _, ok := p.f.profiles[row.ID]; ok {
		return nil, backend.ErrConflict
	}
	for _, existing := range p.f.profiles {
		if existing.Username == row.Username {
			return nil, backend.ErrConflict
		}
	}
	row.CreatedAt = p.f.tickLocked()
	p.f.profiles[row.ID] = row
	return &row, nil
}

func (p fakeProfiles) Update(_ context.Context, id string, fields map[string]any) (*backend.Profile, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpProfileUpdate); err != nil {
		return nil, err
	}
	if err := p.f.ownerLocked(id); err != nil {
		return nil, err
	}
	row, ok := p.f.profiles[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	for k, v := range fields {
		s, _ := v.(string)
		switch k {
		case "username":
			for _, other := range p.f.profiles {
				if other.ID != id && other.Username == s {
					return nil, backend.ErrConflict
				}
			}
			row.Username = s
		case "display_name":
			row.DisplayName = s
		case "bio":
			row.Bio = s
		case "avatar_url":
			row.AvatarURL = s
		}
	}
	p.f.profiles[id] = row
	return &row, nil
}

type fakePosts struct{ f *FakeBackend }

func (p fakePosts) ListRecent(_ context.Context) ([]backend.PostRow, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpPostList); err != nil {
		return nil, err
	}
	out := slices.Clone(p.f.posts)
	slices.Reverse(out)
	return out, nil
}

func (p fakePosts) Insert(_ context.Context, row backend.PostRow) (*backend.PostRow, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpPostInsert); err != nil {
		return nil, err
	}
	if err := p.f.ownerLocked(row.UserID); err != nil {
		return nil, err
	}
	row.ID = p.f.nextIDLocked("post")
	row.CreatedAt = p.f.tickLocked()
	p.f.posts = append(p.f.posts, row)
	return &row, nil
}

func (p fakePosts) Delete(_ context.Context, id string) error {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpPostDelete); err != nil {
		return err
	}
	i := slices.IndexFunc(p.f.posts, func(r backend.PostRow) bool { return r.ID == id })
	if i < 0 || p.f.ownerLocked(p.f.posts[i].UserID) != nil {
		return backend.ErrNotFound
	}
	p.f.posts = slices.Delete(p.f.posts, i, i+1)
	return nil
}

type fakeLikes struct{ f *FakeBackend }

func (l fakeLikes) List(_ context.Context) ([]backend.Like, error) {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	if err := l.f.enter(OpLikeList); err != nil {
		return nil, err
	}
	return slices.Clone(l.f.likes), nil
}

func (l fakeLikes) ListByUser(_ context.Context, userID string) ([]backend.Like, error) {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	if err := l.f.enter(OpLikeListByUser); err != nil {
		return nil, err
	}
	var out []backend.Like
	for _, like := range l.f.likes {
		if like.UserID == userID {
			out = append(out, like)
		}
	}
	return out, nil
}

func (l fakeLikes) Insert(_ context.Context, like backend.Like) error {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	if err := l.f.enter(OpLikeInsert); err != nil {
		return err
	}
	if err := l.f.ownerLocked(like.UserID); err != nil {
		return err
	}
	if slices.Contains(l.f.likes, like) {
		return backend.ErrConflict
	}
	l.f.likes = append(l.f.likes, like)
	return nil
}

func (l fakeLikes) Delete(_ context.Context, like backend.Like) error {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	if err := l.f.enter(OpLikeDelete); err != nil {
		return err
	}
	if err := l.f.ownerLocked(like.UserID); err != nil {
		return err
	}
	i := slices.Index(l.f.likes, like)
	if i < 0 {
		return backend.ErrNotFound
	}
	l.f.likes = slices.Delete(l.f.likes, i, i+1)
	return nil
}

type fakeComments struct{ f *FakeBackend }

func (c fakeComments) ListByPostIDs(_ context.Context, postIDs []string) ([]backend.CommentRow, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if err := c.f.enter(OpCommentList); err != nil {
		return nil, err
	}
	var out []backend.CommentRow
	for _, row := range c.f.comments {
		if slices.Contains(postIDs, row.PostID) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (c fakeComments) Insert(_ context.Context, row backend.CommentRow) (*backend.CommentRow, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if err := c.f.enter(OpCommentInsert); err != nil {
		return nil, err
	}
	if err := c.f.ownerLocked(row.UserID); err != nil {
		return nil, err
	}
	row.ID = c.f.nextIDLocked("comment")
	row.CreatedAt = c.f.tickLocked()
	c.f.comments = append(c.f.comments, row)
	return &row, nil
}
