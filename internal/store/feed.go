package store

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"ikak/internal/backend"
	"ikak/internal/models"
	"ikak/internal/observability"
	"ikak/internal/ratelimit"
	"ikak/internal/validation"
)

// Mutations change local state only after the backend confirms them, so a
// failed call leaves nothing to roll back.

// FetchPosts replaces the feed with the backend's posts, newest first, with
// authors, like counts and comments joined in. viewerID, when set, decides
// each post's Liked flag. On any failure the previous feed is kept.
func (s *State) FetchPosts(ctx context.Context, viewerID string) error {
	span, ctx := observability.StartStoreSpan(ctx, "fetch_posts")
	defer span.End()

	epoch := s.currentEpoch()
	start := time.Now()

	posts, err := s.loadFeed(ctx, viewerID)
	if err != nil {
		span.SetError(err)
		observability.FeedFetchLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		s.log.Error(ctx, "fetch posts failed", err)
		return models.NewRemoteError("fetch posts", err)
	}
	observability.FeedFetchLatency.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil
	}
	s.posts = posts
	return nil
}

// RefreshPosts reloads the feed for the signed-in user; without one it does
// nothing.
func (s *State) RefreshPosts(ctx context.Context) error {
	u, _ := s.viewer()
	if u == nil {
		return nil
	}
	return s.FetchPosts(ctx, u.ID)
}

func (s *State) loadFeed(ctx context.Context, viewerID string) ([]models.Post, error) {
	rows, err := s.backend.Posts.ListRecent(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []models.Post{}, nil
	}

	authorIDs := make([]string, 0, len(rows))
	postIDs := make([]string, 0, len(rows))
	for _, r := range rows {
		authorIDs = append(authorIDs, r.UserID)
		postIDs = append(postIDs, r.ID)
	}
	authors, err := s.profileMap(ctx, authorIDs)
	if err != nil {
		return nil, err
	}

	likes, err := s.backend.Likes.List(ctx)
	if err != nil {
		return nil, err
	}
	likeCounts := make(map[string]int)
	liked := make(map[string]bool)
	for _, l := range likes {
		likeCounts[l.PostID]++
		if viewerID != "" && l.UserID == viewerID {
			liked[l.PostID] = true
		}
	}

	commentRows, err := s.backend.Comments.ListByPostIDs(ctx, postIDs)
	if err != nil {
		return nil, err
	}
	commentAuthorIDs := make([]string, 0, len(commentRows))
	for _, c := range commentRows {
		commentAuthorIDs = append(commentAuthorIDs, c.UserID)
	}
	commentAuthors, err := s.profileMap(ctx, commentAuthorIDs)
	if err != nil {
		return nil, err
	}

	fallback := s.msg(msgFallbackName)
	comments := make(map[string][]models.Comment)
	for _, c := range commentRows {
		comment := models.Comment{
			ID:        c.ID,
			PostID:    c.PostID,
			Content:   c.Content,
			CreatedAt: c.CreatedAt,
		}
		comment.Author(authorOf(commentAuthors, c.UserID, fallback))
		comments[c.PostID] = append(comments[c.PostID], comment)
	}

	posts := make([]models.Post, 0, len(rows))
	for _, r := range rows {
		cs := comments[r.ID]
		slices.SortStableFunc(cs, func(a, b models.Comment) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
		if cs == nil {
			cs = []models.Comment{}
		}
		post := models.Post{
			ID:        r.ID,
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
			Likes:     likeCounts[r.ID],
			Liked:     liked[r.ID],
			Comments:  cs,
		}
		post.Author(authorOf(authors, r.UserID, fallback))
		posts = append(posts, post)
	}
	slices.SortStableFunc(posts, func(a, b models.Post) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	return posts, nil
}

func (s *State) profileMap(ctx context.Context, ids []string) (map[string]backend.Profile, error) {
	if len(ids) == 0 {
		return map[string]backend.Profile{}, nil
	}
	profiles, err := s.backend.Profiles.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	m := make(map[string]backend.Profile, len(profiles))
	for _, p := range profiles {
		m[p.ID] = p
	}
	return m, nil
}

// authorOf returns the author fields for userID, with placeholders for a
// missing profile.
func authorOf(profiles map[string]backend.Profile, userID, fallbackName string) models.User {
	u := models.User{ID: userID, Username: "user", DisplayName: fallbackName}
	if p, ok := profiles[userID]; ok {
		if p.Username != "" {
			u.Username = p.Username
		}
		if p.DisplayName != "" {
			u.DisplayName = p.DisplayName
		}
		u.AvatarURL = p.AvatarURL
	}
	return u
}

// AddPost publishes content as the signed-in user and prepends it to the feed.
func (s *State) AddPost(ctx context.Context, content string) (*models.Post, error) {
	u, epoch := s.viewer()
	if u == nil {
		return nil, models.NewUnauthorizedError(s.msg(msgNotSignedIn))
	}
	if !s.limiter.Allow(ratelimit.ActionPost, ratelimit.PostMax, ratelimit.Window) {
		return nil, models.NewRateLimitedError(s.msg(msgRateLimited))
	}
	clean := validation.SanitizeInput(content, validation.MaxPostLength)
	if clean == "" {
		return nil, models.NewValidationError(s.msg(msgEmptyContent))
	}

	row, err := s.backend.Posts.Insert(ctx, backend.PostRow{UserID: u.ID, Content: clean})
	observability.RecordFeedMutation("add_post", err)
	if err != nil {
		s.log.Error(ctx, "add post failed", err)
		return nil, models.NewRemoteError("add post", err)
	}

	post := models.Post{
		ID:        row.ID,
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
		Comments:  []models.Comment{},
	}
	post.Author(*u)

	s.mu.Lock()
	if s.epoch == epoch {
		s.posts = append([]models.Post{post}, s.posts...)
	}
	s.mu.Unlock()

	out := post.Clone()
	return &out, nil
}

// ToggleLike likes or unlikes a post held in the feed.
func (s *State) ToggleLike(ctx context.Context, postID string) (*models.Post, error) {
	u, epoch := s.viewer()
	if u == nil {
		return nil, models.NewUnauthorizedError(s.msg(msgNotSignedIn))
	}

	s.mu.Lock()
	i := s.indexOf(postID)
	if i < 0 {
		s.mu.Unlock()
		return nil, notFound(s.msg(msgPostNotFound))
	}
	wasLiked := s.posts[i].Liked
	s.mu.Unlock()

	like := backend.Like{PostID: postID, UserID: u.ID}
	var err error
	if wasLiked {
		err = s.backend.Likes.Delete(ctx, like)
		// Already gone remotely: the desired state holds.
		if errors.Is(err, backend.ErrNotFound) {
			err = nil
		}
	} else {
		err = s.backend.Likes.Insert(ctx, like)
		if errors.Is(err, backend.ErrConflict) {
			err = nil
		}
	}
	observability.RecordFeedMutation("toggle_like", err)
	if err != nil {
		s.log.Error(ctx, "toggle like failed", err, "post_id", postID)
		return nil, models.NewRemoteError("toggle like", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil, models.NewUnauthorizedError(message(s.settings.Language, msgNotSignedIn))
	}
	i = s.indexOf(postID)
	if i < 0 {
		return nil, notFound(message(s.settings.Language, msgPostNotFound))
	}
	p := &s.posts[i]
	if p.Liked == wasLiked {
		p.Liked = !wasLiked
		if wasLiked {
			p.Likes = max(p.Likes-1, 0)
		} else {
			p.Likes++
		}
	}
	out := p.Clone()
	return &out, nil
}

// AddComment appends a comment to a post.
func (s *State) AddComment(ctx context.Context, postID, content string) (*models.Comment, error) {
	u, epoch := s.viewer()
	if u == nil {
		return nil, models.NewUnauthorizedError(s.msg(msgNotSignedIn))
	}
	if !s.limiter.Allow(ratelimit.CommentAction(postID), ratelimit.CommentMax, ratelimit.Window) {
		return nil, models.NewRateLimitedError(s.msg(msgRateLimited))
	}
	clean := validation.SanitizeInput(content, validation.MaxCommentLength)
	if clean == "" {
		return nil, models.NewValidationError(s.msg(msgEmptyContent))
	}

	row, err := s.backend.Comments.Insert(ctx, backend.CommentRow{PostID: postID, UserID: u.ID, Content: clean})
	observability.RecordFeedMutation("add_comment", err)
	if err != nil {
		s.log.Error(ctx, "add comment failed", err, "post_id", postID)
		return nil, models.NewRemoteError("add comment", err)
	}

	comment := models.Comment{
		ID:        row.ID,
		PostID:    postID,
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
	}
	comment.Author(*u)

	s.mu.Lock()
	if s.epoch == epoch {
		if i := s.indexOf(postID); i >= 0 {
			s.posts[i].Comments = append(s.posts[i].Comments, comment)
		}
	}
	s.mu.Unlock()

	return &comment, nil
}

// DeletePost removes one of the signed-in user's own posts.
func (s *State) DeletePost(ctx context.Context, postID string) error {
	u, epoch := s.viewer()
	if u == nil {
		return models.NewUnauthorizedError(s.msg(msgNotSignedIn))
	}

	s.mu.Lock()
	i := s.indexOf(postID)
	if i < 0 {
		s.mu.Unlock()
		return notFound(message(s.settings.Language, msgPostNotFound))
	}
	owner := s.posts[i].UserID
	s.mu.Unlock()
	if owner != u.ID {
		return models.NewForbiddenError(s.msg(msgNotAuthor))
	}

	err := s.backend.Posts.Delete(ctx, postID)
	if errors.Is(err, backend.ErrNotFound) {
		err = nil
	}
	observability.RecordFeedMutation("delete_post", err)
	if err != nil {
		s.log.Error(ctx, "delete post failed", err, "post_id", postID)
		return models.NewRemoteError("delete post", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		if i := s.indexOf(postID); i >= 0 {
			s.posts = slices.Delete(s.posts, i, i+1)
		}
	}
	return nil
}

// indexOf must be called with s.mu held.
func (s *State) indexOf(postID string) int {
	return slices.IndexFunc(s.posts, func(p models.Post) bool { return p.ID == postID })
}

func notFound(msg string) *models.AppError {
	return &models.AppError{Code: models.CodeNotFound, Message: msg}
}
