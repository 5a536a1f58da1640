package store

import (
	"context"
	"errors"
	"strings"

	"ikak/internal/backend"
	"ikak/internal/models"
	"ikak/internal/observability"
	"ikak/internal/validation"
)

// UpdateProfile applies the fields of u that survive validation, then copies
// the new author fields onto the user's posts and comments in the feed.
// With nothing valid to send it returns the current user unchanged.
func (s *State) UpdateProfile(ctx context.Context, u models.ProfileUpdate) (*models.User, error) {
	current, epoch := s.viewer()
	if current == nil {
		return nil, models.NewUnauthorizedError(s.msg(msgNotSignedIn))
	}

	fields := map[string]any{}
	next := *current
	if u.DisplayName != nil {
		if v := validation.SanitizeInput(*u.DisplayName, validation.MaxDisplayNameLen); v != "" {
			fields["display_name"] = v
			next.DisplayName = v
		}
	}
	if u.Username != nil && validation.IsValidUsername(*u.Username) {
		v := strings.ToLower(*u.Username)
		fields["username"] = v
		next.Username = v
	}
	if u.Bio != nil {
		v := validation.SanitizeInput(*u.Bio, validation.MaxBioLength)
		fields["bio"] = v
		next.Bio = v
	}
	if u.AvatarURL != nil {
		if v := validation.SanitizeURL(*u.AvatarURL); v != "" {
			fields["avatar_url"] = v
			next.AvatarURL = v
		}
	}
	if len(fields) == 0 {
		return current, nil
	}

	_, err := s.backend.Profiles.Update(ctx, current.ID, fields)
	observability.RecordFeedMutation("update_profile", err)
	if err != nil {
		s.log.Error(ctx, "update profile failed", err)
		if errors.Is(err, backend.ErrConflict) {
			return nil, models.NewConflictError(s.msg(msgUsernameTaken))
		}
		return nil, models.NewRemoteError("update profile", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.user == nil || s.user.ID != next.ID {
		return copyUser(&next), nil
	}
	s.user = copyUser(&next)
	for i := range s.posts {
		p := &s.posts[i]
		if p.UserID == next.ID {
			p.Author(next)
		}
		for j := range p.Comments {
			if p.Comments[j].UserID == next.ID {
				p.Comments[j].Author(next)
			}
		}
	}
	return copyUser(&next), nil
}
