package models

import "time"

// Post is a feed entry with its author fields, like state and comments
// denormalized for rendering.
type Post struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	Likes       int       `json:"likes"`
	// Liked is relative to the viewing user.
	Liked    bool      `json:"liked"`
	Comments []Comment `json:"comments"`
}

// Comment is an append-only reply to a post, oldest first within the post.
type Comment struct {
	ID          string    `json:"id"`
	PostID      string    `json:"post_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers cannot mutate store-owned slices.
func (p Post) Clone() Post {
	out := p
	out.Comments = append([]Comment(nil), p.Comments...)
	if out.Comments == nil {
		out.Comments = []Comment{}
	}
	return out
}

// Author stamps the denormalized author fields of u onto the post.
func (p *Post) Author(u User) {
	p.UserID = u.ID
	p.Username = u.Username
	p.DisplayName = u.DisplayName
	p.AvatarURL = u.AvatarURL
}

// Author stamps the denormalized author fields of u onto the comment.
func (c *Comment) Author(u User) {
	c.UserID = u.ID
	c.Username = u.Username
	c.DisplayName = u.DisplayName
	c.AvatarURL = u.AvatarURL
}
