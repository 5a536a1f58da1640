package models

import "time"

// The records below are the platform emulator's tables. Their JSON shapes are
// the wire rows the client reads and writes.

// Account is an auth-subsystem identity held by the platform emulator.
type Account struct {
	ID               string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Email            string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash     string     `gorm:"not null" json:"-"`
	UserMetadata     string     `gorm:"type:text" json:"-"`
	ConfirmToken     string     `gorm:"index" json:"-"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Confirmed reports whether the account may sign in.
func (a *Account) Confirmed() bool {
	return a.EmailConfirmedAt != nil
}

// RefreshToken is an opaque, revocable token that renews access tokens.
type RefreshToken struct {
	Token     string    `gorm:"primaryKey;type:varchar(64)"`
	AccountID string    `gorm:"index;not null;type:varchar(36)"`
	Revoked   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time
}

// ProfileRecord is a row of the profiles table; ID equals the account ID.
type ProfileRecord struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username    string    `gorm:"uniqueIndex;not null;size:20" json:"username"`
	DisplayName string    `gorm:"size:50" json:"display_name"`
	Bio         string    `gorm:"type:text" json:"bio"`
	AvatarURL   string    `gorm:"type:text" json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName pins the table name.
func (ProfileRecord) TableName() string { return "profiles" }

// PostRecord is a row of the posts table.
type PostRecord struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"not null;index;type:varchar(36)" json:"user_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName pins the table name.
func (PostRecord) TableName() string { return "posts" }

// LikeRecord is a row of the likes table; one per (post, user).
type LikeRecord struct {
	PostID string `gorm:"primaryKey;type:varchar(36)" json:"post_id"`
	UserID string `gorm:"primaryKey;type:varchar(36);index" json:"user_id"`
}

// TableName pins the table name.
func (LikeRecord) TableName() string { return "likes" }

// CommentRecord is a row of the comments table.
type CommentRecord struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	PostID    string    `gorm:"not null;index;type:varchar(36)" json:"post_id"`
	UserID    string    `gorm:"not null;index;type:varchar(36)" json:"user_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName pins the table name.
func (CommentRecord) TableName() string { return "comments" }
