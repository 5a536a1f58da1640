// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// User is the fully resolved identity of the signed-in viewer.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatar_url"`
	JoinedDate  string `json:"joined_date"`
}

// PendingProfile bridges the gap between account creation and the first
// profile row. At most one exists per client.
type PendingProfile struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// DateLayout is the format of User.JoinedDate.
const DateLayout = "2006-01-02"

// JoinedDateOf formats t as a joined date, falling back to today for zero times.
func JoinedDateOf(t time.Time) string {
	if t.IsZero() {
		return time.Now().UTC().Format(DateLayout)
	}
	return t.UTC().Format(DateLayout)
}
