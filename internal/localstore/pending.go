package localstore

import (
	"context"

	"ikak/internal/models"
)

// PendingProfiles is the single-slot cache bridging account creation and the
// first profile row.
type PendingProfiles struct {
	safe *SafeStorage
}

// NewPendingProfiles returns a cache backed by storage.
func NewPendingProfiles(storage Storage) *PendingProfiles {
	return &PendingProfiles{safe: NewSafeStorage(storage)}
}

// Save replaces any pending profile.
func (p *PendingProfiles) Save(ctx context.Context, profile models.PendingProfile) error {
	return p.safe.Set(ctx, PendingProfileKey, profile)
}

// Load returns the pending profile, if any.
func (p *PendingProfiles) Load(ctx context.Context) (models.PendingProfile, bool) {
	var profile models.PendingProfile
	if !p.safe.Get(ctx, PendingProfileKey, &profile) {
		return models.PendingProfile{}, false
	}
	return profile, true
}

// Clear removes the pending profile.
func (p *PendingProfiles) Clear(ctx context.Context) error {
	return p.safe.Remove(ctx, PendingProfileKey)
}
