// Package seed provides helpers to create demo data for the platform
// emulator database. These helpers are intended for development and
// testing only.
package seed

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"ikak/internal/models"
	"ikak/internal/store"
	"ikak/internal/validation"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPassword is the password of every seeded account.
const DefaultPassword = "password123"

var nonUsernameChars = regexp.MustCompile(`[^a-z0-9_]`)

// Factory builds platform rows and persists them to the database.
// It is a thin helper used by the Seeder and tests.
type Factory struct {
	db   *gorm.DB
	opts Options
	r    *rand.Rand
	hash string
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gofakeit.Seed(seed)
	// #nosec G404: acceptable for seeding
	return &Factory{db: db, opts: opts, r: rand.New(rand.NewSource(seed))}
}

// passwordHash hashes DefaultPassword once per factory.
func (f *Factory) passwordHash() (string, error) {
	if f.hash != "" {
		return f.hash, nil
	}
	if f.opts.SkipBcrypt {
		f.hash = DefaultPassword
		return f.hash, nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	f.hash = string(hashed)
	return f.hash, nil
}

// Username derives a handle the client accepts from a first name and a
// disambiguating number.
func Username(first string, n int) string {
	base := nonUsernameChars.ReplaceAllString(strings.ToLower(first), "")
	if base == "" || base[0] < 'a' || base[0] > 'z' {
		base = "user" + base
	}
	suffix := fmt.Sprintf("_%d", n)
	if limit := validation.MaxUsernameLength - len(suffix); len(base) > limit {
		base = base[:limit]
	}
	for len(base)+len(suffix) < 3 {
		base += "x"
	}
	return base + suffix
}

// BuildAccount constructs a confirmed account and its profile row without
// persisting them.
func (f *Factory) BuildAccount(n int, overrides ...func(*models.Account, *models.ProfileRecord)) (*models.Account, *models.ProfileRecord, error) {
	hash, err := f.passwordHash()
	if err != nil {
		return nil, nil, err
	}

	first, last := gofakeit.FirstName(), gofakeit.LastName()
	username := Username(first, n)
	id := uuid.NewString()
	joined := f.pastTime()

	profile := &models.ProfileRecord{
		ID:          id,
		Username:    username,
		DisplayName: validation.SanitizeInput(first+" "+last, validation.MaxDisplayNameLen),
		Bio:         validation.SanitizeInput(gofakeit.Sentence(10), validation.MaxBioLength),
		AvatarURL:   store.PlaceholderAvatar(username),
		CreatedAt:   joined,
	}
	account := &models.Account{
		ID:               id,
		Email:            username + "@example.com",
		PasswordHash:     hash,
		EmailConfirmedAt: &joined,
		CreatedAt:        joined,
	}

	for _, override := range overrides {
		override(account, profile)
	}

	meta, err := json.Marshal(map[string]string{
		"username":     profile.Username,
		"display_name": profile.DisplayName,
	})
	if err != nil {
		return nil, nil, err
	}
	account.UserMetadata = string(meta)
	return account, profile, nil
}

// CreateAccount builds and persists a confirmed account with its profile.
func (f *Factory) CreateAccount(n int, overrides ...func(*models.Account, *models.ProfileRecord)) (*models.ProfileRecord, error) {
	account, profile, err := f.BuildAccount(n, overrides...)
	if err != nil {
		return nil, err
	}
	if f.opts.DryRun {
		log.Printf("[dry-run] CreateAccount: %s <%s>", profile.Username, account.Email)
		return profile, nil
	}
	err = f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(account).Error; err != nil {
			return err
		}
		return tx.Create(profile).Error
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// BuildPost constructs a post by author with a created_at spread over the
// last MaxDays days, but does not persist it. Useful for batching.
func (f *Factory) BuildPost(author *models.ProfileRecord, overrides ...func(*models.PostRecord)) *models.PostRecord {
	post := &models.PostRecord{
		ID:        uuid.NewString(),
		UserID:    author.ID,
		Content:   validation.SanitizeInput(gofakeit.Paragraph(1, f.r.Intn(3)+1, 8, "\n"), validation.MaxPostLength),
		CreatedAt: f.pastTime(),
	}
	if post.CreatedAt.Before(author.CreatedAt) {
		post.CreatedAt = author.CreatedAt.Add(time.Duration(f.r.Intn(3600)) * time.Second)
	}
	for _, override := range overrides {
		override(post)
	}
	return post
}

// CreatePostsBatch persists multiple posts in a single DB call.
func (f *Factory) CreatePostsBatch(posts []*models.PostRecord) error {
	if len(posts) == 0 {
		return nil
	}
	if f.opts.DryRun {
		log.Printf("[dry-run] CreatePostsBatch: %d posts (no DB write)", len(posts))
		return nil
	}
	return f.db.CreateInBatches(posts, f.batchSize()).Error
}

// CreateComment constructs and persists a comment by author on post.
func (f *Factory) CreateComment(author *models.ProfileRecord, post *models.PostRecord, overrides ...func(*models.CommentRecord)) (*models.CommentRecord, error) {
	comment := &models.CommentRecord{
		ID:        uuid.NewString(),
		PostID:    post.ID,
		UserID:    author.ID,
		Content:   validation.SanitizeInput(gofakeit.Sentence(8), validation.MaxCommentLength),
		CreatedAt: post.CreatedAt.Add(time.Duration(f.r.Intn(48*60)+1) * time.Minute),
	}
	for _, override := range overrides {
		override(comment)
	}
	if f.opts.DryRun {
		return comment, nil
	}
	if err := f.db.Create(comment).Error; err != nil {
		return nil, err
	}
	return comment, nil
}

// CreateLike persists a like from user on post. Repeated likes are ignored.
func (f *Factory) CreateLike(user *models.ProfileRecord, post *models.PostRecord) error {
	if f.opts.DryRun {
		return nil
	}
	like := &models.LikeRecord{PostID: post.ID, UserID: user.ID}
	return f.db.Clauses(clause.OnConflict{DoNothing: true}).Create(like).Error
}

func (f *Factory) pastTime() time.Time {
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	back := time.Duration(f.r.Intn(maxDays))*24*time.Hour +
		time.Duration(f.r.Intn(24))*time.Hour +
		time.Duration(f.r.Intn(60))*time.Minute
	return time.Now().UTC().Add(-back)
}

func (f *Factory) batchSize() int {
	if f.opts.BatchSize > 0 {
		return f.opts.BatchSize
	}
	return 100
}
