package seed

import (
	"fmt"
	"log"

	"ikak/internal/models"
	"ikak/internal/store"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers  int
	NumPosts  int
	MaxDays   int
	BatchSize int
	// SkipBcrypt stores the plain password; such accounts cannot sign in.
	SkipBcrypt bool
	DryRun     bool
	// RandSeed makes a run reproducible when non-zero.
	RandSeed int64
}

// Demo accounts that always exist after seeding, so there is something
// predictable to sign in with.
var demoUsers = []string{"demo", "alice", "boris"}

// Seeder fills the platform emulator's tables.
type Seeder struct {
	db      *gorm.DB
	opts    Options
	factory *Factory
}

// NewSeeder returns a Seeder writing through db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	return &Seeder{db: db, opts: opts, factory: NewFactory(db, opts)}
}

// Result counts what a seed run created.
type Result struct {
	Users    int
	Posts    int
	Likes    int
	Comments int
}

// Seed populates the database with accounts, posts and engagement.
func (s *Seeder) Seed() (Result, error) {
	log.Printf("🌱 Starting database seeding with %d users and %d posts...", s.opts.NumUsers, s.opts.NumPosts)

	users, err := s.SeedAccounts(s.opts.NumUsers)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create users: %w", err)
	}
	log.Printf("✓ %d accounts created", len(users))

	res, err := s.SeedEngagement(users, s.opts.NumPosts)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create engagement: %w", err)
	}
	res.Users = len(users)
	log.Printf("✓ %d posts, %d likes, %d comments created", res.Posts, res.Likes, res.Comments)

	log.Println("🎉 Database seeding completed successfully!")
	return res, nil
}

// ClearAll removes every row the emulator stores, children first.
func (s *Seeder) ClearAll() error {
	if s.opts.DryRun {
		return nil
	}
	log.Println("🗑️  Clearing existing data...")
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&models.CommentRecord{},
			&models.LikeRecord{},
			&models.PostRecord{},
			&models.ProfileRecord{},
			&models.RefreshToken{},
			&models.Account{},
		} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("clear %T: %w", model, err)
			}
		}
		return nil
	})
}

// SeedAccounts creates count confirmed accounts, the demo accounts first.
func (s *Seeder) SeedAccounts(count int) ([]*models.ProfileRecord, error) {
	users := make([]*models.ProfileRecord, 0, count)

	for i, name := range demoUsers {
		if i >= count {
			break
		}
		p, err := s.factory.CreateAccount(i, func(a *models.Account, p *models.ProfileRecord) {
			p.Username = name
			p.AvatarURL = store.PlaceholderAvatar(name)
			a.Email = name + "@example.com"
		})
		if err != nil {
			return nil, fmt.Errorf("create demo account %s: %w", name, err)
		}
		users = append(users, p)
	}

	for i := len(users); i < count; i++ {
		p, err := s.factory.CreateAccount(i)
		if err != nil {
			// Collisions on generated usernames are skipped, not fatal.
			log.Printf("Failed to create account %d: %v", i, err)
			continue
		}
		users = append(users, p)

		if i > 0 && i%100 == 0 {
			log.Printf("Created %d accounts...", i)
		}
	}
	return users, nil
}

// SeedEngagement writes numPosts posts spread across users, then likes and
// comments from random users.
func (s *Seeder) SeedEngagement(users []*models.ProfileRecord, numPosts int) (Result, error) {
	var res Result
	if len(users) == 0 || numPosts <= 0 {
		return res, nil
	}

	f := s.factory
	posts := make([]*models.PostRecord, 0, numPosts)
	for i := 0; i < numPosts; i++ {
		posts = append(posts, f.BuildPost(users[f.r.Intn(len(users))]))
	}
	if err := f.CreatePostsBatch(posts); err != nil {
		return res, fmt.Errorf("create posts: %w", err)
	}
	res.Posts = len(posts)

	for _, post := range posts {
		likers := f.r.Intn(len(users) + 1)
		for _, idx := range f.r.Perm(len(users))[:likers] {
			if err := f.CreateLike(users[idx], post); err != nil {
				return res, fmt.Errorf("create like: %w", err)
			}
			res.Likes++
		}

		for c := f.r.Intn(4); c > 0; c-- {
			if _, err := f.CreateComment(users[f.r.Intn(len(users))], post); err != nil {
				return res, fmt.Errorf("create comment: %w", err)
			}
			res.Comments++
		}
	}
	return res, nil
}
