// Command seed fills the platform database with demo accounts and posts.
package main

import (
	"flag"
	"log"

	"ikak/internal/config"
	"ikak/internal/database"
	"ikak/internal/seed"

	"github.com/joho/godotenv"
)

func main() {
	numUsers := flag.Int("users", 20, "Number of users to create")
	numPosts := flag.Int("posts", 80, "Number of posts to create")
	maxDays := flag.Int("days", 90, "Spread post dates over this many past days")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	skipBcrypt := flag.Bool("skip-bcrypt", false, "Store plain passwords (tests only)")
	dryRun := flag.Bool("dry-run", false, "Log what would be created without writing")
	randSeed := flag.Int64("seed", 0, "Random seed; 0 picks one from the clock")
	flag.Parse()

	_ = godotenv.Load()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d users, %d posts, clean=%v\n", *numUsers, *numPosts, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s := seed.NewSeeder(db, seed.Options{
		NumUsers:   *numUsers,
		NumPosts:   *numPosts,
		MaxDays:    *maxDays,
		SkipBcrypt: *skipBcrypt,
		DryRun:     *dryRun,
		RandSeed:   *randSeed,
	})

	if *shouldClean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
	}

	res, err := s.Seed()
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ All done! %d users, %d posts, %d likes, %d comments.", res.Users, res.Posts, res.Likes, res.Comments)
	log.Printf("📧 All test users have the password: %s", seed.DefaultPassword)
}
