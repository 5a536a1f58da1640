// Package bootstrap wires the platform emulator's runtime dependencies.
package bootstrap

import (
	"fmt"
	"log"
	"strings"

	"ikak/internal/cache"
	"ikak/internal/config"
	"ikak/internal/database"
	"ikak/internal/models"
	"ikak/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemoData fills an empty development database with demo rows.
	SeedDemoData bool
	DemoUsers    int
	DemoPosts    int
}

// InitRuntime connects to DB and Redis and optionally seeds demo data.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Redis is optional; a nil client disables the auth rate limits.
	r := cache.InitRedis(cfg.RedisURL)

	if opts.SeedDemoData {
		if err := ensureDemoData(cfg, db, opts); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, r, nil
}

// ensureDemoData seeds only in development and only when no account exists.
func ensureDemoData(cfg *config.Config, db *gorm.DB, opts Options) error {
	if cfg == nil || db == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") {
		return nil
	}

	var accounts int64
	if err := db.Model(&models.Account{}).Count(&accounts).Error; err != nil {
		return err
	}
	if accounts > 0 {
		return nil
	}

	users, posts := opts.DemoUsers, opts.DemoPosts
	if users <= 0 {
		users = 10
	}
	if posts <= 0 {
		posts = 30
	}
	res, err := seed.NewSeeder(db, seed.Options{NumUsers: users, NumPosts: posts}).Seed()
	if err != nil {
		return err
	}
	log.Printf("development demo data ensured: %d accounts, %d posts (password %q)", res.Users, res.Posts, seed.DefaultPassword)
	return nil
}
