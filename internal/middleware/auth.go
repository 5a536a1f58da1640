// Package middleware provides the platform emulator's Fiber middleware:
// API key and bearer token checks, rate limiting, request logging and tracing.
package middleware

import (
	"crypto/subtle"
	"strings"

	"ikak/internal/config"
	"ikak/internal/models"
	"ikak/internal/service"

	"github.com/gofiber/fiber/v2"
)

// Fiber locals set by the auth middleware.
const (
	LocalUserID = "userID"
	LocalClaims = "claims"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// APIKeyRequired rejects requests that do not carry the project's anon key in
// the apikey header.
func APIKeyRequired(c *fiber.Ctx) error {
	key := c.Get("apikey")
	if key == "" {
		key = c.Query("apikey")
	}
	if key == "" {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("No API key found in request"))
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.AnonKey)) != 1 {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Invalid API key"))
	}
	return c.Next()
}

// OptionalAuth identifies the caller from the bearer token when it is an
// access token. No token, or the anon key itself, leaves the request
// anonymous. Any other token must be valid.
func OptionalAuth(c *fiber.Ctx) error {
	token, err := bearerToken(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}
	if token == "" || token == cfg.AnonKey {
		return c.Next()
	}
	return authenticate(c, token)
}

// AuthRequired is a middleware that enforces a signed-in caller.
func AuthRequired(c *fiber.Ctx) error {
	token, err := bearerToken(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}
	if token == "" || token == cfg.AnonKey {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Authorization header required"))
	}
	return authenticate(c, token)
}

func authenticate(c *fiber.Ctx, token string) error {
	claims, err := service.ParseAccessToken(token, cfg.JWTSecret)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Invalid or expired token"))
	}
	c.Locals(LocalUserID, claims.Subject)
	c.Locals(LocalClaims, claims)
	return c.Next()
}

// bearerToken extracts the token from "Bearer <token>". A missing header
// yields "".
func bearerToken(c *fiber.Ctx) (string, error) {
	header := c.Get("Authorization")
	if header == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", models.NewUnauthorizedError("Invalid authorization header format")
	}
	return token, nil
}

// UserID returns the authenticated subject, or "" for anonymous requests.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}
