package cache

import "fmt"

const (
	sessionKeyPrefix   = "ikak:session:%s:%s"
	rateLimitKeyPrefix = "ratelimit:%s:%s"
)

// SessionKey namespaces a browser-session storage key.
func SessionKey(sessionID, key string) string {
	return fmt.Sprintf(sessionKeyPrefix, sessionID, key)
}

// RateLimitKey builds the fixed-window counter key for a resource and identity.
func RateLimitKey(resource, identity string) string {
	return fmt.Sprintf(rateLimitKeyPrefix, resource, identity)
}
