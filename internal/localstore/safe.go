package localstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
)

// SafeStorage stores JSON values in a reversible, URL-escaped base64 form.
// The encoding only keeps casual readers from seeing plain JSON; it is not
// encryption and offers no confidentiality.
type SafeStorage struct {
	storage Storage
}

// NewSafeStorage wraps storage.
func NewSafeStorage(storage Storage) *SafeStorage {
	return &SafeStorage{storage: storage}
}

// Set encodes value and writes it under key.
func (s *SafeStorage) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.storage.Set(ctx, key, encode(raw))
}

// Get decodes the value under key into dst. It reports false when the key
// is missing or the stored blob cannot be decoded.
func (s *SafeStorage) Get(ctx context.Context, key string, dst any) bool {
	v, ok, err := s.storage.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	raw, err := decode(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// Remove deletes key.
func (s *SafeStorage) Remove(ctx context.Context, key string) error {
	return s.storage.Remove(ctx, key)
}

// encode escapes like encodeURIComponent so blobs stay readable by a browser
// build of the same client.
func encode(raw []byte) string {
	escaped := strings.ReplaceAll(url.QueryEscape(string(raw)), "+", "%20")
	return base64.StdEncoding.EncodeToString([]byte(escaped))
}

func decode(v string) ([]byte, error) {
	escaped, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, err
	}
	plain, err := url.PathUnescape(string(escaped))
	if err != nil {
		return nil, err
	}
	return []byte(plain), nil
}
