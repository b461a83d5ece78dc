package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	// ErrCacheMiss is returned by a Store when the key is absent or expired
	ErrCacheMiss = errors.New("cache miss")

	// ErrLockHeld is returned when a uniqueness lock is owned by someone else
	ErrLockHeld = errors.New("lock already held")
)

// Store is the byte-level backend behind the API cache and job locks
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// HashKey returns the md5 hex digest of the joined parts
func HashKey(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
