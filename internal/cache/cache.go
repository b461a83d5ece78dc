package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chainscope/social-pulse/internal/metrics"
	"github.com/sirupsen/logrus"
)

// TTLs by data volatility
const (
	SearchTTL       = 5 * time.Minute
	TimelineTTL     = 10 * time.Minute
	SubredditTTL    = 10 * time.Minute
	ChannelTTL      = 10 * time.Minute
	UserListingTTL  = 30 * time.Minute
	UserInfoTTL     = time.Hour
	OAuthTokenTTL   = 55 * time.Minute
	DefaultFetchTTL = 5 * time.Minute
)

// Cache fronts paid or rate-limited platform API calls
type Cache struct {
	store Store
}

// New wraps a Store
func New(store Store) *Cache {
	return &Cache{store: store}
}

// Request describes one cacheable platform call
type Request struct {
	Platform  string
	Endpoint  string
	Operation string
	Params    interface{}
	// Key overrides the derived key when set
	Key string
	TTL time.Duration
}

// CacheKey returns {platform}_{operation}_{md5(endpoint, params)}
func (r Request) CacheKey() string {
	if r.Key != "" {
		return r.Key
	}
	params, err := json.Marshal(r.Params)
	if err != nil {
		params = []byte(fmt.Sprintf("%v", r.Params))
	}
	return fmt.Sprintf("%s_%s_%s", r.Platform, r.Operation, HashKey(r.Endpoint, string(params)))
}

// CacheOrRetrieve returns the cached value for req or calls fetch and caches its result.
// A fetch error propagates and nothing is stored. Backend failures are logged and
// degrade to a direct fetch.
func CacheOrRetrieve[T any](ctx context.Context, c *Cache, req Request, fetch func(ctx context.Context) (T, error)) (T, error) {
	if c == nil || c.store == nil {
		return fetch(ctx)
	}

	key := req.CacheKey()
	log := logrus.WithFields(logrus.Fields{
		"platform":  req.Platform,
		"operation": req.Operation,
		"cache_key": key,
	})

	if data, err := c.store.Get(ctx, key); err == nil {
		var cached T
		if err := json.Unmarshal(data, &cached); err == nil {
			metrics.CacheRequests.WithLabelValues(req.Platform, req.Operation, "hit").Inc()
			log.Debug("API cache hit")
			return cached, nil
		}
		log.Warn("Discarding undecodable cache entry")
	} else if !errors.Is(err, ErrCacheMiss) {
		log.WithError(err).Warn("API cache lookup failed")
	}

	metrics.CacheRequests.WithLabelValues(req.Platform, req.Operation, "miss").Inc()

	value, err := fetch(ctx)
	if err != nil {
		return value, err
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultFetchTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		log.WithError(err).Warn("Could not encode API response for caching")
		return value, nil
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		log.WithError(err).Warn("API cache write failed")
	}

	return value, nil
}

// Forget drops a cached entry, e.g. a rejected OAuth token
func (c *Cache) Forget(ctx context.Context, req Request) error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Delete(ctx, req.CacheKey())
}
