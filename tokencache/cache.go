package tokencache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	// expiryMargin is subtracted from the carrier-declared token lifetime so
	// a token is never used right at its expiry edge.
	expiryMargin = 60 * time.Second
	// defaultTTL applies when the carrier declares no lifetime and the token
	// carries no exp claim.
	defaultTTL = 300 * time.Second
)

// Token is one carrier credential as returned by a token endpoint.
type Token struct {
	Value string
	// ExpiresIn is the carrier-declared lifetime; zero when the carrier
	// declares none.
	ExpiresIn time.Duration
}

// FetchFunc obtains a fresh credential from the carrier.
type FetchFunc func(ctx context.Context) (Token, error)

// Store is the TTL storage backend behind the cache.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// Cache returns cached carrier credentials and fetches on miss. Concurrent
// misses for the same key are collapsed into a single carrier fetch.
type Cache struct {
	store Store
	group singleflight.Group
}

// New builds a cache over the given storage backend.
func New(store Store) *Cache {
	return &Cache{store: store}
}

// Key derives the stable cache key for one credential set.
func Key(host, clientID, secret string) string {
	sum := sha1.Sum([]byte(host + clientID + secret))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached credential for key, fetching it via fetch when the
// cache has no live entry.
func (c *Cache) Get(ctx context.Context, key string, fetch FetchFunc) (string, error) {
	if v, ok := c.store.Get(ctx, key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent fetch may have landed while we queued.
		if v, ok := c.store.Get(ctx, key); ok {
			return v, nil
		}
		tok, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		c.store.Set(ctx, key, tok.Value, ttlFor(tok))
		return tok.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func ttlFor(tok Token) time.Duration {
	if tok.ExpiresIn > expiryMargin {
		return tok.ExpiresIn - expiryMargin
	}
	if tok.ExpiresIn > 0 {
		return tok.ExpiresIn
	}
	if exp, ok := jwtExpiry(tok.Value); ok {
		if ttl := time.Until(exp) - expiryMargin; ttl > 0 {
			return ttl
		}
	}
	return defaultTTL
}

// jwtExpiry probes the token for a JWT exp claim without verifying the
// signature; expiry is advisory here, the carrier stays the authority.
func jwtExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
