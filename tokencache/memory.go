package tokencache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is the in-process storage backend.
type Memory struct {
	c *gocache.Cache
}

// NewMemory builds an in-process backend with background expiry sweeps.
func NewMemory() *Memory {
	return &Memory{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) {
	m.c.Set(key, value, ttl)
}
