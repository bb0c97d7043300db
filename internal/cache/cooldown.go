package cache

import (
	"context"
	"strings"
	"time"
)

const cooldownNamespace = "cooldown"

// Cooldown allows one action per key per window.
type Cooldown struct {
	cache  *Cache
	scope  string
	window time.Duration
}

func NewCooldown(c *Cache, scope string, window time.Duration) *Cooldown {
	return &Cooldown{cache: c, scope: scope, window: window}
}

// Allow claims the window for key. It returns false while a previous claim
// for the same key is still live.
func (cd *Cooldown) Allow(ctx context.Context, key string) (bool, error) {
	if cd == nil || cd.cache == nil || cd.window <= 0 {
		return true, nil
	}

	return cd.cache.SetNX(ctx, cooldownNamespace, cd.scope+":"+normalizeKey(key), time.Now().UTC().Unix(), cd.window)
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
