package models

import (
	"sync/atomic"
	"time"
)

// SafeConfig holds the running configuration of a long-lived process. The
// serve command swaps in a new one on SIGHUP or when the file changes;
// readers always see a complete, validated config.
type SafeConfig struct {
	cur atomic.Pointer[Config]
}

// NewSafeConfig wraps cfg. The caller must not modify cfg afterwards.
func NewSafeConfig(cfg *Config) *SafeConfig {
	sc := &SafeConfig{}
	sc.cur.Store(cfg)
	return sc
}

// Get returns the current configuration. Treat it as read-only.
func (sc *SafeConfig) Get() *Config {
	return sc.cur.Load()
}

// Swap installs cfg, which must already be validated, and reports whether
// the platform access changed. Cached sessions and the inventory snapshot
// belong to the old platform when it did.
func (sc *SafeConfig) Swap(cfg *Config) (platformChanged bool) {
	old := sc.cur.Swap(cfg)
	return old == nil || platformAccess(old) != platformAccess(cfg)
}

// access is what a platform session depends on.
type access struct {
	url, user, password string
	verifyTLS           bool
	timeout             time.Duration
}

func platformAccess(c *Config) access {
	return access{
		url:       c.Platform.URL,
		user:      c.Platform.Username,
		password:  c.Platform.Password,
		verifyTLS: c.Platform.VerifyTLS,
		timeout:   c.GetPlatformTimeout(),
	}
}
