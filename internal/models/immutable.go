package models

import (
	"time"
)

// PlatformSettings holds the connection values of one platform endpoint.
// It is built once, after the environment has been resolved, and is never
// modified afterwards, so clients can share it across goroutines without
// locking.
type PlatformSettings struct {
	baseURL   string
	username  string
	password  string
	verifyTLS bool
	timeout   time.Duration
}

// NewPlatformSettings creates PlatformSettings. A zero timeout means 20 minutes.
func NewPlatformSettings(baseURL, username, password string, verifyTLS bool, timeout time.Duration) PlatformSettings {
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	return PlatformSettings{
		baseURL:   baseURL,
		username:  username,
		password:  password,
		verifyTLS: verifyTLS,
		timeout:   timeout,
	}
}

// SettingsFor combines the global configuration with an environment entry.
// Empty environment credentials fall back to the configuration.
func SettingsFor(cfg *Config, env Environment) PlatformSettings {
	username := env.Username
	if username == "" {
		username = cfg.Platform.Username
	}
	password := env.Password
	if password == "" {
		password = cfg.Platform.Password
	}
	return NewPlatformSettings(env.URL, username, password, cfg.Platform.VerifyTLS, cfg.GetPlatformTimeout())
}

// BaseURL returns the platform base URL, e.g. "https://172.118.57.100".
func (s PlatformSettings) BaseURL() string { return s.baseURL }

// Username returns the login name.
func (s PlatformSettings) Username() string { return s.username }

// Password returns the clear-text password. Never log it; use MaskedPassword.
func (s PlatformSettings) Password() string { return s.password }

// MaskedPassword returns the password masked for logs.
func (s PlatformSettings) MaskedPassword() string { return MaskSecret(s.password) }

// VerifyTLS reports whether server certificates are verified.
func (s PlatformSettings) VerifyTLS() bool { return s.verifyTLS }

// Timeout returns the per-request timeout.
func (s PlatformSettings) Timeout() time.Duration { return s.timeout }
