package archer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/utils"
	"github.com/patrickmn/go-cache"
)

const (
	// DefaultPlatformURL is used when no environment can be resolved.
	DefaultPlatformURL = "https://172.118.57.100"
	// FallbackEnvironment is tried when the requested environment is unknown.
	FallbackEnvironment = "production"

	defaultSessionTTL = 30 * time.Minute
)

// EnvironmentLookup resolves environment ids. envstore.Store implements it.
type EnvironmentLookup interface {
	Get(id string) (models.Environment, bool)
	List() []models.Environment
}

// SessionManager hands out logged-in clients, one per platform URL and
// user. Clients are cached for a TTL. Eviction only forgets a client: a
// caller still holding it keeps working, and it logs in again by itself when
// the platform expires the session.
type SessionManager struct {
	cfg  func() *models.Config
	envs EnvironmentLookup
	opts []ClientOption

	sessions *cache.Cache

	mu      sync.Mutex
	current *Client
}

// NewSessionManager creates a manager. cfg is read on every Establish so a
// reloaded configuration is picked up. envs may be nil.
func NewSessionManager(cfg func() *models.Config, envs EnvironmentLookup, opts ...ClientOption) *SessionManager {
	sessions := cache.New(defaultSessionTTL, defaultSessionTTL*2)
	sessions.OnEvicted(func(key string, v any) {
		if _, ok := v.(*Client); ok {
			logging.Component("session").WithField("session", key).Debug("Session evicted")
		}
	})
	return &SessionManager{cfg: cfg, envs: envs, opts: opts, sessions: sessions}
}

// ResolveEnvironment returns the environment to use for id. The fallback
// order is id, production, the first environment by id, then a synthetic
// entry pointing at DefaultPlatformURL.
func (m *SessionManager) ResolveEnvironment(id string) models.Environment {
	if m.envs != nil {
		if id != "" {
			if env, ok := m.envs.Get(id); ok {
				return env
			}
			logging.LogWarn(fmt.Sprintf("Environment %q not found, falling back to %s", id, FallbackEnvironment))
		}
		if env, ok := m.envs.Get(FallbackEnvironment); ok {
			return env
		}
		all := m.envs.List()
		sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
		if len(all) > 0 {
			return all[0]
		}
	}
	cfg := m.cfg()
	url := DefaultPlatformURL
	if cfg.Platform.URL != "" {
		url = cfg.Platform.URL
	}
	return models.Environment{ID: "default", Name: "default", URL: url}
}

// NormalizeURL turns a bare IP into https://ip and rejects anything that is
// neither an IP nor an http(s) URL.
func NormalizeURL(raw string) (string, error) {
	url := utils.NormalizePlatformURL(raw)
	if !utils.IsHTTPSURL(url) {
		return "", fmt.Errorf("invalid platform address %q: expected an IP or an http(s) URL", raw)
	}
	return url, nil
}

// EstablishEnv logs in to the environment id and returns the client.
func (m *SessionManager) EstablishEnv(ctx context.Context, id string) (*Client, error) {
	env := m.ResolveEnvironment(id)
	return m.establish(ctx, env)
}

// EstablishURL logs in to an explicit address with explicit credentials.
// Empty credentials fall back to the configuration.
func (m *SessionManager) EstablishURL(ctx context.Context, rawURL, username, password string) (*Client, error) {
	return m.establish(ctx, models.Environment{URL: rawURL, Username: username, Password: password})
}

func (m *SessionManager) establish(ctx context.Context, env models.Environment) (*Client, error) {
	url, err := NormalizeURL(env.URL)
	if err != nil {
		return nil, err
	}
	env.URL = url
	settings := models.SettingsFor(m.cfg(), env)
	key := url + "|" + settings.Username()

	if v, ok := m.sessions.Get(key); ok {
		c := v.(*Client)
		if c.IsLoggedIn() {
			m.setCurrent(c)
			return c, nil
		}
		// Logged out means its re-login failed or it was closed; nobody can
		// use it any more.
		m.sessions.Delete(key)
		if err := c.Close(); err != nil && !errors.Is(err, ErrClientClosed) {
			logging.Component("session").WithError(err).Warn("Failed to close stale session")
		}
	}

	client := NewClient(settings, m.opts...)
	if err := client.Login(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	m.sessions.SetDefault(key, client)
	m.setCurrent(client)
	return client, nil
}

func (m *SessionManager) setCurrent(c *Client) {
	m.mu.Lock()
	m.current = c
	m.mu.Unlock()
}

// Current returns the client of the last successful Establish.
func (m *SessionManager) Current() (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// Invalidate drops every cached session of url.
func (m *SessionManager) Invalidate(url string) {
	for key := range m.sessions.Items() {
		if len(key) > len(url) && key[:len(url)+1] == url+"|" {
			m.sessions.Delete(key)
		}
	}
	m.mu.Lock()
	if m.current != nil && m.current.BaseURL() == url {
		m.current = nil
	}
	m.mu.Unlock()
}

// Flush forgets every session so the next Establish logs in with the
// current configuration. Used on configuration reload.
func (m *SessionManager) Flush() {
	for key := range m.sessions.Items() {
		m.sessions.Delete(key)
	}
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// Count returns the number of cached sessions.
func (m *SessionManager) Count() int {
	return m.sessions.ItemCount()
}
