package archer

import (
	"context"
	"testing"
	"time"

	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnvs map[string]models.Environment

func (f fakeEnvs) Get(id string) (models.Environment, bool) {
	env, ok := f[id]
	return env, ok
}

func (f fakeEnvs) List() []models.Environment {
	out := make([]models.Environment, 0, len(f))
	for _, env := range f {
		out = append(out, env)
	}
	return out
}

func testConfig() *models.Config {
	cfg := &models.Config{}
	cfg.Platform.Username = testutil.TestUsername
	cfg.Platform.Password = testutil.TestPassword
	cfg.SetDefaults()
	return cfg
}

func newTestManager(envs EnvironmentLookup) *SessionManager {
	cfg := testConfig()
	return NewSessionManager(func() *models.Config { return cfg }, envs, WithRetry(0, time.Millisecond, time.Millisecond))
}

func TestResolveEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		envs    EnvironmentLookup
		request string
		wantID  string
		wantURL string
	}{
		{
			name:    "requested environment",
			envs:    fakeEnvs{"test": {ID: "test", URL: "https://192.168.1.100"}, "production": {ID: "production"}},
			request: "test",
			wantID:  "test",
			wantURL: "https://192.168.1.100",
		},
		{
			name:    "unknown falls back to production",
			envs:    fakeEnvs{"production": {ID: "production", URL: "https://172.118.57.100"}},
			request: "staging",
			wantID:  "production",
			wantURL: "https://172.118.57.100",
		},
		{
			name:    "no production uses first by id",
			envs:    fakeEnvs{"zeta": {ID: "zeta"}, "alpha": {ID: "alpha", URL: "https://10.0.0.1"}},
			request: "",
			wantID:  "alpha",
			wantURL: "https://10.0.0.1",
		},
		{
			name:    "empty registry uses default address",
			envs:    fakeEnvs{},
			wantID:  "default",
			wantURL: DefaultPlatformURL,
		},
		{
			name:    "nil registry",
			envs:    nil,
			wantID:  "default",
			wantURL: DefaultPlatformURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestManager(tt.envs).ResolveEnvironment(tt.request)
			assert.Equal(t, tt.wantID, env.ID)
			assert.Equal(t, tt.wantURL, env.URL)
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "172.118.57.100", want: "https://172.118.57.100"},
		{in: "https://10.0.0.1/", want: "https://10.0.0.1"},
		{in: "http://archer.local", want: "http://archer.local"},
		{in: "archer.local", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSessionManagerCachesClients(t *testing.T) {
	builder := testutil.NewMockPlatform().WithDefaultInventory()
	server := builder.Build()
	defer server.Close()

	m := newTestManager(fakeEnvs{"lab": {ID: "lab", URL: server.URL}})
	ctx := context.Background()

	first, err := m.EstablishEnv(ctx, "lab")
	require.NoError(t, err)
	second, err := m.EstablishEnv(ctx, "lab")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, builder.Calls(testutil.PathLogin))
	assert.Equal(t, 1, m.Count())

	current, ok := m.Current()
	require.True(t, ok)
	assert.Same(t, first, current)
}

func TestSessionManagerEstablishURL(t *testing.T) {
	builder := testutil.NewMockPlatform()
	server := builder.Build()
	defer server.Close()

	m := newTestManager(nil)
	c, err := m.EstablishURL(context.Background(), server.URL, "operator", "")
	require.NoError(t, err)
	assert.Equal(t, "operator", c.Credentials().Username())
	assert.Equal(t, testutil.TestPassword, c.Credentials().Password(), "empty password falls back to config")
	assert.Equal(t, "operator", builder.Recorded(testutil.PathLogin)[0]["loginName"])

	_, err = m.EstablishURL(context.Background(), "not a url", "", "")
	assert.Error(t, err)
}

func TestSessionManagerLoginFailureIsNotCached(t *testing.T) {
	server := testutil.NewMockPlatform().WithLoginIncomplete().Build()
	defer server.Close()

	m := newTestManager(nil)
	_, err := m.EstablishURL(context.Background(), server.URL, "", "")
	assert.ErrorIs(t, err, ErrLoginIncomplete)
	assert.Equal(t, 0, m.Count())
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestSessionManagerInvalidateAndFlush(t *testing.T) {
	builder := testutil.NewMockPlatform()
	server := builder.Build()
	defer server.Close()

	m := newTestManager(nil)
	ctx := context.Background()
	_, err := m.EstablishURL(ctx, server.URL, "", "")
	require.NoError(t, err)

	m.Invalidate(server.URL)
	assert.Equal(t, 0, m.Count())
	_, ok := m.Current()
	assert.False(t, ok)

	_, err = m.EstablishURL(ctx, server.URL, "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, builder.Calls(testutil.PathLogin))

	m.Flush()
	assert.Equal(t, 0, m.Count())
}

func TestSessionManagerEvictionLeavesHeldClientUsable(t *testing.T) {
	builder := testutil.NewMockPlatform().WithDefaultInventory()
	server := builder.Build()
	defer server.Close()

	m := newTestManager(nil)
	ctx := context.Background()
	held, err := m.EstablishURL(ctx, server.URL, "", "")
	require.NoError(t, err)

	for key, item := range m.sessions.Items() {
		m.sessions.Set(key, item.Object, time.Millisecond)
	}
	time.Sleep(5 * time.Millisecond)
	m.sessions.DeleteExpired()
	assert.Equal(t, 0, m.Count())

	assert.True(t, held.IsLoggedIn())
	_, err = held.Hosts(ctx)
	require.NoError(t, err, "TTL eviction does not close a client someone holds")

	m.Flush()
	_, err = held.Hosts(ctx)
	require.NoError(t, err, "flush does not close a client someone holds")

	builder.ExpireSessions()
	_, err = held.Hosts(ctx)
	require.NoError(t, err, "an expired session is renewed by the holder")
}

func TestSessionManagerReplacesLoggedOutClient(t *testing.T) {
	builder := testutil.NewMockPlatform().WithDefaultInventory().WithLoginLimit(1)
	server := builder.Build()
	defer server.Close()

	m := newTestManager(nil)
	ctx := context.Background()
	stale, err := m.EstablishURL(ctx, server.URL, "", "")
	require.NoError(t, err)

	builder.ExpireSessions()
	_, err = stale.Hosts(ctx)
	require.Error(t, err)
	require.False(t, stale.IsLoggedIn())

	_, err = m.EstablishURL(ctx, server.URL, "", "")
	require.Error(t, err, "the account is locked")
	assert.Equal(t, 0, m.Count())
	assert.ErrorIs(t, stale.Close(), ErrClientClosed, "the stale client was closed when it was replaced")
}
