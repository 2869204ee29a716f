package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fjacquet/archer_ops/internal/exporter"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPlatform answers the collector with an empty platform.
type stubPlatform struct {
	loginErr error
	zoneErr  error
}

func (s *stubPlatform) Login(context.Context) error { return s.loginErr }
func (s *stubPlatform) IsLoggedIn() bool            { return false }
func (s *stubPlatform) BaseURL() string             { return "https://10.0.0.9" }
func (s *stubPlatform) Zone(context.Context) (string, error) {
	return "zone-1", s.zoneErr
}
func (s *stubPlatform) ClusterInfo(context.Context) (models.ClusterInfo, error) {
	return models.ClusterInfo{}, nil
}
func (s *stubPlatform) StoragesByDiskType(context.Context) ([]models.Storage, error) {
	return nil, nil
}
func (s *stubPlatform) Images(context.Context, string) ([]models.Image, error) { return nil, nil }
func (s *stubPlatform) ListVMs(context.Context, models.VMQuery) ([]models.VirtualMachine, error) {
	return nil, nil
}
func (s *stubPlatform) ListDisks(context.Context, models.DiskQuery) ([]models.Disk, error) {
	return nil, nil
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name     string
		platform *stubPlatform
		noColl   bool
		wantCode int
		wantBody string
	}{
		{name: "reachable", platform: &stubPlatform{}, wantCode: http.StatusOK, wantBody: "OK"},
		{name: "login fails", platform: &stubPlatform{loginErr: errors.New("bad credentials")}, wantCode: http.StatusServiceUnavailable, wantBody: "UNHEALTHY: platform connectivity test failed: bad credentials"},
		{name: "zone fails", platform: &stubPlatform{zoneErr: errors.New("timeout")}, wantCode: http.StatusServiceUnavailable, wantBody: "UNHEALTHY"},
		{name: "no collector", noColl: true, wantCode: http.StatusServiceUnavailable, wantBody: "UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{}
			if !tt.noColl {
				s.collector = exporter.NewInventoryCollector(tt.platform)
			}
			rec := httptest.NewRecorder()
			s.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func loadTestApp(t *testing.T, te testEnv) *app {
	t.Helper()
	a := newApp()
	a.configPath = te.configPath
	a.stdout = io.Discard
	a.stderr = io.Discard
	require.NoError(t, a.load())
	return a
}

func TestServerReloadSwapsCollector(t *testing.T) {
	te := newTestEnv(t)
	a := loadTestApp(t, te)
	s := NewServer(a)
	require.NoError(t, s.swapCollector())
	assert.Equal(t, "https://172.118.57.100", s.client.BaseURL())

	before := s.client
	require.NoError(t, s.reloadConfig(te.configPath))
	assert.Same(t, before, s.client, "unchanged platform keeps the collector")

	envs := `{"production": {"name": "prod", "url": "https://10.9.9.9", "username": "ops", "password": "x"}}`
	require.NoError(t, os.WriteFile(te.envsPath, []byte(envs), 0o600))
	require.NoError(t, s.reloadEnvironments(te.envsPath))
	assert.NotSame(t, before, s.client)
	assert.Equal(t, "https://10.9.9.9", s.client.BaseURL())
}

func TestServerRoutes(t *testing.T) {
	te := newTestEnv(t)
	a := loadTestApp(t, te)
	s := NewServer(a)
	s.collector = exporter.NewInventoryCollector(&stubPlatform{})
	require.NoError(t, s.registry.Register(s.collector))
	mcpSrv, err := a.mcpServer()
	require.NoError(t, err)
	s.mcp = mcpSrv

	srv := httptest.NewServer(s.routes(a.config()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "archer_up")

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/metrics", "text/plain", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWaitForShutdown(t *testing.T) {
	errc := make(chan error, 1)
	errc <- errors.New("bind: address already in use")
	err := waitForShutdown(context.Background(), errc)
	assert.ErrorContains(t, err, "address already in use")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.NoError(t, waitForShutdown(ctx, make(chan error)))
}

func TestServerReloadFilesFollowImplicitConfig(t *testing.T) {
	te := newTestEnv(t)
	t.Chdir(te.dir)

	a := newApp()
	a.stdout = io.Discard
	a.stderr = io.Discard
	require.NoError(t, a.load())
	s := NewServer(a)

	files := s.reloadFiles()
	assert.Len(t, files, 2)
	want, err := filepath.EvalSymlinks(te.configPath)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(a.configFile)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Contains(t, files, a.configFile)
	assert.Contains(t, files, te.envsPath)
}

func TestServerReloadFilesWithoutConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	a := newApp()
	a.stdout = io.Discard
	a.stderr = io.Discard
	require.NoError(t, a.load())

	assert.Empty(t, a.configFile)
	files := NewServer(a).reloadFiles()
	assert.Len(t, files, 1)
	assert.Contains(t, files, a.config().Platform.EnvironmentsFile)
}
