package exporter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fjacquet/archer_ops/internal/archer"
	"github.com/fjacquet/archer_ops/internal/models"
	platformtest "github.com/fjacquet/archer_ops/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeClient struct {
	mu          sync.Mutex
	loggedIn    bool
	loginErr    error
	zoneErr     error
	diskErr     error
	clusterErrs []error
	vms         []models.VirtualMachine
	disks       []models.Disk
	logins      int
	vmPages     []int
	clusterHits int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		vms: []models.VirtualMachine{
			{ID: "1", Status: "START"},
			{ID: "2", Status: "START"},
			{ID: "3", Status: "STOP"},
			{ID: "4"},
		},
		disks: []models.Disk{
			{ID: "d1", Size: 20, StorageManageID: "sm-arstor"},
			{ID: "d2", Size: 80, StorageManageID: "sm-arstor"},
			{ID: "d3", Size: 10, StorageManageID: "sm-local"},
			{ID: "d4", Size: 5, StorageManageID: "sm-gone"},
		},
	}
}

func (f *fakeClient) Login(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginErr != nil {
		return f.loginErr
	}
	f.loggedIn = true
	return nil
}

func (f *fakeClient) IsLoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn
}

func (f *fakeClient) BaseURL() string { return "https://10.0.0.5" }

func (f *fakeClient) Zone(context.Context) (string, error) {
	if f.zoneErr != nil {
		return "", f.zoneErr
	}
	return "zone-1", nil
}

func (f *fakeClient) ClusterInfo(context.Context) (models.ClusterInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clusterHits++
	if len(f.clusterErrs) > 0 {
		err := f.clusterErrs[0]
		f.clusterErrs = f.clusterErrs[1:]
		return models.ClusterInfo{}, err
	}
	return models.ClusterInfo{ClusterID: "c-42", ArchType: "x86_64"}, nil
}

func (f *fakeClient) StoragesByDiskType(context.Context) ([]models.Storage, error) {
	return []models.Storage{
		{StackName: "basic-replica2", StorageBackend: "Arstor", StorageManageID: "sm-arstor"},
		{StackName: "fast-replica3", StorageBackend: "Arstor", StorageManageID: "sm-fast"},
		{StackName: "local-ssd", StorageBackend: "Local", StorageManageID: "sm-local"},
	}, nil
}

func (f *fakeClient) Images(context.Context, string) ([]models.Image, error) {
	return []models.Image{{ImageID: "i1"}, {ImageID: "i2"}}, nil
}

func page[T any](items []T, number, size int) []T {
	start := (number - 1) * size
	if start >= len(items) {
		return nil
	}
	end := min(start+size, len(items))
	return items[start:end]
}

func (f *fakeClient) ListVMs(_ context.Context, q models.VMQuery) ([]models.VirtualMachine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vmPages = append(f.vmPages, q.PageNumber)
	return page(f.vms, q.PageNumber, q.PageSize), nil
}

func (f *fakeClient) ListDisks(_ context.Context, q models.DiskQuery) ([]models.Disk, error) {
	if f.diskErr != nil {
		return nil, f.diskErr
	}
	return page(f.disks, q.PageNumber, q.PageSize), nil
}

const inventoryMetrics = `
# HELP archer_disk_capacity_gb The provisioned size of all virtual disks in GB
# TYPE archer_disk_capacity_gb gauge
archer_disk_capacity_gb 115
# HELP archer_disk_count The quantity of virtual disks
# TYPE archer_disk_count gauge
archer_disk_count 4
# HELP archer_images The quantity of images in the zone
# TYPE archer_images gauge
archer_images 2
# HELP archer_platform_info The cluster behind the platform URL
# TYPE archer_platform_info gauge
archer_platform_info{arch="x86_64",cluster_id="c-42",zone="zone-1"} 1
# HELP archer_storage_disk_capacity_gb The provisioned size of the virtual disks of a storage pool in GB
# TYPE archer_storage_disk_capacity_gb gauge
archer_storage_disk_capacity_gb{backend="Arstor",storage="basic-replica2"} 100
archer_storage_disk_capacity_gb{backend="Local",storage="local-ssd"} 10
archer_storage_disk_capacity_gb{backend="UNKNOWN",storage="unassigned"} 5
# HELP archer_storage_pools The quantity of storage pools per backend
# TYPE archer_storage_pools gauge
archer_storage_pools{backend="Arstor"} 2
archer_storage_pools{backend="Local"} 1
# HELP archer_up Whether the last inventory collection reached the platform
# TYPE archer_up gauge
archer_up 1
# HELP archer_vm_count The quantity of virtual machines per status
# TYPE archer_vm_count gauge
archer_vm_count{status="START"} 2
archer_vm_count{status="STOP"} 1
archer_vm_count{status="UNKNOWN"} 1
`

func TestCollectorExposesInventory(t *testing.T) {
	client := newFakeClient()
	c := NewInventoryCollector(client)

	err := testutil.CollectAndCompare(c, strings.NewReader(inventoryMetrics),
		"archer_up", "archer_vm_count", "archer_disk_count", "archer_disk_capacity_gb",
		"archer_storage_disk_capacity_gb", "archer_storage_pools", "archer_images", "archer_platform_info")
	require.NoError(t, err)
	assert.Equal(t, 1, client.logins)
	assert.True(t, c.IsHealthy())
}

func TestCollectorServesFromCache(t *testing.T) {
	client := newFakeClient()
	c := NewInventoryCollector(client, WithCacheTTL(time.Minute))

	assert.Equal(t, 1, testutil.CollectAndCount(c, "archer_disk_count"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "archer_disk_count"))
	assert.Equal(t, []int{1}, client.vmPages, "second scrape is cached")
	assert.Equal(t, 1, client.clusterHits)

	c.Cache().Flush()
	testutil.CollectAndCount(c)
	assert.Equal(t, []int{1, 1}, client.vmPages)
	assert.Equal(t, 1, client.clusterHits, "platform identity is detected once")
}

func TestCollectorLoginFailure(t *testing.T) {
	client := newFakeClient()
	client.loginErr = errors.New("connection refused")
	c := NewInventoryCollector(client)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]*dto.MetricFamily{}
	for _, mf := range families {
		names[mf.GetName()] = mf
	}
	require.Contains(t, names, "archer_up")
	assert.Equal(t, 0.0, names["archer_up"].GetMetric()[0].GetGauge().GetValue())
	assert.Contains(t, names, "archer_scrape_duration_seconds")
	assert.NotContains(t, names, "archer_vm_count")
	assert.False(t, c.IsHealthy())
	assert.ErrorContains(t, c.LastError(), "login to https://10.0.0.5 failed")
}

func TestCollectorRecoversFromExpiredSession(t *testing.T) {
	builder := platformtest.NewMockPlatform().WithDefaultInventory()
	server := builder.Build()
	defer server.Close()
	settings := models.NewPlatformSettings(server.URL, platformtest.TestUsername, platformtest.TestPassword, false, 5*time.Second)
	client := archer.NewClient(settings, archer.WithRetry(0, time.Millisecond, time.Millisecond))
	defer func() { _ = client.Close() }()
	c := NewInventoryCollector(client)

	up := `
# HELP archer_up Whether the last inventory collection reached the platform
# TYPE archer_up gauge
archer_up 1
`
	for scrape := 1; scrape <= 3; scrape++ {
		require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(up), "archer_up"), "scrape %d", scrape)
		c.Cache().Flush()
		builder.ExpireSessions()
	}
	assert.Equal(t, 3, builder.Calls(platformtest.PathLogin))
	assert.True(t, c.IsHealthy())

	builder.ExpireSessions()
	require.NoError(t, c.TestConnectivity(context.Background()))
}

func TestCollectorPartialFailureIsNotCached(t *testing.T) {
	client := newFakeClient()
	client.diskErr = errors.New("timeout")
	c := NewInventoryCollector(client)

	expected := `
# HELP archer_up Whether the last inventory collection reached the platform
# TYPE archer_up gauge
archer_up 1
# HELP archer_disk_count The quantity of virtual disks
# TYPE archer_disk_count gauge
archer_disk_count 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "archer_up", "archer_disk_count"))
	_, cached := c.Cache().Get()
	assert.False(t, cached)
	assert.Equal(t, 3, testutil.CollectAndCount(c, "archer_vm_count"))
}

func TestCollectorTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	c := NewInventoryCollector(newFakeClient(), WithCollectorTracerProvider(tp))

	testutil.CollectAndCount(c)
	testutil.CollectAndCount(c)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	statuses := []string{}
	for _, s := range spans {
		assert.Equal(t, "prometheus.scrape", s.Name())
		for _, attr := range s.Attributes() {
			if string(attr.Key) == "scrape.status" {
				statuses = append(statuses, attr.Value.AsString())
			}
		}
	}
	assert.Equal(t, []string{scrapeSuccess, scrapeCached}, statuses)
}

func TestFetchInventoryPaging(t *testing.T) {
	client := newFakeClient()
	client.vms = nil
	for i := range inventoryPageSize*2 + 5 {
		client.vms = append(client.vms, models.VirtualMachine{ID: fmt.Sprint(i), Status: "START"})
	}
	snap, err := FetchInventory(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, client.vmPages)
	assert.Equal(t, inventoryPageSize*2+5, snap.VMsByStatus[VMStatusKey{Status: "START"}])
	assert.Empty(t, snap.Partial)
	assert.Equal(t, "zone-1", snap.Zone)
}

func TestFetchInventoryZoneFailure(t *testing.T) {
	client := newFakeClient()
	client.zoneErr = errors.New("listHost returned no zone")
	_, err := FetchInventory(context.Background(), client)
	assert.ErrorContains(t, err, "failed to resolve zone")
}

func TestStoragesByBackend(t *testing.T) {
	got := StoragesByBackend([]models.Storage{{StorageBackend: "Arstor"}, {StorageBackend: "Arstor"}, {}})
	assert.Equal(t, map[string]int{"Arstor": 2, "UNKNOWN": 1}, got)
}

func TestInventoryCache(t *testing.T) {
	assert.Equal(t, defaultCacheTTL, NewInventoryCache(0).TTL())
	assert.Equal(t, defaultCacheTTL, NewInventoryCache(-time.Minute).TTL())

	cache := NewInventoryCache(50 * time.Millisecond)
	_, found := cache.Get()
	assert.False(t, found)
	_, aged := cache.Age()
	assert.False(t, aged)

	cache.Set(Snapshot{Zone: "zone-1", DiskCount: 3, CollectedAt: time.Now()})
	snap, found := cache.Get()
	require.True(t, found)
	assert.Equal(t, 3, snap.DiskCount)
	age, aged := cache.Age()
	require.True(t, aged)
	assert.Less(t, age, time.Second)

	time.Sleep(100 * time.Millisecond)
	_, found = cache.Get()
	assert.False(t, found, "expired")

	cache.Set(Snapshot{Zone: "zone-1"})
	cache.Flush()
	_, found = cache.Get()
	assert.False(t, found)
}

func fastDetector(client PlatformClient) *PlatformDetector {
	d := NewPlatformDetector(client)
	d.retryConfig = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
	return d
}

func TestPlatformDetector(t *testing.T) {
	tests := []struct {
		name     string
		errs     []error
		wantErr  string
		wantHits int
	}{
		{name: "first try", wantHits: 1},
		{name: "transient then success", errs: []error{
			errors.New("connection reset"),
			&archer.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"},
		}, wantHits: 3},
		{name: "unauthorized is permanent", errs: []error{
			&archer.HTTPError{StatusCode: 401, Status: "401 Unauthorized"},
		}, wantErr: "status=401", wantHits: 1},
		{name: "business error is permanent", errs: []error{
			&archer.APIError{Endpoint: "getLicense", Code: 500, Message: "no license"},
		}, wantErr: "no license", wantHits: 1},
		{name: "gives up after max attempts", errs: []error{
			errors.New("timeout"), errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
		}, wantErr: "after 3 attempt(s)", wantHits: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			client.clusterErrs = tt.errs
			info, err := fastDetector(client).Detect(context.Background())
			assert.Equal(t, tt.wantHits, client.clusterHits)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, PlatformInfo{ClusterID: "c-42", ArchType: "x86_64"}, info)
		})
	}
}

func TestTestConnectivity(t *testing.T) {
	client := newFakeClient()
	c := NewInventoryCollector(client)
	require.NoError(t, c.TestConnectivity(context.Background()))
	assert.Equal(t, 1, client.logins)
	require.NoError(t, c.TestConnectivity(context.Background()))
	assert.Equal(t, 1, client.logins, "session is reused")

	failing := newFakeClient()
	failing.zoneErr = errors.New("503")
	err := NewInventoryCollector(failing).TestConnectivity(context.Background())
	assert.ErrorContains(t, err, "platform connectivity test failed")
}

func TestIsHealthyBeforeScrape(t *testing.T) {
	assert.False(t, NewInventoryCollector(newFakeClient()).IsHealthy())
}
