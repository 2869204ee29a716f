// Package exporter implements the Prometheus Collector interface for the
// platform inventory. It reads VMs, disks, storages and images from the
// platform API and exposes them in Prometheus format.
package exporter

import (
	"context"
	"sync"
	"time"

	"github.com/fjacquet/archer_ops/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const collectionTimeout = 2 * time.Minute // Maximum time allowed for metric collection

// Scrape statuses recorded on the scrape span.
const (
	scrapeSuccess        = "success"
	scrapePartialFailure = "partial_failure"
	scrapeFailure        = "failure"
	scrapeCached         = "cached"
)

// CollectorOption configures optional InventoryCollector settings.
type CollectorOption func(*collectorOptions)

type collectorOptions struct {
	tracerProvider trace.TracerProvider
	cacheTTL       time.Duration
	timeout        time.Duration
}

func defaultCollectorOptions() collectorOptions {
	return collectorOptions{
		cacheTTL: defaultCacheTTL,
		timeout:  collectionTimeout,
	}
}

// WithCollectorTracerProvider sets the TracerProvider for the collector.
// If not provided, tracing operations use a noop provider.
func WithCollectorTracerProvider(tp trace.TracerProvider) CollectorOption {
	return func(o *collectorOptions) {
		o.tracerProvider = tp
	}
}

// WithCacheTTL sets how long a collected snapshot is served from cache.
func WithCacheTTL(ttl time.Duration) CollectorOption {
	return func(o *collectorOptions) {
		o.cacheTTL = ttl
	}
}

// WithCollectionTimeout bounds a single collection.
func WithCollectionTimeout(d time.Duration) CollectorOption {
	return func(o *collectorOptions) {
		o.timeout = d
	}
}

// InventoryCollector implements the Prometheus Collector interface for the
// platform inventory.
//
// The collector exposes:
//   - archer_up: 1 when the last collection logged in and resolved the zone
//   - archer_scrape_duration_seconds: time spent collecting
//   - archer_vm_count{status}: VMs per status
//   - archer_disk_count and archer_disk_capacity_gb: data disks
//   - archer_storage_disk_capacity_gb{storage,backend}: disk GB per pool
//   - archer_storage_pools{backend}: storage pools per backend
//   - archer_images: images of the zone
//   - archer_platform_info{cluster_id,arch,zone}: always 1 once detected
//
// Snapshots are cached in an InventoryCache, so scrapes inside the TTL do
// not reach the platform.
type InventoryCollector struct {
	client   PlatformClient
	cache    *InventoryCache
	detector *PlatformDetector
	tracing  *telemetry.TracerWrapper
	timeout  time.Duration

	mu          sync.RWMutex
	info        PlatformInfo
	lastSuccess time.Time
	lastErr     error

	up             *prometheus.Desc
	scrapeDuration *prometheus.Desc
	vmCount        *prometheus.Desc
	diskCount      *prometheus.Desc
	diskCapacity   *prometheus.Desc
	poolCapacity   *prometheus.Desc
	storagePools   *prometheus.Desc
	images         *prometheus.Desc
	platformInfo   *prometheus.Desc
}

// NewInventoryCollector creates a collector reading from client.
//
// Example:
//
//	collector := exporter.NewInventoryCollector(client, exporter.WithCacheTTL(cfg.GetCacheTTL()))
//	prometheus.MustRegister(collector)
func NewInventoryCollector(client PlatformClient, opts ...CollectorOption) *InventoryCollector {
	options := defaultCollectorOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &InventoryCollector{
		client:   client,
		cache:    NewInventoryCache(options.cacheTTL),
		detector: NewPlatformDetector(client),
		tracing:  telemetry.NewTracerWrapper(options.tracerProvider, "archer-ops/collector"),
		timeout:  options.timeout,
		up: prometheus.NewDesc(
			"archer_up",
			"Whether the last inventory collection reached the platform",
			nil, nil,
		),
		scrapeDuration: prometheus.NewDesc(
			"archer_scrape_duration_seconds",
			"Time spent collecting the platform inventory",
			nil, nil,
		),
		vmCount: prometheus.NewDesc(
			"archer_vm_count",
			"The quantity of virtual machines per status",
			[]string{"status"}, nil,
		),
		diskCount: prometheus.NewDesc(
			"archer_disk_count",
			"The quantity of virtual disks",
			nil, nil,
		),
		diskCapacity: prometheus.NewDesc(
			"archer_disk_capacity_gb",
			"The provisioned size of all virtual disks in GB",
			nil, nil,
		),
		poolCapacity: prometheus.NewDesc(
			"archer_storage_disk_capacity_gb",
			"The provisioned size of the virtual disks of a storage pool in GB",
			[]string{"storage", "backend"}, nil,
		),
		storagePools: prometheus.NewDesc(
			"archer_storage_pools",
			"The quantity of storage pools per backend",
			[]string{"backend"}, nil,
		),
		images: prometheus.NewDesc(
			"archer_images",
			"The quantity of images in the zone",
			nil, nil,
		),
		platformInfo: prometheus.NewDesc(
			"archer_platform_info",
			"The cluster behind the platform URL",
			[]string{"cluster_id", "arch", "zone"}, nil,
		),
	}
}

// Describe sends the descriptors of each metric to the provided channel.
func (c *InventoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.scrapeDuration
	ch <- c.vmCount
	ch <- c.diskCount
	ch <- c.diskCapacity
	ch <- c.poolCapacity
	ch <- c.storagePools
	ch <- c.images
	ch <- c.platformInfo
}

// Cache returns the snapshot cache, flushed by the server on reload.
func (c *InventoryCollector) Cache() *InventoryCache {
	return c.cache
}

// Collect gathers the inventory, from cache when fresh, and sends the
// metrics. A failed collection still exposes archer_up 0 and the scrape
// duration; a partial one exposes what was read.
func (c *InventoryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	ctx, span := c.tracing.StartSpan(ctx, "prometheus.scrape", trace.SpanKindServer)
	defer span.End()

	snap, status, err := c.snapshot(ctx)
	c.finishSpan(span, start, status, err)

	up := 0.0
	if err == nil {
		up = 1
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up)
	ch <- prometheus.MustNewConstMetric(c.scrapeDuration, prometheus.GaugeValue, time.Since(start).Seconds())
	if err != nil {
		return
	}
	c.exposeSnapshot(ch, snap)

	log.Debugf("Collected inventory: %d VM statuses, %d disks, %d storages, %d images (%s)",
		len(snap.VMsByStatus), snap.DiskCount, len(snap.Storages), snap.Images, status)
}

func (c *InventoryCollector) snapshot(ctx context.Context) (Snapshot, string, error) {
	if snap, ok := c.cache.Get(); ok {
		if age, ok := c.cache.Age(); ok {
			log.Debugf("Serving inventory collected %s ago", age.Round(time.Second))
		}
		return snap, scrapeCached, nil
	}
	snap, err := FetchInventory(ctx, c.client)
	c.mu.Lock()
	c.lastErr = err
	if err == nil {
		c.lastSuccess = time.Now()
	}
	c.mu.Unlock()
	if err != nil {
		log.Errorf("Failed to collect platform inventory: %v", err)
		return snap, scrapeFailure, err
	}
	c.detectPlatform(ctx)
	if len(snap.Partial) > 0 {
		return snap, scrapePartialFailure, nil
	}
	c.cache.Set(snap)
	return snap, scrapeSuccess, nil
}

// detectPlatform reads the cluster identity once per collector.
func (c *InventoryCollector) detectPlatform(ctx context.Context) {
	c.mu.RLock()
	known := c.info.ClusterID != ""
	c.mu.RUnlock()
	if known {
		return
	}
	info, err := c.detector.Detect(ctx)
	if err != nil {
		log.Warnf("Platform detection failed: %v", err)
		return
	}
	c.mu.Lock()
	c.info = info
	c.mu.Unlock()
}

func (c *InventoryCollector) finishSpan(span trace.Span, start time.Time, status string, err error) {
	if err != nil {
		span.AddEvent("inventory_fetch_error", trace.WithAttributes(
			attribute.String(telemetry.AttrError, err.Error()),
		))
		span.SetStatus(codes.Error, "Inventory collection failed")
	} else if status == scrapePartialFailure {
		span.SetStatus(codes.Error, "Partial failure during inventory collection")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Float64(telemetry.AttrScrapeDurationMS, float64(time.Since(start).Milliseconds())),
		attribute.String(telemetry.AttrScrapeStatus, status),
	)
}

func (c *InventoryCollector) exposeSnapshot(ch chan<- prometheus.Metric, snap Snapshot) {
	for key, n := range snap.VMsByStatus {
		ch <- prometheus.MustNewConstMetric(c.vmCount, prometheus.GaugeValue, float64(n), key.Labels()...)
	}
	ch <- prometheus.MustNewConstMetric(c.diskCount, prometheus.GaugeValue, float64(snap.DiskCount))
	ch <- prometheus.MustNewConstMetric(c.diskCapacity, prometheus.GaugeValue, snap.DiskCapacityGB)
	for key, gb := range snap.DiskGBByPool {
		ch <- prometheus.MustNewConstMetric(c.poolCapacity, prometheus.GaugeValue, gb, key.Labels()...)
	}
	for backend, n := range StoragesByBackend(snap.Storages) {
		ch <- prometheus.MustNewConstMetric(c.storagePools, prometheus.GaugeValue, float64(n), backend)
	}
	ch <- prometheus.MustNewConstMetric(c.images, prometheus.GaugeValue, float64(snap.Images))

	c.mu.RLock()
	info := c.info
	c.mu.RUnlock()
	if info.ClusterID != "" {
		ch <- prometheus.MustNewConstMetric(c.platformInfo, prometheus.GaugeValue, 1, info.ClusterID, info.ArchType, snap.Zone)
	}
}
