package provision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/resilience"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrNoStorage is returned when no storage pool matches.
var ErrNoStorage = errors.New("no matching storage")

// StorageAPI is the part of the platform client that locates storage.
type StorageAPI interface {
	Zone(ctx context.Context) (string, error)
	StoragesByDiskType(ctx context.Context) ([]models.Storage, error)
}

// DiskAPI creates disks.
type DiskAPI interface {
	StorageAPI
	CreateDisks(ctx context.Context, req models.CreateDiskRequest) ([]models.Disk, error)
}

// SelectStorage picks the storage whose stackName equals name, ignoring
// case. An empty name picks the first Arstor pool.
func SelectStorage(storages []models.Storage, name string) (models.Storage, error) {
	for _, s := range storages {
		if name != "" && strings.EqualFold(s.StackName, name) {
			return s, nil
		}
		if name == "" && strings.EqualFold(s.StorageBackend, "arstor") {
			return s, nil
		}
	}
	if name != "" {
		return models.Storage{}, fmt.Errorf("%w: 存储 %s 不存在", ErrNoStorage, name)
	}
	return models.Storage{}, fmt.Errorf("%w: 没有可用的 Arstor 存储", ErrNoStorage)
}

// ResolveStorage loads the storages and selects one. A storage without a
// zone gets the platform zone.
func ResolveStorage(ctx context.Context, api StorageAPI, name string) (models.Storage, error) {
	storages, err := api.StoragesByDiskType(ctx)
	if err != nil {
		return models.Storage{}, fmt.Errorf("failed to list storages: %w", err)
	}
	s, err := SelectStorage(storages, name)
	if err != nil {
		return models.Storage{}, err
	}
	if s.ZoneID == "" {
		if s.ZoneID, err = api.Zone(ctx); err != nil {
			return models.Storage{}, fmt.Errorf("failed to resolve zone: %w", err)
		}
	}
	return s, nil
}

const diskRetryKey = "disk:create"

// DiskCreator creates disks through the retry manager, pacing batches with
// a limiter.
type DiskCreator struct {
	api      DiskAPI
	retries  *resilience.RetryManager
	interval time.Duration
	now      func() time.Time
}

// NewDiskCreator creates a DiskCreator. interval is the pause between two
// disks of a batch.
func NewDiskCreator(api DiskAPI, retries *resilience.RetryManager, interval time.Duration) *DiskCreator {
	if retries == nil {
		retries = resilience.NewRetryManager()
	}
	return &DiskCreator{api: api, retries: retries, interval: interval, now: time.Now}
}

// CreateOne validates opts and creates the disk on the storage named
// storageName, or the first Arstor pool.
func (c *DiskCreator) CreateOne(ctx context.Context, opts DiskOptions, storageName string) ([]models.Disk, error) {
	if opts.Name == "" {
		opts.Name = DefaultDiskName(opts.Size)
	}
	if opts.Count == 0 {
		opts.Count = 1
	}
	if err := ValidateDiskOptions(opts); err != nil {
		return nil, err
	}
	storage, err := ResolveStorage(ctx, c.api, storageName)
	if err != nil {
		return nil, err
	}
	return c.create(ctx, opts.Request(storage))
}

func (c *DiskCreator) create(ctx context.Context, req models.CreateDiskRequest) ([]models.Disk, error) {
	var disks []models.Disk
	err := c.retries.Do(ctx, diskRetryKey, func(ctx context.Context) error {
		var err error
		disks, err = c.api.CreateDisks(ctx, req)
		if err == nil && len(disks) == 0 {
			err = fmt.Errorf("createDisk returned no disk for %s", req.Name)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	logging.Component("provision").WithFields(log.Fields{
		"disk": req.Name,
		"size": req.Size,
		"id":   disks[0].ID,
	}).Info("Disk created")
	return disks, nil
}

// BatchSpec describes a run of identically configured disks named
// <prefix>-0001, <prefix>-0002, ...
type BatchSpec struct {
	Prefix  string `json:"prefix" yaml:"prefix"`
	Start   int    `json:"start" yaml:"start"`
	Count   int    `json:"count" yaml:"count"`
	Size    int    `json:"size" yaml:"size"`
	UseCase string `json:"use_case" yaml:"useCase"`
	Storage string `json:"storage,omitempty" yaml:"storage,omitempty"`
}

func (s *BatchSpec) applyDefaults() {
	if s.Prefix == "" {
		s.Prefix = "batch"
	}
	if s.Start <= 0 {
		s.Start = 1
	}
	if s.UseCase == "" {
		s.UseCase = UseCaseStandard
	}
}

// ItemError is the failure of one item of a batch.
type ItemError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// BatchResult summarises a batch.
type BatchResult struct {
	Total           int           `json:"total"`
	Success         int           `json:"success"`
	Failed          int           `json:"failed"`
	SuccessRate     float64       `json:"success_rate"`
	TotalCapacityGB int           `json:"total_capacity_gb"`
	CreatedIDs      []string      `json:"created_ids"`
	Errors          []ItemError   `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration"`
}

func (r *BatchResult) finish(start, end time.Time) {
	if r.Total > 0 {
		r.SuccessRate = math.Round(float64(r.Success)/float64(r.Total)*10000) / 100
	}
	r.Duration = end.Sub(start)
}

// BatchName returns the name of disk number n of a batch.
func BatchName(prefix string, n int) string {
	return fmt.Sprintf("%s-%04d", prefix, n)
}

// CreateBatch creates spec.Count disks one after the other. A failing disk
// is recorded and the batch continues; a cancelled context stops it.
func (c *DiskCreator) CreateBatch(ctx context.Context, spec BatchSpec) (res BatchResult, err error) {
	spec.applyDefaults()
	res = BatchResult{Total: spec.Count, CreatedIDs: []string{}}
	start := c.now()
	defer func() { res.finish(start, c.now()) }()

	if spec.Count <= 0 {
		return res, nil
	}
	probe := Preset(spec.UseCase, spec.Size)
	if err := ValidateDiskOptions(probe); err != nil {
		return res, err
	}
	storage, err := ResolveStorage(ctx, c.api, spec.Storage)
	if err != nil {
		return res, err
	}

	limiter := newLimiter(c.interval)
	entry := logging.Component("provision").WithFields(log.Fields{"prefix": spec.Prefix, "count": spec.Count})
	entry.Info("Disk batch started")
	for i := 0; i < spec.Count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}
		opts := Preset(spec.UseCase, spec.Size)
		opts.Name = BatchName(spec.Prefix, spec.Start+i)
		disks, err := c.create(ctx, opts.Request(storage))
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, ItemError{Name: opts.Name, Error: err.Error()})
			entry.WithFields(log.Fields{"disk": opts.Name, "error": err}).Warn("Disk creation failed")
			continue
		}
		res.Success++
		res.TotalCapacityGB += spec.Size
		res.CreatedIDs = append(res.CreatedIDs, disks[0].ID)
	}
	entry.WithFields(log.Fields{"success": res.Success, "failed": res.Failed}).Info("Disk batch finished")
	return res, nil
}

// BatchesResult aggregates several batches.
type BatchesResult struct {
	Batches []BatchResult `json:"batches"`
	BatchResult
}

// CreateBatches runs batches batches of perBatch disks. Numbering continues
// across batches. It stops at the first batch that cannot start.
func (c *DiskCreator) CreateBatches(ctx context.Context, spec BatchSpec, batches, perBatch int) (out BatchesResult, err error) {
	spec.applyDefaults()
	out = BatchesResult{Batches: []BatchResult{}}
	out.CreatedIDs = []string{}
	start := c.now()
	defer func() { out.finish(start, c.now()) }()

	for b := 0; b < batches; b++ {
		s := spec
		s.Start = spec.Start + b*perBatch
		s.Count = perBatch
		r, err := c.CreateBatch(ctx, s)
		out.Batches = append(out.Batches, r)
		out.Total += r.Total
		out.Success += r.Success
		out.Failed += r.Failed
		out.TotalCapacityGB += r.TotalCapacityGB
		out.CreatedIDs = append(out.CreatedIDs, r.CreatedIDs...)
		out.Errors = append(out.Errors, r.Errors...)
		if err != nil {
			return out, fmt.Errorf("batch %d: %w", b+1, err)
		}
	}
	return out, nil
}

// newLimiter allows one event per interval; the first passes at once.
func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
