package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjacquet/archer_ops/internal/archer"
	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/resilience"
	log "github.com/sirupsen/logrus"
)

// Platform limits and defaults of VM creation.
const (
	MaxVMNameLength      = 40
	DefaultAdminPassword = "Admin@123"
	vmNameSuffixLayout   = "_20060102150405"
	vmRetryKey           = "vm:create"
)

// Image resolution errors.
var (
	ErrNoImage          = errors.New("当前安超平台没有可用的镜像，请先上传镜像。")
	ErrImageUnavailable = errors.New("image not available on storage")
)

// VMAPI is the part of the platform client used to create VMs.
type VMAPI interface {
	StorageAPI
	Images(ctx context.Context, zoneID string) ([]models.Image, error)
	CreateVM(ctx context.Context, req models.CreateVMRequest) ([]string, error)
}

// Placement is where a VM lands: a storage pool and a boot image on it.
type Placement struct {
	Storage models.Storage `json:"storage"`
	ImageID string         `json:"imageId"`
}

// VMCreator creates VMs from templates or explicit specs.
type VMCreator struct {
	api      VMAPI
	catalog  *Catalog
	retries  *resilience.RetryManager
	interval time.Duration
	now      func() time.Time
}

// NewVMCreator creates a VMCreator. interval paces batch creation.
func NewVMCreator(api VMAPI, catalog *Catalog, retries *resilience.RetryManager, interval time.Duration) *VMCreator {
	if catalog == nil {
		catalog = NewCatalog()
	}
	if retries == nil {
		retries = resilience.NewRetryManager()
	}
	return &VMCreator{api: api, catalog: catalog, retries: retries, interval: interval, now: time.Now}
}

// Resolve finds the storage named storageName and checks imageID lives on
// it. An empty imageID picks the first image on a known storage.
func (c *VMCreator) Resolve(ctx context.Context, storageName, imageID string) (Placement, error) {
	storages, err := c.api.StoragesByDiskType(ctx)
	if err != nil {
		return Placement{}, fmt.Errorf("failed to list storages: %w", err)
	}
	storage, err := SelectStorage(storages, storageName)
	if err != nil {
		return Placement{}, err
	}
	if storage.ZoneID == "" {
		if storage.ZoneID, err = c.api.Zone(ctx); err != nil {
			return Placement{}, fmt.Errorf("failed to resolve zone: %w", err)
		}
	}
	images, err := c.api.Images(ctx, storage.ZoneID)
	if err != nil {
		return Placement{}, fmt.Errorf("failed to list images: %w", err)
	}
	images = archer.ImagesByStorage(images, storages)
	if len(images) == 0 {
		return Placement{}, ErrNoImage
	}
	if imageID == "" {
		return Placement{Storage: storage, ImageID: images[0].ImageID}, nil
	}
	for _, img := range images {
		if img.ImageID == imageID && img.StorageManageID == storage.StorageManageID {
			return Placement{Storage: storage, ImageID: imageID}, nil
		}
	}
	return Placement{}, fmt.Errorf("%w: 镜像ID %s 在存储位置 %s 中不可用", ErrImageUnavailable, imageID, storage.StackName)
}

// TimestampedName appends _YYYYMMDDHHMMSS to name and cuts the result to
// MaxVMNameLength characters.
func TimestampedName(name string, at time.Time) string {
	r := []rune(name + at.Format(vmNameSuffixLayout))
	if len(r) > MaxVMNameLength {
		r = r[:MaxVMNameLength]
	}
	return string(r)
}

// CreatedVM is one VM submitted to the platform.
type CreatedVM struct {
	ID   string        `json:"id"`
	Name string        `json:"name"`
	Spec models.VMSpec `json:"config"`
}

// Create places spec on the storage and image of p and submits it. The
// name gets a timestamp suffix; a missing hostname reuses the base name.
func (c *VMCreator) Create(ctx context.Context, spec models.VMSpec, p Placement) (CreatedVM, error) {
	if spec.Name == "" {
		return CreatedVM{}, fmt.Errorf("%w: 缺少虚拟机名称", ErrInvalidOptions)
	}
	if spec.Hostname == "" {
		spec.Hostname = spec.Name
	}
	if spec.AdminPassword == "" {
		spec.AdminPassword = DefaultAdminPassword
	}
	spec.Name = TimestampedName(spec.Name, c.now())
	spec.ZoneID = p.Storage.ZoneID
	spec.StorageType = p.Storage.StorageBackend
	spec.StorageManageID = p.Storage.StorageManageID
	spec.DiskType = p.Storage.DiskType
	spec.ImageID = p.ImageID
	spec.ApplyDefaults()

	var ids []string
	err := c.retries.Do(ctx, vmRetryKey, func(ctx context.Context) error {
		var err error
		ids, err = c.api.CreateVM(ctx, models.NewCreateVMRequest(spec))
		if err == nil && len(ids) == 0 {
			err = fmt.Errorf("createVirtualMachine returned no id for %s", spec.Name)
		}
		return err
	})
	if err != nil {
		return CreatedVM{}, err
	}
	logging.Component("provision").WithFields(log.Fields{"vm": spec.Name, "id": ids[0]}).Info("VM created")
	return CreatedVM{ID: ids[0], Name: spec.Name, Spec: spec}, nil
}

// CreateFromTemplate renders template name with num and creates it.
func (c *VMCreator) CreateFromTemplate(ctx context.Context, name string, num int, overrides Overrides, p Placement) (CreatedVM, error) {
	t, err := c.catalog.Render(name, num, overrides)
	if err != nil {
		return CreatedVM{}, err
	}
	if v := Validate(t); !v.Valid {
		return CreatedVM{}, problems(v.Errors)
	}
	return c.Create(ctx, t.Spec(), p)
}

// VMBatchResult summarises a batch of VMs.
type VMBatchResult struct {
	Template  string        `json:"template"`
	Placement Placement     `json:"placement"`
	Total     int           `json:"total"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	VMs       []CreatedVM   `json:"vms"`
	Errors    []ItemError   `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// CreateBatch creates count VMs of template on storage with image, numbered
// from 1 and paced by the creator interval.
func (c *VMCreator) CreateBatch(ctx context.Context, template string, count int, storage, image string) (res VMBatchResult, err error) {
	res = VMBatchResult{Template: template, Total: count, VMs: []CreatedVM{}}
	start := c.now()
	defer func() { res.Duration = c.now().Sub(start) }()

	if _, ok := c.catalog.Get(template); !ok {
		return res, fmt.Errorf("%w: %s", ErrUnknownTemplate, template)
	}
	p, err := c.Resolve(ctx, storage, image)
	if err != nil {
		return res, err
	}
	res.Placement = p

	limiter := newLimiter(c.interval)
	for i := 1; i <= count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}
		vm, err := c.CreateFromTemplate(ctx, template, i, Overrides{}, p)
		if err != nil {
			res.Failed++
			t, _ := c.catalog.Render(template, i, Overrides{})
			res.Errors = append(res.Errors, ItemError{Name: t.Name, Error: err.Error()})
			continue
		}
		res.Success++
		res.VMs = append(res.VMs, vm)
	}
	logging.Component("provision").WithFields(log.Fields{
		"template": template,
		"success":  res.Success,
		"failed":   res.Failed,
	}).Info("VM batch finished")
	return res, nil
}
