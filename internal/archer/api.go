package archer

import (
	"context"
	"fmt"
	"time"

	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/utils"
)

// API is the platform surface used by provisioning, the MCP server and the
// exporter. *Client implements it; tests substitute fakes.
type API interface {
	Login(ctx context.Context) error
	IsLoggedIn() bool
	BaseURL() string
	Credentials() models.PlatformSettings
	Token() string

	Hosts(ctx context.Context) ([]models.Host, error)
	Zone(ctx context.Context) (string, error)
	StoragesByDiskType(ctx context.Context) ([]models.Storage, error)
	License(ctx context.Context) (models.License, error)
	ClusterInfo(ctx context.Context) (models.ClusterInfo, error)
	UpdateLicense(ctx context.Context, licenseCode, id, defaultID string) error

	Images(ctx context.Context, zoneID string) ([]models.Image, error)
	UploadImage(ctx context.Context, req models.ImageUpload) (any, error)

	CreateVM(ctx context.Context, req models.CreateVMRequest) ([]string, error)
	GetVM(ctx context.Context, id string) (models.VirtualMachine, error)
	ListVMs(ctx context.Context, q models.VMQuery) ([]models.VirtualMachine, error)
	DeleteVMs(ctx context.Context, ids []string) error
	CloneVM(ctx context.Context, req models.CloneVMRequest) (string, error)

	CreateDisks(ctx context.Context, req models.CreateDiskRequest) ([]models.Disk, error)
	RemoveDisks(ctx context.Context, ids []string) error
	ListDisks(ctx context.Context, q models.DiskQuery) ([]models.Disk, error)
	FindDiskByName(ctx context.Context, name string) (models.Disk, error)
	VMDisks(ctx context.Context, vmID string) ([]models.Disk, error)

	Close() error
}

var _ API = (*Client)(nil)

// WaitVMReady polls the VM named name until one is running with no task in
// flight, then returns its id. It gives up after attempts polls.
func WaitVMReady(ctx context.Context, api API, name string, interval time.Duration, attempts int) (string, error) {
	for i := 0; i < attempts; i++ {
		vms, err := api.ListVMs(ctx, models.VMQuery{NameLike: name})
		if err != nil {
			return "", err
		}
		if len(vms) > 0 && vms[0].Ready() {
			return vms[0].ID, nil
		}
		if err := utils.Pause(ctx, interval); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("VM %s not ready after %d checks", name, attempts)
}

// WaitVMGone polls until no VM named name is listed.
func WaitVMGone(ctx context.Context, api API, name string, interval time.Duration, attempts int) error {
	for i := 0; i < attempts; i++ {
		vms, err := api.ListVMs(ctx, models.VMQuery{NameLike: name})
		if err != nil {
			return err
		}
		if len(vms) == 0 {
			return nil
		}
		if err := utils.Pause(ctx, interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("VM %s still present after %d checks", name, attempts)
}
