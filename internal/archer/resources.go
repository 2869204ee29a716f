package archer

import (
	"context"
	"fmt"
	"strings"

	"github.com/fjacquet/archer_ops/internal/models"
)

// Endpoint names under /api/resource/.
const (
	EndpointListHost      = "listHost"
	EndpointListStorage   = "listStorage"
	EndpointListDiskType  = "listDiskType"
	EndpointGetLicense    = "getLicense"
	EndpointUpdateLicense = "updateLicense"
	EndpointListImage     = "listImage"
	EndpointUploadImage   = "uploadImage"
	EndpointCreateVM      = "createVirtualMachine"
	EndpointGetVM         = "getVirtualMachine"
	EndpointListVM        = "listVirtualMachine"
	EndpointDeleteVM      = "deleteVirtualMachine"
	EndpointCopyVM        = "copyVirtualMachineLink"
	EndpointCreateDisk    = "createDisk"
	EndpointRemoveDisk    = "removeDisk"
	EndpointListDisk      = "listDisk"
)

const (
	defaultImagePageSize    = 20
	uploadedImageNamePrefix = "AUTO"
)

// ImageTypes are the image kinds listImage is asked for.
var ImageTypes = []string{"NORMAL", "HIGH_FUNC", "IRONIC", "GPU"}

// Hosts returns every compute host.
func (c *Client) Hosts(ctx context.Context) ([]models.Host, error) {
	var hosts []models.Host
	if err := c.Post(ctx, EndpointListHost, map[string]any{}, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// Zone returns the zone of the first host. Single-zone clusters are the norm.
func (c *Client) Zone(ctx context.Context) (string, error) {
	hosts, err := c.Hosts(ctx)
	if err != nil {
		return "", err
	}
	if len(hosts) == 0 || hosts[0].ZoneID == "" {
		return "", fmt.Errorf("listHost returned no zone: %w", ErrNotFound)
	}
	return hosts[0].ZoneID, nil
}

// ListStorages returns the storage pools of zone.
func (c *Client) ListStorages(ctx context.Context, zoneID string) ([]models.StoragePool, error) {
	var pools []models.StoragePool
	if err := c.Post(ctx, EndpointListStorage, map[string]string{"zoneId": zoneID}, &pools); err != nil {
		return nil, err
	}
	return pools, nil
}

// ListDiskTypes returns the disk types of zone.
func (c *Client) ListDiskTypes(ctx context.Context, zoneID string) ([]models.DiskType, error) {
	var types []models.DiskType
	if err := c.Post(ctx, EndpointListDiskType, map[string]string{"zoneId": zoneID}, &types); err != nil {
		return nil, err
	}
	return types, nil
}

// StoragesByDiskType joins the pools of the cluster zone with their disk type.
// A pool whose stack name matches no disk type keeps an empty DiskType.
func (c *Client) StoragesByDiskType(ctx context.Context) ([]models.Storage, error) {
	zoneID, err := c.Zone(ctx)
	if err != nil {
		return nil, err
	}
	pools, err := c.ListStorages(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	types, err := c.ListDiskTypes(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	return JoinStorages(zoneID, pools, types), nil
}

// JoinStorages pairs each pool with the disk type named after its stack.
func JoinStorages(zoneID string, pools []models.StoragePool, types []models.DiskType) []models.Storage {
	byName := make(map[string]string, len(types))
	for _, dt := range types {
		byName[dt.Name] = dt.ID
	}
	out := make([]models.Storage, 0, len(pools))
	for _, p := range pools {
		out = append(out, models.Storage{
			StackName:       p.StackName,
			ZoneID:          zoneID,
			StorageBackend:  p.StorageBackend,
			StorageManageID: p.ID,
			DiskType:        byName[p.StackName],
		})
	}
	return out
}

// License returns the cluster license record.
func (c *Client) License(ctx context.Context) (models.License, error) {
	var lic models.License
	err := c.Post(ctx, EndpointGetLicense, map[string]any{}, &lic)
	return lic, err
}

// ClusterInfo returns the cluster id and architecture from the license.
func (c *Client) ClusterInfo(ctx context.Context) (models.ClusterInfo, error) {
	lic, err := c.License(ctx)
	if err != nil {
		return models.ClusterInfo{}, err
	}
	return models.ClusterInfo{ClusterID: lic.ClusterID, ArchType: lic.Architecture}, nil
}

// UpdateLicense installs licenseCode. An empty id targets defaultID.
func (c *Client) UpdateLicense(ctx context.Context, licenseCode, id, defaultID string) error {
	if strings.TrimSpace(licenseCode) == "" {
		return fmt.Errorf("license code is required")
	}
	if id == "" {
		id = defaultID
	}
	return c.Post(ctx, EndpointUpdateLicense, map[string]string{"licenseCode": licenseCode, "id": id}, nil)
}

// Images returns the first page of images of zone.
func (c *Client) Images(ctx context.Context, zoneID string) ([]models.Image, error) {
	payload := map[string]any{
		"zoneId":     zoneID,
		"pageNumber": 1,
		"pageSize":   defaultImagePageSize,
		"types":      ImageTypes,
	}
	var raw []models.RawImage
	if err := c.Post(ctx, EndpointListImage, payload, &raw); err != nil {
		return nil, err
	}
	images := make([]models.Image, 0, len(raw))
	for _, r := range raw {
		images = append(images, models.Image{ImageID: r.ID, ImageName: r.Name, StorageManageID: r.StorageManageID})
	}
	return images, nil
}

// ImagesByStorage keeps the images that live on one of storages.
func ImagesByStorage(images []models.Image, storages []models.Storage) []models.Image {
	known := make(map[string]bool, len(storages))
	for _, s := range storages {
		known[s.StorageManageID] = true
	}
	var out []models.Image
	for _, img := range images {
		if known[img.StorageManageID] {
			out = append(out, img)
		}
	}
	return out
}

// UploadImage registers an image fetched by the platform from fileURL.
// The platform name is prefixed with AUTO so tool-created images stand out.
func (c *Client) UploadImage(ctx context.Context, req models.ImageUpload) (any, error) {
	if req.File == "" || req.Name == "" {
		return nil, fmt.Errorf("image file URL and name are required")
	}
	if !strings.HasPrefix(req.Name, uploadedImageNamePrefix) {
		req.Name = uploadedImageNamePrefix + req.Name
	}
	if req.UploadType == "" {
		req.UploadType = "url"
	}
	if req.HWFirmwareType == "" {
		req.HWFirmwareType = "UEFI"
	}
	var data any
	err := c.Post(ctx, EndpointUploadImage, req, &data)
	return data, err
}

// CreateVM submits req and returns the ids of the new VMs.
func (c *Client) CreateVM(ctx context.Context, req models.CreateVMRequest) ([]string, error) {
	var res models.CreateVMResult
	if err := c.Post(ctx, EndpointCreateVM, req, &res); err != nil {
		return nil, err
	}
	return res.IDs, nil
}

// GetVM returns one VM.
func (c *Client) GetVM(ctx context.Context, id string) (models.VirtualMachine, error) {
	var vm models.VirtualMachine
	err := c.Post(ctx, EndpointGetVM, map[string]string{"id": id}, &vm)
	return vm, err
}

// ListVMs returns one page of VMs whose name contains q.NameLike.
func (c *Client) ListVMs(ctx context.Context, q models.VMQuery) ([]models.VirtualMachine, error) {
	if q.PageNumber == 0 {
		q.PageNumber = 1
	}
	if q.PageSize == 0 {
		q.PageSize = 20
	}
	var vms []models.VirtualMachine
	if err := c.Post(ctx, EndpointListVM, q, &vms); err != nil {
		return nil, err
	}
	return vms, nil
}

// DeleteVMs removes the given VMs.
func (c *Client) DeleteVMs(ctx context.Context, ids []string) error {
	return c.Post(ctx, EndpointDeleteVM, map[string][]string{"ids": ids}, nil)
}

// CloneVM creates a linked clone and returns its id.
func (c *Client) CloneVM(ctx context.Context, req models.CloneVMRequest) (string, error) {
	var res models.CreateVMResult
	if err := c.Post(ctx, EndpointCopyVM, req, &res); err != nil {
		return "", err
	}
	if len(res.IDs) == 0 {
		return "", fmt.Errorf("%s returned no id: %w", EndpointCopyVM, ErrNotFound)
	}
	return res.IDs[0], nil
}

// CreateDisks submits req and returns the created disks.
func (c *Client) CreateDisks(ctx context.Context, req models.CreateDiskRequest) ([]models.Disk, error) {
	var disks []models.Disk
	if err := c.Post(ctx, EndpointCreateDisk, req, &disks); err != nil {
		return nil, err
	}
	return disks, nil
}

// RemoveDisks deletes the given disks.
func (c *Client) RemoveDisks(ctx context.Context, ids []string) error {
	return c.Post(ctx, EndpointRemoveDisk, map[string][]string{"ids": ids}, nil)
}

// ListDisks runs listDisk with q. The zero query lists every disk and a Name
// query is a fuzzy match.
func (c *Client) ListDisks(ctx context.Context, q models.DiskQuery) ([]models.Disk, error) {
	var disks []models.Disk
	if err := c.Post(ctx, EndpointListDisk, q, &disks); err != nil {
		return nil, err
	}
	return disks, nil
}

// FindDiskByName returns the disk whose name equals name exactly.
func (c *Client) FindDiskByName(ctx context.Context, name string) (models.Disk, error) {
	disks, err := c.ListDisks(ctx, models.DiskQuery{Name: name})
	if err != nil {
		return models.Disk{}, err
	}
	for _, d := range disks {
		if d.Name == name {
			return d, nil
		}
	}
	return models.Disk{}, fmt.Errorf("disk %q: %w", name, ErrNotFound)
}

// VMDisks lists the disks attached to vmID.
func (c *Client) VMDisks(ctx context.Context, vmID string) ([]models.Disk, error) {
	vdi := false
	return c.ListDisks(ctx, models.DiskQuery{VMID: vmID, VdiApplication: &vdi, PageNumber: 1, PageSize: 20})
}
