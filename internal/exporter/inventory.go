package exporter

import (
	"context"
	"fmt"
	"time"

	"github.com/fjacquet/archer_ops/internal/models"
	log "github.com/sirupsen/logrus"
)

const (
	inventoryPageSize = 100
	maxInventoryPages = 200
	unknownStatus     = "UNKNOWN"
	unassignedStorage = "unassigned"
)

// Snapshot is the platform inventory gathered by one collection.
type Snapshot struct {
	Zone           string
	VMsByStatus    map[VMStatusKey]int
	DiskCount      int
	DiskCapacityGB float64
	DiskGBByPool   map[StorageKey]float64
	Storages       []models.Storage
	Images         int
	CollectedAt    time.Time
	// Partial lists the inventory parts that failed to load.
	Partial []string
}

// pageFetcher returns one page of items.
type pageFetcher[T any] func(ctx context.Context, page, size int) ([]T, error)

// fetchAllPages walks pages until a short page. It stops after
// maxInventoryPages to bound a platform that ignores paging.
func fetchAllPages[T any](ctx context.Context, fetch pageFetcher[T]) ([]T, error) {
	var all []T
	for page := 1; page <= maxInventoryPages; page++ {
		items, err := fetch(ctx, page, inventoryPageSize)
		if err != nil {
			return all, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, items...)
		if len(items) < inventoryPageSize {
			return all, nil
		}
	}
	log.Warnf("Inventory paging stopped after %d pages", maxInventoryPages)
	return all, nil
}

// FetchVMs lists every VM outside the recycle bin.
func FetchVMs(ctx context.Context, client PlatformClient) ([]models.VirtualMachine, error) {
	return fetchAllPages(ctx, func(ctx context.Context, page, size int) ([]models.VirtualMachine, error) {
		return client.ListVMs(ctx, models.VMQuery{PageNumber: page, PageSize: size})
	})
}

// FetchDisks lists every disk.
func FetchDisks(ctx context.Context, client PlatformClient) ([]models.Disk, error) {
	return fetchAllPages(ctx, func(ctx context.Context, page, size int) ([]models.Disk, error) {
		return client.ListDisks(ctx, models.DiskQuery{PageNumber: page, PageSize: size})
	})
}

// FetchInventory logs in when needed and gathers the inventory. Failing to
// log in or to resolve the zone is fatal; failures of the later parts are
// recorded in Snapshot.Partial and the rest is still returned.
func FetchInventory(ctx context.Context, client PlatformClient) (Snapshot, error) {
	snap := Snapshot{
		VMsByStatus:  map[VMStatusKey]int{},
		DiskGBByPool: map[StorageKey]float64{},
	}
	if !client.IsLoggedIn() {
		if err := client.Login(ctx); err != nil {
			return snap, fmt.Errorf("login to %s failed: %w", client.BaseURL(), err)
		}
	}
	zone, err := client.Zone(ctx)
	if err != nil {
		return snap, fmt.Errorf("failed to resolve zone: %w", err)
	}
	snap.Zone = zone

	partial := func(part string, err error) {
		log.Errorf("Failed to fetch %s: %v", part, err)
		snap.Partial = append(snap.Partial, part)
	}

	if storages, err := client.StoragesByDiskType(ctx); err != nil {
		partial("storages", err)
	} else {
		snap.Storages = storages
	}

	if images, err := client.Images(ctx, zone); err != nil {
		partial("images", err)
	} else {
		snap.Images = len(images)
	}

	if vms, err := FetchVMs(ctx, client); err != nil {
		partial("vms", err)
	} else {
		for _, vm := range vms {
			status := vm.Status
			if status == "" {
				status = unknownStatus
			}
			snap.VMsByStatus[VMStatusKey{Status: status}]++
		}
	}

	if disks, err := FetchDisks(ctx, client); err != nil {
		partial("disks", err)
	} else {
		pools := poolIndex(snap.Storages)
		for _, d := range disks {
			snap.DiskCount++
			snap.DiskCapacityGB += float64(d.Size)
			snap.DiskGBByPool[pools.key(d.StorageManageID)] += float64(d.Size)
		}
	}

	snap.CollectedAt = time.Now()
	return snap, nil
}

type poolLookup map[string]StorageKey

func poolIndex(storages []models.Storage) poolLookup {
	idx := poolLookup{}
	for _, s := range storages {
		idx[s.StorageManageID] = StorageKey{Name: s.StackName, Backend: s.StorageBackend}
	}
	return idx
}

func (p poolLookup) key(storageManageID string) StorageKey {
	if k, ok := p[storageManageID]; ok {
		return k
	}
	return StorageKey{Name: unassignedStorage, Backend: unknownStatus}
}

// StoragesByBackend counts the storage pools of each backend.
func StoragesByBackend(storages []models.Storage) map[string]int {
	out := map[string]int{}
	for _, s := range storages {
		backend := s.StorageBackend
		if backend == "" {
			backend = unknownStatus
		}
		out[backend]++
	}
	return out
}
