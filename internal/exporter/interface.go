// Package exporter provides the platform client abstraction used by the
// inventory collector. archer.Client implements it; tests use fakes.
package exporter

import (
	"context"

	"github.com/fjacquet/archer_ops/internal/models"
)

// PlatformClient is the read-only part of the platform API the collector
// needs.
//
// Implementations must:
//   - log in lazily when Login is called and report it through IsLoggedIn
//   - return one page per ListVMs and ListDisks call
type PlatformClient interface {
	Login(ctx context.Context) error
	IsLoggedIn() bool
	BaseURL() string

	Zone(ctx context.Context) (string, error)
	ClusterInfo(ctx context.Context) (models.ClusterInfo, error)
	StoragesByDiskType(ctx context.Context) ([]models.Storage, error)
	Images(ctx context.Context, zoneID string) ([]models.Image, error)
	ListVMs(ctx context.Context, q models.VMQuery) ([]models.VirtualMachine, error)
	ListDisks(ctx context.Context, q models.DiskQuery) ([]models.Disk, error)
}
