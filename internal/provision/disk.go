// Package provision creates disks and virtual machines on a platform,
// one at a time or in paced batches.
package provision

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/google/uuid"
)

// Accepted disk option values.
var (
	PageSizes    = []string{"4K", "8K", "16K", "32K"}
	Compressions = []string{"Disabled", "LZ4", "Gzip_opt", "Gzip_high"}
)

// IOPS and bandwidth (MB/s) bounds of a disk.
const (
	MinIOPS      = 75
	MaxIOPS      = 250000
	MinBandwidth = 1
	MaxBandwidth = 1000
)

// ErrInvalidOptions wraps every validation failure.
var ErrInvalidOptions = errors.New("invalid options")

// ValidationError lists every problem found in a set of options.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "验证失败: " + strings.Join(e.Problems, "; ")
}

// Unwrap lets callers match ErrInvalidOptions.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidOptions
}

func problems(list []string) error {
	if len(list) == 0 {
		return nil
	}
	return &ValidationError{Problems: list}
}

// DiskOptions are the tunables of a data disk.
type DiskOptions struct {
	Name        string `json:"name" yaml:"name"`
	Size        int    `json:"size" yaml:"size"`
	PageSize    string `json:"pageSize" yaml:"pageSize"`
	Compression string `json:"compression" yaml:"compression"`
	IOPS        int    `json:"iops" yaml:"iops"`
	Bandwidth   int    `json:"bandwidth" yaml:"bandwidth"`
	Count       int    `json:"count" yaml:"count"`
	ReadCache   bool   `json:"readCache" yaml:"readCache"`
}

// ValidateDiskOptions reports every out of range option.
func ValidateDiskOptions(o DiskOptions) error {
	var list []string
	if !slices.Contains(PageSizes, o.PageSize) {
		list = append(list, "pageSize 必须是: "+strings.Join(PageSizes, ", "))
	}
	if !slices.Contains(Compressions, o.Compression) {
		list = append(list, "compression 必须是: "+strings.Join(Compressions, ", "))
	}
	if o.IOPS < MinIOPS || o.IOPS > MaxIOPS {
		list = append(list, fmt.Sprintf("iops 必须在 %d-%d 范围内", MinIOPS, MaxIOPS))
	}
	if o.Bandwidth < MinBandwidth || o.Bandwidth > MaxBandwidth {
		list = append(list, fmt.Sprintf("bandwidth 必须在 %d-%d MB/s 范围内", MinBandwidth, MaxBandwidth))
	}
	if o.Size <= 0 {
		list = append(list, "size 必须大于 0")
	}
	if o.Count < 1 {
		list = append(list, "count 必须至少为 1")
	}
	return problems(list)
}

// Use cases accepted by Preset.
const (
	UseCaseTest        = "test"
	UseCaseStandard    = "standard"
	UseCasePerformance = "performance"
)

var presets = map[string]DiskOptions{
	UseCaseTest:        {PageSize: "4K", Compression: "Disabled", IOPS: 75, Bandwidth: 1, ReadCache: false},
	UseCaseStandard:    {PageSize: "4K", Compression: "LZ4", IOPS: 400, Bandwidth: 40, ReadCache: true},
	UseCasePerformance: {PageSize: "8K", Compression: "Disabled", IOPS: 1000, Bandwidth: 100, ReadCache: true},
}

// Preset returns the options of useCase sized to size GB with a generated
// name. Unknown use cases get the standard preset.
func Preset(useCase string, size int) DiskOptions {
	o, ok := presets[useCase]
	if !ok {
		o = presets[UseCaseStandard]
	}
	o.Size = size
	o.Count = 1
	o.Name = DefaultDiskName(size)
	return o
}

// DefaultDiskName returns disk-<size>gb-<8 hex chars>.
func DefaultDiskName(size int) string {
	return fmt.Sprintf("disk-%dgb-%s", size, uuid.NewString()[:8])
}

// Request turns the options into a createDisk payload on storage.
func (o DiskOptions) Request(storage models.Storage) models.CreateDiskRequest {
	return models.CreateDiskRequest{
		StorageManageID: storage.StorageManageID,
		PageSize:        o.PageSize,
		Compression:     o.Compression,
		Name:            o.Name,
		Size:            o.Size,
		IOPS:            o.IOPS,
		Bandwidth:       o.Bandwidth,
		Count:           o.Count,
		ReadCache:       o.ReadCache,
		ZoneID:          storage.ZoneID,
	}
}
