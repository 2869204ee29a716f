package models

import "strings"

// Envelope is the wrapper returned by every /api/resource endpoint.
// A non-zero Code signals a business failure even when the HTTP status is 200.
type Envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// LoginResponse is the body of /api/resource/login.
type LoginResponse struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Token string `json:"token"`
	Data  struct {
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
	} `json:"data"`
}

// Host is one entry of listHost. Only the zone is consumed.
type Host struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	ZoneID string `json:"zoneId"`
}

// StoragePool is the raw listStorage entry.
type StoragePool struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	StackName      string `json:"stackName"`
	Type           string `json:"type"`
	StorageBackend string `json:"storageBackend"`
}

// DiskType is one entry of listDiskType.
type DiskType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Storage is a storage pool joined with its disk type, the shape every
// creation call needs.
type Storage struct {
	StackName       string `json:"stackName" yaml:"stackName"`
	ZoneID          string `json:"zoneId" yaml:"zoneId"`
	StorageBackend  string `json:"storageBackend" yaml:"storageBackend"`
	StorageManageID string `json:"storageManageId" yaml:"storageManageId"`
	DiskType        string `json:"diskType" yaml:"diskType"`
}

// License is the getLicense payload.
type License struct {
	ID           string `json:"id"`
	ClusterID    string `json:"clusterId"`
	Architecture string `json:"architecture"`
}

// ClusterInfo summarises the cluster identity.
type ClusterInfo struct {
	ClusterID string `json:"clusterId"`
	ArchType  string `json:"archType"`
}

// RawImage is one listImage entry.
type RawImage struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	StorageManageID string `json:"storageManageId"`
	Type            string `json:"type"`
	Format          string `json:"format"`
	Status          string `json:"status"`
}

// Image is the reduced image view used for VM creation.
type Image struct {
	ImageID         string `json:"imageId"`
	ImageName       string `json:"imageName"`
	StorageManageID string `json:"storageManageId"`
}

// ImageUpload is the uploadImage payload. The misspelt storageBacken key is
// what the platform expects.
type ImageUpload struct {
	File            string `json:"file"`
	Type            string `json:"type"`
	Format          string `json:"format"`
	ZoneID          string `json:"zoneId"`
	UploadType      string `json:"uploadType"`
	StorageBackend  string `json:"storageBacken"`
	StorageManageID string `json:"storageManageId"`
	Name            string `json:"name"`
	OS              string `json:"os,omitempty"`
	HWFirmwareType  string `json:"hwFirmwareType,omitempty"`
	CreateSource    bool   `json:"createSource"`
}

// VMDisk is the system disk section of a createVirtualMachine payload.
type VMDisk struct {
	StorageManageID string `json:"storageManageId"`
	Size            int    `json:"size"`
	IOThread        bool   `json:"ioThread"`
	TurboEnable     bool   `json:"turboEnable"`
	Compression     string `json:"compression"`
	DiskType        string `json:"diskType"`
	PageSize        string `json:"pageSize"`
	ReadCache       bool   `json:"readCache"`
	RebuildPriority int    `json:"rebuildPriority"`
	IsSystem        bool   `json:"isSystem"`
}

// VMHaConfig toggles HA for a VM.
type VMHaConfig struct {
	FtEnable bool `json:"ftEnable"`
	HaEnable bool `json:"haEnable"`
}

// CreateVMRequest is the full createVirtualMachine payload.
type CreateVMRequest struct {
	Name            string     `json:"name"`
	Hostname        string     `json:"hostname"`
	FolderID        string     `json:"folderId"`
	VideoModel      string     `json:"videoModel"`
	VMHaConfig      VMHaConfig `json:"vmHaConfig"`
	Type            string     `json:"type"`
	CPUMode         string     `json:"cpuMode"`
	CPU             int        `json:"cpu"`
	Sockets         int        `json:"sockets"`
	Memory          int        `json:"memory"`
	ZoneID          string     `json:"zoneId"`
	Count           int        `json:"count"`
	StorageType     string     `json:"storageType"`
	Disk            []VMDisk   `json:"disk"`
	IsMemMonopoly   bool       `json:"isMemMonopoly"`
	NumaEnable      bool       `json:"numaEnable"`
	BalloonSwitch   bool       `json:"balloonSwitch"`
	AudioType       string     `json:"audioType"`
	Clock           string     `json:"clock"`
	CloneType       string     `json:"cloneType"`
	VMActive        bool       `json:"vmActive"`
	VncPwd          string     `json:"vncPwd"`
	BigPageEnable   bool       `json:"bigPageEnable"`
	CPULimitEnabled bool       `json:"cpuLimitEnabled"`
	CPULimit        *int       `json:"cpuLimit"`
	CPUShareLevel   string     `json:"cpuShareLevel"`
	CPUShare        *int       `json:"cpuShare"`
	TagIDs          []string   `json:"tagIds"`
	IsTemplate      bool       `json:"isTemplate"`
	USBType         string     `json:"usbType"`
	StorageManageID string     `json:"storageManageId"`
	Priority        int        `json:"priority"`
	CreateVMType    string     `json:"createVmType"`
	ImageID         string     `json:"imageId"`
	AdminPassword   string     `json:"adminPassword"`
	Script          []*string  `json:"script"`
	Interface       []any      `json:"interface"`
}

// VMSpec carries the user-facing knobs of a VM creation. NewCreateVMRequest
// expands it into the vendor payload.
type VMSpec struct {
	Name            string `json:"name" yaml:"name"`
	Hostname        string `json:"hostname" yaml:"hostname"`
	VideoModel      string `json:"videoModel" yaml:"videoModel"`
	HaEnable        bool   `json:"haEnable" yaml:"haEnable"`
	CPU             int    `json:"cpu" yaml:"cpu"`
	Sockets         int    `json:"sockets" yaml:"sockets"`
	Memory          int    `json:"memory" yaml:"memory"`
	ZoneID          string `json:"zoneId" yaml:"zoneId"`
	StorageType     string `json:"storageType" yaml:"storageType"`
	StorageManageID string `json:"storageManageId" yaml:"storageManageId"`
	DiskType        string `json:"diskType" yaml:"diskType"`
	ImageID         string `json:"imageId" yaml:"imageId"`
	AdminPassword   string `json:"adminPassword" yaml:"adminPassword"`
	Size            int    `json:"size" yaml:"size"`
	RebuildPriority int    `json:"rebuildPriority" yaml:"rebuildPriority"`
	NumaEnable      bool   `json:"numaEnable" yaml:"numaEnable"`
	VMActive        bool   `json:"vmActive" yaml:"vmActive"`
	VncPwd          string `json:"vncPwd" yaml:"vncPwd"`
	BigPageEnable   bool   `json:"bigPageEnable" yaml:"bigPageEnable"`
	BalloonSwitch   bool   `json:"balloonSwitch" yaml:"balloonSwitch"`
	AudioType       string `json:"audioType" yaml:"audioType"`
	CloneType       string `json:"cloneType" yaml:"cloneType"`
	Priority        int    `json:"priority" yaml:"priority"`
}

// DefaultFolderID is the folder every VM is created in.
const DefaultFolderID = "100e4de3-1b8a-8cbe-e505-bc49edbb8503"

// ApplyDefaults fills the optional VMSpec knobs with the platform defaults.
func (s *VMSpec) ApplyDefaults() {
	if s.Sockets == 0 {
		s.Sockets = 1
	}
	if s.Size == 0 {
		s.Size = 80
	}
	if s.RebuildPriority == 0 {
		s.RebuildPriority = 3
	}
	if s.AudioType == "" {
		s.AudioType = "ich6"
	}
	if s.CloneType == "" {
		s.CloneType = "LINK"
	}
	if s.Priority == 0 {
		s.Priority = 1
	}
}

// NewCreateVMRequest expands a VMSpec into the createVirtualMachine payload.
func NewCreateVMRequest(s VMSpec) CreateVMRequest {
	s.ApplyDefaults()
	return CreateVMRequest{
		Name:        s.Name,
		Hostname:    s.Hostname,
		FolderID:    DefaultFolderID,
		VideoModel:  s.VideoModel,
		VMHaConfig:  VMHaConfig{HaEnable: s.HaEnable},
		Type:        "NORMAL",
		CPUMode:     "host-passthrough",
		CPU:         s.CPU,
		Sockets:     s.Sockets,
		Memory:      s.Memory,
		ZoneID:      s.ZoneID,
		Count:       1,
		StorageType: strings.ToUpper(s.StorageType),
		Disk: []VMDisk{{
			StorageManageID: s.StorageManageID,
			Size:            s.Size,
			IOThread:        true,
			Compression:     "LZ4",
			DiskType:        s.DiskType,
			PageSize:        "4K",
			ReadCache:       true,
			RebuildPriority: s.RebuildPriority,
			IsSystem:        true,
		}},
		NumaEnable:      s.NumaEnable,
		BalloonSwitch:   s.BalloonSwitch,
		AudioType:       s.AudioType,
		Clock:           "utc",
		CloneType:       s.CloneType,
		VMActive:        s.VMActive,
		VncPwd:          s.VncPwd,
		BigPageEnable:   s.BigPageEnable,
		CPUShareLevel:   "MID",
		TagIDs:          []string{},
		USBType:         "3.0",
		StorageManageID: s.StorageManageID,
		Priority:        s.Priority,
		CreateVMType:    "SYSTEMDEFAULT",
		ImageID:         s.ImageID,
		AdminPassword:   s.AdminPassword,
		Script:          []*string{nil},
		Interface:       []any{},
	}
}

// CreateVMResult is the data of a createVirtualMachine response.
type CreateVMResult struct {
	IDs []string `json:"ids"`
}

// VirtualMachine is the subset of getVirtualMachine/listVirtualMachine fields
// the tooling reads. Unknown fields are kept in Extra by callers that need them.
type VirtualMachine struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Hostname   string `json:"hostname"`
	Status     string `json:"status"`
	TaskStatus string `json:"taskStatus"`
	HostID     string `json:"hostId"`
	ImageID    string `json:"imageId"`
	CPU        int    `json:"cpu"`
	Memory     int    `json:"memory"`
	ZoneID     string `json:"zoneId"`
	CreateTime string `json:"createTime"`
}

// CreateDiskRequest is the createDisk payload.
type CreateDiskRequest struct {
	StorageManageID string `json:"storageManageId" yaml:"storageManageId"`
	PageSize        string `json:"pageSize" yaml:"pageSize"`
	Compression     string `json:"compression" yaml:"compression"`
	Name            string `json:"name" yaml:"name"`
	Size            int    `json:"size" yaml:"size"`
	IOPS            int    `json:"iops" yaml:"iops"`
	Bandwidth       int    `json:"bandwidth" yaml:"bandwidth"`
	Count           int    `json:"count" yaml:"count"`
	ReadCache       bool   `json:"readCache" yaml:"readCache"`
	ZoneID          string `json:"zoneId" yaml:"zoneId"`
}

// Disk is one listDisk/createDisk entry.
type Disk struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Ref             string `json:"ref"`
	Size            int    `json:"size"`
	Status          string `json:"status"`
	VMID            string `json:"vmId"`
	DiskStoreName   string `json:"diskStoreName"`
	MirroringNumber int    `json:"mirroringNumber"`
	RebuildPriority int    `json:"rebuildPriority"`
	StorageManageID string `json:"storageManageId"`
}

// DiskQuery is the listDisk payload. Empty fields are omitted so an empty
// query lists every disk.
type DiskQuery struct {
	Name           string `json:"name,omitempty"`
	VMID           string `json:"vmId,omitempty"`
	VdiApplication *bool  `json:"vdiApplication,omitempty"`
	PageNumber     int    `json:"pageNumber,omitempty"`
	PageSize       int    `json:"pageSize,omitempty"`
}

// VMQuery is the listVirtualMachine payload.
type VMQuery struct {
	PageNumber     int    `json:"pageNumber"`
	PageSize       int    `json:"pageSize"`
	IsInRecycleBin bool   `json:"isInRecycleBin"`
	NameLike       string `json:"nameLike,omitempty"`
}

// CloneVMRequest is the copyVirtualMachineLink payload. Interface carries the
// NIC definitions verbatim; an empty list clones without networking.
type CloneVMRequest struct {
	VirtualMachineID  string `json:"virtualMachineId"`
	Name              string `json:"name"`
	Interface         []any  `json:"interface"`
	CPU               int    `json:"cpu"`
	Sockets           int    `json:"sockets"`
	CPUMode           string `json:"cpuMode"`
	BalloonSwitch     bool   `json:"balloonSwitch"`
	IsMemMonopoly     bool   `json:"isMemMonopoly"`
	Memory            int    `json:"memory"`
	NumaEnable        bool   `json:"numaEnable"`
	CompatibilityMode bool   `json:"compatibilityMode"`
	Count             int    `json:"count"`
	CloneType         string `json:"cloneType"`
	IsStart           bool   `json:"isStart"`
	HaEnable          bool   `json:"haEnable"`
	Priority          int    `json:"priority"`
	CPULimitEnabled   bool   `json:"cpuLimitEnabled"`
	CPULimit          *int   `json:"cpuLimit"`
	CPUShareLevel     string `json:"cpuShareLevel"`
	CPUShare          int    `json:"cpuShare"`
}

// NewCloneVMRequest returns a linked-clone request with the platform defaults.
func NewCloneVMRequest(sourceID, name string, cpu, memory int) CloneVMRequest {
	if cpu <= 0 {
		cpu = 1
	}
	if memory <= 0 {
		memory = 2
	}
	return CloneVMRequest{
		VirtualMachineID: sourceID,
		Name:             name,
		Interface:        []any{},
		CPU:              cpu,
		Sockets:          1,
		CPUMode:          "custom",
		Memory:           memory,
		Count:            1,
		CloneType:        "LINK",
		IsStart:          true,
		HaEnable:         true,
		Priority:         1,
		CPUShareLevel:    "MID",
		CPUShare:         2048,
	}
}

// Ready reports whether the VM is running with no task in flight.
func (v VirtualMachine) Ready() bool {
	return v.Status == "START" && v.TaskStatus == "NONE"
}
