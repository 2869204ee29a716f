package mcpserver

import (
	"context"
	"fmt"

	"github.com/fjacquet/archer_ops/internal/archer"
	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/provision"
	"github.com/fjacquet/archer_ops/internal/utils"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	log "github.com/sirupsen/logrus"
)

// SessionReady is the getSession success message.
const SessionReady = "成功获取了安超平台的交互会话.并初始化平台上下文"

const workflowTestcase001 = `=== 测试用例步骤描述 ===
1. 获取平台session
2. 获取集群存储信息
3. 获取镜像信息
4. 创建虚拟机
5. 创建虚拟磁盘`

type empty struct{}

type sessionInput struct {
	URL      string `json:"url" jsonschema:"安超平台地址，IP或http(s) URL"`
	Name     string `json:"name,omitempty" jsonschema:"平台用户名，默认admin"`
	Password string `json:"password,omitempty" jsonschema:"平台密码，默认取配置"`
}

type sessionOutput struct {
	Message  string `json:"message"`
	BaseURL  string `json:"base_url"`
	Zone     string `json:"zone"`
	Storages int    `json:"storages"`
	Images   int    `json:"images"`
	Database bool   `json:"database"`
}

type auditOutput struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

type clusterOutput struct {
	Zone      string           `json:"zone"`
	ClusterID string           `json:"clusterId"`
	Storages  []models.Storage `json:"storageInfo"`
}

type imagesOutput struct {
	Images []models.Image `json:"images"`
	Count  int            `json:"count"`
}

type storagesOutput struct {
	Storages []models.Storage `json:"storages"`
	Count    int              `json:"count"`
}

type instancesOutput struct {
	Instances []provision.CreatedVM `json:"instances"`
	Count     int                   `json:"count"`
}

type volumesOutput struct {
	Volumes []models.Disk `json:"volumes"`
	Count   int           `json:"count"`
}

type createInstanceInput struct {
	Name            string `json:"name" jsonschema:"虚拟机名称，会追加_YYYYMMDDHHMMSS"`
	Hostname        string `json:"hostname" jsonschema:"主机名"`
	VideoModel      string `json:"videoModel" jsonschema:"显卡模型: cirrus, qxl, virtio或vga"`
	ImageID         string `json:"imageId,omitempty" jsonschema:"镜像ID，为空时使用第一个可用镜像"`
	StorName        string `json:"storname" jsonschema:"存储名称(stackName)"`
	CPU             int    `json:"cpu" jsonschema:"CPU核数"`
	Memory          int    `json:"memory,omitempty" jsonschema:"内存GB，默认2"`
	BalloonSwitch   bool   `json:"balloonSwitch,omitempty"`
	Size            int    `json:"size,omitempty" jsonschema:"系统盘GB，默认80"`
	RebuildPriority int    `json:"rebuildPriority,omitempty" jsonschema:"重建优先级，默认3"`
	NumaEnable      bool   `json:"numaEnable,omitempty"`
	VncPwd          string `json:"vncPwd,omitempty"`
	BigPageEnable   bool   `json:"bigPageEnable,omitempty"`
	VMActive        bool   `json:"vmActive,omitempty"`
	CloneType       string `json:"cloneType,omitempty" jsonschema:"LINK或FULL，默认LINK"`
	AudioType       string `json:"audioType,omitempty" jsonschema:"默认ich6"`
	AdminPassword   string `json:"adminPassword,omitempty" jsonschema:"默认Admin@123"`
	HaEnable        *bool  `json:"haEnable,omitempty" jsonschema:"默认true"`
	Priority        int    `json:"priority,omitempty" jsonschema:"默认1"`
}

func (in createInstanceInput) spec() models.VMSpec {
	ha := true
	if in.HaEnable != nil {
		ha = *in.HaEnable
	}
	memory := in.Memory
	if memory == 0 {
		memory = 2
	}
	return models.VMSpec{
		Name:            in.Name,
		Hostname:        in.Hostname,
		VideoModel:      in.VideoModel,
		HaEnable:        ha,
		CPU:             in.CPU,
		Sockets:         1,
		Memory:          memory,
		AdminPassword:   in.AdminPassword,
		Size:            in.Size,
		RebuildPriority: in.RebuildPriority,
		NumaEnable:      in.NumaEnable,
		VMActive:        in.VMActive,
		VncPwd:          in.VncPwd,
		BigPageEnable:   in.BigPageEnable,
		BalloonSwitch:   in.BalloonSwitch,
		AudioType:       in.AudioType,
		CloneType:       in.CloneType,
		Priority:        in.Priority,
	}
}

type createInstanceOutput struct {
	VMID   string        `json:"vm_id"`
	Name   string        `json:"name"`
	Config models.VMSpec `json:"config"`
}

type createDiskInput struct {
	StorageManageID string `json:"storageManageId"`
	PageSize        string `json:"pageSize" jsonschema:"4K, 8K, 16K或32K"`
	Compression     string `json:"compression" jsonschema:"Disabled, LZ4, Gzip_opt或Gzip_high"`
	Name            string `json:"name"`
	Size            int    `json:"size" jsonschema:"GB"`
	IOPS            int    `json:"iops" jsonschema:"75-250000"`
	Bandwidth       int    `json:"bandwidth" jsonschema:"MB/s, 1-1000"`
	Count           int    `json:"count"`
	ReadCache       bool   `json:"readCache"`
	ZoneID          string `json:"zoneId,omitempty" jsonschema:"为空时使用会话的zone"`
}

type deleteDiskInput struct {
	DiskID []string `json:"diskId" jsonschema:"要删除的磁盘ID列表"`
}

type deleteDiskOutput struct {
	Deleted []string `json:"deleted"`
}

type workflowInput struct {
	WorkflowID string `json:"workflow_id"`
}

func (s *Server) registerPlatformTools() {
	addTool(s, "getSession", "建立与安超平台的交互会话并初始化存储、镜像和数据库上下文。必须先调用此方法。", s.getSession)

	addTool(s, "get_audit", "返回当前会话的交互权限信息", func(_ context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, auditOutput, error) {
		api, err := s.state.Session()
		if err != nil {
			return nil, auditOutput{}, err
		}
		cred := api.Credentials()
		return nil, auditOutput{
			BaseURL:  api.BaseURL(),
			Username: cred.Username(),
			Password: cred.MaskedPassword(),
			Token:    api.Token(),
		}, nil
	})

	addTool(s, "get_clusterStor", "返回zone、集群ID和存储信息", func(ctx context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, clusterOutput, error) {
		api, err := s.state.Session()
		if err != nil {
			return nil, clusterOutput{}, err
		}
		snap := s.state.Snapshot()
		out := clusterOutput{Zone: snap.Zone, Storages: snap.Storages}
		info, err := api.ClusterInfo(ctx)
		if err != nil {
			logging.Component("mcp").WithError(err).Warn("Failed to read cluster info")
		}
		out.ClusterID = info.ClusterID
		return nil, out, nil
	})

	addTool(s, "get_image", "返回会话中的镜像列表", func(_ context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, imagesOutput, error) {
		if _, err := s.state.Session(); err != nil {
			return nil, imagesOutput{}, err
		}
		images := s.state.Snapshot().Images
		return nil, imagesOutput{Images: images, Count: len(images)}, nil
	})

	addTool(s, "get_instances", "返回本会话创建的虚拟机", func(_ context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, instancesOutput, error) {
		if _, err := s.state.Session(); err != nil {
			return nil, instancesOutput{}, err
		}
		vms := s.state.Snapshot().Instances
		return nil, instancesOutput{Instances: vms, Count: len(vms)}, nil
	})

	addTool(s, "get_volumes", "返回本会话创建的虚拟磁盘", func(_ context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, volumesOutput, error) {
		if _, err := s.state.Session(); err != nil {
			return nil, volumesOutput{}, err
		}
		disks := s.state.Snapshot().Volumes
		return nil, volumesOutput{Volumes: disks, Count: len(disks)}, nil
	})

	addTool(s, "getStorinfo", "按磁盘类型列出存储信息", func(ctx context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, storagesOutput, error) {
		api, err := s.state.Session()
		if err != nil {
			return nil, storagesOutput{}, err
		}
		storages, err := api.StoragesByDiskType(ctx)
		if err != nil {
			return nil, storagesOutput{}, err
		}
		return nil, storagesOutput{Storages: storages, Count: len(storages)}, nil
	})

	addTool(s, "getImagebystorageManageId", "列出位于已知存储上的镜像", func(ctx context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, imagesOutput, error) {
		api, err := s.state.Session()
		if err != nil {
			return nil, imagesOutput{}, err
		}
		zone, storages, images, err := loadInventory(ctx, api)
		if err != nil {
			return nil, imagesOutput{}, err
		}
		s.state.setInventory(zone, storages, images)
		onStorage := archer.ImagesByStorage(images, storages)
		return nil, imagesOutput{Images: onStorage, Count: len(onStorage)}, nil
	})

	addTool(s, "createInstance_noNet", "创建不带网卡的虚拟机", s.createInstance)
	addTool(s, "createDisk_vstor", "在指定存储上创建虚拟磁盘", s.createDisk)

	addTool(s, "deleteDisk", "删除虚拟磁盘", func(ctx context.Context, _ *mcp.CallToolRequest, in deleteDiskInput) (*mcp.CallToolResult, deleteDiskOutput, error) {
		api, err := s.state.Session()
		if err != nil {
			return nil, deleteDiskOutput{}, err
		}
		if len(in.DiskID) == 0 {
			return nil, deleteDiskOutput{}, fmt.Errorf("diskId 不能为空")
		}
		if err := api.RemoveDisks(ctx, in.DiskID); err != nil {
			return nil, deleteDiskOutput{}, err
		}
		s.state.removeVolumes(in.DiskID)
		return nil, deleteDiskOutput{Deleted: in.DiskID}, nil
	})

	addTool(s, "check_workflow_testcase001", "返回测试用例001的工作流步骤", func(_ context.Context, _ *mcp.CallToolRequest, _ workflowInput) (*mcp.CallToolResult, any, error) {
		return textResult(workflowTestcase001), nil, nil
	})
}

// loadInventory reads the zone, the storages and every image of the zone.
func loadInventory(ctx context.Context, api archer.API) (string, []models.Storage, []models.Image, error) {
	zone, err := api.Zone(ctx)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to resolve zone: %w", err)
	}
	storages, err := api.StoragesByDiskType(ctx)
	if err != nil {
		return zone, nil, nil, fmt.Errorf("failed to list storages: %w", err)
	}
	images, err := api.Images(ctx, zone)
	if err != nil {
		return zone, storages, nil, fmt.Errorf("failed to list images: %w", err)
	}
	return zone, storages, images, nil
}

func (s *Server) getSession(ctx context.Context, _ *mcp.CallToolRequest, in sessionInput) (*mcp.CallToolResult, sessionOutput, error) {
	url, err := archer.NormalizeURL(in.URL)
	if err != nil {
		return nil, sessionOutput{}, fmt.Errorf("请提供正确的安超平台地址，格式应为IP地址或HTTPS URL格式。")
	}
	name := in.Name
	if name == "" {
		name = "admin"
	}
	api, err := s.opts.Login(ctx, url, name, in.Password)
	if err != nil {
		return nil, sessionOutput{}, fmt.Errorf("未能正确获取到安超平台交互会话，请检查平台地址是否正确: %w", err)
	}

	entry := logging.Component("mcp").WithField("url", url)
	zone, storages, images, err := loadInventory(ctx, api)
	if err != nil {
		entry.WithError(err).Warn("Platform context partially loaded")
	}

	var db Database
	if host := utils.ExtractIPv4(url); host != "" {
		if db, err = s.opts.OpenDB(ctx, host); err != nil {
			entry.WithError(err).Warn("Database unavailable, db tools disabled")
			db = nil
		}
	}

	s.state.reset(api, db, zone, storages, images)
	entry.WithFields(log.Fields{"zone": zone, "storages": len(storages), "images": len(images)}).Info("MCP session established")
	return nil, sessionOutput{
		Message:  SessionReady,
		BaseURL:  api.BaseURL(),
		Zone:     zone,
		Storages: len(storages),
		Images:   len(images),
		Database: db != nil,
	}, nil
}

func (s *Server) createInstance(ctx context.Context, _ *mcp.CallToolRequest, in createInstanceInput) (*mcp.CallToolResult, createInstanceOutput, error) {
	api, err := s.state.Session()
	if err != nil {
		return nil, createInstanceOutput{}, err
	}
	creator := provision.NewVMCreator(api, s.opts.Catalog, s.opts.Retries, 0)
	p, err := creator.Resolve(ctx, in.StorName, in.ImageID)
	if err != nil {
		return nil, createInstanceOutput{}, err
	}
	vm, err := creator.Create(ctx, in.spec(), p)
	if err != nil {
		return nil, createInstanceOutput{}, err
	}
	s.state.addInstance(vm)
	return nil, createInstanceOutput{VMID: vm.ID, Name: vm.Name, Config: vm.Spec}, nil
}

func (s *Server) createDisk(ctx context.Context, _ *mcp.CallToolRequest, in createDiskInput) (*mcp.CallToolResult, volumesOutput, error) {
	api, err := s.state.Session()
	if err != nil {
		return nil, volumesOutput{}, err
	}
	opts := provision.DiskOptions{
		Name:        in.Name,
		Size:        in.Size,
		PageSize:    in.PageSize,
		Compression: in.Compression,
		IOPS:        in.IOPS,
		Bandwidth:   in.Bandwidth,
		Count:       in.Count,
		ReadCache:   in.ReadCache,
	}
	if err := provision.ValidateDiskOptions(opts); err != nil {
		return nil, volumesOutput{}, err
	}
	zone := in.ZoneID
	if zone == "" {
		zone = s.state.Snapshot().Zone
	}
	req := opts.Request(models.Storage{StorageManageID: in.StorageManageID, ZoneID: zone})

	var disks []models.Disk
	err = s.opts.Retries.Do(ctx, "disk:create", func(ctx context.Context) error {
		var err error
		disks, err = api.CreateDisks(ctx, req)
		return err
	})
	if err != nil {
		return nil, volumesOutput{}, err
	}
	s.state.addVolumes(disks)
	return nil, volumesOutput{Volumes: disks, Count: len(disks)}, nil
}
