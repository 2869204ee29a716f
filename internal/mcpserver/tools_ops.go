package mcpserver

import (
	"context"
	"fmt"

	"github.com/fjacquet/archer_ops/internal/blockstore"
	"github.com/fjacquet/archer_ops/internal/compute"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/monitor"
	"github.com/fjacquet/archer_ops/internal/nodes"
	"github.com/fjacquet/archer_ops/internal/provision"
	"github.com/fjacquet/archer_ops/internal/utils"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type sshInput struct {
	HostIP   string `json:"hostip" jsonschema:"远程主机IP"`
	Command  string `json:"command" jsonschema:"要执行的Shell命令"`
	Port     int    `json:"port,omitempty" jsonschema:"SSH端口，默认取配置"`
	Username string `json:"username,omitempty" jsonschema:"登录用户名，默认取配置"`
	KeyPath  string `json:"key_path,omitempty" jsonschema:"私钥路径，默认取配置"`
}

type sshOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

type templatesOutput struct {
	Templates []provision.Summary `json:"templates"`
}

type recommendInput struct {
	UseCase     string `json:"use_case" jsonschema:"office, development, web, database, compute或container"`
	Performance string `json:"performance,omitempty" jsonschema:"low, standard或high，默认standard"`
}

type envInput struct {
	Env string `json:"env,omitempty" jsonschema:"环境ID，默认production"`
}

func (s *Server) registerOpsTools() {
	addTool(s, "sshexecute_command", "通过SSH密钥在远程主机执行命令", func(ctx context.Context, _ *mcp.CallToolRequest, in sshInput) (*mcp.CallToolResult, sshOutput, error) {
		cfg := s.opts.Config()
		port, user, key := in.Port, in.Username, in.KeyPath
		if port == 0 {
			port = cfg.GetSSHPort()
		}
		if user == "" {
			user = cfg.SSH.User
		}
		if key == "" {
			key = cfg.SSH.KeyPath
		}
		res, err := s.opts.NewRunner(port, user, key).Run(ctx, in.HostIP, in.Command)
		if err != nil {
			return nil, sshOutput{}, err
		}
		return nil, sshOutput{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, nil
	})

	addTool(s, "list_vm_templates", "列出虚拟机配置模板", func(_ context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, templatesOutput, error) {
		return nil, templatesOutput{Templates: s.opts.Catalog.List()}, nil
	})

	addTool(s, "recommend_vm_template", "根据用例和性能要求推荐虚拟机模板", func(_ context.Context, _ *mcp.CallToolRequest, in recommendInput) (*mcp.CallToolResult, provision.Recommendation, error) {
		return nil, s.opts.Catalog.Recommend(in.UseCase, in.Performance), nil
	})

	addTool(s, "node_inventory", "读取集群节点清单和系统信息", func(ctx context.Context, _ *mcp.CallToolRequest, in envInput) (*mcp.CallToolResult, nodes.Inventory, error) {
		env, controller, err := s.controller(in.Env)
		if err != nil {
			return nil, nodes.Inventory{}, err
		}
		m := nodes.NewManager(s.opts.Config(), s.opts.SSH, s.opts.IPMI)
		inv, err := m.ShowInventory(ctx, env.ID, controller.MgmtIP)
		return nil, inv, err
	})

	addTool(s, "stack_overview", "虚拟化层概览: 计算节点、虚拟机和服务", func(ctx context.Context, _ *mcp.CallToolRequest, in envInput) (*mcp.CallToolResult, compute.Overview, error) {
		env, controller, err := s.controller(in.Env)
		if err != nil {
			return nil, compute.Overview{}, err
		}
		m := compute.NewManager(s.opts.SSH, controller.MgmtIP, s.opts.Config().SSH.Workers)
		return nil, m.Overview(ctx, env.ID), nil
	})

	addTool(s, "storage_health", "分布式存储健康检查", func(ctx context.Context, _ *mcp.CallToolRequest, in envInput) (*mcp.CallToolResult, blockstore.HealthReport, error) {
		env := s.opts.Sessions.ResolveEnvironment(in.Env)
		if len(env.Nodes) == 0 {
			return nil, blockstore.HealthReport{}, fmt.Errorf("environment %s has no storage nodes", env.ID)
		}
		m := blockstore.NewManager(s.opts.SSH, env.Nodes, s.opts.Config().SSH.Workers)
		return nil, m.HealthReport(ctx, env.ID), nil
	})

	addTool(s, "platform_status", "平台综合状态: 资源、日志和组件健康", func(ctx context.Context, _ *mcp.CallToolRequest, in envInput) (*mcp.CallToolResult, monitor.Status, error) {
		env, controller, err := s.controller(in.Env)
		if err != nil {
			return nil, monitor.Status{}, err
		}
		return nil, monitor.New(s.opts.Config(), s.opts.SSH).PlatformStatus(ctx, env.ID, controller), nil
	})
}

// controller resolves the environment id and its controller node. An
// environment without nodes uses the address of its platform URL.
func (s *Server) controller(id string) (models.Environment, models.NodeRef, error) {
	env := s.opts.Sessions.ResolveEnvironment(id)
	if n, ok := monitor.ControllerNode(env.Nodes); ok {
		return env, n, nil
	}
	ip := utils.ExtractIPv4(env.URL)
	if ip == "" {
		return env, models.NodeRef{}, fmt.Errorf("environment %s has no controller address", env.ID)
	}
	return env, models.NodeRef{NodeID: 1, Hostname: "node-1", MgmtIP: ip, Role: "controller"}, nil
}
