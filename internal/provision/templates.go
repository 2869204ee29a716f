package provision

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fjacquet/archer_ops/internal/models"
	"gopkg.in/yaml.v2"
)

// ErrUnknownTemplate is returned for a template name that is not in the
// catalog.
var ErrUnknownTemplate = errors.New("模板不存在")

// Template is a named VM shape. Name and Hostname may contain {num}.
type Template struct {
	Name            string   `json:"name" yaml:"name"`
	Hostname        string   `json:"hostname" yaml:"hostname"`
	Description     string   `json:"description" yaml:"description"`
	VideoModel      string   `json:"videoModel" yaml:"videoModel"`
	HaEnable        bool     `json:"haEnable" yaml:"haEnable"`
	CPU             int      `json:"cpu" yaml:"cpu"`
	Sockets         int      `json:"sockets" yaml:"sockets"`
	Memory          int      `json:"memory" yaml:"memory"`
	Size            int      `json:"size" yaml:"size"`
	CloneType       string   `json:"cloneType" yaml:"cloneType"`
	Priority        int      `json:"priority" yaml:"priority"`
	VMActive        bool     `json:"vmActive" yaml:"vmActive"`
	NumaEnable      bool     `json:"numaEnable" yaml:"numaEnable"`
	BigPageEnable   bool     `json:"bigPageEnable" yaml:"bigPageEnable"`
	BalloonSwitch   bool     `json:"balloonSwitch" yaml:"balloonSwitch"`
	AudioType       string   `json:"audioType" yaml:"audioType"`
	VncPwd          string   `json:"vncPwd" yaml:"vncPwd"`
	RebuildPriority int      `json:"rebuildPriority" yaml:"rebuildPriority"`
	UseCase         string   `json:"use_case" yaml:"useCase"`
	Tags            []string `json:"tags" yaml:"tags"`
	DeployTime      string   `json:"estimated_deploy_time" yaml:"estimatedDeployTime"`
	Cost            string   `json:"resource_cost" yaml:"resourceCost"`
}

// Spec converts a rendered template into VM creation knobs. Placement
// fields are filled by the creator.
func (t Template) Spec() models.VMSpec {
	return models.VMSpec{
		Name:            t.Name,
		Hostname:        t.Hostname,
		VideoModel:      t.VideoModel,
		HaEnable:        t.HaEnable,
		CPU:             t.CPU,
		Sockets:         t.Sockets,
		Memory:          t.Memory,
		Size:            t.Size,
		RebuildPriority: t.RebuildPriority,
		NumaEnable:      t.NumaEnable,
		VMActive:        t.VMActive,
		VncPwd:          t.VncPwd,
		BigPageEnable:   t.BigPageEnable,
		BalloonSwitch:   t.BalloonSwitch,
		AudioType:       t.AudioType,
		CloneType:       t.CloneType,
		Priority:        t.Priority,
	}
}

func builtinTemplates() map[string]Template {
	return map[string]Template{
		"basic": {
			Name: "basic-vm-{num}", Hostname: "basic-{num}", Description: "基础办公型VM",
			VideoModel: "virtio", CPU: 2, Sockets: 1, Memory: 4, Size: 80,
			CloneType: "LINK", Priority: 1, AudioType: "ich6", RebuildPriority: 3,
			UseCase: "办公开发、轻量服务", Tags: []string{"office", "basic", "light"},
			DeployTime: "3-5分钟", Cost: "低",
		},
		"web_server": {
			Name: "web-vm-{num}", Hostname: "web-{num}", Description: "Web服务器型VM",
			VideoModel: "virtio", HaEnable: true, CPU: 4, Sockets: 1, Memory: 8, Size: 100,
			CloneType: "LINK", Priority: 2, VMActive: true, NumaEnable: true,
			AudioType: "ich6", RebuildPriority: 2,
			UseCase: "Web应用、API服务", Tags: []string{"web", "server", "production"},
			DeployTime: "5-8分钟", Cost: "中",
		},
		"database": {
			Name: "db-vm-{num}", Hostname: "db-{num}", Description: "数据库型VM",
			VideoModel: "qxl", HaEnable: true, CPU: 8, Sockets: 2, Memory: 16, Size: 200,
			CloneType: "LINK", Priority: 3, VMActive: true, NumaEnable: true, BigPageEnable: true,
			AudioType: "ich6", RebuildPriority: 1,
			UseCase: "MySQL、PostgreSQL数据库", Tags: []string{"database", "server", "production", "high_performance"},
			DeployTime: "8-12分钟", Cost: "高",
		},
		"development": {
			Name: "dev-vm-{num}", Hostname: "dev-{num}", Description: "开发测试型VM",
			VideoModel: "virtio", CPU: 2, Sockets: 1, Memory: 4, Size: 60,
			CloneType: "LINK", Priority: 1, VMActive: true,
			AudioType: "ich6", VncPwd: "dev123", RebuildPriority: 3,
			UseCase: "代码开发、功能测试", Tags: []string{"development", "test", "temporary"},
			DeployTime: "2-4分钟", Cost: "低",
		},
		"high_performance": {
			Name: "hp-vm-{num}", Hostname: "hp-{num}", Description: "高性能计算VM",
			VideoModel: "virtio", HaEnable: true, CPU: 16, Sockets: 2, Memory: 32, Size: 500,
			CloneType: "FULL", Priority: 5, VMActive: true, NumaEnable: true, BigPageEnable: true,
			BalloonSwitch: true, AudioType: "ich6", RebuildPriority: 1,
			UseCase: "大数据处理、AI计算", Tags: []string{"performance", "compute", "research"},
			DeployTime: "15-20分钟", Cost: "极高",
		},
		"container_host": {
			Name: "container-vm-{num}", Hostname: "container-{num}", Description: "容器宿主机VM",
			VideoModel: "virtio", HaEnable: true, CPU: 8, Sockets: 1, Memory: 16, Size: 150,
			CloneType: "LINK", Priority: 3, VMActive: true, NumaEnable: true,
			BalloonSwitch: true, AudioType: "ich6", RebuildPriority: 2,
			UseCase: "Docker、Kubernetes节点", Tags: []string{"container", "orchestration", "devops"},
			DeployTime: "8-12分钟", Cost: "高",
		},
	}
}

// Catalog holds the built-in templates plus imported ones. Imported
// templates shadow built-ins of the same name.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewCatalog returns a catalog of the built-in templates.
func NewCatalog() *Catalog {
	return &Catalog{templates: builtinTemplates()}
}

// Get returns the template called name.
func (c *Catalog) Get(name string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[name]
	return t, ok
}

// Names returns the template names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.templates))
	for n := range c.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Summary is the list view of a template.
type Summary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	CPU         int      `json:"cpu"`
	Memory      int      `json:"memory"`
	Size        int      `json:"size"`
	HA          bool     `json:"ha"`
	UseCase     string   `json:"use_case"`
	Tags        []string `json:"tags"`
	DeployTime  string   `json:"deploy_time"`
	Cost        string   `json:"cost"`
}

func summarize(name string, t Template) Summary {
	return Summary{
		Name: name, Description: t.Description, CPU: t.CPU, Memory: t.Memory, Size: t.Size,
		HA: t.HaEnable, UseCase: t.UseCase, Tags: t.Tags, DeployTime: t.DeployTime, Cost: t.Cost,
	}
}

// List summarizes every template in name order.
func (c *Catalog) List() []Summary {
	var out []Summary
	for _, name := range c.Names() {
		t, _ := c.Get(name)
		out = append(out, summarize(name, t))
	}
	return out
}

// Search matches keyword, case-insensitively, against the name,
// description, use case and tags.
func (c *Catalog) Search(keyword string) []Summary {
	k := strings.ToLower(keyword)
	var out []Summary
	for _, name := range c.Names() {
		t, _ := c.Get(name)
		fields := append([]string{name, t.Description, t.UseCase}, t.Tags...)
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), k) {
				out = append(out, summarize(name, t))
				break
			}
		}
	}
	return out
}

// Overrides replaces template fields. Nil fields keep the template value.
type Overrides struct {
	Name          *string `json:"name,omitempty"`
	Hostname      *string `json:"hostname,omitempty"`
	VideoModel    *string `json:"videoModel,omitempty"`
	HaEnable      *bool   `json:"haEnable,omitempty"`
	CPU           *int    `json:"cpu,omitempty"`
	Memory        *int    `json:"memory,omitempty"`
	Size          *int    `json:"size,omitempty"`
	NumaEnable    *bool   `json:"numaEnable,omitempty"`
	BigPageEnable *bool   `json:"bigPageEnable,omitempty"`
	VncPwd        *string `json:"vncPwd,omitempty"`
}

func (o Overrides) apply(t *Template) {
	setIf(&t.Name, o.Name)
	setIf(&t.Hostname, o.Hostname)
	setIf(&t.VideoModel, o.VideoModel)
	setIf(&t.HaEnable, o.HaEnable)
	setIf(&t.CPU, o.CPU)
	setIf(&t.Memory, o.Memory)
	setIf(&t.Size, o.Size)
	setIf(&t.NumaEnable, o.NumaEnable)
	setIf(&t.BigPageEnable, o.BigPageEnable)
	setIf(&t.VncPwd, o.VncPwd)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Render substitutes {num} in the name and hostname of template name and
// then applies overrides.
func (c *Catalog) Render(name string, num int, overrides Overrides) (Template, error) {
	t, ok := c.Get(name)
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	n := strconv.Itoa(num)
	t.Name = strings.ReplaceAll(t.Name, "{num}", n)
	t.Hostname = strings.ReplaceAll(t.Hostname, "{num}", n)
	t.Tags = append([]string(nil), t.Tags...)
	overrides.apply(&t)
	return t, nil
}

var recommendations = map[string]map[string]string{
	"office":      {"low": "basic", "standard": "basic", "high": "development"},
	"development": {"low": "development", "standard": "development", "high": "web_server"},
	"web":         {"low": "web_server", "standard": "web_server", "high": "database"},
	"database":    {"low": "database", "standard": "database", "high": "high_performance"},
	"compute":     {"low": "high_performance", "standard": "high_performance", "high": "high_performance"},
	"container":   {"low": "container_host", "standard": "container_host", "high": "high_performance"},
}

var alternatives = map[string][]string{
	"office":      {"development", "basic"},
	"development": {"basic", "web_server"},
	"web":         {"basic", "database"},
	"database":    {"web_server", "high_performance"},
	"compute":     {"database", "container_host"},
}

// Recommendation is the answer of Recommend.
type Recommendation struct {
	TemplateName string   `json:"template_name"`
	Template     Template `json:"template"`
	Reasoning    string   `json:"reasoning"`
	Alternatives []string `json:"alternatives"`
}

// Recommend picks a template for useCase at performance level perf (low,
// standard or high). Unknown combinations fall back to basic.
func (c *Catalog) Recommend(useCase, perf string) Recommendation {
	if perf == "" {
		perf = "standard"
	}
	name, ok := recommendations[useCase][perf]
	if !ok {
		name = "basic"
	}
	alts, ok := alternatives[useCase]
	if !ok {
		alts = []string{"basic", "web_server"}
	}
	if len(alts) > 2 {
		alts = alts[:2]
	}
	t, _ := c.Get(name)
	return Recommendation{
		TemplateName: name,
		Template:     t,
		Reasoning:    fmt.Sprintf("基于用例'%s'和性能要求'%s'推荐", useCase, perf),
		Alternatives: append([]string(nil), alts...),
	}
}

// VideoModels are the accepted display adapters.
var VideoModels = []string{"cirrus", "qxl", "virtio", "vga"}

// Validation is the outcome of Validate.
type Validation struct {
	Valid           bool     `json:"valid"`
	Errors          []string `json:"errors"`
	Recommendations []string `json:"recommendations"`
}

// Validate checks the ranges of a rendered template and suggests NUMA and
// huge pages for large shapes.
func Validate(t Template) Validation {
	v := Validation{Errors: []string{}, Recommendations: []string{}}
	if t.CPU < 1 || t.CPU > 32 {
		v.Errors = append(v.Errors, "CPU核心数必须在1-32之间")
	}
	if t.Memory < 1 || t.Memory > 256 {
		v.Errors = append(v.Errors, "内存大小必须在1-256GB之间")
	}
	if t.Size < 10 || t.Size > 2000 {
		v.Errors = append(v.Errors, "磁盘大小必须在10-2000GB之间")
	}
	known := false
	for _, m := range VideoModels {
		if strings.EqualFold(t.VideoModel, m) {
			known = true
			break
		}
	}
	if !known {
		v.Errors = append(v.Errors, "视频模型必须是: "+strings.Join(VideoModels, ", "))
	}
	if t.CPU >= 8 && !t.NumaEnable {
		v.Recommendations = append(v.Recommendations, "8核以上CPU建议启用NUMA")
	}
	if t.Memory >= 16 && !t.BigPageEnable {
		v.Recommendations = append(v.Recommendations, "16GB以上内存建议启用大页内存")
	}
	v.Valid = len(v.Errors) == 0
	return v
}

// Requirements totals the resources of a set of VMs.
type Requirements struct {
	TotalCPU       int    `json:"total_cpu"`
	TotalMemoryGB  int    `json:"total_memory_gb"`
	TotalStorageGB int    `json:"total_storage_gb"`
	HAInstances    int    `json:"ha_instances"`
	InstanceCount  int    `json:"instance_count"`
	DeployTime     string `json:"estimated_deploy_time"`
}

// RequirementsOf sums cpu, memory and disk of templates. Deployment takes 3
// to 8 minutes per VM.
func RequirementsOf(templates []Template) Requirements {
	r := Requirements{InstanceCount: len(templates)}
	for _, t := range templates {
		r.TotalCPU += t.CPU
		r.TotalMemoryGB += t.Memory
		r.TotalStorageGB += t.Size
		if t.HaEnable {
			r.HAInstances++
		}
	}
	r.DeployTime = fmt.Sprintf("%d-%d分钟", len(templates)*3, len(templates)*8)
	return r
}

// Export writes template name to path as YAML keyed by the name.
func (c *Catalog) Export(name, path string) error {
	t, ok := c.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	data, err := yaml.Marshal(map[string]Template{name: t})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Import loads the templates of a YAML file written by Export. Entries
// missing a name, hostname, cpu, memory or size are skipped and named in
// the returned list.
func (c *Catalog) Import(path string) (imported, rejected []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var in map[string]Template
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, nil, fmt.Errorf("invalid template file %s: %w", path, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, t := range in {
		if t.Name == "" || t.Hostname == "" || t.CPU == 0 || t.Memory == 0 || t.Size == 0 {
			rejected = append(rejected, name)
			continue
		}
		c.templates[name] = t
		imported = append(imported, name)
	}
	sort.Strings(imported)
	sort.Strings(rejected)
	return imported, rejected, nil
}
