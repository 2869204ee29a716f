package metadb

import (
	"fmt"
	"sort"
	"strings"
)

// Column describes one column of a platform table. A nil Default is NULL.
type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Key      string  `json:"key"`
	Default  *string `json:"default"`
}

// Table is the documented layout of a platform table.
type Table struct {
	Name        string   `json:"table_name"`
	Description string   `json:"description"`
	Columns     []Column `json:"columns"`
}

// ColumnMatch is a column found by SearchByType.
type ColumnMatch struct {
	Table    string  `json:"table"`
	Column   string  `json:"column"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Key      string  `json:"key"`
	Default  *string `json:"default"`
}

func col(name, typ string, nullable bool, key string, def ...string) Column {
	c := Column{Name: name, Type: typ, Nullable: nullable, Key: key}
	if len(def) > 0 {
		c.Default = &def[0]
	}
	return c
}

var catalog = map[string]Table{
	"virtual_machine": {
		Name:        "virtual_machine",
		Description: "虚拟机表,它属于xu_resource数据库",
		Columns: []Column{
			col("id", "varchar(128)", false, "PRI"),
			col("ref", "varchar(64)", true, "MUL"),
			col("name", "varchar(256)", true, ""),
			col("source", "varchar(128)", true, ""),
			col("description", "varchar(255)", true, ""),
			col("host_id", "varchar(128)", true, ""),
			col("image_id", "varchar(128)", true, ""),
			col("flavor_id", "varchar(128)", false, ""),
			col("cluster_id", "varchar(128)", true, ""),
			col("user_name", "varchar(128)", true, ""),
			col("password", "varchar(256)", true, ""),
			col("status", "varchar(128)", false, ""),
			col("task_status", "varchar(128)", false, "", "NONE"),
			col("create_time", "datetime", false, "", "current_timestamp()"),
			col("update_time", "datetime", false, "", "current_timestamp()"),
			col("create_user_id", "varchar(128)", false, ""),
			col("run_time", "bigint(20)", true, ""),
			col("hot_resize", "smallint(6)", true, ""),
			col("usb_ref", "varchar(128)", true, ""),
			col("zone_id", "varchar(128)", true, ""),
			col("cpu_host_resize", "tinyint(4)", true, "", "0"),
			col("memory_host_resize", "tinyint(4)", true, "", "0"),
			col("type", "varchar(16)", true, ""),
			col("is_new", "tinyint(4)", true, "", "1"),
			col("createvm_type", "varchar(32)", true, ""),
			col("pay_type", "varchar(16)", true, ""),
			col("product_status", "varchar(256)", true, ""),
			col("virtual_machine_snapshot_id", "varchar(128)", true, ""),
			col("image_iso_id", "varchar(128)", true, ""),
			col("os", "varchar(128)", true, ""),
			col("is_agent_alive", "smallint(6)", true, ""),
			col("is_in_recycle_bin", "tinyint(4)", true, "", "0"),
			col("delete_time", "datetime", true, ""),
			col("arstor_status", "varchar(128)", true, ""),
			col("storage_type", "varchar(128)", true, ""),
			col("priority", "smallint(6)", true, ""),
			col("is_restorable", "tinyint(4)", true, "", "0"),
			col("aggregate_id", "varchar(128)", true, ""),
			col("gpu_count", "tinyint(255)", true, ""),
			col("instance_name", "varchar(64)", true, ""),
			col("policy_id", "varchar(128)", true, ""),
			col("cpu_limit_enabled", "tinyint(4)", true, ""),
			col("cpu_limit", "double(6,2)", true, ""),
			col("cpu_share", "int(11)", true, ""),
			col("cpu_share_level", "varchar(64)", true, ""),
			col("storage_manage_id", "varchar(128)", true, ""),
			col("is_mem_monopoly", "tinyint(4)", true, ""),
			col("compatibility_mode", "tinyint(4)", true, ""),
			col("backup_id", "varchar(128)", true, ""),
			col("locked", "tinyint(4)", true, ""),
			col("root_vm_id", "varchar(128)", true, ""),
			col("server_hostname", "varchar(128)", true, ""),
			col("hw_firmware_type", "varchar(20)", true, ""),
			col("video_model", "varchar(32)", true, ""),
			col("ha_level", "varchar(64)", true, ""),
			col("ft_status", "varchar(64)", true, ""),
			col("vm_ha_enable", "smallint(6)", true, ""),
			col("is_open_agent", "tinyint(4)", true, ""),
			col("start_delay_time", "smallint(5) unsigned", true, ""),
			col("stop_delay_time", "int(4)", true, ""),
			col("start_order", "int(4)", true, ""),
			col("cpu_mode", "varchar(128)", true, ""),
			col("qga_os", "varchar(128)", true, ""),
			col("usb_controller", "tinyint(4)", true, ""),
			col("multi_queue_enabled", "smallint(6)", true, ""),
			col("cpu_model", "varchar(128)", true, ""),
			col("clone_type", "varchar(128)", true, ""),
			col("clock", "varchar(16)", true, ""),
			col("balloon_switch", "smallint(2)", true, ""),
			col("balloon_level", "smallint(6)", true, ""),
			col("cpu_qos_down", "tinyint(1)", true, ""),
			col("release_status", "varchar(32)", true, ""),
			col("vm_faultcheck_enable", "smallint(6)", true, ""),
			col("vmtools_version", "varchar(32)", true, ""),
			col("batch_num", "bigint(20)", true, ""),
			col("protect_enable", "smallint(6)", true, "", "0"),
			col("kubernetes_source", "smallint(6)", true, ""),
			col("bus_type", "varchar(128)", true, ""),
			col("display_number", "int(11)", true, ""),
			col("in_recycle_bin_source", "varchar(32)", true, ""),
			col("is_enable_vnc", "smallint(6)", true, ""),
			col("audio_type", "varchar(32)", true, ""),
			col("vnc_pwd", "varchar(256)", true, ""),
			col("boot_order", "varchar(100)", true, ""),
			col("irq_enable", "varchar(100)", true, ""),
			col("tool_id", "varchar(128)", true, ""),
			col("is_template", "smallint(6)", true, "", "0"),
			col("template_enabled", "smallint(6)", true, "", "1"),
			col("template_vm_id", "varchar(100)", true, ""),
			col("temp_cpu", "bigint(20)", true, ""),
			col("temp_memory", "bigint(20)", true, ""),
			col("temp_socket", "bigint(20)", true, ""),
			col("device_bus_type", "varchar(64)", true, "", "virtio"),
			col("temp_numa_enable", "smallint(6)", true, ""),
			col("temp_numa_node_nums", "int(11)", true, ""),
			col("temp_numa_bond", "varchar(32)", true, ""),
			col("immediate", "smallint(6)", true, ""),
			col("exact_clock", "smallint(6)", true, ""),
			col("kvm_hidden", "smallint(6)", true, ""),
			col("hyperv", "smallint(6)", true, ""),
			col("dynamic", "tinyint(4)", true, ""),
			col("dynamic_gpu", "varchar(32)", true, ""),
			col("dynamic_vgpu", "varchar(32)", true, ""),
			col("vtpm_enable", "tinyint(4)", true, ""),
			col("encrypt", "smallint(6)", true, "", "0"),
			col("nic_type", "varchar(32)", true, ""),
			col("usb_type", "varchar(32)", true, ""),
			col("temp_balloon_switch", "smallint(6)", true, ""),
			col("cpu_set", "varchar(512)", true, ""),
			col("old_host_id", "varchar(64)", true, ""),
		},
	},
	"virtual_disk": {
		Name:        "virtual_disk",
		Description: "虚拟磁盘表",
		Columns: []Column{
			col("id", "varchar(128)", false, "PRI"),
			col("vm_id", "varchar(128)", true, "MUL"),
			col("disk_name", "varchar(256)", true, ""),
			col("size_gb", "int", true, "", "0"),
			col("status", "varchar(64)", true, "", "available"),
			col("create_time", "datetime", false, "", "current_timestamp()"),
			col("update_time", "datetime", false, "", "current_timestamp()"),
		},
	},
}

// Tables returns the documented table names, sorted.
func Tables() []string {
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Schema returns the layout of table.
func Schema(table string) (Table, bool) {
	t, ok := catalog[table]
	return t, ok
}

// LookupColumn returns column name of table.
func LookupColumn(table, name string) (Column, error) {
	t, ok := catalog[table]
	if !ok {
		return Column{}, fmt.Errorf("表 '%s' 不存在", table)
	}
	for _, c := range t.Columns {
		if c.Name == name {
			return c, nil
		}
	}
	return Column{}, fmt.Errorf("列 '%s' 在表 '%s' 中不存在", name, table)
}

// SearchByType lists the columns whose type contains dataType, ignoring case.
func SearchByType(dataType string) []ColumnMatch {
	needle := strings.ToLower(dataType)
	var out []ColumnMatch
	for _, table := range Tables() {
		for _, c := range catalog[table].Columns {
			if strings.Contains(strings.ToLower(c.Type), needle) {
				out = append(out, ColumnMatch{
					Table:    table,
					Column:   c.Name,
					Type:     c.Type,
					Nullable: c.Nullable,
					Key:      c.Key,
					Default:  c.Default,
				})
			}
		}
	}
	return out
}

// Markdown renders table as a markdown document.
func Markdown(table string) (string, error) {
	t, ok := catalog[table]
	if !ok {
		return "", fmt.Errorf("表 '%s' 不存在", table)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n## 表: %s\n", t.Description, t.Name)
	b.WriteString("| 字段名 | 类型 | 允许空 | 键 | 默认值 | 额外信息 |\n")
	b.WriteString("|-------|------|--------|----|--------|----------|\n")
	for _, c := range t.Columns {
		nullable := "NO"
		if c.Nullable {
			nullable = "YES"
		}
		def := "NULL"
		if c.Default != nil {
			def = *c.Default
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |  |\n", c.Name, c.Type, nullable, c.Key, def)
	}
	return b.String(), nil
}
