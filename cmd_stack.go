package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/fjacquet/archer_ops/internal/compute"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

func (a *app) computeManager() (*compute.Manager, string, error) {
	env := a.environment()
	ctrl, err := a.controller(env)
	if err != nil {
		return nil, "", err
	}
	return compute.NewManager(a.ssh(), ctrl.MgmtIP, a.config().SSH.Workers), env.ID, nil
}

func newStackCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Compute stack queries run on the controller",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "hypervisors",
			Short: "List hypervisors",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, _, err := a.computeManager()
				if err != nil {
					return err
				}
				list, err := m.Hypervisors(cmd.Context())
				if err != nil {
					return err
				}
				return printHypervisors(a, list, list)
			},
		},
		&cobra.Command{
			Use:   "hypervisor <id>",
			Short: "Show a hypervisor",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid hypervisor id %q", args[0])
				}
				m, _, err := a.computeManager()
				if err != nil {
					return err
				}
				d, err := m.Hypervisor(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printDetail(a, d)
			},
		},
		&cobra.Command{
			Use:   "vms",
			Short: "List the VMs known to the compute service",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, _, err := a.computeManager()
				if err != nil {
					return err
				}
				vms, err := m.VMs(cmd.Context())
				if err != nil {
					return err
				}
				return printStackVMs(a, vms, vms)
			},
		},
		&cobra.Command{
			Use:   "vm <id>",
			Short: "Show a VM as seen by the compute service",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, _, err := a.computeManager()
				if err != nil {
					return err
				}
				d, err := m.VM(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printDetail(a, d)
			},
		},
		&cobra.Command{
			Use:   "services",
			Short: "List compute services per host",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, _, err := a.computeManager()
				if err != nil {
					return err
				}
				svc, err := m.Services(cmd.Context())
				if err != nil {
					return err
				}
				return printServices(a, svc, svc)
			},
		},
		&cobra.Command{
			Use:   "overview",
			Short: "Hypervisors, VMs, services and resource usage in one report",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, env, err := a.computeManager()
				if err != nil {
					return err
				}
				ov := m.Overview(cmd.Context(), env)
				if a.output == "json" {
					return a.printer().writeJSON(ov)
				}
				if err := printHypervisors(a, ov, ov.Hypervisors); err != nil {
					return err
				}
				if u := ov.Usage; u != nil {
					if err := a.printer().render(u, func(t *uitable.Table) {
						t.AddRow("VCPU:", fmt.Sprintf("%d/%d (%.1f%%)", u.UsedVCPUs, u.TotalVCPUs, u.VCPUUsagePercent))
						t.AddRow("MEMORY (GB):", fmt.Sprintf("%d/%d (%.1f%%)", u.UsedMemoryGB, u.TotalMemoryGB, u.MemoryUsagePercent))
						t.AddRow("STORAGE (GB):", u.TotalStorageGB)
						t.AddRow("VMS:", fmt.Sprintf("%d total, %d active, %d stopped", u.VMs.Total, u.VMs.Active, u.VMs.Stopped))
					}); err != nil {
						return err
					}
				}
				for _, e := range ov.Errors {
					if err := a.printer().message("%s", bad(e)); err != nil {
						return err
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete-volume <id>",
			Short: "Delete a block volume",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, _, err := a.computeManager()
				if err != nil {
					return err
				}
				if err := m.DeleteVolume(cmd.Context(), args[0]); err != nil {
					return err
				}
				return a.printer().message("Volume %s deleted", args[0])
			},
		},
	)
	return cmd
}

func printHypervisors(a *app, v any, list []compute.Hypervisor) error {
	return a.printer().render(v, func(t *uitable.Table) {
		t.AddRow("ID", "HOST", "STATE", "STATUS", "VMS")
		for _, h := range list {
			t.AddRow(h.ID, h.Host, colorStatus(h.State), colorStatus(h.Status), h.VMsCount)
		}
	})
}

func printStackVMs(a *app, v any, vms []compute.VM) error {
	return a.printer().render(v, func(t *uitable.Table) {
		t.AddRow("ID", "NAME", "STATUS", "HOST")
		for _, vm := range vms {
			t.AddRow(vm.ID, vm.Name, colorStatus(vm.Status), vm.Host)
		}
	})
}

func printServices(a *app, v any, svc compute.Services) error {
	types := make([]string, 0, len(svc))
	for typ := range svc {
		types = append(types, typ)
	}
	sort.Strings(types)
	return a.printer().render(v, func(t *uitable.Table) {
		t.AddRow("SERVICE", "HOST", "STATUS")
		for _, typ := range types {
			hosts := make([]string, 0, len(svc[typ]))
			for h := range svc[typ] {
				hosts = append(hosts, h)
			}
			sort.Strings(hosts)
			for _, h := range hosts {
				t.AddRow(typ, h, colorStatus(svc[typ][h]))
			}
		}
	})
}

func printDetail(a *app, d compute.Detail) error {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return a.printer().render(d, func(t *uitable.Table) {
		for _, k := range keys {
			t.AddRow(k+":", d[k])
		}
	})
}
