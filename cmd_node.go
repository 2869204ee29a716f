package main

import (
	"context"
	"fmt"

	"github.com/fjacquet/archer_ops/internal/nodes"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

func (a *app) nodeManager() *nodes.Manager {
	cfg := a.config()
	return nodes.NewManager(cfg, a.ssh(), nodes.ExecRunner{Timeout: cfg.GetIPMITimeout()})
}

// targetNodes reads the inventory from the controller and keeps the nodes
// named in names, or all of them.
func (a *app) targetNodes(ctx context.Context, m *nodes.Manager, names []string) ([]nodes.Node, error) {
	ctrl, err := a.controller(a.environment())
	if err != nil {
		return nil, err
	}
	list, err := m.Inventory(ctx, ctrl.MgmtIP)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		list = nodes.Filter(list, names)
		if len(list) == 0 {
			return nil, fmt.Errorf("no inventory node matches %v", names)
		}
	}
	return list, nil
}

func newNodeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Cluster node inventory and power management",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "inventory",
			Short: "List the nodes of the ansible inventory with their system info",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				env := a.environment()
				ctrl, err := a.controller(env)
				if err != nil {
					return err
				}
				inv, err := a.nodeManager().ShowInventory(cmd.Context(), env.ID, ctrl.MgmtIP)
				if err != nil {
					return err
				}
				return printOpResults(a, inv, inv.Nodes)
			},
		},
		newNodeOpCmd(a, "system-info", "Read /etc/system-info of nodes", nodes.OpSystemInfo),
		newNodeOpCmd(a, "ipmi-ip", "Read the BMC address of nodes", nodes.OpIPMIAddress),
		newNodePowerCmd(a),
	)
	return cmd
}

func newNodeOpCmd(a *app, use, short, op string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [hostname]...",
		Short: short + ", all of them by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := a.nodeManager()
			list, err := a.targetNodes(cmd.Context(), m, args)
			if err != nil {
				return err
			}
			res := m.Execute(cmd.Context(), list, op)
			return printOpResults(a, res, res)
		},
	}
}

func newNodePowerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "power <status|on|off|cycle> [hostname]...",
		Short:     "Query or change node power over IPMI",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: []string{"status", "on", "off", "cycle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]
			if action != "status" && len(args) == 1 {
				return fmt.Errorf("power %s needs at least one hostname", action)
			}
			m := a.nodeManager()
			list, err := a.targetNodes(cmd.Context(), m, args[1:])
			if err != nil {
				return err
			}
			res := make([]nodes.OpResult, 0, len(list))
			for _, n := range list {
				if action == "status" {
					res = append(res, m.PowerStatus(cmd.Context(), n))
				} else {
					res = append(res, m.PowerControl(cmd.Context(), n, action))
				}
			}
			return printOpResults(a, res, res)
		},
	}
}

func printOpResults(a *app, v any, res []nodes.OpResult) error {
	return a.printer().render(v, func(t *uitable.Table) {
		t.AddRow("HOSTNAME", "MGMT IP", "OPERATION", "STATUS", "IPMI IP", "RESULT")
		for _, r := range res {
			result := r.SystemInfo
			switch {
			case r.Error != "":
				result = bad(r.Error)
			case r.Power != "":
				result = colorStatus(r.Power)
			case r.Output != "":
				result = r.Output
			}
			t.AddRow(r.Hostname, r.MgmtIP, r.Operation, colorStatus(r.Status), r.IPMIIP, result)
		}
	})
}
