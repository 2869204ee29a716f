package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fjacquet/archer_ops/internal/blockstore"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

// storageManager works on the nodes attached to the selected environment.
func (a *app) storageManager() (*blockstore.Manager, string, error) {
	env := a.environment()
	if len(env.Nodes) == 0 {
		return nil, "", fmt.Errorf("environment %s has no storage nodes configured", env.ID)
	}
	return blockstore.NewManager(a.ssh(), env.Nodes, a.config().SSH.Workers), env.ID, nil
}

// nodeIP resolves an optional node id argument to a management IP, the
// first storage node by default.
func nodeIP(m *blockstore.Manager, args []string) (string, error) {
	if len(args) == 0 {
		return m.Nodes()[0].MgmtIP, nil
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return "", fmt.Errorf("invalid node id %q", args[0])
	}
	n, ok := m.Node(id)
	if !ok {
		return "", fmt.Errorf("node %d is not a storage node of this environment", id)
	}
	return n.MgmtIP, nil
}

func newStorageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Block storage checks run on the storage nodes",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "zk [node-id]",
			Short: "Show the ZooKeeper ensemble",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, _, err := a.storageManager()
				if err != nil {
					return err
				}
				ip, err := nodeIP(m, args)
				if err != nil {
					return err
				}
				zk, err := m.Zookeeper(cmd.Context(), ip)
				if err != nil {
					return err
				}
				return a.printer().render(zk, func(t *uitable.Table) {
					t.AddRow("ID", "ADDRESS", "ROLE")
					for _, n := range zk.Nodes {
						t.AddRow(n.ID, n.Address, n.Role)
					}
					t.AddRow("", "status", colorStatus(zk.Status))
				})
			},
		},
		&cobra.Command{
			Use:   "stale [node-id]",
			Short: "List inaccessible disks",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, _, err := a.storageManager()
				if err != nil {
					return err
				}
				ip, err := nodeIP(m, args)
				if err != nil {
					return err
				}
				rep, err := m.StaleDisks(cmd.Context(), ip)
				if err != nil {
					return err
				}
				return a.printer().render(rep, func(t *uitable.Table) {
					t.AddRow("HEALTHY:", yesNo(rep.Healthy))
					for _, d := range rep.Disks {
						t.AddRow(colorStatus(d.Status), d.Info)
					}
				})
			},
		},
		&cobra.Command{
			Use:   "usage <node-id>",
			Short: "Show the disk usage of a storage node",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				m, _, err := a.storageManager()
				if err != nil {
					return err
				}
				id, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid node id %q", args[0])
				}
				n, ok := m.Node(id)
				if !ok {
					return fmt.Errorf("node %d is not a storage node of this environment", id)
				}
				u, err := m.Usage(cmd.Context(), n)
				if err != nil {
					return err
				}
				return printNodeUsage(a, u, []blockstore.NodeUsage{u})
			},
		},
		&cobra.Command{
			Use:   "cluster-usage",
			Short: "Show the disk usage of every storage node",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, env, err := a.storageManager()
				if err != nil {
					return err
				}
				c := m.ClusterUsage(cmd.Context(), env)
				if a.output == "json" {
					return a.printer().writeJSON(c)
				}
				if err := printNodeUsage(a, c, c.Nodes); err != nil {
					return err
				}
				return a.printer().message("cluster: %d/%d GB used (%.2f%%)%s",
					c.Summary.TotalUsedGB, c.Summary.TotalCapacityGB, c.Summary.OverallPercent, errorSuffix(c.Errors))
			},
		},
		&cobra.Command{
			Use:   "health",
			Short: "ZooKeeper and stale disk health of the cluster",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, env, err := a.storageManager()
				if err != nil {
					return err
				}
				rep := m.HealthReport(cmd.Context(), env)
				return a.printer().render(rep, func(t *uitable.Table) {
					t.AddRow("OVERALL:", colorStatus(rep.Overall))
					if rep.ZK != nil {
						if rep.ZK.Info != nil {
							t.AddRow("ZOOKEEPER:", colorStatus(rep.ZK.Info.Status))
						} else {
							t.AddRow("ZOOKEEPER:", bad(rep.ZK.Error))
						}
					}
					t.AddRow("NODES:", fmt.Sprintf("%d healthy, %d unhealthy of %d",
						rep.DiskHealth.HealthyNodes, rep.DiskHealth.UnhealthyNodes, rep.DiskHealth.TotalNodes))
					for _, d := range rep.DiskHealth.Details {
						t.AddRow(d.Host+":", colorStatus(d.Overall), d.Error)
					}
					for _, al := range rep.Alerts {
						t.AddRow("ALERT:", colorStatus(al.Severity), al.Message)
					}
				})
			},
		},
	)
	return cmd
}

func printNodeUsage(a *app, v any, list []blockstore.NodeUsage) error {
	return a.printer().render(v, func(t *uitable.Table) {
		t.AddRow("NODE", "HOSTNAME", "DEVICES", "USED (GB)", "CAPACITY (GB)", "USAGE")
		for _, u := range list {
			t.AddRow(u.NodeID, u.Hostname, len(u.Disks), u.TotalUsedGB, u.TotalCapacity, fmt.Sprintf("%.2f%%", u.OverallPercent))
		}
	})
}

func errorSuffix(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return "; " + bad("unreachable: "+strings.Join(errs, "; "))
}
