package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/monitor"
	"github.com/fjacquet/archer_ops/internal/utils"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

// monitorTarget returns the monitor, the environment id and the node to
// check: the node with --node IP, else the controller.
func (a *app) monitorTarget(ip string) (*monitor.Monitor, string, models.NodeRef, error) {
	env := a.environment()
	node, err := a.controller(env)
	if err != nil {
		return nil, "", models.NodeRef{}, err
	}
	if ip != "" {
		node = models.NodeRef{Hostname: ip, MgmtIP: ip}
	}
	return monitor.New(a.config(), a.ssh()), env.ID, node, nil
}

func newMonitorCmd(a *app) *cobra.Command {
	var nodeFlag string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Resource, log and component health of the platform",
	}
	cmd.PersistentFlags().StringVar(&nodeFlag, "node", "", "Node IP to check (default: controller)")

	var hours int
	logs := &cobra.Command{
		Use:   "logs",
		Short: "Classify the recent service log lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, node, err := a.monitorTarget(nodeFlag)
			if err != nil {
				return err
			}
			la, err := m.AnalyzeLogs(cmd.Context(), node.MgmtIP, hours)
			if err != nil {
				return err
			}
			return a.printer().render(la, func(t *uitable.Table) {
				t.AddRow("RANGE:", la.TimeRange.Start+" - "+la.TimeRange.End)
				t.AddRow("LINES:", la.Lines)
				t.AddRow("ERRORS:", bad(len(la.Errors)))
				t.AddRow("WARNINGS:", warn(len(la.Warnings)))
				t.AddRow("INFO:", la.InfoCount)
				t.AddRow("ERROR RATE:", fmt.Sprintf("%.2f%%", la.ErrorRate))
				for _, e := range la.Errors {
					t.AddRow("", e)
				}
			})
		},
	}
	logs.Flags().IntVar(&hours, "hours", 1, "Hours of logs to read")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "resources",
			Short: "CPU, memory, disk and load of a node",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, _, node, err := a.monitorTarget(nodeFlag)
				if err != nil {
					return err
				}
				r := m.Resources(cmd.Context(), node.MgmtIP)
				return printResources(a, r)
			},
		},
		logs,
		&cobra.Command{
			Use:       "components [component]",
			Short:     "Check the platform components, all of them by default",
			Args:      cobra.MaximumNArgs(1),
			ValidArgs: monitor.Components,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, _, node, err := a.monitorTarget(nodeFlag)
				if err != nil {
					return err
				}
				if len(args) == 1 {
					h, err := m.Component(cmd.Context(), node.MgmtIP, args[0])
					if err != nil {
						return err
					}
					return printComponents(a, h, map[string]monitor.ComponentHealth{h.Component: h})
				}
				rep := m.CheckAll(cmd.Context(), node.MgmtIP)
				if err := printComponents(a, rep, rep.Components); err != nil {
					return err
				}
				if a.output == "json" {
					return nil
				}
				return a.printer().message("score %.2f: %s", rep.Score, colorStatus(rep.Status))
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Full platform status with alerts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, env, node, err := a.monitorTarget(nodeFlag)
				if err != nil {
					return err
				}
				return printStatus(a, m.PlatformStatus(cmd.Context(), env, node))
			},
		},
		newMonitorWatchCmd(a, &nodeFlag),
	)
	return cmd
}

func newMonitorWatchCmd(a *app, nodeFlag *string) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the platform status repeatedly",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, env, node, err := a.monitorTarget(*nodeFlag)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			for i := 0; count <= 0 || i < count; i++ {
				if i > 0 {
					if err := utils.Pause(ctx, interval); err != nil {
						if errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					}
				}
				if err := printStatus(a, m.PlatformStatus(ctx, env, node)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "Time between two checks")
	cmd.Flags().IntVar(&count, "count", 0, "Number of checks (0 runs until interrupted)")
	return cmd
}

func printResources(a *app, r monitor.Resources) error {
	return a.printer().render(r, func(t *uitable.Table) {
		t.AddRow("NODE:", r.NodeIP)
		t.AddRow("CPU:", fmt.Sprintf("%.1f%%", r.CPUPercent))
		t.AddRow("MEMORY:", fmt.Sprintf("%.1f%%", r.MemoryPercent))
		t.AddRow("DISK:", fmt.Sprintf("%.1f%%", r.DiskPercent))
		t.AddRow("LOAD:", r.LoadAverage)
	})
}

func printComponents(a *app, v any, comps map[string]monitor.ComponentHealth) error {
	return a.printer().render(v, func(t *uitable.Table) {
		t.AddRow("COMPONENT", "ACTIVE", "SCORE", "ERROR")
		for _, name := range monitor.Components {
			h, ok := comps[name]
			if !ok {
				continue
			}
			t.AddRow(name, yesNo(h.Active), h.Score, h.Error)
		}
	})
}

func printStatus(a *app, s monitor.Status) error {
	return a.printer().render(s, func(t *uitable.Table) {
		t.AddRow("ENVIRONMENT:", s.Environment)
		t.AddRow("TIME:", s.Timestamp)
		t.AddRow("CONTROLLER:", s.Controller)
		t.AddRow("STATUS:", colorStatus(s.Overall))
		t.AddRow("SCORE:", s.Score)
		t.AddRow("CPU / MEM / DISK:", fmt.Sprintf("%.1f%% / %.1f%% / %.1f%%",
			s.Resources.CPUPercent, s.Resources.MemoryPercent, s.Resources.DiskPercent))
		if s.LogError != "" {
			t.AddRow("LOGS:", bad(s.LogError))
		}
		for _, al := range s.Alerts {
			t.AddRow("ALERT:", colorStatus(al.Severity)+" "+al.Message)
		}
	})
}
