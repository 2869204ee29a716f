// Archer Ops is the operations toolbox of an ArcherOSS cloud platform.
//
// It drives the platform REST API (disks, VMs, images, license), reaches
// the cluster nodes over SSH and IPMI (inventory, power, compute stack,
// block storage, monitoring), queries the controller metadata database,
// and serves the same operations as Model Context Protocol tools.
//
// Usage:
//
//	archer_ops [--config config.yaml] [--env production] [--output json] <command>
//	archer_ops serve --config config.yaml
//
// The serve command exposes Prometheus inventory metrics on /metrics, a
// health check on /health and the MCP server on /mcp.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const programName = "archer_ops"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           programName,
		Short:         "Operations toolbox for ArcherOSS platforms",
		Long:          "Archer Ops manages disks, VMs, nodes and storage of ArcherOSS platforms and serves them as metrics and MCP tools",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.output != "table" && a.output != "json" {
				return fmt.Errorf("invalid --output %q: use table or json", a.output)
			}
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to configuration file (default config.yaml when present)")
	flags.BoolVarP(&a.debug, "debug", "d", false, "Enable debug mode")
	flags.StringVarP(&a.envID, "env", "e", "", "Environment id (default: last used environment)")
	flags.StringVarP(&a.output, "output", "o", "table", "Output format: table or json")

	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.AddCommand(
		newEnvCmd(a),
		newSessionCmd(a),
		newDiskCmd(a),
		newVMCmd(a),
		newImageCmd(a),
		newLicenseCmd(a),
		newNodeCmd(a),
		newStackCmd(a),
		newStorageCmd(a),
		newMonitorCmd(a),
		newDBCmd(a),
		newMCPCmd(a),
		newServeCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(newApp()).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
