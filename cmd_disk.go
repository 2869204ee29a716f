package main

import (
	"fmt"

	"github.com/fjacquet/archer_ops/internal/blockstore"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/provision"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

func newDiskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disk",
		Short: "Create, list and delete data disks",
	}
	cmd.AddCommand(
		newDiskCreateCmd(a),
		newDiskBatchCmd(a),
		newDiskBatchesCmd(a),
		newDiskListCmd(a),
		&cobra.Command{
			Use:   "find <name>",
			Short: "Find a disk by exact name",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := a.client(cmd.Context())
				if err != nil {
					return err
				}
				d, err := c.FindDiskByName(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printDisks(a, []models.Disk{d})
			},
		},
		&cobra.Command{
			Use:   "delete <id>...",
			Short: "Remove disks by id",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := a.client(cmd.Context())
				if err != nil {
					return err
				}
				if err := c.RemoveDisks(cmd.Context(), args); err != nil {
					return err
				}
				return a.printer().message("Removed %d disk(s)", len(args))
			},
		},
		newVMDisksCmd(a),
	)
	return cmd
}

func newDiskCreateCmd(a *app) *cobra.Command {
	var (
		useCase, storage string
		opts             provision.DiskOptions
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a disk from a use case preset, optionally overridden",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			preset := provision.Preset(useCase, opts.Size)
			fl := cmd.Flags()
			if fl.Changed("name") {
				preset.Name = opts.Name
			}
			if fl.Changed("page-size") {
				preset.PageSize = opts.PageSize
			}
			if fl.Changed("compression") {
				preset.Compression = opts.Compression
			}
			if fl.Changed("iops") {
				preset.IOPS = opts.IOPS
			}
			if fl.Changed("bandwidth") {
				preset.Bandwidth = opts.Bandwidth
			}
			if fl.Changed("count") {
				preset.Count = opts.Count
			}
			if fl.Changed("read-cache") {
				preset.ReadCache = opts.ReadCache
			}

			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			creator := provision.NewDiskCreator(c, nil, a.config().GetDiskInterval())
			disks, err := creator.CreateOne(cmd.Context(), preset, storage)
			if err != nil {
				return err
			}
			return printDisks(a, disks)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&useCase, "use-case", provision.UseCaseStandard, "Preset: test, standard or performance")
	fl.StringVar(&storage, "storage", "", "Storage pool name (default: first Arstor pool)")
	fl.IntVar(&opts.Size, "size", 10, "Size in GB")
	fl.StringVar(&opts.Name, "name", "", "Disk name (default: generated)")
	fl.StringVar(&opts.PageSize, "page-size", "", "Page size: 4K, 8K, 16K or 32K")
	fl.StringVar(&opts.Compression, "compression", "", "Compression: Disabled, LZ4, Gzip_opt or Gzip_high")
	fl.IntVar(&opts.IOPS, "iops", 0, fmt.Sprintf("IOPS limit (%d-%d)", provision.MinIOPS, provision.MaxIOPS))
	fl.IntVar(&opts.Bandwidth, "bandwidth", 0, fmt.Sprintf("Bandwidth limit in MB/s (%d-%d)", provision.MinBandwidth, provision.MaxBandwidth))
	fl.IntVar(&opts.Count, "count", 1, "Number of disks created by the request")
	fl.BoolVar(&opts.ReadCache, "read-cache", false, "Enable the read cache")
	return cmd
}

func batchFlags(cmd *cobra.Command, spec *provision.BatchSpec) {
	fl := cmd.Flags()
	fl.StringVar(&spec.Prefix, "prefix", "batch", "Disk name prefix")
	fl.IntVar(&spec.Start, "start", 1, "First disk number")
	fl.IntVar(&spec.Size, "size", 10, "Size of each disk in GB")
	fl.StringVar(&spec.UseCase, "use-case", provision.UseCaseStandard, "Preset: test, standard or performance")
	fl.StringVar(&spec.Storage, "storage", "", "Storage pool name (default: first Arstor pool)")
}

func newDiskBatchCmd(a *app) *cobra.Command {
	var spec provision.BatchSpec
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Create a numbered run of identical disks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			res, err := provision.NewDiskCreator(c, nil, a.config().GetDiskInterval()).CreateBatch(cmd.Context(), spec)
			if perr := printBatch(a, res); perr != nil {
				return perr
			}
			return err
		},
	}
	batchFlags(cmd, &spec)
	cmd.Flags().IntVar(&spec.Count, "count", 1, "Number of disks")
	return cmd
}

func newDiskBatchesCmd(a *app) *cobra.Command {
	var (
		spec              provision.BatchSpec
		batches, perBatch int
	)
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Run several disk batches with continuous numbering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			res, err := provision.NewDiskCreator(c, nil, a.config().GetDiskInterval()).CreateBatches(cmd.Context(), spec, batches, perBatch)
			if perr := a.printer().render(res, func(t *uitable.Table) {
				t.AddRow("BATCH", "TOTAL", "SUCCESS", "FAILED", "CAPACITY (GB)", "DURATION")
				for i, b := range res.Batches {
					t.AddRow(i+1, b.Total, b.Success, b.Failed, b.TotalCapacityGB, b.Duration)
				}
				t.AddRow("all", res.Total, res.Success, res.Failed, res.TotalCapacityGB, "")
			}); perr != nil {
				return perr
			}
			return err
		},
	}
	batchFlags(cmd, &spec)
	cmd.Flags().IntVar(&batches, "batches", 1, "Number of batches")
	cmd.Flags().IntVar(&perBatch, "per-batch", 10, "Disks per batch")
	return cmd
}

func newDiskListCmd(a *app) *cobra.Command {
	var q models.DiskQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List disks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			disks, err := c.ListDisks(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printDisks(a, disks)
		},
	}
	cmd.Flags().StringVar(&q.Name, "name", "", "Filter by name")
	cmd.Flags().StringVar(&q.VMID, "vm", "", "Filter by VM id")
	cmd.Flags().IntVar(&q.PageNumber, "page", 1, "Page number")
	cmd.Flags().IntVar(&q.PageSize, "page-size", 100, "Page size")
	return cmd
}

func newVMDisksCmd(a *app) *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "vm-disks <vm-id>",
		Short: "List the disks of a VM with their storage replication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			if host == "" {
				n, err := a.controller(a.environment())
				if err != nil {
					return err
				}
				host = n.MgmtIP
			}
			report, err := blockstore.VMDiskReport(cmd.Context(), c, a.ssh(), host, args[0], a.config().SSH.Workers)
			if err != nil {
				return err
			}
			return a.printer().render(report, func(t *uitable.Table) {
				t.AddRow("ID", "NAME", "SIZE (GB)", "REF", "REPLICATION")
				for _, d := range report {
					rep := "-"
					if d.Replication != nil {
						if d.Replication.Success {
							rep = good(d.Replication.Mirrors)
						} else {
							rep = bad(d.Replication.Error)
						}
					}
					t.AddRow(d.ID, d.Name, d.Size, d.Ref, rep)
				}
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Storage node used for replication queries (default: controller)")
	return cmd
}

func printDisks(a *app, disks []models.Disk) error {
	return a.printer().render(disks, func(t *uitable.Table) {
		t.AddRow("ID", "NAME", "SIZE (GB)", "STATUS", "VM", "STORAGE")
		for _, d := range disks {
			t.AddRow(d.ID, d.Name, d.Size, colorStatus(d.Status), d.VMID, d.DiskStoreName)
		}
	})
}

func printBatch(a *app, res provision.BatchResult) error {
	return a.printer().render(res, func(t *uitable.Table) {
		t.AddRow("TOTAL:", res.Total)
		t.AddRow("SUCCESS:", good(res.Success))
		t.AddRow("FAILED:", bad(res.Failed))
		t.AddRow("SUCCESS RATE:", fmt.Sprintf("%.2f%%", res.SuccessRate))
		t.AddRow("CAPACITY (GB):", res.TotalCapacityGB)
		t.AddRow("DURATION:", res.Duration)
		for _, e := range res.Errors {
			t.AddRow("ERROR:", e.Name+": "+e.Error)
		}
	})
}
