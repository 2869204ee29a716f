package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fjacquet/archer_ops/internal/archer"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/provision"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

const (
	vmPollInterval = 5 * time.Second
	vmPollAttempts = 60
)

func newVMCmd(a *app) *cobra.Command {
	catalog := provision.NewCatalog()
	cmd := &cobra.Command{
		Use:   "vm",
		Short: "VM templates and virtual machines",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "templates",
			Short: "List the VM templates",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printTemplates(a, catalog.List())
			},
		},
		&cobra.Command{
			Use:   "template-search <keyword>",
			Short: "Search templates by name, description, use case or tag",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return printTemplates(a, catalog.Search(args[0]))
			},
		},
		&cobra.Command{
			Use:   "template-export <name> <file>",
			Short: "Write a template to a YAML file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := catalog.Export(args[0], args[1]); err != nil {
					return err
				}
				return a.printer().message("Template %s exported to %s", args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "template-import <file>",
			Short: "Check the templates of a YAML file and load the valid ones",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				imported, rejected, err := catalog.Import(args[0])
				if err != nil {
					return err
				}
				return a.printer().render(map[string][]string{"imported": imported, "rejected": rejected}, func(t *uitable.Table) {
					t.AddRow("IMPORTED:", strings.Join(imported, ", "))
					t.AddRow("REJECTED:", strings.Join(rejected, ", "))
				})
			},
		},
		newVMRecommendCmd(a, catalog),
		newVMCreateCmd(a, catalog),
		newVMBatchCmd(a, catalog),
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show a VM",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := a.client(cmd.Context())
				if err != nil {
					return err
				}
				vm, err := c.GetVM(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printVMs(a, []models.VirtualMachine{vm})
			},
		},
		newVMListCmd(a),
		newVMDeleteCmd(a),
		newVMCloneCmd(a),
	)
	return cmd
}

func newVMRecommendCmd(a *app, catalog *provision.Catalog) *cobra.Command {
	var perf string
	cmd := &cobra.Command{
		Use:   "recommend <use-case>",
		Short: "Recommend a template for a use case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := catalog.Recommend(args[0], perf)
			return a.printer().render(rec, func(t *uitable.Table) {
				t.AddRow("TEMPLATE:", rec.TemplateName)
				t.AddRow("SHAPE:", fmt.Sprintf("%d vCPU, %d GB RAM, %d GB disk", rec.Template.CPU, rec.Template.Memory, rec.Template.Size))
				t.AddRow("REASONING:", rec.Reasoning)
				t.AddRow("ALTERNATIVES:", strings.Join(rec.Alternatives, ", "))
			})
		},
	}
	cmd.Flags().StringVar(&perf, "performance", "standard", "Performance level: low, standard or high")
	return cmd
}

type vmCreateFlags struct {
	template, storage, image string
	num                      int
	wait                     bool
	spec                     models.VMSpec
}

func newVMCreateCmd(a *app, catalog *provision.Catalog) *cobra.Command {
	var f vmCreateFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a VM from a template or from explicit settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.template == "" && f.spec.Name == "" {
				return fmt.Errorf("either --template or --name is required")
			}
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			creator := provision.NewVMCreator(c, catalog, nil, a.config().GetVMInterval())
			p, err := creator.Resolve(ctx, f.storage, f.image)
			if err != nil {
				return err
			}

			var vm provision.CreatedVM
			if f.template != "" {
				var overrides provision.Overrides
				if cmd.Flags().Changed("name") {
					overrides.Name = &f.spec.Name
				}
				if cmd.Flags().Changed("cpu") {
					overrides.CPU = &f.spec.CPU
				}
				if cmd.Flags().Changed("memory") {
					overrides.Memory = &f.spec.Memory
				}
				if cmd.Flags().Changed("size") {
					overrides.Size = &f.spec.Size
				}
				vm, err = creator.CreateFromTemplate(ctx, f.template, f.num, overrides, p)
			} else {
				vm, err = creator.Create(ctx, f.spec, p)
			}
			if err != nil {
				return err
			}
			if f.wait {
				if _, err := archer.WaitVMReady(ctx, c, vm.Name, vmPollInterval, vmPollAttempts); err != nil {
					return err
				}
			}
			return a.printer().render(vm, func(t *uitable.Table) {
				t.AddRow("ID:", vm.ID)
				t.AddRow("NAME:", vm.Name)
				t.AddRow("SHAPE:", fmt.Sprintf("%d vCPU, %d GB RAM, %d GB disk", vm.Spec.CPU, vm.Spec.Memory, vm.Spec.Size))
				t.AddRow("STORAGE:", p.Storage.StackName)
				t.AddRow("IMAGE:", p.ImageID)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.template, "template", "", "Template name")
	fl.IntVar(&f.num, "num", 1, "Number substituted for {num} in template names")
	fl.StringVar(&f.storage, "storage", "", "Storage pool name (default: first Arstor pool)")
	fl.StringVar(&f.image, "image", "", "Boot image id (default: first image on the storage)")
	fl.BoolVar(&f.wait, "wait", false, "Wait until the VM is running")
	fl.StringVar(&f.spec.Name, "name", "", "VM name")
	fl.StringVar(&f.spec.Hostname, "hostname", "", "Guest hostname (default: the name)")
	fl.IntVar(&f.spec.CPU, "cpu", 2, "vCPUs")
	fl.IntVar(&f.spec.Memory, "memory", 4, "Memory in GB")
	fl.IntVar(&f.spec.Size, "size", 50, "System disk size in GB")
	fl.StringVar(&f.spec.VideoModel, "video-model", "cirrus", "Display adapter")
	fl.BoolVar(&f.spec.HaEnable, "ha", false, "Enable HA")
	return cmd
}

func newVMBatchCmd(a *app, catalog *provision.Catalog) *cobra.Command {
	var (
		storage, image string
		count          int
	)
	cmd := &cobra.Command{
		Use:   "batch <template>",
		Short: "Create several VMs from one template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			creator := provision.NewVMCreator(c, catalog, nil, a.config().GetVMInterval())
			res, err := creator.CreateBatch(cmd.Context(), args[0], count, storage, image)
			if perr := a.printer().render(res, func(t *uitable.Table) {
				t.AddRow("ID", "NAME", "STATUS")
				for _, vm := range res.VMs {
					t.AddRow(vm.ID, vm.Name, colorStatus("success"))
				}
				for _, e := range res.Errors {
					t.AddRow("", e.Name, bad(e.Error))
				}
				t.AddRow("", fmt.Sprintf("%d/%d created in %s", res.Success, res.Total, res.Duration), "")
			}); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "Number of VMs")
	cmd.Flags().StringVar(&storage, "storage", "", "Storage pool name (default: first Arstor pool)")
	cmd.Flags().StringVar(&image, "image", "", "Boot image id (default: first image on the storage)")
	return cmd
}

func newVMListCmd(a *app) *cobra.Command {
	q := models.VMQuery{PageNumber: 1, PageSize: 100}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List VMs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			vms, err := c.ListVMs(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printVMs(a, vms)
		},
	}
	cmd.Flags().StringVar(&q.NameLike, "name", "", "Filter by name")
	cmd.Flags().BoolVar(&q.IsInRecycleBin, "recycle-bin", false, "List the recycle bin")
	cmd.Flags().IntVar(&q.PageNumber, "page", 1, "Page number")
	cmd.Flags().IntVar(&q.PageSize, "page-size", 100, "Page size")
	return cmd
}

func newVMDeleteCmd(a *app) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete VMs by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			var names []string
			if wait {
				for _, id := range args {
					vm, err := c.GetVM(ctx, id)
					if err != nil {
						return err
					}
					names = append(names, vm.Name)
				}
			}
			if err := c.DeleteVMs(ctx, args); err != nil {
				return err
			}
			for _, name := range names {
				if err := archer.WaitVMGone(ctx, c, name, vmPollInterval, vmPollAttempts); err != nil {
					return err
				}
			}
			return a.printer().message("Deleted %d VM(s)", len(args))
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the VMs are gone")
	return cmd
}

func newVMCloneCmd(a *app) *cobra.Command {
	var (
		cpu, memory int
		wait        bool
	)
	cmd := &cobra.Command{
		Use:   "clone <source-id> <name>",
		Short: "Clone a VM as a linked copy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			id, err := c.CloneVM(ctx, models.NewCloneVMRequest(args[0], args[1], cpu, memory))
			if err != nil {
				return err
			}
			if wait {
				if id, err = archer.WaitVMReady(ctx, c, args[1], vmPollInterval, vmPollAttempts); err != nil {
					return err
				}
			}
			return a.printer().render(map[string]string{"id": id, "name": args[1]}, func(t *uitable.Table) {
				t.AddRow("ID:", id)
				t.AddRow("NAME:", args[1])
			})
		},
	}
	cmd.Flags().IntVar(&cpu, "cpu", 1, "vCPUs of the clone")
	cmd.Flags().IntVar(&memory, "memory", 2, "Memory of the clone in GB")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the clone is running")
	return cmd
}

func printTemplates(a *app, list []provision.Summary) error {
	return a.printer().render(list, func(t *uitable.Table) {
		t.AddRow("NAME", "CPU", "MEMORY (GB)", "DISK (GB)", "HA", "USE CASE", "DESCRIPTION")
		for _, s := range list {
			t.AddRow(s.Name, s.CPU, s.Memory, s.Size, yesNo(s.HA), s.UseCase, s.Description)
		}
	})
}

func printVMs(a *app, vms []models.VirtualMachine) error {
	return a.printer().render(vms, func(t *uitable.Table) {
		t.AddRow("ID", "NAME", "STATUS", "TASK", "CPU", "MEMORY (GB)", "HOST")
		for _, vm := range vms {
			t.AddRow(vm.ID, vm.Name, colorStatus(vm.Status), vm.TaskStatus, vm.CPU, vm.Memory, vm.HostID)
		}
	})
}
