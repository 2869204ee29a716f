package main

import (
	"github.com/fjacquet/archer_ops/internal/archer"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/provision"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

func newImageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Boot images",
	}
	cmd.AddCommand(newImageListCmd(a), newImageUploadCmd(a))
	return cmd
}

func newImageListCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the images of the zone that sit on a known storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			zone, err := c.Zone(ctx)
			if err != nil {
				return err
			}
			images, err := c.Images(ctx, zone)
			if err != nil {
				return err
			}
			storages, err := c.StoragesByDiskType(ctx)
			if err != nil {
				return err
			}
			names := map[string]string{}
			for _, s := range storages {
				names[s.StorageManageID] = s.StackName
			}
			if !all {
				images = archer.ImagesByStorage(images, storages)
			}
			return a.printer().render(images, func(t *uitable.Table) {
				t.AddRow("ID", "NAME", "STORAGE")
				for _, img := range images {
					t.AddRow(img.ImageID, img.ImageName, names[img.StorageManageID])
				}
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include images on unknown storages")
	return cmd
}

func newImageUploadCmd(a *app) *cobra.Command {
	var (
		storage string
		req     models.ImageUpload
	)
	cmd := &cobra.Command{
		Use:   "upload <file-url> <name>",
		Short: "Register an image the platform downloads from a URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			s, err := provision.ResolveStorage(ctx, c, storage)
			if err != nil {
				return err
			}
			req.File = args[0]
			req.Name = args[1]
			req.ZoneID = s.ZoneID
			req.StorageBackend = s.StorageBackend
			req.StorageManageID = s.StorageManageID
			data, err := c.UploadImage(ctx, req)
			if err != nil {
				return err
			}
			return a.printer().render(data, func(t *uitable.Table) {
				t.AddRow("UPLOADED:", req.Name)
				t.AddRow("STORAGE:", s.StackName)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&storage, "storage", "", "Storage pool name (default: first Arstor pool)")
	fl.StringVar(&req.Type, "type", "iso", "Image type")
	fl.StringVar(&req.Format, "format", "iso", "Image format")
	fl.StringVar(&req.OS, "os", "", "Guest operating system")
	fl.StringVar(&req.HWFirmwareType, "firmware", "UEFI", "Firmware: UEFI or BIOS")
	fl.BoolVar(&req.CreateSource, "create-source", false, "Keep the source file on the platform")
	return cmd
}

func newLicenseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Cluster license",
	}
	var id string
	update := &cobra.Command{
		Use:   "update <license-code>",
		Short: "Install a license code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.UpdateLicense(cmd.Context(), args[0], id, a.config().Platform.LicenseID); err != nil {
				return err
			}
			return a.printer().message("License updated")
		},
	}
	update.Flags().StringVar(&id, "id", "", "License record id (default: platform.licenseId)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the license record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			lic, err := c.License(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer().render(lic, func(t *uitable.Table) {
				t.AddRow("ID:", lic.ID)
				t.AddRow("CLUSTER:", lic.ClusterID)
				t.AddRow("ARCHITECTURE:", lic.Architecture)
			})
		},
	}, update)
	return cmd
}
