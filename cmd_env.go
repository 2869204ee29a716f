package main

import (
	"fmt"
	"strings"

	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

func newEnvCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage the platform environment registry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List environments",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printEnvironments(a, a.store.List())
			},
		},
		&cobra.Command{
			Use:   "search <keyword>",
			Short: "Search environments by id, name, description or tag",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return printEnvironments(a, a.store.Search(args[0]))
			},
		},
		&cobra.Command{
			Use:   "show [id]",
			Short: "Show one environment, the selected one by default",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id := a.environmentID()
				if len(args) == 1 {
					id = args[0]
				}
				env, ok := a.store.Get(id)
				if !ok {
					return fmt.Errorf("environment %q not found", id)
				}
				env = env.Masked()
				return a.printer().render(env, func(t *uitable.Table) {
					t.AddRow("ID:", env.ID)
					t.AddRow("NAME:", env.Name)
					t.AddRow("URL:", env.URL)
					t.AddRow("USERNAME:", env.Username)
					t.AddRow("PASSWORD:", env.Password)
					t.AddRow("DESCRIPTION:", env.Description)
					t.AddRow("TAGS:", strings.Join(env.Tags, ","))
					t.AddRow("STORAGE BACKEND:", env.StorageBackend)
					for _, n := range env.Nodes {
						t.AddRow("NODE:", fmt.Sprintf("%d %s %s %s", n.NodeID, n.Hostname, n.MgmtIP, n.Role))
					}
				})
			},
		},
		newEnvAddCmd(a),
		newEnvUpdateCmd(a),
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete an environment",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.store.Delete(args[0]); err != nil {
					return err
				}
				return a.printer().message("Environment %s deleted", args[0])
			},
		},
		&cobra.Command{
			Use:   "use <id>",
			Short: "Make an environment the default of later commands",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.store.SetLastUsed(args[0]); err != nil {
					return err
				}
				return a.printer().message("Now using environment %s", args[0])
			},
		},
	)
	return cmd
}

type envFlags struct {
	name, url, username, password, description, backend string
	tags                                                []string
}

func (f *envFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "Display name")
	fl.StringVar(&f.url, "url", "", "Platform URL or IP")
	fl.StringVar(&f.username, "username", "", "API user")
	fl.StringVar(&f.password, "password", "", "API password")
	fl.StringVar(&f.description, "description", "", "Free text description")
	fl.StringVar(&f.backend, "storage-backend", "", "Default storage backend")
	fl.StringSliceVar(&f.tags, "tags", nil, "Comma separated tags")
}

func newEnvAddCmd(a *app) *cobra.Command {
	var f envFlags
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := models.Environment{
				ID:             args[0],
				Name:           f.name,
				URL:            f.url,
				Username:       f.username,
				Password:       f.password,
				Description:    f.description,
				Tags:           f.tags,
				StorageBackend: f.backend,
			}
			if env.Name == "" {
				env.Name = env.ID
			}
			if err := a.store.Add(env); err != nil {
				return err
			}
			return a.printer().message("Environment %s added", env.ID)
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newEnvUpdateCmd(a *app) *cobra.Command {
	var f envFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]any{}
			set := func(flag, key string, v any) {
				if cmd.Flags().Changed(flag) {
					fields[key] = v
				}
			}
			set("name", "name", f.name)
			set("url", "url", f.url)
			set("username", "username", f.username)
			set("password", "password", f.password)
			set("description", "description", f.description)
			set("storage-backend", "storage_backend", f.backend)
			set("tags", "tags", f.tags)
			if len(fields) == 0 {
				return fmt.Errorf("nothing to update")
			}
			env, err := a.store.Update(args[0], fields)
			if err != nil {
				return err
			}
			return a.printer().render(env.Masked(), func(t *uitable.Table) {
				t.AddRow("Environment", env.ID, "updated")
			})
		},
	}
	f.register(cmd)
	return cmd
}

func printEnvironments(a *app, envs []models.Environment) error {
	masked := make([]models.Environment, 0, len(envs))
	for _, e := range envs {
		masked = append(masked, e.Masked())
	}
	current := a.environmentID()
	return a.printer().render(masked, func(t *uitable.Table) {
		t.AddRow("", "ID", "NAME", "URL", "DESCRIPTION", "TAGS")
		for _, e := range masked {
			mark := ""
			if e.ID == current {
				mark = good("*")
			}
			t.AddRow(mark, e.ID, e.Name, e.URL, e.Description, strings.Join(e.Tags, ","))
		}
	})
}

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Platform API sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "login",
		Aliases: []string{"check"},
		Short:   "Log in to the selected environment and print the session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := a.environment()
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			zone, err := c.Zone(cmd.Context())
			if err != nil {
				return fmt.Errorf("logged in but failed to resolve zone: %w", err)
			}
			out := map[string]any{
				"environment": env.ID,
				"url":         c.BaseURL(),
				"logged_in":   c.IsLoggedIn(),
				"zone":        zone,
			}
			return a.printer().render(out, func(t *uitable.Table) {
				t.AddRow("ENVIRONMENT:", env.ID)
				t.AddRow("URL:", c.BaseURL())
				t.AddRow("LOGGED IN:", yesNo(c.IsLoggedIn()))
				t.AddRow("ZONE:", zone)
			})
		},
	})
	return cmd
}
