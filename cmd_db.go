package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fjacquet/archer_ops/internal/metadb"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

type dbFlags struct {
	host     string
	database string
}

// open connects to --host, the controller of the environment by default.
func (f *dbFlags) open(ctx context.Context, a *app) (*metadb.Client, error) {
	host := f.host
	if host == "" {
		n, err := a.controller(a.environment())
		if err != nil {
			return nil, err
		}
		host = n.MgmtIP
	}
	return metadb.Open(ctx, host, a.config(), metadb.WithTracerProvider(a.tracer))
}

func (f *dbFlags) db(a *app) string {
	if f.database != "" {
		return f.database
	}
	return a.config().Database.DefaultDatabase
}

// parsePairs turns key=value arguments into a column map.
func parsePairs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected column=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

// columnPairs parses column=value arguments and checks the column names
// before anything is sent to the database.
func columnPairs(pairs []string) (map[string]any, error) {
	m, err := parsePairs(pairs)
	if err != nil {
		return nil, err
	}
	if err := metadb.CheckColumns(m); err != nil {
		return nil, err
	}
	return m, nil
}

func newDBCmd(a *app) *cobra.Command {
	var f dbFlags
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Platform metadata database",
	}
	cmd.PersistentFlags().StringVar(&f.host, "host", "", "Database host (default: controller)")
	cmd.PersistentFlags().StringVar(&f.database, "database", "", "Database name (default: database.defaultDatabase)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "query <sql>",
			Short: "Run a read-only statement",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := f.open(cmd.Context(), a)
				if err != nil {
					return err
				}
				defer db.Close()
				rows, err := db.QuerySimple(cmd.Context(), args[0], f.db(a))
				if err != nil {
					return err
				}
				return printRows(a, rows)
			},
		},
		newDBSelectCmd(a, &f),
		newDBWriteCmd(a, &f),
		&cobra.Command{
			Use:   "tables",
			Short: "List the documented tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				tables := metadb.Tables()
				return a.printer().render(tables, func(t *uitable.Table) {
					t.AddRow("TABLE")
					for _, name := range tables {
						t.AddRow(name)
					}
				})
			},
		},
		&cobra.Command{
			Use:   "schema [table]",
			Short: "Print the layout of a table as markdown",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				table := "virtual_machine"
				if len(args) == 1 {
					table = args[0]
				}
				if a.output == "json" {
					t, ok := metadb.Schema(table)
					if !ok {
						return fmt.Errorf("table %q is not documented", table)
					}
					return a.printer().writeJSON(t)
				}
				md, err := metadb.Markdown(table)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(a.stdout, md)
				return err
			},
		},
		&cobra.Command{
			Use:   "column <table> <column>",
			Short: "Show one column of a table",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := metadb.LookupColumn(args[0], args[1])
				if err != nil {
					return err
				}
				return printColumns(a, c, []metadb.ColumnMatch{{
					Table: args[0], Column: c.Name, Type: c.Type, Nullable: c.Nullable, Key: c.Key, Default: c.Default,
				}})
			},
		},
		&cobra.Command{
			Use:   "search-type <type>",
			Short: "Find columns by data type",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cols := metadb.SearchByType(args[0])
				return printColumns(a, cols, cols)
			},
		},
	)
	return cmd
}

func newDBSelectCmd(a *app, f *dbFlags) *cobra.Command {
	var fields, where []string
	cmd := &cobra.Command{
		Use:   "select <table>",
		Short: "Read rows of a table with equality filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := columnPairs(where)
			if err != nil {
				return err
			}
			for _, field := range fields {
				if err := metadb.CheckColumns(map[string]any{field: nil}); err != nil {
					return err
				}
			}
			db, err := f.open(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer db.Close()
			rows, err := db.Select(cmd.Context(), f.db(a), args[0], fields, cond)
			if err != nil {
				return err
			}
			return printRows(a, rows)
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "Columns to read (default: all)")
	cmd.Flags().StringArrayVar(&where, "where", nil, "column=value filter, repeatable")
	return cmd
}

// newDBWriteCmd groups the statements that need database.allowWrites.
func newDBWriteCmd(a *app, f *dbFlags) *cobra.Command {
	var set, where []string
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Insert, update or delete rows (needs database.allowWrites)",
	}
	cmd.PersistentFlags().StringArrayVar(&where, "where", nil, "column=value filter, repeatable")

	run := func(op string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			values, err := columnPairs(set)
			if err != nil {
				return err
			}
			cond, err := columnPairs(where)
			if err != nil {
				return err
			}
			if op != "insert" && len(cond) == 0 {
				return metadb.ErrMissingWhere
			}
			db, err := f.open(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer db.Close()
			var n int64
			switch op {
			case "insert":
				n, err = db.Insert(cmd.Context(), f.db(a), args[0], values)
			case "update":
				n, err = db.Update(cmd.Context(), f.db(a), args[0], values, cond)
			case "delete":
				n, err = db.Delete(cmd.Context(), f.db(a), args[0], cond)
			}
			if err != nil {
				return err
			}
			return a.printer().message("%s on %s: %d row(s)", op, args[0], n)
		}
	}

	insert := &cobra.Command{Use: "insert <table>", Short: "Insert a row", Args: cobra.ExactArgs(1), RunE: run("insert")}
	update := &cobra.Command{Use: "update <table>", Short: "Update rows matching --where", Args: cobra.ExactArgs(1), RunE: run("update")}
	del := &cobra.Command{Use: "delete <table>", Short: "Delete rows matching --where", Args: cobra.ExactArgs(1), RunE: run("delete")}
	for _, c := range []*cobra.Command{insert, update} {
		c.Flags().StringArrayVar(&set, "set", nil, "column=value, repeatable")
	}
	cmd.AddCommand(insert, update, del)
	return cmd
}

func printRows(a *app, rows []map[string]any) error {
	var cols []string
	if len(rows) > 0 {
		for k := range rows[0] {
			cols = append(cols, k)
		}
		sort.Strings(cols)
	}
	return a.printer().render(rows, func(t *uitable.Table) {
		header := make([]any, len(cols))
		for i, c := range cols {
			header[i] = strings.ToUpper(c)
		}
		t.AddRow(header...)
		for _, r := range rows {
			cells := make([]any, len(cols))
			for i, c := range cols {
				cells[i] = r[c]
			}
			t.AddRow(cells...)
		}
	})
}

func printColumns(a *app, v any, cols []metadb.ColumnMatch) error {
	return a.printer().render(v, func(t *uitable.Table) {
		t.AddRow("TABLE", "COLUMN", "TYPE", "NULL", "KEY", "DEFAULT")
		for _, c := range cols {
			def := "NULL"
			if c.Default != nil {
				def = *c.Default
			}
			t.AddRow(c.Table, c.Column, c.Type, c.Nullable, c.Key, def)
		}
	})
}
