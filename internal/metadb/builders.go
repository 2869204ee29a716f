package metadb

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
)

// CheckColumns reports the first key of values that is not a plain column
// name. Column names start with a letter or underscore.
func CheckColumns(values map[string]any) error {
	_, err := sortedColumns(values)
	return err
}

func sortedColumns(values map[string]any) ([]string, error) {
	cols := make([]string, 0, len(values))
	for k := range values {
		if err := checkIdent("column", k); err != nil {
			return nil, err
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

// equalities turns column=value pairs into an AND of equalities on quoted
// columns.
func equalities(where map[string]any) (sq.Eq, error) {
	cols, err := sortedColumns(where)
	if err != nil {
		return nil, err
	}
	eq := make(sq.Eq, len(cols))
	for _, col := range cols {
		eq[quote(col)] = where[col]
	}
	return eq, nil
}

// Insert adds one row to table.
func (c *Client) Insert(ctx context.Context, database, table string, values map[string]any) (int64, error) {
	if err := checkIdent("table", table); err != nil {
		return 0, err
	}
	cols, err := sortedColumns(values)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("insert into %s: no values", table)
	}
	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = quote(col)
		args[i] = values[col]
	}
	query, params, err := sq.Insert(quote(table)).Columns(quoted...).Values(args...).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build insert: %w", err)
	}
	return c.exec(ctx, database, query, params...)
}

// Update sets columns of the rows of table whose columns equal where. An
// empty where is refused.
func (c *Client) Update(ctx context.Context, database, table string, set, where map[string]any) (int64, error) {
	if err := checkIdent("table", table); err != nil {
		return 0, err
	}
	if len(where) == 0 {
		return 0, ErrMissingWhere
	}
	cond, err := equalities(where)
	if err != nil {
		return 0, err
	}
	cols, err := sortedColumns(set)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("update %s: no values", table)
	}
	b := sq.Update(quote(table))
	for _, col := range cols {
		b = b.Set(quote(col), set[col])
	}
	query, params, err := b.Where(cond).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build update: %w", err)
	}
	return c.exec(ctx, database, query, params...)
}

// Delete removes the rows of table whose columns equal where. An empty
// where is refused.
func (c *Client) Delete(ctx context.Context, database, table string, where map[string]any) (int64, error) {
	if err := checkIdent("table", table); err != nil {
		return 0, err
	}
	if len(where) == 0 {
		return 0, ErrMissingWhere
	}
	cond, err := equalities(where)
	if err != nil {
		return 0, err
	}
	query, params, err := sq.Delete(quote(table)).Where(cond).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete: %w", err)
	}
	return c.exec(ctx, database, query, params...)
}

// Select reads fields of table, all columns when fields is empty. An empty
// where selects every row.
func (c *Client) Select(ctx context.Context, database, table string, fields []string, where map[string]any) ([]map[string]any, error) {
	if err := checkIdent("table", table); err != nil {
		return nil, err
	}
	columns := []string{"*"}
	if len(fields) > 0 {
		columns = make([]string, len(fields))
		for i, f := range fields {
			if err := checkIdent("column", f); err != nil {
				return nil, err
			}
			columns[i] = quote(f)
		}
	}
	b := sq.Select(columns...).From(quote(table))
	if len(where) > 0 {
		cond, err := equalities(where)
		if err != nil {
			return nil, err
		}
		b = b.Where(cond)
	}
	query, params, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}
	return c.query(ctx, database, query, params...)
}
