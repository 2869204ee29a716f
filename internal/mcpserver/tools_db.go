package mcpserver

import (
	"context"

	"github.com/fjacquet/archer_ops/internal/metadb"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type queryInput struct {
	SQL      string `json:"sql" jsonschema:"SELECT语句"`
	Database string `json:"database" jsonschema:"数据库名，如xu_resource"`
}

type queryOutput struct {
	Rows  []map[string]any `json:"rows"`
	Count int              `json:"count"`
}

type schemaInput struct {
	Table string `json:"table_name,omitempty" jsonschema:"表名，默认virtual_machine"`
}

type tablesOutput struct {
	Tables []string `json:"tables"`
}

type columnInput struct {
	Table  string `json:"table_name"`
	Column string `json:"column_name"`
}

type typeInput struct {
	DataType string `json:"data_type" jsonschema:"数据类型，如varchar(128)或datetime"`
}

type columnsOutput struct {
	Columns []metadb.ColumnMatch `json:"columns"`
	Count   int                  `json:"count"`
}

func (s *Server) registerDatabaseTools() {
	addTool(s, "db_query_simple", "在平台数据库中执行只读SQL查询", func(ctx context.Context, _ *mcp.CallToolRequest, in queryInput) (*mcp.CallToolResult, queryOutput, error) {
		db, err := s.state.database()
		if err != nil {
			return nil, queryOutput{}, err
		}
		rows, err := db.QuerySimple(ctx, in.SQL, in.Database)
		if err != nil {
			return nil, queryOutput{}, err
		}
		return nil, queryOutput{Rows: rows, Count: len(rows)}, nil
	})

	addTool(s, "get_db_schema", "获取数据库表结构定义(Markdown)", func(_ context.Context, _ *mcp.CallToolRequest, in schemaInput) (*mcp.CallToolResult, any, error) {
		table := in.Table
		if table == "" {
			table = "virtual_machine"
		}
		md, err := metadb.Markdown(table)
		if err != nil {
			return nil, nil, err
		}
		return textResult(md), nil, nil
	})

	addTool(s, "list_db_tables", "列出所有可用的数据库表", func(_ context.Context, _ *mcp.CallToolRequest, _ empty) (*mcp.CallToolResult, tablesOutput, error) {
		return nil, tablesOutput{Tables: metadb.Tables()}, nil
	})

	addTool(s, "get_column_info", "获取指定表中某一列的信息", func(_ context.Context, _ *mcp.CallToolRequest, in columnInput) (*mcp.CallToolResult, metadb.Column, error) {
		col, err := metadb.LookupColumn(in.Table, in.Column)
		return nil, col, err
	})

	addTool(s, "search_columns_by_type", "根据数据类型搜索所有匹配的列", func(_ context.Context, _ *mcp.CallToolRequest, in typeInput) (*mcp.CallToolResult, columnsOutput, error) {
		cols := metadb.SearchByType(in.DataType)
		if cols == nil {
			cols = []metadb.ColumnMatch{}
		}
		return nil, columnsOutput{Columns: cols, Count: len(cols)}, nil
	})
}
