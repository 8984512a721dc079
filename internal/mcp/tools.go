package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerTools(server *mcp.Server, tables TableReader) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "tables_list",
		Description: "List day tables, most recent first",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ tablesListInput) (*mcp.CallToolResult, tablesListOutput, error) {
		if tables == nil {
			return nil, tablesListOutput{}, fmt.Errorf("query service unavailable")
		}
		names, err := tables.ListTables(ctx)
		if err != nil {
			return nil, tablesListOutput{}, err
		}
		if names == nil {
			names = []string{}
		}
		return nil, tablesListOutput{Tables: names}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "table_fetch",
		Description: "Get the price points of one day table ordered by id, optionally only the tail or points after an id",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in tableFetchInput) (*mcp.CallToolResult, tableFetchOutput, error) {
		if tables == nil {
			return nil, tableFetchOutput{}, fmt.Errorf("query service unavailable")
		}
		out, err := fetchTable(ctx, tables, in)
		if err != nil {
			return nil, tableFetchOutput{}, err
		}
		return nil, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "table_summary",
		Description: "Get first/last/min/max, change, moving averages and volatility for one day table",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in tableSummaryInput) (*mcp.CallToolResult, tableSummaryOutput, error) {
		if tables == nil {
			return nil, tableSummaryOutput{}, fmt.Errorf("query service unavailable")
		}
		name, err := requireTableName(in.Table)
		if err != nil {
			return nil, tableSummaryOutput{}, err
		}
		summary, err := tables.TableSummary(ctx, name)
		if err != nil {
			return nil, tableSummaryOutput{}, err
		}
		return nil, tableSummaryOutput{Summary: summary}, nil
	})
}

func fetchTable(ctx context.Context, tables TableReader, in tableFetchInput) (tableFetchOutput, error) {
	name, err := requireTableName(in.Table)
	if err != nil {
		return tableFetchOutput{}, err
	}
	tail, err := normalizeTail(in.Tail)
	if err != nil {
		return tableFetchOutput{}, err
	}
	all, err := tables.FetchTable(ctx, name)
	if err != nil {
		return tableFetchOutput{}, err
	}
	return tableFetchOutput{
		Table:  name,
		Total:  len(all),
		Points: selectPoints(all, in.AfterID, tail),
	}, nil
}
