package mcp

import (
	"context"

	"btc-stream/internal/domain"
)

// TableReader exposes read operations over the day tables.
type TableReader interface {
	ListTables(ctx context.Context) ([]string, error)
	FetchTable(ctx context.Context, name string) ([]domain.DataPoint, error)
	TableSummary(ctx context.Context, name string) (domain.TableSummary, error)
}
