package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"btc-stream/internal/domain"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"
)

func TestToolsListAndInvoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	srv, tables := testServer()
	session, shutdown, err := connectInMemory(ctx, srv)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer shutdown()
	defer session.Close()

	tools, err := session.ListTools(ctx, &sdkmcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools failed: %v", err)
	}
	if len(tools.Tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools.Tools))
	}

	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: "tables_list", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("call tool failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	var listed tablesListOutput
	if err := decodeStructured(res, &listed); err != nil {
		t.Fatalf("decode tables failed: %v", err)
	}
	if len(listed.Tables) != 2 || listed.Tables[0] != "btc_2024_01_02" {
		t.Fatalf("unexpected tables: %+v", listed.Tables)
	}

	res, err = session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "table_fetch",
		Arguments: map[string]any{"table": "btc_2024_01_02", "tail": 2},
	})
	if err != nil {
		t.Fatalf("fetch tool failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected fetch tool error: %+v", res.Content)
	}
	if tables.lastFetched != "btc_2024_01_02" {
		t.Fatalf("unexpected table name, got %q", tables.lastFetched)
	}
	var fetched tableFetchOutput
	if err := decodeStructured(res, &fetched); err != nil {
		t.Fatalf("decode fetch failed: %v", err)
	}
	if fetched.Total != 3 || len(fetched.Points) != 2 || fetched.Points[0].ID != 2 || fetched.Points[1].Value != 41990.25 {
		t.Fatalf("unexpected fetch output: %+v", fetched)
	}

	res, err = session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "table_summary",
		Arguments: map[string]any{"table": "btc_2024_01_02"},
	})
	if err != nil {
		t.Fatalf("summary tool failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected summary tool error: %+v", res.Content)
	}
	var summary tableSummaryOutput
	if err := decodeStructured(res, &summary); err != nil {
		t.Fatalf("decode summary failed: %v", err)
	}
	if summary.Summary.Count != 3 || summary.Summary.First != 42000.5 {
		t.Fatalf("unexpected summary: %+v", summary.Summary)
	}
}

func TestToolsValidationFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	srv, _ := testServer()
	session, shutdown, err := connectInMemory(ctx, srv)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer shutdown()
	defer session.Close()

	for _, args := range []map[string]any{
		{"table": ""},
		{"table": "btc_2024_01_02", "tail": -1},
		{"table": "btc_1999_01_01"},
	} {
		res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: "table_fetch", Arguments: args})
		if err != nil {
			t.Fatalf("unexpected protocol error for %v: %v", args, err)
		}
		if !res.IsError {
			t.Fatalf("expected tool-level error for %v", args)
		}
	}
}

func TestFetchTablePassesNameVerbatim(t *testing.T) {
	tables := &stubTableService{points: map[string][]domain.DataPoint{"btc_2024_01_02": nil}}

	_, err := fetchTable(context.Background(), tables, tableFetchInput{Table: " BTC_2024_01_02 "})
	if !errors.Is(err, domain.ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
	if tables.lastFetched != " BTC_2024_01_02 " {
		t.Fatalf("table name was rewritten: %q", tables.lastFetched)
	}

	if _, err := fetchTable(context.Background(), tables, tableFetchInput{}); err == nil {
		t.Fatal("expected missing table error")
	}
}

func TestSelectPoints(t *testing.T) {
	all := []domain.DataPoint{
		{SequenceID: 1, Value: decimal.NewFromInt(10)},
		{SequenceID: 2, Value: decimal.NewFromInt(20)},
		{SequenceID: 3, Value: decimal.NewFromInt(30)},
		{SequenceID: 4, Value: decimal.NewFromInt(40)},
	}

	if got := selectPoints(all, 0, 0); len(got) != 4 {
		t.Fatalf("expected all points, got %+v", got)
	}
	got := selectPoints(all, 1, 2)
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 4 {
		t.Fatalf("unexpected tail after id: %+v", got)
	}
	if got := selectPoints(all, 4, 0); len(got) != 0 {
		t.Fatalf("expected nothing after last id, got %+v", got)
	}
}

func TestNormalizeTail(t *testing.T) {
	if n, err := normalizeTail(maxTailLimit + 1); err != nil || n != maxTailLimit {
		t.Fatalf("expected clamp to %d, got %d %v", maxTailLimit, n, err)
	}
	if _, err := normalizeTail(-5); err == nil {
		t.Fatal("expected error for negative tail")
	}
}
