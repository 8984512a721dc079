package mcp

import (
	"context"
	"encoding/json"
	"time"

	"btc-stream/internal/domain"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"
)

type stubTableService struct {
	tables []string
	points map[string][]domain.DataPoint
	err    error

	lastFetched string
}

func (s *stubTableService) ListTables(ctx context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.tables...), nil
}

func (s *stubTableService) FetchTable(ctx context.Context, name string) ([]domain.DataPoint, error) {
	s.lastFetched = name
	if s.err != nil {
		return nil, s.err
	}
	points, ok := s.points[name]
	if !ok {
		return nil, domain.ErrTableNotFound
	}
	return append([]domain.DataPoint(nil), points...), nil
}

func (s *stubTableService) TableSummary(ctx context.Context, name string) (domain.TableSummary, error) {
	points, err := s.FetchTable(ctx, name)
	if err != nil {
		return domain.TableSummary{}, err
	}
	first, _ := points[0].Value.Float64()
	last, _ := points[len(points)-1].Value.Float64()
	return domain.TableSummary{Table: name, Count: len(points), First: first, Last: last}, nil
}

func testServer() (*sdkmcp.Server, *stubTableService) {
	tables := &stubTableService{
		tables: []string{"btc_2024_01_02", "btc_2024_01_01"},
		points: map[string][]domain.DataPoint{
			"btc_2024_01_02": {
				{SequenceID: 1, Value: decimal.RequireFromString("42000.5")},
				{SequenceID: 2, Value: decimal.RequireFromString("42010")},
				{SequenceID: 3, Value: decimal.RequireFromString("41990.25")},
			},
			"btc_2024_01_01": {
				{SequenceID: 1, Value: decimal.NewFromInt(41000)},
			},
		},
	}

	srv := NewServer(nil, tables, ServerConfig{RequestTimeout: time.Second})
	return srv, tables
}

func connectInMemory(ctx context.Context, srv *sdkmcp.Server) (*sdkmcp.ClientSession, context.CancelFunc, error) {
	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = srv.Run(runCtx, serverTransport) }()

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "mcp-test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return session, cancel, nil
}

func decodeResourceJSON(result *sdkmcp.ReadResourceResult, out any) error {
	if len(result.Contents) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(result.Contents[0].Text), out)
}

func decodeStructured(result *sdkmcp.CallToolResult, out any) error {
	raw, err := json.Marshal(result.StructuredContent)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
