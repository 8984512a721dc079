package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"btc-stream/internal/broadcast"
	"btc-stream/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestListTablesSuccess(t *testing.T) {
	queries := &stubQueries{tables: []string{"btc_2024_01_02", "btc_2024_01_01"}}
	w := serve(newTestHandler(queries, nil), http.MethodGet, "/api/tables")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Tables []string `json:"tables"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Tables) != 2 || body.Tables[0] != "btc_2024_01_02" {
		t.Fatalf("unexpected tables: %v", body.Tables)
	}
}

func TestListTablesErrors(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("list: %w", domain.ErrStoreUnavailable): http.StatusServiceUnavailable,
		fmt.Errorf("boom"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		w := serve(newTestHandler(&stubQueries{err: err}, nil), http.MethodGet, "/api/tables")
		if w.Code != want {
			t.Fatalf("%v: expected %d, got %d", err, want, w.Code)
		}
		if !strings.Contains(w.Body.String(), `"error"`) {
			t.Fatalf("expected error body, got %s", w.Body.String())
		}
	}
}

func TestGetTableDataSuccess(t *testing.T) {
	queries := &stubQueries{points: []domain.DataPoint{
		{SequenceID: 1, Value: decimal.RequireFromString("100.0")},
		{SequenceID: 2, Value: decimal.RequireFromString("101.5")},
	}}
	w := serve(newTestHandler(queries, nil), http.MethodGet, "/api/data/btc_2024_01_01")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != `{"data":[{"id":1,"value":100},{"id":2,"value":101.5}]}` {
		t.Fatalf("unexpected body: %s", got)
	}
	if queries.fetched[0] != "btc_2024_01_01" {
		t.Fatalf("unexpected table: %v", queries.fetched)
	}
}

func TestGetTableDataMalformedName(t *testing.T) {
	queries := &stubQueries{}
	h := newTestHandlerWithQueries(queries)
	w := serve(h, http.MethodGet, "/api/data/btc_2024;drop")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if queries.storeCalls != 0 {
		t.Fatalf("expected no store call, got %d", queries.storeCalls)
	}
}

func TestGetTableDataRejectsSurroundingWhitespace(t *testing.T) {
	for _, path := range []string{"/api/data/%20btc_2024_01_01", "/api/data/btc_2024_01_01%20", "/api/chart/%20btc_2024_01_01"} {
		queries := &stubQueries{}
		w := serve(newTestHandlerWithQueries(queries), http.MethodGet, path)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, w.Code)
		}
		if len(queries.fetched) != 1 || strings.TrimSpace(queries.fetched[0]) == queries.fetched[0] {
			t.Fatalf("%s: name reached the query layer trimmed: %q", path, queries.fetched)
		}
		if queries.storeCalls != 0 {
			t.Fatalf("%s: expected no store call, got %d", path, queries.storeCalls)
		}
	}
}

func TestGetTableDataStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrTableNotFound, http.StatusNotFound},
		{domain.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("scan: boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := serve(newTestHandler(&stubQueries{err: tc.err}, nil), http.MethodGet, "/api/data/btc_2024_01_01")
		if w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestGetTableSummary(t *testing.T) {
	vol := 1.25
	queries := &stubQueries{summary: domain.TableSummary{Table: "btc_2024_01_01", Count: 3, Last: 42, Volatility: &vol}}
	w := serve(newTestHandler(queries, nil), http.MethodGet, "/api/summary/btc_2024_01_01")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got domain.TableSummary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if got.Count != 3 || got.Volatility == nil || *got.Volatility != 1.25 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestGetTableChart(t *testing.T) {
	points := make([]domain.DataPoint, 64)
	for i := range points {
		points[i] = domain.DataPoint{SequenceID: int64(i + 1), Value: decimal.NewFromInt(int64(40000 + i%7))}
	}
	w := serve(newTestHandler(&stubQueries{points: points}, nil), http.MethodGet, "/api/chart/btc_2024_01_01")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %s", ct)
	}
}

func TestGetTableChartTooFewPoints(t *testing.T) {
	points := []domain.DataPoint{{SequenceID: 1, Value: decimal.NewFromInt(1)}}
	w := serve(newTestHandler(&stubQueries{points: points}, nil), http.MethodGet, "/api/chart/btc_2024_01_01")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	w := serve(newTestHandler(&stubQueries{}, &stubPinger{}), http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = serve(newTestHandler(&stubQueries{}, &stubPinger{err: domain.ErrStoreUnavailable}), http.MethodGet, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestStaticPages(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>live</h1>"), 0o644); err != nil {
		t.Fatalf("write page: %v", err)
	}
	h := New(noop.NewTracerProvider().Tracer("test"), &stubQueries{}, broadcast.NewBroadcaster(), nil, Config{WebDir: dir})

	w := serve(h, http.MethodGet, "/")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "live") {
		t.Fatalf("expected index page, got %d %s", w.Code, w.Body.String())
	}

	w = serve(h, http.MethodGet, "/plotly")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing page, got %d", w.Code)
	}
}

func TestStreamDeliversBatches(t *testing.T) {
	bc := broadcast.NewBroadcaster()
	h := New(noop.NewTracerProvider().Tracer("test"), &stubQueries{}, bc, nil, Config{SendBuffer: 4})
	router := gin.New()
	h.RegisterRoutes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return bc.Count() == 1 })
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ignored")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	batch := domain.Batch{Table: "btc_2024_01_01", Points: []domain.DataPoint{{SequenceID: 9, Value: decimal.NewFromInt(5)}}}
	if err := bc.Broadcast(context.Background(), batch); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(msg) != `{"table":"btc_2024_01_01","points":[{"id":9,"value":5}]}` {
		t.Fatalf("unexpected frame: %s", msg)
	}

	conn.Close()
	waitFor(t, func() bool { return bc.Count() == 0 })
}

func newTestHandler(queries *stubQueries, pinger StorePinger) *Handler {
	return New(noop.NewTracerProvider().Tracer("test"), queries, broadcast.NewBroadcaster(), pinger, Config{})
}

// newTestHandlerWithQueries wires a query stub that validates names the same
// way the query service does.
func newTestHandlerWithQueries(queries *stubQueries) *Handler {
	queries.validate = true
	return newTestHandler(queries, nil)
}

func serve(h *Handler, method, path string) *httptest.ResponseRecorder {
	router := gin.New()
	h.RegisterRoutes(router)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

type stubQueries struct {
	tables     []string
	points     []domain.DataPoint
	summary    domain.TableSummary
	err        error
	validate   bool
	fetched    []string
	storeCalls int
}

func (s *stubQueries) ListTables(ctx context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tables, nil
}

func (s *stubQueries) FetchTable(ctx context.Context, name string) ([]domain.DataPoint, error) {
	s.fetched = append(s.fetched, name)
	if s.validate {
		if _, err := domain.ParseTable("btc", name); err != nil {
			return nil, err
		}
	}
	s.storeCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.points, nil
}

func (s *stubQueries) TableSummary(ctx context.Context, name string) (domain.TableSummary, error) {
	if s.err != nil {
		return domain.TableSummary{}, s.err
	}
	return s.summary, nil
}

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(ctx context.Context) error { return p.err }
