package handler

import (
	"context"
	"net/http"
	"time"

	"btc-stream/internal/broadcast"
	"btc-stream/internal/chart"
	"btc-stream/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

type TableQueries interface {
	ListTables(ctx context.Context) ([]string, error)
	FetchTable(ctx context.Context, name string) ([]domain.DataPoint, error)
	TableSummary(ctx context.Context, name string) (domain.TableSummary, error)
}

type StorePinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	WebDir     string
	SendBuffer int
}

type Handler struct {
	tracer      trace.Tracer
	queries     TableQueries
	broadcaster *broadcast.Broadcaster
	store       StorePinger
	renderer    *chart.Renderer
	upgrader    websocket.Upgrader

	webDir     string
	sendBuffer int
}

func New(
	tracer trace.Tracer,
	queries TableQueries,
	broadcaster *broadcast.Broadcaster,
	store StorePinger,
	cfg Config,
) *Handler {
	return &Handler{
		tracer:      tracer,
		queries:     queries,
		broadcaster: broadcaster,
		store:       store,
		renderer:    chart.NewRenderer(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		webDir:     cfg.WebDir,
		sendBuffer: cfg.SendBuffer,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/ws", h.Stream)
	r.GET("/api/tables", h.ListTables)
	r.GET("/api/data/:table", h.GetTableData)
	r.GET("/api/summary/:table", h.GetTableSummary)
	r.GET("/api/chart/:table", h.GetTableChart)
	r.GET("/", h.pageHandler("index.html"))
	r.GET("/plotly", h.pageHandler("plotly.html"))
	r.GET("/chartjs", h.pageHandler("chartjs.html"))
}

// Health godoc
// @Summary      Service health
// @Description  Reports store reachability and the number of connected stream subscribers
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]interface{}
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	subscribers := 0
	if h.broadcaster != nil {
		subscribers = h.broadcaster.Count()
	}

	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": "not configured", "subscribers": subscribers})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": err.Error(), "subscribers": subscribers})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "store": "up", "subscribers": subscribers})
}

// statusFor maps store and validation errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
