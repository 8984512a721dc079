package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// ListTables godoc
// @Summary      List day tables
// @Description  Returns every known price table, most recent day first
// @Tags         tables
// @Produce      json
// @Success      200  {object}  map[string][]string
// @Failure      500  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/tables [get]
func (h *Handler) ListTables(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-tables")
	defer span.End()

	tables, err := h.queries.ListTables(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

// GetTableData godoc
// @Summary      Fetch a day table
// @Description  Returns every point of the table in ascending id order
// @Tags         tables
// @Produce      json
// @Param        table  path  string  true  "Table name (e.g., btc_2024_01_01)"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/data/{table} [get]
func (h *Handler) GetTableData(c *gin.Context) {
	name := c.Param("table")
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-table-data")
	defer span.End()
	span.SetAttributes(attribute.String("table", name))

	points, err := h.queries.FetchTable(ctx, name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": points})
}

// GetTableSummary godoc
// @Summary      Summarize a day table
// @Description  Returns count, range, change and moving averages (7/30/200) with 30-point volatility
// @Tags         tables
// @Produce      json
// @Param        table  path  string  true  "Table name (e.g., btc_2024_01_01)"
// @Success      200  {object}  domain.TableSummary
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/summary/{table} [get]
func (h *Handler) GetTableSummary(c *gin.Context) {
	name := c.Param("table")
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-table-summary")
	defer span.End()
	span.SetAttributes(attribute.String("table", name))

	summary, err := h.queries.TableSummary(ctx, name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetTableChart godoc
// @Summary      Render a day table chart
// @Description  Returns a PNG price chart with moving averages and volatility
// @Tags         tables
// @Produce      png
// @Param        table  path  string  true  "Table name (e.g., btc_2024_01_01)"
// @Success      200  {file}  binary
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      422  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/chart/{table} [get]
func (h *Handler) GetTableChart(c *gin.Context) {
	name := c.Param("table")
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-table-chart")
	defer span.End()
	span.SetAttributes(attribute.String("table", name))

	points, err := h.queries.FetchTable(ctx, name)
	if err != nil {
		writeError(c, err)
		return
	}

	img, err := h.renderer.RenderPriceChart(points)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, img.MimeType, img.Bytes)
}
