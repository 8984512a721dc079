package handler

import (
	"net/http"

	"btc-stream/internal/broadcast"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Stream godoc
// @Summary      Live price stream
// @Description  Upgrades to a websocket that receives {"table": ..., "points": [...]} batches as rows land. Inbound messages are ignored.
// @Tags         stream
// @Success      101
// @Failure      503  {object}  map[string]string
// @Router       /ws [get]
func (h *Handler) Stream(c *gin.Context) {
	if h.broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	broadcast.NewWSClient(conn, h.sendBuffer).Run(h.broadcaster)
}
