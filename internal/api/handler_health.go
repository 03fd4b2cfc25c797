package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Healthz reports that the process is serving.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz checks the database and that the reconciler has ticked recently.
func (h *Handler) Readyz(c *gin.Context) {
	sqlDB, err := h.Store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database: " + err.Error()})
		return
	}

	_, wall := h.Reconciler.LastTick()
	if wall.IsZero() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "reconciler has not ticked yet"})
		return
	}
	age := time.Since(wall)
	if limit := 3*h.Reconciler.Interval() + 5*time.Second; age > limit {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":        "unavailable",
			"error":         "reconciler is stalled",
			"last_tick_age": age.String(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "last_tick_age": age.String()})
}
