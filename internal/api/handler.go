package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"roomwatch-backend/internal/apperr"
	"roomwatch-backend/internal/clock"
	"roomwatch-backend/internal/params"
	"roomwatch-backend/internal/penalty"
	"roomwatch-backend/internal/reconcile"
	"roomwatch-backend/internal/sensor"
	"roomwatch-backend/internal/store"
	"roomwatch-backend/internal/websocket"
)

// Deps are the components the handlers talk to.
type Deps struct {
	Store       store.Store
	Ledger      *penalty.Ledger
	Clock       *clock.Clock
	Params      *params.Holder
	Reconciler  *reconcile.Service
	Manual      *sensor.Manual // nil unless the manual sensor is active
	Hub         *websocket.Hub
	WebPush     *webpush.Options
	DefaultRoom string
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d}
}

func (h *Handler) loc() *time.Location {
	return h.Clock.Location()
}

// room resolves the room_id of a request, falling back to the default room.
func (h *Handler) room(raw string) (string, error) {
	if raw == "" {
		return h.DefaultRoom, nil
	}
	if h.Reconciler != nil && !h.Reconciler.HasRoom(raw) {
		return "", apperr.New(apperr.NotFound, "unknown room %s", raw)
	}
	return raw, nil
}

var kindStatus = map[apperr.Kind]int{
	apperr.InvalidArgument: http.StatusBadRequest,
	apperr.Overlap:         http.StatusConflict,
	apperr.Banned:          http.StatusForbidden,
	apperr.NotFound:        http.StatusNotFound,
	apperr.Forbidden:       http.StatusForbidden,
	apperr.InvalidState:    http.StatusConflict,
	apperr.Internal:        http.StatusInternalServerError,
}

// writeError maps an application error onto an HTTP response.
func writeError(c *gin.Context, err error) {
	var banned *apperr.BannedError
	if errors.As(err, &banned) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":     "user is banned",
			"points":    banned.Points,
			"threshold": banned.Threshold,
			"ban_until": banned.BanUntil,
		})
		return
	}

	status, ok := kindStatus[apperr.KindOf(err)]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		log.Printf("[api] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
