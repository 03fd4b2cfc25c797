package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"roomwatch-backend/config"
	"roomwatch-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router. Debug routes are only
// mounted when debug is true.
func NewRouter(h *Handler, cfg config.ServerConfig, debug bool) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Room status changes every tick, so it is only cached briefly
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 10*ttl)
	caching := mw.Cache(cacheStore, ttl, h.statusCacheKey)

	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/room_status", caching, h.GetRoomStatus)
		api.GET("/status", caching, h.GetRoomStatus)
		api.GET("/room_status/ws", h.RoomStatusStream)

		api.GET("/reservations", h.ListReservations)
		api.POST("/reservations", h.CreateReservation)
		api.DELETE("/reservations/:id", h.CancelReservation)

		api.GET("/penalties/:user_id", h.GetPenalties)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	if debug {
		dbg := r.Group("/debug")
		{
			dbg.GET("/state_params", h.GetStateParams)
			dbg.POST("/state_params", h.UpdateStateParams)
			dbg.GET("/time", h.GetTime)
			dbg.POST("/time", h.SetTime)
			dbg.POST("/occupancy", h.SetOccupancy)
			dbg.GET("/reservations", h.ListAllReservations)
			dbg.POST("/reservations", h.CreateDebugReservation)
			dbg.GET("/penalties/:user_id", h.GetPenalties)
			dbg.DELETE("/penalties/:user_id", h.ResetPenalties)
		}
	}

	return r
}
