package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"roomwatch-backend/internal/apperr"
	"roomwatch-backend/internal/clock"
	"roomwatch-backend/internal/params"
	"roomwatch-backend/internal/parse"
	"roomwatch-backend/internal/store"
)

// GetStateParams returns the current reconciliation tolerances.
func (h *Handler) GetStateParams(c *gin.Context) {
	c.JSON(http.StatusOK, h.Params.Get())
}

// UpdateStateParams applies a partial update. Invalid values leave the
// current parameters untouched.
func (h *Handler) UpdateStateParams(c *gin.Context) {
	var u params.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, err)
		return
	}
	next, err := h.Params.Apply(u)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, next)
}

// GetTime describes the virtual clock.
func (h *Handler) GetTime(c *gin.Context) {
	c.JSON(http.StatusOK, h.Clock.Describe())
}

type setTimeRequest struct {
	Mode  clock.Mode `json:"mode" binding:"required"`
	Scale *float64   `json:"scale"`
	Now   *string    `json:"now"`
}

// SetTime switches the virtual clock between real and simulated mode and runs
// a tick so room status reflects the new time.
func (h *Handler) SetTime(c *gin.Context) {
	var req setTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	switch req.Mode {
	case clock.ModeReal:
		h.Clock.SetReal()
	case clock.ModeSimulated:
		scale := 1.0
		if req.Scale != nil {
			scale = *req.Scale
		}
		var override *time.Time
		if req.Now != nil && *req.Now != "" {
			t, err := parse.Timestamp(*req.Now, h.loc())
			if err != nil {
				badRequest(c, err)
				return
			}
			override = &t
		}
		if err := h.Clock.SetSimulated(scale, override); err != nil {
			writeError(c, err)
			return
		}
	default:
		writeError(c, apperr.New(apperr.InvalidArgument, "mode must be %q or %q", clock.ModeReal, clock.ModeSimulated))
		return
	}

	h.Reconciler.Tick(context.WithoutCancel(c.Request.Context()))
	c.JSON(http.StatusOK, h.Clock.Describe())
}

type occupancyRequest struct {
	RoomID      string `json:"room_id"`
	Occupied    *bool  `json:"occupied"`
	PeopleCount *int   `json:"people_count"`
}

// SetOccupancy injects a reading into the manual sensor and reconciles
// immediately.
func (h *Handler) SetOccupancy(c *gin.Context) {
	if h.Manual == nil {
		writeError(c, apperr.New(apperr.InvalidState, "occupancy can only be injected with the manual sensor"))
		return
	}

	var req occupancyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	room, err := h.room(req.RoomID)
	if err != nil {
		writeError(c, err)
		return
	}

	switch {
	case req.PeopleCount != nil:
		if *req.PeopleCount < 0 {
			writeError(c, apperr.New(apperr.InvalidArgument, "people_count must be >= 0"))
			return
		}
		h.Manual.Set(room, *req.PeopleCount)
	case req.Occupied != nil:
		h.Manual.SetOccupied(room, *req.Occupied)
	default:
		writeError(c, apperr.New(apperr.InvalidArgument, "occupied or people_count is required"))
		return
	}

	h.Reconciler.Tick(context.WithoutCancel(c.Request.Context()))
	status, ok := h.Reconciler.Status(room)
	if !ok {
		c.Status(http.StatusAccepted)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListAllReservations lists reservations of every room.
func (h *Handler) ListAllReservations(c *gin.Context) {
	h.writeReservations(c, store.Filter{})
}

type debugReservationRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	RoomID    string `json:"room_id"`
	StartTime string `json:"start_time" binding:"required"`
	EndTime   string `json:"end_time" binding:"required"`
}

// CreateDebugReservation books with absolute ISO-8601 timestamps. The usual
// admission rules apply.
func (h *Handler) CreateDebugReservation(c *gin.Context) {
	var req debugReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	room, err := h.room(req.RoomID)
	if err != nil {
		writeError(c, err)
		return
	}
	start, err := parse.Timestamp(req.StartTime, h.loc())
	if err != nil {
		badRequest(c, err)
		return
	}
	end, err := parse.Timestamp(req.EndTime, h.loc())
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.Store.Create(c.Request.Context(), store.CreateRequest{
		UserID: req.UserID,
		RoomID: room,
		Start:  start,
		End:    end,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res.In(h.loc()))
}

// ResetPenalties deletes a user's penalty history.
func (h *Handler) ResetPenalties(c *gin.Context) {
	userID := c.Param("user_id")
	removed, err := h.Ledger.ResetUser(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "removed": removed})
}
