package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"roomwatch-backend/internal/model"
	"roomwatch-backend/internal/parse"
	"roomwatch-backend/internal/store"
)

type createReservationRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	RoomID    string `json:"room_id"`
	Date      string `json:"date" binding:"required"`
	StartTime string `json:"start_time" binding:"required"`
	EndTime   string `json:"end_time" binding:"required"`
}

// CreateReservation books a room for a same-day HH:MM interval.
func (h *Handler) CreateReservation(c *gin.Context) {
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	room, err := h.room(req.RoomID)
	if err != nil {
		writeError(c, err)
		return
	}
	start, err := parse.Compose(req.Date, req.StartTime, h.loc())
	if err != nil {
		badRequest(c, err)
		return
	}
	end, err := parse.Compose(req.Date, req.EndTime, h.loc())
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

// ListReservations returns reservations filtered by user_id, date and room_id.
func (h *Handler) ListReservations(c *gin.Context) {
	f := store.Filter{
		UserID: c.Query("user_id"),
		RoomID: c.Query("room_id"),
		Date:   c.Query("date"),
	}
	if f.Date != "" {
		if _, err := parse.ParseDate(f.Date, h.loc()); err != nil {
			badRequest(c, err)
			return
		}
	}
	h.writeReservations(c, f)
}

func (h *Handler) writeReservations(c *gin.Context, f store.Filter) {
	list, err := h.Store.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]model.Reservation, len(list))
	for i, r := range list {
		out[i] = r.In(h.loc())
	}
	c.JSON(http.StatusOK, out)
}

// CancelReservation cancels an ACTIVE reservation. The requesting user comes
// from the user_id query parameter or the X-User-ID header; without either the
// request acts for the reservation's owner.
func (h *Handler) CancelReservation(c *gin.Context) {
	id := c.Param("id")
	user := c.Query("user_id")
	if user == "" {
		user = c.GetHeader("X-User-ID")
	}
	if user == "" {
		res, err := h.Store.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		user = res.UserID
	}

	if err := h.Store.Cancel(c.Request.Context(), id, user); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPenalties returns the derived penalty status of a user.
func (h *Handler) GetPenalties(c *gin.Context) {
	st, err := h.Ledger.Status(c.Request.Context(), c.Param("user_id"), h.Clock.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
