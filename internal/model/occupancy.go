package model

import (
	"time"
)

// RoomState is the reconciled state of a room.
type RoomState string

const (
	RoomFree              RoomState = "FREE"
	RoomAwaitingArrival   RoomState = "AWAITING_ARRIVAL"
	RoomOccupiedMatched   RoomState = "OCCUPIED_MATCHED"
	RoomOccupiedUnmatched RoomState = "OCCUPIED_UNMATCHED"
	RoomAlert             RoomState = "ALERT"
	RoomCleanup           RoomState = "CLEANUP"
)

// AlertReason explains an ALERT state.
type AlertReason string

const (
	AlertNoShow   AlertReason = "no_show"
	AlertOverstay AlertReason = "overstay"
)

// Reading is one people-count observation for a room.
type Reading struct {
	RoomID      string    `json:"room_id"`
	PeopleCount int       `json:"people_count"`
	ObservedAt  time.Time `json:"observed_at"`
}

// RoomStatus is recomputed on every tick and never patched in place.
type RoomStatus struct {
	Timestamp     time.Time   `json:"timestamp"`
	RoomID        string      `json:"room_id"`
	RoomState     RoomState   `json:"room_state"`
	PeopleCount   int         `json:"people_count"`
	IsUsed        bool        `json:"is_used"`
	ReservationID *string     `json:"reservation_id"`
	Alert         bool        `json:"alert"`
	AlertReason   AlertReason `json:"alert_reason,omitempty"`
}

// SameState reports whether two statuses describe the same situation,
// ignoring the timestamp.
func (s RoomStatus) SameState(o RoomStatus) bool {
	if s.RoomID != o.RoomID || s.RoomState != o.RoomState || s.PeopleCount != o.PeopleCount ||
		s.Alert != o.Alert || s.AlertReason != o.AlertReason {
		return false
	}
	if (s.ReservationID == nil) != (o.ReservationID == nil) {
		return false
	}
	return s.ReservationID == nil || *s.ReservationID == *o.ReservationID
}
