package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusActive    ReservationStatus = "ACTIVE"
	StatusCancelled ReservationStatus = "CANCELLED"
	StatusCompleted ReservationStatus = "COMPLETED"
	StatusNoShow    ReservationStatus = "NO_SHOW"
)

// Reservation is a booking of one room by one user for a same-day interval.
// Times are stored in UTC.
type Reservation struct {
	ID          string            `gorm:"primaryKey;size:36" json:"reservation_id"`
	UserID      string            `gorm:"size:128;not null;index:idx_res_user_time,priority:1" json:"user_id"`
	RoomID      string            `gorm:"size:64;not null;index:idx_res_room_status,priority:1" json:"room_id"`
	Date        string            `gorm:"size:10;not null;index" json:"date"`
	StartTime   time.Time         `gorm:"not null;index:idx_res_user_time,priority:2" json:"start_time"`
	EndTime     time.Time         `gorm:"not null" json:"end_time"`
	Status      ReservationStatus `gorm:"size:16;not null;index:idx_res_room_status,priority:2" json:"status"`
	CheckedInAt *time.Time        `json:"checked_in_at,omitempty"`
	CreatedAt   time.Time         `gorm:"not null" json:"-"`
	UpdatedAt   time.Time         `gorm:"not null" json:"-"`
}

// In returns a copy with all timestamps expressed in loc.
func (r Reservation) In(loc *time.Location) Reservation {
	r.StartTime = r.StartTime.In(loc)
	r.EndTime = r.EndTime.In(loc)
	if r.CheckedInAt != nil {
		t := r.CheckedInAt.In(loc)
		r.CheckedInAt = &t
	}
	return r
}
