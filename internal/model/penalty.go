package model

import "time"

// PenaltyEvent is one recorded no-show. Events are append-only.
type PenaltyEvent struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        string    `gorm:"size:128;not null;index:idx_penalty_user_time,priority:1" json:"user_id"`
	ReservationID string    `gorm:"size:36;not null;uniqueIndex" json:"reservation_id"`
	Reason        string    `gorm:"size:32;not null" json:"reason"`
	OccurredAt    time.Time `gorm:"not null;index:idx_penalty_user_time,priority:2" json:"occurred_at"`
	Points        int       `gorm:"not null" json:"points"`
}

// PenaltyStatus is derived from a user's event history at a point in time.
type PenaltyStatus struct {
	UserID            string     `json:"user_id"`
	Points            int        `json:"points"`
	Threshold         int        `json:"threshold"`
	WindowDays        int        `json:"window_days"`
	IsBanned          bool       `json:"is_banned"`
	BanUntil          *time.Time `json:"ban_until"`
	TotalPenaltyCount int64      `json:"total_penalty_count"`
}
