package store

import (
	"context"
	"time"

	"roomwatch-backend/internal/model"
)

// Clock is the time source the store reads.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// BanChecker reports a user's penalty standing. It is consulted on every
// create, never cached.
type BanChecker interface {
	Status(ctx context.Context, userID string, at time.Time) (model.PenaltyStatus, error)
}

// BanCheckerFunc adapts a function to BanChecker.
type BanCheckerFunc func(ctx context.Context, userID string, at time.Time) (model.PenaltyStatus, error)

func (f BanCheckerFunc) Status(ctx context.Context, userID string, at time.Time) (model.PenaltyStatus, error) {
	return f(ctx, userID, at)
}

// Options bounds what may be booked.
type Options struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	// Buffer is kept free before and after every active reservation.
	Buffer time.Duration
}

// CreateRequest describes a new reservation. Start and End are absolute.
type CreateRequest struct {
	UserID string
	RoomID string
	Start  time.Time
	End    time.Time
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	UserID string
	RoomID string
	Date   string // YYYY-MM-DD in the clock's location
}
