// Package penalty keeps the append-only no-show history and derives each
// user's ban state from it on demand.
package penalty

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"

	"roomwatch-backend/internal/apperr"
	"roomwatch-backend/internal/model"
	"roomwatch-backend/internal/syncx"
)

const reasonNoShow = "NO_SHOW"

// Transitioner moves a reservation between lifecycle states inside a transaction.
type Transitioner interface {
	TransitionTx(tx *gorm.DB, reservationID string, from, to model.ReservationStatus) error
}

// Config holds the ledger's sliding-window rules.
type Config struct {
	WindowDays int
	Threshold  int
	Points     int
}

func (c Config) window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

// Ledger records no-shows and answers ban queries.
type Ledger struct {
	db    *gorm.DB
	cfg   Config
	res   Transitioner
	users *syncx.KeyedMutex
}

// NewLedger creates a ledger. res may be nil when events are recorded
// without a backing reservation table.
func NewLedger(db *gorm.DB, cfg Config, res Transitioner) *Ledger {
	if cfg.Points <= 0 {
		cfg.Points = 1
	}
	return &Ledger{
		db:    db,
		cfg:   cfg,
		res:   res,
		users: syncx.NewKeyedMutex(),
	}
}

// Config returns the active rules.
func (l *Ledger) Config() Config { return l.cfg }

// RecordNoShow appends a no-show for reservationID and moves the reservation
// to NO_SHOW in the same transaction. Recording the same reservation again
// returns the existing event and created=false.
func (l *Ledger) RecordNoShow(ctx context.Context, userID, reservationID string, at time.Time) (ev model.PenaltyEvent, created bool, err error) {
	unlock := l.users.Lock(userID)
	defer unlock()

	if existing, ok, err := l.findByReservation(l.db.WithContext(ctx), reservationID); err != nil {
		return model.PenaltyEvent{}, false, err
	} else if ok {
		return existing, false, nil
	}

	ev = model.PenaltyEvent{
		UserID:        userID,
		ReservationID: reservationID,
		Reason:        reasonNoShow,
		OccurredAt:    at.UTC(),
		Points:        l.cfg.Points,
	}
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ev).Error; err != nil {
			return fmt.Errorf("failed to insert penalty event: %w", err)
		}
		if l.res != nil {
			if err := l.res.TransitionTx(tx, reservationID, model.StatusActive, model.StatusNoShow); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Another process may have won the unique index.
		if existing, ok, findErr := l.findByReservation(l.db.WithContext(ctx), reservationID); findErr == nil && ok {
			return existing, false, nil
		}
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return model.PenaltyEvent{}, false, err
		}
		return model.PenaltyEvent{}, false, apperr.Wrap(apperr.Internal, err, "record no-show")
	}

	log.Printf("[penalty] no-show recorded user=%s reservation=%s points=%d", userID, reservationID, ev.Points)
	return ev, true, nil
}

func (l *Ledger) findByReservation(db *gorm.DB, reservationID string) (model.PenaltyEvent, bool, error) {
	var ev model.PenaltyEvent
	err := db.Where("reservation_id = ?", reservationID).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PenaltyEvent{}, false, nil
	}
	if err != nil {
		return model.PenaltyEvent{}, false, apperr.Wrap(apperr.Internal, err, "load penalty event")
	}
	return ev, true, nil
}

// Status derives the user's standing at the given instant. An event counts
// while at-window <= occurred_at <= at.
func (l *Ledger) Status(ctx context.Context, userID string, at time.Time) (model.PenaltyStatus, error) {
	var events []model.PenaltyEvent
	if err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("occurred_at ASC").
		Find(&events).Error; err != nil {
		return model.PenaltyStatus{}, apperr.Wrap(apperr.Internal, err, "load penalty events")
	}
	return Derive(userID, events, at, l.cfg), nil
}

// Derive computes a PenaltyStatus from a user's full history.
func Derive(userID string, events []model.PenaltyEvent, at time.Time, cfg Config) model.PenaltyStatus {
	st := model.PenaltyStatus{
		UserID:            userID,
		Threshold:         cfg.Threshold,
		WindowDays:        cfg.WindowDays,
		TotalPenaltyCount: int64(len(events)),
	}

	window := cfg.window()
	from := at.Add(-window)
	var counted []model.PenaltyEvent
	for _, ev := range events {
		if ev.OccurredAt.Before(from) || ev.OccurredAt.After(at) {
			continue
		}
		counted = append(counted, ev)
		st.Points += ev.Points
	}

	st.IsBanned = st.Points >= cfg.Threshold
	if !st.IsBanned {
		return st
	}

	// Age events out oldest first until the sum drops below the threshold.
	remaining := st.Points
	for _, ev := range sortedByTime(counted) {
		remaining -= ev.Points
		if remaining < cfg.Threshold {
			until := ev.OccurredAt.Add(window).In(at.Location())
			st.BanUntil = &until
			break
		}
	}
	return st
}

func sortedByTime(events []model.PenaltyEvent) []model.PenaltyEvent {
	out := append([]model.PenaltyEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out
}

// IsUserBanned reports whether the user is currently barred from booking.
func (l *Ledger) IsUserBanned(ctx context.Context, userID string, at time.Time) (bool, error) {
	st, err := l.Status(ctx, userID, at)
	if err != nil {
		return false, err
	}
	return st.IsBanned, nil
}

// ResetUser deletes a user's history. Reservations already marked NO_SHOW keep
// their status.
func (l *Ledger) ResetUser(ctx context.Context, userID string) (int64, error) {
	unlock := l.users.Lock(userID)
	defer unlock()

	result := l.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.PenaltyEvent{})
	if result.Error != nil {
		return 0, apperr.Wrap(apperr.Internal, result.Error, "reset penalties")
	}
	log.Printf("[penalty] reset user=%s removed=%d", userID, result.RowsAffected)
	return result.RowsAffected, nil
}
