package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"roomwatch-backend/internal/apperr"
	"roomwatch-backend/internal/model"
	"roomwatch-backend/internal/params"
	"roomwatch-backend/internal/parse"
	"roomwatch-backend/internal/syncx"
)

// Store defines the reservation operations.
type Store interface {
	Create(ctx context.Context, req CreateRequest) (model.Reservation, error)
	Cancel(ctx context.Context, reservationID, requestingUserID string) error
	Get(ctx context.Context, reservationID string) (model.Reservation, error)
	List(ctx context.Context, f Filter) ([]model.Reservation, error)
	ListActive(ctx context.Context, roomID string) ([]model.Reservation, error)
	FindCurrent(ctx context.Context, roomID string, at time.Time, p params.StateParams) (*model.Reservation, error)
	MarkCheckedIn(ctx context.Context, reservationID string, at time.Time) error
	Complete(ctx context.Context, reservationID string) error
	TransitionTx(tx *gorm.DB, reservationID string, from, to model.ReservationStatus) error
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db    *gorm.DB
	clock Clock
	bans  BanChecker
	opts  Options
	rooms *syncx.KeyedMutex
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, clock Clock, bans BanChecker, opts Options) Store {
	return &gormStore{
		db:    db,
		clock: clock,
		bans:  bans,
		opts:  opts,
		rooms: syncx.NewKeyedMutex(),
	}
}

func (s *gormStore) DB() *gorm.DB { return s.db }

// Create books a room. The overlap check and the insert happen under the
// room's lock inside one transaction.
func (s *gormStore) Create(ctx context.Context, req CreateRequest) (model.Reservation, error) {
	loc := s.clock.Location()
	start, end := req.Start.In(loc), req.End.In(loc)

	if req.UserID == "" || req.RoomID == "" {
		return model.Reservation{}, apperr.New(apperr.InvalidArgument, "user_id and room_id are required")
	}
	if err := s.validateWindow(start, end); err != nil {
		return model.Reservation{}, err
	}

	if s.bans != nil {
		st, err := s.bans.Status(ctx, req.UserID, s.clock.Now())
		if err != nil {
			return model.Reservation{}, apperr.Wrap(apperr.Internal, err, "check penalty status")
		}
		if st.IsBanned {
			return model.Reservation{}, &apperr.BannedError{
				UserID:    req.UserID,
				Points:    st.Points,
				Threshold: st.Threshold,
				BanUntil:  st.BanUntil,
			}
		}
	}

	unlock := s.rooms.Lock(req.RoomID)
	defer unlock()

	res := model.Reservation{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		RoomID:    req.RoomID,
		Date:      parse.DateOf(start, loc),
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		Status:    model.StatusActive,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active []model.Reservation
		if err := tx.Where("room_id = ? AND status = ?", req.RoomID, model.StatusActive).
			Find(&active).Error; err != nil {
			return fmt.Errorf("failed to load active reservations for room %s: %w", req.RoomID, err)
		}
		if conflict := findConflict(active, start, end, s.opts.Buffer); conflict != nil {
			return apperr.New(apperr.Overlap, "reservation conflicts with %s (%s - %s)",
				conflict.ID, conflict.StartTime.In(loc).Format("15:04"), conflict.EndTime.In(loc).Format("15:04"))
		}
		if err := tx.Create(&res).Error; err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Reservation{}, classify(err)
	}

	log.Printf("[store] created reservation %s room=%s user=%s %s-%s",
		res.ID, res.RoomID, res.UserID, start.Format(time.RFC3339), end.Format(time.RFC3339))
	return res.In(loc), nil
}

func (s *gormStore) validateWindow(start, end time.Time) error {
	if !end.After(start) {
		return apperr.New(apperr.InvalidArgument, "end_time must be after start_time")
	}
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy != ey || sm != em || sd != ed {
		return apperr.New(apperr.InvalidArgument, "reservation must not cross midnight")
	}
	d := end.Sub(start)
	if s.opts.MinDuration > 0 && d < s.opts.MinDuration {
		return apperr.New(apperr.InvalidArgument, "duration %s is shorter than %s", d, s.opts.MinDuration)
	}
	if s.opts.MaxDuration > 0 && d > s.opts.MaxDuration {
		return apperr.New(apperr.InvalidArgument, "duration %s is longer than %s", d, s.opts.MaxDuration)
	}
	return nil
}

// findConflict returns the first active reservation intersecting [start, end)
// once widened by buffer on both sides.
func findConflict(active []model.Reservation, start, end time.Time, buffer time.Duration) *model.Reservation {
	for i := range active {
		r := &active[i]
		if end.After(r.StartTime.Add(-buffer)) && start.Before(r.EndTime.Add(buffer)) {
			return r
		}
	}
	return nil
}

// Cancel moves an ACTIVE reservation owned by requestingUserID to CANCELLED.
func (s *gormStore) Cancel(ctx context.Context, reservationID, requestingUserID string) error {
	res, err := s.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if res.UserID != requestingUserID {
		return apperr.New(apperr.Forbidden, "reservation %s belongs to another user", reservationID)
	}

	unlock := s.rooms.Lock(res.RoomID)
	defer unlock()

	if err := s.transition(s.db.WithContext(ctx), reservationID, model.StatusActive, model.StatusCancelled); err != nil {
		return err
	}
	log.Printf("[store] cancelled reservation %s by user %s", reservationID, requestingUserID)
	return nil
}

func (s *gormStore) Get(ctx context.Context, reservationID string) (model.Reservation, error) {
	var res model.Reservation
	err := s.db.WithContext(ctx).First(&res, "id = ?", reservationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Reservation{}, apperr.New(apperr.NotFound, "reservation %s not found", reservationID)
	}
	if err != nil {
		return model.Reservation{}, apperr.Wrap(apperr.Internal, err, "load reservation")
	}
	return res.In(s.clock.Location()), nil
}

// List returns matching reservations ordered by start time.
func (s *gormStore) List(ctx context.Context, f Filter) ([]model.Reservation, error) {
	q := s.db.WithContext(ctx).Model(&model.Reservation{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.RoomID != "" {
		q = q.Where("room_id = ?", f.RoomID)
	}
	if f.Date != "" {
		q = q.Where("date = ?", f.Date)
	}

	var list []model.Reservation
	if err := q.Order("start_time ASC").Find(&list).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list reservations")
	}
	return s.localize(list), nil
}

// ListActive returns the room's ACTIVE reservations ordered by start time.
func (s *gormStore) ListActive(ctx context.Context, roomID string) ([]model.Reservation, error) {
	var list []model.Reservation
	if err := s.db.WithContext(ctx).
		Where("room_id = ? AND status = ?", roomID, model.StatusActive).
		Order("start_time ASC").
		Find(&list).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list active reservations")
	}
	return s.localize(list), nil
}

func (s *gormStore) localize(list []model.Reservation) []model.Reservation {
	loc := s.clock.Location()
	for i := range list {
		list[i] = list[i].In(loc)
	}
	return list
}

// FindCurrent returns the ACTIVE reservation whose tolerance window contains at.
func (s *gormStore) FindCurrent(ctx context.Context, roomID string, at time.Time, p params.StateParams) (*model.Reservation, error) {
	active, err := s.ListActive(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := CheckNoOverlap(active); err != nil {
		return nil, err
	}
	return SelectCurrent(active, at, p), nil
}

// SelectCurrent picks, among ACTIVE reservations, the one whose
// [start - arrival_before, end + cleanup] contains at. Ties go to the earliest start.
func SelectCurrent(active []model.Reservation, at time.Time, p params.StateParams) *model.Reservation {
	var best *model.Reservation
	for i := range active {
		r := active[i]
		if r.Status != model.StatusActive {
			continue
		}
		from := r.StartTime.Add(-p.ArrivalWindowBefore())
		to := r.EndTime.Add(p.CleanupMargin())
		if at.Before(from) || at.After(to) {
			continue
		}
		if best == nil || r.StartTime.Before(best.StartTime) {
			cp := r
			best = &cp
		}
	}
	return best
}

// CheckNoOverlap reports two ACTIVE reservations of the same room whose
// intervals intersect. That state must never exist and is not repaired here.
func CheckNoOverlap(active []model.Reservation) error {
	sorted := make([]model.Reservation, 0, len(active))
	for _, r := range active {
		if r.Status == model.StatusActive {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.RoomID == cur.RoomID && cur.StartTime.Before(prev.EndTime) {
			return apperr.New(apperr.Internal, "active reservations %s and %s overlap in room %s",
				prev.ID, cur.ID, cur.RoomID)
		}
	}
	return nil
}

// MarkCheckedIn records the first matched occupancy of a reservation.
func (s *gormStore) MarkCheckedIn(ctx context.Context, reservationID string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("id = ? AND status = ? AND checked_in_at IS NULL", reservationID, model.StatusActive).
		Update("checked_in_at", at.UTC())
	if result.Error != nil {
		return apperr.Wrap(apperr.Internal, result.Error, "mark checked in")
	}
	return nil
}

// Complete moves an ACTIVE reservation to COMPLETED.
func (s *gormStore) Complete(ctx context.Context, reservationID string) error {
	return s.transition(s.db.WithContext(ctx), reservationID, model.StatusActive, model.StatusCompleted)
}

// TransitionTx changes status inside the caller's transaction.
func (s *gormStore) TransitionTx(tx *gorm.DB, reservationID string, from, to model.ReservationStatus) error {
	return s.transition(tx, reservationID, from, to)
}

func (s *gormStore) transition(db *gorm.DB, reservationID string, from, to model.ReservationStatus) error {
	result := db.Model(&model.Reservation{}).
		Where("id = ? AND status = ?", reservationID, from).
		Update("status", to)
	if result.Error != nil {
		return apperr.Wrap(apperr.Internal, result.Error, "update reservation status")
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var res model.Reservation
	err := db.Select("status").First(&res, "id = ?", reservationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(apperr.NotFound, "reservation %s not found", reservationID)
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "load reservation status")
	}
	return apperr.New(apperr.InvalidState, "reservation %s is %s, not %s", reservationID, res.Status, from)
}

// classify keeps application errors as they are and marks the rest Internal.
func classify(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Wrap(apperr.Internal, err, "reservation store")
}
