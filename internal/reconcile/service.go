package reconcile

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"roomwatch-backend/internal/apperr"
	"roomwatch-backend/internal/model"
	"roomwatch-backend/internal/params"
	"roomwatch-backend/internal/sensor"
	"roomwatch-backend/internal/store"
)

// minInterval bounds the real wait between ticks at high clock scales.
const minInterval = 100 * time.Millisecond

// Clock is the virtual time source.
type Clock interface {
	Now() time.Time
	Scale() float64
}

// Reservations is the part of the reservation store a tick needs.
type Reservations interface {
	ListActive(ctx context.Context, roomID string) ([]model.Reservation, error)
	MarkCheckedIn(ctx context.Context, reservationID string, at time.Time) error
	Complete(ctx context.Context, reservationID string) error
}

// Ledger records no-shows.
type Ledger interface {
	RecordNoShow(ctx context.Context, userID, reservationID string, at time.Time) (model.PenaltyEvent, bool, error)
}

// Notifier is told when a room enters ALERT.
type Notifier interface {
	NotifyAlert(status model.RoomStatus)
}

// Broadcaster receives every status change.
type Broadcaster interface {
	Broadcast(status model.RoomStatus)
}

// Options configures the tick loop.
type Options struct {
	Rooms   []string
	Tick    time.Duration // virtual time between ticks
	Workers int
}

// Service runs the reconciliation loop and holds the latest status per room.
type Service struct {
	clock        Clock
	params       *params.Holder
	reservations Reservations
	ledger       Ledger
	sensor       sensor.Provider
	notifier     Notifier
	broadcaster  Broadcaster

	rooms   []string
	tick    time.Duration
	workers int

	tickMu sync.Mutex

	mu       sync.RWMutex
	statuses map[string]model.RoomStatus
	lastTick time.Time
	lastRun  time.Time
}

// NewService creates the reconciler.
func NewService(clock Clock, holder *params.Holder, reservations Reservations, ledger Ledger, provider sensor.Provider, opts Options) *Service {
	if opts.Tick <= 0 {
		opts.Tick = 5 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Service{
		clock:        clock,
		params:       holder,
		reservations: reservations,
		ledger:       ledger,
		sensor:       provider,
		rooms:        append([]string(nil), opts.Rooms...),
		tick:         opts.Tick,
		workers:      opts.Workers,
		statuses:     make(map[string]model.RoomStatus),
	}
}

// SetNotifier registers the alert notifier. Call before Run.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetBroadcaster registers the status change listener. Call before Run.
func (s *Service) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// Rooms returns the reconciled room ids.
func (s *Service) Rooms() []string {
	return append([]string(nil), s.rooms...)
}

// HasRoom reports whether roomID is reconciled by this service.
func (s *Service) HasRoom(roomID string) bool {
	for _, r := range s.rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

// interval converts the virtual tick into a real wait.
func (s *Service) interval() time.Duration {
	scale := s.clock.Scale()
	if scale <= 0 {
		scale = 1
	}
	d := time.Duration(float64(s.tick) / scale)
	if d < minInterval {
		d = minInterval
	}
	return d
}

// Run ticks until ctx is done. A tick that is still running when the next one
// is due makes that next one a no-op.
func (s *Service) Run(ctx context.Context) {
	log.Printf("Starting reconciler for %d room(s), tick %s", len(s.rooms), s.tick)

	var wg sync.WaitGroup
	defer wg.Wait()

	// In-flight ticks are never cancelled.
	tickCtx := context.WithoutCancel(ctx)
	s.Tick(tickCtx)

	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reconciler shutting down.")
			return
		case <-timer.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Tick(tickCtx)
			}()
			timer.Reset(s.interval())
		}
	}
}

// Tick reconciles every room once at the current virtual time. It returns
// false when another tick was already running.
func (s *Service) Tick(ctx context.Context) bool {
	if !s.tickMu.TryLock() {
		log.Println("[reconcile] previous tick still running, skipping")
		return false
	}
	defer s.tickMu.Unlock()

	now := s.clock.Now()
	p := s.params.Get()

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, room := range s.rooms {
		room := room
		g.Go(func() error {
			st, err := s.reconcileRoom(ctx, room, now, p)
			if err != nil {
				log.Printf("[reconcile] room %s: %v (keeping previous status)", room, err)
				return nil
			}
			s.publish(st)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.lastTick = now
	s.lastRun = time.Now()
	s.mu.Unlock()
	return true
}

func (s *Service) reconcileRoom(ctx context.Context, room string, now time.Time, p params.StateParams) (model.RoomStatus, error) {
	people, err := s.sensor.PeopleCount(ctx, room)
	if err != nil {
		log.Printf("[reconcile] room %s: sensor read failed, assuming empty: %v", room, err)
		people = 0
	}
	reading := model.Reading{RoomID: room, PeopleCount: people, ObservedAt: now}

	active, err := s.reservations.ListActive(ctx, room)
	if err != nil {
		return model.RoomStatus{}, err
	}
	if err := store.CheckNoOverlap(active); err != nil {
		return model.RoomStatus{}, err
	}

	active, err = s.sweep(ctx, active, now, p, people)
	if err != nil {
		return model.RoomStatus{}, err
	}

	cand := store.SelectCurrent(active, now, p)
	if cand == nil && people > 0 {
		cand = overstayCandidate(active, now, p)
	}

	prev, _ := s.Status(room)
	st, d := Evaluate(now, reading, cand, p, prev)

	if err := s.apply(ctx, cand, d, now); err != nil {
		return model.RoomStatus{}, err
	}
	return st, nil
}

// sweep resolves ACTIVE reservations whose cleanup margin has passed and
// returns the ones that stay ACTIVE. A checked-in reservation is kept while the
// room is still occupied so it can be reported as an overstay.
func (s *Service) sweep(ctx context.Context, active []model.Reservation, now time.Time, p params.StateParams, people int) ([]model.Reservation, error) {
	var stale, kept []model.Reservation
	for _, r := range active {
		if now.After(r.EndTime.Add(p.CleanupMargin())) {
			stale = append(stale, r)
		} else {
			kept = append(kept, r)
		}
	}
	if len(stale) == 0 {
		return active, nil
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].EndTime.Before(stale[j].EndTime) })

	for i, r := range stale {
		switch {
		case r.CheckedInAt == nil:
			_, created, err := s.ledger.RecordNoShow(ctx, r.UserID, r.ID, now)
			if apperr.Is(err, apperr.InvalidState) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if created {
				log.Printf("[reconcile] room %s: reservation %s expired without arrival, recorded no-show", r.RoomID, r.ID)
			}
		case people > 0 && i == len(stale)-1:
			kept = append(kept, r)
		default:
			if err := s.reservations.Complete(ctx, r.ID); err != nil && !apperr.Is(err, apperr.InvalidState) {
				return nil, err
			}
		}
	}
	return kept, nil
}

// overstayCandidate is the latest checked-in reservation that ended beyond its
// cleanup margin.
func overstayCandidate(active []model.Reservation, now time.Time, p params.StateParams) *model.Reservation {
	var best *model.Reservation
	for i := range active {
		r := active[i]
		if r.CheckedInAt == nil || !now.After(r.EndTime.Add(p.CleanupMargin())) {
			continue
		}
		if best == nil || r.EndTime.After(best.EndTime) {
			cp := r
			best = &cp
		}
	}
	return best
}

func (s *Service) apply(ctx context.Context, cand *model.Reservation, d Decision, now time.Time) error {
	if cand == nil {
		return nil
	}
	if d.MarkCheckedIn {
		if err := s.reservations.MarkCheckedIn(ctx, cand.ID, now); err != nil {
			return err
		}
		log.Printf("[reconcile] room %s: check-in for reservation %s (user %s)", cand.RoomID, cand.ID, cand.UserID)
	}
	if d.RecordNoShow {
		_, created, err := s.ledger.RecordNoShow(ctx, cand.UserID, cand.ID, now)
		if err != nil {
			return err
		}
		if created {
			log.Printf("[reconcile] room %s: no-show for reservation %s (user %s)", cand.RoomID, cand.ID, cand.UserID)
		}
	}
	if d.Complete {
		if err := s.reservations.Complete(ctx, cand.ID); err != nil && !apperr.Is(err, apperr.InvalidState) {
			return err
		}
		log.Printf("[reconcile] room %s: reservation %s completed", cand.RoomID, cand.ID)
	}
	return nil
}

// publish stores st as the room's status and fans out changes.
func (s *Service) publish(st model.RoomStatus) {
	s.mu.Lock()
	prev, had := s.statuses[st.RoomID]
	s.statuses[st.RoomID] = st
	s.mu.Unlock()

	if had && prev.SameState(st) {
		return
	}
	log.Printf("[reconcile] room %s: %s -> %s (people=%d)", st.RoomID, prev.RoomState, st.RoomState, st.PeopleCount)

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(st)
	}
	if st.Alert && s.notifier != nil && !(had && sameAlert(prev, st)) {
		s.notifier.NotifyAlert(st)
	}
}

func sameAlert(a, b model.RoomStatus) bool {
	if !a.Alert || !b.Alert || a.AlertReason != b.AlertReason {
		return false
	}
	if a.ReservationID == nil || b.ReservationID == nil {
		return a.ReservationID == b.ReservationID
	}
	return *a.ReservationID == *b.ReservationID
}

// Status returns the latest published status of a room.
func (s *Service) Status(roomID string) (model.RoomStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[roomID]
	return st, ok
}

// Statuses returns the latest status of every reconciled room.
func (s *Service) Statuses() []model.RoomStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.RoomStatus, 0, len(s.statuses))
	for _, room := range s.rooms {
		if st, ok := s.statuses[room]; ok {
			out = append(out, st)
		}
	}
	return out
}

// LastTick returns the virtual time of the last completed tick and the wall
// time it finished at.
func (s *Service) LastTick() (virtual, wall time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick, s.lastRun
}

// Interval returns the current real wait between ticks.
func (s *Service) Interval() time.Duration { return s.interval() }
