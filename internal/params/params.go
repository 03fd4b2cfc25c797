// Package params holds the tunable tolerances the reconciler reads on every tick.
package params

import (
	"sync"
	"time"

	"roomwatch-backend/internal/apperr"
)

// StateParams are the tolerances around a reservation's start and end.
type StateParams struct {
	ArrivalWindowBeforeSec int `json:"arrival_window_before_sec"`
	ArrivalWindowAfterSec  int `json:"arrival_window_after_sec"`
	GracePeriodSec         int `json:"grace_period_sec"`
	CleanupMarginSec       int `json:"cleanup_margin_sec"`
}

func (p StateParams) ArrivalWindowBefore() time.Duration {
	return time.Duration(p.ArrivalWindowBeforeSec) * time.Second
}

func (p StateParams) ArrivalWindowAfter() time.Duration {
	return time.Duration(p.ArrivalWindowAfterSec) * time.Second
}

func (p StateParams) GracePeriod() time.Duration {
	return time.Duration(p.GracePeriodSec) * time.Second
}

func (p StateParams) CleanupMargin() time.Duration {
	return time.Duration(p.CleanupMarginSec) * time.Second
}

// Validate rejects negative tolerances.
func (p StateParams) Validate() error {
	fields := map[string]int{
		"arrival_window_before_sec": p.ArrivalWindowBeforeSec,
		"arrival_window_after_sec":  p.ArrivalWindowAfterSec,
		"grace_period_sec":          p.GracePeriodSec,
		"cleanup_margin_sec":        p.CleanupMarginSec,
	}
	for name, v := range fields {
		if v < 0 {
			return apperr.New(apperr.InvalidArgument, "%s must be >= 0, got %d", name, v)
		}
	}
	return nil
}

// Update is a partial change. Nil fields keep their current value.
type Update struct {
	ArrivalWindowBeforeSec *int `json:"arrival_window_before_sec"`
	ArrivalWindowAfterSec  *int `json:"arrival_window_after_sec"`
	GracePeriodSec         *int `json:"grace_period_sec"`
	CleanupMarginSec       *int `json:"cleanup_margin_sec"`
}

// Holder is the process-wide StateParams. It only ever holds a valid value.
type Holder struct {
	mu      sync.RWMutex
	current StateParams
}

// NewHolder validates initial and returns a holder for it.
func NewHolder(initial StateParams) (*Holder, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Holder{current: initial}, nil
}

// Get returns the last known good parameters.
func (h *Holder) Get() StateParams {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Apply merges u onto the current value. An invalid result is rejected and the
// current value is kept.
func (h *Holder) Apply(u Update) (StateParams, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.current
	if u.ArrivalWindowBeforeSec != nil {
		next.ArrivalWindowBeforeSec = *u.ArrivalWindowBeforeSec
	}
	if u.ArrivalWindowAfterSec != nil {
		next.ArrivalWindowAfterSec = *u.ArrivalWindowAfterSec
	}
	if u.GracePeriodSec != nil {
		next.GracePeriodSec = *u.GracePeriodSec
	}
	if u.CleanupMarginSec != nil {
		next.CleanupMarginSec = *u.CleanupMarginSec
	}
	if err := next.Validate(); err != nil {
		return h.current, err
	}
	h.current = next
	return next, nil
}
