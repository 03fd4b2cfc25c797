// Package clock provides the process-wide time source. In simulated mode the
// clock runs at a configurable multiple of wall time from an arbitrary origin,
// which lets arrival windows and penalty windows be exercised at accelerated speed.
package clock

import (
	"math"
	"sync"
	"time"

	"roomwatch-backend/internal/apperr"
)

// Mode is the clock's operating mode.
type Mode string

const (
	ModeReal      Mode = "real"
	ModeSimulated Mode = "simulated"
)

// MaxScale is the fastest a simulated clock may run.
const MaxScale = 1e6

// Clock is a virtual clock. The zero value is not usable; use New.
type Clock struct {
	mu       sync.RWMutex
	wall     func() time.Time
	loc      *time.Location
	mode     Mode
	scale    float64
	baseReal time.Time
	baseSim  time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithWallClock replaces the wall clock source. Intended for tests.
func WithWallClock(wall func() time.Time) Option {
	return func(c *Clock) { c.wall = wall }
}

// New returns a clock in real mode that reports times in loc.
func New(loc *time.Location, opts ...Option) *Clock {
	if loc == nil {
		loc = time.Local
	}
	c := &Clock{
		wall:  time.Now,
		loc:   loc,
		mode:  ModeReal,
		scale: 1.0,
	}
	for _, opt := range opts {
		opt(c)
	}
	wallNow := c.wall()
	c.baseReal = wallNow
	c.baseSim = wallNow
	return c
}

// Location returns the zone used for reported times.
func (c *Clock) Location() *time.Location { return c.loc }

// Now returns the current virtual time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.at(c.wall())
}

// at must be called with mu held.
func (c *Clock) at(wallNow time.Time) time.Time {
	if c.mode != ModeSimulated {
		return wallNow.In(c.loc)
	}
	elapsed := float64(wallNow.Sub(c.baseReal)) * c.scale
	// Saturate instead of letting the Duration conversion wrap.
	var d time.Duration
	switch {
	case elapsed >= math.MaxInt64:
		d = time.Duration(math.MaxInt64)
	case elapsed <= math.MinInt64:
		d = time.Duration(math.MinInt64)
	default:
		d = time.Duration(elapsed)
	}
	return c.baseSim.Add(d).In(c.loc)
}

// Scale returns the current speed multiplier (1 in real mode).
func (c *Clock) Scale() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.mode != ModeSimulated {
		return 1.0
	}
	return c.scale
}

// SetReal switches to wall time.
func (c *Clock) SetReal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	wallNow := c.wall()
	c.baseSim = c.at(wallNow)
	c.baseReal = wallNow
	c.mode = ModeReal
	c.scale = 1.0
}

// SetSimulated switches to simulated mode running at scale. When override is nil
// the simulated origin is the clock's own value at the moment of the switch.
func (c *Clock) SetSimulated(scale float64, override *time.Time) error {
	if math.IsNaN(scale) || scale <= 0 || scale > MaxScale {
		return apperr.New(apperr.InvalidArgument, "scale must be in (0, %g], got %v", MaxScale, scale)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	wallNow := c.wall()
	if override != nil {
		c.baseSim = override.In(c.loc)
	} else {
		c.baseSim = c.at(wallNow)
	}
	c.baseReal = wallNow
	c.mode = ModeSimulated
	c.scale = scale
	return nil
}

// Status is a diagnostic snapshot of the clock.
type Status struct {
	Mode         Mode      `json:"mode"`
	UseSimulated bool      `json:"use_simulated"`
	Scale        float64   `json:"scale"`
	SystemNow    time.Time `json:"system_now"`
	CurrentNow   time.Time `json:"current_now"`
	BaseReal     time.Time `json:"base_real"`
	BaseSim      time.Time `json:"base_sim"`
}

// Describe returns the clock's current state.
func (c *Clock) Describe() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wallNow := c.wall()
	scale := c.scale
	if c.mode != ModeSimulated {
		scale = 1.0
	}
	return Status{
		Mode:         c.mode,
		UseSimulated: c.mode == ModeSimulated,
		Scale:        scale,
		SystemNow:    wallNow.In(c.loc),
		CurrentNow:   c.at(wallNow),
		BaseReal:     c.baseReal.In(c.loc),
		BaseSim:      c.baseSim.In(c.loc),
	}
}
