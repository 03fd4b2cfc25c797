package clock

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomwatch-backend/internal/apperr"
)

// fakeWall is a manually advanced wall clock.
type fakeWall struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeWall) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeWall) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

var jst = time.FixedZone("JST", 9*60*60)

func newTestClock() (*Clock, *fakeWall) {
	wall := &fakeWall{now: time.Date(2025, 11, 29, 9, 0, 0, 0, jst)}
	return New(jst, WithWallClock(wall.Now)), wall
}

func TestClock_RealModeFollowsWall(t *testing.T) {
	c, wall := newTestClock()
	assert.True(t, c.Now().Equal(wall.Now()))

	wall.Advance(90 * time.Second)
	assert.True(t, c.Now().Equal(wall.Now()))
	assert.Equal(t, 1.0, c.Scale())
}

func TestClock_SimulatedScale(t *testing.T) {
	c, wall := newTestClock()
	require.NoError(t, c.SetSimulated(2.0, nil))

	before := c.Now()
	wall.Advance(10 * time.Second)
	after := c.Now()

	assert.Equal(t, 20*time.Second, after.Sub(before))
	assert.Equal(t, 2.0, c.Scale())
}

func TestClock_SwitchesAreContinuous(t *testing.T) {
	c, wall := newTestClock()
	require.NoError(t, c.SetSimulated(3.0, nil))
	wall.Advance(time.Minute)

	justBefore := c.Now()
	require.NoError(t, c.SetSimulated(0.5, nil))
	assert.True(t, c.Now().Equal(justBefore), "changing scale must not jump")

	wall.Advance(10 * time.Second)
	assert.Equal(t, 5*time.Second, c.Now().Sub(justBefore))
}

func TestClock_Override(t *testing.T) {
	c, wall := newTestClock()
	origin := time.Date(2025, 12, 1, 8, 55, 0, 0, jst)
	require.NoError(t, c.SetSimulated(60, &origin))
	assert.True(t, c.Now().Equal(origin))

	wall.Advance(5 * time.Second)
	assert.True(t, c.Now().Equal(origin.Add(5*time.Minute)))

	status := c.Describe()
	assert.True(t, status.UseSimulated)
	assert.Equal(t, ModeSimulated, status.Mode)
	assert.True(t, status.BaseSim.Equal(origin))
	assert.True(t, status.SystemNow.Equal(wall.Now()))
}

func TestClock_SetRealReturnsToWall(t *testing.T) {
	c, wall := newTestClock()
	origin := time.Date(2030, 1, 1, 0, 0, 0, 0, jst)
	require.NoError(t, c.SetSimulated(10, &origin))
	wall.Advance(time.Second)

	c.SetReal()
	assert.True(t, c.Now().Equal(wall.Now()))
	assert.False(t, c.Describe().UseSimulated)
	assert.Equal(t, 1.0, c.Describe().Scale)
}

func TestClock_InvalidScale(t *testing.T) {
	c, _ := newTestClock()
	for _, scale := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1), MaxScale * 2, 1e12} {
		err := c.SetSimulated(scale, nil)
		assert.True(t, apperr.Is(err, apperr.InvalidArgument), "scale %v", scale)
	}
	assert.False(t, c.Describe().UseSimulated)

	require.NoError(t, c.SetSimulated(MaxScale, nil))
	assert.Equal(t, MaxScale, c.Scale())
}

func TestClock_LargeElapsedSaturates(t *testing.T) {
	c, wall := newTestClock()
	origin := c.Now()
	require.NoError(t, c.SetSimulated(MaxScale, nil))

	wall.Advance(10 * time.Second)
	assert.Equal(t, 10*time.Second*time.Duration(MaxScale), c.Now().Sub(origin))

	// A year of wall time at MaxScale is past what a Duration holds.
	var prev time.Time
	for _, step := range []time.Duration{24 * time.Hour, 365 * 24 * time.Hour, 365 * 24 * time.Hour} {
		wall.Advance(step)
		now := c.Now()
		assert.True(t, now.After(origin), "virtual time went back to %s", now)
		assert.False(t, now.Before(prev), "virtual time went back to %s", now)
		prev = now
	}
	assert.Equal(t, time.Duration(math.MaxInt64), c.Now().Sub(origin))
}
