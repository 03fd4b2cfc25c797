package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "Asia/Tokyo", cfg.Clock.Timezone)
	assert.Equal(t, 5*time.Second, cfg.Reconciler.Tick)
	assert.Equal(t, []string{"R-0001"}, cfg.Reconciler.Rooms)
	assert.Equal(t, "R-0001", cfg.Reconciler.DefaultRoom)
	assert.Equal(t, 600, *cfg.StateParams.ArrivalWindowBeforeSec)
	assert.Equal(t, 900, *cfg.StateParams.ArrivalWindowAfterSec)
	assert.Equal(t, 30, cfg.Penalty.WindowDays)
	assert.Equal(t, 3, cfg.Penalty.Threshold)
	assert.Equal(t, 1, cfg.Penalty.PointsPerNoShow)
	assert.Equal(t, "manual", cfg.Sensor.Kind)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.True(t, cfg.DebugEnabled())
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  debug_enabled: false
reconciler:
  tick_seconds: 2
  rooms: ["A", "B"]
state_params:
  grace_period_sec: 0
penalty:
  window_days: 7
sensor:
  smoothing:
    history_len: 6
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.DebugEnabled())
	assert.Equal(t, 2*time.Second, cfg.Reconciler.Tick)
	assert.Equal(t, "A", cfg.Reconciler.DefaultRoom)
	assert.Equal(t, 0, *cfg.StateParams.GracePeriodSec, "explicit zero is kept")
	assert.Equal(t, 7, cfg.Penalty.WindowDays)
	assert.Equal(t, 4, cfg.Sensor.Smoothing.Majority)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "penalty:\n  threshold: 5\n")
	t.Setenv("PENALTY_BAN_THRESHOLD", "2")
	t.Setenv("ROOMWATCH_DB_DRIVER", "postgres")
	t.Setenv("ROOMWATCH_DB_DSN", "host=db user=rw")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Penalty.Threshold)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "host=db user=rw", cfg.Database.DSN)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_DefaultRoomIsReconciled(t *testing.T) {
	path := writeConfig(t, "reconciler:\n  rooms: [\"A\", \"B\"]\n  default_room: C\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "C", cfg.Reconciler.DefaultRoom)
	assert.Equal(t, []string{"A", "B", "C"}, cfg.Reconciler.Rooms)

	t.Setenv("ROOMWATCH_ROOM_ID", "B")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "B", cfg.Reconciler.DefaultRoom)
	assert.Equal(t, []string{"A", "B"}, cfg.Reconciler.Rooms)
}
