package config

import (
	"fmt"
	"log"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Clock       ClockConfig       `yaml:"clock"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
	StateParams StateParamsConfig `yaml:"state_params"`
	Reservation ReservationConfig `yaml:"reservation"`
	Penalty     PenaltyConfig     `yaml:"penalty"`
	Sensor      SensorConfig      `yaml:"sensor"`
	Push        PushConfig        `yaml:"push"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port" env:"ROOMWATCH_PORT"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	DebugEnabled    *bool   `yaml:"debug_enabled" env:"ROOMWATCH_DEBUG"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver" env:"ROOMWATCH_DB_DRIVER"`
	DSN                    string `yaml:"dsn" env:"ROOMWATCH_DB_DSN"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"`
}

// ClockConfig configures the virtual clock at process start.
type ClockConfig struct {
	Timezone  string  `yaml:"timezone" env:"ROOMWATCH_TIMEZONE"`
	Simulated bool    `yaml:"simulated" env:"ROOMWATCH_CLOCK_SIMULATED"`
	Scale     float64 `yaml:"scale" env:"ROOMWATCH_CLOCK_SCALE"`
	Start     string  `yaml:"start"` // RFC3339, optional
}

// ReconcilerConfig controls the tick loop.
type ReconcilerConfig struct {
	TickSeconds int           `yaml:"tick_seconds"`
	Tick        time.Duration `yaml:"-"` // Virtual time between ticks
	Workers     int           `yaml:"workers"`
	Rooms       []string      `yaml:"rooms"`
	DefaultRoom string        `yaml:"default_room" env:"ROOMWATCH_ROOM_ID"`
}

// StateParamsConfig is the initial set of reconciliation tolerances.
type StateParamsConfig struct {
	ArrivalWindowBeforeSec *int `yaml:"arrival_window_before_sec"`
	ArrivalWindowAfterSec  *int `yaml:"arrival_window_after_sec"`
	GracePeriodSec         *int `yaml:"grace_period_sec"`
	CleanupMarginSec       *int `yaml:"cleanup_margin_sec"`
}

// ReservationConfig bounds what can be booked.
type ReservationConfig struct {
	MinDurationMinutes int `yaml:"min_duration_minutes"`
	MaxDurationMinutes int `yaml:"max_duration_minutes"`
	BufferMinutes      int `yaml:"buffer_minutes"`
}

// PenaltyConfig controls the no-show ban policy.
type PenaltyConfig struct {
	WindowDays      int `yaml:"window_days" env:"PENALTY_WINDOW_DAYS"`
	Threshold       int `yaml:"threshold" env:"PENALTY_BAN_THRESHOLD"`
	PointsPerNoShow int `yaml:"points_per_no_show"`
}

// SensorConfig selects and configures the people-count source.
type SensorConfig struct {
	Kind      string          `yaml:"kind" env:"ROOMWATCH_SENSOR"`
	Camera    CameraConfig    `yaml:"camera"`
	Smoothing SmoothingConfig `yaml:"smoothing"`
}

// CameraConfig holds the AI camera inference API settings.
type CameraConfig struct {
	URL            string            `yaml:"url" env:"CONSOLE_ENDPOINT"`
	TokenURL       string            `yaml:"token_url" env:"AUTH_ENDPOINT"`
	ClientID       string            `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret   string            `yaml:"client_secret" env:"CLIENT_SECRET"`
	DeviceID       string            `yaml:"device_id" env:"DEVICE_ID"`
	PersonClass    int               `yaml:"person_class"`
	HTTPProxy      string            `yaml:"http_proxy"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// SmoothingConfig enables majority-vote smoothing of readings. HistoryLen 0 disables it.
type SmoothingConfig struct {
	HistoryLen int `yaml:"history_len"`
	Majority   int `yaml:"majority"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key" env:"VAPID_PUBLIC_KEY"`
	PrivateKey string `yaml:"vapid_private_key" env:"VAPID_PRIVATE_KEY"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path. A missing file is not an
// error: defaults and environment variables are used instead.
func Load(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case os.IsNotExist(err):
		log.Printf("config file %s not found; using defaults", path)
	default:
		return nil, err
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func intPtr(v int) *int { return &v }

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 1
	}
	if cfg.Server.DebugEnabled == nil {
		enabled := true
		cfg.Server.DebugEnabled = &enabled
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "data/roomwatch.db"
	}

	if cfg.Clock.Timezone == "" {
		cfg.Clock.Timezone = "Asia/Tokyo"
	}
	if cfg.Clock.Scale <= 0 {
		cfg.Clock.Scale = 1.0
	}

	if cfg.Reconciler.TickSeconds <= 0 {
		cfg.Reconciler.TickSeconds = 5
	}
	cfg.Reconciler.Tick = time.Duration(cfg.Reconciler.TickSeconds) * time.Second
	if cfg.Reconciler.Workers <= 0 {
		cfg.Reconciler.Workers = 4
	}
	if len(cfg.Reconciler.Rooms) == 0 {
		if cfg.Reconciler.DefaultRoom != "" {
			cfg.Reconciler.Rooms = []string{cfg.Reconciler.DefaultRoom}
		} else {
			cfg.Reconciler.Rooms = []string{"R-0001"}
		}
	}
	if cfg.Reconciler.DefaultRoom == "" {
		cfg.Reconciler.DefaultRoom = cfg.Reconciler.Rooms[0]
	}
	if !slices.Contains(cfg.Reconciler.Rooms, cfg.Reconciler.DefaultRoom) {
		log.Printf("default_room %s is not in reconciler.rooms; adding it", cfg.Reconciler.DefaultRoom)
		cfg.Reconciler.Rooms = append(cfg.Reconciler.Rooms, cfg.Reconciler.DefaultRoom)
	}

	if cfg.StateParams.ArrivalWindowBeforeSec == nil {
		cfg.StateParams.ArrivalWindowBeforeSec = intPtr(10 * 60)
	}
	if cfg.StateParams.ArrivalWindowAfterSec == nil {
		cfg.StateParams.ArrivalWindowAfterSec = intPtr(15 * 60)
	}
	if cfg.StateParams.GracePeriodSec == nil {
		cfg.StateParams.GracePeriodSec = intPtr(7 * 60)
	}
	if cfg.StateParams.CleanupMarginSec == nil {
		cfg.StateParams.CleanupMarginSec = intPtr(5 * 60)
	}

	if cfg.Reservation.MinDurationMinutes <= 0 {
		cfg.Reservation.MinDurationMinutes = 10
	}
	if cfg.Reservation.MaxDurationMinutes <= 0 {
		cfg.Reservation.MaxDurationMinutes = 240
	}
	if cfg.Reservation.BufferMinutes < 0 {
		cfg.Reservation.BufferMinutes = 0
	}

	if cfg.Penalty.WindowDays <= 0 {
		cfg.Penalty.WindowDays = 30
	}
	if cfg.Penalty.Threshold <= 0 {
		cfg.Penalty.Threshold = 3
	}
	if cfg.Penalty.PointsPerNoShow <= 0 {
		cfg.Penalty.PointsPerNoShow = 1
	}

	if cfg.Sensor.Kind == "" {
		cfg.Sensor.Kind = "manual"
	}
	if cfg.Sensor.Camera.TimeoutSeconds <= 0 {
		cfg.Sensor.Camera.TimeoutSeconds = 10
	}
	if cfg.Sensor.Smoothing.HistoryLen > 0 && cfg.Sensor.Smoothing.Majority <= 0 {
		cfg.Sensor.Smoothing.Majority = cfg.Sensor.Smoothing.HistoryLen/2 + 1
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
}

// Location loads the configured time zone.
func (cfg *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(cfg.Clock.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Clock.Timezone, err)
	}
	return loc, nil
}

// DebugEnabled reports whether the /debug routes are mounted.
func (cfg *Config) DebugEnabled() bool {
	return cfg.Server.DebugEnabled != nil && *cfg.Server.DebugEnabled
}
