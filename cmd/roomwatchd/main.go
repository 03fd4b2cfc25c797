package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/SherClockHolmes/webpush-go"

	"roomwatch-backend/config"
	"roomwatch-backend/internal/api"
	"roomwatch-backend/internal/clock"
	"roomwatch-backend/internal/db"
	"roomwatch-backend/internal/model"
	"roomwatch-backend/internal/notification"
	"roomwatch-backend/internal/params"
	"roomwatch-backend/internal/parse"
	"roomwatch-backend/internal/penalty"
	"roomwatch-backend/internal/reconcile"
	"roomwatch-backend/internal/sensor"
	"roomwatch-backend/internal/store"
	"roomwatch-backend/internal/websocket"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "roomwatch ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalf("%v", err)
	}

	clk, err := newClock(cfg.Clock, loc)
	if err != nil {
		logger.Fatalf("failed to configure clock: %v", err)
	}
	logger.Printf("clock %s, now %s", clk.Describe().Mode, clk.Now().Format(time.RFC3339))

	holder, err := params.NewHolder(params.StateParams{
		ArrivalWindowBeforeSec: *cfg.StateParams.ArrivalWindowBeforeSec,
		ArrivalWindowAfterSec:  *cfg.StateParams.ArrivalWindowAfterSec,
		GracePeriodSec:         *cfg.StateParams.GracePeriodSec,
		CleanupMarginSec:       *cfg.StateParams.CleanupMarginSec,
	})
	if err != nil {
		logger.Fatalf("invalid state_params: %v", err)
	}

	// Check for VAPID keys
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Println("VAPID keys are not configured; alerts will only be logged")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The store asks the ledger about bans, the ledger moves reservations to NO_SHOW.
	var ledger *penalty.Ledger
	bans := store.BanCheckerFunc(func(ctx context.Context, userID string, at time.Time) (model.PenaltyStatus, error) {
		return ledger.Status(ctx, userID, at)
	})
	appStore := store.NewGormStore(gormDB, clk, bans, store.Options{
		MinDuration: time.Duration(cfg.Reservation.MinDurationMinutes) * time.Minute,
		MaxDuration: time.Duration(cfg.Reservation.MaxDurationMinutes) * time.Minute,
		Buffer:      time.Duration(cfg.Reservation.BufferMinutes) * time.Minute,
	})
	ledger = penalty.NewLedger(gormDB, penalty.Config{
		WindowDays: cfg.Penalty.WindowDays,
		Threshold:  cfg.Penalty.Threshold,
		Points:     cfg.Penalty.PointsPerNoShow,
	}, appStore)
	logger.Println("data store initialized")

	provider, manual, err := newSensor(cfg.Sensor)
	if err != nil {
		logger.Fatalf("failed to configure sensor: %v", err)
	}
	logger.Printf("sensor %s ready", cfg.Sensor.Kind)

	// Notifications and live updates
	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
	workerPool.Start(ctx)

	hub := websocket.NewHub()
	go hub.Run(ctx)

	reconciler := reconcile.NewService(clk, holder, appStore, ledger, provider, reconcile.Options{
		Rooms:   cfg.Reconciler.Rooms,
		Tick:    cfg.Reconciler.Tick,
		Workers: cfg.Reconciler.Workers,
	})
	reconciler.SetNotifier(workerPool)
	reconciler.SetBroadcaster(websocket.NewRoomBroadcaster(hub))

	reconcileDone := make(chan struct{})
	go func() {
		defer close(reconcileDone)
		reconciler.Run(ctx)
	}()

	// Initialize router
	handler := api.NewHandler(api.Deps{
		Store:       appStore,
		Ledger:      ledger,
		Clock:       clk,
		Params:      holder,
		Reconciler:  reconciler,
		Manual:      manual,
		Hub:         hub,
		WebPush:     &webpushOptions,
		DefaultRoom: cfg.Reconciler.DefaultRoom,
	})
	router := api.NewRouter(handler, cfg.Server, cfg.DebugEnabled())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d (rooms %v, debug %t)", cfg.Server.Port, cfg.Reconciler.Rooms, cfg.DebugEnabled())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	cancel()
	select {
	case <-reconcileDone:
	case <-shutdownCtx.Done():
		logger.Println("reconciler did not stop in time")
	}

	logger.Println("Server gracefully stopped")
}

// newClock builds the virtual clock, switching it to simulated mode when configured.
func newClock(cfg config.ClockConfig, loc *time.Location) (*clock.Clock, error) {
	clk := clock.New(loc)
	if !cfg.Simulated {
		return clk, nil
	}
	var start *time.Time
	if cfg.Start != "" {
		t, err := parse.Timestamp(cfg.Start, loc)
		if err != nil {
			return nil, err
		}
		start = &t
	}
	if err := clk.SetSimulated(cfg.Scale, start); err != nil {
		return nil, err
	}
	return clk, nil
}

// newSensor returns the configured provider. The manual provider is also
// returned on its own so the debug API can feed it.
func newSensor(cfg config.SensorConfig) (sensor.Provider, *sensor.Manual, error) {
	var (
		inner  sensor.Provider
		manual *sensor.Manual
	)
	switch cfg.Kind {
	case "manual":
		manual = sensor.NewManual()
		inner = manual
	case "camera":
		camera, err := sensor.NewCamera(cfg.Camera)
		if err != nil {
			return nil, nil, err
		}
		inner = camera
	default:
		return nil, nil, fmt.Errorf("unknown sensor kind %q", cfg.Kind)
	}
	return sensor.NewSmoother(inner, cfg.Smoothing.HistoryLen, cfg.Smoothing.Majority), manual, nil
}
