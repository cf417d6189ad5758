package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/overseer-dev/overseer/internal/adapter/githubboard"
	ovhttp "github.com/overseer-dev/overseer/internal/adapter/http"
	ovnats "github.com/overseer-dev/overseer/internal/adapter/nats"
	oteladapter "github.com/overseer-dev/overseer/internal/adapter/otel"
	"github.com/overseer-dev/overseer/internal/adapter/postgres"
	"github.com/overseer-dev/overseer/internal/adapter/ristretto"
	"github.com/overseer-dev/overseer/internal/adapter/telegram"
	"github.com/overseer-dev/overseer/internal/adapter/ws"
	"github.com/overseer-dev/overseer/internal/boardsync"
	"github.com/overseer-dev/overseer/internal/bus"
	"github.com/overseer-dev/overseer/internal/config"
	"github.com/overseer-dev/overseer/internal/logger"
	"github.com/overseer-dev/overseer/internal/port/boardprovider"
	"github.com/overseer-dev/overseer/internal/port/notifier"
	"github.com/overseer-dev/overseer/internal/recovery"
	"github.com/overseer-dev/overseer/internal/resilience"
	"github.com/overseer-dev/overseer/internal/service"
	"github.com/overseer-dev/overseer/internal/statefile"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer func() { logCloser.Close() }()

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"sync_mode", cfg.Sync.Mode,
	)

	ctx := context.Background()

	// --- Telemetry ---
	if cfg.Telemetry.Enabled {
		shutdown, err := oteladapter.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}
	metrics, err := oteladapter.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	store := postgres.NewStore(pool)

	// --- Notifications ---
	var notifiers []notifier.Notifier
	if cfg.Telegram.Token != "" {
		notifiers = append(notifiers, telegram.NewNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID))
	}
	notifySvc := service.NewNotificationService(notifiers, nil)

	// --- Event bus ---
	hub := ws.NewHub()
	tracker := recovery.NewTracker(recovery.Config{
		WorkflowRetries:   cfg.Recovery.WorkflowRetries,
		SandboxRetries:    cfg.Recovery.SandboxRetries,
		GenericCeiling:    cfg.Recovery.GenericCeiling,
		RateLimitCooldown: cfg.Recovery.RateLimitCooldown,
		TransientCooldown: cfg.Recovery.TransientCooldown,
	})
	eventBus := bus.New(bus.Config{
		RingCapacity:   cfg.Bus.RingCapacity,
		DedupWindow:    cfg.Bus.DedupWindow,
		StaleThreshold: cfg.Bus.StaleThreshold,
		SweepInterval:  cfg.Bus.SweepInterval,
	}, tracker, store, hub, notifySvc)
	eventBus.Start()
	defer eventBus.Stop()

	eventBus.AddListener(metrics.EventListener())
	if err := oteladapter.RegisterDedupObserver(func() int64 {
		return int64(eventBus.Status().Deduped)
	}); err != nil {
		return fmt.Errorf("dedup observer: %w", err)
	}

	// NATS (optional): republish recorded events for external consumers.
	if cfg.NATS.URL != "" {
		queue, err := ovnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		unsub := eventBus.AddListener(ovnats.NewRepublisher(queue).Listener())
		defer unsub()
	}

	// --- Supervisor ---
	supervisor := service.NewSupervisor(eventBus, store, service.SupervisorOptions{})
	supervisor.Start()
	defer supervisor.Stop()

	// --- Board sync ---
	var scheduler *service.Scheduler
	var backoff *boardsync.Backoff
	var breaker *resilience.Breaker
	if cfg.GitHub.Repo != "" {
		if err := os.MkdirAll(cfg.Sync.StateDir, 0o755); err != nil {
			return fmt.Errorf("state dir: %w", err)
		}
		backoff = boardsync.NewBackoff(statefile.New(filepath.Join(cfg.Sync.StateDir, "backoff.json")))
		breaker = resilience.NewPersistedBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
			statefile.New(filepath.Join(cfg.Sync.StateDir, "breaker.json")))

		mode := boardsync.ResolveMode(cfg.Sync.Mode, "")
		boardID := boardsync.ResolveBoardID(cfg.Sync.BoardID, "")

		// The provider reads the current owner through the engine so
		// owner rotation applies to the next gh call.
		var engine *boardsync.Engine
		provider, err := githubboard.New(cfg.GitHub, mode, boardID, func() string {
			if engine == nil {
				return ""
			}
			return engine.CurrentOwner()
		})
		if err != nil {
			return fmt.Errorf("board provider: %w", err)
		}

		itemCache, err := ristretto.New(16 << 20) // 16 MiB of board items
		if err != nil {
			return fmt.Errorf("item cache: %w", err)
		}
		defer itemCache.Close()

		engine = boardsync.New(store, provider, backoff, itemCache, boardsync.Options{
			Mode:    mode,
			BoardID: boardID,
			Owners:  cfg.Sync.Owners,
			Stale:   service.StaleChecker(eventBus),
		})

		scheduler = service.NewScheduler(engine, cfg.Sync.Interval, string(mode), boardID, metrics)
		scheduler.SetBreaker(breaker)
		scheduler.Start()
		defer scheduler.Stop()
	} else {
		slog.Info("board sync disabled: no github repo configured")
	}

	// --- HTTP ---
	handlers := &ovhttp.Handlers{
		Bus:        eventBus,
		Store:      store,
		Supervisor: supervisor,
		Scheduler:  scheduler,
		Backoff:    backoff,
		Breaker:    breaker,
	}

	r := chi.NewRouter()

	r.Use(ovhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(ovhttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(oteladapter.HTTPMiddleware(cfg.Logging.Service))

	r.Get("/health", healthHandler(cfg))
	r.Get("/ws", hub.HandleWS)
	ovhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler returns an http.HandlerFunc that reports service health.
func healthHandler(cfg *config.Config) http.HandlerFunc {
	type healthStatus struct {
		Status   string             `json:"status"`
		SyncMode boardprovider.Mode `json:"sync_mode"`
		NATS     bool               `json:"nats"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:   "ok",
			SyncMode: boardsync.ResolveMode(cfg.Sync.Mode, ""),
			NATS:     cfg.NATS.URL != "",
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
