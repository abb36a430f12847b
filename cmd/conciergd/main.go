package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	chttp "github.com/conciergeos/concierge/internal/adapter/http"
	"github.com/conciergeos/concierge/internal/adapter/llmproxy"
	cmcp "github.com/conciergeos/concierge/internal/adapter/mcp"
	cnats "github.com/conciergeos/concierge/internal/adapter/nats"
	"github.com/conciergeos/concierge/internal/adapter/natskv"
	"github.com/conciergeos/concierge/internal/adapter/otel"
	"github.com/conciergeos/concierge/internal/adapter/postgres"
	"github.com/conciergeos/concierge/internal/adapter/ristretto"
	"github.com/conciergeos/concierge/internal/adapter/tiered"
	"github.com/conciergeos/concierge/internal/adapter/ws"
	"github.com/conciergeos/concierge/internal/config"
	"github.com/conciergeos/concierge/internal/domain/autonomy"
	"github.com/conciergeos/concierge/internal/executors/comms"
	"github.com/conciergeos/concierge/internal/executors/home"
	"github.com/conciergeos/concierge/internal/executors/system"
	"github.com/conciergeos/concierge/internal/executors/timers"
	"github.com/conciergeos/concierge/internal/logger"
	"github.com/conciergeos/concierge/internal/middleware"
	"github.com/conciergeos/concierge/internal/resilience"
	"github.com/conciergeos/concierge/internal/sandbox"
	"github.com/conciergeos/concierge/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"mcp_enabled", cfg.MCP.Enabled,
		"telemetry_enabled", cfg.Telemetry.Enabled,
	)

	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := otel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
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

	queue, err := cnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	local, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer local.Close()

	// Two tiers: in-process ristretto in front, JetStream KV behind it so
	// other concierge nodes share rendered state.
	kv, err := queue.KeyValue(ctx, "CONCIERGE_CACHE", cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("cache kv: %w", err)
	}
	sharedCache := tiered.New(local, natskv.New(kv), time.Minute)

	store := postgres.NewStore(pool)

	// --- Services ---
	audit := service.NewAuditService(store, queue)

	registry := service.NewExecutorRegistry(store, audit)
	registry.SetMetrics(metrics)

	engine := service.NewAutonomyEngine(store, cfg.Autonomy)
	rules, err := autonomy.LoadRulesFromDirectory(cfg.Autonomy.RulesDir)
	if err != nil {
		return fmt.Errorf("autonomy rules: %w", err)
	}
	for _, rule := range rules {
		engine.SetOverride(rule.Action, rule.Level)
		slog.Info("autonomy override", "action", rule.Action, "level", rule.Level)
	}

	manager := service.NewConfirmationManager(cfg.Confirmation.DefaultExpiry, cfg.Confirmation.SweepInterval, audit)
	manager.SetMetrics(metrics)
	manager.Start(ctx)
	defer manager.Stop()

	// --- Executors ---
	sb := sandbox.New(cfg.Sandbox, audit)
	sb.SetMetrics(metrics)
	defer sb.KillAll()

	timerExec := timers.New(store, queue)
	defer timerExec.StopAll()

	registry.Register(system.New(sb))
	registry.Register(home.New(cfg.Home))
	registry.Register(comms.New(cfg.Comms))
	registry.Register(timerExec)

	if err := timerExec.Restore(ctx, ""); err != nil {
		slog.Warn("timer restore failed", "error", err)
	}

	// --- Pipeline ---
	provider := llmproxy.New(cfg.LLM)
	provider.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	pipeline := service.NewPipeline(registry, engine, manager, provider, sharedCache, queue, audit)
	pipeline.SetMetrics(metrics)

	// --- Realtime ---
	hub := ws.NewHub()
	forwarder := ws.NewForwarder(hub, queue)
	if err := forwarder.Start(ctx); err != nil {
		return fmt.Errorf("event forwarder: %w", err)
	}
	defer forwarder.Stop()

	// --- MCP ---
	if cfg.MCP.Enabled {
		mcpSrv := cmcp.NewServer(cmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "concierge",
			Version: "0.1.0",
			APIKey:  cfg.MCP.APIKey,
		}, cmcp.ServerDeps{
			Catalog:   registry,
			Simulator: registry,
			Audit:     store,
		})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(stopCtx)
		}()
	}

	// --- HTTP ---
	checks := map[string]chttp.HealthCheck{
		"postgres": pingCheck(pool),
		"nats": func(context.Context) error {
			if !queue.Healthy() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		},
		"llm": func(ctx context.Context) error {
			if !provider.HealthCheck(ctx) {
				return fmt.Errorf("llm proxy unreachable")
			}
			return nil
		},
	}

	handlers := chttp.NewHandlers(pipeline, registry, http.HandlerFunc(hub.HandleWS), checks)

	r := chi.NewRouter()
	r.Use(chttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(chttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	if cfg.Telemetry.Enabled {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}

	limiter := middleware.NewRateLimiter(20, 40)
	r.Use(limiter.Handler)

	chttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func pingCheck(pool *pgxpool.Pool) chttp.HealthCheck {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}
