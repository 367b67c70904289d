package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicedash/internal/audit"
	"voicedash/internal/auth"
	"voicedash/internal/backend"
	"voicedash/internal/config"
	"voicedash/internal/connmon"
	"voicedash/internal/events"
	"voicedash/internal/eventsource"
	"voicedash/internal/httpapi"
	"voicedash/internal/reconcile"
	"voicedash/internal/reporting"
	"voicedash/internal/store"
	"voicedash/pkg/logger"
	"voicedash/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// reconnectorFunc adapts a closure to connmon.Reconnector so the monitor
// can be built before the stream transport exists.
type reconnectorFunc func(ctx context.Context) error

func (f reconnectorFunc) Reconnect(ctx context.Context) error { return f(ctx) }

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	callStore := store.NewCallStore(db)
	if err := callStore.EnsureSchema(rootCtx); err != nil {
		log.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Token:   cfg.Backend.Token,
		Timeout: cfg.Backend.Timeout,
	})
	if err != nil {
		log.Error("backend client init failed", "err", err)
		os.Exit(1)
	}

	anomalies := audit.NewService(audit.NewMemoryRepo(), logger.Component(log, "audit"))

	var limiter httpapi.CallLimiter
	if cfg.Calls.MaxConcurrent > 0 {
		limiter = &httpapi.RedisCallLimiter{RDB: rdb, Limit: cfg.Calls.MaxConcurrent}
	}
	dials := httpapi.NewDialLedger(limiter)

	// Stream transport, quality monitor and reconciler reference each
	// other; the closures below break the construction cycle.
	var stream eventsource.Source
	var reconciler *reconcile.Reconciler

	monitor := connmon.New(connmon.Thresholds{
		Excellent:    cfg.Quality.ExcellentBelow,
		Good:         cfg.Quality.GoodBelow,
		Poor:         cfg.Quality.PoorBelow,
		SampleWindow: cfg.Quality.SampleWindow,
	}, reconnectorFunc(func(ctx context.Context) error {
		return stream.Reconnect(ctx)
	}), logger.Component(log, "connmon"))

	handler := func(ev events.Event) {
		reconciler.Apply(rootCtx, ev)
	}

	switch cfg.Stream.Transport {
	case config.TransportRedis:
		stream = eventsource.NewRedisSource(rdb, handler, monitor, cfg.Stream.PingInterval,
			logger.Component(log, "stream"))
	default:
		stream = eventsource.NewClient(eventsource.Config{
			URL:           cfg.Stream.URL,
			Token:         cfg.Stream.Token,
			PingInterval:  cfg.Stream.PingInterval,
			RetryInterval: cfg.Stream.RetryInterval,
			MaxRetries:    cfg.Stream.MaxRetries,
		}, handler, monitor, logger.Component(log, "stream"))
	}

	reconciler = reconcile.New(reconcile.Config{
		WorkspaceID:         cfg.App.WorkspaceID,
		OnRetire:            dials.OnRetire,
		PollInterval:        cfg.Reconcile.PollInterval,
		InactivityThreshold: cfg.Reconcile.InactivityThreshold,
		RecentLimit:         cfg.Reconcile.RecentLimit,
	}, stream, backendClient, anomalies, callStore, logger.Component(log, "reconcile"))

	// Freeze the view while disconnected; resync it on every reconnect so
	// missed events are recovered by a full refresh.
	monitor.OnStateChange(func(s connmon.State) {
		connected := s == connmon.StateConnected
		reconciler.SetConnected(connected)
		if connected {
			go func() {
				if err := reconciler.Resync(rootCtx); err != nil {
					log.Warn("resync after reconnect failed", "err", err)
				}
			}()
		}
	})

	if err := reconciler.Subscribe(reconcile.ActiveSet()); err != nil {
		log.Warn("active set subscribe failed", "err", err)
	}

	go func() {
		if err := stream.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("event stream stopped", "err", err)
		}
	}()
	go reconciler.Run(rootCtx)

	handlers := &httpapi.Handlers{
		Auth:       authManager,
		Backend:    backendClient,
		Reconciler: reconciler,
		Monitor:    monitor,
		Anomalies:  anomalies,
		Reporting:  reporting.NewService(callStore),
		Recents:    callStore,
		Dials:      dials,
		Log:        logger.Component(log, "httpapi"),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	httpapi.RegisterRoutes(r, handlers)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "transport", cfg.Stream.Transport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
