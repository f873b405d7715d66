// Package main implements crosspostd, the article publishing daemon. It
// exposes the websocket control channel plus health and metrics endpoints
// and drives syncs against the configured destinations.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/crosspost-dev/crosspost/internal/authcache"
	"github.com/crosspost-dev/crosspost/internal/config"
	"github.com/crosspost-dev/crosspost/internal/control"
	"github.com/crosspost-dev/crosspost/internal/engine"
	"github.com/crosspost-dev/crosspost/internal/events"
	"github.com/crosspost-dev/crosspost/internal/extract"
	"github.com/crosspost-dev/crosspost/internal/httputil"
	"github.com/crosspost-dev/crosspost/internal/metrics"
	"github.com/crosspost-dev/crosspost/internal/platform"
	"github.com/crosspost-dev/crosspost/internal/ratelimit"
	"github.com/crosspost-dev/crosspost/internal/store"
	"github.com/crosspost-dev/crosspost/internal/store/postgres"
	"github.com/crosspost-dev/crosspost/internal/uploader"
	"github.com/crosspost-dev/crosspost/pkg/logger"
)

// adapterFactories maps config platform types to adapter constructors.
// Registration is static: new destinations are added here at compile time.
var adapterFactories = map[string]platform.Factory{
	"metaweblog":  platform.NewMetaWeblog,
	"writefreely": platform.NewWriteFreely,
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("crosspostd").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New(os.Stderr, cfg.LogLevel, "crosspostd")
	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("daemon exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	stateStore := store.NewStateStore(kv)
	sink := events.NewRingBuffer(512)
	advisor := ratelimit.New(kv)

	m := metrics.New()
	promReg := prometheus.NewRegistry()
	if err := m.Register(promReg); err != nil {
		return err
	}

	httpClient := httputil.NewClient(nil)
	pipeline := uploader.New(httpClient, log)
	pipeline.SetRetryHook(m.ImageUploadRetry.Inc)

	registry := platform.NewRegistry()
	for _, p := range cfg.Platforms {
		factory, ok := adapterFactories[p.Type]
		if !ok {
			return errors.New("unknown platform type " + p.Type + " for " + p.ID)
		}
		deps := platform.Deps{
			HTTP:     httpClient,
			Pipeline: pipeline,
			Log:      log.WithField("platform", p.ID),
			Settings: p.Settings,
		}
		if err := registry.Register(p.ID, factory, deps); err != nil {
			return err
		}
	}
	log.WithField("platforms", len(cfg.Platforms)).Info("destinations registered")

	checker := authcache.NewChecker(authcache.New(kv), registry, sink, log)

	var archive engine.HistoryArchiver
	if cfg.Postgres.DSN != "" {
		pg, err := postgres.Open(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		archive = pg
		log.Info("postgres history archive enabled")
	}

	eng := engine.New(engine.Config{
		Registry:       registry,
		State:          stateStore,
		Sink:           sink,
		Advisor:        advisor,
		Metrics:        m,
		Archive:        archive,
		Log:            log,
		WindowSize:     cfg.Sync.WindowSize,
		PublishTimeout: cfg.Sync.PublishTimeout,
	})

	// A sync that was mid-flight when the previous process died stays
	// visible; listeners decide whether to retry its failures.
	if interrupted, err := eng.Resume(ctx); err != nil {
		log.WithError(err).Warn("read persisted sync state")
	} else if interrupted != nil {
		log.WithField("sync_id", interrupted.SyncID).
			WithField("results", len(interrupted.Results)).
			Warn("previous sync was interrupted; use retryFailed to finish it")
	}

	jobs := cron.New()
	if _, err := jobs.AddFunc("@hourly", func() {
		if err := advisor.Prune(context.Background()); err != nil {
			log.WithError(err).Warn("rate-limit prune failed")
		}
	}); err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	handler := &app{
		engine:   eng,
		registry: registry,
		checker:  checker,
		state:    stateStore,
		source:   extract.NewHTTPSource(log),
	}
	if cfg.Token == "" {
		log.Warn("no control token configured; every control request will be rejected")
	}
	ctrl := control.NewServer(handler, control.NewSessionManager(), sink, cfg.Token, log)

	router := mux.NewRouter()
	router.Handle("/ws", ctrl)
	router.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: router,
		// No WriteTimeout: websocket connections are long-lived.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Listen).Info("listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		rs, err := store.NewRedisStore(ctx, cfg.Store.Redis)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("addr", cfg.Store.Redis.Addr).Info("redis store connected")
		return rs, func() { rs.Close() }, nil
	default:
		log.Warn("memory store selected; state will not survive restarts")
		return store.NewMemoryStore(), func() {}, nil
	}
}
