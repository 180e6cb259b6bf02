package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/timekeeper/internal/api"
	"github.com/star/timekeeper/internal/auth"
	"github.com/star/timekeeper/internal/broadcast"
	"github.com/star/timekeeper/internal/cache"
	"github.com/star/timekeeper/internal/config"
	"github.com/star/timekeeper/internal/frameloop"
	"github.com/star/timekeeper/internal/infra/postgres"
	"github.com/star/timekeeper/internal/infra/redpanda"
	"github.com/star/timekeeper/internal/metrics"
	"github.com/star/timekeeper/internal/propagation"
	"github.com/star/timekeeper/internal/simclock"
	"github.com/star/timekeeper/internal/stream"
	"github.com/star/timekeeper/internal/tle"
	"github.com/star/timekeeper/internal/urlstate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "timekeeper:", err)
		os.Exit(1)
	}
}

func run() error {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.Load(bootLogger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := simclock.SystemSource{}

	store := tle.NewStore()
	tleCache := tle.NewCache(cfg.TLE.CacheDir, cfg.TLE.MaxFiles)
	if ds, err := tle.LoadLatest(tleCache, logger); err != nil {
		logger.Info("no TLE cache found, starting without TLE data", "error", err)
	} else {
		store.Set(ds)
		metrics.SetTLEDatasetCount(len(ds.Satellites))
	}

	propCfg := propagation.PropConfig{
		Workers: cfg.Propagation.Workers,
		Step:    cfg.Propagation.KeyframeStep,
	}
	prop := propagation.NewPropagator(store, propCfg, logger)
	metrics.SetPropagationWorkersActive(propCfg.Workers)

	kfCache := cache.NewKeyframeCache(cache.Config{
		Step:   cfg.Propagation.KeyframeStep,
		Window: cfg.Propagation.CacheWindow,
	}, logger)

	stateStore, closeStore, err := openStateStore(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	recorder := urlstate.NewRecorder(stateStore, logger)

	hub := stream.NewHub()
	registry := broadcast.NewRegistry(logger)
	clock := simclock.New(source, logger,
		simclock.WithBroadcaster(registry),
		simclock.WithDisplay(hub),
		simclock.WithToaster(hub),
		simclock.WithPersister(recorder),
		simclock.WithDisplayInterval(cfg.Clock.DisplayInterval),
		simclock.WithJumpThreshold(cfg.Clock.JumpThreshold),
	)

	restored, err := recorder.Restore(ctx, cfg.Clock.StartLink, source.Now())
	switch {
	case errors.Is(err, urlstate.ErrNoState):
		logger.Info("no saved clock state, starting in real time")
	case err != nil:
		logger.Warn("could not restore clock state, starting in real time", "error", err)
	default:
		restored.Apply(clock)
	}

	cruncher := propagation.NewCruncher(prop, store, kfCache, source, clock.Mapping(), propagation.CruncherConfig{
		Interval:  cfg.Propagation.CrunchInterval,
		Lookahead: cfg.Propagation.Lookahead,
	}, logger)
	registry.Register(cruncher)

	orbits := propagation.NewOrbitBuilder(prop, store, source, clock.Mapping(), propagation.OrbitConfig{
		NORADIDs: cfg.Orbits.NORADIDs,
		Limit:    cfg.Orbits.Limit,
		Segments: cfg.Orbits.Segments,
		Interval: cfg.Orbits.Interval,
	}, logger)
	registry.Register(orbits)

	if len(cfg.Redpanda.Brokers) > 0 {
		publisher, err := redpanda.NewPublisher(cfg.Redpanda.Brokers, cfg.Redpanda.Topic, source, logger)
		if err != nil {
			return fmt.Errorf("creating redpanda publisher: %w", err)
		}
		defer publisher.Close()
		registry.Register(publisher)
	}

	loop := frameloop.New(clock, cfg.Clock.FrameInterval, logger)

	streamHandler := stream.NewHandler(kfCache, store, loop, hub, stream.Config{
		MaxConcurrentPerIP: cfg.Stream.MaxConcurrentPerIP,
		MaxStreams:         cfg.Stream.MaxStreams,
		KeepaliveInterval:  cfg.Stream.KeepaliveInterval,
		TrustProxy:         cfg.Stream.TrustProxy,
	}, logger)

	authCfg := auth.Config{
		Enabled:      cfg.Auth.Enabled,
		Token:        cfg.Auth.Token,
		ProtectReads: cfg.Auth.ProtectReads,
	}
	srv := api.NewServer(cfg.HTTPAddr, logger, authCfg, api.Deps{
		Clock:    loop,
		Links:    recorder,
		Orbits:   orbits,
		Store:    store,
		TLECache: tleCache,
		Cache:    kfCache,
		Stream:   streamHandler,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx) })
	g.Go(func() error {
		cruncher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		orbits.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting server",
			"addr", cfg.HTTPAddr,
			"auth_enabled", authCfg.Enabled,
			"workers", registry.Len(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// openStateStore connects to PostgreSQL when configured. Without a database
// URL the clock state only lives for the lifetime of the process.
func openStateStore(ctx context.Context, cfg config.PostgresConfig, logger *slog.Logger) (urlstate.Store, func(), error) {
	if cfg.URL == "" {
		logger.Info("no database configured, clock state kept in memory")
		return urlstate.NewMemoryStore(), func() {}, nil
	}

	client, err := postgres.NewClient(ctx, cfg.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	pgStore := urlstate.NewPostgresStore(client.Pool(), logger)
	if err := pgStore.EnsureSchema(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("creating clock_state table: %w", err)
	}
	return pgStore, client.Close, nil
}
