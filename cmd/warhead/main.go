package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aloksahay/warhead/internal/auth"
	"github.com/aloksahay/warhead/internal/combat"
	"github.com/aloksahay/warhead/internal/config"
	"github.com/aloksahay/warhead/internal/events"
	"github.com/aloksahay/warhead/internal/game"
	"github.com/aloksahay/warhead/internal/geo"
	"github.com/aloksahay/warhead/internal/httpapi"
	"github.com/aloksahay/warhead/internal/ledger"
	"github.com/aloksahay/warhead/internal/logging"
	intOtel "github.com/aloksahay/warhead/internal/otel"
	"github.com/aloksahay/warhead/internal/ownership"
	"github.com/aloksahay/warhead/internal/realtime"
	"github.com/aloksahay/warhead/internal/storage"
	"github.com/aloksahay/warhead/internal/storage/factory"
	"github.com/aloksahay/warhead/internal/telemetry"
)

// set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	ServiceName string = "warhead"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configDir := "."
	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}
	if err := run(configDir); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", ServiceName, err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	sessionStart := time.Now()

	found, cfgErr := config.LoadOrDefault(configDir)

	log, closeLogs, err := setupLogging(sessionStart)
	if err != nil {
		return err
	}
	defer closeLogs()

	if cfgErr != nil {
		return cfgErr
	}
	if !found {
		log.Warn("config file not found, using defaults", "dir", configDir, "file", config.FileName)
	}
	log.Info("starting", "version", CurrentVersion, "build_date", BuildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	oc := config.GetOTelConfig()
	tracing, err := intOtel.New(ctx, intOtel.Config{
		Enabled:      oc.Enabled,
		ServiceName:  oc.ServiceName,
		BatchTimeout: oc.BatchTimeout,
		Endpoint:     oc.Endpoint,
		Insecure:     oc.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown incomplete", "error", err)
		}
	}()
	if tracing.Enabled() {
		log.Info("tracing enabled", "endpoint", oc.Endpoint)
	}

	storageCfg := config.GetStorageConfig()
	store, err := factory.NewStore(storageCfg, log.With("component", "storage"))
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}
	if err := store.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close storage backend", "error", err)
		}
	}()
	log.Info("storage backend initialized", "type", storageCfg.Type)

	bus, err := events.New(log.With("component", "events"), events.BufferSize(config.GetEventsConfig().BufferSize))
	if err != nil {
		return err
	}
	defer bus.Close()

	gameCfg := config.GetGameConfig()
	index := geo.NewIndex(geo.WithRebuildInterval(gameCfg.IndexRebuildInterval))
	missiles := ledger.New(store, bus, log.With("component", "ledger"), ledger.WithMissileTypes(combat.KnownType))

	combatCfg, err := combat.ConfigFrom(config.GetCombatConfig())
	if err != nil {
		return err
	}
	resolver, err := combat.NewResolver(combat.Dependencies{
		Store:     store,
		Ledger:    missiles,
		Locations: index,
		Publisher: bus,
		Logger:    log.With("component", "combat"),
	}, combatCfg)
	if err != nil {
		return err
	}

	svc, err := game.New(game.Dependencies{
		Store:    store,
		Index:    index,
		Ledger:   missiles,
		Resolver: resolver,
		Bus:      bus,
		Logger:   log.With("component", "game"),
	}, game.Config{
		NearbyRadiusMeters: gameCfg.NearbyRadiusMeters,
		StartingShield:     gameCfg.StartingShield,
	})
	if err != nil {
		return fmt.Errorf("invalid game config: %w", err)
	}

	if _, err := svc.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("failed to rebuild proximity index: %w", err)
	}

	authCfg, err := auth.LoadConfigFromEnv(nil)
	if err != nil {
		return err
	}
	verifier, err := auth.NewJWTVerifier(authCfg)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
	}()
	background := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Debug("background task stopped", "task", name)
		}()
	}

	background("recovery", resolver.Run)

	sink, err := startTelemetry(ctx, bus, log.With("component", "telemetry"), background)
	if err != nil {
		return err
	}
	if sink != nil {
		defer func() {
			if err := sink.Close(); err != nil {
				log.Error("failed to close telemetry", "error", err)
			}
		}()
	}

	if err := startOwnershipSync(store, missiles, log.With("component", "ownership"), background); err != nil {
		return err
	}

	httpCfg := config.GetHTTPConfig()
	api := httpapi.New(svc, verifier, log.With("component", "http"),
		httpapi.WithRateLimit(httpCfg.RateLimitRequests, httpCfg.RateLimitWindow),
		httpapi.WithAllowedOrigins(httpCfg.AllowedOrigins),
	)
	stream := realtime.NewServer(verifier, svc, log.With("component", "realtime"),
		realtime.WithAllowedOrigins(httpCfg.AllowedOrigins),
	)
	server := &http.Server{
		Addr:              httpCfg.ListenAddr,
		Handler:           api.Handler(stream.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", httpCfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			log.Error("http server failed", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown incomplete", "error", err)
	}

	// closing the bus ends websocket streams and the telemetry sink
	bus.Close()
	wg.Wait()
	log.Info("stopped")
	return nil
}

func setupLogging(sessionStart time.Time) (*logging.Adapter, func(), error) {
	lc := config.GetLoggingConfig()
	if err := os.MkdirAll(lc.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create logs dir: %w", err)
	}

	path := logging.LogFilePath(lc.Dir, ServiceName, sessionStart)
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".old")
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	opts := logging.Options{
		Level:   lc.Level,
		Service: ServiceName,
		File:    file,
	}
	if lc.GraylogEnabled {
		opts.GraylogAddress = lc.GraylogAddress
	}
	zl, gelf := logging.Setup(opts)

	closeAll := func() {
		closeQuietly(gelf)
		closeQuietly(file)
	}
	return logging.NewAdapter(zl), closeAll, nil
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}

func startTelemetry(ctx context.Context, bus *events.Bus, log logging.Logger, background func(string, func(context.Context))) (*telemetry.Manager, error) {
	influxCfg := config.GetInfluxConfig()
	if !influxCfg.Enabled {
		return nil, nil
	}

	sink := telemetry.NewManager(influxCfg, log)
	if err := sink.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to start telemetry: %w", err)
	}

	background("telemetry", func(ctx context.Context) {
		if err := sink.Run(ctx, bus); err != nil {
			log.Error("telemetry sink stopped", "error", err)
		}
	})
	log.Info("telemetry enabled", "online", sink.Online())
	return sink, nil
}

func startOwnershipSync(store storage.Store, missiles *ledger.Ledger, log logging.Logger, background func(string, func(context.Context))) error {
	oc := config.GetOwnershipConfig()
	if oc.SyncInterval <= 0 {
		return nil
	}

	tokens := ownership.NewStaticLedger(nil)
	if oc.LedgerFile != "" {
		loaded, err := ownership.LoadStaticLedger(oc.LedgerFile)
		if err != nil {
			return err
		}
		tokens = loaded
	}

	reconciler, err := ownership.NewReconciler(store, tokens, missiles, ownership.LocatedPlayers(store), log, oc.SyncInterval)
	if err != nil {
		return err
	}
	background("ownership", reconciler.Run)
	log.Info("ownership sync enabled", "interval", oc.SyncInterval, "ledger_file", oc.LedgerFile)
	return nil
}
