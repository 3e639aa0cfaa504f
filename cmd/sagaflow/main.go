package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"

	"github.com/sagaflow/sagaflow/config"
	"github.com/sagaflow/sagaflow/pkg/api"
	"github.com/sagaflow/sagaflow/pkg/api/events"
	"github.com/sagaflow/sagaflow/pkg/api/handlers"
	"github.com/sagaflow/sagaflow/pkg/logger"
	"github.com/sagaflow/sagaflow/pkg/metrics"
	"github.com/sagaflow/sagaflow/pkg/order"
	"github.com/sagaflow/sagaflow/pkg/saga"
	"github.com/sagaflow/sagaflow/pkg/telemetry"
	"github.com/sagaflow/sagaflow/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("starting sagaflow",
		"version", version.Version,
		"git_commit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Tracing.
	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Metrics.
	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	metricsManager := metrics.NewManager(metricsCfg)
	if metricsManager.Enabled() {
		go func() {
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path, log); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	// Repository.
	repo, cleanupStore, err := buildRepository(cfg, log)
	if err != nil {
		log.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Order domain: stub downstream services and the step factory.
	steps := order.NewStepFactory(
		order.NewStubService("inventory"),
		order.NewStubService("payment"),
		order.NewStubService("shipping"),
		order.NewStubService("notification"),
	)
	nonUndoable := make([]saga.Action, 0, len(cfg.Saga.NonUndoableActions))
	for _, a := range cfg.Saga.NonUndoableActions {
		nonUndoable = append(nonUndoable, saga.Action(a))
	}
	factory := order.NewFactory(steps,
		order.FactoryTimeout(cfg.Saga.Timeout),
		order.FactoryCompensationBudget(cfg.Saga.CompensationBudget),
		order.FactoryCompensationAllowed(cfg.Saga.CompensationAllowed),
		order.FactoryNonUndoable(nonUndoable),
	)

	// Hooks.
	hooks := saga.NewHookChain(log)
	hooks.Register(saga.NewValidationHook())
	hooks.Register(saga.NewDuplicateCheckHook(repo))
	hooks.Register(saga.NewNotificationHook(saga.NewLogNotifier(log), log))
	hooks.Register(saga.NewAuditLogHook(saga.NewLogAuditSink(log)))

	// State handlers, registered explicitly per owned status.
	registry := saga.NewRegistry(repo, log)
	registry.MustRegister(saga.NewInitHandler(repo, registry, hooks, log))
	registry.MustRegister(saga.NewProcessingHandler(repo, registry, log, metricsManager))
	registry.MustRegister(saga.NewRevertingHandler(repo, registry, factory.CompensationFor, log, metricsManager))
	registry.MustRegister(saga.NewResumingHandler(repo, registry, log, metricsManager))
	registry.MustRegister(saga.NewTerminalHandler(hooks, log, metricsManager))

	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()

	engine := saga.NewEngine(repo, registry, factory,
		saga.WithRebuilder(factory),
		saga.WithObserver(broadcaster),
		saga.WithEngineLogger(log),
		saga.WithEngineMetrics(metricsManager),
	)

	// Recovery sweep for crashed or parked sagas.
	var sweeper *saga.Sweeper
	if cfg.Saga.Recovery.Enabled {
		sweeper = saga.NewSweeper(engine, repo,
			saga.WithSweepInterval(cfg.Saga.Recovery.Interval),
			saga.WithSweepStaleness(cfg.Saga.Recovery.Staleness),
			saga.WithSweepLimit(cfg.Saga.Recovery.Limit),
			saga.WithSweeperLogger(log),
			saga.WithSweeperMetrics(metricsManager),
		)
		sweeper.Start(ctx)
	}

	// HTTP API.
	apiHandlers := &api.Handlers{
		Saga:      handlers.NewSagaHandler(engine, log),
		Health:    handlers.NewHealthHandler(repo),
		WebSocket: handlers.NewWebSocketHandler(broadcaster, log, handlers.WebSocketConfig{}),
		Metrics:   metricsManager,
	}
	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	// Hot-reload the log level when the config file changes.
	if *configPath != "" {
		watcher, werr := config.NewWatcher(*configPath, config.WithWatcherLogger(log))
		if werr != nil {
			log.Warn("config watcher unavailable", "error", werr)
		} else {
			watcher.OnChange(func(next *config.Config) {
				logger.SetLevel(logger.ParseLevel(next.Log.Level))
			})
			go func() {
				if err := watcher.Watch(ctx); err != nil && err != context.Canceled {
					log.Warn("config watcher stopped", "error", err)
				}
			}()
			defer watcher.Stop()
		}
	}

	log.Info("sagaflow is running",
		"http_addr", cfg.Server.Addr(),
		"storage", cfg.Storage.Type,
		"metrics_port", cfg.Metrics.Port,
		"recovery", cfg.Saga.Recovery.Enabled,
	)

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErrChan:
		log.Error("http server error", "error", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down http server", "error", err)
	}
	if sweeper != nil {
		sweeper.Stop()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("error shutting down tracing", "error", err)
	}
	if err := cleanupStore(); err != nil {
		log.Error("error closing storage", "error", err)
	}

	log.Info("sagaflow stopped")
}

// buildRepository selects the saga store from configuration and returns
// it with its cleanup function.
func buildRepository(cfg *config.Config, log logger.Logger) (saga.Repository, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage.Type {
	case "badger":
		opts := badger.DefaultOptions(cfg.Storage.Badger.Path).
			WithSyncWrites(cfg.Storage.Badger.SyncWrites).
			WithValueLogFileSize(cfg.Storage.Badger.ValueLogFileSize).
			WithLogger(nil)
		db, err := badger.Open(opts)
		if err != nil {
			return nil, noop, fmt.Errorf("open badger at %s: %w", cfg.Storage.Badger.Path, err)
		}

		var repoOpts []saga.BadgerOption
		cleanup := db.Close
		if locker, closeLocker := buildRedisLocker(cfg, log); locker != nil {
			repoOpts = append(repoOpts, saga.WithLocker(locker))
			cleanup = func() error {
				_ = closeLocker()
				return db.Close()
			}
		}

		repo, err := saga.NewBadgerRepository(db, repoOpts...)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		log.Info("initialized badger storage", "path", cfg.Storage.Badger.Path)
		return repo, cleanup, nil

	case "memory":
		repo := saga.Repository(saga.NewMemoryRepository())
		cleanup := noop
		if locker, closeLocker := buildRedisLocker(cfg, log); locker != nil {
			repo = saga.OverrideLocker(repo, locker)
			cleanup = closeLocker
		}
		log.Info("initialized memory storage")
		return repo, cleanup, nil

	default:
		log.Warn("unknown storage type, using memory storage", "type", cfg.Storage.Type)
		return saga.NewMemoryRepository(), noop, nil
	}
}

// buildRedisLocker builds the distributed per-saga locker when it is
// enabled, returning nil otherwise.
func buildRedisLocker(cfg *config.Config, log logger.Logger) (saga.Locker, func() error) {
	if !cfg.Storage.RedisLock.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.RedisLock.Address,
		Password: cfg.Storage.RedisLock.Password,
		DB:       cfg.Storage.RedisLock.DB,
	})
	log.Info("using redis saga locks", "addr", cfg.Storage.RedisLock.Address)
	return saga.NewRedisLocker(client, cfg.Storage.RedisLock.TTL, log), client.Close
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})
	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}
	return overrides
}

func printVersion() {
	fmt.Printf("Sagaflow - Order Saga Orchestration Engine\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("Sagaflow - distributed order saga orchestration engine\n\n")
	fmt.Printf("Usage: sagaflow [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  sagaflow                                  # Run with default config\n")
	fmt.Printf("  sagaflow -config config.yaml              # Use specific config file\n")
	fmt.Printf("  sagaflow -port 9090 -log-level debug      # Override specific options\n")
	fmt.Printf("  sagaflow -version                         # Print version info\n")
}
