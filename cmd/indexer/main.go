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

	"github.com/near-indexer/engine/internal/apipool"
	"github.com/near-indexer/engine/internal/assembler"
	"github.com/near-indexer/engine/internal/config"
	"github.com/near-indexer/engine/internal/dictionary"
	"github.com/near-indexer/engine/internal/dispatcher"
	"github.com/near-indexer/engine/internal/dynamicds"
	"github.com/near-indexer/engine/internal/eventbus"
	"github.com/near-indexer/engine/internal/health"
	"github.com/near-indexer/engine/internal/indexer"
	"github.com/near-indexer/engine/internal/manifest"
	"github.com/near-indexer/engine/internal/model"
	"github.com/near-indexer/engine/internal/replay"
	"github.com/near-indexer/engine/internal/scheduler"
	"github.com/near-indexer/engine/internal/tracing"
	"github.com/near-indexer/engine/internal/unfinalized"
	"github.com/near-indexer/engine/internal/workerpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting near-indexer engine",
		"manifest_path", cfg.Manifest.Path,
		"chain_id", cfg.Network.ChainID,
		"endpoints", len(cfg.Network.Endpoints),
		"unfinalized", cfg.Network.Unfinalized,
		"dictionary_enabled", cfg.Dictionary.Enabled,
		"worker_pool_enabled", cfg.Worker.Enabled,
	)

	shutdownTracing, err := tracing.Init(context.Background(), "near-indexer-engine", cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	mf, err := manifest.Load(cfg.Manifest.Path)
	if err != nil {
		logger.Error("failed to load manifest", "error", err)
		os.Exit(1)
	}

	bus := eventbus.New()
	bus.Subscribe(eventbus.EventApiConnected, func(ev eventbus.Event) {
		logger.Info("api endpoint connected", "endpoint", ev.Endpoint)
	})
	bus.Subscribe(eventbus.EventApiDisconnected, func(ev eventbus.Event) {
		logger.Warn("api endpoint disconnected", "endpoint", ev.Endpoint)
	})

	endpoints := cfg.Network.Endpoints
	if len(mf.Network.Endpoint.Values) > 0 {
		endpoints = mf.Network.Endpoint.Values
	}

	pool := apipool.New(apipool.Config{
		Endpoints:           endpoints,
		DeclaredChainID:     cfg.Network.ChainID,
		DeclaredGenesisHash: cfg.Network.GenesisHash,
		Bus:                 bus,
		Logger:              logger,
	})

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = pool.Init(initCtx)
	initCancel()
	if err != nil {
		logger.Error("api pool init failed", "error", err)
		os.Exit(1)
	}
	logger.Info("api pool ready", "healthy_endpoints", pool.HealthyCount())

	var dictClient *dictionary.Client
	if cfg.Dictionary.Enabled {
		dictClient = dictionary.New(dictionary.Config{
			Endpoint:    cfg.Dictionary.URL,
			GenesisHash: cfg.Network.GenesisHash,
		})
	}

	templates := make([]*model.Template, 0, len(mf.Templates))
	for i := range mf.Templates {
		templates = append(templates, &mf.Templates[i])
	}
	datasources, err := mf.Datasources()
	if err != nil {
		logger.Error("failed to resolve datasource filters", "error", err)
		os.Exit(1)
	}

	compileCtx, compileCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = manifest.CompileCronFilters(compileCtx, datasources, pool.Client())
	compileCancel()
	if err != nil {
		logger.Error("failed to compile cron filters", "error", err)
		os.Exit(1)
	}

	dynMgr := dynamicds.New(datasources, templates, logger)

	reindexCh := make(chan int64, 1)
	tracker := unfinalized.New(
		unfinalized.WithReindexCallback(func(forkHeight int64) {
			select {
			case reindexCh <- forkHeight:
			default:
			}
		}),
		unfinalized.WithLogger(logger),
	)

	chainClient := pool.Client()
	asm := assembler.New(chainClient, assembler.WithLogger(logger))

	hb := health.New()

	ix := indexer.New(indexer.Config{
		ChainID:   cfg.Network.ChainID,
		Handlers:  map[string]indexer.HandlerFunc{},
		Provider:  dynMgr,
		DynamicDs: dynMgr,
		APIClient: chainClient,
		Logger:    logger,
	})

	var dispAssembler dispatcher.Assembler = asm
	var dispIndexer dispatcher.Indexer = ix
	if cfg.Worker.Enabled {
		workerPool, err := workerpool.NewPool(cfg.Worker.WorkerAddrs, 30*time.Second)
		if err != nil {
			logger.Error("failed to dial worker pool", "error", err)
			os.Exit(1)
		}
		defer workerPool.Close()
		dispAssembler = workerPool
		dispIndexer = workerPool
		logger.Info("worker pool mode enabled", "workers", len(cfg.Worker.WorkerAddrs))
	}

	disp := dispatcher.New(dispatcher.Config{
		Capacity:    cfg.Pipeline.QueueCapacity,
		Concurrency: cfg.Pipeline.Concurrency,
		Assembler:   dispAssembler,
		Indexer:     dispIndexer,
		Health:      hb,
		Logger:      logger,
		OnDynamicDsCreated: func(ctx context.Context, fromHeight int64) {
			logger.Info("dynamic datasource created, resyncing from height", "from_height", fromHeight)
		},
		OnReindex: func(ctx context.Context, forkHeight int64) {
			logger.Warn("reindex requested by handler", "fork_height", forkHeight)
		},
	})

	disp.Init(cfg.Pipeline.InitHeight)

	schedOpts := []scheduler.Option{
		scheduler.WithFinalizedHeaderObserver(tracker),
		scheduler.WithLogger(logger),
	}
	if dictClient != nil {
		schedOpts = append(schedOpts, scheduler.WithDictionary(dictClient))
	}

	sched := scheduler.New(
		scheduler.Config{
			BatchSize:         cfg.Pipeline.BatchSize,
			Unfinalized:       cfg.Network.Unfinalized,
			InitHeight:        cfg.Pipeline.InitHeight,
			BypassBlocks:      cfg.Network.BypassBlocks,
			DictionaryEnabled: cfg.Dictionary.Enabled,
			ChainInterval:     cfg.ChainInterval(),
			MinimumBatchSize:  config.MinimumBatchSize,
		},
		disp,
		chainClient,
		func() []*model.Datasource { return dynMgr.GetAllDataSources(disp.LatestBufferedHeight() + 1) },
		bus,
		schedOpts...,
	)

	replaySvc := replay.NewService(disp, dynMgr, sched, logger)
	_ = replaySvc // wired for operator tooling; no in-scope HTTP trigger surface (spec.md §1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return runHealthServer(gCtx, cfg.Server.HealthPort, hb, logger) })
	g.Go(func() error { return disp.Run(gCtx) })
	g.Go(func() error { return sched.Run(gCtx) })

	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case forkHeight := <-reindexCh:
				disp.FlushQueue(forkHeight)
				logger.Warn("flushed dispatcher queue after detected fork", "fork_height", forkHeight)
			}
		}
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			sched.Shutdown()
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("engine exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("engine shut down gracefully")
}

// healthzHandler reports 503 once the health tracker has crossed into
// StatusUnhealthy, 200 otherwise.
func healthzHandler(hb *health.Health) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := hb.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if snap.Status == string(health.StatusUnhealthy) {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		fmt.Fprintf(w, `{"status":%q,"consecutiveFailures":%d}`, snap.Status, snap.ConsecutiveFailures)
	}
}

func runHealthServer(ctx context.Context, port int, hb *health.Health, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthzHandler(hb))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
