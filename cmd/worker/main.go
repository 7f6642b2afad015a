// Command worker runs one worker process for the Block Dispatcher's
// worker-pool mode (spec.md §4.7): it dials the same API pool and manifest
// as the primary indexer process, then exposes FetchBlock/ProcessBlock over
// gRPC for a workerpool.Pool to round-robin against.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/near-indexer/engine/internal/apipool"
	"github.com/near-indexer/engine/internal/assembler"
	"github.com/near-indexer/engine/internal/config"
	"github.com/near-indexer/engine/internal/dynamicds"
	"github.com/near-indexer/engine/internal/eventbus"
	"github.com/near-indexer/engine/internal/indexer"
	"github.com/near-indexer/engine/internal/manifest"
	"github.com/near-indexer/engine/internal/model"
	"github.com/near-indexer/engine/internal/workerpool"
	"google.golang.org/grpc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	mf, err := manifest.Load(cfg.Manifest.Path)
	if err != nil {
		logger.Error("failed to load manifest", "error", err)
		os.Exit(1)
	}

	bus := eventbus.New()
	pool := apipool.New(apipool.Config{
		Endpoints:           cfg.Network.Endpoints,
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

	chainClient := pool.Client()
	asm := assembler.New(chainClient, assembler.WithLogger(logger))

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
	err = manifest.CompileCronFilters(compileCtx, datasources, chainClient)
	compileCancel()
	if err != nil {
		logger.Error("failed to compile cron filters", "error", err)
		os.Exit(1)
	}

	dynMgr := dynamicds.New(datasources, templates, logger)

	ix := indexer.New(indexer.Config{
		ChainID:   cfg.Network.ChainID,
		Handlers:  map[string]indexer.HandlerFunc{},
		Provider:  dynMgr,
		DynamicDs: dynMgr,
		APIClient: chainClient,
		Logger:    logger,
	})

	srv := workerpool.NewServer(asm, ix, cfg.Worker.Concurrency)

	lis, err := net.Listen("tcp", cfg.Worker.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.Worker.ListenAddr, "error", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	workerpool.RegisterWorkerServiceServer(grpcServer, srv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down worker", "signal", sig)
		grpcServer.GracefulStop()
	}()

	logger.Info("worker listening", "addr", cfg.Worker.ListenAddr, "concurrency", cfg.Worker.Concurrency)
	if err := grpcServer.Serve(lis); err != nil {
		logger.Error("worker server exited with error", "error", err)
		os.Exit(1)
	}
}
