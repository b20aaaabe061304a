package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/voxelcore/server/internal/coderr"
	"github.com/voxelcore/server/internal/config"
	"github.com/voxelcore/server/internal/crypto"
	"github.com/voxelcore/server/internal/handshake"
	"github.com/voxelcore/server/internal/persistence"
	"github.com/voxelcore/server/internal/protocol"
	"github.com/voxelcore/server/internal/reactor"
	"github.com/voxelcore/server/internal/scheduler"
	"github.com/voxelcore/server/internal/world"
	"github.com/voxelcore/server/internal/worldlock"
)

const ConfigPath = "config/gameserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := config.PathFromEnv("VOXELCORE_CONFIG", ConfigPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("voxelcore server starting",
		"bind", cfg.Network.BindAddress, "port", cfg.Network.Port, "log_level", cfg.LogLevel)

	persister, err := newPersistence(cfg.Persistence)
	if err != nil {
		return fmt.Errorf("creating persistence adapter: %w", err)
	}

	schedPool := scheduler.New(cfg.Scheduler.WorkerCount, func(worker int, recovered any) {
		slog.Error("scheduler worker panicked", "worker", worker, "recovered", recovered)
	})

	// Store and Lock are the core's owned singletons; a deployment builds
	// one world.WorldHandle per caller (per connection, per background
	// task) against them via world.NewWorldHandle, the same way it
	// registers its own Play-phase packet handlers on router - neither is
	// core's concern.
	store := world.NewStore(schedPool, &world.PersistenceLoader{
		Adapter: persister,
		MaxSize: cfg.World.MaxCompressedColumnKiB << 10,
		Decode:  decodeColumn,
	}, flatGenerator{}, noopPopulator{})
	lock := worldlock.New()
	_, _ = store, lock

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generating RSA keypair: %w", err)
	}

	router := protocol.NewRouter(cfg.LogLevel == "debug")
	auth := noopAuthenticator{}
	description := func() []byte {
		return []byte(`{"version":{"name":"voxelcore","protocol":0},"players":{"max":0,"online":0},"description":{"text":"voxelcore core"}}`)
	}

	serverID := int32(1)
	factory := func(conn *reactor.Connection) (reactor.Receiver, reactor.CipherSource) {
		h, err := handshake.New(conn, keyPair, serverID, auth, description, router, cfg.Handshake)
		if err != nil {
			slog.Error("creating handshake", "conn", conn.ID(), "err", err)
			conn.Disconnect("internal error")
			return noopReceiver{}, nil
		}
		return h, h.Session()
	}

	react := reactor.New(reactor.Config{
		WorkerCount:    cfg.Reactor.WorkerCount,
		MaxUnsentBytes: cfg.Reactor.MaxUnsentBytes,
		ReadTimeout:    millis(cfg.Reactor.ReadTimeoutMillis),
		WriteTimeout:   millis(cfg.Reactor.WriteTimeoutMillis),
		SendQueueSize:  cfg.Reactor.SendQueueSize,
	}, schedPool, factory, func(workerID int, recovered any) {
		slog.Error("reactor worker panicked", "worker", workerID, "recovered", recovered)
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting scheduler pool", "workers", cfg.Scheduler.WorkerCount)
		return schedPool.Run(gctx)
	})

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.Network.BindAddress, cfg.Network.Port)
		slog.Info("reactor listening", "addr", addr, "workers", cfg.Reactor.WorkerCount)
		return react.Run(gctx, addr)
	})

	return g.Wait()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newPersistence(cfg config.PersistenceConfig) (persistence.Adapter, error) {
	switch cfg.Backend {
	case "", "memory":
		return persistence.NewMemory(), nil
	default:
		return nil, coderr.New(coderr.NotFound, fmt.Sprintf("unknown persistence backend %q (core only ships the memory adapter; a real deployment supplies its own)", cfg.Backend))
	}
}
