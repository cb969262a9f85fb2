package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Konstantsiy/alglobo/config"
	"github.com/Konstantsiy/alglobo/coordinator"
	election "github.com/Konstantsiy/alglobo/leader-election"
	"github.com/Konstantsiy/alglobo/participant"
	"github.com/Konstantsiy/alglobo/stats"
	"github.com/hashicorp/go-hclog"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to the YAML configuration file")
		role       = flag.String("role", "coordinator", "Process role: coordinator, participant or stats")
		id         = flag.Uint("id", 0, "Replica ID of this coordinator")
		name       = flag.String("name", "", "Participant name: hotel, airline or bank")
	)

	flag.Parse()

	var cfg = config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	var logger = hclog.New(&hclog.LoggerOptions{
		Name:  "alglobo",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch *role {
	case "coordinator":
		var replica uint32
		if replica, err = replicaID(*id); err == nil {
			err = runCoordinator(ctx, cfg, replica, logger)
		}
	case "participant":
		err = runParticipant(ctx, cfg, *name, logger)
	case "stats":
		err = runStats(ctx, cfg, logger)
	default:
		err = fmt.Errorf("unknown role %q", *role)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}

	logger.Info("shutting down")
}

// replicaID narrows the -id flag, values past uint32 are rejected instead of wrapping.
func replicaID(id uint) (uint32, error) {
	if uint64(id) > math.MaxUint32 {
		return 0, fmt.Errorf("replica id %d does not fit in 32 bits", id)
	}
	return uint32(id), nil
}

func runCoordinator(ctx context.Context, cfg *config.Config, id uint32, logger hclog.Logger) error {
	if err := cfg.CheckReplica(id); err != nil {
		return err
	}

	logger = logger.With("replica", id)

	bully, err := election.Listen(id, cfg.PeerAddresses(), election.Options{
		ElectionTimeout:     cfg.Election.ElectionTimeout,
		HealthCheckInterval: cfg.Election.HealthCheckInterval,
		TickInterval:        cfg.Election.TickInterval,
	}, logger)
	if err != nil {
		return err
	}

	bully.Start()
	defer bully.Shutdown()

	m, _, err := stats.NewMetrics("coordinator")
	if err != nil {
		return err
	}

	var (
		worker      = coordinator.NewPaymentsWorker(cfg, m, logger)
		replication = coordinator.NewReplication(bully, worker, logger)
	)

	return replication.Run(ctx)
}

func runParticipant(ctx context.Context, cfg *config.Config, name string, logger hclog.Logger) error {
	pc, ok := cfg.GetParticipant(name)
	if !ok {
		return fmt.Errorf("participant %q is not configured", name)
	}

	entity, ok := participant.NewEntity(pc.Name, pc.FailClient, logger)
	if !ok {
		return fmt.Errorf("unknown participant entity %q", pc.Name)
	}

	var store participant.Store = participant.NewMemoryStore()
	if pc.DataDir != "" {
		if err := os.MkdirAll(pc.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		bolt, err := participant.OpenBoltStore(pc.DataDir, pc.Name)
		if err != nil {
			return err
		}
		store = bolt
	}
	defer store.Close()

	sm, err := participant.NewStateMachine(entity, store, logger)
	if err != nil {
		return err
	}

	sm.Start()
	defer func() {
		sm.Shutdown()
		sm.Wait()
	}()

	server, err := participant.NewServer(pc.Address, sm, logger.Named(pc.Name))
	if err != nil {
		return err
	}

	var errCh = make(chan error, 1)
	go func() { errCh <- server.Serve() }()

	select {
	case <-ctx.Done():
		server.Shutdown()
		return nil
	case err = <-errCh:
		server.Shutdown()
		return err
	}
}

func runStats(ctx context.Context, cfg *config.Config, logger hclog.Logger) error {
	m, sink, err := stats.NewMetrics("alglobo")
	if err != nil {
		return err
	}

	collector, err := stats.NewCollector(cfg.Stats.Address, m, logger)
	if err != nil {
		return err
	}

	var errCh = make(chan error, 2)
	go func() { errCh <- collector.Serve() }()

	var httpServer *http.Server
	if cfg.Stats.HTTPAddress != "" {
		var mux = http.NewServeMux()
		stats.NewHTTPHandler(collector, sink).RegisterHandlers(mux)

		httpServer = &http.Server{Addr: cfg.Stats.HTTPAddress, Handler: mux}
		go func() {
			logger.Info("status endpoints listening", "addr", cfg.Stats.HTTPAddress)
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	if httpServer != nil {
		_ = httpServer.Close()
	}
	collector.Shutdown()

	var summary = collector.Summary()
	logger.Info("final statistics",
		"payments", summary.Payments,
		"failed", summary.FailedPayments,
		"average_ms", summary.AverageMs)

	return err
}
