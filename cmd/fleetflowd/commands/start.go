package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/fleetflow/internal/logger"
	"github.com/marmos91/fleetflow/internal/telemetry"
	"github.com/marmos91/fleetflow/pkg/config"
	"github.com/marmos91/fleetflow/pkg/flow"
	"github.com/marmos91/fleetflow/pkg/flow/badgerstore"
	"github.com/marmos91/fleetflow/pkg/flow/memqueue"
	"github.com/marmos91/fleetflow/pkg/flow/sqlstore"
	"github.com/marmos91/fleetflow/pkg/flow/workerpool"
	"github.com/marmos91/fleetflow/pkg/metrics"
	"github.com/marmos91/fleetflow/pkg/statusapi"

	// Import prometheus metrics to register its FlowMetrics constructor.
	_ "github.com/marmos91/fleetflow/pkg/metrics/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fleetflowd engine",
	Long: `Start the FleetFlow flow-execution engine with the specified
configuration.

By default, the engine runs in the background (daemon mode). Use
--foreground to run in the foreground for debugging or when managed by a
process supervisor.

Examples:
  # Start in background (default)
  fleetflowd start

  # Start in foreground
  fleetflowd start --foreground

  # Start with custom config file
  fleetflowd start --config /etc/fleetflow/config.yaml`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (daemon mode default: $XDG_STATE_HOME/fleetflow/fleetflowd.pid; in foreground mode none is written unless set)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/fleetflow/fleetflowd.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "fleetflowd",
		ServiceVersion: Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	logger.Info("fleetflowd starting", "log_level", cfg.Logging.Level, "log_format", cfg.Logging.Format)
	if telemetry.IsEnabled() {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_rate", cfg.Tracing.SampleRate)
	} else {
		logger.Info("tracing disabled")
	}

	var metricsRecorder flow.MetricsRecorder
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		if m := metrics.NewFlowMetrics(); m != nil {
			metricsRecorder = m
		}
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("metrics disabled")
	}

	storeFactory, closeStore, err := buildStoreFactory(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize flow store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("flow store close error", "error", err)
		}
	}()
	logger.Info("flow store initialized", "type", cfg.Store.Type)

	taskQueue := memqueue.New(memqueue.DefaultConfig())
	defer taskQueue.Stop()

	registry := flow.NewClassRegistry()
	factory := flow.NewFactory(registry, storeFactory, taskQueue, metricsRecorder, cfg.Retransmit.MaxTransmissions)
	token := flow.SecurityToken{Username: "fleetflowd"}

	huntPool := workerpool.New(workerpool.Config{Workers: cfg.Hunt.Workers})
	defer huntPool.Stop(cfg.ShutdownTimeout)
	logger.Info("hunt worker pool started", "workers", cfg.Hunt.Workers)

	workerNames := make([]string, 0, len(cfg.Queues))
	for name := range cfg.Queues {
		workerNames = append(workerNames, name)
	}
	sort.Strings(workerNames)

	var wg sync.WaitGroup
	workerErrs := make(chan error, len(workerNames))
	for _, name := range workerNames {
		qCfg := cfg.Queues[name]
		w := flow.NewWorker(name, factory, taskQueue, token, qCfg.LeasePollInterval)
		wg.Add(1)
		go func(w *flow.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				workerErrs <- err
			}
		}(w)
		logger.Info("worker started", "queue", name, "workers", qCfg.Workers)
	}

	statusDone := make(chan error, 1)
	if cfg.API.Enabled {
		statusServer := statusapi.NewServer(statusapi.Config{
			Port:         cfg.API.Port,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
			IdleTimeout:  cfg.API.IdleTimeout,
		}, statusapi.Runtime{
			StoreOpen: storeFactory,
			Queue:     taskQueue,
			Token:     token,
			Workers:   workerNames,
		})
		go func() { statusDone <- statusServer.Start(ctx) }()
		logger.Info("status api enabled", "port", cfg.API.Port)
	} else {
		logger.Info("status api disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	logger.Info("fleetflowd is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
	case err := <-workerErrs:
		signal.Stop(sigChan)
		logger.Error("worker failed", "error", err)
		cancel()
	case err := <-statusDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("status api failed", "error", err)
		}
		cancel()
	}

	wg.Wait()
	logger.Info("fleetflowd stopped gracefully")
	return nil
}

// buildStoreFactory constructs the configured flow.StoreFactory and returns
// a close function releasing its underlying connection.
func buildStoreFactory(cfg *config.Config) (flow.StoreFactory, func() error, error) {
	switch cfg.Store.Type {
	case "sql":
		f, err := sqlstore.Open(sqlstore.Config{
			DSN:          cfg.Store.SQL.DSN,
			AutoMigrate:  true,
			MaxOpenConns: cfg.Store.SQL.MaxOpenConns,
			MaxIdleConns: cfg.Store.SQL.MaxIdleConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	default:
		f, err := badgerstore.Open(badgerstore.Config{
			Path:             cfg.Store.Badger.Path,
			ValueLogFileSize: int64(cfg.Store.Badger.ValueLogFileSize),
		})
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
