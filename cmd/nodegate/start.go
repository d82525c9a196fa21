package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/blockstore"
	"github.com/blockberries/nodegate/config"
	"github.com/blockberries/nodegate/gateway"
	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/status"
	tracing "github.com/blockberries/nodegate/tracing/otel"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the gateway over the configured chain store.

The gateway runs until interrupted (Ctrl+C) or it receives a termination signal.

Example:
  nodegate start --config config.toml`,
	RunE: runStart,
}

const tracerFlushTimeout = 5 * time.Second

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.EnsureDataDirs(); err != nil {
		return err
	}

	logger, closeLog, err := createLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	var m metrics.Metrics = metrics.NewNopMetrics()
	if cfg.Metrics.Enabled {
		m = metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)
	}

	tracer := tracing.NewTracer(cfg.Tracing.ServiceName)
	if cfg.Tracing.Exporter != "none" && cfg.Tracing.Exporter != "" {
		t, shutdown, err := tracing.SetupGlobalTracer(cfg.Tracing.ProviderConfig(Version))
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		tracer = t
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), tracerFlushTimeout)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("flushing traces", logging.Error(err))
			}
		}()
	}

	store, err := openStore(cfg.BlockStore)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing block store", logging.Error(err))
		}
	}()

	resolver := status.NewResolver(store, status.StoreFlags{Store: store}, cfg.Limits.ResolverConfig(),
		status.WithLogger(logger),
		status.WithMetrics(m),
		status.WithTracer(tracer),
	)

	gate := auth.NewGate(cfg.Auth.GateConfig())
	if !gate.Required() {
		logger.Warn("no secret configured, every caller is granted the secret role")
	}

	gw, err := gateway.New(cfg.GatewayConfig(), resolver, gate,
		gateway.WithLogger(logger),
		gateway.WithMetrics(m),
		gateway.WithTracer(tracer),
	)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	logger.Info("starting nodegate",
		slog.String("version", Version),
		slog.String("backend", cfg.BlockStore.Backend),
	)
	if err := gw.Start(); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	logger.Info("gateway listening",
		logging.Address(gw.Addr().String()),
		slog.String("query_path", cfg.Gateway.QueryPath),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return gw.Stop()
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stopping gateway: %w", err)
	}

	logger.Info("gateway stopped gracefully")
	return nil
}

// openStore opens the configured backend behind a header cache when one is sized.
func openStore(cfg config.BlockStoreConfig) (blockstore.Writer, error) {
	store, err := blockstore.Open(cfg.Backend, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening block store: %w", err)
	}
	if cfg.CacheSize == 0 {
		return store, nil
	}
	cached, err := blockstore.NewCachedBlockStore(store, cfg.CacheSize)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return cached, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// createLogger builds the process logger. The returned closer releases a
// log file when Output names one.
func createLogger(cfg config.LoggingConfig) (*logging.Logger, io.Closer, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "stdout":
		w = os.Stdout
	case "stderr", "":
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w, closer = f, f
	}

	if cfg.Format == "json" {
		return logging.NewJSONLogger(w, level), closer, nil
	}
	return logging.NewTextLogger(w, level), closer, nil
}
