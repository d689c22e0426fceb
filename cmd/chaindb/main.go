package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/INLOpen/chaindb/command"
	"github.com/INLOpen/chaindb/compressors"
	"github.com/INLOpen/chaindb/config"
	"github.com/INLOpen/chaindb/core"
	"github.com/INLOpen/chaindb/engine"
	"github.com/INLOpen/chaindb/hooks"
	"github.com/INLOpen/chaindb/hooks/listeners"
	"github.com/INLOpen/chaindb/server"
	"github.com/INLOpen/chaindb/wal"
	"golang.org/x/term"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const metricsPrefix = "chaindb_"

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates an OpenTelemetry TracerProvider exporting over
// OTLP when tracing is enabled.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Info("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("chaindb")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		logger.Info("Shutting down tracer provider...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}
	return tp, cleanup, nil
}

// engineOptions maps the engine section of cfg onto StorageEngineOptions.
func engineOptions(cfg *config.Config, logger *slog.Logger) (engine.StorageEngineOptions, error) {
	if cfg.Engine.DataDir == "" {
		return engine.StorageEngineOptions{}, errors.New("engine data_dir must be specified")
	}
	compressor, err := compressors.ForName(cfg.Engine.Segment.Compression)
	if err != nil {
		if core.IsUnsupportedError(err) {
			return engine.StorageEngineOptions{}, fmt.Errorf("segment compression %q is not one of none, snappy, lz4, zstd: %w", cfg.Engine.Segment.Compression, err)
		}
		return engine.StorageEngineOptions{}, fmt.Errorf("invalid segment compression: %w", err)
	}
	return engine.StorageEngineOptions{
		DataDir:                cfg.Engine.DataDir,
		TableSize:              cfg.Engine.TableSize,
		PartitionSize:          cfg.Engine.Segment.PartitionSize,
		MaxPendingFlushes:      cfg.Engine.MaxPendingFlushes,
		PartitionCacheCapacity: cfg.Engine.Cache.PartitionCacheCapacity,
		WALSyncMode:            wal.WALSyncMode(strings.ToLower(cfg.Engine.WAL.SyncMode)),
		SSTableCompressor:      compressor,
		LockTimeout:            config.ParseDuration(cfg.Engine.LockTimeout, engine.DefaultLockTimeout, logger),
		Logger:                 logger,
	}, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	dataDir := flag.String("data-dir", "", "Override engine.data_dir from the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Engine.DataDir = *dataDir
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prompt := ""
	if term.IsTerminal(int(os.Stdin.Fd())) {
		prompt = command.DefaultPrompt
	}
	if err := run(ctx, cfg, logger, os.Stdin, os.Stdout, prompt); err != nil {
		logger.Error("chaindb exited with an error", "error", err)
		fmt.Fprintf(os.Stderr, "chaindb: %v\n", err)
		if logCloser != nil {
			logCloser.Close()
		}
		os.Exit(1)
	}
}

// run opens the engine described by cfg and serves commands from in until
// EOF, exit, an engine error or ctx cancellation.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, in io.Reader, out io.Writer, prompt string) (err error) {
	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer provider: %w", err)
	}
	defer tracerCleanup()

	opts, err := engineOptions(cfg, logger)
	if err != nil {
		return err
	}
	hookManager := hooks.NewHookManager(logger.With("component", "HookManager"))
	listeners.NewFlushStatsListener(logger).Register(hookManager)
	opts.HookManager = hookManager
	opts.TracerProvider = tp
	opts.Metrics = engine.NewEngineMetrics(cfg.Debug.Enabled && cfg.Debug.MetricsEnabled, metricsPrefix)

	logger.Info("Opening storage engine", "data_dir", opts.DataDir)
	eng, err := engine.Open(opts)
	if err != nil {
		if core.IsIOError(err) {
			logger.Error("Data directory is not usable", "data_dir", opts.DataDir, "error", err)
		}
		return fmt.Errorf("failed to open storage engine: %w", err)
	}
	defer func() {
		if closeErr := eng.Close(); closeErr != nil {
			logger.Error("Failed to close storage engine", "error", closeErr)
			err = errors.Join(err, closeErr)
		}
	}()

	if cfg.Debug.Enabled {
		metricSrv := server.NewMetricsServer(&cfg.Debug, eng, logger)
		go func() {
			if err := metricSrv.Start(); err != nil {
				logger.Error("Failed to start debug server", "error", err)
			}
		}()
		defer metricSrv.Stop()

		interval := config.ParseDuration(cfg.Debug.SystemCollectorInterval, server.DefaultCollectorInterval, logger)
		systemCollector := server.NewSystemCollector(metricsPrefix, opts.DataDir, interval, logger)
		systemCollector.Start()
		defer systemCollector.Stop()
	}

	session := command.NewSession(command.NewExecutor(eng, logger), in, out, prompt)
	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- session.Run(ctx)
	}()

	select {
	case err := <-sessionErr:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-ctx.Done():
		// The session may be blocked reading input; the engine is closed
		// regardless and the reader goroutine is abandoned at exit.
		logger.Info("Shutdown signal received.")
		return nil
	}
}
