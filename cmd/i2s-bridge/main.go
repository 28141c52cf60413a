package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/i2s-serial-bridge/internal/bridge"
	"github.com/skypro1111/i2s-serial-bridge/internal/config"
	"github.com/skypro1111/i2s-serial-bridge/internal/metrics"
	"github.com/skypro1111/i2s-serial-bridge/internal/server"
	"github.com/skypro1111/i2s-serial-bridge/internal/sink"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "i2s-serial-bridge"
	serviceVersion    = "1.0.0"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "i2s-bridge",
		Short:        "Forward I2S capture batches to a serial line",
		Long:         `Captures 32-bit audio words, reverses them into wire byte order, buffers them in a ring and drains them in bounded chunks to a UART, file or stdout.`,
		Version:      serviceVersion,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")

	root.AddCommand(newValidateCmd(), newPortsCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print derived rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration %s is valid\n", configPath)
			fmt.Fprintf(out, "  bit clock:       %.0f Hz\n", cfg.Clock.BitClockHz())
			fmt.Fprintf(out, "  word clock:      %.0f Hz\n", cfg.Clock.WordClockHz())
			fmt.Fprintf(out, "  batch interval:  %v (%d words, %s)\n",
				cfg.GetBatchInterval(), cfg.Capture.BatchWords, cfg.Capture.Channels)
			fmt.Fprintf(out, "  stream rate:     %.0f B/s\n", cfg.StreamByteRate())
			fmt.Fprintf(out, "  sink rate:       %.0f B/s (%d baud)\n", cfg.SinkByteRate(), cfg.Sink.BaudRate)
			fmt.Fprintf(out, "  ring holds:      %.1f ms of stream\n",
				1000*float64(cfg.Buffer.Capacity)/cfg.StreamByteRate())
			if cfg.SinkByteRate() < cfg.StreamByteRate() {
				fmt.Fprintf(out, "  warning: sink is slower than the stream, the ring will overflow\n")
			}
			return nil
		},
	}
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := sink.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No serial ports found")
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func run(cfg *config.Config) error {
	// Logs never share stdout with the byte stream
	if cfg.Sink.Output == sink.OutputStdout && (cfg.Logging.Output == "stdout" || cfg.Logging.Output == "") {
		cfg.Logging.Output = "stderr"
	}
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("source", cfg.Capture.Source),
		slog.String("byte_order", cfg.Capture.ByteOrder),
		slog.String("channels", cfg.Capture.Channels),
		slog.Int("batch_words", cfg.Capture.BatchWords),
		slog.Int("ring_capacity", cfg.Buffer.Capacity),
		slog.String("overflow_policy", cfg.Buffer.OverflowPolicy),
		slog.Int("chunk_size", cfg.Drain.ChunkSize),
		slog.String("sink_output", cfg.Sink.Output),
		slog.Int("baud_rate", cfg.Sink.BaudRate),
		slog.String("log_level", cfg.Logging.Level),
	)

	if cfg.SinkByteRate() < cfg.StreamByteRate() {
		logger.Warn("Sink line rate is below the capture stream rate",
			slog.Float64("stream_byte_rate", cfg.StreamByteRate()),
			slog.Float64("sink_byte_rate", cfg.SinkByteRate()),
		)
	}

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	source, err := bridge.NewSource(cfg, logger)
	if err != nil {
		logger.Error("Failed to create capture source", slog.String("error", err.Error()))
		return err
	}

	out, err := sink.Open(bridge.OutputConfig(cfg), logger)
	if err != nil {
		logger.Error("Failed to open sink", slog.String("error", err.Error()))
		return err
	}
	defer out.Close()

	b, err := bridge.New(cfg, logger, appMetrics, source, out)
	if err != nil {
		logger.Error("Failed to create bridge", slog.String("error", err.Error()))
		return err
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, b, appMetrics, prometheus.DefaultGatherer)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()
		return b.Run(gctx)
	})

	if httpServer != nil {
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return httpServer.Stop(shutdownCtx)
		})
	}

	logger.Info("Service started successfully, waiting for signals...")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Service stopped with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Service stopped")
	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	output := logOutput(cfg.Output)

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

// logOutput resolves the logging destination. A log file that cannot be
// opened falls back to stderr, since stdout may carry the sink byte stream.
func logOutput(name string) *os.File {
	switch name {
	case "stderr":
		return os.Stderr
	case "stdout", "":
		return os.Stdout
	}

	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", name, err)
		return os.Stderr
	}
	return file
}
