// Command audiostream moves raw audio bytes between a capture device, a
// render device, UDP datagrams and a TCP stream.
//
// Usage:
//
//	audiostream --source <address> --sink <address> [flags]
//
// Addresses:
//
//	udp://host:port  datagrams (sequence-checked with --counted-udp)
//	idc://host:port  reconnecting TCP stream
//	anything else    part of an audio device name
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/maximxlss/stupid-audio-stream/internal/config"
	"github.com/maximxlss/stupid-audio-stream/internal/device"
	"github.com/maximxlss/stupid-audio-stream/internal/metrics"
	"github.com/maximxlss/stupid-audio-stream/internal/pipeline"
	"github.com/maximxlss/stupid-audio-stream/internal/server"
	"github.com/maximxlss/stupid-audio-stream/internal/transport"
)

const (
	serviceName    = "stupid-audio-stream"
	serviceVersion = "1.0.0"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:           "audiostream",
		Short:         "Stream raw audio between devices and the network",
		Version:       serviceVersion,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
				return err
			}
			applyFlags(cmd, cfg, loaded)

			if err := loaded.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
				return err
			}

			return run(cmd.Context(), loaded, configPath)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	f.StringVar(&cfg.Stream.Source, "source", "", "Where to take audio from: udp://, idc:// or a capture device name")
	f.StringVar(&cfg.Stream.Sink, "sink", "", "Where to send audio to: udp://, idc:// or a render device name")
	f.IntVar(&cfg.Network.DatagramSize, "datagram-size", cfg.Network.DatagramSize, "Maximum datagram size in bytes")
	f.IntVar(&cfg.Stream.BufferLimit, "buffer-limit", cfg.Stream.BufferLimit, "Buffered bytes tolerated before overflow handling")
	f.BoolVar(&cfg.Stream.RestartOnBufferFilled, "restart-on-buffer-filled", false, "Restart source and sink on overflow instead of trimming")
	f.BoolVar(&cfg.Network.CountedUDP, "counted-udp", false, "Prefix datagrams with a sequence counter and check for loss")
	f.IntVar(&cfg.Audio.BitsPerSample, "bits-per-sample", cfg.Audio.BitsPerSample, "Device sample size in bits")
	f.IntVar(&cfg.Audio.SampleRate, "sample-rate", cfg.Audio.SampleRate, "Device sample rate in Hz")
	f.IntVar(&cfg.Audio.Channels, "channels", cfg.Audio.Channels, "Device channel count")
	f.BoolVar(&cfg.Audio.UseFloat, "use-float", false, "Use 32-bit float samples on devices")

	return cmd
}

// applyFlags copies explicitly set flags from flags over cfg
func applyFlags(cmd *cobra.Command, flags, cfg *config.Config) {
	set := cmd.Flags().Changed

	if set("source") {
		cfg.Stream.Source = flags.Stream.Source
	}
	if set("sink") {
		cfg.Stream.Sink = flags.Stream.Sink
	}
	if set("datagram-size") {
		cfg.Network.DatagramSize = flags.Network.DatagramSize
	}
	if set("buffer-limit") {
		cfg.Stream.BufferLimit = flags.Stream.BufferLimit
	}
	if set("restart-on-buffer-filled") {
		cfg.Stream.RestartOnBufferFilled = flags.Stream.RestartOnBufferFilled
	}
	if set("counted-udp") {
		cfg.Network.CountedUDP = flags.Network.CountedUDP
	}
	if set("bits-per-sample") {
		cfg.Audio.BitsPerSample = flags.Audio.BitsPerSample
	}
	if set("sample-rate") {
		cfg.Audio.SampleRate = flags.Audio.SampleRate
	}
	if set("channels") {
		cfg.Audio.Channels = flags.Audio.Channels
	}
	if set("use-float") {
		cfg.Audio.UseFloat = flags.Audio.UseFloat
	}
}

func run(ctx context.Context, cfg *config.Config, configPath string) error {
	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("source", cfg.Stream.Source),
		slog.String("sink", cfg.Stream.Sink),
		slog.String("format", cfg.Audio.Format().String()),
		slog.Int("buffer_limit", cfg.Stream.BufferLimit),
		slog.String("policy", cfg.Stream.Policy()),
		slog.Int("datagram_size", cfg.Network.DatagramSize),
		slog.Bool("counted_udp", cfg.Network.CountedUDP),
		slog.String("log_level", cfg.Logging.Level),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	opts := transport.Options{
		DatagramSize: cfg.Network.DatagramSize,
		Counted:      cfg.Network.CountedUDP,
		PollInterval: cfg.Network.GetPollIntervalDuration(),
		Format:       cfg.Audio.Format(),
		Opener:       device.System(),
		Logger:       logger,
		Metrics:      appMetrics,
	}

	source, err := transport.NewSource(cfg.Stream.Source, opts)
	if err != nil {
		logger.Error("Failed to create source", slog.String("error", err.Error()))
		return err
	}

	sink, err := transport.NewSink(cfg.Stream.Sink, opts)
	if err != nil {
		source.Close()
		logger.Error("Failed to create sink", slog.String("error", err.Error()))
		return err
	}

	policy, err := pipeline.ParsePolicy(cfg.Stream.Policy())
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Config{
		Limit:            cfg.Stream.BufferLimit,
		Alignment:        cfg.Alignment(),
		Policy:           policy,
		ReadinessTimeout: cfg.Stream.GetReadinessTimeoutDuration(),
	}, source, sink, logger, appMetrics)
	if err != nil {
		source.Close()
		sink.Close()
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Error("Error closing transports", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.Run(gctx)
	})

	if cfg.HTTP.Enabled {
		httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, p, registry, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			stop()
			g.Wait()
			return err
		}

		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Stop(shutdownCtx)
		})
	}

	logger.Info("Service started successfully, waiting for signals...")

	err = g.Wait()

	stats := p.Stats()
	logger.Info("Final pipeline statistics",
		slog.Uint64("cycles", stats.Cycles),
		slog.Uint64("bytes_in", stats.BytesIn),
		slog.Uint64("bytes_out", stats.BytesOut),
		slog.Uint64("bytes_trimmed", stats.BytesTrimmed),
		slog.Uint64("overflows", stats.Overflows),
		slog.Uint64("restarts", stats.Restarts),
	)

	if err != nil {
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

	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
