package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/petems/admute/internal/api"
	"github.com/petems/admute/internal/app"
	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/config"
	"github.com/petems/admute/internal/logging"
	"github.com/petems/admute/internal/observe"
	"github.com/petems/admute/internal/offline"
	"github.com/petems/admute/internal/permissions"
	"github.com/petems/admute/internal/tray"
	"github.com/petems/admute/internal/volume"
	"github.com/petems/admute/internal/whisper"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: per-user config dir)")
	withTray := flag.Bool("tray", false, "run with a menu bar icon instead of listening immediately")
	flag.Usage = usage
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Str("path", path).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch flag.Arg(0) {
	case "":
		err = run(ctx, cfg, path, *withTray, log)
	case "devices":
		err = listDevices(cfg)
	case "filter":
		if flag.NArg() != 3 {
			usage()
			os.Exit(2)
		}
		err = filter(ctx, cfg, flag.Arg(1), flag.Arg(2), log)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("admute failed")
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: admute [flags] [command]

Commands:
  (none)              listen to the input device and mute the speakers during ads
  devices             list input devices
  filter <in> <out>   remove ads from a WAV or MP3 recording, writing WAV

Flags:
`)
	flag.PrintDefaults()
}

func run(ctx context.Context, cfg *config.Config, path string, withTray bool, log zerolog.Logger) error {
	// macOS requires explicit microphone approval before capture works
	if err := permissions.EnsureMicrophone(log); err != nil {
		return err
	}

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown error")
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	source, err := audio.New(cfg.Audio)
	if err != nil {
		return fmt.Errorf("initialize audio: %w", err)
	}
	defer source.Close()

	vol, err := volume.New(cfg.Volume, log)
	if err != nil {
		return fmt.Errorf("initialize volume control: %w", err)
	}

	classifier, err := whisper.New(ctx, cfg.Classifier, log)
	if err != nil {
		return fmt.Errorf("initialize classifier: %w", err)
	}
	defer classifier.Close()

	application := app.New(app.Config{
		Source:     source,
		Classifier: classifier,
		Volume:     vol,
		Config:     cfg,
		ConfigPath: path,
		Logger:     log,
		Metrics:    metrics,
	})
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	if cfg.API.Listen != "" {
		server := api.NewServer(application, log)
		application.AddSink(server)
		go func() {
			serverErr <- server.Listen(ctx, cfg.API.Listen)
		}()
	}

	log.Info().Str("version", Version).Bool("tray", withTray).Msg("AdMute starting...")

	if withTray {
		trayUI := tray.New(application, cfg, Version, Commit, log, cancel)
		application.SetStatusUpdater(trayUI)
		// Start tray UI - MUST run on main thread
		return trayUI.Run(ctx)
	}

	if err := application.StartListening(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down...")
		return nil
	case err := <-serverErr:
		return fmt.Errorf("control server: %w", err)
	}
}

func listDevices(cfg *config.Config) error {
	source, err := audio.New(cfg.Audio)
	if err != nil {
		return err
	}
	defer source.Close()

	devices, err := source.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, d.Name)
	}
	return nil
}

func filter(ctx context.Context, cfg *config.Config, in, out string, log zerolog.Logger) error {
	classifier, err := whisper.New(ctx, cfg.Classifier, log)
	if err != nil {
		return fmt.Errorf("initialize classifier: %w", err)
	}
	defer classifier.Close()

	opts := offline.Options{Segment: cfg.Pipeline.SegmentDuration}
	if cfg.Pipeline.PadTail {
		opts.Tail = audio.PadTail
	}
	report, err := offline.Filter(ctx, classifier, in, out, opts, log)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil {
		return encErr
	}
	return err
}
