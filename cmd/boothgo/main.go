package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cjeanneret/BoothGo/internal/config"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/hw/gpio"
	"github.com/cjeanneret/BoothGo/internal/hw/trigger"
	"github.com/cjeanneret/BoothGo/internal/logic/pipeline"
	"github.com/cjeanneret/BoothGo/internal/logic/session"
	"github.com/cjeanneret/BoothGo/internal/sink"
	"github.com/cjeanneret/BoothGo/internal/web"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	var (
		cfgPath  string
		webPort  int
		mockGPIO bool
	)

	root := &cobra.Command{
		Use:     "boothgo",
		Short:   "Raspberry Pi photo booth controller",
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("web") {
				cfg.Defaults.WebPort = webPort
			}
			if cmd.Flags().Changed("mock-gpio") {
				cfg.Defaults.MockGPIO = mockGPIO
			}
			return run(cfg, cfgPath)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "configs/default.yaml", "path to config file")
	root.Flags().IntVar(&webPort, "web", 0, "web status page port (overrides config; 0 = config value)")
	root.Flags().BoolVar(&mockGPIO, "mock-gpio", false, "use mock GPIO driver (overrides config)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, cfgPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Logging: console always; mirrored to the status page when the
	// web surface is up, like the rig mirrors its debug output.
	var broadcaster *web.StatusBroadcaster
	writer := zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if cfg.Defaults.WebPort > 0 {
		broadcaster = web.NewStatusBroadcaster()
		writer = zerolog.MultiLevelWriter(
			zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
			web.BroadcastWriter(broadcaster),
		)
	}
	level, err := zerolog.ParseLevel(cfg.Defaults.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Defaults.LogLevel, err)
	}
	log := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	log.Info().Str("version", getVersion()).Bool("mock_gpio", cfg.Defaults.MockGPIO).Msg("starting boothgo")

	// GPIO driver
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Warn().Err(err).Msg("closing GPIO driver failed")
		}
	}()

	// Trigger: hardware button plus software trigger; either starts a session.
	gpioSource, err := trigger.NewGPIOSource(gpioDriver, trigger.GPIOConfig{
		Pin:            cfg.Trigger.Pin,
		ActiveLow:      cfg.Trigger.ActiveLow,
		Debounce:       cfg.Debounce(),
		PollInterval:   cfg.PollInterval(),
		ErrorThreshold: cfg.Trigger.ErrorThreshold,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("init trigger: %w", err)
	}
	softSource := trigger.NewSoftwareSource()
	events := trigger.Merge(gpioSource, softSource)
	defer events.Close()

	go func() {
		select {
		case <-gpioSource.Unavailable():
			log.Error().Msg("hardware trigger down, software trigger only")
			if broadcaster != nil {
				broadcaster.Broadcast("warn", "Button unavailable, use the on-screen trigger")
			}
		case <-ctx.Done():
		}
	}()

	// Camera
	cam, err := newCameraFromConfig(cfg, log)
	if err != nil {
		return fmt.Errorf("init camera: %w", err)
	}

	// Pipeline
	pl, err := buildPipeline(cfg, log)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	// Sinks
	storage, err := sink.NewStorage(sink.StorageConfig{
		Dir:       cfg.Storage.Dir,
		Prefix:    cfg.Storage.Prefix,
		MinFreeMB: cfg.Storage.MinFreeMB,
	})
	if err != nil {
		return err
	}
	sinks := []sink.Sink{storage}

	var display *sink.DisplaySink
	if broadcaster != nil {
		display = sink.NewDisplay(broadcaster)
		sinks = append(sinks, display)
	}
	if cfg.Printer.Enabled {
		printer, err := sink.NewPrint(&sink.LPSubmitter{
			Command: cfg.Printer.Command,
			Printer: cfg.Printer.Printer,
		}, cfg.Printer.PaperSize)
		if err != nil {
			return err
		}
		sinks = append(sinks, printer)
	}
	if cfg.WebDAV.Enabled {
		davCfg := sink.WebDAVConfig{
			URL:       cfg.WebDAV.URL,
			Username:  cfg.WebDAV.Username,
			Password:  cfg.WebDAV.Password,
			Folder:    cfg.WebDAV.Folder,
			ShareLink: cfg.WebDAV.ShareLink,
			Timeout:   cfg.WebDAVTimeout(),
		}
		if broadcaster != nil {
			davCfg.Notify = broadcaster
		}
		dav, err := sink.NewWebDAV(davCfg)
		if err != nil {
			return err
		}
		sinks = append(sinks, dav)
	}

	dispatchCfg := sink.DispatchConfig{
		Attempts:         cfg.Dispatch.Attempts,
		DeliverTimeout:   cfg.DeliverTimeout(),
		BackoffInitial:   cfg.BackoffBase(),
		BackoffMax:       cfg.BackoffMax(),
		ArchivalOptional: !*cfg.Dispatch.ArchivalRequired,
		Logger:           log,
		Rand:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if broadcaster != nil {
		dispatchCfg.Progress = func(r sink.Result) {
			broadcaster.Broadcast("warn", fmt.Sprintf("%s delivery retrying (attempt %d)", r.Sink, r.Attempts))
		}
	}
	dispatcher := sink.NewDispatcher(sinks, dispatchCfg)

	// Session controller
	var feedback session.Feedback
	if broadcaster != nil {
		feedback = web.Feedback{B: broadcaster}
	}
	controller := session.New(events.Events(), cam, pl, dispatcher, feedback,
		paramsFromConfig(cfg), session.Config{Logger: log})

	// Config hot reload, applied between sessions.
	watcher := config.NewWatcher(cfgPath, log)
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("config watcher stopped")
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newCfg := <-watcher.Updates():
				var proc session.Processor
				if newPl, err := buildPipeline(newCfg, log); err != nil {
					log.Error().Err(err).Msg("reloaded pipeline invalid, keeping previous")
				} else {
					proc = newPl
				}
				controller.Reconfigure(paramsFromConfig(newCfg), proc)
			}
		}
	}()

	// Web surface
	errCh := make(chan error, 2)
	if broadcaster != nil {
		handlers := web.NewHandlers(broadcaster, softSource.Fire, display, web.BoothInfo{
			Shots:            cfg.Session.Shots,
			CountdownSeconds: cfg.Session.CountdownSeconds,
			PipelineVersion:  cfg.Pipeline.Version,
		}, nil)
		srv, err := web.NewServer(fmt.Sprintf(":%d", cfg.Defaults.WebPort), handlers, log)
		if err != nil {
			return err
		}
		go func() { errCh <- srv.Run(ctx) }()
	}

	go func() { errCh <- controller.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		return nil
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

// newCameraFromConfig selects a capture driver based on configuration.
func newCameraFromConfig(cfg *config.Config, log zerolog.Logger) (*camera.Device, error) {
	var driver camera.Driver
	switch cfg.Camera.Type {
	case "libcamera":
		driver = camera.NewLibcameraDriver(cfg.Camera.Command, cfg.Camera.ExtraArgs...)
	case "pattern":
		driver = camera.NewPatternDriver(0, 0)
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
	return camera.NewDevice(driver, camera.DeviceConfig{
		CaptureTimeout: cfg.CaptureTimeout(),
		Warmup:         cfg.Warmup(),
		Logger:         log,
	}), nil
}

// buildPipeline resolves the configured transform list.
func buildPipeline(cfg *config.Config, log zerolog.Logger) (*pipeline.Pipeline, error) {
	stepCfgs := make([]pipeline.StepConfig, 0, len(cfg.Pipeline.Transforms))
	for _, t := range cfg.Pipeline.Transforms {
		stepCfgs = append(stepCfgs, pipeline.StepConfig{
			Name:      t.Name,
			Mandatory: t.Mandatory,
			Params:    t.Params,
		})
	}
	steps, err := pipeline.Build(stepCfgs)
	if err != nil {
		return nil, err
	}
	return pipeline.New(cfg.Pipeline.Version, steps, pipeline.WithLogger(log)), nil
}

// paramsFromConfig maps the config file onto session parameters.
func paramsFromConfig(cfg *config.Config) session.Params {
	return session.Params{
		Shots:                cfg.Session.Shots,
		CountdownSeconds:     cfg.Session.CountdownSeconds,
		ShotCountdownSeconds: cfg.Session.ShotCountdownSeconds,
		Cooldown:             cfg.Cooldown(),
		QueueTrigger:         cfg.Session.QueueTrigger,
		ShotRetries:          cfg.Session.ShotRetries,
		ProceedOnPartial:     cfg.Session.ProceedOnPartial,
	}
}
