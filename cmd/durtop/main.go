package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nixlim/durtop/internal/alerts"
	"github.com/nixlim/durtop/internal/anomaly"
	"github.com/nixlim/durtop/internal/config"
	"github.com/nixlim/durtop/internal/events"
	"github.com/nixlim/durtop/internal/logging"
	"github.com/nixlim/durtop/internal/processor"
	"github.com/nixlim/durtop/internal/receiver"
	"github.com/nixlim/durtop/internal/storage"
	"github.com/nixlim/durtop/internal/tui"
)

func main() {
	configFlag := flag.String("config", "", "Path to config file (default ~/.config/durtop/config.toml)")
	debugFlag := flag.String("debug", "", "Write every received record (JSONL) to the specified file path")
	headlessFlag := flag.Bool("headless", false, "Run without the dashboard until SIGINT or SIGTERM")
	checkFlag := flag.Bool("check", false, "Validate the config, print the configured alerts and exit")
	flag.Parse()

	if *checkFlag {
		os.Exit(runCheck(*configFlag, os.Stdout, os.Stderr))
	}

	loadResult, err := loadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "durtop: config error: %v\n", err)
		os.Exit(1)
	}
	cfg := loadResult.Config

	logger, closeLog, err := newLogger(cfg.Logging, *headlessFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "durtop: logging error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	for _, w := range loadResult.Warnings {
		fmt.Fprintf(os.Stderr, "durtop: config warning: %s\n", w)
		logger.Warn("config warning", zap.String("warning", w))
	}

	store, isPersistent, err := storage.NewStore(cfg.Storage, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "durtop: storage error: %v\n", err)
		os.Exit(1)
	}

	feed := events.NewRingBuffer(cfg.Display.EventBufferSize)
	notifier := alerts.NewPlatformNotifier(cfg.Notifications.SystemNotify, logger)

	proc, err := processor.New(cfg.Alerts,
		processor.WithLogger(logger),
		processor.WithDimensionLimits(cfg.Limits.DimensionSoftLimit, cfg.Limits.DimensionHardLimit),
		processor.WithSink(store),
		processor.WithSink(alerts.Sink(notifier)),
		processor.WithSink(anomaly.SinkFunc(func(a anomaly.Anomaly) {
			feed.Add(events.FormatAnomaly(a))
		})),
	)
	if err != nil {
		_ = store.Close()
		fmt.Fprintf(os.Stderr, "durtop: %v\n", err)
		os.Exit(1)
	}
	proc.RestoreRefractory(store)
	proc.OnRecord(func(rec processor.Record) {
		feed.Add(events.FormatRecord(rec))
	})

	monitor := anomaly.NewMonitor(
		anomaly.WithPollInterval(time.Duration(cfg.Monitor.PollIntervalMS)*time.Millisecond),
		anomaly.WithMonitorLogger(logger),
	)
	for _, tr := range proc.Trackers() {
		monitor.Add(tr)
	}

	recvOpts := []receiver.Option{receiver.WithLogger(logger)}
	if *debugFlag != "" {
		debugFile, err := os.OpenFile(*debugFlag, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			_ = store.Close()
			fmt.Fprintf(os.Stderr, "durtop: failed to open debug log %q: %v\n", *debugFlag, err)
			os.Exit(1)
		}
		defer debugFile.Close()
		recvOpts = append(recvOpts, receiver.WithRecordLogger(receiver.NewFileLogger(debugFile)))
	}
	recv := receiver.New(cfg.Receiver, proc, recvOpts...)

	shutdownMgr := tui.NewShutdownManager()
	shutdownMgr.StopReceiver = func(context.Context) error {
		recv.Stop()
		return nil
	}
	shutdownMgr.StopMonitor = monitor.Stop
	shutdownMgr.CloseStore = store.Close

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			if err := shutdownMgr.Shutdown(); err != nil {
				logger.Error("shutdown", zap.Error(err))
			}
			logger.Info("durtop stopped")
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	monitor.Start(ctx)

	if err := recv.Start(ctx); err != nil {
		monitor.Stop()
		_ = store.Close()
		fmt.Fprintf(os.Stderr, "durtop: failed to start receivers: %v\n", err)
		os.Exit(1)
	}

	logger.Info("durtop started",
		zap.Int("alerts", len(cfg.Alerts)),
		zap.Strings("events", proc.Events()),
		zap.Int("grpc_port", cfg.Receiver.GRPCPort),
		zap.Int("http_port", cfg.Receiver.HTTPPort),
		zap.Bool("persistent", isPersistent),
	)

	if *headlessFlag {
		<-sigCh
		shutdown()
		return
	}

	// grpc and other libraries log through the standard logger, which would
	// corrupt the dashboard.
	log.SetOutput(io.Discard)

	model := tui.NewModel(cfg,
		tui.WithTrackerProvider(proc),
		tui.WithStateProvider(store),
		tui.WithEventProvider(feed),
		tui.WithPersistenceFlag(isPersistent),
		tui.WithOnShutdown(shutdown),
	)

	p := tea.NewProgram(model, tea.WithAltScreen())

	go func() {
		select {
		case <-sigCh:
			shutdown()
			p.Quit()
		case <-ctx.Done():
		}
	}()

	if _, err := p.Run(); err != nil {
		shutdown()
		fmt.Fprintf(os.Stderr, "durtop: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.LoadResult, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

// newLogger builds the file logger from cfg. Headless runs without a log file
// log JSON to stderr instead, since there is no dashboard to disturb.
func newLogger(cfg config.LoggingConfig, headless bool) (*zap.Logger, func(), error) {
	if cfg.File != "" || !headless {
		return logging.New(cfg)
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(logging.EncoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)
	logger := zap.New(core)
	return logger, func() { _ = logger.Sync() }, nil
}
