package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"launchwatch/config"
	"launchwatch/internal/dashboard"
	"launchwatch/internal/events"
	"launchwatch/internal/extract"
	"launchwatch/internal/feed"
	"launchwatch/internal/formatter"
	"launchwatch/internal/metrics"
	"launchwatch/internal/monitor"
	"launchwatch/internal/notifier"
	"launchwatch/internal/stats"
	"launchwatch/internal/store"
	"launchwatch/internal/writer"
	"launchwatch/logger"
)

func runCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the feed and announce new listings",
		Long: `Run the poll loop, the dashboard and the optional Kafka and S3 writers
until SIGINT or SIGTERM.

Examples:
  # Run continuously
  launchwatch run

  # Run a single cycle and exit
  launchwatch run --once`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run exactly one cycle and exit")
	return cmd
}

// pipeline holds the components shared by the loop and the dashboard.
type pipeline struct {
	store   *store.Store
	bus     *events.Bus
	sink    *stats.Sink
	monitor *monitor.Monitor
}

func (p *pipeline) close() {
	p.bus.Close()
	if err := p.store.Close(); err != nil {
		logger.GetLogger().WithComponent("main").WithError(err).Warn("failed to close store")
	}
}

func buildPipeline(ctx context.Context, cfg *config.Config, log *logger.Log) (*pipeline, error) {
	st, err := store.Open(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	bus := events.NewBus(log)
	sink, err := stats.NewSink(ctx, st, bus, log)
	if err != nil {
		bus.Close()
		st.Close()
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	mon := monitor.New(monitor.Deps{
		Source:    feed.NewClient(cfg.Feed, log),
		Extractor: extract.New(extract.WithPoolIDFallback(cfg.Feed.AllowPoolIDFallback)),
		Store:     st,
		Formatter: formatter.New(cfg.Formatter),
		Notifier:  buildNotifier(ctx, cfg, log),
		Stats:     sink,
		Bus:       bus,
		Log:       log,
	}, monitor.OptionsFromConfig(cfg))

	return &pipeline{store: st, bus: bus, sink: sink, monitor: mon}, nil
}

// buildNotifier returns the Telegram client, or a log notifier when Telegram
// is disabled. Connection problems at startup are only logged.
func buildNotifier(ctx context.Context, cfg *config.Config, log *logger.Log) notifier.Notifier {
	entry := log.WithComponent("telegram")
	if !cfg.Telegram.Enabled {
		entry.Warn("telegram disabled; announcements are written to the log")
		return notifier.NewLogNotifier(log)
	}

	tg := notifier.NewTelegram(cfg.Telegram, log)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Telegram.Timeout)
	defer cancel()
	username, err := tg.Ping(pingCtx)
	if err != nil {
		entry.WithError(err).Warn("telegram connection test failed")
		return tg
	}
	entry.WithFields(logger.Fields{"bot": username}).Info("telegram connection ok")

	if cfg.Telegram.StartupMessage {
		if err := tg.SendStartupMessage(pingCtx, cfg.Formatter.PlatformName); err != nil {
			entry.WithError(err).Warn("failed to send startup message")
		}
	}
	return tg
}

func runMonitor(once bool) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	mainLog := log.WithComponent("main")
	mainLog.WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting launchwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Init()
	if cfg.Metrics.CloudWatch.Enabled {
		cw := cfg.Metrics.CloudWatch
		metrics.InitCloudWatch(cw.Region, cw.Namespace, cw.Dashboard)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.close()

	if once {
		res := p.monitor.RunCycle(ctx)
		mainLog.WithFields(logger.Fields{
			"fetched":   res.Fetched,
			"announced": res.Announced,
			"failures":  res.DeliveryFailures,
		}).Info("single cycle finished")
		if res.FetchErr != nil {
			return res.FetchErr
		}
		return nil
	}

	var wg sync.WaitGroup

	kafkaPub, archiver := startWriters(ctx, cfg, p.bus, log)

	dash, err := dashboard.NewServer(cfg.Dashboard, dashboard.Deps{
		Announcements: p.store,
		Stats:         p.sink,
		Loop:          p.monitor,
		Bus:           p.bus,
		Prometheus:    cfg.Metrics.Prometheus,
	}, log)
	if err != nil {
		return err
	}
	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx, cfg.App.Name); err != nil {
				log.WithComponent("dashboard").WithError(err).Error("dashboard stopped")
			}
		}()
	}

	p.monitor.Start(ctx)
	mainLog.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		mainLog.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-p.monitor.Done():
		mainLog.Warn("monitor loop exited")
	}

	mainLog.Info("starting graceful shutdown")

	mainLog.Info("stopping monitor")
	p.monitor.Stop()

	if kafkaPub != nil {
		mainLog.Info("stopping kafka writer")
		if err := kafkaPub.Stop(); err != nil {
			mainLog.WithError(err).Warn("failed to close kafka writer")
		}
	}
	if archiver != nil {
		mainLog.Info("stopping S3 archiver")
		archiver.Stop()
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		mainLog.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		mainLog.Warn("graceful shutdown timeout exceeded")
	}

	mainLog.Info("launchwatch stopped")
	return nil
}

func startWriters(ctx context.Context, cfg *config.Config, bus *events.Bus, log *logger.Log) (*writer.KafkaPublisher, *writer.S3Archiver) {
	var (
		kafkaPub *writer.KafkaPublisher
		archiver *writer.S3Archiver
	)
	if cfg.Kafka.Enabled {
		pub, err := writer.NewKafkaPublisher(cfg.Kafka, log)
		if err != nil {
			log.WithComponent("kafka_writer").WithError(err).Error("failed to create kafka writer")
		} else if err := pub.Start(ctx, bus); err != nil {
			log.WithComponent("kafka_writer").WithError(err).Error("failed to start kafka writer")
		} else {
			kafkaPub = pub
		}
	}
	if cfg.Archive.Enabled {
		a, err := writer.NewS3Archiver(ctx, cfg.Archive, cfg.App.Version, log)
		if err != nil {
			log.WithComponent("s3_archiver").WithError(err).Error("failed to create S3 archiver")
		} else if err := a.Start(ctx, bus); err != nil {
			log.WithComponent("s3_archiver").WithError(err).Error("failed to start S3 archiver")
		} else {
			archiver = a
		}
	}
	return kafkaPub, archiver
}
