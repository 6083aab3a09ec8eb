package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/patrolkit/engine/internal/alerts"
	"github.com/patrolkit/engine/internal/api"
	"github.com/patrolkit/engine/internal/bus"
	"github.com/patrolkit/engine/internal/config"
	"github.com/patrolkit/engine/internal/dispatcher"
	"github.com/patrolkit/engine/internal/engine"
	"github.com/patrolkit/engine/internal/influx"
	"github.com/patrolkit/engine/internal/link"
	"github.com/patrolkit/engine/internal/logging"
	"github.com/patrolkit/engine/internal/monitor"
	intOtel "github.com/patrolkit/engine/internal/otel"
	"github.com/patrolkit/engine/internal/routes"
	"github.com/patrolkit/engine/internal/schedule"
	"github.com/patrolkit/engine/internal/store"
	"github.com/patrolkit/engine/internal/targets"
	"github.com/patrolkit/engine/internal/tracker"
	"github.com/patrolkit/engine/internal/worker"
	"github.com/patrolkit/engine/pkg/core"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// AppName is used for log and config file naming. Version can be set at
// build time via ldflags.
var (
	AppName          = "patrold"
	Version          = "0.0.1"
	BuildDate        = "unknown"
	SessionStartTime = time.Now()
)

// trackingPublisher observes outbound commands to keep the waypoint tracker
// in step with the mission lifecycle before handing them to the bus.
type trackingPublisher struct {
	out     *bus.CommandBus
	tracker *tracker.Tracker
}

func (p *trackingPublisher) observe(cmd core.Command) {
	switch cmd.Kind {
	case core.CmdStart:
		if cmd.Start != nil {
			p.tracker.Begin(cmd.Start.Kind, len(cmd.Start.Vertices))
		}
	case core.CmdStop, core.CmdEmergencyStop:
		p.tracker.End()
	}
}

func (p *trackingPublisher) Publish(cmd core.Command) {
	p.observe(cmd)
	p.out.Publish(cmd)
}

func (p *trackingPublisher) PublishUrgent(cmd core.Command) {
	p.observe(cmd)
	p.out.PublishUrgent(cmd)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func run() error {
	configDir := "."
	if v := os.Getenv("PATROLD_CONFIG_DIR"); v != "" {
		configDir = v
	}

	// Bootstrap logging to stderr until the config tells us where logs go.
	slogManager := logging.NewSlogManager()
	slogManager.Setup(os.Stderr, "info", nil)
	logger := slogManager.Logger()

	if err := config.Load(configDir); err != nil {
		logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		logger.Info("Loaded config")
	}

	logsDir := viper.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		os.MkdirAll(logsDir, 0755)
	}

	logFilePath := logging.LogFilePath(logsDir, AppName, SessionStartTime)
	if _, err := os.Stat(logFilePath); err == nil {
		os.Rename(logFilePath, logFilePath+".old")
	}
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		logger.Error("Failed to create/open log file!", "error", err, "path", logFilePath)
	} else {
		defer logFile.Close()
	}

	// OTel provider if enabled.
	var otelProvider *intOtel.Provider
	var otelLogProvider *sdklog.LoggerProvider
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    logFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			otelLogProvider = otelProvider.LoggerProvider()
			logger.Info("OTel provider initialized", "file", logFilePath, "endpoint", otelCfg.Endpoint)
		}
	}

	// Optional GELF sink for Graylog.
	var extraSinks []io.Writer
	if viper.GetBool("graylog.enabled") {
		gelfWriter, err := gelf.NewWriter(viper.GetString("graylog.address"))
		if err != nil {
			logger.Error("Failed to connect GELF writer", "error", err, "address", viper.GetString("graylog.address"))
		} else {
			extraSinks = append(extraSinks, gelfWriter)
		}
	}

	// Re-setup logging with file output and optional OTel/GELF sinks.
	slogManager.Setup(logFile, viper.GetString("logLevel"), otelLogProvider, extraSinks...)
	logger = slogManager.Logger()
	logger.Info("Starting", "app", AppName, "version", Version, "buildDate", BuildDate)

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	// Persistence for settings, routes, detections and schedule.
	persist, err := store.New(viper.GetString("store.type"), zlog)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	routeStore := routes.NewStore(persist, logger)

	outbound := bus.New(256)
	alertBus := bus.New(64)

	waypoints := tracker.New()

	eng := engine.New(engine.Dependencies{
		Routes:  routeStore,
		Out:     &trackingPublisher{out: outbound, tracker: waypoints},
		Persist: persist,
		Log:     logger,
	})

	// Stamp mission context onto every log record.
	slogManager.SetContextProvider(func() []slog.Attr {
		m := eng.Snapshot()
		if m.Status == core.StatusStopped {
			return nil
		}
		return []slog.Attr{
			slog.String("mission_status", string(m.Status)),
			slog.String("route", m.ActiveRouteID),
		}
	})

	pipeline := alerts.New(eng, alertBus, persist, logger)

	targetRegistry := targets.NewRegistry(persist, logger, eng.UpdateCustomTargets)
	if custom := targetRegistry.List(); len(custom) > 0 {
		if err := eng.UpdateCustomTargets(custom); err != nil {
			logger.Warn("Failed to push custom targets to unit", "error", err)
		}
	}

	evaluator := schedule.NewEvaluator(eng, persist, logger)

	// Metrics sink, optional.
	var recorder worker.TelemetryRecorder
	var missionRecorder monitor.MissionRecorder
	influxManager := influx.NewManager(zlog, viper.GetString("influx.backupPath"))
	if viper.GetBool("influx.enabled") {
		if err := influxManager.Connect(); err != nil {
			logger.Warn("InfluxDB unavailable, metrics buffered to backup file", "error", err)
		}
		influxManager.CreateWriters()
		recorder = influxManager
		missionRecorder = influxManager
		defer influxManager.Close()
	}

	// Inbound event fan-out.
	dispatcherLogger := logging.NewDispatcherLogger(zlog)
	disp, err := dispatcher.New(dispatcherLogger)
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	workers := worker.NewManager(worker.Dependencies{
		Mission:    eng,
		Detections: pipeline,
		Progress:   waypoints,
		Recorder:   recorder,
	})
	workers.RegisterHandlers(disp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Unit link: outbound commands and inbound telemetry.
	unitCfg := config.GetUnitConfig()
	channel := link.New(outbound, disp, logger)
	if err := channel.Dial(unitCfg.URL, unitCfg.Secret); err != nil {
		logger.Warn("Unit not reachable yet, will retry on first command", "error", err, "url", unitCfg.URL)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		channel.Run(ctx)
	}()

	// Webhook notifier drains presentation intents.
	notifier := api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey"))
	if err := notifier.Healthcheck(); err != nil {
		logger.Warn("Notification server unreachable", "error", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		runNotifier(ctx, alertBus, notifier, logger)
	}()

	// Detection history flusher.
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Run(ctx, viper.GetDuration("detections.flushInterval"))
	}()

	// Schedule evaluator.
	wg.Add(1)
	go func() {
		defer wg.Done()
		evaluator.Run(ctx)
	}()

	// Status monitor.
	monitorService := monitor.NewService(monitor.Dependencies{
		Mission:   eng,
		Progress:  waypoints,
		Outbound:  outbound,
		Recorder:  missionRecorder,
		Logger:    logger,
		StatusDir: logsDir,
		Interval:  time.Second,
	})
	if err := monitorService.Start(); err != nil {
		logger.Error("Failed to start status monitor", "error", err)
	}

	logger.Info("Patrol engine running", "routes", routeStore.Len(), "unit", unitCfg.URL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", "signal", sig.String())

	// Stop an active patrol before dropping the link.
	if eng.Status() != core.StatusStopped {
		if err := eng.Stop(); err != nil {
			logger.Error("Failed to stop mission on shutdown", "error", err)
		}
	}

	cancel()
	monitorService.Stop()
	wg.Wait()

	pipeline.Flush()
	if err := channel.Close(); err != nil {
		logger.Debug("Link close", "error", err)
	}
	if otelProvider != nil {
		otelProvider.Shutdown(context.Background())
	}
	if err := slogManager.Flush(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: log flush: %v\n", AppName, err)
	}
	return nil
}

// runNotifier delivers alert intents to the operator's surfaces. Sound and
// capture intents are presentation hints with no server side effect beyond
// the webhook; only notify intents leave the process.
func runNotifier(ctx context.Context, intents *bus.CommandBus, notifier *api.Client, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-intents.Receive():
			if !ok {
				return
			}
			switch cmd.Kind {
			case core.CmdNotify:
				if cmd.Notify == nil {
					continue
				}
				if err := notifier.Notify(*cmd.Notify, cmd.Time); err != nil {
					logger.Error("Failed to deliver notification", "error", err, "type", cmd.Notify.Target)
				}
			case core.CmdSoundAlert:
				logger.Info("Alert sound requested")
			case core.CmdCaptureArchived:
				if cmd.Notify != nil {
					logger.Info("Detection photo archived", "image", cmd.Notify.ImageRef)
				}
			}
		}
	}
}
