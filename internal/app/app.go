package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	server "palm-pilots/server"
	"palm-pilots/server/internal/config"
	servernet "palm-pilots/server/internal/net"
	"palm-pilots/server/internal/net/intake"
	"palm-pilots/server/internal/net/relay"
	"palm-pilots/server/internal/net/stream"
	"palm-pilots/server/internal/net/ws"
	"palm-pilots/server/internal/observability"
	"palm-pilots/server/internal/sim"
	"palm-pilots/server/internal/telemetry"
	"palm-pilots/server/logging"
	logginglifecycle "palm-pilots/server/logging/lifecycle"
	loggingsimulation "palm-pilots/server/logging/simulation"
	loggingsinks "palm-pilots/server/logging/sinks"
)

const (
	shutdownTimeout = 5 * time.Second

	metricTickOverruns  = "sim_tick_overruns_total"
	metricQueueWarnings = "sim_command_queue_warnings_total"
)

type Config struct {
	Settings config.Config
	// Logger replaces the zap-backed process logger for plain-text diagnostics.
	Logger telemetry.Logger
	// Listener, when set, is served instead of binding Settings.Listen.
	Listener net.Listener
	// Ready is called with the bound address once the server accepts connections.
	Ready func(addr string)
}

// Run starts the simulation loop, the viewer hub, the command relay and any
// remote command sources, and serves HTTP until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	settings := cfg.Settings
	if err := settings.Validate(); err != nil {
		return err
	}
	obsCfg := settings.ObservabilityConfig()

	zapLogger, err := observability.NewLogger(obsCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to construct logger: %w", err)
	}
	defer zapLogger.Sync()

	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapZap(zapLogger)
	}

	routerMetrics := &logging.Metrics{}
	metricSinks := []telemetry.Metrics{telemetry.WrapMetrics(routerMetrics)}
	if obsCfg.OTelMetrics {
		metricSinks = append(metricSinks, observability.NewOTelMetrics(observability.Meter(), func(key string, err error) {
			logger.Printf("failed to create otel instrument %s: %v", key, err)
		}))
	}
	metrics := telemetry.FanOut(metricSinks...)

	logCfg := settings.Logging()
	sinks, err := buildSinks(logCfg, zapLogger)
	if err != nil {
		return err
	}
	router, err := logging.NewRouter(logCfg, logging.SystemClock{}, logger, routerMetrics, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	simCfg, err := settings.Simulation()
	if err != nil {
		return err
	}

	var loop *sim.Loop
	tick := func() uint64 {
		if loop == nil {
			return 0
		}
		return loop.Tick()
	}

	hubCfg := server.DefaultHubConfig()
	if settings.Hub.QueueSize > 0 {
		hubCfg.QueueSize = settings.Hub.QueueSize
	}
	if settings.Hub.WriteWait > 0 {
		hubCfg.WriteWait = settings.Hub.WriteWait.Std()
	}
	hubCfg.DedupeIdle = settings.Hub.DedupeIdle
	hubCfg.Logger = logger
	hubCfg.Metrics = metrics
	hubCfg.Publisher = router
	hubCfg.Tick = tick
	hub := server.NewHub(hubCfg)

	lifecycle := logginglifecycle.SimulationPayload{
		Variant:         string(simCfg.Variant),
		SupportsTurning: simCfg.SupportsTurning,
	}
	overruns := &overrunTracker{}

	loop, err = sim.NewEngine(simCfg,
		sim.WithDeps(sim.Deps{
			Logger:    logger,
			Metrics:   metrics,
			Publisher: router,
			Clock:     logging.SystemClock{},
			RNG:       rand.New(rand.NewSource(settings.Sim.Seed)),
		}),
		sim.WithLoopConfig(settings.Loop()),
		sim.WithLoopHooks(sim.LoopHooks{
			AfterStep: func(result sim.LoopStepResult) {
				hub.RecordTickDuration(result.Duration)
				hub.Offer(result.Snapshot)
				overruns.observe(ctx, router, metrics, result)
			},
			OnReset: func(tick uint64) {
				payload := lifecycle
				payload.Reason = "requested"
				logginglifecycle.SimulationReset(ctx, router, tick, payload, nil)
			},
			OnQueueWarning: func(length int) {
				metrics.Add(metricQueueWarnings, 1)
				logger.Printf("command queue holding %d commands", length)
			},
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to construct simulation: %w", err)
	}
	lifecycle.TickRate = loop.LoopConfig().TickRate

	channel := intake.NewChannel(intake.ChannelConfig{
		Context:   intake.CommandContext{Engine: loop, Tick: loop.Tick},
		Publisher: router,
		Metrics:   metrics,
	})

	var commandRelay *relay.Relay
	if settings.Relay.Enabled {
		relayCfg := relay.Config{
			Publisher:   router,
			Metrics:     metrics,
			Logger:      logger,
			BufferSize:  settings.Relay.BufferSize,
			KeepAlive:   settings.Relay.KeepAlive.Std(),
			AllowOrigin: settings.Relay.AllowOrigin,
		}
		if settings.Relay.InProcess {
			relayCfg.Acceptor = channel
		}
		commandRelay = relay.New(relayCfg)
	}

	sources, err := buildSources(settings.Sources, stream.Config{
		Acceptor:  channel,
		Publisher: router,
		Logger:    logger,
		Metrics:   metrics,
		Tick:      loop.Tick,
	})
	if err != nil {
		return err
	}

	handler := servernet.NewHTTPHandler(hub, loop, servernet.HTTPHandlerConfig{
		Logger:      logger,
		Metrics:     routerMetrics,
		Router:      router,
		Relay:       commandRelay,
		Viewer:      ws.HandlerConfig{Logger: logger},
		EnablePprof: obsCfg.EnablePprof,
		Settings:    settings,
	})

	listener := cfg.Listener
	if listener == nil {
		listener, err = net.Listen("tcp", settings.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", settings.Listen, err)
		}
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	group, groupCtx := errgroup.WithContext(ctx)

	logginglifecycle.SimulationStarted(ctx, router, loop.Tick(), lifecycle, nil)
	group.Go(func() error {
		err := loop.Run(groupCtx)
		payload := lifecycle
		payload.Reason = "shutdown"
		logginglifecycle.SimulationStopped(context.WithoutCancel(ctx), router, loop.Tick(), payload, nil)
		return err
	})
	group.Go(func() error {
		return hub.Run(groupCtx)
	})
	for _, source := range sources {
		group.Go(func() error {
			// A lost source is reported by the source itself and does not stop the server.
			if err := source.Run(groupCtx); err != nil {
				logger.Printf("command source %s stopped: %v", source.Name(), err)
			}
			return nil
		})
	}
	group.Go(func() error {
		logger.Printf("server listening on %s (%s variant)", listener.Addr(), simCfg.Variant)
		if cfg.Ready != nil {
			cfg.Ready(listener.Addr().String())
		}
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		if commandRelay != nil {
			commandRelay.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func buildSinks(cfg logging.Config, zapLogger *zap.Logger) ([]logging.NamedSink, error) {
	var sinks []logging.NamedSink
	if cfg.HasSink(logging.SinkConsole) {
		sinks = append(sinks, logging.NamedSink{Name: logging.SinkConsole, Sink: loggingsinks.NewConsoleSink(os.Stdout)})
	}
	if cfg.HasSink(logging.SinkJSON) {
		file, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open json log %s: %w", cfg.JSON.FilePath, err)
		}
		sinks = append(sinks, logging.NamedSink{Name: logging.SinkJSON, Sink: loggingsinks.NewJSON(file, cfg.JSON.FlushInterval)})
	}
	if cfg.HasSink(logging.SinkZap) {
		sinks = append(sinks, logging.NamedSink{Name: logging.SinkZap, Sink: loggingsinks.NewZapSink(zapLogger)})
	}
	return sinks, nil
}

func buildSources(settings []config.SourceSettings, shared stream.Config) ([]stream.Source, error) {
	sources := make([]stream.Source, 0, len(settings))
	for _, entry := range settings {
		cfg := shared
		cfg.Name = entry.Name
		cfg.URL = entry.URL
		switch entry.Kind {
		case config.SourceSSE:
			sources = append(sources, stream.NewSSESource(cfg, nil))
		case config.SourceWS:
			sources = append(sources, stream.NewWSSource(cfg, nil))
		default:
			return nil, fmt.Errorf("unknown command source kind %q", entry.Kind)
		}
	}
	return sources, nil
}

// overrunTracker counts consecutive ticks that exceeded their budget.
type overrunTracker struct {
	streak atomic.Uint64
}

func (o *overrunTracker) observe(ctx context.Context, pub logging.Publisher, metrics telemetry.Metrics, result sim.LoopStepResult) {
	if result.Budget <= 0 || result.Duration <= result.Budget {
		o.streak.Store(0)
		return
	}
	streak := o.streak.Add(1)
	metrics.Add(metricTickOverruns, 1)
	loggingsimulation.TickBudgetOverrun(ctx, pub, result.Tick, loggingsimulation.TickBudgetOverrunPayload{
		DurationMillis: result.Duration.Milliseconds(),
		BudgetMillis:   result.Budget.Milliseconds(),
		Ratio:          float64(result.Duration) / float64(result.Budget),
		Streak:         streak,
	}, nil)
}
