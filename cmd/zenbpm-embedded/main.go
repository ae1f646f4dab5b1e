package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenbpm-embedded/internal/config"
	"github.com/pbinitiative/zenbpm-embedded/internal/log"
	"github.com/pbinitiative/zenbpm-embedded/internal/otel"
	"github.com/pbinitiative/zenbpm-embedded/internal/profile"
	"github.com/pbinitiative/zenbpm-embedded/internal/rest"
	"github.com/pbinitiative/zenbpm-embedded/pkg/embedded"
	"github.com/pbinitiative/zenbpm-embedded/pkg/exporter/logexporter"
	"github.com/pbinitiative/zenbpm-embedded/pkg/exporter/redis"
	otelPkg "github.com/pbinitiative/zenbpm-embedded/pkg/otel"
	gootel "go.opentelemetry.io/otel"
)

func main() {
	profile.InitProfile()
	conf := config.InitConfig()
	logger := log.Init(conf.Log, conf.Name)

	appContext, ctxCancel := context.WithCancel(context.Background())

	openTelemetry, err := otel.SetupOtel(conf.Name)
	if err != nil {
		log.Error("Failed to set up OTEL: %s", err)
		os.Exit(1)
	}

	options, err := engineOptions(conf, logger)
	if err != nil {
		log.Error("Failed to configure engine: %s", err)
		os.Exit(1)
	}
	engine, err := embedded.New(options...)
	if err != nil {
		log.Error("Failed to create engine: %s", err)
		os.Exit(1)
	}
	if err := engine.Start(appContext); err != nil {
		log.Error("Failed to start engine: %s", err)
		os.Exit(1)
	}
	for _, resource := range conf.Resources {
		deployment, err := engine.BpmnEngine().LoadFromFile(appContext, resource)
		if err != nil {
			log.Error("Failed to deploy %s: %s", resource, err)
			continue
		}
		log.Info("Deployed %s as deployment %d", resource, deployment.Key)
	}

	svr := rest.NewServer(engine, conf.Server.Addr)
	if _, err := svr.Start(); err != nil {
		log.Error("Failed to start server: %s", err)
		os.Exit(1)
	}

	appStop := make(chan os.Signal, 2)
	handleSigterm(appStop, log.WithComponent(appContext, "main"))

	ctxCancel()
	// cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svr.Stop(shutdownCtx)
	if err := engine.Stop(shutdownCtx); err != nil {
		log.Error("failed to properly stop engine: %s", err)
	}
	openTelemetry.Stop(shutdownCtx)
}

func engineOptions(conf config.Config, logger hclog.Logger) ([]embedded.Option, error) {
	meter := gootel.GetMeterProvider().Meter("zenbpm-embedded")
	engineMetrics, err := otelPkg.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine metrics: %w", err)
	}
	exporterMetrics, err := otelPkg.NewExporterMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter metrics: %w", err)
	}

	options := []embedded.Option{
		embedded.WithName(conf.Name),
		embedded.WithNodeId(conf.NodeId),
		embedded.WithLogger(logger),
		embedded.WithTimerPollInterval(conf.Timers.PollInterval),
		embedded.WithExportBackoff(conf.Exporters.Backoff, conf.Exporters.MaxBackoff),
		embedded.WithTracer(gootel.GetTracerProvider().Tracer("zenbpm-embedded")),
		embedded.WithMetrics(engineMetrics),
		embedded.WithExporterMetrics(exporterMetrics),
	}
	if conf.Clock.Mode == config.ClockModeControlled {
		start := conf.Clock.Start
		if start.IsZero() {
			start = time.Now()
		}
		options = append(options, embedded.WithControlledClock(start))
	}
	if conf.Journal.Path != "" {
		options = append(options, embedded.WithJournal(conf.Journal.Path))
	}
	if conf.Exporters.Log.Enabled {
		options = append(options, embedded.WithExporter("log", logexporter.New(
			logger.Named("records"),
			logexporter.WithLevel(hclog.LevelFromString(conf.Exporters.Log.Level)),
		)))
	}
	if conf.Exporters.Redis.Enabled {
		options = append(options, embedded.WithExporter("redis", redis.NewFromAddr(
			conf.Exporters.Redis.Addr,
			redis.WithStream(conf.Exporters.Redis.Stream),
			redis.WithMaxLen(conf.Exporters.Redis.MaxLen),
		)))
	}
	return options, nil
}

func handleSigterm(appStop chan os.Signal, ctx context.Context) {
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	log.Infof(ctx, "Received %s. Shutting down", sig.String())
}
