package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	httpapi "github.com/i474232898/weather-data-collector/internal/api/http"
	"github.com/i474232898/weather-data-collector/internal/config"
	"github.com/i474232898/weather-data-collector/internal/observability"
	"github.com/i474232898/weather-data-collector/internal/scheduler"
	"github.com/i474232898/weather-data-collector/internal/store"
	"github.com/i474232898/weather-data-collector/internal/weather"
	"github.com/i474232898/weather-data-collector/internal/weather/providers"
)

const (
	serviceName     = "weather-data-collector"
	eventQueueLimit = 10000
)

func main() {
	configPath := pflag.String("config", "", "Path to a config file (yaml, toml or json)")
	once := pflag.Bool("once", false, "Run a single collection, print it as JSON and exit")
	export := pflag.Bool("export", false, "With --once, also write a snapshot file to the export directory")
	city := pflag.String("city", "", "City for --once (defaults to the first configured location)")
	country := pflag.String("country", "", "Country code for --once")
	pflag.String("port", "8080", "HTTP listen port")
	pflag.String("log-level", "info", "Log level: debug, info, warn, error")
	pflag.String("sources", "", "Comma-separated sources in dispatch order")
	pflag.String("interval", "15m", "Collection interval")
	pflag.Parse()

	cfg, err := config.Load(*configPath, pflag.CommandLine)
	if err != nil {
		boot := observability.NewLogger("info", "console")
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	log := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	if *once {
		loc := cfg.Locations[0]
		if *city != "" {
			loc = weather.Location{City: *city, Country: *country}
		}
		if err := runOnce(cfg, log, metrics, loc, *export); err != nil {
			log.Fatal().Err(err).Msg("collection failed")
		}
		return
	}

	if err := runServer(cfg, log, metrics); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

type components struct {
	service *weather.Service
	gateway *store.Gateway
}

func build(cfg *config.AppConfig, log zerolog.Logger, metrics *observability.Metrics, sink weather.Sink, events *weather.EventQueue) (*components, error) {
	// Shared HTTP client for outbound source calls.
	httpClient := &http.Client{
		Timeout: cfg.SourceTimeout + 5*time.Second,
	}

	adapters, err := providers.Build(cfg.EnabledSources, providers.Options{
		Client:         httpClient,
		OpenWeatherKey: cfg.OpenWeatherAPIKey,
		WeatherAPIKey:  cfg.WeatherAPIKey,
		GeocoderKey:    cfg.GeocoderAPIKey,
	})
	if err != nil {
		return nil, err
	}

	// In-memory store with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge, nil)
	files := store.NewFileStore(cfg.HistoryFile, cfg.ExportDir, cfg.HistoryRetention, log)

	var publisher *store.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = store.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaHistoryTopic)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaHistoryTopic).Msg("publishing run history to kafka")
	}
	gateway := store.NewGateway(memStore, files, publisher)

	fallback := weather.NewFallbackGenerator(weather.NewSeededRand(cfg.FallbackSeed), mergeBias(cfg.Bias), nil)

	collector := weather.NewCollector(adapters, fallback,
		weather.WithSink(sink),
		weather.WithPersister(gateway),
		weather.WithMetrics(metrics),
		weather.WithLogger(log),
		weather.WithTimeout(cfg.SourceTimeout),
		weather.WithPacing(cfg.Pacing),
	)

	return &components{
		service: weather.NewService(collector, memStore, files, events),
		gateway: gateway,
	}, nil
}

// mergeBias layers configured ranges over the built-in table.
func mergeBias(overrides map[string]weather.Range) map[string]weather.Range {
	bias := weather.DefaultBias()
	for city, r := range overrides {
		bias[city] = r
	}
	return bias
}

func runOnce(cfg *config.AppConfig, log zerolog.Logger, metrics *observability.Metrics, loc weather.Location, export bool) error {
	comp, err := build(cfg, log, metrics, weather.LogSink{Logger: log}, nil)
	if err != nil {
		return err
	}
	defer comp.gateway.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := comp.service.CollectNow(ctx, loc)
	if err != nil {
		return err
	}

	if export {
		path, err := comp.service.Export(loc)
		if err != nil {
			return fmt.Errorf("export snapshot: %w", err)
		}
		log.Info().Str("path", path).Msg("snapshot exported")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

func runServer(cfg *config.AppConfig, log zerolog.Logger, metrics *observability.Metrics) error {
	events := weather.NewBoundedEventQueue(eventQueueLimit)
	comp, err := build(cfg, log, metrics, weather.MultiSink{events, weather.LogSink{Logger: log}}, events)
	if err != nil {
		return err
	}
	defer comp.gateway.Close()

	service := comp.service
	log.Info().Strs("sources", service.Sources()).Msg("collector ready")

	// Scheduler that periodically triggers collection.
	sched := scheduler.New(cfg.Locations, cfg.FetchInterval, service, log)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()
	log.Info().Str("port", cfg.Port).Msg("listening")

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop every trigger before cancelling so no run starts behind Wait.
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	sched.Stop()
	if n := service.CancelAll(); n > 0 {
		log.Info().Int("runs", n).Msg("cancelled active collections")
	}

	done := make(chan struct{})
	go func() {
		service.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("collection runs still active at shutdown")
	}
	return nil
}
