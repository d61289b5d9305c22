package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/admin"
	"github.com/curately/atsync/cfg"
	"github.com/curately/atsync/checkpoint"
	"github.com/curately/atsync/gateway"
	"github.com/curately/atsync/notify"
	"github.com/curately/atsync/pipeline"
	"github.com/curately/atsync/publisher"
	"github.com/curately/atsync/scheduler"
	"github.com/curately/atsync/telemetry"

	_ "github.com/curately/atsync/publisher/sink"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("atsync - ATS change sync pipeline")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Checkpoint store
	log.Info().Str("path", cfg.CheckpointPath()).Msg("Opening checkpoint store")
	store, err := checkpoint.NewSQLiteStore(cfg.CheckpointPath(), cfg.Config.Checkpoint.BusyTimeoutMS)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open checkpoint store")
		return
	}
	defer store.Close()

	// Event bus
	log.Info().Int("sinks", len(cfg.Config.Publisher.Sinks)).Msg("Initializing event bus")
	bus, err := publisher.NewBus(cfg.Config.Publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize event bus")
		return
	}
	defer bus.Close()

	// Fan-out pool
	pool, err := scheduler.NewPool(
		cfg.Config.Pool.CoreWorkers,
		cfg.Config.Pool.MaxWorkers,
		cfg.Config.Pool.QueueCapacity,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start fan-out pool")
		return
	}
	defer pool.Close()

	// Provider gateways
	gateways := make(map[string]gateway.Gateway)
	for name, conf := range cfg.Providers() {
		gateways[name] = gateway.NewHTTPGateway(name, conf)
		log.Info().Str("provider", name).Str("base_url", conf.BaseURL).Msg("Provider enabled")
	}
	if len(gateways) == 0 {
		log.Warn().Msg("No providers enabled, only manual triggers will work")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := pipeline.New(ctx, store, bus, pool, gateways,
		cfg.Config.Enrich.ChunkSize, cfg.Config.Enrich.ContactCacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline engine")
		return
	}

	// Trigger hub: cron tickers plus API-initiated triggers
	hub := notify.NewHub()
	triggers, cancelSub := hub.Subscribe("")
	defer cancelSub()
	notify.StartCron(ctx, hub)

	go func() {
		for trig := range triggers {
			if err := engine.RunCycle(ctx, trig); err != nil {
				log.Error().Err(err).
					Str("provider", trig.Provider).
					Str("entity", trig.EntityType).
					Msg("Cycle failed")
			}
		}
	}()

	// Admin API
	if cfg.Config.API.Enabled {
		mux := http.NewServeMux()
		admin.RegisterRoutes(mux, &admin.Handlers{
			Engine: engine,
			Hub:    hub,
			Store:  store,
		})

		addr := fmt.Sprintf("%s:%d", cfg.Config.API.Address, cfg.Config.API.Port)
		server := &http.Server{Addr: addr, Handler: mux}
		go func() {
			log.Info().Str("addr", addr).Msg("Admin API listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("Admin API failed")
			}
		}()
		go func() {
			<-ctx.Done()
			server.Shutdown(context.Background())
		}()
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
}
