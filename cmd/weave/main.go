package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/weave/internal/broker"
	"github.com/gosuda/weave/internal/classify"
	"github.com/gosuda/weave/internal/config"
	"github.com/gosuda/weave/internal/gateway"
	"github.com/gosuda/weave/internal/orchestrate"
	"github.com/gosuda/weave/internal/registry"
	"github.com/gosuda/weave/internal/server"
	"github.com/gosuda/weave/internal/session"
	redisstore "github.com/gosuda/weave/internal/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("WEAVE_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("WEAVE_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Pick the fan-out broker: redis for multi-process deployments,
	// in-memory otherwise.
	var bus broker.Broker
	if cfg.Redis.Enabled {
		rb, redisErr := redisstore.NewBroker(ctx, redisstore.Options{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			ChannelPrefix: cfg.Redis.ChannelPrefix,
		})
		if redisErr != nil {
			return redisErr
		}
		bus = rb
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis pub/sub enabled")
	} else {
		bus = broker.NewMemory()
	}
	defer bus.Close()

	// Core stores.
	agents := registry.New(cfg.Agents.Types)
	sessions := session.NewStore()

	classifier := classify.New(classify.Thresholds{
		Low:  cfg.Classifier.LowThreshold,
		High: cfg.Classifier.HighThreshold,
	}, cfg.Agents.Types)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Connect to the execution backend. The interrupt handler closes over
	// the orchestrator variable; it cannot fire before Connect.
	var orchestrator *orchestrate.Orchestrator
	client := gateway.NewClient(cfg.Gateway.URL,
		gateway.WithBackoff(gateway.Backoff{Base: cfg.Gateway.BackoffBase, Max: cfg.Gateway.BackoffMax}),
		gateway.WithInterruptHandler(func(requestIDs []string) {
			orchestrator.HandleInterrupts(requestIDs)
		}),
	)

	orchestrator = orchestrate.New(classifier, agents, sessions, client, bus, orchestrate.Options{
		StaleAfter:    cfg.Agents.StaleAfter,
		SweepInterval: cfg.Agents.SweepInterval,
	})
	orchestrator.Start(ctx)

	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, orchestrator, agents, sessions, bus)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	// Let in-flight request handlers drain before exit.
	orchestrator.Wait()

	log.Info().Msg("stopped")
	return nil
}
