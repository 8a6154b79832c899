package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabletalk/internal/relay"
	"github.com/mcdev12/tabletalk/internal/session"
	"github.com/mcdev12/tabletalk/internal/sweeper"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	clock := clockwork.NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := session.NewPostgresStore(ctx, session.DefaultPostgresConfig(session.DatabaseURLFromEnv()), clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create postgres store")
	}
	defer store.Close()

	cfg := sweeper.DefaultConfig()
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.Interval = d
		}
	}

	relayCfg := relay.DefaultJetStreamConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		relayCfg.URL = url
	}

	var publisher relay.Publisher
	var consumer *relay.Consumer
	if os.Getenv("RELAY_ENABLED") == "true" {
		js, err := relay.NewJetStreamPublisher(relayCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create relay publisher")
		}
		defer js.Close()
		publisher = js

		consumer, err = relay.NewConsumer(relayCfg, "room-sweeper")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create relay consumer")
		}
		defer consumer.Close()
	}

	s := sweeper.New(store, publisher, cfg, clock)

	errCh := make(chan error, 2)
	go func() { errCh <- s.Run(ctx) }()
	if consumer != nil {
		go func() { errCh <- consumer.Run(ctx, s.HandleEvent) }()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down")
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("sweeper failed")
		}
	}
}
