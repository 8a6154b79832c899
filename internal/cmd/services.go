package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabletalk/internal/auth"
	"github.com/mcdev12/tabletalk/internal/ratelimit"
	"github.com/mcdev12/tabletalk/internal/relay"
	"github.com/mcdev12/tabletalk/internal/server"
	"github.com/mcdev12/tabletalk/internal/session"
)

type Services struct {
	Server *server.Server
	Store  session.Store
	Relay  *relay.JetStreamPublisher

	closers []func() error
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	clock := clockwork.NewRealClock()
	services := &Services{}

	// Store
	switch config.Server.Store {
	case "", "memory":
		services.Store = session.NewMemoryStore(clock)
	case "postgres":
		store, err := setupPostgresStore(ctx, clock)
		if err != nil {
			return nil, err
		}
		services.Store = store
		services.closers = append(services.closers, store.Close)
	default:
		return nil, fmt.Errorf("unknown store %q", config.Server.Store)
	}

	// Relay (optional)
	var publisher relay.Publisher
	if config.Relay.Enabled {
		cfg := relay.DefaultJetStreamConfig()
		if config.Relay.URL != "" {
			cfg.URL = config.Relay.URL
		}
		if config.Relay.StreamName != "" {
			cfg.StreamName = config.Relay.StreamName
		}
		if config.Relay.SubjectPrefix != "" {
			cfg.SubjectPrefix = config.Relay.SubjectPrefix
		}
		js, err := relay.NewJetStreamPublisher(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay publisher: %w", err)
		}
		services.Relay = js
		services.closers = append(services.closers, js.Close)
		publisher = js
	}

	// Rate limiter
	limitCfg := ratelimit.DefaultConfig()
	if config.RateLimit.Max > 0 {
		limitCfg.Max = config.RateLimit.Max
	}
	if config.RateLimit.WindowSeconds > 0 {
		limitCfg.Window = time.Duration(config.RateLimit.WindowSeconds) * time.Second
	}
	if config.RateLimit.SweepIntervalSeconds > 0 {
		limitCfg.SweepInterval = time.Duration(config.RateLimit.SweepIntervalSeconds) * time.Second
	}
	limiter := ratelimit.New(limitCfg, clock)

	// Identity tokens
	secret := getEnv("JWT_SECRET", "")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	tokens := auth.NewTokens(secret, 0, clock)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	services.Server = server.New(services.Store, tokens, limiter, publisher, rng, clock)

	return services, nil
}

func (s *Services) Close() {
	for _, closer := range s.closers {
		if err := closer(); err != nil {
			log.Error().Err(err).Msg("failed to close service")
		}
	}
}
