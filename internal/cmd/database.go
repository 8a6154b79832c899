package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabletalk/internal/session"
)

func setupPostgresStore(ctx context.Context, clock clockwork.Clock) (*session.PostgresStore, error) {
	cfg := session.DefaultPostgresConfig(session.DatabaseURLFromEnv())
	store, err := session.NewPostgresStore(ctx, cfg, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres store: %w", err)
	}

	log.Info().Msg("connected to database")
	return store, nil
}
