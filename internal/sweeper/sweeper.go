package sweeper

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabletalk/internal/relay"
)

// ExpiredSource lists rooms past their expiry.
type ExpiredSource interface {
	ExpiredRoomCodes(ctx context.Context, limit int) ([]string, error)
	Delete(ctx context.Context, roomCode string) error
}

// Config tunes the sweep loop.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		BatchSize: 100,
	}
}

// Sweeper reaps expired online sessions in the background. Reads
// already treat expired rooms as absent, so the sweep only reclaims
// storage; nothing user-visible depends on its timing.
type Sweeper struct {
	source    ExpiredSource
	publisher relay.Publisher
	cfg       Config
	clock     clockwork.Clock
}

func New(source ExpiredSource, publisher relay.Publisher, cfg Config, clock clockwork.Clock) *Sweeper {
	if publisher == nil {
		publisher = relay.Noop{}
	}
	return &Sweeper{source: source, publisher: publisher, cfg: cfg, clock: clock}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", s.cfg.Interval).
		Int("batch_size", s.cfg.BatchSize).
		Msg("sweeper started")

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper shutting down")
			return nil
		case <-ticker.Chan():
			if err := s.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// Sweep deletes one batch of expired rooms and publishes an expiry
// event for each.
func (s *Sweeper) Sweep(ctx context.Context) error {
	codes, err := s.source.ExpiredRoomCodes(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return nil
	}

	for _, roomCode := range codes {
		if err := s.source.Delete(ctx, roomCode); err != nil {
			log.Error().Err(err).Str("room_code", roomCode).Msg("failed to delete expired room")
			continue
		}
		event := relay.NewRoomEvent(relay.EventRoomExpired, roomCode, "", s.clock.Now())
		if err := s.publisher.Publish(ctx, event); err != nil {
			log.Error().Err(err).Str("room_code", roomCode).Msg("failed to publish expiry event")
		}
		log.Info().Str("room_code", roomCode).Msg("expired room reaped")
	}
	return nil
}

// HandleEvent is the relay consumer hook: deletion-class events reach
// the sweeper so cross-instance caches can be dropped promptly.
func (s *Sweeper) HandleEvent(ctx context.Context, event relay.RoomEvent) error {
	switch event.Type {
	case relay.EventRoomDeleted, relay.EventRoomExpired:
		log.Info().
			Str("room_code", event.RoomCode).
			Str("event_type", event.Type).
			Msg("room removal event")
	case relay.EventRoomCompleted:
		log.Info().Str("room_code", event.RoomCode).Msg("room completed")
	}
	return nil
}
