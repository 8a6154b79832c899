package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	consumerMaxDeliver    = 5
	consumerAckWait       = 30 * time.Second
	consumerMaxAckPending = 64
)

// Consumer is a durable JetStream consumer of room lifecycle events.
type Consumer struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   JetStreamConfig
}

// NewConsumer connects to NATS and binds a durable consumer to the room
// event stream.
func NewConsumer(cfg JetStreamConfig, name string) (*Consumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	c := &Consumer{nc: nc, js: js, config: cfg}
	if err := c.ensureConsumer(context.Background(), name); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) ensureConsumer(ctx context.Context, name string) error {
	stream, err := c.js.Stream(ctx, c.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		Description:   "Room lifecycle event consumer",
		FilterSubject: fmt.Sprintf("%s.>", c.config.SubjectPrefix),
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    consumerMaxDeliver,
		AckWait:       consumerAckWait,
		MaxAckPending: consumerMaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, name)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().Str("consumer", name).Msg("created JetStream consumer")
	} else {
		log.Info().Str("consumer", name).Msg("using existing JetStream consumer")
	}

	c.consumer = consumer
	return nil
}

// Run consumes events until ctx is cancelled, acking on handler success
// and nacking for redelivery on failure.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		var event RoomEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("malformed room event")
			msg.Term()
			return
		}

		if err := handler(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("event_type", event.Type).
				Str("room_code", event.RoomCode).
				Msg("failed to handle room event")
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("start JetStream consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	return nil
}

func (c *Consumer) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}
