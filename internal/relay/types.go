package relay

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/tabletalk/internal/models"
)

// Room lifecycle event types published on the relay.
const (
	EventRoomCreated   = "room.created"
	EventRoomCompleted = "room.completed"
	EventRoomDeleted   = "room.deleted"
	EventRoomExpired   = "room.expired"
)

// RoomEvent is one session lifecycle event.
type RoomEvent struct {
	ID         uuid.UUID       `json:"event_id"`
	Type       string          `json:"event_type"`
	RoomCode   string          `json:"room_code"`
	Mode       models.GameMode `json:"mode"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewRoomEvent builds an event with a fresh id.
func NewRoomEvent(eventType, roomCode string, mode models.GameMode, now time.Time) RoomEvent {
	return RoomEvent{
		ID:         uuid.New(),
		Type:       eventType,
		RoomCode:   roomCode,
		Mode:       mode,
		OccurredAt: now.UTC(),
	}
}

// Publisher emits room lifecycle events. The server treats publish
// failures as non-fatal: the session write has already committed.
type Publisher interface {
	Publish(ctx context.Context, event RoomEvent) error
}

// Handler consumes room lifecycle events.
type Handler func(ctx context.Context, event RoomEvent) error

// Noop is a Publisher that discards events, for deployments without a
// relay.
type Noop struct{}

func (Noop) Publish(ctx context.Context, event RoomEvent) error { return nil }
