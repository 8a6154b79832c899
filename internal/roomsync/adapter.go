package roomsync

import (
	"context"

	"github.com/mcdev12/tabletalk/internal/models"
)

// Callback receives a fresh session snapshot when the backing room
// changes. The snapshot is owned by the receiver.
type Callback func(session *models.Session)

// Unsubscribe tears down a subscription. It stops change delivery
// immediately: results of work already in flight when it returns are
// discarded, never delivered late.
type Unsubscribe func()

// Adapter binds a single room to a storage transport. The controller
// talks only to this interface; whether the room lives on the remote
// service or on the local device is decided once, at construction.
type Adapter interface {
	// Get fetches the current session. An absent room returns
	// (nil, nil); errors are reserved for transport and storage
	// failures.
	Get(ctx context.Context) (*models.Session, error)

	// Update applies a partial update and returns the authoritative
	// resulting session.
	Update(ctx context.Context, patch models.SessionPatch) (*models.Session, error)

	// Subscribe starts change delivery for the room and returns the
	// teardown handle.
	Subscribe(cb Callback) Unsubscribe

	// Mode reports which transport this adapter speaks.
	Mode() models.GameMode

	// RoomCode returns the room this adapter is bound to.
	RoomCode() string
}
