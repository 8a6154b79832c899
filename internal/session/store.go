package session

import (
	"context"
	"errors"

	"github.com/mcdev12/tabletalk/internal/models"
)

// ErrNotFound is returned when a room code is unknown or expired.
var ErrNotFound = errors.New("session not found")

// ErrAlreadyExists is returned by Create when the room code is taken.
var ErrAlreadyExists = errors.New("session already exists")

// ErrConflict signals a local-mode version mismatch. It is best effort:
// the store still resolves the write by merging onto the freshest read.
var ErrConflict = errors.New("session version conflict")

// Callback receives the full post-update session.
type Callback func(*models.Session)

// Unsubscribe detaches a subscription. Calling it more than once is a
// no-op.
type Unsubscribe func()

// ListFilter narrows List results.
type ListFilter struct {
	Step *models.Step
}

// Store is the session storage contract shared by the in-memory, on-device
// and Postgres implementations.
//
// Update performs a shallow merge: every field present in the patch fully
// replaces the stored value, including slices and nested structures.
// Callers own the construction of complete nested values; the store never
// deep-merges.
type Store interface {
	// Create stores a new session, failing with ErrAlreadyExists when the
	// room code is taken.
	Create(ctx context.Context, s *models.Session) (*models.Session, error)

	// Get returns the session for the room code, or ErrNotFound.
	Get(ctx context.Context, roomCode string) (*models.Session, error)

	// Update atomically merges the patch onto the stored session and
	// returns the result, or ErrNotFound.
	Update(ctx context.Context, roomCode string, patch models.SessionPatch) (*models.Session, error)

	// Delete removes the session. Deleting an absent room code is not an
	// error.
	Delete(ctx context.Context, roomCode string) error

	// Subscribe registers a callback fired on every successful Update to
	// the room code.
	Subscribe(roomCode string, cb Callback) Unsubscribe

	// List returns sessions whose player set contains playerID.
	List(ctx context.Context, playerID string, filter *ListFilter) ([]*models.Session, error)
}
