package roomsync

import (
	"context"
	"errors"

	"github.com/mcdev12/tabletalk/internal/models"
	"github.com/mcdev12/tabletalk/internal/session"
)

// LocalAdapter syncs a room through the on-device file store. Reads,
// writes, and change delivery all stay on the machine; the store's own
// watcher plus fallback poll surfaces writes made by other processes.
type LocalAdapter struct {
	store    *session.FileStore
	roomCode string
}

// NewLocalAdapter creates an adapter for one room in the file store.
func NewLocalAdapter(store *session.FileStore, roomCode string) *LocalAdapter {
	return &LocalAdapter{store: store, roomCode: roomCode}
}

func (a *LocalAdapter) Mode() models.GameMode { return models.ModeLocal }

func (a *LocalAdapter) RoomCode() string { return a.roomCode }

// Get reads the session from disk. Absence comes back as (nil, nil).
func (a *LocalAdapter) Get(ctx context.Context) (*models.Session, error) {
	s, err := a.store.Get(ctx, a.roomCode)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Update applies the patch through the store's read-modify-write cycle:
// the store re-reads the file, merges, bumps the version stamp, and
// writes back atomically.
func (a *LocalAdapter) Update(ctx context.Context, patch models.SessionPatch) (*models.Session, error) {
	return a.store.Update(ctx, a.roomCode, patch)
}

// Subscribe registers for change delivery. Deduplication by version
// stamp happens in the store, so a callback fires once per distinct
// write regardless of how the change was noticed.
func (a *LocalAdapter) Subscribe(cb Callback) Unsubscribe {
	unsub := a.store.Subscribe(a.roomCode, func(s *models.Session) {
		cb(s)
	})
	return Unsubscribe(unsub)
}
