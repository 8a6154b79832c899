package roomsync

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/tabletalk/clients/roomapi"
	"github.com/mcdev12/tabletalk/internal/models"
	"github.com/mcdev12/tabletalk/internal/session"
)

// Factory builds adapters for rooms, picking the transport per room.
type Factory struct {
	API   *roomapi.Client
	Local *session.FileStore
	Clock clockwork.Clock
}

// ForRoom returns the adapter for a room. A mode hint wins outright;
// without one the on-device store is consulted, and a room found there
// is treated as local. Everything else goes to the remote service, so
// an unknown code resolves remotely as an absent room rather than
// failing here.
func (f *Factory) ForRoom(ctx context.Context, roomCode string, hint *models.GameMode) (Adapter, error) {
	if hint != nil {
		switch *hint {
		case models.ModeLocal:
			return NewLocalAdapter(f.Local, roomCode), nil
		case models.ModeOnline:
			return NewRemoteAdapter(f.API, roomCode, f.Clock), nil
		}
	}

	_, err := f.Local.Get(ctx, roomCode)
	if err == nil {
		return NewLocalAdapter(f.Local, roomCode), nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}
	return NewRemoteAdapter(f.API, roomCode, f.Clock), nil
}
