package roomsync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabletalk/clients/roomapi"
	"github.com/mcdev12/tabletalk/internal/models"
)

// DefaultPollInterval is how often a subscribed RemoteAdapter asks the
// room service for the current session.
const DefaultPollInterval = 2 * time.Second

// RemoteAdapter syncs a room through the room service over HTTP. There
// is no push channel: a subscription is a fixed-interval poll loop, and
// updates are round trips whose response is the authoritative state.
type RemoteAdapter struct {
	api      *roomapi.Client
	roomCode string
	clock    clockwork.Clock
	interval time.Duration

	mu sync.Mutex
	// seq is stamped when a fetch or update starts; delivered is the
	// highest stamp whose result has been surfaced. A result loses to
	// anything that started after it, so an old poll resolving late
	// can never clobber a newer update response.
	seq       uint64
	delivered uint64
}

// NewRemoteAdapter creates an adapter for one room on the room service.
func NewRemoteAdapter(api *roomapi.Client, roomCode string, clock clockwork.Clock) *RemoteAdapter {
	return &RemoteAdapter{
		api:      api,
		roomCode: roomCode,
		clock:    clock,
		interval: DefaultPollInterval,
	}
}

// SetPollInterval overrides the poll cadence. Call before Subscribe.
func (a *RemoteAdapter) SetPollInterval(interval time.Duration) {
	a.interval = interval
}

func (a *RemoteAdapter) Mode() models.GameMode { return models.ModeOnline }

func (a *RemoteAdapter) RoomCode() string { return a.roomCode }

// Get fetches the session once. Absence comes back as (nil, nil).
func (a *RemoteAdapter) Get(ctx context.Context) (*models.Session, error) {
	seq := a.start()
	session, err := a.api.GetRoom(ctx, a.roomCode)
	if err != nil {
		return nil, err
	}
	a.finish(seq)
	return session, nil
}

// Update sends a partial update and returns the server's resulting
// session. The result is also recorded against the ordering guard so a
// poll that was already in flight cannot deliver an older snapshot on
// top of it.
func (a *RemoteAdapter) Update(ctx context.Context, patch models.SessionPatch) (*models.Session, error) {
	seq := a.start()
	session, err := a.api.UpdateRoom(ctx, a.roomCode, patch)
	if err != nil {
		return nil, err
	}
	a.finish(seq)
	return session, nil
}

// Subscribe starts the poll loop. Polls run strictly one at a time: if
// a fetch is still pending when the next tick fires, that tick is
// skipped. The returned handle stops delivery immediately; a fetch in
// flight at that moment completes but its result is discarded.
func (a *RemoteAdapter) Subscribe(cb Callback) Unsubscribe {
	done := make(chan struct{})
	var once sync.Once

	go a.poll(done, cb)

	return func() {
		once.Do(func() { close(done) })
	}
}

func (a *RemoteAdapter) poll(done chan struct{}, cb Callback) {
	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
		}

		seq := a.start()
		session, err := a.api.GetRoom(context.Background(), a.roomCode)
		if err != nil {
			log.Warn().
				Err(err).
				Str("room_code", a.roomCode).
				Msg("poll failed, will retry next tick")
			continue
		}

		select {
		case <-done:
			// Unsubscribed while the fetch was in flight.
			return
		default:
		}

		if session == nil {
			continue
		}
		if !a.finish(seq) {
			// A newer update resolved while this poll was pending.
			continue
		}
		cb(session)
	}
}

// start stamps the beginning of a fetch or update.
func (a *RemoteAdapter) start() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return a.seq
}

// finish records a completed request and reports whether its result is
// still the freshest one seen.
func (a *RemoteAdapter) finish(seq uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq <= a.delivered {
		return false
	}
	a.delivered = seq
	return true
}
