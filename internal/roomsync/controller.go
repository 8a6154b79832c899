package roomsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabletalk/internal/models"
)

// State is a snapshot of what the controller currently knows about its
// room. Session is nil while loading and when the room does not exist.
type State struct {
	Session *models.Session
	Loading bool
	Err     error
}

// Controller manages the live view of one room: it performs the initial
// fetch, holds the latest snapshot, keeps exactly one subscription on
// its adapter, and applies update results the moment they return rather
// than waiting for the next change delivery.
type Controller struct {
	adapter Adapter

	mu        sync.Mutex
	session   *models.Session
	loading   bool
	err       error
	unsub     Unsubscribe
	started   bool
	listeners map[int]Callback
	nextID    int

	stopOnce sync.Once
	stopped  bool
}

// NewController creates a controller bound to the adapter's room. Call
// Start to begin syncing and Stop exactly once when done.
func NewController(adapter Adapter) *Controller {
	return &Controller{
		adapter:   adapter,
		loading:   true,
		listeners: make(map[int]Callback),
	}
}

// Start performs the initial fetch and opens the change subscription.
// It is an error to start a controller twice.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("controller for room %s already started", c.adapter.RoomCode())
	}
	c.started = true
	c.mu.Unlock()

	session, err := c.adapter.Get(ctx)

	c.mu.Lock()
	c.loading = false
	c.session = session
	c.err = err
	if !c.stopped {
		c.unsub = c.adapter.Subscribe(c.apply)
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to load room %s: %w", c.adapter.RoomCode(), err)
	}
	c.notify(session)
	return nil
}

// Stop tears down the subscription. It must be called exactly once per
// started controller; extra calls are ignored with a warning since the
// teardown handle is not reentrant.
func (c *Controller) Stop() {
	ran := false
	c.stopOnce.Do(func() {
		ran = true
		c.mu.Lock()
		c.stopped = true
		unsub := c.unsub
		c.unsub = nil
		c.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	})
	if !ran {
		log.Warn().
			Str("room_code", c.adapter.RoomCode()).
			Msg("controller stopped more than once")
	}
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Session: c.session, Loading: c.loading, Err: c.err}
}

// Session returns the latest session, nil if the room is absent or not
// yet loaded.
func (c *Controller) Session() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Update writes a partial update through the adapter and applies the
// authoritative result immediately, so the caller's own change is
// visible before the next poll or watcher delivery.
func (c *Controller) Update(ctx context.Context, patch models.SessionPatch) (*models.Session, error) {
	session, err := c.adapter.Update(ctx, patch)
	if err != nil {
		return nil, err
	}
	c.apply(session)
	return session, nil
}

// Refresh forces a fetch outside the poll cadence and applies the
// result.
func (c *Controller) Refresh(ctx context.Context) (*models.Session, error) {
	session, err := c.adapter.Get(ctx)
	if err != nil {
		return nil, err
	}
	if session != nil {
		c.apply(session)
	}
	return session, nil
}

// OnChange registers a listener for session snapshots. The returned
// handle removes it.
func (c *Controller) OnChange(cb Callback) Unsubscribe {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = cb
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) apply(session *models.Session) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.session = session
	c.err = nil
	c.mu.Unlock()

	c.notify(session)
}

func (c *Controller) notify(session *models.Session) {
	c.mu.Lock()
	cbs := make([]Callback, 0, len(c.listeners))
	for _, cb := range c.listeners {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(session)
	}
}
