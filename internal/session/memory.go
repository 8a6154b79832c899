package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletalk/internal/models"
	"github.com/rs/zerolog/log"
)

// MemoryStore keeps sessions in a process-local map. It backs the
// server-authoritative online mode: one lock serializes every
// read-modify-write so the shallow merge is atomic under concurrent
// callers, and expired sessions are simply no longer returned.
type MemoryStore struct {
	clock clockwork.Clock

	mu       sync.Mutex
	sessions map[string]*models.Session
	subs     map[string]map[uuid.UUID]Callback
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		clock:    clock,
		sessions: make(map[string]*models.Session),
		subs:     make(map[string]map[uuid.UUID]Callback),
	}
}

var _ Store = (*MemoryStore)(nil)

// Create stores a new session.
func (m *MemoryStore) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[s.RoomCode]; ok && !existing.Expired(m.clock.Now()) {
		return nil, ErrAlreadyExists
	}
	m.sessions[s.RoomCode] = s.Clone()

	log.Debug().Str("room_code", s.RoomCode).Msg("session created")
	return s.Clone(), nil
}

// Get returns the session for the room code, or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, roomCode string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.liveSession(roomCode)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// Update merges the patch onto the stored session and notifies
// subscribers synchronously with the post-update state.
func (m *MemoryStore) Update(ctx context.Context, roomCode string, patch models.SessionPatch) (*models.Session, error) {
	m.mu.Lock()
	s, err := m.liveSession(roomCode)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	patch.Apply(s, m.clock.Now())
	result := s.Clone()

	var callbacks []Callback
	for _, cb := range m.subs[roomCode] {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(result.Clone())
	}
	return result, nil
}

// Delete removes the session. Absent room codes are ignored.
func (m *MemoryStore) Delete(ctx context.Context, roomCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, roomCode)
	return nil
}

// Subscribe registers a callback for updates to the room code.
func (m *MemoryStore) Subscribe(roomCode string, cb Callback) Unsubscribe {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subs[roomCode] == nil {
		m.subs[roomCode] = make(map[uuid.UUID]Callback)
	}
	id := uuid.New()
	m.subs[roomCode][id] = cb

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs[roomCode], id)
			if len(m.subs[roomCode]) == 0 {
				delete(m.subs, roomCode)
			}
		})
	}
}

// List returns unexpired sessions that include the player.
func (m *MemoryStore) List(ctx context.Context, playerID string, filter *ListFilter) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var out []*models.Session
	for _, s := range m.sessions {
		if s.Expired(now) || !s.HasPlayer(playerID) {
			continue
		}
		if filter != nil && filter.Step != nil && s.Step != *filter.Step {
			continue
		}
		out = append(out, s.Clone())
	}
	return out, nil
}

// liveSession returns the stored session if present and unexpired.
// Callers must hold m.mu.
func (m *MemoryStore) liveSession(roomCode string) (*models.Session, error) {
	s, ok := m.sessions[roomCode]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Expired(m.clock.Now()) {
		// Passive expiry: drop it on first touch after the deadline.
		delete(m.sessions, roomCode)
		return nil, ErrNotFound
	}
	return s, nil
}
