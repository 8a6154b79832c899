package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabletalk/internal/models"
)

// PostgresConfig configures the durable store and its notification
// feed.
type PostgresConfig struct {
	// DatabaseURL is the DSN used both for the pool and the
	// LISTEN/NOTIFY connection.
	DatabaseURL string
	// NotifyChannel is the channel the sessions trigger notifies on.
	NotifyChannel string
	// FallbackInterval is how often subscribed rooms are re-read in
	// case a notification was missed.
	FallbackInterval time.Duration
	// PingInterval keeps the listener connection alive.
	PingInterval time.Duration
}

func DefaultPostgresConfig(databaseURL string) PostgresConfig {
	return PostgresConfig{
		DatabaseURL:      databaseURL,
		NotifyChannel:    "session_changed",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// DatabaseURLFromEnv resolves the DSN both binaries use: DATABASE_URL
// verbatim when set, otherwise composed from the DB_* variables.
func DatabaseURLFromEnv() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	user := envOr("DB_USER", "postgres")
	password := envOr("DB_PASSWORD", "postgres")
	name := envOr("DB_NAME", "tabletalk")
	sslMode := envOr("DB_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PostgresStore is the durable Store for server deployments that need
// sessions to survive restarts or to be shared across instances.
// Subscriptions ride the database's NOTIFY fan-out with a fallback poll
// for missed notifications.
type PostgresStore struct {
	pool     *pgxpool.Pool
	listener *pq.Listener
	cfg      PostgresConfig
	clock    clockwork.Clock

	subMu    sync.Mutex
	subs     map[string]map[uuid.UUID]Callback
	lastSeen map[string]int64

	done      chan struct{}
	closeOnce sync.Once
}

// NewPostgresStore connects the pool and the notification listener and
// starts the delivery loop.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, clock clockwork.Clock) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	listener := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := listener.Listen(cfg.NotifyChannel); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	s := &PostgresStore{
		pool:     pool,
		listener: listener,
		cfg:      cfg,
		clock:    clock,
		subs:     make(map[string]map[uuid.UUID]Callback),
		lastSeen: make(map[string]int64),
		done:     make(chan struct{}),
	}
	go s.run()

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Dur("fallback_interval", cfg.FallbackInterval).
		Msg("postgres session store listening for notifications")

	return s, nil
}

// Close stops the delivery loop and releases the pool.
func (s *PostgresStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.listener.Close()
		s.pool.Close()
	})
	return err
}

func (s *PostgresStore) Create(ctx context.Context, sess *models.Session) (*models.Session, error) {
	stored := sess.Clone()
	stored.Version = 1

	state, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (room_code, state, version, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		stored.RoomCode, state, stored.Version, stored.UpdatedAt, stored.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("room %s: %w", stored.RoomCode, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) Get(ctx context.Context, roomCode string) (*models.Session, error) {
	var state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM sessions WHERE room_code = $1`, roomCode).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", roomCode, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	sess, err := unmarshalSession(state)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.clock.Now()) {
		// Passive expiry: an expired room reads as absent and is
		// reaped in the background by the sweeper.
		return nil, fmt.Errorf("room %s: %w", roomCode, ErrNotFound)
	}
	return sess, nil
}

// Update applies the patch inside a row-locked transaction, so the
// shallow merge is atomic even across server instances.
func (s *PostgresStore) Update(ctx context.Context, roomCode string, patch models.SessionPatch) (*models.Session, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var state []byte
	err = tx.QueryRow(ctx,
		`SELECT state FROM sessions WHERE room_code = $1 FOR UPDATE`, roomCode).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", roomCode, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}

	sess, err := unmarshalSession(state)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.clock.Now()) {
		return nil, fmt.Errorf("room %s: %w", roomCode, ErrNotFound)
	}

	patch.Apply(sess, s.clock.Now())
	sess.Version++

	next, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET state = $2, version = $3, updated_at = $4 WHERE room_code = $1`,
		roomCode, next, sess.Version, sess.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	// The trigger notifies other instances; deliver locally right away.
	s.markSeen(roomCode, sess.Version)
	s.deliver(roomCode, sess)
	return sess, nil
}

func (s *PostgresStore) Delete(ctx context.Context, roomCode string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE room_code = $1`, roomCode); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Subscribe(roomCode string, cb Callback) Unsubscribe {
	id := uuid.New()

	s.subMu.Lock()
	if s.subs[roomCode] == nil {
		s.subs[roomCode] = make(map[uuid.UUID]Callback)
	}
	s.subs[roomCode][id] = cb
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs[roomCode], id)
			if len(s.subs[roomCode]) == 0 {
				delete(s.subs, roomCode)
				delete(s.lastSeen, roomCode)
			}
			s.subMu.Unlock()
		})
	}
}

func (s *PostgresStore) List(ctx context.Context, playerID string, filter *ListFilter) ([]*models.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state FROM sessions
		 WHERE state -> 'player_ids' ? $1
		 ORDER BY updated_at DESC`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	now := s.clock.Now()
	var out []*models.Session
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess, err := unmarshalSession(state)
		if err != nil {
			return nil, err
		}
		if sess.Expired(now) {
			continue
		}
		if filter != nil && filter.Step != nil && sess.Step != *filter.Step {
			continue
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ExpiredRoomCodes returns rooms past their expiry, for the sweeper.
func (s *PostgresStore) ExpiredRoomCodes(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT room_code FROM sessions
		 WHERE expires_at IS NOT NULL AND expires_at < $1
		 LIMIT $2`, s.clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired sessions: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan room code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *PostgresStore) run() {
	fallback := s.clock.NewTicker(s.cfg.FallbackInterval)
	ping := s.clock.NewTicker(s.cfg.PingInterval)
	defer fallback.Stop()
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			return
		case note := <-s.listener.Notify:
			if note == nil {
				// Connection was lost; pq reconnects on its own.
				continue
			}
			s.refresh(note.Extra)
		case <-fallback.Chan():
			for _, roomCode := range s.subscribedRooms() {
				s.refresh(roomCode)
			}
		case <-ping.Chan():
			if err := s.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (s *PostgresStore) subscribedRooms() []string {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	rooms := make([]string, 0, len(s.subs))
	for roomCode := range s.subs {
		rooms = append(rooms, roomCode)
	}
	return rooms
}

// refresh reloads one room and delivers it if its version is new.
func (s *PostgresStore) refresh(roomCode string) {
	s.subMu.Lock()
	_, wanted := s.subs[roomCode]
	s.subMu.Unlock()
	if !wanted {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := s.Get(ctx, roomCode)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room_code", roomCode).Msg("failed to refresh session")
		return
	}

	s.subMu.Lock()
	stale := sess.Version <= s.lastSeen[roomCode]
	if !stale {
		s.lastSeen[roomCode] = sess.Version
	}
	s.subMu.Unlock()
	if stale {
		return
	}
	s.deliver(roomCode, sess)
}

func (s *PostgresStore) markSeen(roomCode string, version int64) {
	s.subMu.Lock()
	if version > s.lastSeen[roomCode] {
		s.lastSeen[roomCode] = version
	}
	s.subMu.Unlock()
}

func (s *PostgresStore) deliver(roomCode string, sess *models.Session) {
	s.subMu.Lock()
	cbs := make([]Callback, 0, len(s.subs[roomCode]))
	for _, cb := range s.subs[roomCode] {
		cbs = append(cbs, cb)
	}
	s.subMu.Unlock()

	for _, cb := range cbs {
		cb(sess.Clone())
	}
}

func unmarshalSession(state []byte) (*models.Session, error) {
	var sess models.Session
	if err := json.Unmarshal(state, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}
