package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletalk/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultFilePollInterval is the fallback poll cadence for catching
// changes the file watcher missed.
const DefaultFilePollInterval = 2 * time.Second

// FileStore persists sessions to a single JSON file on the device. It
// backs local mode, where several processes on one machine may mutate the
// same file with no serialization point between them.
//
// Every Update re-reads the file immediately before merging, so a write
// never clobbers fields a concurrent writer already persisted; the version
// counter increments once per update. Subscribers are fed from three
// paths: synchronously on same-process updates, from file-change
// notifications for other-process updates, and from a fallback poll. A
// per-room version filter keeps the same state from being delivered twice.
type FileStore struct {
	path  string
	clock clockwork.Clock

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex

	subMu    sync.Mutex
	subs     map[string]map[uuid.UUID]Callback
	lastSeen map[string]int64

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// NewFileStore opens (or prepares to create) the store file and starts
// watching it for external changes.
func NewFileStore(path string, clock clockwork.Clock) (*FileStore, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory: the file is replaced by rename on every write
	// and may not exist yet.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch store directory: %w", err)
	}

	f := &FileStore{
		path:     path,
		clock:    clock,
		subs:     make(map[string]map[uuid.UUID]Callback),
		lastSeen: make(map[string]int64),
		watcher:  watcher,
		done:     make(chan struct{}),
	}
	go f.run()
	return f, nil
}

var _ Store = (*FileStore)(nil)

// Close stops the watcher and the fallback poll.
func (f *FileStore) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
	})
	return f.watcher.Close()
}

// Create stores a new session with version 1.
func (f *FileStore) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions, err := f.load()
	if err != nil {
		return nil, err
	}
	if _, ok := sessions[s.RoomCode]; ok {
		return nil, ErrAlreadyExists
	}

	stored := s.Clone()
	stored.Version = 1
	sessions[s.RoomCode] = stored
	if err := f.save(sessions); err != nil {
		return nil, err
	}

	f.markSeen(stored.RoomCode, stored.Version)
	return stored.Clone(), nil
}

// Get returns the persisted session, or ErrNotFound.
func (f *FileStore) Get(ctx context.Context, roomCode string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions, err := f.load()
	if err != nil {
		return nil, err
	}
	s, ok := sessions[roomCode]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Update re-reads the file, merges the patch onto the freshest persisted
// state, bumps the version counter and writes the result back.
func (f *FileStore) Update(ctx context.Context, roomCode string, patch models.SessionPatch) (*models.Session, error) {
	f.mu.Lock()
	sessions, err := f.load()
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	s, ok := sessions[roomCode]
	if !ok {
		f.mu.Unlock()
		return nil, ErrNotFound
	}

	patch.Apply(s, f.clock.Now())
	s.Version++
	if err := f.save(sessions); err != nil {
		f.mu.Unlock()
		return nil, err
	}

	result := s.Clone()
	// Mark before releasing mu: once the file is replaced a watcher
	// notification may race in, and it must lose the version filter to
	// this update's own synchronous delivery.
	f.markSeen(roomCode, result.Version)
	f.mu.Unlock()

	f.deliver(roomCode, result)
	return result, nil
}

// Delete removes the session from the file. Absent room codes are
// ignored.
func (f *FileStore) Delete(ctx context.Context, roomCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := sessions[roomCode]; !ok {
		return nil
	}
	delete(sessions, roomCode)
	return f.save(sessions)
}

// Subscribe registers a callback for updates to the room code, whichever
// process writes them.
func (f *FileStore) Subscribe(roomCode string, cb Callback) Unsubscribe {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	if f.subs[roomCode] == nil {
		f.subs[roomCode] = make(map[uuid.UUID]Callback)
	}
	id := uuid.New()
	f.subs[roomCode][id] = cb

	var once sync.Once
	return func() {
		once.Do(func() {
			f.subMu.Lock()
			defer f.subMu.Unlock()
			delete(f.subs[roomCode], id)
			if len(f.subs[roomCode]) == 0 {
				delete(f.subs, roomCode)
				delete(f.lastSeen, roomCode)
			}
		})
	}
}

// List returns sessions that include the player.
func (f *FileStore) List(ctx context.Context, playerID string, filter *ListFilter) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions, err := f.load()
	if err != nil {
		return nil, err
	}
	var out []*models.Session
	for _, s := range sessions {
		if !s.HasPlayer(playerID) {
			continue
		}
		if filter != nil && filter.Step != nil && s.Step != *filter.Step {
			continue
		}
		out = append(out, s.Clone())
	}
	return out, nil
}

// run feeds subscribers from file-change notifications plus a fallback
// poll, mirroring the notify-or-poll loop of the server-side listener.
func (f *FileStore) run() {
	ticker := f.clock.NewTicker(DefaultFilePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if event.Name != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			f.notifyChanged()
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("path", f.path).Msg("file watcher error")
		case <-ticker.Chan():
			f.notifyChanged()
		}
	}
}

// notifyChanged reloads the file and delivers any subscribed session
// whose version moved past the last delivered one.
func (f *FileStore) notifyChanged() {
	f.subMu.Lock()
	codes := make([]string, 0, len(f.subs))
	for code := range f.subs {
		codes = append(codes, code)
	}
	f.subMu.Unlock()

	if len(codes) == 0 {
		return
	}

	f.mu.Lock()
	sessions, err := f.load()
	f.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("path", f.path).Msg("reload store file")
		return
	}

	for _, code := range codes {
		s, ok := sessions[code]
		if !ok {
			continue
		}
		f.subMu.Lock()
		seen := f.lastSeen[code]
		if s.Version <= seen {
			f.subMu.Unlock()
			continue
		}
		f.lastSeen[code] = s.Version
		f.subMu.Unlock()
		f.deliver(code, s)
	}
}

func (f *FileStore) markSeen(roomCode string, version int64) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	if version > f.lastSeen[roomCode] {
		f.lastSeen[roomCode] = version
	}
}

func (f *FileStore) deliver(roomCode string, s *models.Session) {
	f.subMu.Lock()
	callbacks := make([]Callback, 0, len(f.subs[roomCode]))
	for _, cb := range f.subs[roomCode] {
		callbacks = append(callbacks, cb)
	}
	f.subMu.Unlock()

	for _, cb := range callbacks {
		cb(s.Clone())
	}
}

// load reads the whole store file. A missing file is an empty store.
func (f *FileStore) load() (map[string]*models.Session, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]*models.Session), nil
		}
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if len(data) == 0 {
		return make(map[string]*models.Session), nil
	}

	var sessions map[string]*models.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("decode store file: %w", err)
	}
	if sessions == nil {
		sessions = make(map[string]*models.Session)
	}
	return sessions, nil
}

// save atomically replaces the store file so readers in other processes
// never observe a partial write.
func (f *FileStore) save(sessions map[string]*models.Session) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
