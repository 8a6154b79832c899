package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletalk/internal/models"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.json")
	store, err := NewFileStore(path, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFileStoreCreateGetDelete(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testSession("WILLOW07", models.ModeLocal, time.Now()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("version = %d, want 1", created.Version)
	}

	if _, err := store.Create(ctx, testSession("WILLOW07", models.ModeLocal, time.Now())); err != ErrAlreadyExists {
		t.Fatalf("duplicate create: err = %v, want ErrAlreadyExists", err)
	}

	got, err := store.Get(ctx, "WILLOW07")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Mode != models.ModeLocal {
		t.Fatalf("mode = %s", got.Mode)
	}

	if err := store.Delete(ctx, "WILLOW07"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "WILLOW07"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := store.Get(ctx, "WILLOW07"); err != ErrNotFound {
		t.Fatalf("get after delete: err = %v, want ErrNotFound", err)
	}
}

func TestFileStoreConcurrentWritersKeepDisjointFields(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, testSession("WILLOW07", models.ModeLocal, time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Two tabs write back to back, each touching a different field. Both
	// merges land because every update re-reads the freshest file state.
	if _, err := store.Update(ctx, "WILLOW07", models.SessionPatch{Step: models.StepPtr(models.StepCategories)}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if _, err := store.Update(ctx, "WILLOW07", models.SessionPatch{Chaos: models.BoolPtr(true)}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	got, err := store.Get(ctx, "WILLOW07")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Step != models.StepCategories {
		t.Fatalf("first writer's field lost: step = %s", got.Step)
	}
	if !got.Chaos {
		t.Fatal("second writer's field lost")
	}
	if got.Version != 3 {
		t.Fatalf("version = %d, want initial 1 + 2 updates", got.Version)
	}
}

func TestFileStoreVersionCountsUpdates(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, testSession("WILLOW07", models.ModeLocal, time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := store.Update(ctx, "WILLOW07", models.SessionPatch{CurrentQuestionIndex: models.IntPtr(i)}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	got, err := store.Get(ctx, "WILLOW07")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 1+n {
		t.Fatalf("version = %d, want %d", got.Version, 1+n)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	clock := clockwork.NewFakeClock()

	store, err := NewFileStore(path, clock)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Create(ctx, testSession("WILLOW07", models.ModeLocal, time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	store.Close()

	reopened, err := NewFileStore(path, clock)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "WILLOW07")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.RoomCode != "WILLOW07" || got.Version != 1 {
		t.Fatalf("reopened session = %+v", got)
	}
}

func TestFileStoreSubscribeDeliversOwnUpdatesOnce(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, testSession("WILLOW07", models.ModeLocal, time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	var versions []int64
	unsub := store.Subscribe("WILLOW07", func(s *models.Session) {
		versions = append(versions, s.Version)
	})
	defer unsub()

	if _, err := store.Update(ctx, "WILLOW07", models.SessionPatch{Step: models.StepPtr(models.StepCategories)}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(versions) != 1 || versions[0] != 2 {
		t.Fatalf("versions = %v, want one delivery of version 2", versions)
	}

	// A redundant notification pass must not re-deliver the same version.
	store.notifyChanged()
	if len(versions) != 1 {
		t.Fatalf("redundant delivery: versions = %v", versions)
	}
}

func TestFileStoreUpdateDeliveryWinsNotificationRace(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, testSession("WILLOW07", models.ModeLocal, time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	var mu sync.Mutex
	seen := make(map[int64]int)
	unsub := store.Subscribe("WILLOW07", func(s *models.Session) {
		mu.Lock()
		seen[s.Version]++
		mu.Unlock()
	})
	defer unsub()

	// A notification pass racing every update must always lose the
	// version filter to the update's own synchronous delivery.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				store.notifyChanged()
			}
		}
	}()

	for i := 0; i < 25; i++ {
		if _, err := store.Update(ctx, "WILLOW07", models.SessionPatch{Chaos: models.BoolPtr(i%2 == 0)}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	close(done)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for version, count := range seen {
		if count > 1 {
			t.Fatalf("version %d delivered %d times", version, count)
		}
	}
}

func TestFileStoreSubscribeSeesExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	clock := clockwork.NewFakeClock()

	store, err := NewFileStore(path, clock)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.Create(ctx, testSession("WILLOW07", models.ModeLocal, time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	got := make(chan *models.Session, 1)
	unsub := store.Subscribe("WILLOW07", func(s *models.Session) {
		select {
		case got <- s:
		default:
		}
	})
	defer unsub()

	// A second store against the same file stands in for another tab.
	other, err := NewFileStore(path, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	defer other.Close()

	if _, err := other.Update(ctx, "WILLOW07", models.SessionPatch{Step: models.StepPtr(models.StepCategories)}); err != nil {
		t.Fatalf("external update: %v", err)
	}

	select {
	case s := <-got:
		if s.Step != models.StepCategories {
			t.Fatalf("delivered step = %s", s.Step)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("external write never delivered")
	}
}
