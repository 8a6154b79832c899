package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletalk/internal/models"
)

func testSession(roomCode string, mode models.GameMode, now time.Time) *models.Session {
	host := models.Player{ID: "p1", Name: "A"}
	s := models.NewSession(roomCode, mode, host, false, now)
	s.Players = append(s.Players, models.Player{ID: "p2", Name: "B"})
	s.PlayerIDs = []string{"p1", "p2"}
	return s
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)
	ctx := context.Background()

	created, err := store.Create(ctx, testSession("MAPLE01", models.ModeOnline, clock.Now()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Step != models.StepLobby {
		t.Fatalf("step = %s, want %s", created.Step, models.StepLobby)
	}

	if _, err := store.Create(ctx, testSession("MAPLE01", models.ModeOnline, clock.Now())); err != ErrAlreadyExists {
		t.Fatalf("duplicate create: err = %v, want ErrAlreadyExists", err)
	}

	got, err := store.Get(ctx, "MAPLE01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RoomCode != "MAPLE01" {
		t.Fatalf("room code = %s", got.RoomCode)
	}

	if _, err := store.Get(ctx, "NOPE99"); err != ErrNotFound {
		t.Fatalf("missing get: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreUpdateShallowMergeRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)
	ctx := context.Background()

	before, err := store.Create(ctx, testSession("MAPLE01", models.ModeOnline, clock.Now()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := store.Update(ctx, "MAPLE01", models.SessionPatch{Step: models.StepPtr(models.StepCategories)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Step != models.StepCategories {
		t.Fatalf("step = %s, want %s", updated.Step, models.StepCategories)
	}

	got, err := store.Get(ctx, "MAPLE01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Step != models.StepCategories {
		t.Fatalf("step after get = %s", got.Step)
	}
	// Every field the patch did not touch is unchanged.
	if got.HostID != before.HostID || len(got.Players) != len(before.Players) ||
		got.Chaos != before.Chaos || got.TotalQuestions != before.TotalQuestions {
		t.Fatal("untouched fields changed by shallow merge")
	}
}

func TestMemoryStorePlayerIDsTracksPlayers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)
	ctx := context.Background()

	if _, err := store.Create(ctx, testSession("MAPLE01", models.ModeOnline, clock.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	players := []models.Player{
		{ID: "p1", Name: "A"},
		{ID: "p2", Name: "B"},
		{ID: "p3", Name: "C"},
	}
	got, err := store.Update(ctx, "MAPLE01", models.SessionPatch{Players: players})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(got.PlayerIDs) != 3 {
		t.Fatalf("player ids = %v", got.PlayerIDs)
	}
	for i, p := range players {
		if got.PlayerIDs[i] != p.ID {
			t.Fatalf("player ids %v out of sync with players", got.PlayerIDs)
		}
	}
}

func TestMemoryStoreDeleteIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)
	ctx := context.Background()

	if _, err := store.Create(ctx, testSession("MAPLE01", models.ModeOnline, clock.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Delete(ctx, "MAPLE01"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "MAPLE01"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if err := store.Delete(ctx, "NEVER00"); err != nil {
		t.Fatalf("delete of unknown code: %v", err)
	}
}

func TestMemoryStoreSubscribeFiresOnUpdate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)
	ctx := context.Background()

	if _, err := store.Create(ctx, testSession("MAPLE01", models.ModeOnline, clock.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	var seen []models.Step
	unsub := store.Subscribe("MAPLE01", func(s *models.Session) {
		seen = append(seen, s.Step)
	})

	if _, err := store.Update(ctx, "MAPLE01", models.SessionPatch{Step: models.StepPtr(models.StepCategories)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(seen) != 1 || seen[0] != models.StepCategories {
		t.Fatalf("seen = %v", seen)
	}

	unsub()
	unsub() // second call is a no-op

	if _, err := store.Update(ctx, "MAPLE01", models.SessionPatch{Step: models.StepPtr(models.StepSpicy)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("callback fired after unsubscribe: %v", seen)
	}
}

func TestMemoryStorePassiveExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)
	ctx := context.Background()

	if _, err := store.Create(ctx, testSession("MAPLE01", models.ModeOnline, clock.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(24*time.Hour + time.Minute)

	if _, err := store.Get(ctx, "MAPLE01"); err != ErrNotFound {
		t.Fatalf("expired get: err = %v, want ErrNotFound", err)
	}
	if _, err := store.Update(ctx, "MAPLE01", models.SessionPatch{Step: models.StepPtr(models.StepGame)}); err != ErrNotFound {
		t.Fatalf("expired update: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreList(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)
	ctx := context.Background()

	a := testSession("MAPLE01", models.ModeOnline, clock.Now())
	b := testSession("RIVER02", models.ModeOnline, clock.Now())
	b.Step = models.StepGame
	for _, s := range []*models.Session{a, b} {
		if _, err := store.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	all, err := store.List(ctx, "p1", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("list = %d sessions, want 2", len(all))
	}

	inGame, err := store.List(ctx, "p1", &ListFilter{Step: models.StepPtr(models.StepGame)})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(inGame) != 1 || inGame[0].RoomCode != "RIVER02" {
		t.Fatalf("filtered list = %v", inGame)
	}

	none, err := store.List(ctx, "stranger", nil)
	if err != nil {
		t.Fatalf("list stranger: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("stranger sees %d sessions", len(none))
	}
}
