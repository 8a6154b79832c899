package server

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/tabletalk/internal/auth"
	"github.com/mcdev12/tabletalk/internal/models"
	"github.com/mcdev12/tabletalk/internal/ratelimit"
	"github.com/mcdev12/tabletalk/internal/session"
)

type fixture struct {
	server *httptest.Server
	tokens *auth.Tokens
	store  *session.MemoryStore
}

func newFixture(t *testing.T, limit ratelimit.Config) *fixture {
	t.Helper()
	clock := clockwork.NewRealClock()
	store := session.NewMemoryStore(clock)
	tokens := auth.NewTokens("test-secret", 0, clock)
	limiter := ratelimit.New(limit, clock)

	srv := New(store, tokens, limiter, nil, rand.New(rand.NewSource(1)), clock)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &fixture{server: ts, tokens: tokens, store: store}
}

func (f *fixture) token(t *testing.T, playerID, name string) string {
	t.Helper()
	token, err := f.tokens.Mint(playerID, name)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return token
}

func (f *fixture) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	return resp
}

func decodeSession(t *testing.T, resp *http.Response) *models.Session {
	t.Helper()
	defer resp.Body.Close()
	var s models.Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return &s
}

func TestGuestTokenAndCreateRoom(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())

	resp := f.request(t, http.MethodPost, "/auth/guest", "", map[string]string{"name": "Ana"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("guest token status = %d", resp.StatusCode)
	}
	var guest struct {
		PlayerID string `json:"player_id"`
		Token    string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&guest); err != nil {
		t.Fatalf("decode guest: %v", err)
	}
	resp.Body.Close()

	resp = f.request(t, http.MethodPost, "/rooms", guest.Token, map[string]any{"host_name": "Ana", "chaos": true})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decodeSession(t, resp)
	if created.HostID != guest.PlayerID {
		t.Fatalf("host id = %q, want %q", created.HostID, guest.PlayerID)
	}
	if created.RoomCode == "" || !created.Chaos || created.Step != models.StepLobby {
		t.Fatalf("unexpected session %+v", created)
	}
}

func TestCreateRequiresToken(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	resp := f.request(t, http.MethodPost, "/rooms", "", map[string]any{"host_name": "Ana"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	token := f.token(t, "p1", "Ana")
	resp := f.request(t, http.MethodGet, "/rooms/NOPE99", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestJoinAndForbiddenPatch(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	hostToken := f.token(t, "host-1", "Ana")

	resp := f.request(t, http.MethodPost, "/rooms", hostToken, map[string]any{"host_name": "Ana"})
	created := decodeSession(t, resp)

	// A stranger joins the lobby by appending themselves.
	joinToken := f.token(t, "p2", "Ben")
	join := models.SessionPatch{
		Players: append(append([]models.Player(nil), created.Players...), models.Player{ID: "p2", Name: "Ben"}),
	}
	resp = f.request(t, http.MethodPatch, "/rooms/"+created.RoomCode, joinToken, join)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join status = %d", resp.StatusCode)
	}
	joined := decodeSession(t, resp)
	if len(joined.Players) != 2 || joined.PlayerIDs[1] != "p2" {
		t.Fatalf("join not applied: %+v", joined)
	}

	// A non-host cannot move the step.
	resp = f.request(t, http.MethodPatch, "/rooms/"+created.RoomCode, joinToken,
		models.SessionPatch{Step: models.StepPtr(models.StepCategories)})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("step patch status = %d, want 403", resp.StatusCode)
	}
}

func TestPatchRejectsUnknownFields(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	hostToken := f.token(t, "host-1", "Ana")
	resp := f.request(t, http.MethodPost, "/rooms", hostToken, map[string]any{"host_name": "Ana"})
	created := decodeSession(t, resp)

	resp = f.request(t, http.MethodPatch, "/rooms/"+created.RoomCode, hostToken,
		map[string]any{"room_code": "HIJACK1"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteRoomHostOnly(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	hostToken := f.token(t, "host-1", "Ana")
	resp := f.request(t, http.MethodPost, "/rooms", hostToken, map[string]any{"host_name": "Ana"})
	created := decodeSession(t, resp)

	otherToken := f.token(t, "p2", "Ben")
	resp = f.request(t, http.MethodDelete, "/rooms/"+created.RoomCode, otherToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-host delete status = %d, want 403", resp.StatusCode)
	}

	resp = f.request(t, http.MethodDelete, "/rooms/"+created.RoomCode, hostToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	// Idempotent: deleting again succeeds.
	resp = f.request(t, http.MethodDelete, "/rooms/"+created.RoomCode, hostToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("second delete status = %d, want 204", resp.StatusCode)
	}
}

func TestListRoomsOwnOnly(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	hostToken := f.token(t, "host-1", "Ana")
	resp := f.request(t, http.MethodPost, "/rooms", hostToken, map[string]any{"host_name": "Ana"})
	decodeSession(t, resp)

	resp = f.request(t, http.MethodGet, "/rooms?player=me", hostToken, nil)
	var sessions []*models.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	resp.Body.Close()
	if len(sessions) != 1 {
		t.Fatalf("list returned %d sessions, want 1", len(sessions))
	}

	resp = f.request(t, http.MethodGet, "/rooms?player=host-1", f.token(t, "p9", "Eve"), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("listing someone else's rooms status = %d, want 403", resp.StatusCode)
	}
}

func TestRateLimitHeadersAndRejection(t *testing.T) {
	cfg := ratelimit.Config{Max: 2, Window: time.Minute, SweepInterval: time.Minute}
	f := newFixture(t, cfg)
	token := f.token(t, "host-1", "Ana")

	var last *http.Response
	for i := 0; i < 2; i++ {
		last = f.request(t, http.MethodPost, "/rooms", token, map[string]any{"host_name": "Ana"})
		last.Body.Close()
		if last.StatusCode != http.StatusCreated {
			t.Fatalf("request %d status = %d", i+1, last.StatusCode)
		}
	}

	resp := f.request(t, http.MethodPost, "/rooms", token, map[string]any{"host_name": "Ana"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining = %q, want 0", resp.Header.Get("X-RateLimit-Remaining"))
	}
}
