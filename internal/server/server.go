package server

import (
	"context"
	"errors"
	"math/rand"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabletalk/internal/auth"
	"github.com/mcdev12/tabletalk/internal/gate"
	"github.com/mcdev12/tabletalk/internal/models"
	"github.com/mcdev12/tabletalk/internal/ratelimit"
	"github.com/mcdev12/tabletalk/internal/relay"
	"github.com/mcdev12/tabletalk/internal/roomcode"
	"github.com/mcdev12/tabletalk/internal/session"
)

// Server is the room service: the HTTP boundary that remote adapters
// talk to. Every write goes through the gate before it reaches the
// store, and every response body is the store's authoritative session.
type Server struct {
	store   session.Store
	codes   *roomcode.Generator
	tokens  *auth.Tokens
	gate    gate.Config
	limiter *ratelimit.Limiter
	relay   relay.Publisher
	clock   clockwork.Clock
}

// New wires a server. A nil publisher disables the event relay.
func New(store session.Store, tokens *auth.Tokens, limiter *ratelimit.Limiter, publisher relay.Publisher, rng *rand.Rand, clock clockwork.Clock) *Server {
	if publisher == nil {
		publisher = relay.Noop{}
	}
	return &Server{
		store:   store,
		codes:   roomcode.New(rng),
		tokens:  tokens,
		gate:    gate.DefaultConfig(),
		limiter: limiter,
		relay:   publisher,
		clock:   clock,
	}
}

// Routes returns the service handler. CORS and h2c wrapping happen in
// the command that owns the listener.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /auth/guest", s.rateLimited(http.HandlerFunc(s.handleGuestToken)))

	mux.Handle("POST /rooms", s.authed(s.rateLimited(http.HandlerFunc(s.handleCreateRoom))))
	mux.Handle("GET /rooms", s.authed(http.HandlerFunc(s.handleListRooms)))
	mux.Handle("GET /rooms/{code}", s.authed(http.HandlerFunc(s.handleGetRoom)))
	mux.Handle("PATCH /rooms/{code}", s.authed(s.rateLimited(http.HandlerFunc(s.handlePatchRoom))))
	mux.Handle("DELETE /rooms/{code}", s.authed(s.rateLimited(http.HandlerFunc(s.handleDeleteRoom))))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	return s.logged(mux)
}

type guestTokenRequest struct {
	Name string `json:"name"`
}

type guestTokenResponse struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Token    string `json:"token"`
}

func (s *Server) handleGuestToken(w http.ResponseWriter, r *http.Request) {
	var req guestTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name, err := s.gate.CleanName(req.Name)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	playerID := newPlayerID()
	token, err := s.tokens.Mint(playerID, name)
	if err != nil {
		log.Error().Err(err).Msg("failed to mint guest token")
		writeError(w, http.StatusInternalServerError, "failed to mint token")
		return
	}

	writeJSON(w, http.StatusOK, guestTokenResponse{PlayerID: playerID, Name: name, Token: token})
}

type createRoomRequest struct {
	HostName string `json:"host_name"`
	Chaos    bool   `json:"chaos"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.HostName == "" {
		req.HostName = identity.Name
	}
	hostName, err := s.gate.CleanName(req.HostName)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	code, err := s.codes.Generate(r.Context(), func(ctx context.Context, code string) (bool, error) {
		_, err := s.store.Get(ctx, code)
		if errors.Is(err, session.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to generate room code")
		writeError(w, http.StatusInternalServerError, "failed to allocate room code")
		return
	}

	host := models.Player{ID: identity.PlayerID, Name: hostName}
	created, err := s.store.Create(r.Context(), models.NewSession(code, models.ModeOnline, host, req.Chaos, s.clock.Now()))
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	s.publish(r.Context(), relay.EventRoomCreated, created)
	log.Info().
		Str("room_code", created.RoomCode).
		Str("host_id", identity.PlayerID).
		Bool("chaos", created.Chaos).
		Msg("room created")

	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	current, err := s.store.Get(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) handlePatchRoom(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	roomCode := r.PathValue("code")

	var patch models.SessionPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	current, err := s.store.Get(r.Context(), roomCode)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	cleaned, err := s.gate.Clean(identity.PlayerID, current, patch)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	updated, err := s.store.Update(r.Context(), roomCode, cleaned)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	if current.Step != models.StepSummary && updated.Step == models.StepSummary {
		s.publish(r.Context(), relay.EventRoomCompleted, updated)
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	roomCode := r.PathValue("code")

	current, err := s.store.Get(r.Context(), roomCode)
	if errors.Is(err, session.ErrNotFound) {
		// Delete is idempotent.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	if current.HostID != identity.PlayerID {
		writeError(w, http.StatusForbidden, "only the host can delete a room")
		return
	}

	if err := s.store.Delete(r.Context(), roomCode); err != nil {
		s.writeMappedError(w, err)
		return
	}

	s.publish(r.Context(), relay.EventRoomDeleted, current)
	log.Info().Str("room_code", roomCode).Msg("room deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	player := r.URL.Query().Get("player")
	if player != "" && player != "me" && player != identity.PlayerID {
		writeError(w, http.StatusForbidden, "can only list your own rooms")
		return
	}

	var filter *session.ListFilter
	if raw := r.URL.Query().Get("step"); raw != "" {
		step := models.Step(raw)
		if !models.ValidStep(step) {
			writeError(w, http.StatusBadRequest, "unknown step filter")
			return
		}
		filter = &session.ListFilter{Step: &step}
	}

	sessions, err := s.store.List(r.Context(), identity.PlayerID, filter)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// publish emits a lifecycle event; failures are logged, never surfaced,
// since the session write already committed.
func (s *Server) publish(ctx context.Context, eventType string, sess *models.Session) {
	event := relay.NewRoomEvent(eventType, sess.RoomCode, sess.Mode, s.clock.Now())
	if err := s.relay.Publish(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event_type", eventType).
			Str("room_code", sess.RoomCode).
			Msg("failed to publish room event")
	}
}
