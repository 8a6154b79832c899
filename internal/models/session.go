package models

import (
	"time"
)

// Step defines how far a session has progressed.
type Step string

const (
	StepLobby      Step = "LOBBY"
	StepCategories Step = "CATEGORIES"
	StepSpicy      Step = "SPICY"
	StepGame       Step = "GAME"
	StepSummary    Step = "SUMMARY"
)

// ValidStep reports whether s is a known step value.
func ValidStep(s Step) bool {
	switch s {
	case StepLobby, StepCategories, StepSpicy, StepGame, StepSummary:
		return true
	}
	return false
}

// GameMode defines where session state lives.
type GameMode string

const (
	ModeOnline GameMode = "ONLINE"
	ModeLocal  GameMode = "LOCAL"
)

// Intensity defines the content intensity of generated questions.
type Intensity string

const (
	IntensityMild   Intensity = "MILD"
	IntensityMedium Intensity = "MEDIUM"
	IntensityHot    Intensity = "HOT"
	IntensityExtra  Intensity = "EXTRA"
)

// intensityRank orders intensities from least to most intense.
var intensityRank = map[Intensity]int{
	IntensityMild:   0,
	IntensityMedium: 1,
	IntensityHot:    2,
	IntensityExtra:  3,
}

// ValidIntensity reports whether i is a known intensity value.
func ValidIntensity(i Intensity) bool {
	_, ok := intensityRank[i]
	return ok
}

// Rank returns the intensity's position in the mild-to-extra ordering.
func (i Intensity) Rank() int {
	return intensityRank[i]
}

// Next returns the intensity one notch above i, capped at the maximum.
func (i Intensity) Next() Intensity {
	switch i {
	case IntensityMild:
		return IntensityMedium
	case IntensityMedium:
		return IntensityHot
	default:
		return IntensityExtra
	}
}

// MinIntensity returns the least intense of the given votes.
// Returns false if votes is empty.
func MinIntensity(votes []Intensity) (Intensity, bool) {
	if len(votes) == 0 {
		return "", false
	}
	min := votes[0]
	for _, v := range votes[1:] {
		if v.Rank() < min.Rank() {
			min = v
		}
	}
	return min, true
}

// Category is one topic from the fixed conversation catalog.
type Category string

// CategoryCatalog is the fixed set of selectable topics.
var CategoryCatalog = []Category{
	"Trust",
	"Childhood",
	"Dreams",
	"Relationships",
	"Values",
	"Secrets",
	"Adventures",
	"Regrets",
}

// ValidCategory reports whether c is part of the catalog.
func ValidCategory(c Category) bool {
	for _, known := range CategoryCatalog {
		if c == known {
			return true
		}
	}
	return false
}

// Player is one participant in a session.
type Player struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Ready      bool       `json:"ready"`
	Categories []Category `json:"categories,omitempty"`
	SpicyVote  *Intensity `json:"spicy_vote,omitempty"`
}

// Round is one question together with each player's answer to it.
// A round is only ever extended, never rewritten or deleted.
type Round struct {
	Question string            `json:"question"`
	Answers  map[string]string `json:"answers"`
}

// Complete reports whether every one of playerCount players has answered.
func (r Round) Complete(playerCount int) bool {
	return len(r.Answers) == playerCount
}

// Session is the root aggregate, keyed by room code.
type Session struct {
	RoomCode string   `json:"room_code"`
	Step     Step     `json:"step"`
	Mode     GameMode `json:"mode"`
	HostID   string   `json:"host_id"`

	Players   []Player `json:"players"`
	PlayerIDs []string `json:"player_ids"`

	CommonCategories []Category `json:"common_categories,omitempty"`
	Intensity        *Intensity `json:"intensity,omitempty"`
	Chaos            bool       `json:"chaos"`

	Rounds               []Round `json:"rounds,omitempty"`
	CurrentQuestion      string  `json:"current_question,omitempty"`
	CurrentQuestionIndex int     `json:"current_question_index"`
	TotalQuestions       int     `json:"total_questions"`

	Summary    string `json:"summary,omitempty"`
	Generating bool   `json:"generating"`

	// Version is maintained by the persistent stores (file, postgres)
	// for change dedupe and optimistic concurrency; the in-process
	// store leaves it zero.
	Version int64 `json:"version,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ExpiresAt is only set in online mode; expired sessions are treated
	// as absent by the store.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewSession returns a session initialized to its lobby values with the
// host as the only player.
func NewSession(roomCode string, mode GameMode, host Player, chaos bool, now time.Time) *Session {
	s := &Session{
		RoomCode:  roomCode,
		Step:      StepLobby,
		Mode:      mode,
		HostID:    host.ID,
		Players:   []Player{host},
		Chaos:     chaos,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.PlayerIDs = playerIDs(s.Players)
	if mode == ModeOnline {
		exp := now.Add(24 * time.Hour)
		s.ExpiresAt = &exp
	}
	return s
}

// Expired reports whether the session's expiry has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// HasPlayer reports whether id is a participant.
func (s *Session) HasPlayer(id string) bool {
	for _, pid := range s.PlayerIDs {
		if pid == id {
			return true
		}
	}
	return false
}

// PlayerByID returns the player with the given id, if present.
func (s *Session) PlayerByID(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// CurrentRound returns the round being answered, if one exists.
func (s *Session) CurrentRound() (Round, bool) {
	if len(s.Rounds) == 0 {
		return Round{}, false
	}
	return s.Rounds[len(s.Rounds)-1], true
}

// Clone returns a deep copy so stored state never aliases caller state.
func (s *Session) Clone() *Session {
	out := *s
	out.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		out.Players[i] = p
		if p.Categories != nil {
			out.Players[i].Categories = append([]Category(nil), p.Categories...)
		}
		if p.SpicyVote != nil {
			v := *p.SpicyVote
			out.Players[i].SpicyVote = &v
		}
	}
	out.PlayerIDs = append([]string(nil), s.PlayerIDs...)
	if s.CommonCategories != nil {
		out.CommonCategories = append([]Category(nil), s.CommonCategories...)
	}
	if s.Intensity != nil {
		v := *s.Intensity
		out.Intensity = &v
	}
	if s.Rounds != nil {
		out.Rounds = make([]Round, len(s.Rounds))
		for i, r := range s.Rounds {
			out.Rounds[i] = Round{Question: r.Question, Answers: make(map[string]string, len(r.Answers))}
			for k, v := range r.Answers {
				out.Rounds[i].Answers[k] = v
			}
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

func playerIDs(players []Player) []string {
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	return ids
}
