package game

import (
	"errors"
	"fmt"

	"github.com/mcdev12/tabletalk/internal/models"
)

// Config holds the tunable rules of the state machine.
type Config struct {
	MinPlayers           int     // players required to leave the lobby
	QuestionsPerCategory int     // question quota per common category
	ChaosChance          float64 // per-question probability of escalation
}

// DefaultConfig returns the standard game rules.
func DefaultConfig() Config {
	return Config{
		MinPlayers:           2,
		QuestionsPerCategory: 3,
		ChaosChance:          0.1,
	}
}

// Transition guard errors. They surface as ValidationFailed at the
// service boundary.
var (
	ErrWrongStep         = errors.New("operation not valid in current step")
	ErrNotEnoughPlayers  = errors.New("not enough ready players")
	ErrNotAllReady       = errors.New("not every player is ready")
	ErrEmptyIntersection = errors.New("players share no common categories")
	ErrMissingVotes      = errors.New("not every player has voted")
	ErrRoundIncomplete   = errors.New("not every player has answered")
	ErrNotParticipant    = errors.New("player is not part of this session")
	ErrGenerating        = errors.New("summary generation in progress")
)

// CommonCategories computes the intersection of every player's selected
// categories, ordered by the fixed catalog so question sequencing is
// deterministic.
func CommonCategories(players []models.Player) []models.Category {
	if len(players) == 0 {
		return nil
	}

	counts := make(map[models.Category]int)
	for _, p := range players {
		seen := make(map[models.Category]bool)
		for _, c := range p.Categories {
			if !seen[c] {
				seen[c] = true
				counts[c]++
			}
		}
	}

	var common []models.Category
	for _, c := range models.CategoryCatalog {
		if counts[c] == len(players) {
			common = append(common, c)
		}
	}
	return common
}

// ResolveIntensity applies the conservative-consensus rule: the session
// intensity is the least intense of all votes, so the game never exceeds
// the comfort level of its most cautious participant.
func ResolveIntensity(players []models.Player) (models.Intensity, error) {
	votes := make([]models.Intensity, 0, len(players))
	for _, p := range players {
		if p.SpicyVote == nil {
			return "", ErrMissingVotes
		}
		votes = append(votes, *p.SpicyVote)
	}
	min, ok := models.MinIntensity(votes)
	if !ok {
		return "", ErrMissingVotes
	}
	return min, nil
}

// CategoryForQuestion maps a 1-based question index onto the common
// category it belongs to. Every question for category 0 is asked before
// any question for category 1.
func CategoryForQuestion(common []models.Category, index, questionsPerCategory int) (models.Category, error) {
	if index < 1 {
		return "", fmt.Errorf("question index %d is out of range", index)
	}
	slot := (index - 1) / questionsPerCategory
	if slot >= len(common) {
		return "", fmt.Errorf("question index %d exceeds %d categories", index, len(common))
	}
	return common[slot], nil
}

// resetReady returns a copy of players with every ready flag cleared.
func resetReady(players []models.Player) []models.Player {
	out := make([]models.Player, len(players))
	for i, p := range players {
		out[i] = p
		out[i].Ready = false
	}
	return out
}

// readyCount returns how many players are ready.
func readyCount(players []models.Player) int {
	n := 0
	for _, p := range players {
		if p.Ready {
			n++
		}
	}
	return n
}

// allReady reports whether every player is ready.
func allReady(players []models.Player) bool {
	return readyCount(players) == len(players)
}

// StartSelection advances lobby -> categories once the minimum number of
// players have readied up. Ready flags reset on transition.
func (c Config) StartSelection(s *models.Session) (models.SessionPatch, error) {
	if s.Step != models.StepLobby {
		return models.SessionPatch{}, ErrWrongStep
	}
	if readyCount(s.Players) < c.MinPlayers {
		return models.SessionPatch{}, ErrNotEnoughPlayers
	}
	return models.SessionPatch{
		Step:    models.StepPtr(models.StepCategories),
		Players: resetReady(s.Players),
	}, nil
}

// LockCategories advances categories -> spicy, computing the common
// category set and the total question count.
//
// When the intersection is empty the returned patch still resets every
// ready flag so players can reselect, and the error reports why the step
// did not change. Callers apply the patch and surface the error.
func (c Config) LockCategories(s *models.Session) (models.SessionPatch, error) {
	if s.Step != models.StepCategories {
		return models.SessionPatch{}, ErrWrongStep
	}
	if !allReady(s.Players) {
		return models.SessionPatch{}, ErrNotAllReady
	}

	common := CommonCategories(s.Players)
	if len(common) == 0 {
		return models.SessionPatch{Players: resetReady(s.Players)}, ErrEmptyIntersection
	}

	total := len(common) * c.QuestionsPerCategory
	return models.SessionPatch{
		Step:             models.StepPtr(models.StepSpicy),
		Players:          resetReady(s.Players),
		CommonCategories: common,
		TotalQuestions:   models.IntPtr(total),
	}, nil
}

// RoundComplete reports whether the current round has an answer from
// every player.
func RoundComplete(s *models.Session) bool {
	r, ok := s.CurrentRound()
	if !ok {
		return false
	}
	return r.Complete(len(s.Players))
}

// SubmitAnswer records a player's answer to the current question,
// creating the round on the first answer. The returned patch carries the
// complete new rounds slice.
func SubmitAnswer(s *models.Session, playerID, answer string) (models.SessionPatch, error) {
	if s.Step != models.StepGame {
		return models.SessionPatch{}, ErrWrongStep
	}
	if s.Generating {
		return models.SessionPatch{}, ErrGenerating
	}
	if !s.HasPlayer(playerID) {
		return models.SessionPatch{}, ErrNotParticipant
	}

	rounds := cloneRounds(s.Rounds)
	if len(rounds) < s.CurrentQuestionIndex {
		rounds = append(rounds, models.Round{
			Question: s.CurrentQuestion,
			Answers:  make(map[string]string),
		})
	}
	rounds[len(rounds)-1].Answers[playerID] = answer

	return models.SessionPatch{Rounds: rounds}, nil
}

func cloneRounds(rounds []models.Round) []models.Round {
	out := make([]models.Round, len(rounds))
	for i, r := range rounds {
		out[i] = models.Round{Question: r.Question, Answers: make(map[string]string, len(r.Answers))}
		for k, v := range r.Answers {
			out[i].Answers[k] = v
		}
	}
	return out
}
