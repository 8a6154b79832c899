package game

import (
	"errors"

	"github.com/mcdev12/tabletalk/internal/models"
)

// ErrAlreadyJoined is returned when a player id is already in the session.
var ErrAlreadyJoined = errors.New("player already joined")

// AddPlayer admits a new player while the session is still in the lobby.
func AddPlayer(s *models.Session, p models.Player) (models.SessionPatch, error) {
	if s.Step != models.StepLobby {
		return models.SessionPatch{}, ErrWrongStep
	}
	if s.HasPlayer(p.ID) {
		return models.SessionPatch{}, ErrAlreadyJoined
	}

	players := append(clonePlayers(s.Players), p)
	return models.SessionPatch{Players: players}, nil
}

// SetReady flips one player's ready flag.
func SetReady(s *models.Session, playerID string, ready bool) (models.SessionPatch, error) {
	return patchPlayer(s, playerID, func(p *models.Player) {
		p.Ready = ready
	})
}

// SelectCategories replaces one player's category selection while the
// session is choosing topics.
func SelectCategories(s *models.Session, playerID string, categories []models.Category) (models.SessionPatch, error) {
	if s.Step != models.StepCategories {
		return models.SessionPatch{}, ErrWrongStep
	}
	return patchPlayer(s, playerID, func(p *models.Player) {
		p.Categories = categories
	})
}

// CastVote records one player's spicy vote.
func CastVote(s *models.Session, playerID string, vote models.Intensity) (models.SessionPatch, error) {
	if s.Step != models.StepSpicy {
		return models.SessionPatch{}, ErrWrongStep
	}
	return patchPlayer(s, playerID, func(p *models.Player) {
		p.SpicyVote = &vote
	})
}

func patchPlayer(s *models.Session, playerID string, mutate func(*models.Player)) (models.SessionPatch, error) {
	players := clonePlayers(s.Players)
	for i := range players {
		if players[i].ID == playerID {
			mutate(&players[i])
			return models.SessionPatch{Players: players}, nil
		}
	}
	return models.SessionPatch{}, ErrNotParticipant
}

func clonePlayers(players []models.Player) []models.Player {
	out := make([]models.Player, len(players))
	for i, p := range players {
		out[i] = p
		if p.Categories != nil {
			out[i].Categories = append([]models.Category(nil), p.Categories...)
		}
		if p.SpicyVote != nil {
			v := *p.SpicyVote
			out[i].SpicyVote = &v
		}
	}
	return out
}
