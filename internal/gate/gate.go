package gate

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/mcdev12/tabletalk/internal/models"
)

var (
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)

// Config bounds the free-text fields a caller may write.
type Config struct {
	MaxNameLen     int
	MaxAnswerLen   int
	MaxQuestionLen int
}

// DefaultConfig returns the standard text limits.
func DefaultConfig() Config {
	return Config{
		MaxNameLen:     40,
		MaxAnswerLen:   500,
		MaxQuestionLen: 300,
	}
}

// Clean checks a proposed partial update from callerID against the
// current session and returns a sanitized copy that is safe to hand to
// the store. The field set is closed: each field is either validated
// here or reserved to the host, and free text comes back HTML-escaped
// and length-truncated.
//
// Authorization rules:
//   - a non-participant may do exactly one thing: append themselves to
//     the player list while the session is in the lobby
//   - session-wide fields (step, intensity, categories, question
//     cursor, summary) belong to the host
//   - a participant may change their own player entry and contribute
//     their own round answers, never another player's
func (c Config) Clean(callerID string, current *models.Session, patch models.SessionPatch) (models.SessionPatch, error) {
	if callerID == "" {
		return models.SessionPatch{}, fmt.Errorf("%w: missing caller identity", ErrForbidden)
	}
	if patch.Empty() {
		return models.SessionPatch{}, fmt.Errorf("%w: empty update", ErrValidation)
	}

	isParticipant := current.HasPlayer(callerID)
	isHost := callerID == current.HostID

	if !isParticipant {
		return c.cleanJoin(callerID, current, patch)
	}

	if sessionWide(patch) && !isHost {
		return models.SessionPatch{}, fmt.Errorf("%w: session fields can only be changed by the host", ErrForbidden)
	}

	out := patch

	if patch.Step != nil && !models.ValidStep(*patch.Step) {
		return models.SessionPatch{}, fmt.Errorf("%w: unknown step %q", ErrValidation, *patch.Step)
	}
	if patch.Intensity != nil && !models.ValidIntensity(*patch.Intensity) {
		return models.SessionPatch{}, fmt.Errorf("%w: unknown intensity %q", ErrValidation, *patch.Intensity)
	}
	for _, cat := range patch.CommonCategories {
		if !models.ValidCategory(cat) {
			return models.SessionPatch{}, fmt.Errorf("%w: unknown category %q", ErrValidation, cat)
		}
	}
	if patch.TotalQuestions != nil && *patch.TotalQuestions < 0 {
		return models.SessionPatch{}, fmt.Errorf("%w: negative question count", ErrValidation)
	}
	if patch.CurrentQuestionIndex != nil {
		total := current.TotalQuestions
		if patch.TotalQuestions != nil {
			total = *patch.TotalQuestions
		}
		idx := *patch.CurrentQuestionIndex
		if idx < current.CurrentQuestionIndex {
			return models.SessionPatch{}, fmt.Errorf("%w: question index moves backwards", ErrValidation)
		}
		if idx > total {
			return models.SessionPatch{}, fmt.Errorf("%w: question index beyond total", ErrValidation)
		}
	}
	if patch.CurrentQuestion != nil {
		q := c.cleanText(*patch.CurrentQuestion, c.MaxQuestionLen)
		if q == "" {
			return models.SessionPatch{}, fmt.Errorf("%w: empty question", ErrValidation)
		}
		out.CurrentQuestion = &q
	}
	if patch.Summary != nil {
		s := c.cleanText(*patch.Summary, 0)
		out.Summary = &s
	}

	if patch.Players != nil {
		players, err := c.cleanPlayers(callerID, isHost, current, patch.Players)
		if err != nil {
			return models.SessionPatch{}, err
		}
		out.Players = players
	}

	if patch.Rounds != nil {
		rounds, err := c.cleanRounds(callerID, current, patch)
		if err != nil {
			return models.SessionPatch{}, err
		}
		out.Rounds = rounds
	}

	return out, nil
}

// CleanName sanitizes a display name supplied outside a patch, for
// room creation and token minting.
func (c Config) CleanName(name string) (string, error) {
	cleaned := c.cleanText(name, c.MaxNameLen)
	if cleaned == "" {
		return "", fmt.Errorf("%w: player name required", ErrValidation)
	}
	return cleaned, nil
}

// cleanJoin handles the one update a stranger may make: joining a lobby.
func (c Config) cleanJoin(callerID string, current *models.Session, patch models.SessionPatch) (models.SessionPatch, error) {
	if patch.Players == nil || sessionWide(patch) || patch.Rounds != nil {
		return models.SessionPatch{}, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	if current.Step != models.StepLobby {
		return models.SessionPatch{}, fmt.Errorf("%w: session already started", ErrForbidden)
	}
	if len(patch.Players) != len(current.Players)+1 {
		return models.SessionPatch{}, fmt.Errorf("%w: join must append exactly one player", ErrForbidden)
	}
	for i, existing := range current.Players {
		if !samePlayer(existing, patch.Players[i]) {
			return models.SessionPatch{}, fmt.Errorf("%w: join may not change other players", ErrForbidden)
		}
	}

	joined := patch.Players[len(patch.Players)-1]
	if joined.ID != callerID {
		return models.SessionPatch{}, fmt.Errorf("%w: join must use the caller's own identity", ErrForbidden)
	}
	name := c.cleanText(joined.Name, c.MaxNameLen)
	if name == "" {
		return models.SessionPatch{}, fmt.Errorf("%w: player name required", ErrValidation)
	}

	players := clonePlayers(current.Players)
	players = append(players, models.Player{ID: callerID, Name: name})
	return models.SessionPatch{Players: players}, nil
}

func (c Config) cleanPlayers(callerID string, isHost bool, current *models.Session, proposed []models.Player) ([]models.Player, error) {
	if len(proposed) != len(current.Players) {
		return nil, fmt.Errorf("%w: players can only join through the lobby", ErrForbidden)
	}

	out := make([]models.Player, len(proposed))
	seen := make(map[string]bool, len(proposed))
	for i, p := range proposed {
		existing := current.Players[i]
		if p.ID != existing.ID {
			return nil, fmt.Errorf("%w: player list order is fixed", ErrForbidden)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("%w: duplicate player id", ErrValidation)
		}
		seen[p.ID] = true

		if p.ID != callerID {
			// The host resets ready flags on step transitions; nothing
			// else about another player is writable.
			if isHost && onlyReadyDiffers(existing, p) {
				out[i] = existing
				out[i].Ready = p.Ready
				continue
			}
			if !samePlayer(existing, p) {
				return nil, fmt.Errorf("%w: cannot change another player", ErrForbidden)
			}
			out[i] = existing
			continue
		}

		cleaned, err := c.cleanOwnPlayer(existing, p)
		if err != nil {
			return nil, err
		}
		out[i] = cleaned
	}
	return out, nil
}

func (c Config) cleanOwnPlayer(existing, p models.Player) (models.Player, error) {
	name := c.cleanText(p.Name, c.MaxNameLen)
	if name == "" {
		return models.Player{}, fmt.Errorf("%w: player name required", ErrValidation)
	}
	for _, cat := range p.Categories {
		if !models.ValidCategory(cat) {
			return models.Player{}, fmt.Errorf("%w: unknown category %q", ErrValidation, cat)
		}
	}
	if p.SpicyVote != nil && !models.ValidIntensity(*p.SpicyVote) {
		return models.Player{}, fmt.Errorf("%w: unknown intensity %q", ErrValidation, *p.SpicyVote)
	}

	cleaned := p
	cleaned.ID = existing.ID
	cleaned.Name = name
	if p.Categories != nil {
		cleaned.Categories = append([]models.Category(nil), p.Categories...)
	}
	return cleaned, nil
}

// cleanRounds accepts history untouched plus at most one of: the
// caller's own answer added to the newest round, or one appended round
// for the current question carrying only the caller's answer.
func (c Config) cleanRounds(callerID string, current *models.Session, patch models.SessionPatch) ([]models.Round, error) {
	proposed := patch.Rounds
	if current.Generating {
		return nil, fmt.Errorf("%w: summary generation in progress", ErrValidation)
	}
	if len(proposed) == 0 {
		return nil, fmt.Errorf("%w: rounds cannot be cleared", ErrValidation)
	}
	if len(proposed) < len(current.Rounds) || len(proposed) > len(current.Rounds)+1 {
		return nil, fmt.Errorf("%w: rounds can only grow by one", ErrValidation)
	}

	out := make([]models.Round, len(proposed))

	// Settled history is immutable.
	settled := len(current.Rounds)
	if len(proposed) == settled && settled > 0 {
		settled--
	}
	for i := 0; i < settled; i++ {
		if !sameRound(current.Rounds[i], proposed[i]) {
			return nil, fmt.Errorf("%w: past rounds are immutable", ErrForbidden)
		}
		out[i] = cloneRound(current.Rounds[i])
	}

	if len(proposed) == len(current.Rounds) {
		// Extending the newest round with the caller's answer.
		prev := current.Rounds[settled]
		next := proposed[settled]
		if next.Question != prev.Question {
			return nil, fmt.Errorf("%w: round question is immutable", ErrForbidden)
		}
		cleaned, err := c.cleanAnswers(callerID, prev.Answers, next.Answers)
		if err != nil {
			return nil, err
		}
		out[settled] = models.Round{Question: prev.Question, Answers: cleaned}
		return out, nil
	}

	// Appending a new round for the question currently on the table. The
	// question cursor bounds the round count: once a round exists for the
	// current question, further appends must wait for the index to move.
	index := current.CurrentQuestionIndex
	if patch.CurrentQuestionIndex != nil {
		index = *patch.CurrentQuestionIndex
	}
	if len(current.Rounds) >= index {
		return nil, fmt.Errorf("%w: a round for the current question already exists", ErrValidation)
	}
	question := current.CurrentQuestion
	if patch.CurrentQuestion != nil {
		question = *patch.CurrentQuestion
	}
	next := proposed[len(proposed)-1]
	if next.Question != question {
		return nil, fmt.Errorf("%w: new round must carry the current question", ErrValidation)
	}
	cleaned, err := c.cleanAnswers(callerID, nil, next.Answers)
	if err != nil {
		return nil, err
	}
	out[len(out)-1] = models.Round{Question: question, Answers: cleaned}
	return out, nil
}

func (c Config) cleanAnswers(callerID string, prev, next map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(next))
	for id, answer := range prev {
		out[id] = answer
	}
	for id, answer := range next {
		if existing, ok := prev[id]; ok && existing == answer {
			continue
		}
		if id != callerID {
			return nil, fmt.Errorf("%w: cannot answer for another player", ErrForbidden)
		}
		cleaned := c.cleanText(answer, c.MaxAnswerLen)
		if cleaned == "" {
			return nil, fmt.Errorf("%w: empty answer", ErrValidation)
		}
		out[id] = cleaned
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			return nil, fmt.Errorf("%w: answers cannot be removed", ErrForbidden)
		}
	}
	return out, nil
}

// cleanText trims, truncates to max runes (0 means unlimited), and
// HTML-escapes. Truncation happens before escaping so an escape
// sequence is never cut in half.
func (c Config) cleanText(s string, max int) string {
	s = strings.TrimSpace(s)
	if max > 0 {
		if runes := []rune(s); len(runes) > max {
			s = string(runes[:max])
		}
	}
	return html.EscapeString(s)
}

// sessionWide reports whether the patch touches host-only fields.
func sessionWide(p models.SessionPatch) bool {
	return p.Step != nil ||
		p.CommonCategories != nil ||
		p.Intensity != nil ||
		p.Chaos != nil ||
		p.CurrentQuestion != nil ||
		p.CurrentQuestionIndex != nil ||
		p.TotalQuestions != nil ||
		p.Summary != nil ||
		p.Generating != nil ||
		p.CompletedAt != nil
}

// onlyReadyDiffers reports whether b is a with at most the Ready flag
// changed.
func onlyReadyDiffers(a, b models.Player) bool {
	a.Ready = b.Ready
	return samePlayer(a, b)
}

func samePlayer(a, b models.Player) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Ready != b.Ready {
		return false
	}
	if len(a.Categories) != len(b.Categories) {
		return false
	}
	for i := range a.Categories {
		if a.Categories[i] != b.Categories[i] {
			return false
		}
	}
	if (a.SpicyVote == nil) != (b.SpicyVote == nil) {
		return false
	}
	if a.SpicyVote != nil && *a.SpicyVote != *b.SpicyVote {
		return false
	}
	return true
}

func sameRound(a, b models.Round) bool {
	if a.Question != b.Question || len(a.Answers) != len(b.Answers) {
		return false
	}
	for id, answer := range a.Answers {
		if b.Answers[id] != answer {
			return false
		}
	}
	return true
}

func clonePlayers(players []models.Player) []models.Player {
	out := make([]models.Player, len(players))
	for i, p := range players {
		out[i] = p
		if p.Categories != nil {
			out[i].Categories = append([]models.Category(nil), p.Categories...)
		}
	}
	return out
}

func cloneRound(r models.Round) models.Round {
	out := models.Round{Question: r.Question, Answers: make(map[string]string, len(r.Answers))}
	for id, answer := range r.Answers {
		out.Answers[id] = answer
	}
	return out
}
