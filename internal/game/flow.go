package game

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletalk/internal/generator"
	"github.com/mcdev12/tabletalk/internal/models"
	"github.com/rs/zerolog/log"
)

// Flow computes the generator-driven transitions. Every method returns a
// patch for the calling layer to apply through the store; Flow itself
// never writes.
type Flow struct {
	cfg   Config
	gen   generator.Generator
	rng   *rand.Rand
	clock clockwork.Clock
}

// NewFlow creates a flow over the given (already retry-wrapped)
// generator.
func NewFlow(cfg Config, gen generator.Generator, rng *rand.Rand, clock clockwork.Clock) *Flow {
	return &Flow{cfg: cfg, gen: gen, rng: rng, clock: clock}
}

// Config exposes the rules the flow runs under.
func (f *Flow) Config() Config {
	return f.cfg
}

// StartGame advances spicy -> game. Every player must have voted; the
// resolved intensity is the least intense vote. The first question targets
// the lowest-index common category. Generator exhaustion falls back to a
// static question rather than blocking the transition.
func (f *Flow) StartGame(ctx context.Context, s *models.Session) (models.SessionPatch, error) {
	if s.Step != models.StepSpicy {
		return models.SessionPatch{}, ErrWrongStep
	}
	intensity, err := ResolveIntensity(s.Players)
	if err != nil {
		return models.SessionPatch{}, err
	}
	if len(s.CommonCategories) == 0 {
		return models.SessionPatch{}, ErrEmptyIntersection
	}

	question := f.question(ctx, s, s.CommonCategories[0], intensity, nil)

	return models.SessionPatch{
		Step:                 models.StepPtr(models.StepGame),
		Players:              resetReady(s.Players),
		Intensity:            models.IntensityPtr(intensity),
		CurrentQuestion:      models.StringPtr(question),
		CurrentQuestionIndex: models.IntPtr(1),
	}, nil
}

// NextQuestion advances game -> game once every player has answered the
// current round. The chaos rule may escalate intensity one notch, never
// down and never past the maximum.
func (f *Flow) NextQuestion(ctx context.Context, s *models.Session) (models.SessionPatch, error) {
	if s.Step != models.StepGame {
		return models.SessionPatch{}, ErrWrongStep
	}
	if s.CurrentQuestionIndex >= s.TotalQuestions {
		return models.SessionPatch{}, fmt.Errorf("no questions left: %w", ErrWrongStep)
	}
	if !RoundComplete(s) {
		return models.SessionPatch{}, ErrRoundIncomplete
	}

	intensity := *s.Intensity
	patch := models.SessionPatch{
		Players:              resetReady(s.Players),
		CurrentQuestionIndex: models.IntPtr(s.CurrentQuestionIndex + 1),
	}

	if s.Chaos && f.rng.Float64() < f.cfg.ChaosChance {
		escalated := intensity.Next()
		if escalated != intensity {
			log.Info().Str("room_code", s.RoomCode).Str("intensity", string(escalated)).Msg("chaos escalation")
			intensity = escalated
			patch.Intensity = models.IntensityPtr(escalated)
		}
	}

	nextIndex := s.CurrentQuestionIndex + 1
	category, err := CategoryForQuestion(s.CommonCategories, nextIndex, f.cfg.QuestionsPerCategory)
	if err != nil {
		return models.SessionPatch{}, err
	}

	question := f.question(ctx, s, category, intensity, askedQuestions(s))
	patch.CurrentQuestion = models.StringPtr(question)
	return patch, nil
}

// BeginSummary marks the session as generating once the final round is
// complete. The flag blocks new answer submissions during the window
// between leaving game and the summary landing (or the revert).
func (f *Flow) BeginSummary(s *models.Session) (models.SessionPatch, error) {
	if s.Step != models.StepGame {
		return models.SessionPatch{}, ErrWrongStep
	}
	if s.CurrentQuestionIndex < s.TotalQuestions {
		return models.SessionPatch{}, fmt.Errorf("rounds remain: %w", ErrWrongStep)
	}
	if !RoundComplete(s) {
		return models.SessionPatch{}, ErrRoundIncomplete
	}
	return models.SessionPatch{Generating: models.BoolPtr(true)}, nil
}

// CompleteSummary produces the game -> summary patch from the generated
// summary. On generator exhaustion the returned patch clears the
// generating flag and leaves the step at game — the only legal backward
// path — so a human can retry; the error still propagates.
func (f *Flow) CompleteSummary(ctx context.Context, s *models.Session) (models.SessionPatch, error) {
	questions, answers := transcript(s)
	summary, err := f.gen.Summary(ctx, generator.SummaryRequest{
		Questions:   questions,
		Answers:     answers,
		Categories:  s.CommonCategories,
		Intensity:   *s.Intensity,
		PlayerCount: len(s.Players),
	})
	if err != nil {
		log.Error().Err(err).Str("room_code", s.RoomCode).Msg("summary generation failed, reverting")
		return models.SessionPatch{Generating: models.BoolPtr(false)}, fmt.Errorf("generate summary: %w", err)
	}

	now := f.clock.Now()
	return models.SessionPatch{
		Step:        models.StepPtr(models.StepSummary),
		Summary:     models.StringPtr(summary),
		Generating:  models.BoolPtr(false),
		CompletedAt: &now,
	}, nil
}

// ForceSummary closes out a session with the static fallback summary
// after repeated generator failures, so nobody is stuck forever.
func (f *Flow) ForceSummary(s *models.Session) (models.SessionPatch, error) {
	if s.Step != models.StepGame {
		return models.SessionPatch{}, ErrWrongStep
	}
	now := f.clock.Now()
	return models.SessionPatch{
		Step:        models.StepPtr(models.StepSummary),
		Summary:     models.StringPtr(generator.FallbackSummary),
		Generating:  models.BoolPtr(false),
		CompletedAt: &now,
	}, nil
}

// question asks the generator for one question and falls back to the
// static default once the retry budget is spent.
func (f *Flow) question(ctx context.Context, s *models.Session, category models.Category, intensity models.Intensity, previous []string) string {
	q, err := f.gen.Question(ctx, generator.QuestionRequest{
		Category:          category,
		Categories:        s.CommonCategories,
		Intensity:         intensity,
		PreviousQuestions: previous,
		PlayerCount:       len(s.Players),
	})
	if err != nil {
		log.Warn().Err(err).Str("room_code", s.RoomCode).Str("category", string(category)).Msg("using fallback question")
		return generator.FallbackQuestion(category)
	}
	return q
}

// askedQuestions returns every question asked so far, so the generator
// can avoid repeats.
func askedQuestions(s *models.Session) []string {
	out := make([]string, 0, len(s.Rounds))
	for _, r := range s.Rounds {
		out = append(out, r.Question)
	}
	return out
}

// transcript flattens the rounds into parallel question/answer lists for
// the summary request.
func transcript(s *models.Session) ([]string, []string) {
	var questions, answers []string
	for _, r := range s.Rounds {
		questions = append(questions, r.Question)
		for _, p := range s.Players {
			if a, ok := r.Answers[p.ID]; ok {
				answers = append(answers, a)
			}
		}
	}
	return questions, answers
}
