package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/tabletalk/internal/models"
)

// ErrUnavailable is returned once the retry budget against the content
// generator is exhausted.
var ErrUnavailable = errors.New("content generator unavailable")

// QuestionRequest is the structured input for one generated question.
type QuestionRequest struct {
	Category          models.Category   `json:"category"`
	Categories        []models.Category `json:"categories"`
	Intensity         models.Intensity  `json:"intensity"`
	PreviousQuestions []string          `json:"previous_questions,omitempty"`
	PlayerCount       int               `json:"player_count"`
}

// SummaryRequest is the structured input for the end-of-game summary.
type SummaryRequest struct {
	Questions   []string          `json:"questions"`
	Answers     []string          `json:"answers"`
	Categories  []models.Category `json:"categories"`
	Intensity   models.Intensity  `json:"intensity"`
	PlayerCount int               `json:"player_count"`
}

// Generator produces conversational content. Implementations may fail or
// exceed their deadline; callers wrap them with Retrier.
type Generator interface {
	Question(ctx context.Context, req QuestionRequest) (string, error)
	Summary(ctx context.Context, req SummaryRequest) (string, error)
}

// FallbackQuestion returns the static question used once the generator's
// retry budget is spent, so a session is never permanently blocked.
func FallbackQuestion(category models.Category) string {
	return fmt.Sprintf("Share a story about %s that the others have never heard.", category)
}

// FallbackSummary is the static note used when summary generation is
// impossible and the caller still wants to close out the session.
const FallbackSummary = "You made it through every question together. The best summaries are the ones you write yourselves."
