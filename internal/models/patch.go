package models

import "time"

// SessionPatch is a partial update to a session. A nil field is left
// untouched by Apply; a present field fully replaces the stored value,
// including slices and nested structures. Callers that want to change one
// player or one round must send the complete new collection.
type SessionPatch struct {
	Step                 *Step      `json:"step,omitempty"`
	Players              []Player   `json:"players,omitempty"`
	CommonCategories     []Category `json:"common_categories,omitempty"`
	Intensity            *Intensity `json:"intensity,omitempty"`
	Chaos                *bool      `json:"chaos,omitempty"`
	Rounds               []Round    `json:"rounds,omitempty"`
	CurrentQuestion      *string    `json:"current_question,omitempty"`
	CurrentQuestionIndex *int       `json:"current_question_index,omitempty"`
	TotalQuestions       *int       `json:"total_questions,omitempty"`
	Summary              *string    `json:"summary,omitempty"`
	Generating           *bool      `json:"generating,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// Empty reports whether the patch touches no fields.
func (p SessionPatch) Empty() bool {
	return p.Step == nil &&
		p.Players == nil &&
		p.CommonCategories == nil &&
		p.Intensity == nil &&
		p.Chaos == nil &&
		p.Rounds == nil &&
		p.CurrentQuestion == nil &&
		p.CurrentQuestionIndex == nil &&
		p.TotalQuestions == nil &&
		p.Summary == nil &&
		p.Generating == nil &&
		p.CompletedAt == nil
}

// Apply shallow-merges the patch onto s. PlayerIDs is recomputed whenever
// the patch replaces Players, so the derived set can never drift from the
// player list.
func (p SessionPatch) Apply(s *Session, now time.Time) {
	if p.Step != nil {
		s.Step = *p.Step
	}
	if p.Players != nil {
		s.Players = p.Players
		s.PlayerIDs = playerIDs(p.Players)
	}
	if p.CommonCategories != nil {
		s.CommonCategories = p.CommonCategories
	}
	if p.Intensity != nil {
		s.Intensity = p.Intensity
	}
	if p.Chaos != nil {
		s.Chaos = *p.Chaos
	}
	if p.Rounds != nil {
		s.Rounds = p.Rounds
	}
	if p.CurrentQuestion != nil {
		s.CurrentQuestion = *p.CurrentQuestion
	}
	if p.CurrentQuestionIndex != nil {
		s.CurrentQuestionIndex = *p.CurrentQuestionIndex
	}
	if p.TotalQuestions != nil {
		s.TotalQuestions = *p.TotalQuestions
	}
	if p.Summary != nil {
		s.Summary = *p.Summary
	}
	if p.Generating != nil {
		s.Generating = *p.Generating
	}
	if p.CompletedAt != nil {
		s.CompletedAt = p.CompletedAt
	}
	s.UpdatedAt = now
}

// Helpers for building patches without address-of-temporary noise.

// StepPtr returns a pointer to the given step.
func StepPtr(s Step) *Step { return &s }

// IntensityPtr returns a pointer to the given intensity.
func IntensityPtr(i Intensity) *Intensity { return &i }

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string { return &s }

// IntPtr returns a pointer to the given int.
func IntPtr(i int) *int { return &i }

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool { return &b }
