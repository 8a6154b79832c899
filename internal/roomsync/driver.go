package roomsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/tabletalk/internal/game"
	"github.com/mcdev12/tabletalk/internal/models"
)

// ErrNoSession is returned by driver operations before the room has
// loaded or after it was found absent.
var ErrNoSession = errors.New("no session loaded")

// Driver binds one player's view of a room to the game rules: every
// operation reads the controller's latest snapshot, computes a patch
// with the rules, and writes it back through the controller so the
// result is applied immediately.
type Driver struct {
	ctrl  *Controller
	rules game.Config
	flow  *game.Flow
	self  models.Player
}

// NewDriver creates a driver acting as the given player.
func NewDriver(ctrl *Controller, flow *game.Flow, self models.Player) *Driver {
	return &Driver{ctrl: ctrl, rules: flow.Config(), flow: flow, self: self}
}

// Controller exposes the underlying controller for state reads and
// change subscriptions.
func (d *Driver) Controller() *Controller {
	return d.ctrl
}

// Join adds the driver's player to the lobby.
func (d *Driver) Join(ctx context.Context) (*models.Session, error) {
	s, err := d.current()
	if err != nil {
		return nil, err
	}
	patch, err := game.AddPlayer(s, d.self)
	if err != nil {
		return nil, err
	}
	return d.ctrl.Update(ctx, patch)
}

// SetReady flips the driver's ready flag.
func (d *Driver) SetReady(ctx context.Context, ready bool) (*models.Session, error) {
	s, err := d.current()
	if err != nil {
		return nil, err
	}
	patch, err := game.SetReady(s, d.self.ID, ready)
	if err != nil {
		return nil, err
	}
	return d.ctrl.Update(ctx, patch)
}

// SelectCategories replaces the driver's category picks.
func (d *Driver) SelectCategories(ctx context.Context, categories []models.Category) (*models.Session, error) {
	s, err := d.current()
	if err != nil {
		return nil, err
	}
	patch, err := game.SelectCategories(s, d.self.ID, categories)
	if err != nil {
		return nil, err
	}
	return d.ctrl.Update(ctx, patch)
}

// CastVote records the driver's intensity vote.
func (d *Driver) CastVote(ctx context.Context, vote models.Intensity) (*models.Session, error) {
	s, err := d.current()
	if err != nil {
		return nil, err
	}
	patch, err := game.CastVote(s, d.self.ID, vote)
	if err != nil {
		return nil, err
	}
	return d.ctrl.Update(ctx, patch)
}

// SubmitAnswer records the driver's answer to the current question.
func (d *Driver) SubmitAnswer(ctx context.Context, answer string) (*models.Session, error) {
	s, err := d.current()
	if err != nil {
		return nil, err
	}
	patch, err := game.SubmitAnswer(s, d.self.ID, answer)
	if err != nil {
		return nil, err
	}
	return d.ctrl.Update(ctx, patch)
}

// StartSelection advances the lobby into category selection.
func (d *Driver) StartSelection(ctx context.Context) (*models.Session, error) {
	s, err := d.current()
	if err != nil {
		return nil, err
	}
	patch, err := d.rules.StartSelection(s)
	if err != nil {
		return nil, err
	}
	return d.ctrl.Update(ctx, patch)
}

// LockCategories advances category selection into the spicy vote. On an
// empty intersection the ready-flag reset still lands so players can
// reselect, and the error reports why the step did not change.
func (d *Driver) LockCategories(ctx context.Context) (*models.Session, error) {
	s, err := d.current()
	if err != nil {
		return nil, err
	}
	patch, lockErr := d.rules.LockCategories(s)
	if patch.Empty() {
		return nil, lockErr
	}
	next, err := d.ctrl.Update(ctx, patch)
	if err != nil {
		return nil, err
	}
	return next, lockErr
}

// StartGame resolves the intensity consensus and asks the first
// question.
func (d *Driver) StartGame(ctx context.Context) (*models.Session, error) {
	s, err := d.current()
	if err != nil {
		return nil, err
	}
	patch, err := d.flow.StartGame(ctx, s)
	if err != nil {
		return nil, err
	}
	return d.ctrl.Update(ctx, patch)
}

// NextQuestion advances to the next round once everyone has answered.
// When the current question is the last one it runs the summary
// handshake instead.
func (d *Driver) NextQuestion(ctx context.Context) (*models.Session, error) {
	s, err := d.current()
	if err != nil {
		return nil, err
	}
	if s.CurrentQuestionIndex >= s.TotalQuestions {
		return d.FinishGame(ctx)
	}
	patch, err := d.flow.NextQuestion(ctx, s)
	if err != nil {
		return nil, err
	}
	return d.ctrl.Update(ctx, patch)
}

// FinishGame runs the summary handshake: mark the session generating,
// ask for the summary, and land either the summary or the revert. The
// generator error, if any, is returned after the revert has been
// written so answers unblock.
func (d *Driver) FinishGame(ctx context.Context) (*models.Session, error) {
	s, err := d.current()
	if err != nil {
		return nil, err
	}
	begin, err := d.flow.BeginSummary(s)
	if err != nil {
		return nil, err
	}
	s, err = d.ctrl.Update(ctx, begin)
	if err != nil {
		return nil, err
	}

	patch, genErr := d.flow.CompleteSummary(ctx, s)
	next, err := d.ctrl.Update(ctx, patch)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		return next, fmt.Errorf("finish game: %w", genErr)
	}
	return next, nil
}

// ForceSummary closes the session with the static summary after
// repeated generation failures.
func (d *Driver) ForceSummary(ctx context.Context) (*models.Session, error) {
	s, err := d.current()
	if err != nil {
		return nil, err
	}
	patch, err := d.flow.ForceSummary(s)
	if err != nil {
		return nil, err
	}
	return d.ctrl.Update(ctx, patch)
}

func (d *Driver) current() (*models.Session, error) {
	s := d.ctrl.Session()
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}
