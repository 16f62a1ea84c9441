// Package guard gates project switches behind a confirmation whenever the
// selected project has unsaved edits.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"siteledger/internal/store"
)

var (
	ErrSaveInProgress      = errors.New("cannot switch projects while a save is in progress")
	ErrConfirmationPending = errors.New("a project switch is already awaiting confirmation")
	ErrNoPendingSwitch     = errors.New("no project switch is awaiting confirmation")
)

// Switcher is the part of the store the guard drives.
type Switcher interface {
	HasChanges() bool
	IsSaving() bool
	SaveChanges(ctx context.Context) error
	DiscardChanges()
	SelectProject(id int64) error
	HasProject(id int64) bool
}

type State int

const (
	Idle State = iota
	ConfirmingSwitch
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ConfirmingSwitch:
		return "confirming_switch"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Guard struct {
	mu      sync.Mutex
	target  Switcher
	logger  *zap.Logger
	state   State
	pending int64
}

func New(target Switcher, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{target: target, logger: logger}
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Pending returns the project id awaiting confirmation.
func (g *Guard) Pending() (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending, g.state == ConfirmingSwitch
}

// RequestSwitch selects id right away when there is nothing to lose and
// reports true. With unsaved edits it parks id and reports false; the caller
// then resolves with SaveAndContinue, DiscardAndContinue or Cancel. An id
// that is not loaded is refused before anything is parked.
func (g *Guard) RequestSwitch(id int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.target.IsSaving() {
		return false, ErrSaveInProgress
	}
	if g.state == ConfirmingSwitch {
		return false, ErrConfirmationPending
	}
	if g.target.HasChanges() {
		if !g.target.HasProject(id) {
			return false, fmt.Errorf("switch to project %d: %w", id, store.ErrProjectNotFound)
		}
		g.state = ConfirmingSwitch
		g.pending = id
		g.logger.Info("switch awaiting confirmation", zap.Int64("project_id", id))
		return false, nil
	}
	if err := g.target.SelectProject(id); err != nil {
		return false, err
	}
	return true, nil
}

// SaveAndContinue saves the draft and then switches. If the save fails the
// guard keeps waiting for a decision so the edits survive.
// A Cancel that arrives while the save is running wins: the save still
// lands but the selection stays put.
func (g *Guard) SaveAndContinue(ctx context.Context) error {
	g.mu.Lock()
	if g.state != ConfirmingSwitch {
		g.mu.Unlock()
		return ErrNoPendingSwitch
	}
	pending := g.pending
	g.mu.Unlock()

	if err := g.target.SaveChanges(ctx); err != nil {
		g.logger.Warn("save before switch failed", zap.Int64("project_id", pending), zap.Error(err))
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != ConfirmingSwitch || g.pending != pending {
		return nil
	}
	return g.finish()
}

// DiscardAndContinue drops the draft and switches. The draft is kept when
// the pending project is no longer loaded.
func (g *Guard) DiscardAndContinue() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != ConfirmingSwitch {
		return ErrNoPendingSwitch
	}
	if !g.target.HasProject(g.pending) {
		return fmt.Errorf("switch to project %d: %w", g.pending, store.ErrProjectNotFound)
	}
	g.target.DiscardChanges()
	return g.finish()
}

// Cancel drops the pending switch; the selection does not change.
func (g *Guard) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = Idle
	g.pending = 0
}

func (g *Guard) finish() error {
	id := g.pending
	g.state = Idle
	g.pending = 0
	return g.target.SelectProject(id)
}
