// Package store holds the working copy of the selected project, tracks how it
// diverges from the last server-confirmed baseline, and commits or rolls back
// on request.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"siteledger/internal/domain"
	"siteledger/internal/equality"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrSaveInProgress  = errors.New("save already in progress")
)

// Store is safe for concurrent use. Gateway calls run outside the lock.
type Store struct {
	mu      sync.Mutex
	gateway Gateway
	token   TokenProvider
	logger  *zap.Logger
	equal   func(a, b any) bool
	now     func() time.Time
	newID   func() string

	projects []domain.Project
	selected int64
	hasSel   bool
	working  *domain.Project
	baseline *domain.Project
	saving   bool
	loading  bool
	err      string
}

type Option func(*Store)

func WithTokenProvider(tp TokenProvider) Option {
	return func(s *Store) { s.token = tp }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEqual replaces the structural comparison used for dirty tracking.
func WithEqual(fn func(a, b any) bool) Option {
	return func(s *Store) {
		if fn != nil {
			s.equal = fn
		}
	}
}

func WithNow(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIDGenerator sets how ids are minted for tasks added without one.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func New(gw Gateway, opts ...Option) *Store {
	s := &Store{
		gateway: gw,
		token:   func() (string, bool) { return "", false },
		logger:  zap.NewNop(),
		equal:   equality.Equal,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) bearer() string {
	if s.token == nil {
		return ""
	}
	if tok, ok := s.token(); ok {
		return tok
	}
	return ""
}

// Load fetches the project list and selects the first project. On failure
// the previous state is kept and Err reports the cause.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	done := false
	defer func() {
		if !done {
			s.mu.Lock()
			s.loading = false
			s.mu.Unlock()
		}
	}()
	resp, err := s.gateway.List(ctx, s.bearer())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	done = true
	if err == nil && !resp.OK() {
		err = &StatusError{Op: "list projects", StatusCode: resp.StatusCode}
	}
	if err != nil {
		s.err = err.Error()
		s.logger.Warn("load projects failed", zap.Error(err))
		return fmt.Errorf("load projects: %w", err)
	}
	s.projects = make([]domain.Project, len(resp.Data))
	for i, p := range resp.Data {
		s.projects[i] = p.Clone()
	}
	s.err = ""
	s.logger.Info("projects loaded", zap.Int("count", len(s.projects)))
	if len(s.projects) == 0 {
		s.baseline, s.working = nil, nil
		s.selected, s.hasSel = 0, false
		return nil
	}
	return s.selectLocked(s.projects[0].ID)
}

// SelectProject seeds baseline and working copy with independent clones of
// the project. Callers with unsaved edits should go through the switch guard.
func (s *Store) SelectProject(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(id)
}

func (s *Store) selectLocked(id int64) error {
	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("select project %d: %w", id, ErrProjectNotFound)
	}
	baseline := s.projects[idx].Clone()
	working := s.projects[idx].Clone()
	s.baseline = &baseline
	s.working = &working
	s.selected = id
	s.hasSel = true
	s.logger.Debug("project selected", zap.Int64("project_id", id))
	return nil
}

func (s *Store) indexOf(id int64) int {
	for i, p := range s.projects {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// AddProject persists draft immediately; creation has no draft phase. The
// server's project is appended and selected.
func (s *Store) AddProject(ctx context.Context, draft domain.Project) (domain.Project, error) {
	resp, err := s.gateway.Create(ctx, s.bearer(), draft.Clone())
	if err == nil && !resp.OK() {
		err = &StatusError{Op: "create project", StatusCode: resp.StatusCode}
	}
	if err != nil {
		s.logger.Warn("create project failed", zap.String("title", draft.Title), zap.Error(err))
		return domain.Project{}, fmt.Errorf("create project: %w", err)
	}
	created := resp.Data.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = append(s.projects, created.Clone())
	if err := s.selectLocked(created.ID); err != nil {
		return domain.Project{}, err
	}
	s.logger.Info("project created", zap.Int64("project_id", created.ID))
	return created, nil
}

// SaveChanges sends the working copy to the gateway. On success the server's
// project becomes both the baseline and the working copy. On failure the
// draft is left untouched. A second call while one is in flight is rejected.
func (s *Store) SaveChanges(ctx context.Context) error {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return ErrSaveInProgress
	}
	if !s.hasChangesLocked() {
		s.mu.Unlock()
		return nil
	}
	draft := s.working.Clone()
	s.saving = true
	s.mu.Unlock()

	done := false
	defer func() {
		if !done {
			s.mu.Lock()
			s.saving = false
			s.mu.Unlock()
		}
	}()
	resp, err := s.gateway.Update(ctx, s.bearer(), draft)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	done = true
	if err == nil && !resp.OK() {
		err = &StatusError{Op: "update project", StatusCode: resp.StatusCode}
	}
	if err != nil {
		s.err = err.Error()
		s.logger.Warn("save project failed", zap.Int64("project_id", draft.ID), zap.Error(err))
		return fmt.Errorf("save project %d: %w", draft.ID, err)
	}

	saved := resp.Data.Clone()
	if idx := s.indexOf(draft.ID); idx >= 0 {
		s.projects[idx] = saved.Clone()
	}
	s.err = ""
	if s.hasSel && s.selected == draft.ID {
		baseline := saved.Clone()
		working := saved.Clone()
		s.baseline = &baseline
		s.working = &working
	}
	s.logger.Info("project saved", zap.Int64("project_id", draft.ID))
	return nil
}

// DiscardChanges resets the working copy to a fresh clone of the baseline.
func (s *Store) DiscardChanges() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseline == nil {
		return
	}
	working := s.baseline.Clone()
	s.working = &working
}

func (s *Store) HasChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasChangesLocked()
}

func (s *Store) hasChangesLocked() bool {
	return s.working != nil && s.baseline != nil && !s.equal(*s.working, *s.baseline)
}

func (s *Store) IsSaving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the last load or save failure, or "" after a success.
func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Store) Projects() []domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProjects(s.projects)
}

// HasProject reports whether id is in the loaded list.
func (s *Store) HasProject(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOf(id) >= 0
}

func (s *Store) SelectedID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.hasSel
}

// Selected returns a copy of the working copy.
func (s *Store) Selected() (domain.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.working == nil {
		return domain.Project{}, false
	}
	return s.working.Clone(), true
}

func (s *Store) Baseline() (domain.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseline == nil {
		return domain.Project{}, false
	}
	return s.baseline.Clone(), true
}

// Snapshot is a consistent read of everything the dashboard renders.
type Snapshot struct {
	Projects     []domain.Project
	SelectedID   int64
	HasSelection bool
	Selected     *domain.Project
	HasChanges   bool
	Saving       bool
	Loading      bool
	Err          string
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Projects:     cloneProjects(s.projects),
		SelectedID:   s.selected,
		HasSelection: s.hasSel,
		HasChanges:   s.hasChangesLocked(),
		Saving:       s.saving,
		Loading:      s.loading,
		Err:          s.err,
	}
	if s.working != nil {
		cp := s.working.Clone()
		snap.Selected = &cp
	}
	return snap
}

func cloneProjects(in []domain.Project) []domain.Project {
	out := make([]domain.Project, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}
