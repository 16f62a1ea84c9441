package store_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteledger/internal/domain"
	"siteledger/internal/equality"
	"siteledger/internal/store"
	"siteledger/internal/store/storetest"
)

type testEnv struct {
	Store   *store.Store
	Gateway *storetest.Gateway
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	gw := storetest.New(
		domain.Project{ID: 1, Title: "Riverside Duplex", LimitBudget: 1000, Status: domain.ProjectInProgress,
			Team: []domain.TeamMember{{ID: 1, Name: "Ana"}, {ID: 2, Name: "Bo"}}},
		domain.Project{ID: 2, Title: "Hillside Garage", LimitBudget: 500, Status: domain.ProjectPlanning},
	)
	seq := 0
	s := store.New(gw,
		store.WithTokenProvider(func() (string, bool) { return "tok", true }),
		store.WithNow(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }),
		store.WithIDGenerator(func() string { seq++; return fmt.Sprintf("gen-%d", seq) }),
	)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx))
	return testEnv{Store: s, Gateway: gw, Ctx: ctx}
}

func selected(t *testing.T, s *store.Store) domain.Project {
	t.Helper()
	p, ok := s.Selected()
	require.True(t, ok, "expected a selected project")
	return p
}

func baseline(t *testing.T, s *store.Store) domain.Project {
	t.Helper()
	p, ok := s.Baseline()
	require.True(t, ok, "expected a baseline")
	return p
}

func TestLoadSelectsFirstProject(t *testing.T) {
	env := newTestEnv(t)
	id, ok := env.Store.SelectedID()
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
	assert.False(t, env.Store.HasChanges())
	assert.Len(t, env.Store.Projects(), 2)
	assert.Equal(t, []string{"tok"}, env.Gateway.Tokens)
	assert.False(t, env.Store.IsLoading())
	assert.Empty(t, env.Store.Err())
}

func TestLoadFailureKeepsState(t *testing.T) {
	gw := storetest.New(domain.Project{ID: 1})
	s := store.New(gw)
	gw.ListStatus = http.StatusInternalServerError

	err := s.Load(context.Background())
	var se *store.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Empty(t, s.Projects())
	assert.NotEmpty(t, s.Err())
	_, ok := s.SelectedID()
	assert.False(t, ok)

	gw.ListStatus = 0
	require.NoError(t, s.Load(context.Background()))
	assert.Len(t, s.Projects(), 1)
	assert.Empty(t, s.Err())
}

func TestEmptyReloadClearsSelection(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{ID: "t1"})
	require.True(t, env.Store.HasChanges())

	env.Gateway.Replace()
	require.NoError(t, env.Store.Load(env.Ctx))
	assert.Empty(t, env.Store.Projects())
	_, ok := env.Store.SelectedID()
	assert.False(t, ok)
	_, ok = env.Store.Selected()
	assert.False(t, ok)
	_, ok = env.Store.Baseline()
	assert.False(t, ok)
	assert.False(t, env.Store.HasChanges())
	assert.False(t, env.Store.HasProject(1))

	require.NoError(t, env.Store.SaveChanges(env.Ctx))
	assert.Empty(t, env.Gateway.Updates)
}

func TestLoadNetworkErrorRecorded(t *testing.T) {
	gw := storetest.New()
	gw.ListErr = errors.New("connection refused")
	s := store.New(gw)
	err := s.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, s.Err(), "connection refused")
	assert.False(t, s.IsLoading())
}

func TestAddTaskMarksDirtyAndDiscardRestores(t *testing.T) {
	env := newTestEnv(t)

	id := env.Store.AddTask(domain.Task{ID: "t1", Title: "Pour slab", Status: domain.TaskTodo})
	assert.Equal(t, "t1", id)
	p := selected(t, env.Store)
	require.Len(t, p.Tasks, 1)
	assert.Equal(t, 1, p.Progress.Todo)
	assert.True(t, env.Store.HasChanges())

	env.Store.DiscardChanges()
	p = selected(t, env.Store)
	assert.Empty(t, p.Tasks)
	assert.False(t, env.Store.HasChanges())
}

func TestSaveRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{ID: "t1", Title: "Pour slab"})
	require.NoError(t, env.Store.SaveChanges(env.Ctx))

	b := baseline(t, env.Store)
	w := selected(t, env.Store)
	assert.Len(t, b.Tasks, 1)
	assert.False(t, env.Store.HasChanges())
	assert.True(t, equality.Equal(b, w))

	stored, ok := env.Gateway.Stored(1)
	require.True(t, ok)
	assert.True(t, equality.Equal(stored, b))
	assert.True(t, equality.Equal(env.Store.Projects()[0], b))
	assert.False(t, env.Store.IsSaving())
}

func TestSaveFailurePreservesDraft(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{ID: "t1", Title: "Pour slab"})
	before := selected(t, env.Store)
	env.Gateway.UpdateStatus = http.StatusInternalServerError

	err := env.Store.SaveChanges(env.Ctx)
	var se *store.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, before, selected(t, env.Store))
	assert.True(t, env.Store.HasChanges())
	assert.False(t, env.Store.IsSaving())
	assert.Empty(t, baseline(t, env.Store).Tasks)
	assert.NotEmpty(t, env.Store.Err())
}

func TestSaveGatewayErrorPropagates(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{Title: "x"})
	env.Gateway.UpdateErr = errors.New("timeout")
	err := env.Store.SaveChanges(env.Ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.True(t, env.Store.HasChanges())
	assert.False(t, env.Store.IsSaving())
}

func TestSaveWithoutChangesIsNoop(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Store.SaveChanges(env.Ctx))
	assert.Empty(t, env.Gateway.Updates)
}

func TestSaveRejectsReentry(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{Title: "x"})

	entered := make(chan struct{})
	release := make(chan struct{})
	env.Gateway.BeforeUpdate = func(domain.Project) {
		close(entered)
		<-release
	}
	errc := make(chan error, 1)
	go func() { errc <- env.Store.SaveChanges(env.Ctx) }()
	<-entered

	assert.True(t, env.Store.IsSaving())
	assert.ErrorIs(t, env.Store.SaveChanges(env.Ctx), store.ErrSaveInProgress)

	close(release)
	require.NoError(t, <-errc)
	assert.False(t, env.Store.IsSaving())
	assert.Len(t, env.Gateway.Updates, 1)
}

func TestSavePanicResetsSaving(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{Title: "x"})
	env.Gateway.BeforeUpdate = func(domain.Project) { panic("boom") }

	assert.Panics(t, func() { _ = env.Store.SaveChanges(env.Ctx) })
	assert.False(t, env.Store.IsSaving())
	assert.True(t, env.Store.HasChanges())
}

func TestCloneIsolation(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTeamMember(domain.TeamMember{ID: 3, Name: "Cy"})
	assert.Len(t, baseline(t, env.Store).Team, 2)

	// Mutating a returned copy must not leak into the store either.
	w := selected(t, env.Store)
	w.Team[0].Name = "changed"
	assert.Equal(t, "Ana", selected(t, env.Store).Team[0].Name)
	b := baseline(t, env.Store)
	b.Team[0].Name = "changed"
	assert.Equal(t, "Ana", baseline(t, env.Store).Team[0].Name)
}

func TestSaveBreaksAliasingBetweenBaselineAndWorkingCopy(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{ID: "t1", Title: "a"})
	require.NoError(t, env.Store.SaveChanges(env.Ctx))

	env.Store.UpdateTaskStatus("t1", domain.TaskDone)
	assert.Equal(t, domain.TaskTodo, baseline(t, env.Store).Tasks[0].Status)
	assert.True(t, env.Store.HasChanges())
}

func TestProgressTracksEveryTaskMutation(t *testing.T) {
	env := newTestEnv(t)
	check := func() {
		p := selected(t, env.Store)
		assert.Equal(t, len(p.Tasks), p.Progress.Total())
	}
	env.Store.AddTask(domain.Task{ID: "a", Status: domain.TaskTodo})
	check()
	env.Store.AddTask(domain.Task{ID: "b", Status: "IN_PROGRESS"})
	check()
	env.Store.UpdateTaskStatus("a", "COMPLETED")
	check()
	env.Store.UpdateTask(domain.Task{ID: "b", Title: "renamed", Status: domain.TaskDone})
	check()
	env.Store.DeleteTask("a")
	check()

	p := selected(t, env.Store)
	assert.Equal(t, domain.Progress{Done: 1}, p.Progress)
	assert.Equal(t, "renamed", p.Tasks[0].Title)
}

func TestAddTaskGeneratesIDAndIgnoresDuplicates(t *testing.T) {
	env := newTestEnv(t)
	id := env.Store.AddTask(domain.Task{Title: "no id"})
	assert.Equal(t, "gen-1", id)
	assert.Empty(t, env.Store.AddTask(domain.Task{ID: "gen-1", Title: "dup"}))
	p := selected(t, env.Store)
	require.Len(t, p.Tasks, 1)
	assert.Equal(t, domain.TaskTodo, p.Tasks[0].Status)
	assert.Equal(t, "2024-01-01T00:00:00Z", p.Tasks[0].CreatedAt)
}

func TestNoopMutationsLeaveCleanStateClean(t *testing.T) {
	env := newTestEnv(t)
	assert.False(t, env.Store.DeleteTask("missing"))
	assert.False(t, env.Store.UpdateTask(domain.Task{ID: "missing"}))
	assert.False(t, env.Store.UpdateTaskStatus("missing", domain.TaskDone))
	assert.False(t, env.Store.DeleteInventoryItem(42))
	assert.False(t, env.Store.UpdateInventoryItem(domain.InventoryItem{ID: 42}))
	assert.False(t, env.Store.UpdateInventoryItemStatus(42, domain.InventoryInstalled))
	assert.False(t, env.Store.DeleteExpense(42))
	assert.False(t, env.Store.UpdateExpense(domain.Expense{ID: 42}))
	assert.False(t, env.Store.UpdateExpenseStatus(42, domain.ExpenseApproved, "ops"))
	assert.False(t, env.Store.RemoveTeamMember(42))
	assert.False(t, env.Store.AddTeamMember(domain.TeamMember{ID: 1, Name: "Ana again"}))
	assert.False(t, env.Store.UpdateDetails(store.DetailsOf(selected(t, env.Store))))
	assert.False(t, env.Store.HasChanges())
}

func TestNoopMutationKeepsDirtyStateDirty(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{ID: "t1"})
	require.True(t, env.Store.HasChanges())
	env.Store.DeleteTask("missing")
	assert.True(t, env.Store.HasChanges())
}

func TestAddThenRemoveIsClean(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{ID: "t1"})
	env.Store.DeleteTask("t1")
	assert.False(t, env.Store.HasChanges())
}

func TestUpdateInventoryItemUsesEqualityEngine(t *testing.T) {
	env := newTestEnv(t)
	item := domain.InventoryItem{Name: "Cement", Total: 10, UnitCost: math.NaN()}
	item.ID = env.Store.AddInventoryItem(item)
	require.NoError(t, env.Store.SaveChanges(env.Ctx))
	require.False(t, env.Store.HasChanges())

	saved := selected(t, env.Store).Inventory[0]
	assert.False(t, env.Store.UpdateInventoryItem(saved))
	assert.False(t, env.Store.HasChanges())

	saved.Used = 2
	assert.True(t, env.Store.UpdateInventoryItem(saved))
	assert.True(t, env.Store.HasChanges())
}

func TestInventoryIDsAreMaxPlusOne(t *testing.T) {
	env := newTestEnv(t)
	first := env.Store.AddInventoryItem(domain.InventoryItem{Name: "Cement", Total: 10})
	second := env.Store.AddInventoryItem(domain.InventoryItem{Name: "Rebar", Total: 4})
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)

	require.True(t, env.Store.DeleteInventoryItem(first))
	third := env.Store.AddInventoryItem(domain.InventoryItem{Name: "Sand", Total: 1})
	assert.Equal(t, 3, third)

	require.True(t, env.Store.DeleteInventoryItem(third))
	// max(existing)+1: only id 2 remains, so the next id is 3 again.
	assert.Equal(t, 3, env.Store.AddInventoryItem(domain.InventoryItem{Name: "Gravel"}))
}

func TestInventoryMutators(t *testing.T) {
	env := newTestEnv(t)
	id := env.Store.AddInventoryItem(domain.InventoryItem{Name: "Cement", Total: 10, Used: 2, Remaining: 8, Status: domain.InventoryPending})
	require.True(t, env.Store.UpdateInventoryItemStatus(id, domain.InventoryInstalled))
	item := selected(t, env.Store).Inventory[0]
	assert.Equal(t, domain.InventoryInstalled, item.Status)

	item.Used = 5
	require.True(t, env.Store.UpdateInventoryItem(item))
	got := selected(t, env.Store).Inventory[0]
	assert.Equal(t, 5.0, got.Used)
	assert.Equal(t, 8.0, got.Remaining, "remaining is caller supplied")
}

func TestUsedAboveTotalReachesStoreUnchecked(t *testing.T) {
	env := newTestEnv(t)
	item := domain.InventoryItem{Name: "Tiles", Total: 1, Used: 3}
	require.Error(t, item.Validate())
	id := env.Store.AddInventoryItem(item)
	assert.NotZero(t, id)
}

func TestExpenseMutators(t *testing.T) {
	env := newTestEnv(t)
	id := env.Store.AddExpense(domain.Expense{Title: "Permit", Amount: 120, Category: "Fees", Status: domain.ExpensePending})
	assert.Equal(t, 1, id)
	require.True(t, env.Store.UpdateExpenseStatus(id, domain.ExpenseApproved, "ops"))

	e := selected(t, env.Store).Expenses[0]
	assert.Equal(t, domain.ExpenseApproved, e.Status)
	require.NotNil(t, e.Audit)
	assert.Equal(t, "ops", e.Audit.ApprovedBy)
	assert.Equal(t, "2024-01-01T00:00:00Z", e.Audit.UpdatedAt)

	e.Amount = 150
	require.True(t, env.Store.UpdateExpense(e))
	assert.Equal(t, 150.0, selected(t, env.Store).Expenses[0].Amount)

	// Totals stay the server's until a save.
	assert.Zero(t, selected(t, env.Store).CurrentSpent)
	require.NoError(t, env.Store.SaveChanges(env.Ctx))
	assert.Equal(t, 150.0, selected(t, env.Store).CurrentSpent)

	require.True(t, env.Store.DeleteExpense(id))
	assert.Empty(t, selected(t, env.Store).Expenses)
}

func TestRemoveTeamMemberUnassignsTasks(t *testing.T) {
	env := newTestEnv(t)
	bo := 2
	env.Store.AddTask(domain.Task{ID: "t1", AssigneeID: &bo})
	require.True(t, env.Store.RemoveTeamMember(2))
	p := selected(t, env.Store)
	assert.Len(t, p.Team, 1)
	assert.Nil(t, p.Tasks[0].AssigneeID)
}

func TestUpdateDetails(t *testing.T) {
	env := newTestEnv(t)
	d := store.DetailsOf(selected(t, env.Store))
	d.LimitBudget = 2500
	d.Status = domain.ProjectOnHold
	require.True(t, env.Store.UpdateDetails(d))
	assert.Equal(t, 2500.0, selected(t, env.Store).LimitBudget)
	assert.True(t, env.Store.Changes().Details)
}

func TestDiscardUndoesEveryMutatorKind(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{ID: "t1"})
	env.Store.UpdateTaskStatus("t1", domain.TaskDone)
	inv := env.Store.AddInventoryItem(domain.InventoryItem{Name: "Cement"})
	env.Store.UpdateInventoryItemStatus(inv, domain.InventoryInstalled)
	env.Store.AddExpense(domain.Expense{Title: "Permit", Amount: 10})
	env.Store.AddTeamMember(domain.TeamMember{ID: 9, Name: "Dee"})
	env.Store.RemoveTeamMember(1)
	d := store.DetailsOf(selected(t, env.Store))
	d.Title = "renamed"
	env.Store.UpdateDetails(d)
	require.True(t, env.Store.HasChanges())

	env.Store.DiscardChanges()
	assert.False(t, env.Store.HasChanges())
	assert.True(t, equality.Equal(selected(t, env.Store), baseline(t, env.Store)))
	assert.True(t, env.Store.Changes().Empty())
}

func TestSelectProject(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{ID: "t1"})
	require.NoError(t, env.Store.SelectProject(2))
	assert.Equal(t, "Hillside Garage", selected(t, env.Store).Title)
	assert.False(t, env.Store.HasChanges())

	// unsaved edits on project 1 were dropped, not merged into the list
	require.NoError(t, env.Store.SelectProject(1))
	assert.Empty(t, selected(t, env.Store).Tasks)
}

func TestSelectUnknownProject(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{ID: "t1"})
	err := env.Store.SelectProject(99)
	assert.ErrorIs(t, err, store.ErrProjectNotFound)
	id, _ := env.Store.SelectedID()
	assert.Equal(t, int64(1), id)
	assert.True(t, env.Store.HasChanges())
}

func TestAddProjectPersistsAndSelects(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.Store.AddProject(env.Ctx, domain.Project{Title: "Lakeside Cabin", LimitBudget: 800})
	require.NoError(t, err)
	assert.Equal(t, int64(3), created.ID)
	id, _ := env.Store.SelectedID()
	assert.Equal(t, int64(3), id)
	assert.Len(t, env.Store.Projects(), 3)
	assert.False(t, env.Store.HasChanges())
}

func TestAddProjectFailureAddsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.Gateway.CreateStatus = http.StatusBadRequest
	_, err := env.Store.AddProject(env.Ctx, domain.Project{Title: "x"})
	var se *store.StatusError
	require.ErrorAs(t, err, &se)
	assert.Len(t, env.Store.Projects(), 2)
	id, _ := env.Store.SelectedID()
	assert.Equal(t, int64(1), id)
}

func TestMutatorsWithoutSelectionAreNoops(t *testing.T) {
	s := store.New(storetest.New())
	require.NoError(t, s.Load(context.Background()))
	assert.Empty(t, s.AddTask(domain.Task{ID: "t1"}))
	assert.Zero(t, s.AddInventoryItem(domain.InventoryItem{Name: "x"}))
	assert.Zero(t, s.AddExpense(domain.Expense{Title: "x"}))
	assert.False(t, s.HasChanges())
	s.DiscardChanges()
	_, ok := s.Selected()
	assert.False(t, ok)
}

func TestChangesReport(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{ID: "t1"})
	env.Store.AddTeamMember(domain.TeamMember{ID: 5, Name: "Eve"})
	env.Store.RemoveTeamMember(1)
	c := env.Store.Changes()
	assert.Equal(t, []string{"t1"}, c.Tasks.Added)
	assert.Equal(t, []string{"5"}, c.Team.Added)
	assert.Equal(t, []string{"1"}, c.Team.Removed)
	assert.False(t, c.Empty())
}

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.Store.AddTask(domain.Task{ID: "t1"})
	snap := env.Store.Snapshot()
	assert.True(t, snap.HasSelection)
	assert.Equal(t, int64(1), snap.SelectedID)
	assert.True(t, snap.HasChanges)
	require.NotNil(t, snap.Selected)
	assert.Len(t, snap.Selected.Tasks, 1)
	assert.Len(t, snap.Projects, 2)
}
