package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteledger/internal/app"
	"siteledger/internal/domain"
	"siteledger/internal/store/storetest"
)

func seeded() *storetest.Gateway {
	assignee := 1
	return storetest.New(
		domain.Project{
			ID:          1,
			Title:       "Riverside Duplex",
			LimitBudget: 10000,
			Team:        []domain.TeamMember{{ID: 1, Name: "Dana"}},
			Tasks:       []domain.Task{{ID: "t1", Title: "Survey", Status: domain.TaskTodo, AssigneeID: &assignee}},
			Inventory:   []domain.InventoryItem{{ID: 1, Name: "Rebar", Category: domain.CategoryMaterials, Total: 10, Used: 2, Remaining: 8, Status: domain.InventoryInBudget}},
			Expenses:    []domain.Expense{{ID: 1, Title: "Permit", Amount: 300, Category: domain.CategoryServices, Status: domain.ExpensePending}},
		},
		domain.Project{ID: 2, Title: "Hillside Garage"},
	)
}

func loaded(t *testing.T, gw *storetest.Gateway) *app.Session {
	t.Helper()
	sess := app.NewSession(gw, "tok", nil)
	require.NoError(t, sess.Store.Load(context.Background()))
	return sess
}

const fullScript = `
project: 1
ops:
  - op: add_task
    data: {id: t2, title: Pour slab, status: IN_PROGRESS}
  - op: set_task_status
    id: t1
    status: done
  - op: update_task
    id: t1
    data: {title: Site survey}
  - op: add_inventory
    data: {name: Cement, category: Materials, total: 40, used: 5, unit_cost: 12.5, status: Pending}
  - op: set_inventory_status
    id: "1"
    status: Installed
  - op: update_inventory
    id: "1"
    data: {used: 4}
  - op: add_expense
    data: {title: Crane, amount: 900, category: Services, status: Pending}
  - op: set_expense_status
    id: "1"
    status: Approved
    reviewer: alice
  - op: add_member
    data: {id: 2, name: Lee, role: foreman}
  - op: update_details
    data: {location: Riverside, limit_budget: 12000}
  - op: delete_task
    id: missing
`

func TestRunScriptAppliesEveryOpKind(t *testing.T) {
	gw := seeded()
	sess := loaded(t, gw)
	script, err := app.ParseScript([]byte(fullScript))
	require.NoError(t, err)

	report, err := app.RunScript(context.Background(), sess, script, true)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Applied)
	assert.Equal(t, []int{11}, report.Ignored)
	assert.Empty(t, report.Rejected)
	assert.True(t, report.Saved)
	assert.True(t, report.Changes.Details)
	assert.Equal(t, []string{"t2"}, report.Changes.Tasks.Added)
	assert.Equal(t, []string{"t1"}, report.Changes.Tasks.Modified)

	stored, ok := gw.Stored(1)
	require.True(t, ok)
	require.Len(t, stored.Tasks, 2)
	assert.Equal(t, "Site survey", stored.Tasks[0].Title)
	assert.Equal(t, domain.TaskDone, stored.Tasks[0].Status)
	assert.Equal(t, domain.TaskInProgress, stored.Tasks[1].Status)
	assert.Equal(t, domain.Progress{Done: 1, InProgress: 1}, stored.Progress)

	require.Len(t, stored.Inventory, 2)
	assert.Equal(t, domain.InventoryInstalled, stored.Inventory[0].Status)
	assert.Equal(t, 6.0, stored.Inventory[0].Remaining)
	assert.Equal(t, 2, stored.Inventory[1].ID)
	assert.Equal(t, 35.0, stored.Inventory[1].Remaining)

	require.Len(t, stored.Expenses, 2)
	require.NotNil(t, stored.Expenses[0].Audit)
	assert.Equal(t, "alice", stored.Expenses[0].Audit.ApprovedBy)
	assert.Equal(t, 1200.0, stored.CurrentSpent)

	assert.Len(t, stored.Team, 2)
	assert.Equal(t, "Riverside", stored.Location)
	assert.Equal(t, 12000.0, stored.LimitBudget)
	assert.False(t, sess.Store.HasChanges())
}

func TestRunScriptWithoutCommitDiscards(t *testing.T) {
	gw := seeded()
	sess := loaded(t, gw)
	script, err := app.ParseScript([]byte("ops:\n  - op: delete_task\n    id: t1\n"))
	require.NoError(t, err)

	report, err := app.RunScript(context.Background(), sess, script, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, []string{"t1"}, report.Changes.Tasks.Removed)
	assert.False(t, report.Saved)
	assert.False(t, sess.Store.HasChanges())
	assert.Empty(t, gw.Updates)
}

func TestRunScriptRejectsBadOpsBeforeTouchingStore(t *testing.T) {
	cases := map[string]string{
		"unknown":       "ops:\n  - op: add_task\n  - op: paint_house\n",
		"missing kind":  "ops:\n  - id: t1\n",
		"missing id":    "ops:\n  - op: delete_task\n",
		"non numeric":   "ops:\n  - op: delete_expense\n    id: abc\n",
		"overdrawn":     "ops:\n  - op: add_inventory\n    data: {name: Pipe, total: 1, used: 3}\n",
		"bad data type": "ops:\n  - op: add_task\n    data: {title: [1, 2]}\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			gw := seeded()
			sess := loaded(t, gw)
			script, err := app.ParseScript([]byte(raw))
			require.NoError(t, err)
			_, err = app.RunScript(context.Background(), sess, script, true)
			require.Error(t, err)
			assert.False(t, sess.Store.HasChanges())
			assert.Empty(t, gw.Updates)
		})
	}
}

func TestRunScriptRejectsOverdrawnUpdate(t *testing.T) {
	gw := seeded()
	sess := loaded(t, gw)
	script, err := app.ParseScript([]byte("ops:\n  - op: update_inventory\n    id: \"1\"\n    data: {used: 50}\n"))
	require.NoError(t, err)

	report, err := app.RunScript(context.Background(), sess, script, true)
	require.NoError(t, err)
	assert.Contains(t, report.Rejected[1], "exceeds total")
	assert.Zero(t, report.Applied)
	assert.Empty(t, gw.Updates)
}

func TestRunScriptSwitchesProject(t *testing.T) {
	gw := seeded()
	sess := loaded(t, gw)
	script, err := app.ParseScript([]byte("project: 2\nops:\n  - op: add_member\n    data: {id: 7, name: Sam}\n"))
	require.NoError(t, err)

	_, err = app.RunScript(context.Background(), sess, script, true)
	require.NoError(t, err)
	id, _ := sess.Store.SelectedID()
	assert.Equal(t, int64(2), id)
	stored, _ := gw.Stored(2)
	assert.Len(t, stored.Team, 1)

	script.Project = 99
	_, err = app.RunScript(context.Background(), sess, script, true)
	assert.Error(t, err)
}

func TestParseScriptNeedsOps(t *testing.T) {
	_, err := app.ParseScript([]byte("project: 1\n"))
	assert.Error(t, err)
	_, err = app.ParseScript([]byte("ops: {"))
	assert.Error(t, err)
}
