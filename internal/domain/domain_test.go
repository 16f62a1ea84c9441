package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteledger/internal/domain"
)

func sampleProject() domain.Project {
	assignee := 7
	return domain.Project{
		ID:    1,
		Title: "Riverside Duplex",
		Team:  []domain.TeamMember{{ID: 7, Name: "Ana", Role: "foreman"}},
		Tasks: []domain.Task{{ID: "t1", Title: "Pour slab", AssigneeID: &assignee, Status: domain.TaskTodo}},
		Inventory: []domain.InventoryItem{
			{ID: 1, Name: "Cement", Category: domain.CategoryMaterials, Total: 10, Used: 2, UnitCost: 8},
		},
		Expenses: []domain.Expense{
			{ID: 1, Title: "Permit", Amount: 300, Category: "Fees", Status: domain.ExpenseApproved,
				Audit: &domain.ExpenseAudit{ApprovedBy: "ops"}},
		},
		ExpenseCategories: map[string]float64{"Fees": 300},
		Clients:           []domain.ClientRef{{ID: 3, Name: "Owner"}},
	}
}

func TestCloneSharesNothing(t *testing.T) {
	orig := sampleProject()
	cp := orig.Clone()
	require.Equal(t, orig, cp)

	*cp.Tasks[0].AssigneeID = 99
	cp.Tasks[0].Title = "changed"
	cp.Team[0].Name = "Bo"
	cp.Inventory[0].Used = 9
	cp.Expenses[0].Audit.Notes = "edited"
	cp.ExpenseCategories["Fees"] = 1
	cp.Clients[0].Name = "x"

	assert.Equal(t, 7, *orig.Tasks[0].AssigneeID)
	assert.Equal(t, "Pour slab", orig.Tasks[0].Title)
	assert.Equal(t, "Ana", orig.Team[0].Name)
	assert.Equal(t, 2.0, orig.Inventory[0].Used)
	assert.Empty(t, orig.Expenses[0].Audit.Notes)
	assert.Equal(t, 300.0, orig.ExpenseCategories["Fees"])
	assert.Equal(t, "Owner", orig.Clients[0].Name)
}

func TestCloneKeepsNilCollectionsNil(t *testing.T) {
	cp := domain.Project{ID: 2}.Clone()
	assert.Nil(t, cp.Tasks)
	assert.Nil(t, cp.ExpenseCategories)
}

func TestNormalizeTaskStatus(t *testing.T) {
	cases := map[string]string{
		"todo":        domain.TaskTodo,
		"PENDING":     domain.TaskTodo,
		"IN_PROGRESS": domain.TaskInProgress,
		"in_progress": domain.TaskInProgress,
		"COMPLETED":   domain.TaskDone,
		"done":        domain.TaskDone,
		"blocked":     "blocked",
	}
	for in, want := range cases {
		assert.Equal(t, want, domain.NormalizeTaskStatus(in), in)
	}
}

func TestMemberName(t *testing.T) {
	p := sampleProject()
	assert.Equal(t, "Ana", p.MemberName(p.Tasks[0].AssigneeID))
	missing := 42
	assert.Empty(t, p.MemberName(&missing))
	assert.Empty(t, p.MemberName(nil))
}

func TestInventoryValidate(t *testing.T) {
	ok := domain.InventoryItem{Name: "Rebar", Total: 5, Used: 5}
	assert.NoError(t, ok.Validate())
	bad := domain.InventoryItem{Name: "Rebar", Total: 5, Used: 6}
	assert.Error(t, bad.Validate())
	assert.Equal(t, 3.0, domain.InventoryItem{Total: 5, Used: 2}.WithRemaining().Remaining)
}
