package store

import (
	"time"

	"siteledger/internal/aggregate"
	"siteledger/internal/domain"
)

// Mutators below only ever touch the working copy. Each one builds a new
// project value that differs from the old one in the touched collection and
// swaps it in under the lock. Unknown ids are silent no-ops so stale UI rows
// cannot corrupt the draft.

// mutate applies fn to a shallow copy of the working copy. fn must not write
// into the slices it was handed; it returns fresh ones instead.
func (s *Store) mutate(fn func(p domain.Project) (domain.Project, bool)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.working == nil {
		return false
	}
	next, changed := fn(*s.working)
	if !changed {
		return false
	}
	s.working = &next
	return true
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// AddTask appends t and recomputes progress in the same step. A missing id
// is generated; a duplicate id is ignored. It returns the task id, or "" when
// nothing was added.
func (s *Store) AddTask(t domain.Task) string {
	if t.ID == "" {
		t.ID = s.newID()
	}
	t.Status = taskStatus(t.Status)
	now := s.stamp()
	if t.CreatedAt == "" {
		t.CreatedAt = now
	}
	if t.UpdatedAt == "" {
		t.UpdatedAt = now
	}
	ok := s.mutate(func(p domain.Project) (domain.Project, bool) {
		if taskIndex(p.Tasks, t.ID) >= 0 {
			return p, false
		}
		tasks := make([]domain.Task, 0, len(p.Tasks)+1)
		tasks = append(tasks, p.Tasks...)
		tasks = append(tasks, t.Clone())
		return withTasks(p, tasks), true
	})
	if !ok {
		return ""
	}
	return t.ID
}

// UpdateTask replaces the task with the same id.
func (s *Store) UpdateTask(t domain.Task) bool {
	t.Status = taskStatus(t.Status)
	return s.mutate(func(p domain.Project) (domain.Project, bool) {
		idx := taskIndex(p.Tasks, t.ID)
		if idx < 0 || s.equal(p.Tasks[idx], t) {
			return p, false
		}
		updated := t.Clone()
		updated.UpdatedAt = s.stamp()
		tasks := append([]domain.Task(nil), p.Tasks...)
		tasks[idx] = updated
		return withTasks(p, tasks), true
	})
}

func (s *Store) DeleteTask(id string) bool {
	return s.mutate(func(p domain.Project) (domain.Project, bool) {
		idx := taskIndex(p.Tasks, id)
		if idx < 0 {
			return p, false
		}
		tasks := make([]domain.Task, 0, len(p.Tasks)-1)
		tasks = append(tasks, p.Tasks[:idx]...)
		tasks = append(tasks, p.Tasks[idx+1:]...)
		return withTasks(p, tasks), true
	})
}

// UpdateTaskStatus accepts either status vocabulary.
func (s *Store) UpdateTaskStatus(id, status string) bool {
	status = taskStatus(status)
	return s.mutate(func(p domain.Project) (domain.Project, bool) {
		idx := taskIndex(p.Tasks, id)
		if idx < 0 || p.Tasks[idx].Status == status {
			return p, false
		}
		tasks := append([]domain.Task(nil), p.Tasks...)
		tasks[idx].Status = status
		tasks[idx].UpdatedAt = s.stamp()
		return withTasks(p, tasks), true
	})
}

func withTasks(p domain.Project, tasks []domain.Task) domain.Project {
	p.Tasks = tasks
	p.Progress = aggregate.RecomputeProgress(tasks)
	return p
}

func taskStatus(s string) string {
	if s == "" {
		return domain.TaskTodo
	}
	return domain.NormalizeTaskStatus(s)
}

func taskIndex(tasks []domain.Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// AddInventoryItem appends item under a fresh id, max(existing ids, 0)+1,
// and returns that id. It returns 0 when no project is selected. The store
// does not check used against total; see domain.InventoryItem.Validate.
func (s *Store) AddInventoryItem(item domain.InventoryItem) int {
	var id int
	s.mutate(func(p domain.Project) (domain.Project, bool) {
		id = 1
		for _, it := range p.Inventory {
			if it.ID >= id {
				id = it.ID + 1
			}
		}
		item.ID = id
		inventory := make([]domain.InventoryItem, 0, len(p.Inventory)+1)
		inventory = append(inventory, p.Inventory...)
		p.Inventory = append(inventory, item)
		return p, true
	})
	return id
}

func (s *Store) UpdateInventoryItem(item domain.InventoryItem) bool {
	return s.mutate(func(p domain.Project) (domain.Project, bool) {
		idx := inventoryIndex(p.Inventory, item.ID)
		if idx < 0 || s.equal(p.Inventory[idx], item) {
			return p, false
		}
		inventory := append([]domain.InventoryItem(nil), p.Inventory...)
		inventory[idx] = item
		p.Inventory = inventory
		return p, true
	})
}

func (s *Store) DeleteInventoryItem(id int) bool {
	return s.mutate(func(p domain.Project) (domain.Project, bool) {
		idx := inventoryIndex(p.Inventory, id)
		if idx < 0 {
			return p, false
		}
		inventory := make([]domain.InventoryItem, 0, len(p.Inventory)-1)
		inventory = append(inventory, p.Inventory[:idx]...)
		p.Inventory = append(inventory, p.Inventory[idx+1:]...)
		return p, true
	})
}

func (s *Store) UpdateInventoryItemStatus(id int, status string) bool {
	return s.mutate(func(p domain.Project) (domain.Project, bool) {
		idx := inventoryIndex(p.Inventory, id)
		if idx < 0 || p.Inventory[idx].Status == status {
			return p, false
		}
		inventory := append([]domain.InventoryItem(nil), p.Inventory...)
		inventory[idx].Status = status
		p.Inventory = inventory
		return p, true
	})
}

func inventoryIndex(items []domain.InventoryItem, id int) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// AddTeamMember appends m unless a member with the same id exists.
func (s *Store) AddTeamMember(m domain.TeamMember) bool {
	return s.mutate(func(p domain.Project) (domain.Project, bool) {
		for _, existing := range p.Team {
			if existing.ID == m.ID {
				return p, false
			}
		}
		team := make([]domain.TeamMember, 0, len(p.Team)+1)
		team = append(team, p.Team...)
		p.Team = append(team, m)
		return p, true
	})
}

// RemoveTeamMember drops the member and unassigns their tasks, so no task
// points at someone missing from the roster.
func (s *Store) RemoveTeamMember(id int) bool {
	return s.mutate(func(p domain.Project) (domain.Project, bool) {
		idx := -1
		for i, m := range p.Team {
			if m.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return p, false
		}
		team := make([]domain.TeamMember, 0, len(p.Team)-1)
		team = append(team, p.Team[:idx]...)
		p.Team = append(team, p.Team[idx+1:]...)

		reassigned := false
		tasks := make([]domain.Task, len(p.Tasks))
		for i, t := range p.Tasks {
			tasks[i] = t.Clone()
			if t.AssigneeID != nil && *t.AssigneeID == id {
				tasks[i].AssigneeID = nil
				tasks[i].UpdatedAt = s.stamp()
				reassigned = true
			}
		}
		if reassigned {
			p.Tasks = tasks
		}
		return p, true
	})
}

// AddExpense appends e under a fresh id chosen like inventory ids.
func (s *Store) AddExpense(e domain.Expense) int {
	var id int
	s.mutate(func(p domain.Project) (domain.Project, bool) {
		id = 1
		for _, existing := range p.Expenses {
			if existing.ID >= id {
				id = existing.ID + 1
			}
		}
		e.ID = id
		expenses := make([]domain.Expense, 0, len(p.Expenses)+1)
		expenses = append(expenses, p.Expenses...)
		p.Expenses = append(expenses, e.Clone())
		return p, true
	})
	return id
}

func (s *Store) UpdateExpense(e domain.Expense) bool {
	return s.mutate(func(p domain.Project) (domain.Project, bool) {
		idx := expenseIndex(p.Expenses, e.ID)
		if idx < 0 || s.equal(p.Expenses[idx], e) {
			return p, false
		}
		expenses := append([]domain.Expense(nil), p.Expenses...)
		expenses[idx] = e.Clone()
		p.Expenses = expenses
		return p, true
	})
}

func (s *Store) DeleteExpense(id int) bool {
	return s.mutate(func(p domain.Project) (domain.Project, bool) {
		idx := expenseIndex(p.Expenses, id)
		if idx < 0 {
			return p, false
		}
		expenses := make([]domain.Expense, 0, len(p.Expenses)-1)
		expenses = append(expenses, p.Expenses[:idx]...)
		p.Expenses = append(expenses, p.Expenses[idx+1:]...)
		return p, true
	})
}

// UpdateExpenseStatus records the review outcome in the audit trail.
func (s *Store) UpdateExpenseStatus(id int, status, reviewer string) bool {
	return s.mutate(func(p domain.Project) (domain.Project, bool) {
		idx := expenseIndex(p.Expenses, id)
		if idx < 0 || p.Expenses[idx].Status == status {
			return p, false
		}
		expenses := append([]domain.Expense(nil), p.Expenses...)
		updated := expenses[idx].Clone()
		updated.Status = status
		if updated.Audit == nil {
			updated.Audit = &domain.ExpenseAudit{}
		}
		updated.Audit.UpdatedAt = s.stamp()
		if status == domain.ExpenseApproved && reviewer != "" {
			updated.Audit.ApprovedBy = reviewer
		}
		expenses[idx] = updated
		p.Expenses = expenses
		return p, true
	})
}

func expenseIndex(expenses []domain.Expense, id int) int {
	for i, e := range expenses {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Details are the editable header fields of a project.
type Details struct {
	Title       string
	Description string
	Location    string
	LimitBudget float64
	StartDate   string
	EndDate     string
	Status      string
}

// DetailsOf extracts the header fields from p.
func DetailsOf(p domain.Project) Details {
	return Details{
		Title:       p.Title,
		Description: p.Description,
		Location:    p.Location,
		LimitBudget: p.LimitBudget,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		Status:      p.Status,
	}
}

func (s *Store) UpdateDetails(d Details) bool {
	return s.mutate(func(p domain.Project) (domain.Project, bool) {
		if DetailsOf(p) == d {
			return p, false
		}
		p.Title = d.Title
		p.Description = d.Description
		p.Location = d.Location
		p.LimitBudget = d.LimitBudget
		p.StartDate = d.StartDate
		p.EndDate = d.EndDate
		p.Status = d.Status
		return p, true
	})
}
