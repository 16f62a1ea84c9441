package domain

import (
	"fmt"
	"strings"
)

const (
	ProjectPlanning   = "planning"
	ProjectInProgress = "in_progress"
	ProjectOnHold     = "on_hold"
	ProjectCompleted  = "completed"
)

const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
)

const (
	CategoryServices  = "Services"
	CategoryMaterials = "Materials"
	CategoryProducts  = "Products"
	CategoryLabour    = "Labour"
)

const (
	InventoryInBudget  = "In_Budget"
	InventoryPending   = "Pending"
	InventoryInstalled = "Installed"
)

const (
	ExpenseApproved = "Approved"
	ExpensePending  = "Pending"
	ExpenseRejected = "Rejected"
)

// Project is the aggregate root edited by the dashboard.
// CurrentSpent and ExpenseCategories are server snapshots; nothing on the
// client rewrites them.
type Project struct {
	ID                int64              `json:"id"`
	Title             string             `json:"title"`
	Description       string             `json:"description,omitempty"`
	Location          string             `json:"location,omitempty"`
	LimitBudget       float64            `json:"limit_budget"`
	CurrentSpent      float64            `json:"currentSpent"`
	StartDate         string             `json:"start_date,omitempty" format:"date"`
	EndDate           string             `json:"end_date,omitempty" format:"date"`
	Status            string             `json:"status" enum:"planning,in_progress,on_hold,completed"`
	Progress          Progress           `json:"progress"`
	Team              []TeamMember       `json:"team"`
	Tasks             []Task             `json:"tasks"`
	Inventory         []InventoryItem    `json:"inventory"`
	Expenses          []Expense          `json:"expenses"`
	ExpenseCategories map[string]float64 `json:"expenseCategories"`
	Clients           []ClientRef        `json:"clients"`
	CreatedAt         string             `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt         string             `json:"updated_at,omitempty" format:"date-time"`
}

type Progress struct {
	Done       int `json:"done"`
	InProgress int `json:"inProgress"`
	Todo       int `json:"todo"`
}

// Total is the number of tasks the counters describe.
func (p Progress) Total() int {
	return p.Done + p.InProgress + p.Todo
}

type TeamMember struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

type ClientRef struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Task references its assignee only by team member id; the display name
// comes from the roster (see Project.MemberName).
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssigneeID  *int   `json:"assignee_id,omitempty"`
	Status      string `json:"status" enum:"todo,in_progress,done"`
	DueDate     string `json:"due_date,omitempty" format:"date"`
	CreatedAt   string `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt   string `json:"updated_at,omitempty" format:"date-time"`
}

type InventoryItem struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Category  string  `json:"category" enum:"Services,Materials,Products,Labour"`
	Total     float64 `json:"total"`
	Used      float64 `json:"used"`
	Remaining float64 `json:"remaining"`
	Unit      string  `json:"unit,omitempty"`
	UnitCost  float64 `json:"unit_cost"`
	Supplier  string  `json:"supplier,omitempty"`
	Status    string  `json:"status" enum:"In_Budget,Pending,Installed"`
}

type Expense struct {
	ID          int           `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Amount      float64       `json:"amount"`
	Category    string        `json:"category"`
	ExpenseDate string        `json:"expense_date,omitempty" format:"date"`
	Status      string        `json:"status" enum:"Approved,Pending,Rejected"`
	Audit       *ExpenseAudit `json:"audit,omitempty"`
}

type ExpenseAudit struct {
	UpdatedAt  string `json:"updated_at,omitempty" format:"date-time"`
	ApprovedBy string `json:"approved_by,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// NormalizeTaskStatus maps both status vocabularies used by the dashboard
// (todo/in_progress/done and PENDING/IN_PROGRESS/COMPLETED) onto the
// canonical one. Unknown values are returned unchanged.
func NormalizeTaskStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "todo", "pending":
		return TaskTodo
	case "in_progress", "in-progress", "inprogress":
		return TaskInProgress
	case "done", "completed":
		return TaskDone
	default:
		return s
	}
}

// MemberName resolves a team member id to its display name.
func (p Project) MemberName(id *int) string {
	if id == nil {
		return ""
	}
	for _, m := range p.Team {
		if m.ID == *id {
			return m.Name
		}
	}
	return ""
}

// Validate rejects quantities the inventory screens never accept.
func (it InventoryItem) Validate() error {
	if it.Total < 0 || it.Used < 0 {
		return fmt.Errorf("inventory item %q: quantities must not be negative", it.Name)
	}
	if it.Used > it.Total {
		return fmt.Errorf("inventory item %q: used %.2f exceeds total %.2f", it.Name, it.Used, it.Total)
	}
	return nil
}

// WithRemaining returns a copy with Remaining set to Total-Used.
func (it InventoryItem) WithRemaining() InventoryItem {
	it.Remaining = it.Total - it.Used
	return it
}

// Clone returns a deep copy that shares no slices, maps or pointers with p.
func (p Project) Clone() Project {
	out := p
	out.Team = cloneSlice(p.Team)
	out.Clients = cloneSlice(p.Clients)
	out.Inventory = cloneSlice(p.Inventory)
	if p.Tasks != nil {
		out.Tasks = make([]Task, len(p.Tasks))
		for i, t := range p.Tasks {
			out.Tasks[i] = t.Clone()
		}
	}
	if p.Expenses != nil {
		out.Expenses = make([]Expense, len(p.Expenses))
		for i, e := range p.Expenses {
			out.Expenses[i] = e.Clone()
		}
	}
	if p.ExpenseCategories != nil {
		out.ExpenseCategories = make(map[string]float64, len(p.ExpenseCategories))
		for k, v := range p.ExpenseCategories {
			out.ExpenseCategories[k] = v
		}
	}
	return out
}

func (t Task) Clone() Task {
	if t.AssigneeID != nil {
		id := *t.AssigneeID
		t.AssigneeID = &id
	}
	return t
}

func (e Expense) Clone() Expense {
	if e.Audit != nil {
		audit := *e.Audit
		e.Audit = &audit
	}
	return e
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// Event is one row of the backend's append-only change log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  int64  `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
