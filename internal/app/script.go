package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"siteledger/internal/domain"
	"siteledger/internal/store"
)

// Script is a batch of edits applied to one project, read from YAML:
//
//	project: 2
//	ops:
//	  - op: add_task
//	    data: {title: Pour slab, status: todo}
//	  - op: set_expense_status
//	    id: "4"
//	    status: Approved
//	    reviewer: alice
type Script struct {
	Project int64 `yaml:"project"`
	Ops     []Op  `yaml:"ops"`
}

// Op is one edit. Data uses the JSON field names of the edited entity.
type Op struct {
	Op       string         `yaml:"op"`
	ID       string         `yaml:"id"`
	Status   string         `yaml:"status"`
	Reviewer string         `yaml:"reviewer"`
	Data     map[string]any `yaml:"data"`
}

// ScriptReport summarises a run.
type ScriptReport struct {
	Applied  int
	Ignored  []int
	Rejected map[int]string
	Changes  store.ChangeSet
	Saved    bool
}

// LoadScript reads and parses a script file.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("invalid edit script: %w", err)
	}
	if len(s.Ops) == 0 {
		return Script{}, fmt.Errorf("edit script has no ops")
	}
	return s, nil
}

// step runs against the store and reports whether it changed anything. A
// non-empty reason means the op was refused.
type step func(s *store.Store) (bool, string)

// RunScript switches to the script's project through the guard, applies the
// ops and then either saves or discards. Every op is checked before the store
// is touched, so a malformed script changes nothing.
func RunScript(ctx context.Context, sess *Session, script Script, commit bool) (ScriptReport, error) {
	steps := make([]step, 0, len(script.Ops))
	for i, op := range script.Ops {
		st, err := compileOp(op)
		if err != nil {
			return ScriptReport{}, fmt.Errorf("op %d (%s): %w", i+1, op.Op, err)
		}
		steps = append(steps, st)
	}

	if script.Project != 0 {
		if id, ok := sess.Store.SelectedID(); !ok || id != script.Project {
			switched, err := sess.Guard.RequestSwitch(script.Project)
			if err != nil {
				return ScriptReport{}, err
			}
			if !switched {
				sess.Guard.Cancel()
				return ScriptReport{}, fmt.Errorf("project %d has unsaved edits; save or discard them first", script.Project)
			}
		}
	}
	if _, ok := sess.Store.SelectedID(); !ok {
		return ScriptReport{}, fmt.Errorf("no project selected")
	}

	report := ScriptReport{Rejected: map[int]string{}}
	for i, st := range steps {
		changed, reason := st(sess.Store)
		switch {
		case reason != "":
			report.Rejected[i+1] = reason
		case changed:
			report.Applied++
		default:
			report.Ignored = append(report.Ignored, i+1)
		}
	}
	report.Changes = sess.Store.Changes()

	if !commit {
		sess.Store.DiscardChanges()
		return report, nil
	}
	if err := sess.Store.SaveChanges(ctx); err != nil {
		return report, err
	}
	report.Saved = !report.Changes.Empty()
	return report, nil
}

func compileOp(op Op) (step, error) {
	switch op.Op {
	case "add_task":
		var t domain.Task
		if err := decodeData(op.Data, &t); err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) {
			return s.AddTask(t) != "", ""
		}, nil
	case "update_task":
		if err := requireID(op); err != nil {
			return nil, err
		}
		if err := decodeData(op.Data, &domain.Task{}); err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) {
			p, _ := s.Selected()
			for _, t := range p.Tasks {
				if t.ID == op.ID {
					if err := decodeData(op.Data, &t); err != nil {
						return false, err.Error()
					}
					t.ID = op.ID
					return s.UpdateTask(t), ""
				}
			}
			return false, ""
		}, nil
	case "delete_task":
		if err := requireID(op); err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) { return s.DeleteTask(op.ID), "" }, nil
	case "set_task_status":
		if err := requireID(op); err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) { return s.UpdateTaskStatus(op.ID, op.Status), "" }, nil

	case "add_inventory":
		var item domain.InventoryItem
		if err := decodeData(op.Data, &item); err != nil {
			return nil, err
		}
		if err := item.Validate(); err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) {
			return s.AddInventoryItem(item.WithRemaining()) != 0, ""
		}, nil
	case "update_inventory":
		id, err := numericID(op)
		if err != nil {
			return nil, err
		}
		if err := decodeData(op.Data, &domain.InventoryItem{}); err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) {
			p, _ := s.Selected()
			for _, item := range p.Inventory {
				if item.ID != id {
					continue
				}
				if err := decodeData(op.Data, &item); err != nil {
					return false, err.Error()
				}
				item.ID = id
				if err := item.Validate(); err != nil {
					return false, err.Error()
				}
				return s.UpdateInventoryItem(item.WithRemaining()), ""
			}
			return false, ""
		}, nil
	case "delete_inventory":
		id, err := numericID(op)
		if err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) { return s.DeleteInventoryItem(id), "" }, nil
	case "set_inventory_status":
		id, err := numericID(op)
		if err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) { return s.UpdateInventoryItemStatus(id, op.Status), "" }, nil

	case "add_expense":
		var e domain.Expense
		if err := decodeData(op.Data, &e); err != nil {
			return nil, err
		}
		if e.Amount < 0 {
			return nil, fmt.Errorf("expense amount must not be negative")
		}
		return func(s *store.Store) (bool, string) { return s.AddExpense(e) != 0, "" }, nil
	case "update_expense":
		id, err := numericID(op)
		if err != nil {
			return nil, err
		}
		if err := decodeData(op.Data, &domain.Expense{}); err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) {
			p, _ := s.Selected()
			for _, e := range p.Expenses {
				if e.ID != id {
					continue
				}
				e = e.Clone()
				if err := decodeData(op.Data, &e); err != nil {
					return false, err.Error()
				}
				e.ID = id
				return s.UpdateExpense(e), ""
			}
			return false, ""
		}, nil
	case "delete_expense":
		id, err := numericID(op)
		if err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) { return s.DeleteExpense(id), "" }, nil
	case "set_expense_status":
		id, err := numericID(op)
		if err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) {
			return s.UpdateExpenseStatus(id, op.Status, op.Reviewer), ""
		}, nil

	case "add_member":
		var m domain.TeamMember
		if err := decodeData(op.Data, &m); err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) { return s.AddTeamMember(m), "" }, nil
	case "remove_member":
		id, err := numericID(op)
		if err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) { return s.RemoveTeamMember(id), "" }, nil

	case "update_details":
		if err := decodeData(op.Data, &domain.Project{}); err != nil {
			return nil, err
		}
		return func(s *store.Store) (bool, string) {
			p, ok := s.Selected()
			if !ok {
				return false, ""
			}
			if err := decodeData(op.Data, &p); err != nil {
				return false, err.Error()
			}
			return s.UpdateDetails(store.DetailsOf(p)), ""
		}, nil
	case "":
		return nil, fmt.Errorf("op kind is required")
	default:
		return nil, fmt.Errorf("unknown op kind")
	}
}

// decodeData overlays data onto out using the entity's JSON field names.
func decodeData(data map[string]any, out any) error {
	if len(data) == 0 {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

func requireID(op Op) error {
	if op.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

func numericID(op Op) (int, error) {
	if err := requireID(op); err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(op.ID)
	if err != nil {
		return 0, fmt.Errorf("id %q is not a number", op.ID)
	}
	return id, nil
}
