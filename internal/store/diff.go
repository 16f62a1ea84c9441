package store

import (
	"strconv"

	"siteledger/internal/domain"
)

// CollectionChanges lists ids added, removed or modified in one collection.
type CollectionChanges struct {
	Added    []string `json:"added,omitempty"`
	Removed  []string `json:"removed,omitempty"`
	Modified []string `json:"modified,omitempty"`
}

func (c CollectionChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0
}

// ChangeSet describes how the working copy differs from the baseline.
type ChangeSet struct {
	Details   bool              `json:"details"`
	Tasks     CollectionChanges `json:"tasks"`
	Inventory CollectionChanges `json:"inventory"`
	Expenses  CollectionChanges `json:"expenses"`
	Team      CollectionChanges `json:"team"`
}

func (c ChangeSet) Empty() bool {
	return !c.Details && c.Tasks.Empty() && c.Inventory.Empty() && c.Expenses.Empty() && c.Team.Empty()
}

// Changes reports the pending edits of the selected project.
func (s *Store) Changes() ChangeSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.working == nil || s.baseline == nil {
		return ChangeSet{}
	}
	base, work := *s.baseline, *s.working
	return ChangeSet{
		Details:   DetailsOf(base) != DetailsOf(work),
		Tasks:     diffBy(base.Tasks, work.Tasks, func(t domain.Task) string { return t.ID }, s.equal),
		Inventory: diffBy(base.Inventory, work.Inventory, func(it domain.InventoryItem) string { return strconv.Itoa(it.ID) }, s.equal),
		Expenses:  diffBy(base.Expenses, work.Expenses, func(e domain.Expense) string { return strconv.Itoa(e.ID) }, s.equal),
		Team:      diffBy(base.Team, work.Team, func(m domain.TeamMember) string { return strconv.Itoa(m.ID) }, s.equal),
	}
}

func diffBy[T any](before, after []T, key func(T) string, equal func(a, b any) bool) CollectionChanges {
	var out CollectionChanges
	old := make(map[string]T, len(before))
	for _, v := range before {
		old[key(v)] = v
	}
	seen := make(map[string]bool, len(after))
	for _, v := range after {
		k := key(v)
		seen[k] = true
		prev, ok := old[k]
		switch {
		case !ok:
			out.Added = append(out.Added, k)
		case !equal(prev, v):
			out.Modified = append(out.Modified, k)
		}
	}
	for _, v := range before {
		if k := key(v); !seen[k] {
			out.Removed = append(out.Removed, k)
		}
	}
	return out
}
