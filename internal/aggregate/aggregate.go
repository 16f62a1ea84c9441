// Package aggregate derives counters and money totals from a project.
package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"siteledger/internal/domain"
)

// RecomputeProgress counts tasks by status. Statuses outside the known
// vocabulary count as todo, so the counters always add up to len(tasks).
func RecomputeProgress(tasks []domain.Task) domain.Progress {
	var p domain.Progress
	for _, t := range tasks {
		switch domain.NormalizeTaskStatus(t.Status) {
		case domain.TaskDone:
			p.Done++
		case domain.TaskInProgress:
			p.InProgress++
		default:
			p.Todo++
		}
	}
	return p
}

// InventorySummary holds planned and consumed inventory cost.
type InventorySummary struct {
	PlannedCost float64            `json:"planned_cost"`
	UsedCost    float64            `json:"used_cost"`
	ByCategory  map[string]float64 `json:"by_category"`
	ByStatus    map[string]float64 `json:"by_status"`
}

func InventoryTotals(items []domain.InventoryItem) InventorySummary {
	planned := decimal.Zero
	used := decimal.Zero
	byCategory := map[string]decimal.Decimal{}
	byStatus := map[string]decimal.Decimal{}
	for _, it := range items {
		cost := decimal.NewFromFloat(it.UnitCost)
		lineTotal := decimal.NewFromFloat(it.Total).Mul(cost)
		planned = planned.Add(lineTotal)
		used = used.Add(decimal.NewFromFloat(it.Used).Mul(cost))
		byCategory[it.Category] = byCategory[it.Category].Add(lineTotal)
		byStatus[it.Status] = byStatus[it.Status].Add(lineTotal)
	}
	return InventorySummary{
		PlannedCost: toFloat(planned),
		UsedCost:    toFloat(used),
		ByCategory:  toFloatMap(byCategory),
		ByStatus:    toFloatMap(byStatus),
	}
}

// ExpenseSummary is the client-side view of the expense ledger.
type ExpenseSummary struct {
	Spent      float64            `json:"spent"`
	ByCategory map[string]float64 `json:"by_category"`
}

// ExpenseTotals sums approved and pending expenses; rejected ones never count.
func ExpenseTotals(expenses []domain.Expense) ExpenseSummary {
	spent := decimal.Zero
	byCategory := map[string]decimal.Decimal{}
	for _, e := range expenses {
		if e.Status == domain.ExpenseRejected {
			continue
		}
		amount := decimal.NewFromFloat(e.Amount)
		spent = spent.Add(amount)
		byCategory[e.Category] = byCategory[e.Category].Add(amount)
	}
	return ExpenseSummary{Spent: toFloat(spent), ByCategory: toFloatMap(byCategory)}
}

// BudgetSummary puts the server snapshot next to the locally recomputed
// totals. Discrepancy is set when they disagree by more than the tolerance.
type BudgetSummary struct {
	Limit             float64            `json:"limit"`
	ServerSpent       float64            `json:"server_spent"`
	LocalSpent        float64            `json:"local_spent"`
	ServerCategories  map[string]float64 `json:"server_categories"`
	LocalCategories   map[string]float64 `json:"local_categories"`
	Remaining         float64            `json:"remaining"`
	OverBudget        bool               `json:"over_budget"`
	Discrepancy       bool               `json:"discrepancy"`
	DriftedCategories []string           `json:"drifted_categories,omitempty"`
}

func Budget(p domain.Project, tolerance float64) BudgetSummary {
	local := ExpenseTotals(p.Expenses)
	tol := decimal.NewFromFloat(tolerance).Abs()
	limit := decimal.NewFromFloat(p.LimitBudget)
	localSpent := decimal.NewFromFloat(local.Spent)

	serverCategories := make(map[string]float64, len(p.ExpenseCategories))
	for k, v := range p.ExpenseCategories {
		serverCategories[k] = v
	}
	var drifted []string
	seen := map[string]bool{}
	for k := range serverCategories {
		seen[k] = true
	}
	for k := range local.ByCategory {
		seen[k] = true
	}
	for k := range seen {
		diff := decimal.NewFromFloat(serverCategories[k]).Sub(decimal.NewFromFloat(local.ByCategory[k])).Abs()
		if diff.GreaterThan(tol) {
			drifted = append(drifted, k)
		}
	}
	sort.Strings(drifted)
	spentDiff := decimal.NewFromFloat(p.CurrentSpent).Sub(localSpent).Abs()

	return BudgetSummary{
		Limit:             p.LimitBudget,
		ServerSpent:       p.CurrentSpent,
		LocalSpent:        local.Spent,
		ServerCategories:  serverCategories,
		LocalCategories:   local.ByCategory,
		Remaining:         toFloat(limit.Sub(localSpent)),
		OverBudget:        localSpent.GreaterThan(limit),
		Discrepancy:       spentDiff.GreaterThan(tol) || len(drifted) > 0,
		DriftedCategories: drifted,
	}
}

// Refresh returns p with progress and the server-side money snapshot
// recomputed from its own collections. Only the backend calls this.
func Refresh(p domain.Project) domain.Project {
	p.Progress = RecomputeProgress(p.Tasks)
	totals := ExpenseTotals(p.Expenses)
	p.CurrentSpent = totals.Spent
	p.ExpenseCategories = totals.ByCategory
	return p
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

func toFloatMap(in map[string]decimal.Decimal) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = toFloat(v)
	}
	return out
}
