package contract

import "math"

// AllocateResult is the portfolio decision for a run.
type AllocateResult struct {
	SelectedInitiatives []string           `json:"selected_initiatives"`
	PredictedReturns    map[string]float64 `json:"predicted_returns"`
	BudgetAllocated     map[string]float64 `json:"budget_allocated"`
}

// budgetSlack absorbs float summation error when comparing against the budget.
const budgetSlack = 1e-9

// Validate checks that the selection and both maps cover exactly the same
// ids, that only candidates from in are selected, and that the committed
// budget does not exceed in.Budget.
func (r AllocateResult) Validate(in AllocateInput) error {
	const rec = "AllocateResult"
	known := make(map[string]bool, len(in.Initiatives))
	for _, c := range in.Initiatives {
		known[c.InitiativeID] = true
	}

	selected := make(map[string]bool, len(r.SelectedInitiatives))
	for _, id := range r.SelectedInitiatives {
		if selected[id] {
			return violation(rec, id, "selected more than once")
		}
		if !known[id] {
			return violation(rec, id, "selected id is not a candidate")
		}
		selected[id] = true
		if _, ok := r.PredictedReturns[id]; !ok {
			return violation(rec, id, "missing predicted return")
		}
		if _, ok := r.BudgetAllocated[id]; !ok {
			return violation(rec, id, "missing budget allocation")
		}
	}
	for id := range r.PredictedReturns {
		if !selected[id] {
			return violation(rec, id, "predicted return for unselected id")
		}
	}

	for id, b := range r.BudgetAllocated {
		if !selected[id] {
			return violation(rec, id, "budget allocated to unselected id")
		}
		if !finite(b) || b < 0 {
			return violation(rec, id, "invalid allocation %g", b)
		}
	}
	if total := r.TotalAllocated(); total > in.Budget+budgetSlack*math.Max(1, in.Budget) {
		return violation(rec, "", "allocated %g exceeds budget %g", total, in.Budget)
	}
	return nil
}

// TotalAllocated sums the committed budget.
func (r AllocateResult) TotalAllocated() float64 {
	var total float64
	for _, b := range r.BudgetAllocated {
		total += b
	}
	return total
}
