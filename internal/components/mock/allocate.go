package mock

import (
	"context"
	"sort"

	"impactloop/internal/contract"
	"impactloop/internal/registry"
)

// Allocate ranks candidates by confidence times median return and funds
// them greedily while the budget lasts. A candidate that does not fit is
// skipped and cheaper ones further down the ranking are still considered.
type Allocate struct{}

// AllocateFactory builds an Allocate. It takes no parameters.
func AllocateFactory(p registry.Params) (any, error) {
	if err := p.Decode(&struct{}{}); err != nil {
		return nil, err
	}
	return Allocate{}, nil
}

func (Allocate) Execute(ctx context.Context, in contract.AllocateInput) (contract.AllocateResult, error) {
	if err := ctx.Err(); err != nil {
		return contract.AllocateResult{}, err
	}
	ranked := make([]contract.EvaluateResult, len(in.Initiatives))
	copy(ranked, in.Initiatives)
	sort.SliceStable(ranked, func(i, j int) bool {
		si := ranked[i].Confidence * ranked[i].ReturnMedian
		sj := ranked[j].Confidence * ranked[j].ReturnMedian
		if si != sj {
			return si > sj
		}
		return ranked[i].InitiativeID < ranked[j].InitiativeID
	})

	out := contract.AllocateResult{
		SelectedInitiatives: []string{},
		PredictedReturns:    map[string]float64{},
		BudgetAllocated:     map[string]float64{},
	}
	remaining := in.Budget
	for _, c := range ranked {
		if c.Cost > remaining {
			continue
		}
		out.SelectedInitiatives = append(out.SelectedInitiatives, c.InitiativeID)
		out.PredictedReturns[c.InitiativeID] = c.ReturnMedian
		out.BudgetAllocated[c.InitiativeID] = c.Cost
		remaining -= c.Cost
	}
	return out, nil
}
