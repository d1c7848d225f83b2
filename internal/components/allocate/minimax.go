// Package allocate implements minimax-regret portfolio selection.
//
// Each candidate carries three return scenarios. A portfolio's value under a
// scenario is the confidence-weighted sum of its members' returns, and its
// regret is the gap to the best affordable portfolio under that scenario.
// The selected portfolio minimizes the largest regret across scenarios.
package allocate

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"sort"

	"impactloop/internal/contract"
	"impactloop/internal/registry"
)

// Name is the registry name of the allocator.
const Name = "MinimaxRegretAllocate"

// DefaultMaxCandidates bounds the exhaustive search at 2^16 portfolios.
const DefaultMaxCandidates = 16

// hardMaxCandidates keeps a misconfigured search from exhausting memory.
const hardMaxCandidates = 24

const eps = 1e-12

// Options configure the search.
type Options struct {
	// MaxCandidates caps the candidates entering the search. When more are
	// offered, the highest confidence times median return are kept.
	MaxCandidates int `yaml:"max_candidates"`

	// MinConfidence excludes candidates scored below it.
	MinConfidence float64 `yaml:"min_confidence"`
}

// Allocator is stateless and safe for concurrent use.
type Allocator struct {
	opts Options
}

// New validates opts and returns an Allocator.
func New(opts Options) (*Allocator, error) {
	if opts.MaxCandidates == 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	if opts.MaxCandidates < 1 || opts.MaxCandidates > hardMaxCandidates {
		return nil, fmt.Errorf("max_candidates must be in [1,%d], got %d", hardMaxCandidates, opts.MaxCandidates)
	}
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, fmt.Errorf("min_confidence must be in [0,1], got %g", opts.MinConfidence)
	}
	return &Allocator{opts: opts}, nil
}

// Factory builds an Allocator from registry params.
func Factory(p registry.Params) (any, error) {
	var opts Options
	if err := p.Decode(&opts); err != nil {
		return nil, err
	}
	return New(opts)
}

type scenario int

const (
	best scenario = iota
	median
	worst
	numScenarios
)

func weighted(c contract.EvaluateResult, s scenario) float64 {
	switch s {
	case best:
		return c.Confidence * c.ReturnBest
	case median:
		return c.Confidence * c.ReturnMedian
	default:
		return c.Confidence * c.ReturnWorst
	}
}

// Execute selects the minimax-regret portfolio. Ties go to the portfolio
// with fewer initiatives, then to the lexicographically smaller id list.
func (a *Allocator) Execute(ctx context.Context, in contract.AllocateInput) (contract.AllocateResult, error) {
	out := contract.AllocateResult{
		SelectedInitiatives: []string{},
		PredictedReturns:    map[string]float64{},
		BudgetAllocated:     map[string]float64{},
	}
	cands := a.candidates(in)
	if len(cands) == 0 {
		return out, nil
	}

	n := len(cands)
	total := 1 << n
	values := make([][numScenarios]float64, total)
	feasible := make([]bool, total)
	var top [numScenarios]float64

	for mask := 0; mask < total; mask++ {
		if mask&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return contract.AllocateResult{}, err
			}
		}
		var cost float64
		var v [numScenarios]float64
		for i := 0; i < n; i++ {
			if mask&(1<<i) == 0 {
				continue
			}
			cost += cands[i].Cost
			for s := scenario(0); s < numScenarios; s++ {
				v[s] += weighted(cands[i], s)
			}
		}
		if cost > in.Budget+1e-9*math.Max(1, in.Budget) {
			continue
		}
		feasible[mask] = true
		values[mask] = v
		for s := range v {
			if mask == 0 || v[s] > top[s] {
				top[s] = v[s]
			}
		}
	}

	bestMask, bestRegret := -1, math.Inf(1)
	for mask := 0; mask < total; mask++ {
		if !feasible[mask] {
			continue
		}
		var regret float64
		for s := range values[mask] {
			regret = math.Max(regret, top[s]-values[mask][s])
		}
		switch {
		case bestMask < 0 || regret < bestRegret-eps:
			bestMask, bestRegret = mask, regret
		case math.Abs(regret-bestRegret) <= eps && preferMask(mask, bestMask):
			bestMask = mask
		}
	}

	for i := 0; i < n; i++ {
		if bestMask&(1<<i) == 0 {
			continue
		}
		c := cands[i]
		out.SelectedInitiatives = append(out.SelectedInitiatives, c.InitiativeID)
		out.PredictedReturns[c.InitiativeID] = c.ReturnMedian
		out.BudgetAllocated[c.InitiativeID] = c.Cost
	}
	return out, nil
}

// candidates filters by confidence, trims to MaxCandidates and orders by id
// so that bit i of a mask always names the i-th smallest id.
func (a *Allocator) candidates(in contract.AllocateInput) []contract.EvaluateResult {
	var cands []contract.EvaluateResult
	for _, c := range in.Initiatives {
		if c.Confidence >= a.opts.MinConfidence && c.Cost <= in.Budget {
			cands = append(cands, c)
		}
	}
	if len(cands) > a.opts.MaxCandidates {
		sort.SliceStable(cands, func(i, j int) bool {
			si, sj := weighted(cands[i], median), weighted(cands[j], median)
			if si != sj {
				return si > sj
			}
			return cands[i].InitiativeID < cands[j].InitiativeID
		})
		cands = cands[:a.opts.MaxCandidates]
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].InitiativeID < cands[j].InitiativeID })
	return cands
}

// preferMask reports whether a beats b on the tie-break: fewer members,
// then the smaller id list. Bits are in ascending id order, so comparing
// the lowest differing bit compares the sorted id lists.
func preferMask(a, b int) bool {
	ca, cb := bits.OnesCount(uint(a)), bits.OnesCount(uint(b))
	if ca != cb {
		return ca < cb
	}
	diff := a ^ b
	if diff == 0 {
		return false
	}
	low := diff & -diff
	return a&low != 0
}
