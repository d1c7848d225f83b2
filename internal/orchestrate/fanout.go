package orchestrate

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// unit describes how one phase turns an input into a checked output.
type unit[In, Out any] struct {
	phase Phase
	stage string
	id    func(In) string
	exec  func(context.Context, In) (Out, error)
	check func(In, Out) error
}

// fanOut runs u over inputs on at most workers goroutines. Results land in
// the slot of their input, so output order matches input order. The first
// failure cancels the remaining units and is returned once the pool drains.
func fanOut[In, Out any](ctx context.Context, o *Orchestrator, runID string, u unit[In, Out], inputs []In) ([]Out, error) {
	o.emit(Event{Type: EventPhaseStart, RunID: runID, Phase: u.phase, Stage: u.stage, Units: len(inputs)})
	start := time.Now()

	out := make([]Out, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxWorkers)
	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			id := u.id(in)
			t0 := time.Now()
			res, err := u.exec(gctx, in)
			if err == nil {
				err = u.check(in, res)
			}
			if err != nil {
				if gctx.Err() != nil && errors.Is(err, gctx.Err()) {
					// Sibling failure cancelled this unit; the cause is reported once.
					return err
				}
				o.logger.Warn("unit failed", "run_id", runID, "phase", u.phase, "initiative_id", id, "error", err)
				o.emit(Event{Type: EventUnitError, RunID: runID, Phase: u.phase, Stage: u.stage, InitiativeID: id, Elapsed: time.Since(t0), Err: err})
				return &StageError{Stage: u.stage, Phase: u.phase, InitiativeID: id, Err: err}
			}
			out[i] = res
			o.emit(Event{Type: EventUnitDone, RunID: runID, Phase: u.phase, Stage: u.stage, InitiativeID: id, Elapsed: time.Since(t0)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	o.emit(Event{Type: EventPhaseDone, RunID: runID, Phase: u.phase, Stage: u.stage, Units: len(inputs), Elapsed: time.Since(start)})
	return out, nil
}
