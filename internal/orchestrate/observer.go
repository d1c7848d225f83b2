package orchestrate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Phase names a step of a run.
type Phase string

const (
	PhasePilot    Phase = "pilot"
	PhaseEvaluate Phase = "evaluate"
	PhaseAllocate Phase = "allocate"
	PhaseScale    Phase = "scale"
)

// Stage names as used in events and errors.
const (
	StageMeasure  = "measure"
	StageEvaluate = "evaluate"
	StageAllocate = "allocate"
)

// EventType classifies run events.
type EventType string

const (
	EventPhaseStart EventType = "phase_start"
	EventPhaseDone  EventType = "phase_done"
	EventUnitDone   EventType = "unit_done"
	EventUnitError  EventType = "unit_error"
	EventRunDone    EventType = "run_done"
	EventRunError   EventType = "run_error"
)

// Event is a single observation from a run. Observers are called from
// worker goroutines and must not block.
type Event struct {
	Type         EventType
	RunID        string
	Phase        Phase
	Stage        string
	InitiativeID string
	Units        int
	Elapsed      time.Duration
	Err          error
}

// Observer receives run events. Single-method so new event types never
// break existing observers.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// MultiObserver fans events out to several observers.
type MultiObserver []Observer

func (m MultiObserver) OnEvent(e Event) {
	for _, o := range m {
		if o != nil {
			o.OnEvent(e)
		}
	}
}

// LogObserver writes phase and failure events as structured log lines.
// Successful units are logged at Debug.
type LogObserver struct {
	Logger *slog.Logger
}

func (o *LogObserver) OnEvent(e Event) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{slog.String("run_id", e.RunID)}
	if e.Phase != "" {
		attrs = append(attrs, slog.String("phase", string(e.Phase)))
	}
	if e.Stage != "" {
		attrs = append(attrs, slog.String("stage", e.Stage))
	}
	if e.InitiativeID != "" {
		attrs = append(attrs, slog.String("initiative_id", e.InitiativeID))
	}
	if e.Elapsed > 0 {
		attrs = append(attrs, slog.Duration("elapsed", e.Elapsed))
	}

	ctx := context.Background()
	switch e.Type {
	case EventPhaseStart:
		logger.LogAttrs(ctx, slog.LevelInfo, "phase start", append(attrs, slog.Int("units", e.Units))...)
	case EventPhaseDone:
		logger.LogAttrs(ctx, slog.LevelInfo, "phase done", append(attrs, slog.Int("units", e.Units))...)
	case EventUnitDone:
		logger.LogAttrs(ctx, slog.LevelDebug, "unit done", attrs...)
	case EventUnitError:
		logger.LogAttrs(ctx, slog.LevelWarn, "unit failed", append(attrs, slog.String("error", errString(e.Err)))...)
	case EventRunDone:
		logger.LogAttrs(ctx, slog.LevelInfo, "run complete", append(attrs, slog.Int("reports", e.Units))...)
	case EventRunError:
		logger.LogAttrs(ctx, slog.LevelError, "run failed", append(attrs, slog.String("error", errString(e.Err)))...)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// TraceCollector keeps every event in memory. Safe for concurrent use.
type TraceCollector struct {
	mu     sync.Mutex
	events []Event
}

func (t *TraceCollector) OnEvent(e Event) {
	t.mu.Lock()
	t.events = append(t.events, e)
	t.mu.Unlock()
}

// Events returns a copy of the collected events.
func (t *TraceCollector) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// EventsOfType returns the collected events of one type.
func (t *TraceCollector) EventsOfType(typ EventType) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Event
	for _, e := range t.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
