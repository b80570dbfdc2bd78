// Package pipeline runs the route, match, context and prediction stages
// that turn a travel query into an anomaly forecast.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrHalt marks a stage that ended the run early with a final value.
var ErrHalt = errors.New("pipeline halted")

type haltError struct {
	value any
}

func (e *haltError) Error() string        { return ErrHalt.Error() }
func (e *haltError) Is(target error) bool { return target == ErrHalt }

// Halt returns an error that stops the graph after the current level and
// makes v the result of the run.
func Halt(v any) error {
	return &haltError{value: v}
}

// Inputs are the slot values a stage declared it reads.
type Inputs map[string]any

// Input fetches a typed slot value.
func Input[T any](in Inputs, name string) (T, error) {
	var zero T
	v, ok := in[name]
	if !ok {
		return zero, fmt.Errorf("missing input %q", name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("input %q has type %T, want %T", name, v, zero)
	}
	return t, nil
}

// Stage is one node of the graph. It reads the named input slots and
// writes its result to Output.
type Stage struct {
	Name   string
	Inputs []string
	Output string
	Run    func(ctx context.Context, in Inputs) (any, error)
}

// Stage statuses reported to observers.
const (
	StatusStarted  = "started"
	StatusFinished = "finished"
	StatusHalted   = "halted"
	StatusFailed   = "failed"
)

// StageEvent reports the progress of one stage.
type StageEvent struct {
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Observer receives stage events. Stages in the same level run
// concurrently, so an Observer must be safe for concurrent use.
type Observer func(StageEvent)

// Graph is a validated set of stages grouped into dependency levels.
type Graph struct {
	levels [][]Stage
	seeds  map[string]struct{}
}

// NewGraph validates stages and groups them into levels. Every input must
// be a seed slot or the output of a stage listed earlier, and every output
// slot must be written once.
func NewGraph(seeds []string, stages ...Stage) (*Graph, error) {
	g := &Graph{seeds: make(map[string]struct{}, len(seeds))}
	level := make(map[string]int)
	names := make(map[string]struct{}, len(stages))

	for _, s := range seeds {
		g.seeds[s] = struct{}{}
		level[s] = -1
	}

	for _, st := range stages {
		if st.Name == "" || st.Output == "" || st.Run == nil {
			return nil, fmt.Errorf("stage %q: name, output and run are required", st.Name)
		}
		if _, dup := names[st.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", st.Name)
		}
		names[st.Name] = struct{}{}
		if _, dup := level[st.Output]; dup {
			return nil, fmt.Errorf("stage %q: slot %q is already written", st.Name, st.Output)
		}

		lvl := 0
		for _, in := range st.Inputs {
			l, ok := level[in]
			if !ok {
				return nil, fmt.Errorf("stage %q: input %q is not produced by an earlier stage", st.Name, in)
			}
			lvl = max(lvl, l+1)
		}
		level[st.Output] = lvl

		for len(g.levels) <= lvl {
			g.levels = append(g.levels, nil)
		}
		g.levels[lvl] = append(g.levels[lvl], st)
	}
	return g, nil
}

// Levels returns the stage names of each level in execution order.
func (g *Graph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, lvl := range g.levels {
		for _, st := range lvl {
			out[i] = append(out[i], st.Name)
		}
	}
	return out
}

// Result is the outcome of a graph run.
type Result struct {
	Slots map[string]any
	// HaltedBy names the stage that stopped the run, if any.
	HaltedBy string
	// Value is the halt value when HaltedBy is set.
	Value any
}

// Run executes the graph level by level. Stages within a level run
// concurrently; the first failure cancels its siblings and aborts the run.
func (g *Graph) Run(ctx context.Context, seed map[string]any, observe Observer) (*Result, error) {
	if observe == nil {
		observe = func(StageEvent) {}
	}
	res := &Result{Slots: make(map[string]any, len(seed)+len(g.levels))}
	for name := range g.seeds {
		v, ok := seed[name]
		if !ok {
			return nil, fmt.Errorf("missing seed slot %q", name)
		}
		res.Slots[name] = v
	}

	var mu sync.Mutex
	for _, lvl := range g.levels {
		eg, egCtx := errgroup.WithContext(ctx)
		for _, st := range lvl {
			in := make(Inputs, len(st.Inputs))
			for _, name := range st.Inputs {
				in[name] = res.Slots[name]
			}

			eg.Go(func() error {
				started := time.Now()
				observe(StageEvent{Stage: st.Name, Status: StatusStarted})

				out, err := st.Run(egCtx, in)
				elapsed := time.Since(started)

				var halt *haltError
				switch {
				case errors.As(err, &halt):
					mu.Lock()
					if res.HaltedBy == "" {
						res.HaltedBy = st.Name
						res.Value = halt.value
					}
					mu.Unlock()
					observe(StageEvent{Stage: st.Name, Status: StatusHalted, DurationMS: elapsed.Milliseconds()})
					return nil
				case err != nil:
					observe(StageEvent{Stage: st.Name, Status: StatusFailed, DurationMS: elapsed.Milliseconds(), Error: err.Error()})
					return fmt.Errorf("stage %s: %w", st.Name, err)
				}

				mu.Lock()
				res.Slots[st.Output] = out
				mu.Unlock()
				observe(StageEvent{Stage: st.Name, Status: StatusFinished, DurationMS: elapsed.Milliseconds()})
				return nil
			})
		}

		if err := eg.Wait(); err != nil {
			return nil, err
		}
		if res.HaltedBy != "" {
			return res, nil
		}
	}
	return res, nil
}
