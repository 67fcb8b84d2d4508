// Package worker runs verification jobs concurrently and evaluates labelled
// claim batches.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Slot holds the output for one input of Pool.Map. Done is false when
// the input was never started because the context ended first.
type Slot[Out any] struct {
	Value Out
	Done  bool
}

// Pool applies one function to many inputs with bounded concurrency
type Pool[In, Out any] struct {
	workers int
	fn      func(ctx context.Context, in In) Out
}

// NewPool creates a pool of the given size; workers <= 0 means one
func NewPool[In, Out any](workers int, fn func(ctx context.Context, in In) Out) *Pool[In, Out] {
	if workers <= 0 {
		workers = 1
	}
	return &Pool[In, Out]{workers: workers, fn: fn}
}

// Map runs fn over inputs and returns the outputs at their input index.
// Once ctx is done no new input is started; Map still waits for the
// calls already running.
func (p *Pool[In, Out]) Map(ctx context.Context, inputs []In) []Slot[Out] {
	out := make([]Slot[Out], len(inputs))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := range inputs {
		if ctx.Err() != nil {
			break
		}
		// Go blocks while all workers are busy
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			out[i] = Slot[Out]{Value: p.fn(ctx, inputs[i]), Done: true}
			return nil
		})
	}
	_ = g.Wait()

	return out
}
