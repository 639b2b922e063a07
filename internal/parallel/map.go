// Package parallel runs independent work items concurrently.
package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map applies mapFunc to every element of seq with at most limit calls in
// flight. Results are yielded in completion order. Breaking out of the loop
// or canceling ctx stops the remaining calls and waits for the running ones.
//
//	for doc, err := range parallel.Map(ctx, 4, records, convert) {}
func Map[E, D any](ctx context.Context, limit int, seq iter.Seq[E], mapFunc func(context.Context, E) (D, error)) iter.Seq2[D, error] {
	if limit < 1 {
		limit = 1
	}
	return func(yield func(D, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(ctx)
		// one slot is taken by the feeder
		g.SetLimit(limit + 1)
		mapped := make(chan result[D], limit)

		g.Go(func() error {
			for e := range seq {
				if gctx.Err() != nil {
					return nil
				}
				g.Go(func() error {
					d, err := mapFunc(gctx, e)
					select {
					case mapped <- result[D]{d: d, e: err}:
					case <-gctx.Done():
					}
					return nil
				})
			}
			return nil
		})
		go func() {
			_ = g.Wait()
			close(mapped)
		}()
		defer func() {
			cancel()
			for range mapped {
			}
		}()

		for r := range mapped {
			if ctx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}
