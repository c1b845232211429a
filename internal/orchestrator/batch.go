package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome pairs a request with its result or error.
type Outcome struct {
	Request Request
	Result  Result
	Err     error
}

// RetrieveAll runs the requests concurrently, at most limit at a time
// (limit <= 0 means unbounded). Outcomes are returned in input order; one
// failure does not cancel the others.
func (o *Orchestrator) RetrieveAll(ctx context.Context, reqs []Request, limit int) []Outcome {
	out := make([]Outcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, req := range reqs {
		g.Go(func() error {
			res, err := o.RetrieveResult(gctx, req)
			out[i] = Outcome{Request: req, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
