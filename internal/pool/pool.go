// Package pool runs a batch of independent work items with a cap on how many
// execute at the same time.
package pool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one item, stored at the item's input position.
type Result[R any] struct {
	Value R
	Err   error
}

// Run calls fn once for every item with at most limit calls in flight. A limit
// below 1 runs the items one at a time. Errors and panics stay with the item
// that produced them; the batch itself never fails. Items are still attempted
// after ctx is cancelled so fn can record the cancellation for each of them.
func Run[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T) (R, error)) []Result[R] {
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}
	if limit < 1 {
		limit = 1
	}

	// A plain Group: errgroup.WithContext would cancel siblings on the first error.
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range items {
		g.Go(func() error {
			results[i] = call(ctx, items[i], fn)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func call[T, R any](ctx context.Context, item T, fn func(ctx context.Context, item T) (R, error)) (res Result[R]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[R]{Err: fmt.Errorf("pool: worker panic: %v", r)}
		}
	}()
	v, err := fn(ctx, item)
	return Result[R]{Value: v, Err: err}
}
