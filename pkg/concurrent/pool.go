// Package concurrent holds small bounded-parallelism helpers.
package concurrent

import (
	"context"
	"sync"
)

// ParallelMap applies fn to every item with at most maxConcurrency calls in
// flight. Results keep the order of items. The first error cancels the
// context handed to the remaining calls and is returned.
func ParallelMap[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), maxConcurrency int) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	results := make([]R, len(items))
	sem := make(chan struct{}, maxConcurrency)

	for i, item := range items {
		wg.Add(1)
		go func(idx int, val T) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				once.Do(func() { firstErr = ctx.Err() })
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}
			r, err := fn(ctx, val)
			if err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
				return
			}
			results[idx] = r
		}(i, item)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
