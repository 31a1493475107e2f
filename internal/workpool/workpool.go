// Package workpool runs bounded fan-out/fan-in over a list of work items.
// Each pipeline stage instantiates its own pool with its own width.
package workpool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run calls fn for every item with at most width calls in flight. Items are
// not started once ctx is done. A non-nil error from fn cancels the rest of
// the stage and is returned; per-item failures that must not stop the stage
// should be recorded by fn and reported as nil.
func Run[T any](ctx context.Context, width int, items []T, fn func(ctx context.Context, item T) error) error {
	if width < 1 {
		width = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(width)

	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		item := item
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return fn(gctx, item)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Map is Run with fan-in: fn returns a result and whether to keep it. The
// order of the returned slice is unspecified.
func Map[T, R any](ctx context.Context, width int, items []T, fn func(ctx context.Context, item T) (R, bool, error)) ([]R, error) {
	var out Collector[R]
	err := Run(ctx, width, items, func(ctx context.Context, item T) error {
		r, keep, err := fn(ctx, item)
		if err != nil {
			return err
		}
		if keep {
			out.Add(r)
		}
		return nil
	})
	return out.Items(), err
}

// Collector is a mutex-guarded append-only list for concurrent producers.
type Collector[T any] struct {
	mu    sync.Mutex
	items []T
}

// Add appends v.
func (c *Collector[T]) Add(v T) {
	c.mu.Lock()
	c.items = append(c.items, v)
	c.mu.Unlock()
}

// Items returns a copy of everything added so far.
func (c *Collector[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of items added so far.
func (c *Collector[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
