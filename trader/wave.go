package trader

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Wave is a fail-fast task group: units of work run concurrently, Wait joins
// them all, and the first failure cancels the wave's context.
type Wave struct {
	name  string
	ctx   context.Context
	group *errgroup.Group
	size  atomic.Int32
}

// NewWave starts an empty wave. limit caps in-flight units; 0 means unbounded.
func NewWave(ctx context.Context, name string, limit int) *Wave {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	return &Wave{name: name, ctx: gctx, group: g}
}

// Go submits one unit of work. label names it in the returned error.
// Go blocks while the wave is at its concurrency limit.
func (w *Wave) Go(label string, fn func(ctx context.Context) error) {
	w.size.Add(1)
	w.group.Go(func() error {
		if err := fn(w.ctx); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		return nil
	})
}

// Wait blocks until every submitted unit returned and reports the first failure.
func (w *Wave) Wait() error {
	if err := w.group.Wait(); err != nil {
		return fmt.Errorf("%s: %w", w.name, err)
	}
	return nil
}

// Size returns how many units were submitted.
func (w *Wave) Size() int { return int(w.size.Load()) }

// Collect runs fn for every key in its own wave and returns the results keyed
// by input. Any failure fails the whole collection.
func Collect[K comparable, V any](ctx context.Context, name string, limit int, keys []K, fn func(ctx context.Context, key K) (V, error)) (map[K]V, error) {
	results := make([]V, len(keys))
	w := NewWave(ctx, name, limit)
	for i, key := range keys {
		w.Go(fmt.Sprint(key), func(ctx context.Context) error {
			v, err := fn(ctx, key)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := w.Wait(); err != nil {
		return nil, err
	}

	out := make(map[K]V, len(keys))
	for i, key := range keys {
		out[key] = results[i]
	}
	return out, nil
}
