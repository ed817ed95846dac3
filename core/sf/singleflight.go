package sf

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group coalesces calls by key. The zero value is ready to use.
type Group[T any] struct {
	g singleflight.Group
}

// Do runs fn once for all callers asking for key at the same time. fn gets a
// context that is not cancelled with ctx, so one caller giving up does not
// fail the others; every caller stops waiting once its own ctx is done.
// shared reports whether the result was handed to more than one caller.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	ch := g.g.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}
