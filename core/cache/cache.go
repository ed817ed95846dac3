package cache

import "time"

type expiryKind uint8

const (
	expiryNone expiryKind = iota
	expiryAbsolute
	expirySliding
)

type PutOptions struct {
	TTL     time.Duration
	sliding bool
}

type PutOption func(*PutOptions)

// WithTTL expires the entry a fixed duration after it was written.
func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = ttl
		o.sliding = false
	}
}

// WithSlidingTTL expires the entry once it has not been read or written
// for ttl.
func WithSlidingTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = ttl
		o.sliding = true
	}
}

func newPutOptions(opts ...PutOption) PutOptions {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o PutOptions) kind() expiryKind {
	switch {
	case o.TTL <= 0:
		return expiryNone
	case o.sliding:
		return expirySliding
	default:
		return expiryAbsolute
	}
}

// Supersedes reports whether candidate should replace current.
type Supersedes func(current, candidate any) bool

type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	// UpdateIfNewer stores val unless the present entry is at least as new,
	// as judged by supersedes. It reports whether val was stored.
	UpdateIfNewer(key string, val any, supersedes Supersedes, opts ...PutOption) bool
	Delete(key string)
}

type TypedCache[T any] interface {
	Put(key string, val T, opts ...PutOption)
	Get(key string) (T, bool)
	UpdateIfNewer(key string, val T, supersedes func(current, candidate T) bool, opts ...PutOption) bool
	Delete(key string)
}

type typedCache[T any] struct {
	c Cache
}

func NewTyped[T any](c Cache) TypedCache[T] { return &typedCache[T]{c: c} }

func (t *typedCache[T]) Get(key string) (out T, ok bool) {
	var v any
	v, ok = t.c.Get(key)
	if !ok {
		return out, false
	}

	if out, ok = v.(T); !ok {
		return out, false
	}
	return
}

func (t *typedCache[T]) Put(key string, val T, opts ...PutOption) {
	t.c.Put(key, val, opts...)
}

// UpdateIfNewer treats a present entry of a different type as replaceable.
func (t *typedCache[T]) UpdateIfNewer(key string, val T, supersedes func(current, candidate T) bool, opts ...PutOption) bool {
	return t.c.UpdateIfNewer(key, val, func(current, candidate any) bool {
		cur, ok := current.(T)
		if !ok {
			return true
		}
		return supersedes(cur, candidate.(T))
	}, opts...)
}

func (t *typedCache[T]) Delete(key string) {
	t.c.Delete(key)
}

var _ TypedCache[any] = (*typedCache[any])(nil)
