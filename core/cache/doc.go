// Package cache provides a simple key-value cache interface with LRU eviction
// and per-entry expiry.
//
// The package defines two interfaces:
//
//   - [Cache]: Untyped cache storing values as any
//   - [TypedCache]: Generic type-safe wrapper via [NewTyped]
//
// # Implementations
//
// [LRU] provides an in-memory LRU cache that is safe for concurrent use.
//
//	c := cache.NewLRU(cache.LRUOpts{Size: 1000})
//	c.Put("key", value, cache.WithTTL(5*time.Minute))
//	if val, ok := c.Get("key"); ok {
//	    // Use val
//	}
//
// # Expiry
//
// [WithTTL] expires an entry a fixed time after it was written.
// [WithSlidingTTL] expires it once it has not been touched for the given
// duration; every Get and every write renews it.
//
// Expired entries are lazily evicted on access.
//
// # Conditional writes
//
// [Cache.UpdateIfNewer] only replaces an entry when the caller's comparison
// says the candidate is newer. This keeps a slow writer from overwriting a
// state that a faster one already advanced.
package cache
