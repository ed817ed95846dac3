// Package tipstore implements the es.Category contract on top of a
// document store that keeps the head of every stream in one size-limited
// "tip" item.
//
// # Layout
//
// Every stream is a partition of Batch items. The newest one, the tip, lives
// at range key [TipIndex] and is rewritten on every write. It holds the most
// recent events, the unfolds derived by the category's [AccessStrategy], the
// accumulated size of all older batches and an etag that changes with every
// write. Once the tip outgrows [TipOptions], its oldest events are moved
// ("calved") into immutable batches keyed by their base index. The calf
// inserts and the tip write form one atomic unit.
//
// # Reads
//
// A load point-reads the tip first. If an unfold or tip event is an origin
// for the fold, no further reads are made. Otherwise calves are paged
// backwards until an origin or the start of the stream is reached, falling
// back to an optional archive [Table]. A reload compares the tip's etag with
// the caller's position and returns without decoding anything when it is
// unchanged.
//
// # Backends
//
// Storage is abstracted by the [Table] port. [MemoryTable] is an in-process
// implementation used by tests; adapters for DynamoDB, NATS JetStream KV,
// SQLite, PostgreSQL and Pebble live under adapters/.
package tipstore
