// Package perkey serializes work per key while letting work for different
// keys run concurrently.
//
// Storage adapters without native conditional writes use it to make the
// read-compare-write of one stream atomic with respect to other writers in
// the same process.
package perkey

import (
	"context"
	"sync"
)

// Scheduler runs functions such that for any given key, they execute one
// at a time. Waiters are not served in FIFO order. A key's slot is released
// once nobody holds or waits for it, so the number of distinct keys over
// the lifetime of a Scheduler is unbounded.
type Scheduler[K comparable] struct {
	mu       sync.Mutex
	slots    map[K]*slot
	closed   bool
	inflight sync.WaitGroup
}

type slot struct {
	sem     chan struct{}
	waiters int
}

func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{slots: make(map[K]*slot)}
}

// Do runs fn while holding key.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but gives up waiting for the key when ctx is done.
// Once fn started it runs to completion.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{sem: make(chan struct{}, 1)}
		s.slots[key] = sl
	}
	sl.waiters++
	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()
	defer s.release(key, sl)

	select {
	case sl.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sl.sem }()

	return fn()
}

func (s *Scheduler[K]) release(key K, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.waiters--
	if sl.waiters == 0 && s.slots[key] == sl {
		delete(s.slots, key)
	}
}

// Len returns the number of keys currently held or waited for.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Close makes subsequent Do calls fail and waits for the calls already
// holding or waiting for a key to return.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}

// ErrSchedulerClosed is returned when Do is called on a closed scheduler.
var ErrSchedulerClosed = &SchedulerError{"scheduler is closed"}

type SchedulerError struct {
	msg string
}

func (e *SchedulerError) Error() string { return e.msg }
