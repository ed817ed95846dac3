package es

import (
	"context"
	"errors"
	"sync"
)

// fakeCategory keeps int events per stream and folds them into their sum.
type fakeCategory struct {
	mu      sync.Mutex
	streams map[string][]int

	loads, reloads, syncs int
	// conflicts makes the next n syncs report a conflict.
	conflicts int
	loadErr   error
	syncErr   error
	// beforeSync runs without the lock before every sync.
	beforeSync func()
}

func newFakeCategory() *fakeCategory {
	return &fakeCategory{streams: make(map[string][]int)}
}

func (f *fakeCategory) Name() string { return "fake" }

func (f *fakeCategory) Empty() (StreamToken, int) { return StreamToken{}, 0 }

func (f *fakeCategory) current(stream StreamName) (StreamToken, int) {
	events := f.streams[stream.String()]
	sum := 0
	for _, e := range events {
		sum += e
	}
	return StreamToken{Version: Version(len(events)), StreamBytes: int64(8 * len(events))}, sum
}

func (f *fakeCategory) Load(_ context.Context, stream StreamName, _ LoadPolicy) (StreamToken, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return StreamToken{}, 0, f.loadErr
	}
	token, state := f.current(stream)
	return token, state, nil
}

func (f *fakeCategory) Reload(_ context.Context, stream StreamName, _ bool, _ StreamToken, _ int) (StreamToken, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	token, state := f.current(stream)
	return token, state, nil
}

func (f *fakeCategory) Sync(_ context.Context, stream StreamName, _ EncodeContext, token StreamToken, state int, events []int) (SyncResult[int], error) {
	if f.beforeSync != nil {
		f.beforeSync()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	if f.syncErr != nil {
		return SyncResult[int]{}, f.syncErr
	}
	key := stream.String()
	if f.conflicts > 0 || int(token.Version) != len(f.streams[key]) {
		if f.conflicts > 0 {
			f.conflicts--
		}
		return Conflict(stream, token, state), nil
	}
	f.streams[key] = append(f.streams[key], events...)
	next, sum := f.current(stream)
	return Written(next, sum), nil
}

func (f *fakeCategory) Supersedes(current, candidate StreamToken) bool {
	return candidate.Version > current.Version
}

func (f *fakeCategory) counts() (loads, reloads, syncs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.reloads, f.syncs
}

var errInfra = errors.New("store unavailable")

var _ Category[int, int] = (*fakeCategory)(nil)
