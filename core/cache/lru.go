package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	Size int
	// Now is the clock used for expiry; time.Now when nil.
	Now func() time.Time
}

type entry struct {
	key      string
	val      any
	expiry   expiryKind
	ttl      time.Duration
	deadline time.Time
}

func (e *entry) expired(now time.Time) bool {
	return e.expiry != expiryNone && !now.Before(e.deadline)
}

func (e *entry) touch(now time.Time) {
	if e.expiry == expirySliding {
		e.deadline = now.Add(e.ttl)
	}
}

// LRU is a bounded, concurrency-safe cache. Expired entries are evicted
// lazily when they are looked up or pushed out by newer ones.
type LRU struct {
	mu    sync.Mutex
	size  int
	now   func() time.Time
	ll    *list.List
	items map[string]*list.Element
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LRU{
		size:  opts.Size,
		now:   opts.Now,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (l *LRU) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.lookupLocked(key, l.now())
	if !ok {
		return nil, false
	}
	return e.val, true
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.storeLocked(key, val, newPutOptions(opts...), l.now())
}

func (l *LRU) UpdateIfNewer(key string, val any, supersedes Supersedes, opts ...PutOption) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.lookupLocked(key, now); ok && !supersedes(cur.val, val) {
		return false
	}
	l.storeLocked(key, val, newPutOptions(opts...), now)
	return true
}

func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.removeLocked(ele)
	}
}

// Len returns the number of entries, including expired ones not yet evicted.
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

func (l *LRU) lookupLocked(key string, now time.Time) (*entry, bool) {
	ele, ok := l.items[key]
	if !ok {
		return nil, false
	}
	e := ele.Value.(*entry)
	if e.expired(now) {
		l.removeLocked(ele)
		return nil, false
	}
	e.touch(now)
	l.ll.MoveToFront(ele)
	return e, true
}

func (l *LRU) storeLocked(key string, val any, o PutOptions, now time.Time) {
	e := &entry{key: key, val: val, expiry: o.kind(), ttl: o.TTL, deadline: now.Add(o.TTL)}
	if ele, ok := l.items[key]; ok {
		ele.Value = e
		l.ll.MoveToFront(ele)
		return
	}
	l.items[key] = l.ll.PushFront(e)
	for l.ll.Len() > l.size {
		l.removeLocked(l.ll.Back())
	}
}

func (l *LRU) removeLocked(ele *list.Element) {
	l.ll.Remove(ele)
	delete(l.items, ele.Value.(*entry).key)
}

var _ Cache = (*LRU)(nil)
