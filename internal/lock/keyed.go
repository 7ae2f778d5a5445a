// Package lock provides in-process mutual exclusion keyed by resource name.
//
// Callers that need several keys pass them in a single Acquire call; keys are
// taken in sorted order so two callers contending for the same pair can never
// deadlock. Waiting is bounded: past the configured timeout Acquire gives up
// with domain.ErrBusy.
package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"carbon-ledger-backend/internal/domain"
)

type slot struct {
	ch   chan struct{}
	refs int
}

type KeyedLocker struct {
	mu      sync.Mutex
	slots   map[string]*slot
	timeout time.Duration
}

func NewKeyedLocker(timeout time.Duration) *KeyedLocker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &KeyedLocker{
		slots:   make(map[string]*slot),
		timeout: timeout,
	}
}

// Acquire blocks until every key is held, the timeout elapses, or ctx is done.
// The returned release func must be called exactly once.
func (l *KeyedLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		s := l.ref(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, key)
		case <-timer.C:
			l.unref(key)
			l.releaseAll(held)
			return nil, fmt.Errorf("lock %s: %w", key, domain.ErrBusy)
		case <-ctx.Done():
			l.unref(key)
			l.releaseAll(held)
			return nil, fmt.Errorf("lock %s: %v: %w", key, ctx.Err(), domain.ErrBusy)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.releaseAll(held) })
	}, nil
}

func (l *KeyedLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *KeyedLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *KeyedLocker) releaseAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		s := l.slots[keys[i]]
		l.mu.Unlock()
		<-s.ch
		l.unref(keys[i])
	}
}

// Size is the number of keys currently held or waited on.
func (l *KeyedLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func AccountKey(id int32) string      { return fmt.Sprintf("account:%010d", id) }
func ListingKey(id int32) string      { return fmt.Sprintf("listing:%010d", id) }
func TransactionKey(id string) string { return "txn:" + id }
func ComplianceKey(id int32) string   { return fmt.Sprintf("compliance:%010d", id) }
