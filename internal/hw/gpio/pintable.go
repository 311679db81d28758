package gpio

import (
	"maps"
	"sync"
	"sync/atomic"
)

// pinTable maps pin numbers to driver handles. Writers copy the map and
// publish the copy, so lookups from the step pulse path never lock.
type pinTable[T any] struct {
	mu sync.Mutex // serializes writers
	m  atomic.Pointer[map[int]T]
}

func (t *pinTable[T]) get(pin int) (T, bool) {
	var zero T
	m := t.m.Load()
	if m == nil {
		return zero, false
	}
	v, ok := (*m)[pin]
	return v, ok
}

// update runs fn on a private copy of the table under the writer lock and
// publishes the result.
func (t *pinTable[T]) update(fn func(m map[int]T) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := map[int]T{}
	if m := t.m.Load(); m != nil {
		next = maps.Clone(*m)
	}
	if err := fn(next); err != nil {
		return err
	}
	t.m.Store(&next)
	return nil
}

// drain empties the table and returns what it held.
func (t *pinTable[T]) drain() map[int]T {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.m.Swap(nil)
	if m == nil {
		return nil
	}
	return *m
}
