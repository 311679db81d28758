// Package irq models a single interrupt source feeding a periodic handler.
//
// The handler side (Service) never blocks: if the line is masked or already
// being serviced, the request is latched and run as soon as the line is free,
// like a pending interrupt flag. The control side (Disable/Restore) spins for
// at most one handler run, so handlers must be short and bounded.
package irq

import (
	"runtime"
	"sync/atomic"
)

const (
	idle uint32 = iota
	servicing
	masked
)

// Line gates a handler against critical sections on the control side.
type Line struct {
	state     atomic.Uint32
	pending   atomic.Bool
	coalesced atomic.Uint64
	handler   func()
}

// NewLine returns an unmasked line that runs handler on each Service call.
func NewLine(handler func()) *Line {
	return &Line{handler: handler}
}

// Service requests one handler run. Requests arriving while the line is busy
// coalesce into a single pending run; Coalesced counts the merged ones.
func (l *Line) Service() {
	if l.pending.Swap(true) {
		l.coalesced.Add(1)
	}
	l.drain()
}

// Coalesced returns how many requests were merged into an already pending
// run and so never reached the handler.
func (l *Line) Coalesced() uint64 {
	return l.coalesced.Load()
}

// Disable masks the line. When it returns, no handler is running and none
// will start until Restore.
func (l *Line) Disable() {
	for !l.state.CompareAndSwap(idle, masked) {
		runtime.Gosched()
	}
}

// Restore unmasks the line and services any request latched meanwhile.
func (l *Line) Restore() {
	l.state.Store(idle)
	l.drain()
}

func (l *Line) drain() {
	for l.pending.Load() {
		if !l.state.CompareAndSwap(idle, servicing) {
			// The owner checks pending again before leaving.
			return
		}
		if l.pending.Swap(false) {
			l.handler()
		}
		l.state.Store(idle)
	}
}
