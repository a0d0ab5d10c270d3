package endpoint

import (
	"runtime"
	"sync/atomic"
)

// RWSpinLock is a reader-preferring spin lock. Endpoint reads happen on the
// send hot path and must never block behind a writer for long; writers
// (source-resolution commits, SetPeerEndpoint, ClearPeerEndpointSrc) are rare
// and tolerate a short spin.
//
// The encoding follows the classic reader-count trick: a non-negative state
// counts concurrent readers, and a writer holds the lock by driving state to
// -1 via CompareAndSwap(0, -1).
type RWSpinLock struct {
	state atomic.Int32
}

// RLock acquires the lock for shared (reader) use.
func (l *RWSpinLock) RLock() {
	for {
		s := l.state.Load()
		if s >= 0 && l.state.CompareAndSwap(s, s+1) {
			return
		}
		runtime.Gosched()
	}
}

// RUnlock releases a shared acquisition obtained via RLock.
func (l *RWSpinLock) RUnlock() {
	l.state.Add(-1)
}

// Lock acquires the lock for exclusive (writer) use.
func (l *RWSpinLock) Lock() {
	for !l.state.CompareAndSwap(0, -1) {
		runtime.Gosched()
	}
}

// Unlock releases an exclusive acquisition obtained via Lock.
func (l *RWSpinLock) Unlock() {
	l.state.Store(0)
}
