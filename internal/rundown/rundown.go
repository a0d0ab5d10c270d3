// Package rundown provides the two small synchronization primitives the
// socket layer needs around concurrent teardown: a refcount that blocks a
// closer until every in-flight acquirer has released (Rundown), and a
// read-section / grace-period primitive for publishing a pointer without
// making readers take a lock (Epoch).
package rundown

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Rundown tracks in-flight acquirers of a resource that is about to be torn
// down. It is the user-space analogue of NDIS rundown protection: Acquire
// fails once Shutdown has been called, and Shutdown blocks until every
// acquire that succeeded has been released.
type Rundown struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	draining bool
}

// Acquire reports whether the caller may proceed. On success the caller
// must call Release exactly once.
func (r *Rundown) Acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return false
	}
	r.wg.Add(1)
	return true
}

// Release matches a successful Acquire.
func (r *Rundown) Release() {
	r.wg.Done()
}

// Shutdown marks the rundown as draining (no further Acquire succeeds) and
// blocks until every outstanding acquirer has called Release.
func (r *Rundown) Shutdown() {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()
	r.wg.Wait()
}

// Epoch implements a read-section / grace-period discipline for publishing
// a pointer that hot-path readers dereference without taking a lock.
//
// It is a two-generation epoch counter rather than a single WaitGroup:
// a plain WaitGroup's Wait cannot tolerate a concurrent Add that starts
// after the count has already reached zero, which is exactly what happens
// here when readers keep entering while a writer is waiting to reclaim. A
// generation token routes each reader's Enter/Leave pair to one of two
// counters, and Sync only has to wait for the counter a writer just
// retired to drain - new readers land in the other counter and are not
// waited on at all.
//
// Readers call Enter before dereferencing the published pointer and Leave
// (with the token Enter returned) once done. A writer that has just
// swapped the pointer calls Sync, which blocks until every reader that
// called Enter before the swap has called Leave - at that point it is safe
// to free the displaced value.
type Epoch struct {
	mu     sync.Mutex
	gen    atomic.Uint64
	counts [2]atomic.Int64
}

// Enter begins a read section and returns a token to pass to Leave.
func (e *Epoch) Enter() uint64 {
	g := e.gen.Load()
	e.counts[g%2].Add(1)
	return g
}

// Leave ends a read section started with Enter.
func (e *Epoch) Leave(token uint64) {
	e.counts[token%2].Add(-1)
}

// Sync retires the current generation and blocks until every reader that
// entered under it has left. Readers that call Enter after Sync begins
// land in the next generation and are not waited on.
func (e *Epoch) Sync() {
	e.mu.Lock()
	defer e.mu.Unlock()

	retired := e.gen.Add(1) - 1
	bucket := &e.counts[retired%2]
	for bucket.Load() != 0 {
		runtime.Gosched()
	}
}
