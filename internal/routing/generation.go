// Package routing resolves, for a peer whose remote address is set, the
// best local source address + egress interface to reach it, and caches that
// decision against a family-wide routing-generation counter that is bumped
// whenever the OS routing table changes.
package routing

import (
	"sync/atomic"

	"github.com/jroosing/hydralink/internal/endpoint"
)

// Generation holds the two process-wide routing-generation counters, one
// per address family. Readers load it with a fenceless Current; writers
// (route-change notification callbacks) Bump it by +2 so the low bit is
// free for callers that want a synchronization sentinel, per spec.
type Generation struct {
	v4 atomic.Uint32
	v6 atomic.Uint32
}

// Bump advances the counter for family by 2.
func (g *Generation) Bump(family endpoint.Family) {
	g.counter(family).Add(2)
}

// Current returns the current counter value for family without fencing:
// a stale read just causes a redundant (idempotent) re-resolution later.
func (g *Generation) Current(family endpoint.Family) uint32 {
	return g.counter(family).Load()
}

func (g *Generation) counter(family endpoint.Family) *atomic.Uint32 {
	if family == endpoint.FamilyV6 {
		return &g.v6
	}
	return &g.v4
}
