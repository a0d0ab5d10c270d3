package endpoint

// SetPeerEndpoint installs ep as the peer's endpoint.
//
// It first does an optimistic, unlocked equality check against the current
// value: if the peer's endpoint already equals ep, it returns without ever
// taking the lock. This is intentionally racy - a concurrent writer may be
// mutating the field as this check runs - but the worst case is one
// redundant lock acquisition, because an equal write is harmless and a
// divergent concurrent write races to last-writer-wins regardless of
// whether this check ran at all.
func SetPeerEndpoint(p PeerView, ep Endpoint) {
	b := p.EndpointBinding()

	if b.ep.Eq(ep) {
		return
	}

	b.Lock.Lock()
	defer b.Lock.Unlock()

	b.ep.Family = ep.Family
	b.ep.Remote = ep.Remote
	b.ep.Source = ep.Source
	b.ep.RoutingGen = ep.RoutingGen
	b.ep.CtrlMsg = buildPktInfo(ep.Family, ep.Source)
	b.ep.UpdateGen++
}

// ClearPeerEndpointSrc zeroes the peer's cached source binding and routing
// generation, forcing the next ResolveSource call to query the OS rather
// than trust the cache.
func ClearPeerEndpointSrc(p PeerView) {
	b := p.EndpointBinding()

	b.Lock.Lock()
	defer b.Lock.Unlock()

	b.ep.clearSource()
	b.ep.UpdateGen++
}

// Snapshot returns a copy of the peer's endpoint taken under the shared
// lock. Used by callers (e.g. the send pipeline) that need a point-in-time
// value rather than a held lock.
func Snapshot(p PeerView) Endpoint {
	return p.EndpointBinding().Snapshot()
}
