package routing

import (
	"net/netip"

	"github.com/jroosing/hydralink/internal/endpoint"
)

// DeviceView is the slice of device state the resolver needs: enough to
// avoid routing loops back through the tunnel's own interface.
type DeviceView interface {
	OwnInterfaceLUID() uint64
}

// Resolver implements the spec's ResolveSource protocol: resolve and cache,
// against a live forwarding table, the best source address + egress
// interface for a peer's remote address.
type Resolver struct {
	Table ForwardingTable
	Gen   *Generation
}

// NewResolver builds a Resolver over the given forwarding table and shared
// routing generation.
func NewResolver(table ForwardingTable, gen *Generation) *Resolver {
	return &Resolver{Table: table, Gen: gen}
}

// ResolveSource resolves and caches peer's source binding, returning a
// value copy of the resulting endpoint. The copy is taken while the
// endpoint's shared lock is held internally, satisfying the spec's
// "returns success only when the caller holds the shared endpoint lock and
// the cached binding is live" contract without leaking a held lock across
// the call boundary - Go callers copy the endpoint by value immediately
// anyway (see sendpipe.sendContext), so a returned snapshot is equivalent.
func (r *Resolver) ResolveSource(peer endpoint.PeerView, device DeviceView) (endpoint.Endpoint, error) {
	binding := peer.EndpointBinding()

	for {
		ep := binding.Snapshot()

		if ep.Family == endpoint.FamilyNone {
			return endpoint.Endpoint{}, ErrNoRemoteAddress
		}

		if ep.Valid(r.Gen.Current(ep.Family)) {
			return ep, nil
		}

		src, err := r.resolveOnce(ep, device)
		if err != nil {
			return endpoint.Endpoint{}, err
		}

		committed, ok := binding.CommitSource(ep.UpdateGen, src, r.Gen.Current(ep.Family))
		if !ok {
			// Another writer mutated the endpoint while we were scanning
			// the forwarding table; our lookup may be stale. Restart.
			continue
		}
		return committed, nil
	}
}

// resolveOnce performs the passive-level forwarding-table scan and best-
// source-address query for one remote address, without touching the
// endpoint's lock.
func (r *Resolver) resolveOnce(ep endpoint.Endpoint, device DeviceView) (endpoint.SourceBinding, error) {
	routes, err := r.Table.ListRoutes(ep.Family)
	if err != nil {
		return endpoint.SourceBinding{}, ErrUnreachableAddress
	}

	best, ok := bestRoute(routes, ep.Remote.Addr(), device.OwnInterfaceLUID())
	if !ok {
		return endpoint.SourceBinding{}, ErrUnreachableAddress
	}

	srcAddr, err := r.Table.BestSourceAddr(best.OutIfIndex, ep.Remote.Addr())
	if err != nil {
		return endpoint.SourceBinding{}, ErrNetworkPath
	}

	return endpoint.SourceBinding{Addr: srcAddr, IfIndex: best.OutIfIndex}, nil
}

// bestRoute scans routes for the entry that best matches dst: longest
// matching prefix first, then lowest combined metric. Entries whose egress
// interface LUID equals ownLUID are skipped to prevent routing loops back
// through our own tunnel interface.
func bestRoute(routes []Route, dst netip.Addr, ownLUID uint64) (Route, bool) {
	var (
		best    Route
		found   bool
		bestLen int
	)

	for _, rt := range routes {
		if ownLUID != 0 && rt.OutIfLUID == ownLUID {
			continue
		}
		if !containsCIDR(rt.Dest, dst) {
			continue
		}

		plen := rt.Dest.Bits()
		switch {
		case !found:
			best, bestLen, found = rt, plen, true
		case plen > bestLen:
			best, bestLen = rt, plen
		case plen == bestLen && rt.Metric < best.Metric:
			best = rt
		}
	}

	return best, found
}
