// Package endpoint holds the per-peer Endpoint record - the tuple of remote
// address, cached source binding, and routing-generation stamp that the send
// pipeline needs to reach a peer - along with the locking and store
// operations that keep it consistent under concurrent send/receive load.
package endpoint

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// Family identifies the address family an Endpoint is bound to.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyV4
	FamilyV6
)

// SourceBinding is the cached egress interface + source address an
// Endpoint's datagrams are pinned to.
type SourceBinding struct {
	Addr    netip.Addr
	IfIndex uint32
}

// IsValid reports whether the binding carries a usable interface index.
// Currency against the family-wide routing generation is checked by the
// caller (see Valid on Endpoint), not here.
func (b SourceBinding) IsValid() bool {
	return b.IfIndex != 0
}

// PktInfo mirrors the wire shape of a unix.IP_PKTINFO / unix.IPV6_PKTINFO
// ancillary control message: the level/type pair selects which socket option
// the kernel interprets the payload as, and Src/IfIndex are the fields that
// payload carries.
type PktInfo struct {
	Level   int
	Type    int
	Src     netip.Addr
	IfIndex uint32
}

// buildPktInfo prebuilds the control-message template for a source binding,
// consistent with the family: IP_PKTINFO for v4, IPV6_PKTINFO for v6.
func buildPktInfo(family Family, src SourceBinding) PktInfo {
	switch family {
	case FamilyV4:
		return PktInfo{Level: unix.IPPROTO_IP, Type: unix.IP_PKTINFO, Src: src.Addr, IfIndex: src.IfIndex}
	case FamilyV6:
		return PktInfo{Level: unix.IPPROTO_IPV6, Type: unix.IPV6_PKTINFO, Src: src.Addr, IfIndex: src.IfIndex}
	default:
		return PktInfo{}
	}
}

// Endpoint describes one direction of the UDP conversation with a peer: its
// remote address+port, the cached source binding used to reach it, and the
// generation counters that let readers and writers detect staleness.
type Endpoint struct {
	Family     Family
	Remote     netip.AddrPort
	Source     SourceBinding
	CtrlMsg    PktInfo
	RoutingGen uint32
	UpdateGen  uint32
}

// Valid reports whether the cached source binding may be reused without
// re-resolution: it must have a non-zero interface index and must have been
// stamped at the routing generation the caller considers current.
func (e *Endpoint) Valid(currentRoutingGen uint32) bool {
	return e.Source.IsValid() && e.RoutingGen == currentRoutingGen
}

// setSource overwrites the cached source binding, rebuilds the control
// message template, and stamps the routing generation. Callers must hold
// the Endpoint's lock for writing.
func (e *Endpoint) setSource(src SourceBinding, routingGen uint32) {
	e.Source = src
	e.CtrlMsg = buildPktInfo(e.Family, src)
	e.RoutingGen = routingGen
}

// clearSource zeroes the cached source binding and routing generation,
// forcing the next resolution to query the OS. Callers must hold the
// Endpoint's lock for writing.
func (e *Endpoint) clearSource() {
	e.Source = SourceBinding{}
	e.CtrlMsg = PktInfo{}
	e.RoutingGen = 0
}

// Eq implements the equality contract from the spec: two endpoints are equal
// iff both are family-none, or both are the same family with equal
// remote address+port (scope id is carried inside netip.Addr for v6) and
// equal cached source address and interface index.
func (e Endpoint) Eq(other Endpoint) bool {
	if e.Family == FamilyNone && other.Family == FamilyNone {
		return true
	}
	if e.Family != other.Family {
		return false
	}
	if e.Remote != other.Remote {
		return false
	}
	return e.Source.Addr == other.Source.Addr && e.Source.IfIndex == other.Source.IfIndex
}

// Binding is the per-peer mutable record: an Endpoint protected by a
// reader-preferring spin lock, plus the update generation readers use to
// detect whether a concurrent writer raced them.
type Binding struct {
	Lock RWSpinLock
	ep   Endpoint
}

// PeerView is the slice of peer state the store operations need: just the
// endpoint binding. Everything else about a peer is opaque to this package.
type PeerView interface {
	EndpointBinding() *Binding
}

// Snapshot returns a copy of the bound endpoint taken under the shared lock.
func (b *Binding) Snapshot() Endpoint {
	b.Lock.RLock()
	ep := b.ep
	b.Lock.RUnlock()
	return ep
}

// CommitSource writes a freshly resolved source binding into the bound
// endpoint, provided the update generation still matches expectedGen (i.e.
// no other writer has mutated the endpoint since the caller's snapshot was
// taken). On success it returns the post-commit endpoint and true; on a
// generation mismatch it returns false without writing, so the caller (the
// resolver) can restart its read from the beginning.
func (b *Binding) CommitSource(expectedGen uint32, src SourceBinding, routingGen uint32) (Endpoint, bool) {
	b.Lock.Lock()
	defer b.Lock.Unlock()

	if b.ep.UpdateGen != expectedGen {
		return Endpoint{}, false
	}
	b.ep.setSource(src, routingGen)
	b.ep.UpdateGen++
	return b.ep, true
}
