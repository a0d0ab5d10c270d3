package routing

import (
	"net/netip"

	"github.com/jroosing/hydralink/internal/endpoint"
)

// Route is one entry of the IP forwarding table, as scanned by the
// resolver: a destination prefix reachable via an egress interface, scored
// by prefix length and the combined route + interface metric.
type Route struct {
	Dest       netip.Prefix
	OutIfIndex uint32
	OutIfLUID  uint64 // 0 when the OS collaborator cannot report a LUID-equivalent
	Metric     int    // route metric + per-interface metric, already combined
}

// ForwardingTable is the OS collaborator the resolver scans. It is defined
// as an interface, per spec.md's note that this specification defines the
// contracts the core needs rather than how a given OS provides them; the
// production implementation (table_linux.go) wraps vishvananda/netlink, and
// tests supply a fake.
type ForwardingTable interface {
	// ListRoutes returns every forwarding-table entry for family. Entries
	// whose interface is administratively/operationally down, or whose
	// metadata cannot be read, must be omitted by the implementation.
	ListRoutes(family endpoint.Family) ([]Route, error)

	// BestSourceAddr asks the OS for the best local source address to
	// reach dst when egressing via ifIndex (the Linux analogue of
	// GetBestRoute2 + its resulting InterfaceIndex/Source fields).
	BestSourceAddr(ifIndex uint32, dst netip.Addr) (netip.Addr, error)
}

// containsCIDR reports whether prefix contains addr, matching on the top
// Bits() bits of the address in network byte order. A /0 prefix matches
// every address of the same family.
func containsCIDR(prefix netip.Prefix, addr netip.Addr) bool {
	if prefix.Addr().Is4() != addr.Is4() {
		return false
	}
	return prefix.Contains(addr)
}
