package endpoint

import (
	"errors"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ErrInvalidAddress is returned when a received datagram's source address or
// ancillary control data does not carry a supported family / PKTINFO blob.
var ErrInvalidAddress = errors.New("endpoint: unsupported family or missing PKTINFO")

// ControlMessage is the family-tagged pair of ipv4/ipv6 control messages the
// receive path reads off a datagram; exactly one of V4/V6 is non-nil.
type ControlMessage struct {
	V4 *ipv4.ControlMessage
	V6 *ipv6.ControlMessage
}

// FromDatagram parses a received datagram's source address and PKTINFO
// control message into an Endpoint with a live routing generation. The
// PKTINFO destination address (the local address the datagram arrived on)
// and interface index become the Endpoint's cached source binding. It
// returns ErrInvalidAddress if the family is unsupported or PKTINFO is
// absent, matching spec's EndpointFromNbl contract.
func FromDatagram(src netip.AddrPort, cm ControlMessage, routingGen uint32) (Endpoint, error) {
	switch {
	case cm.V4 != nil:
		localIP, ok := netip.AddrFromSlice(cm.V4.Dst)
		if !ok || cm.V4.IfIndex == 0 {
			return Endpoint{}, ErrInvalidAddress
		}
		ep := Endpoint{
			Family: FamilyV4,
			Remote: src,
			Source: SourceBinding{Addr: localIP.Unmap(), IfIndex: uint32(cm.V4.IfIndex)},
		}
		ep.RoutingGen = routingGen
		ep.CtrlMsg = buildPktInfo(ep.Family, ep.Source)
		return ep, nil
	case cm.V6 != nil:
		localIP, ok := netip.AddrFromSlice(cm.V6.Dst)
		if !ok || cm.V6.IfIndex == 0 {
			return Endpoint{}, ErrInvalidAddress
		}
		ep := Endpoint{
			Family: FamilyV6,
			Remote: src,
			Source: SourceBinding{Addr: localIP, IfIndex: uint32(cm.V6.IfIndex)},
		}
		ep.RoutingGen = routingGen
		ep.CtrlMsg = buildPktInfo(ep.Family, ep.Source)
		return ep, nil
	default:
		return Endpoint{}, ErrInvalidAddress
	}
}

// SetPeerEndpointFromDatagram extracts an Endpoint from a received datagram
// and installs it via SetPeerEndpoint. Extraction failures (unsupported
// family, missing PKTINFO) are silently ignored, matching the spec's
// SetPeerEndpointFromNbl contract.
func SetPeerEndpointFromDatagram(p PeerView, src netip.AddrPort, cm ControlMessage, routingGen uint32) {
	ep, err := FromDatagram(src, cm, routingGen)
	if err != nil {
		return
	}
	SetPeerEndpoint(p, ep)
}
