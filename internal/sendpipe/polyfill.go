package sendpipe

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/jroosing/hydralink/internal/endpoint"
	"github.com/jroosing/hydralink/internal/socketreg"
	"github.com/jroosing/hydralink/internal/stats"
)

// polyfillSend delivers a gathered buffer list one datagram at a time via
// WriteTo, standing in for sendmmsg on platforms or kernels where the
// batched primitive is unavailable or just failed. Unlike the batched path
// a single datagram's failure does not abort the rest of the list: every
// buffer gets its own delivery attempt, and each failure is accounted for
// independently, so one bad datagram in a batch cannot starve its
// neighbors.
func polyfillSend(sock *socketreg.Socket, family endpoint.Family, ctrl endpoint.PktInfo, dst *net.UDPAddr, bufs []GatherBuffer, st *stats.Counters) {
	if family == endpoint.FamilyV6 {
		cm := &ipv6.ControlMessage{Src: ctrl.Src.AsSlice(), IfIndex: int(ctrl.IfIndex)}
		for _, b := range bufs {
			if _, err := sock.PV6.WriteTo(b.Data, cm, dst); err != nil {
				st.AddSendFailure()
			}
		}
		return
	}

	cm := &ipv4.ControlMessage{Src: ctrl.Src.AsSlice(), IfIndex: int(ctrl.IfIndex)}
	for _, b := range bufs {
		if _, err := sock.PV4.WriteTo(b.Data, cm, dst); err != nil {
			st.AddSendFailure()
		}
	}
}
