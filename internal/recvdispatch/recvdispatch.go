// Package recvdispatch implements the receive path: pull a batch of
// datagrams off a published socket, validate each indication against the
// device's up/rundown state and a maximum allocation size, and hand
// well-formed indications off to a collaborator for decryption and
// dispatch to the owning peer.
package recvdispatch

import (
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/jroosing/hydralink/internal/endpoint"
	"github.com/jroosing/hydralink/internal/helpers"
	"github.com/jroosing/hydralink/internal/socketreg"
	"github.com/jroosing/hydralink/internal/stats"
)

// MaxDatagramSize bounds a single receive allocation; an indication no
// kernel ever actually delivers a larger UDP payload than this, so a length
// beyond it indicates a malformed or hostile control message rather than a
// legitimate oversized datagram.
const MaxDatagramSize = 65535

// DeviceView is the slice of device state the receive path checks before
// handing an indication upstream.
type DeviceView interface {
	IsUp() bool
}

// PacketReceive is the upcall recvdispatch hands a validated datagram to.
// Implementations own decrypting the payload and learning/updating the
// owning peer's roaming endpoint (via endpoint.SetPeerEndpointFromDatagram).
type PacketReceive interface {
	HandleDatagram(remote netip.AddrPort, cm endpoint.ControlMessage, data []byte)
}

// Status reports the outcome of one Receive call.
type Status int

const (
	// StatusSuccess means at least one indication was read; each one was
	// either dispatched or counted as a discard.
	StatusSuccess Status = iota
	// StatusPending means nothing was read (the read returned no datagrams
	// or failed); the caller (its own receive loop) should retry.
	StatusPending
	// StatusDiscarded means the device or socket was not in a state to
	// accept indications; nothing was read.
	StatusDiscarded
)

// Receive reads up to batchSize datagrams from sock and dispatches each
// through upper. The device-up and rundown checks are made once per call,
// before anything is read: if the device is down or the socket's rundown
// cannot be acquired, Receive returns StatusDiscarded without reading from
// the socket. Each datagram that is read is checked on its own, and an
// oversized read is discarded rather than handed upstream.
func Receive(sock *socketreg.Socket, family endpoint.Family, device DeviceView, upper PacketReceive, st *stats.Counters, batchSize int) (Status, error) {
	if !device.IsUp() {
		return StatusDiscarded, nil
	}
	if !sock.Rundown.Acquire() {
		return StatusDiscarded, nil
	}
	defer sock.Rundown.Release()

	batchSize = helpers.ClampInt(batchSize, 1, 1024)

	if family == endpoint.FamilyV6 {
		return receiveV6(sock, upper, st, batchSize)
	}
	return receiveV4(sock, upper, st, batchSize)
}

func receiveV4(sock *socketreg.Socket, upper PacketReceive, st *stats.Counters, batchSize int) (Status, error) {
	msgs := make([]ipv4.Message, batchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, MaxDatagramSize)}
		msgs[i].OOB = make([]byte, 128)
	}

	n, err := sock.PV4.ReadBatch(msgs, 0)
	if err != nil {
		return readOneV4(sock, upper, st)
	}
	if n == 0 {
		return StatusPending, nil
	}

	for i := 0; i < n; i++ {
		dispatchV4(upper, st, msgs[i])
	}
	return StatusSuccess, nil
}

func readOneV4(sock *socketreg.Socket, upper PacketReceive, st *stats.Counters) (Status, error) {
	buf := make([]byte, MaxDatagramSize)
	n, cm, src, err := sock.PV4.ReadFrom(buf)
	if err != nil {
		return StatusPending, nil
	}
	deliver(upper, st, src, endpoint.ControlMessage{V4: cm}, buf[:n])
	return StatusSuccess, nil
}

func dispatchV4(upper PacketReceive, st *stats.Counters, m ipv4.Message) {
	if m.N > MaxDatagramSize {
		st.AddInDiscards(1)
		return
	}
	cm := &ipv4.ControlMessage{}
	if err := cm.Parse(m.OOB[:m.NN]); err != nil {
		cm = nil
	}
	src, ok := addrPortFrom(m.Addr)
	if !ok {
		st.AddInDiscards(1)
		return
	}
	deliver(upper, st, src, endpoint.ControlMessage{V4: cm}, m.Buffers[0][:m.N])
}

func receiveV6(sock *socketreg.Socket, upper PacketReceive, st *stats.Counters, batchSize int) (Status, error) {
	msgs := make([]ipv6.Message, batchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, MaxDatagramSize)}
		msgs[i].OOB = make([]byte, 128)
	}

	n, err := sock.PV6.ReadBatch(msgs, 0)
	if err != nil {
		return readOneV6(sock, upper, st)
	}
	if n == 0 {
		return StatusPending, nil
	}

	for i := 0; i < n; i++ {
		dispatchV6(upper, st, msgs[i])
	}
	return StatusSuccess, nil
}

func readOneV6(sock *socketreg.Socket, upper PacketReceive, st *stats.Counters) (Status, error) {
	buf := make([]byte, MaxDatagramSize)
	n, cm, src, err := sock.PV6.ReadFrom(buf)
	if err != nil {
		return StatusPending, nil
	}
	deliver(upper, st, src, endpoint.ControlMessage{V6: cm}, buf[:n])
	return StatusSuccess, nil
}

func dispatchV6(upper PacketReceive, st *stats.Counters, m ipv6.Message) {
	if m.N > MaxDatagramSize {
		st.AddInDiscards(1)
		return
	}
	cm := &ipv6.ControlMessage{}
	if err := cm.Parse(m.OOB[:m.NN]); err != nil {
		cm = nil
	}
	src, ok := addrPortFrom(m.Addr)
	if !ok {
		st.AddInDiscards(1)
		return
	}
	deliver(upper, st, src, endpoint.ControlMessage{V6: cm}, m.Buffers[0][:m.N])
}

func deliver(upper PacketReceive, st *stats.Counters, src netip.AddrPort, cm endpoint.ControlMessage, data []byte) {
	if cm.V4 == nil && cm.V6 == nil {
		st.AddInDiscards(1)
		return
	}
	st.AddRxBytes(uint64(len(data)))
	upper.HandleDatagram(src, cm, data)
}

func addrPortFrom(addr net.Addr) (netip.AddrPort, bool) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	return udpAddr.AddrPort(), true
}
