// Package socketreg publishes the per-device pair of UDP sockets (v4, v6)
// under a read-mostly discipline: readers on the send/receive hot path
// dereference the published socket without taking a lock, while a writer
// swaps the pointer under an exclusive lock and waits for a grace period
// before closing the displaced socket.
package socketreg

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/jroosing/hydralink/internal/endpoint"
	"github.com/jroosing/hydralink/internal/rundown"
)

// Socket is the published handle for one address family: the raw UDP
// connection plus the ipv4/ipv6 packet-conn wrapper that gives access to
// PKTINFO control messages and batched I/O, and a Rundown tracking
// in-flight received indications.
//
// Once published into a Registry a Socket is immutable except for its
// Rundown counter - matching the spec's invariant for the kernel Socket
// Object.
type Socket struct {
	Family  endpoint.Family
	Conn    *net.UDPConn
	PV4     *ipv4.PacketConn // non-nil iff Family == FamilyV4
	PV6     *ipv6.PacketConn // non-nil iff Family == FamilyV6
	Rundown rundown.Rundown
}

// LocalAddr returns the address the socket is bound to, letting a caller
// that requested port 0 learn the OS-assigned port.
func (s *Socket) LocalAddr() net.Addr {
	return s.Conn.LocalAddr()
}

// Close closes the underlying connection. Callers must have already
// drained the socket's Rundown (via Shutdown) before calling Close.
func (s *Socket) Close() error {
	return s.Conn.Close()
}

// Registry holds the published v4/v6 socket pair for one device.
type Registry struct {
	v4 atomic.Pointer[Socket]
	v6 atomic.Pointer[Socket]

	writeMu sync.Mutex // serializes writers; readers never take this
	epoch   rundown.Epoch
}

// ReadSection is a token returned by Enter and required by Leave; it routes
// the read section to the epoch generation it started in.
type ReadSection uint64

// Enter begins a read section and returns the socket currently published
// for family (or nil if none is published) along with a token to pass to
// Leave when the caller is done with it.
func (r *Registry) Enter(family endpoint.Family) (*Socket, ReadSection) {
	tok := ReadSection(r.epoch.Enter())
	if family == endpoint.FamilyV6 {
		return r.v6.Load(), tok
	}
	return r.v4.Load(), tok
}

// Leave ends a read section started with Enter.
func (r *Registry) Leave(tok ReadSection) {
	r.epoch.Leave(uint64(tok))
}

// Replace atomically swaps in new4/new6 (either may be nil to leave that
// family unpublished, mirroring SocketReinit's nullable arguments), waits
// for every reader that entered before the swap to leave, then returns the
// previously published sockets without closing them, so the caller can run
// their Rundown drain before Close (see DrainAndClose).
//
// Replace serializes concurrent writers via an internal mutex; it does not
// block readers, and readers never wait on it.
func (r *Registry) Replace(new4, new6 *Socket) (old4, old6 *Socket) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old4 = r.v4.Swap(new4)
	old6 = r.v6.Swap(new6)

	// Wait for every reader that may have observed the old pointers
	// before the swap to leave its read section. Only after this may the
	// displaced sockets be closed.
	r.epoch.Sync()

	return old4, old6
}

// DrainAndClose shuts down s's rundown (blocking until in-flight receives
// finish) and then closes its connection. Safe to call with a nil socket.
func DrainAndClose(s *Socket) error {
	if s == nil {
		return nil
	}
	s.Rundown.Shutdown()
	if err := s.Close(); err != nil {
		return fmt.Errorf("socketreg: close socket: %w", err)
	}
	return nil
}
