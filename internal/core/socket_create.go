package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/jroosing/hydralink/internal/endpoint"
	"github.com/jroosing/hydralink/internal/socketreg"
)

const (
	socketRecvBufferSize = 2 * 1024 * 1024
	socketSendBufferSize = 2 * 1024 * 1024
)

// CreateAndBindSocket creates and binds one UDP socket for family at port
// (0 lets the OS choose), enables the ancillary control messages the
// receive path needs to learn the packet's destination address and
// interface (IP_PKTINFO / IPV6_RECVPKTINFO), and wraps the connection in
// the matching golang.org/x/net packet-conn for batched I/O.
//
// v4 sockets additionally disable UDP checksum generation on transmit (the
// Linux SO_NO_CHECK equivalent of the spec's UDP_NOCHECKSUM), since payload
// integrity is already covered by the encrypted transport above this layer.
func CreateAndBindSocket(family endpoint.Family, port uint16) (*socketreg.Socket, error) {
	network, addr := "udp4", fmt.Sprintf("0.0.0.0:%d", port)
	if family == endpoint.FamilyV6 {
		network, addr = "udp6", fmt.Sprintf("[::]:%d", port)
	}

	udpAddr, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, fmt.Errorf("core: resolve bind address: %w", ErrInsufficientResources)
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			ctlErr := c.Control(func(fd uintptr) {
				if family == endpoint.FamilyV6 {
					sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_NO_CHECK, 1)
			})
			if ctlErr != nil {
				return ctlErr
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), network, udpAddr.String())
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, ErrAddressInUse
		}
		return nil, fmt.Errorf("core: bind %s socket: %w", network, err)
	}
	conn := pc.(*net.UDPConn)

	_ = conn.SetReadBuffer(socketRecvBufferSize)
	_ = conn.SetWriteBuffer(socketSendBufferSize)

	sock := &socketreg.Socket{Family: family, Conn: conn}
	if family == endpoint.FamilyV6 {
		sock.PV6 = ipv6.NewPacketConn(conn)
		if err := sock.PV6.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, true); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("core: enable v6 PKTINFO: %w", err)
		}
		return sock, nil
	}

	sock.PV4 = ipv4.NewPacketConn(conn)
	if err := sock.PV4.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("core: enable v4 PKTINFO: %w", err)
	}
	return sock, nil
}

// socketInitMaxRetries bounds the wildcard-port retry loop in SocketInit:
// the number of times a colliding ephemeral-port pick is retried before
// giving up.
const socketInitMaxRetries = 100

// SocketInit binds the v4 and v6 socket pair for one device under the
// single incoming-port invariant: both sockets always end up bound to the
// same port. When port is 0 (wildcard), the OS picks v4's port first and v6
// is then bound to that exact port; if some other process races in and
// takes it before the v6 bind lands, the whole pair is retried with a fresh
// OS-picked port, up to socketInitMaxRetries times. When port is non-zero,
// a collision is not retried - it is the caller's explicit port request and
// is reported as ErrAddressInUse immediately.
func SocketInit(port uint16) (*socketreg.Socket, *socketreg.Socket, error) {
	wildcard := port == 0

	for attempt := 0; attempt <= socketInitMaxRetries; attempt++ {
		sock4, err := CreateAndBindSocket(endpoint.FamilyV4, port)
		if err != nil {
			if wildcard && errors.Is(err, ErrAddressInUse) {
				continue
			}
			return nil, nil, err
		}

		boundPort, ok := portOf(sock4)
		if !ok {
			_ = socketreg.DrainAndClose(sock4)
			return nil, nil, ErrInsufficientResources
		}

		sock6, err := CreateAndBindSocket(endpoint.FamilyV6, boundPort)
		if err != nil {
			_ = socketreg.DrainAndClose(sock4)
			if wildcard && errors.Is(err, ErrAddressInUse) {
				continue
			}
			return nil, nil, err
		}

		return sock4, sock6, nil
	}

	return nil, nil, ErrAddressInUse
}
