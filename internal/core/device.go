// Package core wires together the routing resolver, socket registry, send
// pipeline and receive dispatcher into one device: the lifecycle controller
// that brings sockets up, tears them down, and rebinds them in place when
// the tunnel's listen port changes.
package core

import (
	"sync"
	"sync/atomic"

	"github.com/jroosing/hydralink/internal/endpoint"
	"github.com/jroosing/hydralink/internal/recvdispatch"
	"github.com/jroosing/hydralink/internal/routing"
	"github.com/jroosing/hydralink/internal/sendpipe"
	"github.com/jroosing/hydralink/internal/socketreg"
	"github.com/jroosing/hydralink/internal/stats"
)

// Device is the top-level collaborator the send and receive paths, and the
// routing resolver, are built around: the published socket pair, the
// shared routing generation and resolver, the send pipeline, and the
// device-wide counters.
type Device struct {
	luid         atomic.Uint64
	up           atomic.Bool
	incomingPort atomic.Uint32

	Registry socketreg.Registry
	Gen      routing.Generation
	Resolver *routing.Resolver
	Stats    stats.Counters
	Send     *sendpipe.Pipeline

	monitor *routing.Monitor
	table   routing.ForwardingTable

	// lifecycleMu is the push-lock serializing Init/Unload/SocketReinit:
	// the spec's single-writer discipline over socket (re)creation.
	lifecycleMu sync.Mutex
}

// NewDevice builds a Device bound to interfaceLUID, resolving peer source
// addresses against table.
func NewDevice(interfaceLUID uint64, table routing.ForwardingTable) *Device {
	d := &Device{table: table}
	d.luid.Store(interfaceLUID)
	d.Resolver = routing.NewResolver(table, &d.Gen)
	return d
}

// OwnInterfaceLUID satisfies routing.DeviceView, letting the resolver skip
// routes that would loop a send back through this device's own interface.
func (d *Device) OwnInterfaceLUID() uint64 { return d.luid.Load() }

// IsUp satisfies recvdispatch.DeviceView.
func (d *Device) IsUp() bool { return d.up.Load() }

// IncomingPort returns the UDP port the device is currently listening on
// (0 before Init or after Unload).
func (d *Device) IncomingPort() uint16 { return uint16(d.incomingPort.Load()) }

// Receive reads and dispatches one batch of datagrams from the published
// socket for family to upper. Safe to call concurrently from multiple
// receive-loop goroutines (one per family is the expected shape).
func (d *Device) Receive(family endpoint.Family, upper recvdispatch.PacketReceive, batchSize int) (recvdispatch.Status, error) {
	sock, tok := d.Registry.Enter(family)
	defer d.Registry.Leave(tok)
	if sock == nil {
		return recvdispatch.StatusDiscarded, nil
	}
	return recvdispatch.Receive(sock, family, d, upper, &d.Stats, batchSize)
}
