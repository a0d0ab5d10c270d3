package core

import (
	"fmt"
	"net"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/jroosing/hydralink/internal/routing"
	"github.com/jroosing/hydralink/internal/sendpipe"
	"github.com/jroosing/hydralink/internal/socketreg"
)

// minBatchKernelMajor/Minor is the oldest Linux kernel line this library
// trusts to implement sendmmsg/recvmmsg without surprises (both syscalls
// have existed since well before any kernel still in practical use, but the
// spec calls for an explicit compatibility probe rather than an unconditional
// assumption, so one is kept here rather than assumed away).
const (
	minBatchKernelMajor = 3
	minBatchKernelMinor = 0
)

// probeBatchedSendSupport inspects the running kernel version and reports
// whether the batched send/receive primitives should be used. Any error
// probing the kernel is treated as "use the polyfill" - the conservative
// choice.
func probeBatchedSendSupport() bool {
	info, err := host.KernelVersion()
	if err != nil || info == "" {
		return false
	}
	var major, minor int
	if _, err := fmt.Sscanf(info, "%d.%d", &major, &minor); err != nil {
		return false
	}
	if major != minBatchKernelMajor {
		return major > minBatchKernelMajor
	}
	return minor >= minBatchKernelMinor
}

// Init brings the device up: probes batch-send support (unless
// forcePolyfill overrides it), binds the v4 and v6 sockets at port,
// publishes them, and starts the send pipeline and route-change monitor.
// Calling Init on an already-up device returns ErrAlreadyRunning.
func (d *Device) Init(port uint16, freer sendpipe.BufferFreer, sendWorkers int, forcePolyfill bool) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.up.Load() {
		return ErrAlreadyRunning
	}

	sock4, sock6, err := SocketInit(port)
	if err != nil {
		return err
	}

	monitor, err := routing.NewMonitor(&d.Gen)
	if err != nil {
		_ = socketreg.DrainAndClose(sock4)
		_ = socketreg.DrainAndClose(sock6)
		return fmt.Errorf("core: start route monitor: %w", err)
	}

	old4, old6 := d.Registry.Replace(sock4, sock6)
	_ = socketreg.DrainAndClose(old4)
	_ = socketreg.DrainAndClose(old6)

	useBatch := !forcePolyfill && probeBatchedSendSupport()

	d.monitor = monitor
	d.Send = sendpipe.NewPipeline(&d.Registry, d.Resolver, d, &d.Stats, freer, sendWorkers, useBatch)

	if p, ok := portOf(sock4); ok {
		d.incomingPort.Store(uint32(p))
	}

	d.up.Store(true)
	return nil
}

// Unload tears the device down: stops the route monitor, unpublishes and
// closes both sockets (waiting for their rundowns to drain first), and
// stops the send pipeline's workers. Calling Unload on a device that is not
// up returns ErrNotRunning.
func (d *Device) Unload() error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if !d.up.Load() {
		return ErrNotRunning
	}
	d.up.Store(false)

	if d.monitor != nil {
		d.monitor.Close()
		d.monitor = nil
	}

	old4, old6 := d.Registry.Replace(nil, nil)
	if err4 := socketreg.DrainAndClose(old4); err4 != nil {
		return err4
	}
	if err6 := socketreg.DrainAndClose(old6); err6 != nil {
		return err6
	}

	if d.Send != nil {
		d.Send.Close()
		d.Send = nil
	}

	d.incomingPort.Store(0)
	return nil
}

// SocketReinit rebinds the device's sockets at a new port without tearing
// down the send pipeline or route monitor - the path a listen-port change
// takes while the tunnel otherwise stays up.
func (d *Device) SocketReinit(port uint16) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if !d.up.Load() {
		return ErrNotRunning
	}

	sock4, sock6, err := SocketInit(port)
	if err != nil {
		return err
	}

	old4, old6 := d.Registry.Replace(sock4, sock6)
	_ = socketreg.DrainAndClose(old4)
	_ = socketreg.DrainAndClose(old6)

	if p, ok := portOf(sock4); ok {
		d.incomingPort.Store(uint32(p))
	}
	return nil
}

func portOf(sock *socketreg.Socket) (uint16, bool) {
	addr, ok := sock.LocalAddr().(*net.UDPAddr)
	if !ok {
		return 0, false
	}
	return uint16(addr.Port), true
}
