package core

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydralink/internal/endpoint"
	"github.com/jroosing/hydralink/internal/recvdispatch"
	"github.com/jroosing/hydralink/internal/routing"
	"github.com/jroosing/hydralink/internal/sendpipe"
)

type noopFreer struct{}

func (noopFreer) FreeSendBuffers([]sendpipe.GatherBuffer) {}

type loopbackTable struct{}

func (loopbackTable) ListRoutes(family endpoint.Family) ([]routing.Route, error) {
	dest := netip.MustParsePrefix("127.0.0.0/8")
	if family == endpoint.FamilyV6 {
		dest = netip.MustParsePrefix("::1/128")
	}
	return []routing.Route{{Dest: dest, OutIfIndex: 1, Metric: 0}}, nil
}

func (loopbackTable) BestSourceAddr(_ uint32, dst netip.Addr) (netip.Addr, error) {
	if dst.Is4() {
		return netip.MustParseAddr("127.0.0.1"), nil
	}
	return netip.MustParseAddr("::1"), nil
}

func TestDeviceInitUnloadLifecycle(t *testing.T) {
	dev := NewDevice(0, loopbackTable{})

	err := dev.Init(0, noopFreer{}, 2, false)
	if err != nil {
		t.Skipf("Init requires a route-notification netlink socket, unavailable in this sandbox: %v", err)
	}
	require.True(t, dev.IsUp())
	assert.NotZero(t, dev.IncomingPort())

	assert.ErrorIs(t, dev.Init(0, noopFreer{}, 2, false), ErrAlreadyRunning)

	require.NoError(t, dev.Unload())
	assert.False(t, dev.IsUp())
	assert.Zero(t, dev.IncomingPort())
	assert.ErrorIs(t, dev.Unload(), ErrNotRunning)
}

func TestDeviceReceiveDiscardedBeforeInit(t *testing.T) {
	dev := NewDevice(0, loopbackTable{})
	status, err := dev.Receive(endpoint.FamilyV4, recordingUpper{}, 8)
	require.NoError(t, err)
	assert.Equal(t, recvdispatch.StatusDiscarded, status)
}

type recordingUpper struct{}

func (recordingUpper) HandleDatagram(netip.AddrPort, endpoint.ControlMessage, []byte) {}

func TestDeviceSendReceiveRoundTrip(t *testing.T) {
	dev := NewDevice(0, loopbackTable{})
	err := dev.Init(0, noopFreer{}, 2, false)
	if err != nil {
		t.Skipf("Init requires a route-notification netlink socket, unavailable in this sandbox: %v", err)
	}
	defer dev.Unload()

	peer := &fakePeer{}
	remote := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), dev.IncomingPort())
	endpoint.SetPeerEndpoint(peer, endpoint.Endpoint{Family: endpoint.FamilyV4, Remote: remote})

	_, err = dev.Send.SendBufferToPeer(peer, []byte("ping"))
	require.NoError(t, err)

	upper := &captureUpper{done: make(chan struct{}, 1)}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dev.Receive(endpoint.FamilyV4, upper, 8); err != nil {
			t.Fatalf("receive: %v", err)
		}
		select {
		case <-upper.done:
			return
		default:
		}
	}
	t.Fatal("did not receive the looped-back datagram in time")
}

type fakePeer struct {
	binding endpoint.Binding
	tx      uint64
}

func (p *fakePeer) EndpointBinding() *endpoint.Binding { return &p.binding }
func (p *fakePeer) AddTxBytes(n uint64)                { p.tx += n }

type captureUpper struct {
	done chan struct{}
	data []byte
}

func (c *captureUpper) HandleDatagram(_ netip.AddrPort, _ endpoint.ControlMessage, data []byte) {
	c.data = append([]byte(nil), data...)
	select {
	case c.done <- struct{}{}:
	default:
	}
}
