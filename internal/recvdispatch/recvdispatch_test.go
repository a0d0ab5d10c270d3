package recvdispatch

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"

	"github.com/jroosing/hydralink/internal/endpoint"
	"github.com/jroosing/hydralink/internal/socketreg"
	"github.com/jroosing/hydralink/internal/stats"
)

type fakeDevice struct{ up bool }

func (d fakeDevice) IsUp() bool { return d.up }

type recordingReceiver struct {
	mu   sync.Mutex
	data [][]byte
}

func (r *recordingReceiver) HandleDatagram(_ netip.AddrPort, _ endpoint.ControlMessage, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]byte(nil), data...)
	r.data = append(r.data, cp)
}

func (r *recordingReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func newBoundSocket(t *testing.T) *socketreg.Socket {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp4", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	pc := ipv4.NewPacketConn(conn)
	require.NoError(t, pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true))

	return &socketreg.Socket{Family: endpoint.FamilyV4, Conn: conn, PV4: pc}
}

func TestReceiveDiscardsWhenDeviceDown(t *testing.T) {
	sock := newBoundSocket(t)
	st := &stats.Counters{}
	recv := &recordingReceiver{}

	status, err := Receive(sock, endpoint.FamilyV4, fakeDevice{up: false}, recv, st, 8)
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, status)
	assert.Equal(t, 0, recv.count())
}

func TestReceiveDispatchesDatagramToUpperLayer(t *testing.T) {
	sock := newBoundSocket(t)
	st := &stats.Counters{}
	recv := &recordingReceiver{}

	client, err := net.DialUDP("udp4", nil, sock.Conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("payload"))
	require.NoError(t, err)

	require.NoError(t, sock.Conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var status Status
	require.Eventually(t, func() bool {
		status, err = Receive(sock, endpoint.FamilyV4, fakeDevice{up: true}, recv, st, 8)
		return err == nil && recv.count() > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, StatusSuccess, status)
	require.Equal(t, 1, recv.count())
	assert.Equal(t, "payload", string(recv.data[0]))
	assert.Equal(t, uint64(len("payload")), st.Snapshot().RxBytes)
}

func TestReceiveDiscardsWhenRundownIsDraining(t *testing.T) {
	sock := newBoundSocket(t)
	sock.Rundown.Shutdown()
	st := &stats.Counters{}
	recv := &recordingReceiver{}

	status, err := Receive(sock, endpoint.FamilyV4, fakeDevice{up: true}, recv, st, 8)
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, status)
}
