package sendpipe

import (
	"errors"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/jroosing/hydralink/internal/endpoint"
	"github.com/jroosing/hydralink/internal/pool"
	"github.com/jroosing/hydralink/internal/routing"
	"github.com/jroosing/hydralink/internal/socketreg"
	"github.com/jroosing/hydralink/internal/stats"
)

// ErrNoSocket is returned when the family a peer's resolved endpoint needs
// has no socket currently published in the registry (the device is
// mid-reinit or was never brought up for that family).
var ErrNoSocket = errors.New("sendpipe: no socket published for address family")

// ErrAlreadyComplete is returned by SendDatagramListToPeer when handed an
// empty buffer list: there is nothing to send, so the call completes
// immediately without resolving a source binding or allocating a send
// context.
var ErrAlreadyComplete = errors.New("sendpipe: nothing to send")

// PeerView is the slice of peer state the send pipeline needs beyond what
// the resolver already requires: its endpoint binding plus its own byte
// counter.
type PeerView interface {
	endpoint.PeerView
	AddTxBytes(n uint64)
}

// BufferFreer is the upcall the send pipeline uses to return ownership of a
// buffer list to its owner when a send cannot be submitted or fails before
// the kernel accepts it.
type BufferFreer interface {
	FreeSendBuffers(bufs []GatherBuffer)
}

// Pipeline is the asynchronous, batched send path for one device: it
// resolves a peer's source binding, gathers buffers into a pooled send
// context, and hands the context to a fixed pool of sender goroutines that
// perform the actual write and free the buffers on completion.
type Pipeline struct {
	Registry *socketreg.Registry
	Resolver *routing.Resolver
	Device   routing.DeviceView
	Stats    *stats.Counters
	Freer    BufferFreer

	// UseBatch selects the batched WriteBatch path (sendmmsg) over the
	// per-datagram polyfill. Decided once at device init by probing the
	// running kernel (see core.probeBatchedSendSupport).
	UseBatch bool

	ctxPool *pool.Pool[*sendContext]
	sendCh  chan *sendContext
	wg      sync.WaitGroup
}

// NewPipeline builds a Pipeline and starts workers sender goroutines
// draining its internal submit queue. Callers must call Close when the
// device is torn down.
func NewPipeline(reg *socketreg.Registry, resolver *routing.Resolver, device routing.DeviceView, st *stats.Counters, freer BufferFreer, workers int, useBatch bool) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	p := &Pipeline{
		Registry: reg,
		Resolver: resolver,
		Device:   device,
		Stats:    st,
		Freer:    freer,
		UseBatch: useBatch,
		ctxPool:  newContextPool(),
		sendCh:   make(chan *sendContext, workers*4),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.workerLoop()
	}
	return p
}

// Close stops accepting new sends and waits for the worker goroutines to
// drain their queue and exit.
func (p *Pipeline) Close() {
	close(p.sendCh)
	p.wg.Wait()
}

func (p *Pipeline) workerLoop() {
	defer p.wg.Done()
	for ctx := range p.sendCh {
		p.deliver(ctx)
		ctx.reset()
		p.ctxPool.Put(ctx)
	}
}

// SendDatagramListToPeer resolves peer's current source binding and submits
// bufs as one batch. It reports whether every buffer in bufs was a bare
// keepalive (length equal to KeepaliveLen) - allKeepalive is the signal the
// caller above (the packet queue) uses to decide whether this send should
// count as session activity. An empty bufs list completes immediately with
// ErrAlreadyComplete: nothing is resolved, no context is allocated, and no
// counters are touched. On successful submission it bumps peer's and the
// device's byte counters and the device's unicast-out packet counter. On
// any other failure - resolution or submission - it frees bufs via Freer
// and returns the failure status.
func (p *Pipeline) SendDatagramListToPeer(peer PeerView, bufs []GatherBuffer) (allKeepalive bool, err error) {
	if len(bufs) == 0 {
		return false, ErrAlreadyComplete
	}

	allKeepalive = true
	for _, b := range bufs {
		if len(b.Data) != KeepaliveLen {
			allKeepalive = false
			break
		}
	}

	ep, err := p.Resolver.ResolveSource(peer, p.Device)
	if err != nil {
		p.Freer.FreeSendBuffers(bufs)
		return allKeepalive, err
	}

	ctx := p.ctxPool.Get()
	ctx.reset()
	ctx.ep = ep
	ctx.batched = append(ctx.batched, bufs...)

	if err := p.SubmitSend(ctx); err != nil {
		p.Freer.FreeSendBuffers(bufs)
		return allKeepalive, err
	}

	var n uint64
	for _, b := range bufs {
		n += uint64(len(b.Data))
	}
	peer.AddTxBytes(n)
	p.Stats.AddTxBytes(n)
	return allKeepalive, nil
}

// SendBufferToPeer is SendDatagramListToPeer for the common single-datagram
// case.
func (p *Pipeline) SendBufferToPeer(peer PeerView, buf []byte) (allKeepalive bool, err error) {
	return p.SendDatagramListToPeer(peer, []GatherBuffer{{Data: buf}})
}

// SendBufferAsReplyToDatagram sends buf back out the same socket and
// interface a datagram was received on, using the received indication's
// destination address as the reply's source - bypassing the resolver
// entirely, since the kernel has already told us the correct source. This
// is the fast path a handshake response takes.
func (p *Pipeline) SendBufferAsReplyToDatagram(family endpoint.Family, remote netip.AddrPort, replySrc endpoint.SourceBinding, buf []byte) error {
	ep := endpoint.Endpoint{Family: family, Remote: remote}
	ctx := p.ctxPool.Get()
	ctx.reset()
	ctx.ep = ep
	ctx.ep.Source = replySrc
	ctx.ep.CtrlMsg = endpoint.PktInfo{Src: replySrc.Addr, IfIndex: replySrc.IfIndex}
	ctx.single = buf

	if err := p.SubmitSend(ctx); err != nil {
		p.Freer.FreeSendBuffers([]GatherBuffer{{Data: buf}})
		return err
	}
	p.Stats.AddTxBytes(uint64(len(buf)))
	return nil
}

// SubmitSend enqueues ctx for asynchronous delivery, returning immediately.
// A non-nil error means the queue itself could not accept the context (the
// pipeline is closing); the caller retains ownership of ctx's buffers in
// that case. Once accepted, any delivery failure is accounted for in the
// background by the worker and is not reported back to the submitter -
// matching the fire-and-forget completion contract of the kernel's
// asynchronous send.
func (p *Pipeline) SubmitSend(ctx *sendContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("sendpipe: pipeline closed")
		}
	}()
	p.sendCh <- ctx
	return nil
}

// deliver performs the actual kernel write for ctx, choosing the batched or
// single-buffer path, and accounts any failure against the device's
// send-failure counter.
func (p *Pipeline) deliver(ctx *sendContext) {
	sock, tok := p.Registry.Enter(ctx.ep.Family)
	defer p.Registry.Leave(tok)

	if sock == nil {
		p.Stats.AddSendFailure()
		return
	}

	dst := net.UDPAddrFromAddrPort(ctx.ep.Remote)

	if ctx.single != nil {
		if err := writeSingle(sock, ctx.ep.Family, ctx.ep.CtrlMsg, dst, ctx.single); err != nil {
			p.Stats.AddSendFailure()
		}
		return
	}

	if len(ctx.batched) == 0 {
		return
	}

	if p.UseBatch && len(ctx.batched) > 1 {
		if err := writeBatch(sock, ctx.ep.Family, ctx.ep.CtrlMsg, dst, ctx.batched); err != nil {
			// Batched primitive unavailable or failed outright: fall back
			// to the per-datagram polyfill for this send rather than
			// dropping the whole batch.
			polyfillSend(sock, ctx.ep.Family, ctx.ep.CtrlMsg, dst, ctx.batched, p.Stats)
		}
		return
	}

	polyfillSend(sock, ctx.ep.Family, ctx.ep.CtrlMsg, dst, ctx.batched, p.Stats)
}

func writeSingle(sock *socketreg.Socket, family endpoint.Family, ctrl endpoint.PktInfo, dst *net.UDPAddr, buf []byte) error {
	if family == endpoint.FamilyV6 {
		cm := &ipv6.ControlMessage{Src: ctrl.Src.AsSlice(), IfIndex: int(ctrl.IfIndex)}
		_, err := sock.PV6.WriteTo(buf, cm, dst)
		return err
	}
	cm := &ipv4.ControlMessage{Src: ctrl.Src.AsSlice(), IfIndex: int(ctrl.IfIndex)}
	_, err := sock.PV4.WriteTo(buf, cm, dst)
	return err
}

func writeBatch(sock *socketreg.Socket, family endpoint.Family, ctrl endpoint.PktInfo, dst *net.UDPAddr, bufs []GatherBuffer) error {
	if family == endpoint.FamilyV6 {
		cm := ipv6.ControlMessage{Src: ctrl.Src.AsSlice(), IfIndex: int(ctrl.IfIndex)}
		msgs := make([]ipv6.Message, len(bufs))
		for i, b := range bufs {
			msgs[i] = ipv6.Message{Buffers: [][]byte{b.Data}, Addr: dst, OOB: cm.Marshal()}
		}
		n, err := sock.PV6.WriteBatch(msgs, 0)
		if err == nil && n < len(msgs) {
			err = errShortBatch
		}
		return err
	}

	cm := ipv4.ControlMessage{Src: ctrl.Src.AsSlice(), IfIndex: int(ctrl.IfIndex)}
	msgs := make([]ipv4.Message, len(bufs))
	for i, b := range bufs {
		msgs[i] = ipv4.Message{Buffers: [][]byte{b.Data}, Addr: dst, OOB: cm.Marshal()}
	}
	n, err := sock.PV4.WriteBatch(msgs, 0)
	if err == nil && n < len(msgs) {
		err = errShortBatch
	}
	return err
}

var errShortBatch = errors.New("sendpipe: batched send accepted fewer datagrams than submitted")
