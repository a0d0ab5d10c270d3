// Package sendpipe implements the asynchronous, batched send path: gather
// already-encrypted datagrams into a per-send context drawn from a fixed
// pool, resolve the peer's source binding, and hand the batch to the
// kernel's batched send primitive (or the per-datagram polyfill when the
// platform lacks one).
package sendpipe

import (
	"github.com/jroosing/hydralink/internal/endpoint"
	"github.com/jroosing/hydralink/internal/pool"
)

// KeepaliveLen is the canonical payload length of a keepalive datagram,
// used to classify a submitted batch as "all keepalives" (MessageDataLen(0)
// in the spec's vocabulary).
const KeepaliveLen = 0

// GatherBuffer is one entry of the buffer-descriptor list a send context
// gathers from the caller's datagram list - the user-space analogue of the
// spec's memory-descriptor-chain entry.
type GatherBuffer struct {
	Data []byte
}

// sendContext is the per-send scratch object drawn from the fixed pool: it
// snapshots the resolved endpoint by value (so a racing SetPeerEndpoint
// cannot mutate an in-flight send's destination) and carries exactly one of
// the batched or single payload shapes.
type sendContext struct {
	ep      endpoint.Endpoint
	batched []GatherBuffer
	single  []byte
}

func (c *sendContext) reset() {
	c.ep = endpoint.Endpoint{}
	c.batched = c.batched[:0]
	c.single = nil
}

func newContextPool() *pool.Pool[*sendContext] {
	return pool.New(func() *sendContext {
		return &sendContext{batched: make([]GatherBuffer, 0, 16)}
	})
}
