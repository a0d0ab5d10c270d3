// Package stats holds the device-wide counters the send and receive paths
// update. Exporting them (Prometheus, HTTP, logs) is the explicitly
// out-of-scope "statistics export" collaborator; this package only
// accumulates the numbers, modeled on the teacher's DNSStats.
package stats

import "sync/atomic"

// Counters collects device-wide byte/packet/discard counters. All methods
// are safe for concurrent use.
type Counters struct {
	txBytes      atomic.Uint64
	rxBytes      atomic.Uint64
	unicastOut   atomic.Uint64
	inDiscards   atomic.Uint64
	sendFailures atomic.Uint64
}

// AddTxBytes records n bytes sent and one unicast-out packet.
func (c *Counters) AddTxBytes(n uint64) {
	c.txBytes.Add(n)
	c.unicastOut.Add(1)
}

// AddRxBytes records n bytes received.
func (c *Counters) AddRxBytes(n uint64) {
	c.rxBytes.Add(n)
}

// AddInDiscards records n receive-path discards. The receive path counts an
// oversized indication, an indication whose source address cannot be read,
// and one without a usable control message. A receive call refused because
// the device is down or the socket's rundown is draining reads nothing and
// counts no discard.
func (c *Counters) AddInDiscards(n uint64) {
	c.inDiscards.Add(n)
}

// AddSendFailure records one asynchronous send completion failure.
func (c *Counters) AddSendFailure() {
	c.sendFailures.Add(1)
}

// Snapshot is a point-in-time read of every counter.
type Snapshot struct {
	TxBytes      uint64
	RxBytes      uint64
	UnicastOut   uint64
	InDiscards   uint64
	SendFailures uint64
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		TxBytes:      c.txBytes.Load(),
		RxBytes:      c.rxBytes.Load(),
		UnicastOut:   c.unicastOut.Load(),
		InDiscards:   c.inDiscards.Load(),
		SendFailures: c.sendFailures.Load(),
	}
}
