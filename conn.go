package atem

import (
	"net"
	"sync"
	"time"
)

// ConnState is the transport state machine of spec §4.3: it owns the
// session, the retransmit table, and the reorder buffer, and is the single
// shared mutable resource the receive, send, and timer activities all
// touch (spec §5). All mutators take connLock for the minimum region
// required: pkt id assignment, retransmit table insertion/removal,
// session id replacement, and timeout evaluation.
type ConnState struct {
	connLock sync.Mutex

	state   stateKind
	sess    *session
	retrans *retransmitTable
	window  int

	ackOwed bool // an AckRequest has been seen since the last ack was sent

	establishedOnce bool // whether Established was reached since the last timeout, gates on_disconnected

	reorder *reorderBuffer // internally synchronized, spec §5
}

// NewConnState constructs a fresh ConnState in state Fresh toward remote.
func NewConnState(remote net.Addr, window int) *ConnState {
	return &ConnState{
		state:   stateFresh,
		sess:    newSession(remote),
		retrans: newRetransmitTable(),
		window:  window,
		reorder: newReorderBuffer(),
	}
}

// State reports the current state.
func (c *ConnState) State() stateKind {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.state
}

// SessionID returns the locally-held session id (ours until the peer
// overrides it on handshake reply, spec §3).
func (c *ConnState) SessionID() uint16 {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.sess.id
}

// BeginHandshake transitions Fresh/Timedout -> Handshaking and returns the
// fixed 20-byte handshake datagram to send, per spec §4.3. It stamps
// lastRecv to now so CheckTimeout's liveness clock starts fresh for this
// attempt: without this, a session that has never heard from the peer (or
// that just timed out) would see the same stale lastRecv on every
// subsequent tick and either never detect a first-contact timeout (it is
// still zero) or report one on every tick instead of once per
// TimeoutInterval.
func (c *ConnState) BeginHandshake() []byte {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	c.state = stateHandshaking
	c.sess.lastRecv = time.Now()
	return buildHandshake(c.sess.id)
}

// AdoptSessionID overrides the locally-held session id with one carried
// by an inbound datagram, per spec §3/§4.3 ("Session id drift"). It is a
// no-op if id already matches. Reports whether an adoption happened, so
// the caller can log it.
func (c *ConnState) AdoptSessionID(id uint16) bool {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.sess.id == id {
		return false
	}
	c.sess.id = id
	return true
}

// CompleteHandshake marks the session established on a reply carrying
// FlagInit, resetting the reorder buffer and priming LastDelivered with
// the peer's handshake pkt id so the immediate ack acknowledges it. Returns
// true the first time this fires for the current handshake attempt (used
// to decide whether to fire on_connected).
func (c *ConnState) CompleteHandshake(peerPktID PacketID) bool {
	c.connLock.Lock()
	wasEstablished := c.state == stateEstablished
	c.state = stateEstablished
	c.sess.initComplete = true
	c.sess.lastRemotePktID = peerPktID
	c.establishedOnce = true
	c.connLock.Unlock()

	c.reorder.Reset()
	// The baseline stays unset, so the first data packet that follows is
	// still accepted as the start of the stream.
	c.reorder.mu.Lock()
	c.reorder.lastDone = peerPktID
	c.reorder.mu.Unlock()
	return !wasEstablished
}

// NoteRecv records that a datagram was just received from the peer, for
// liveness tracking (spec §4.3 Liveness).
func (c *ConnState) NoteRecv(now time.Time) {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	c.sess.lastRecv = now
}

// MarkAckOwed records that an inbound packet requested an ack (spec §4.3
// Ack emission); the ack timer consults TakeAckOwed to decide whether to
// flush one.
func (c *ConnState) MarkAckOwed() {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	c.ackOwed = true
}

// TakeAckOwed reports and clears whether an ack is owed.
func (c *ConnState) TakeAckOwed() bool {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	owed := c.ackOwed
	c.ackOwed = false
	return owed
}

// AcceptInbound feeds a data-bearing packet into the reorder buffer. The
// reorder buffer has its own lock (spec §5), so this does not need
// connLock.
func (c *ConnState) AcceptInbound(id PacketID, payload []byte) (ready [][]byte, dup bool) {
	return c.reorder.Accept(id, payload)
}

// LastDelivered is the id to carry as acked_pkt_id in outbound acks.
func (c *ConnState) LastDelivered() PacketID {
	return c.reorder.LastDelivered()
}

// NextOutboundPktID assigns and returns the next outbound data packet id,
// advancing the session's counter (spec §4.3 Ack and retransmit).
func (c *ConnState) NextOutboundPktID() PacketID {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	id := c.sess.nextOutboundPktID
	c.sess.nextOutboundPktID = id.Next()
	return id
}

// InsertRetransmit records a newly-sent outbound data packet into the
// retransmit table under connLock, per spec §5.
func (c *ConnState) InsertRetransmit(id PacketID, datagram []byte, now time.Time, interval time.Duration) {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	c.retrans.Insert(&outboundRecord{
		pktID:     id,
		datagram:  datagram,
		firstSend: now,
		deadline:  now.Add(interval),
	})
}

// InFlightLen reports how many outbound data packets are currently
// unacked, for the outbound worker's in-flight window check and
// HasQueuedOutbound.
func (c *ConnState) InFlightLen() int {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.retrans.Len()
}

// ApplyAck removes every in-flight record covered by an inbound ack and
// folds a round-trip sample from each covered record that was never
// retransmitted into the smoothed RTT estimate.
func (c *ConnState) ApplyAck(acked PacketID, now time.Time) []*outboundRecord {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	covered := c.retrans.AckCovered(acked, c.window)
	for _, rec := range covered {
		if rec.retryCount == 0 {
			c.sess.sampleRTT(now.Sub(rec.firstSend))
		}
	}
	return covered
}

// DueRetransmits returns the outbound records whose retransmit deadline
// has elapsed, advancing their deadlines and retry counts.
func (c *ConnState) DueRetransmits(now time.Time, interval time.Duration) []*outboundRecord {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.retrans.DueForRetransmit(now, interval)
}

// CheckTimeout evaluates liveness: if now-lastRecv exceeds timeout while
// Established or Handshaking, transitions to Timedout and returns true.
// wasEstablished reports whether Established was reached since the
// previous timeout, so the caller only fires on_disconnected once per
// connected period.
func (c *ConnState) CheckTimeout(now time.Time, timeout time.Duration) (timedOut, wasEstablished bool) {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.state == stateClosed || c.state == stateTimedout {
		return false, false
	}
	if c.sess.lastRecv.IsZero() || now.Sub(c.sess.lastRecv) <= timeout {
		return false, false
	}

	wasEstablished = c.establishedOnce
	c.establishedOnce = false
	c.state = stateTimedout
	c.sess.resetForReconnect()
	c.retrans.Reset()
	return true, wasEstablished
}

// RTT returns the smoothed round-trip time estimate and whether any
// sample has been taken yet.
func (c *ConnState) RTT() (srtt, rttvar time.Duration, ok bool) {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.sess.srtt, c.sess.rttvar, c.sess.haveRTT
}

// Close moves the state machine to its terminal Closed state. Idempotent.
func (c *ConnState) Close() {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	c.state = stateClosed
}

// Remote returns the switcher's network address.
func (c *ConnState) Remote() net.Addr {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.sess.remote
}
