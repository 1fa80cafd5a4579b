package atem

import (
	"math/rand"
	"net"
	"time"
)

// stateKind enumerates the transport state machine's states, per spec
// §4.3: Fresh -> Handshaking -> Established -> Timedout -> (reconnect)
// Handshaking, with Dispose moving to the terminal Closed from any state.
type stateKind int

const (
	stateFresh stateKind = iota
	stateHandshaking
	stateEstablished
	stateTimedout
	stateClosed
)

func (s stateKind) String() string {
	switch s {
	case stateFresh:
		return "fresh"
	case stateHandshaking:
		return "handshaking"
	case stateEstablished:
		return "established"
	case stateTimedout:
		return "timedout"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session holds the per-session data named in spec §3. It is mutated only
// while ConnState's lock is held (see conn.go).
type session struct {
	remote net.Addr

	id uint16 // 15-bit session id; peer's choice on first reply overrides ours

	nextOutboundPktID PacketID // next id to assign to an outbound data packet
	lastRemotePktID   PacketID // peer's pkt id from its handshake reply; later ids are tracked by the reorder buffer

	initComplete bool
	lastRecv     time.Time

	// timing statistics (spec §3: "timing statistics"), an EWMA RTT
	// sample updated on every ack, following the shape of the teacher's
	// GetRTO/GetSRTT/GetSRTTVar accessors on UDPSession.
	srtt    time.Duration
	rttvar  time.Duration
	haveRTT bool
}

// newRandomSessionID returns a random id in the protocol's 15-bit range.
func newRandomSessionID() uint16 {
	return uint16(rand.Intn(1 << 15))
}

func newSession(remote net.Addr) *session {
	return &session{
		remote: remote,
		id:     newRandomSessionID(),
	}
}

// resetForReconnect discards session progress but keeps the remote
// address, choosing a fresh random session id (spec §4.3 Liveness).
func (s *session) resetForReconnect() {
	s.id = newRandomSessionID()
	s.nextOutboundPktID = 0
	s.lastRemotePktID = 0
	s.initComplete = false
}

// sampleRTT folds a new round-trip observation into the smoothed estimate
// using the same EWMA shape TCP/KCP implementations use: srtt moves 1/8 of
// the way toward each sample, rttvar moves 1/4 of the way toward the
// absolute deviation.
func (s *session) sampleRTT(sample time.Duration) {
	if !s.haveRTT {
		s.srtt = sample
		s.rttvar = sample / 2
		s.haveRTT = true
		return
	}
	delta := sample - s.srtt
	if delta < 0 {
		delta = -delta
	}
	s.rttvar += (delta - s.rttvar) / 4
	s.srtt += (sample - s.srtt) / 8
}
