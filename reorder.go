package atem

import "sync"

// reorderBuffer stages out-of-order inbound packets keyed by packet id and
// releases them to the caller once their id becomes contiguous with the
// last delivered id, per spec §4.3. A packet whose id is at-or-before the
// last delivered id is a duplicate; Accept reports that separately so the
// caller can still ack it while dropping its payload.
type reorderBuffer struct {
	mu       sync.Mutex
	started  bool // whether lastDone has been initialized by the first packet seen
	lastDone PacketID
	pending  map[PacketID][]byte
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: make(map[PacketID][]byte)}
}

// Accept records an inbound data packet. It returns the run of payloads
// now ready for in-order delivery (possibly empty if id is buffered ahead
// of a gap), and dup=true if id was already delivered (its payload is
// discarded; the caller still owes it an ack).
func (b *reorderBuffer) Accept(id PacketID, payload []byte) (ready [][]byte, dup bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		// The first packet of a session defines the baseline: treat it
		// as immediately next by pretending the prior id was id-1.
		b.lastDone = id - 1
		b.started = true
	}

	if !id.AtOrAfter(b.lastDone.Next()) {
		return nil, true
	}

	b.pending[id] = payload

	for {
		next := b.lastDone.Next()
		p, ok := b.pending[next]
		if !ok {
			break
		}
		delete(b.pending, next)
		ready = append(ready, p)
		b.lastDone = next
	}
	return ready, false
}

// LastDelivered returns the id of the most recently released packet; used
// as acked_pkt_id when an ack is sent.
func (b *reorderBuffer) LastDelivered() PacketID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastDone
}

// Reset clears all buffered packets and forgets the baseline (used on
// session reset/reconnect).
func (b *reorderBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = make(map[PacketID][]byte)
	b.started = false
}
