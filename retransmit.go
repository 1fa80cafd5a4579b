package atem

import "time"

// outboundRecord is one entry of the retransmit table: the serialized
// datagram for a packet id, its bookkeeping, and the deadline by which it
// must be resent if unacked.
type outboundRecord struct {
	pktID      PacketID
	datagram   []byte
	firstSend  time.Time
	deadline   time.Time
	retryCount int
}

// retransmitTable maps outbound packet id to its outboundRecord. Ids are
// inserted in assignment order; entries are removed exactly once, when an
// ack covering the id arrives. Bounded by Config.InFlightWindow.
//
// retransmitTable is not self-synchronized: per spec §5, pkt id
// assignment and retransmit table insertion/removal share the
// connection-level lock in ConnState, so callers always hold that lock
// while calling into this type.
type retransmitTable struct {
	records map[PacketID]*outboundRecord
	order   []PacketID // assignment order, for window accounting and iteration
}

func newRetransmitTable() *retransmitTable {
	return &retransmitTable{records: make(map[PacketID]*outboundRecord)}
}

// Insert adds a new in-flight record. id must not already be present.
func (t *retransmitTable) Insert(rec *outboundRecord) {
	t.records[rec.pktID] = rec
	t.order = append(t.order, rec.pktID)
}

// Len reports how many packets are currently in flight.
func (t *retransmitTable) Len() int { return len(t.records) }

// AckCovered removes and returns every in-flight record covered by an ack
// carrying acked, per the window rule of spec §4.3: (acked - i) mod 2^15 <
// window.
func (t *retransmitTable) AckCovered(acked PacketID, window int) []*outboundRecord {
	var covered []*outboundRecord
	remaining := t.order[:0:0]
	for _, id := range t.order {
		if rec, ok := t.records[id]; ok {
			if coveredBy(id, acked, window) {
				covered = append(covered, rec)
				delete(t.records, id)
				continue
			}
		}
		remaining = append(remaining, id)
	}
	t.order = remaining
	return covered
}

// DueForRetransmit returns, and advances the deadline of, every in-flight
// record whose deadline has elapsed as of now. The caller is responsible
// for actually resending the datagram with IsRetransmit set; this only
// performs the bookkeeping (retry count, deadline) described in spec §4.3.
func (t *retransmitTable) DueForRetransmit(now time.Time, interval time.Duration) []*outboundRecord {
	var due []*outboundRecord
	for _, id := range t.order {
		rec, ok := t.records[id]
		if !ok {
			continue
		}
		if !now.Before(rec.deadline) {
			rec.retryCount++
			rec.deadline = now.Add(interval)
			due = append(due, rec)
		}
	}
	return due
}

// Reset empties the table, discarding all in-flight records (used on
// timeout-driven reconnect, spec §4.3).
func (t *retransmitTable) Reset() {
	t.records = make(map[PacketID]*outboundRecord)
	t.order = nil
}
