package atem

import (
	"sync"
	"time"
)

// fifoQueue is a plain, non-unique, order-preserving queue used for
// DirectQueueMessage traffic, which must never collapse (spec §4.4, §5c).
// It has no blocking take: consumers call TryPop and wait on the pending
// channel, mirroring uniqueQueue's notify-on-insert shape without the
// per-key collapsing.
type fifoQueue struct {
	mu      sync.Mutex
	items   [][]byte
	pending chan struct{}
	closed  bool
}

func newFIFOQueue() *fifoQueue {
	return &fifoQueue{pending: make(chan struct{}, 1)}
}

func (q *fifoQueue) Push(b []byte) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()
	select {
	case q.pending <- struct{}{}:
	default:
	}
}

// pushFront puts b back at the head of the queue; used when a drained
// item does not fit the current packet's MTU budget.
func (q *fifoQueue) pushFront(b []byte) {
	q.mu.Lock()
	q.items = append([][]byte{b}, q.items...)
	q.mu.Unlock()
}

func (q *fifoQueue) TryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	b := q.items[0]
	q.items = q.items[1:]
	return b, true
}

func (q *fifoQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fifoQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.pending <- struct{}{}:
	default:
	}
}

// TryTake pops the head key's current value without blocking. ok is false
// if the queue is empty.
func (q *uniqueQueue) TryTake() (v interface{}, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.order) > 0 {
		k := q.order[0]
		q.order = q.order[1:]
		val, present := q.values[k]
		delete(q.values, k)
		if present {
			return val, true
		}
		// See the note in Take: an invariant violation we skip past
		// rather than tolerate indefinitely.
	}
	return nil, false
}

// outboundScheduler is the outbound half of spec §4.4: a unique-keyed
// queue feeding a single packing worker, plus a plain FIFO for traffic
// that must not collapse.
type outboundScheduler struct {
	cfg     *Config
	conn    *ConnState
	sock    *socket
	unique  *uniqueQueue
	ready   *fifoQueue
	done    chan struct{}
	stopped chan struct{}
}

func newOutboundScheduler(cfg *Config, conn *ConnState, sock *socket) *outboundScheduler {
	return &outboundScheduler{
		cfg:     cfg,
		conn:    conn,
		sock:    sock,
		unique:  newUniqueQueue(),
		ready:   newFIFOQueue(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// SendCommand serializes cmd and enqueues it into the unique queue under
// its queue key, collapsing with any not-yet-sent update for that key
// (spec §4.4).
func (o *outboundScheduler) SendCommand(cmd Command) {
	block := AppendBlock(nil, cmd.Name(), cmd.Serialize())
	o.unique.Enqueue(cmd.QueueKey(), block)
}

// DirectQueueMessage bypasses the unique queue and appends cmd to the
// ready FIFO, which is strictly FIFO with respect to itself and may
// interleave with keyed commands (spec §4.4, §5c).
func (o *outboundScheduler) DirectQueueMessage(cmd Command) {
	block := AppendBlock(nil, cmd.Name(), cmd.Serialize())
	o.ready.Push(block)
}

// HasQueuedOutbound reports whether any command is waiting to be packed
// and sent, across both queues.
func (o *outboundScheduler) HasQueuedOutbound() bool {
	return o.unique.Len() > 0 || o.ready.Len() > 0
}

// run is the outbound worker's main loop (the "Send" thread of spec §5).
// It packs as many pending commands as fit under the MTU budget into one
// datagram, assigns a packet id, records retransmit bookkeeping, and
// hands the datagram to the socket; it also resends anything whose
// retransmit deadline has elapsed. While Timedout it parks. It never
// assigns a new packet id while Config.InFlightWindow outbound packets
// are already unacked, so a slow or silent peer bounds the retransmit
// table instead of growing it without limit (spec.md §3).
func (o *outboundScheduler) run() {
	defer close(o.stopped)

	for {
		select {
		case <-o.done:
			return
		default:
		}

		if o.conn.State() == stateTimedout {
			select {
			case <-o.done:
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}

		o.resendDue()

		sentSomething := false
		for o.conn.InFlightLen() < o.cfg.InFlightWindow {
			payload, ok := o.drainOnePacket()
			if !ok {
				break
			}
			o.sendDataPacket(payload)
			sentSomething = true
		}

		if !sentSomething {
			select {
			case <-o.done:
				return
			case <-o.ready.pending:
			case <-o.unique.pending:
			case <-time.After(500 * time.Microsecond):
			}
		}
	}
}

// drainOnePacket packs as many pending blocks as fit under
// Config.MaxPayloadBytes, preferring the ready FIFO over the unique queue
// so direct, non-collapsing traffic never starves behind a hot key.
func (o *outboundScheduler) drainOnePacket() (payload []byte, ok bool) {
	budget := o.cfg.MaxPayloadBytes

	for {
		b, have := o.ready.TryPop()
		if !have {
			break
		}
		if len(payload) > 0 && len(payload)+len(b) > budget {
			o.ready.pushFront(b)
			break
		}
		payload = append(payload, b...)
		ok = true
		if len(payload) >= budget {
			return payload, true
		}
	}

	for {
		v, have := o.unique.TryTake()
		if !have {
			break
		}
		b := v.([]byte)
		if len(payload) > 0 && len(payload)+len(b) > budget {
			// Can't fit alongside what's already packed; the key is no
			// longer pending (Take already removed it), so put the value
			// back as a fresh insertion rather than lose it.
			o.unique.Enqueue(newOverflowKey(), b)
			break
		}
		payload = append(payload, b...)
		ok = true
		if len(payload) >= budget {
			return payload, true
		}
	}

	return payload, ok
}

// overflowKeySeq disambiguates re-enqueued overflow blocks so they do not
// collide with (and collapse against) a real command's queue key.
var overflowKeySeq struct {
	mu  sync.Mutex
	val uint64
}

type overflowKey uint64

func newOverflowKey() overflowKey {
	overflowKeySeq.mu.Lock()
	defer overflowKeySeq.mu.Unlock()
	overflowKeySeq.val++
	return overflowKey(overflowKeySeq.val)
}

func (o *outboundScheduler) sendDataPacket(payload []byte) {
	id := o.conn.NextOutboundPktID()
	h := Header{
		Flags:      FlagAckRequest,
		SessionID:  o.conn.SessionID(),
		AckedPktID: o.conn.LastDelivered(),
		PktID:      id,
	}
	datagram := h.Bytes(payload)

	now := time.Now()
	o.conn.InsertRetransmit(id, datagram, now, o.cfg.RetransmitInterval)
	if err := o.sock.send(datagram); err != nil {
		sockLog.Printf("send data packet %d: %v", uint16(id), err)
	}
}

// resendDue resends every outbound record whose retransmit deadline has
// elapsed, refreshing the piggybacked ack to the current LastDelivered and
// setting IsRetransmit (spec §4.3, §8 property 4). A burst of more than
// one due record goes out through the socket's batched write path in a
// single syscall rather than one WriteTo per record.
func (o *outboundScheduler) resendDue() {
	due := o.conn.DueRetransmits(time.Now(), o.cfg.RetransmitInterval)
	if len(due) == 0 {
		return
	}

	lastDelivered := o.conn.LastDelivered()
	datagrams := make([][]byte, len(due))
	for i, rec := range due {
		setRetransmitFlag(rec.datagram)
		setAckedPktID(rec.datagram, lastDelivered)
		datagrams[i] = rec.datagram
	}

	if len(datagrams) == 1 {
		if err := o.sock.send(datagrams[0]); err != nil {
			sockLog.Printf("retransmit packet %d (attempt %d): %v", uint16(due[0].pktID), due[0].retryCount, err)
		}
		return
	}
	if err := o.sock.sendBatch(datagrams); err != nil {
		sockLog.Printf("retransmit burst of %d packets: %v", len(datagrams), err)
	}
}

func (o *outboundScheduler) stop() {
	close(o.done)
	<-o.stopped
	o.unique.Close()
	o.ready.Close()
}

// setRetransmitFlag ORs FlagIsRetransmit into an already-serialized
// datagram's flags+length field in place.
func setRetransmitFlag(datagram []byte) {
	v := uint16(datagram[0])<<8 | uint16(datagram[1])
	v |= uint16(FlagIsRetransmit) << 11
	datagram[0] = byte(v >> 8)
	datagram[1] = byte(v)
}

// setAckedPktID overwrites the AckedPktID field of an already-serialized
// datagram in place.
func setAckedPktID(datagram []byte, acked PacketID) {
	datagram[4] = byte(uint16(acked) >> 8)
	datagram[5] = byte(uint16(acked))
}
