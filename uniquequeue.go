package atem

import "sync"

// uniqueQueue is an order-preserving queue that stores at most one value
// per key. Enqueue on an already-pending key overwrites the stored value
// in place without changing its position; Take blocks until a key is
// available and returns the latest value written for the head key.
//
// This is the "unique-keyed queue" of spec §3/§4.4/§8: bursts of state
// updates for the same logical control collapse to a single transmission
// of the latest value, while distinct keys keep FIFO order of first
// appearance.
type uniqueQueue struct {
	mu      sync.Mutex
	values  map[interface{}]interface{}
	order   []interface{}
	pending chan struct{}
	closed  bool
}

func newUniqueQueue() *uniqueQueue {
	return &uniqueQueue{
		values:  make(map[interface{}]interface{}),
		pending: make(chan struct{}, 1),
	}
}

// Enqueue stores v under k. If k is already pending its value is replaced
// without moving it in the order; otherwise k is appended to the order and
// a waiting Take is woken.
func (q *uniqueQueue) Enqueue(k, v interface{}) {
	q.mu.Lock()
	_, pending := q.values[k]
	q.values[k] = v
	if !pending {
		q.order = append(q.order, k)
	}
	q.mu.Unlock()

	if !pending {
		q.notify()
	}
}

func (q *uniqueQueue) notify() {
	select {
	case q.pending <- struct{}{}:
	default:
	}
}

// Take blocks until a key is pending (or the queue is closed, in which
// case ok is false) and returns the current value of the head key.
func (q *uniqueQueue) Take(cancel <-chan struct{}) (v interface{}, ok bool) {
	for {
		q.mu.Lock()
		if len(q.order) > 0 {
			k := q.order[0]
			q.order = q.order[1:]
			v, present := q.values[k]
			delete(q.values, k)
			q.mu.Unlock()
			if !present {
				// The invariant that every queued key has a value is
				// maintained by Enqueue/Take acting under the same lock;
				// this path is unreachable and is not retried (spec §9a).
				continue
			}
			return v, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-q.pending:
		case <-cancel:
			return nil, false
		}
	}
}

// Len reports how many distinct keys are currently pending.
func (q *uniqueQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Close marks the queue closed and wakes any blocked Take.
func (q *uniqueQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}
