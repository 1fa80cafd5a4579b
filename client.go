package atem

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// VersionCommand is implemented by whichever command type the switcher
// uses to advertise its protocol version early in the session (spec §6).
// The dispatcher checks every decoded command for this interface and, if
// it matches, records the version regardless of whether the
// DataTransferHandler also claims the command.
type VersionCommand interface {
	Command
	ProtocolVersion() uint16
}

// Client is the public surface of the networking core (spec §6): it owns
// the socket, the transport state machine, the outbound scheduler, and
// the receive dispatcher, and drives them across the four worker
// goroutines described in spec §5.
type Client struct {
	id uuid.UUID // log-tag only, never sent on the wire

	cfg Config

	sock *socket
	conn *ConnState
	out  *outboundScheduler

	registry *CodecRegistry
	handler  DataTransferHandler

	version atomic.Uint32 // ConnectionVersion, negotiated by VersionCommand

	deliverQueue *fifoQueueAny // decoded-ready payloads awaiting dispatch
	disp         *dispatcher

	connMu         sync.Mutex
	connectStarted bool

	callbacksMu     sync.RWMutex
	onReceive       func([]Command)
	onConnected     func()
	onDisconnected  func()
	onReceivePacket func(Header)

	done    chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// fifoQueueAny is a type alias of fifoQueue, used for the delivery queue:
// there it holds reorder-released inbound payloads rather than outbound
// command blocks.
type fifoQueueAny = fifoQueue

// NewClient constructs a Client bound to address (host:port or host, in
// which case SwitcherPort is assumed) with the given registry and
// optional data-transfer handler. If autoConnect is true, Connect is
// called immediately. Matches spec §6: "Construct with (address,
// auto_connect)".
func NewClient(address string, autoConnect bool, registry *CodecRegistry, handler DataTransferHandler, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	remote, err := resolveSwitcherAddr(address)
	if err != nil {
		return nil, errors.Wrap(err, "atem: resolve switcher address")
	}

	sock, err := newSocket(remote, cfg.RecvBufferBytes)
	if err != nil {
		return nil, err
	}

	conn := NewConnState(remote, cfg.InFlightWindow)
	out := newOutboundScheduler(&cfg, conn, sock)

	c := &Client{
		id:           uuid.New(),
		cfg:          cfg,
		sock:         sock,
		conn:         conn,
		out:          out,
		registry:     registry,
		handler:      handler,
		deliverQueue: newFIFOQueue(),
		done:         make(chan struct{}),
	}
	c.disp = newDispatcher(registry, handler, c.ConnectionVersion, c.deliverBatch)

	if autoConnect {
		c.Connect()
	}
	return c, nil
}

func resolveSwitcherAddr(address string) (*net.UDPAddr, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host = address
		port = strconv.Itoa(SwitcherPort)
	}
	return net.ResolveUDPAddr("udp4", net.JoinHostPort(host, port))
}

// deliverBatch is the dispatcher's onReceive hook; it fans out to the
// user's callback if one is registered.
func (c *Client) deliverBatch(cmds []Command) {
	c.callbacksMu.RLock()
	cb := c.onReceive
	c.callbacksMu.RUnlock()
	if cb != nil {
		cb(cmds)
	}
}

// OnReceive registers the callback invoked with each batch of commands the
// DataTransferHandler did not claim. Invoked on the dispatch worker's own
// goroutine (spec §4.5): application code must not block it for long.
func (c *Client) OnReceive(f func([]Command)) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.onReceive = f
}

// OnConnected registers the callback fired when the session reaches
// Established, including after a reconnect.
func (c *Client) OnConnected(f func()) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.onConnected = f
}

// OnDisconnected registers the callback fired when a previously
// Established session times out.
func (c *Client) OnDisconnected(f func()) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.onDisconnected = f
}

// OnReceivePacket registers a raw, protocol-level observer invoked with
// every successfully parsed transport header, independent of payload
// decode outcome (spec §6).
func (c *Client) OnReceivePacket(f func(Header)) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.onReceivePacket = f
}

func (c *Client) fireConnected() {
	c.callbacksMu.RLock()
	cb := c.onConnected
	c.callbacksMu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) fireDisconnected() {
	c.callbacksMu.RLock()
	cb := c.onDisconnected
	c.callbacksMu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) fireReceivePacket(h Header) {
	c.callbacksMu.RLock()
	cb := c.onReceivePacket
	c.callbacksMu.RUnlock()
	if cb != nil {
		cb(h)
	}
}

// ConnectionVersion returns the protocol version most recently advertised
// by the switcher, or 0 before negotiation completes.
func (c *Client) ConnectionVersion() uint16 {
	return uint16(c.version.Load())
}

func (c *Client) setVersion(v uint16) {
	c.version.Store(uint32(v))
}

// Connect starts the handshake and the four worker goroutines. It is
// idempotent: calling it again while already connecting or connected
// returns false (spec §6).
func (c *Client) Connect() bool {
	c.connMu.Lock()
	if c.connectStarted {
		c.connMu.Unlock()
		return false
	}
	c.connectStarted = true
	c.connMu.Unlock()

	connLog.Printf("[%s] connecting to %s", c.id, c.conn.Remote())

	datagram := c.conn.BeginHandshake()
	if err := c.sock.send(datagram); err != nil {
		connLog.Printf("send handshake: %v", err)
	}

	c.disp.onVersion = c.setVersion

	c.wg.Add(4)
	go c.receiveLoop()
	go c.dispatchLoop()
	go func() { defer c.wg.Done(); c.out.run() }()
	go c.timerLoop()

	return true
}

// SendCommand serializes cmd and enqueues it for transmission, collapsing
// with any not-yet-sent update sharing its queue key (spec §4.4, §6).
func (c *Client) SendCommand(cmd Command) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.out.SendCommand(cmd)
	return nil
}

// DirectQueueMessage enqueues cmd for transmission without deduplication,
// for control traffic that must not be collapsed (spec §4.4, §6).
func (c *Client) DirectQueueMessage(cmd Command) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.out.DirectQueueMessage(cmd)
	return nil
}

// HasQueuedOutbound reports whether any command is waiting to be sent,
// including ones already packed but not yet acked.
func (c *Client) HasQueuedOutbound() bool {
	return c.out.HasQueuedOutbound() || c.conn.InFlightLen() > 0
}

// RoundTripTime returns the smoothed RTT estimate and whether a sample
// has been taken yet.
func (c *Client) RoundTripTime() (srtt, rttvar time.Duration, ok bool) {
	return c.conn.RTT()
}

// Dispose tears the client down: it cancels all four workers, closes the
// socket, and invokes the DataTransferHandler's teardown hook. Idempotent
// (spec §5 Cancellation).
func (c *Client) Dispose() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(c.done)
	c.out.stop()

	if c.conn.State() == stateEstablished {
		// Best-effort: the protocol defines no explicit disconnect flag,
		// so an ordinary ack-only datagram lets the switcher's session
		// table free promptly instead of only timing out server-side.
		_ = c.sock.send(buildAck(c.conn.SessionID(), c.conn.LastDelivered()))
	}

	c.deliverQueue.Close()
	_ = c.sock.close()
	c.wg.Wait()

	c.conn.Close()
	if c.handler != nil {
		c.handler.Dispose()
	}
	return nil
}

// receiveLoop is the "Receive" thread of spec §5: it blocks on the
// socket, feeds ConnState, and pushes reorder-released payloads onto the
// delivery queue for the dispatch thread to decode.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, 1<<16)
	for {
		n, _, err := c.sock.recv(buf)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			sockLog.Printf("recv: %v", err)
			continue
		}
		c.handleDatagram(buf[:n])
	}
}

func (c *Client) handleDatagram(buf []byte) {
	h, err := ParseHeader(buf)
	if err != nil {
		return
	}
	if h.Length != len(buf) {
		if Debug {
			sockLog.Printf("header length %d disagrees with datagram length %d, dropping", h.Length, len(buf))
		}
		return
	}

	now := time.Now()
	c.conn.NoteRecv(now)
	c.fireReceivePacket(h)

	immediateAckSent := false
	if h.Has(FlagInit) {
		c.conn.AdoptSessionID(h.SessionID)
		becameEstablished := c.conn.CompleteHandshake(h.PktID)
		if c.handler != nil {
			c.handler.Reset()
		}
		if err := c.sock.send(buildAck(c.conn.SessionID(), c.conn.LastDelivered())); err != nil {
			sockLog.Printf("send handshake ack: %v", err)
		}
		immediateAckSent = true
		if becameEstablished {
			c.fireConnected()
		}
	} else if h.SessionID != c.conn.SessionID() {
		if c.conn.AdoptSessionID(h.SessionID) {
			connLog.Printf("adopted session id %#04x from peer", h.SessionID)
		}
	}

	if h.Has(FlagAck) {
		c.conn.ApplyAck(h.AckedPktID, now)
	}

	if h.Has(FlagRequestRetransmit) {
		connLog.Printf("peer requested retransmit (unhandled by design, reorder buffer gap-fills)")
	}

	if h.Length > HeaderSize {
		// buf is the receive thread's single reused buffer; AcceptInbound may
		// hold this slice in the reorder buffer past this call (out-of-order
		// arrival) and the dispatch thread reads it from another goroutine, so
		// it must be copied before it can outlive this iteration of the loop.
		payload := append([]byte(nil), buf[HeaderSize:h.Length]...)
		ready, _ := c.conn.AcceptInbound(h.PktID, payload)
		for _, p := range ready {
			c.deliverQueue.Push(p)
		}
	}

	if h.Has(FlagAckRequest) && !immediateAckSent {
		c.conn.MarkAckOwed()
	}
}

// dispatchLoop is the "Handle/Dispatch" thread of spec §5: it blocks on
// the delivery queue and decodes whatever the receive thread has made
// available, in order.
func (c *Client) dispatchLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.deliverQueue.pending:
		}

		var batch [][]byte
		for {
			p, ok := c.deliverQueue.TryPop()
			if !ok {
				break
			}
			batch = append(batch, p)
		}
		if len(batch) > 0 {
			c.disp.dispatchPayloads(batch)
		}

		select {
		case <-c.done:
			return
		default:
		}
	}
}

// timerLoop folds the ack-coalescing and liveness duties into one "Timer"
// thread (spec §5 lists "Timer(s)" as a single logical duty bucket); it
// ticks at the finer of AckInterval and a tenth of TimeoutInterval and
// checks both each tick.
func (c *Client) timerLoop() {
	defer c.wg.Done()

	tickInterval := c.cfg.AckInterval
	if c.cfg.TimeoutInterval/10 < tickInterval {
		tickInterval = c.cfg.TimeoutInterval / 10
	}
	if tickInterval <= 0 {
		tickInterval = time.Millisecond
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastAckFlush := time.Now()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			if now.Sub(lastAckFlush) >= c.cfg.AckInterval && c.conn.TakeAckOwed() {
				lastAckFlush = now
				if err := c.sock.send(buildAck(c.conn.SessionID(), c.conn.LastDelivered())); err != nil {
					sockLog.Printf("send coalesced ack: %v", err)
				}
			}

			if timedOut, wasEstablished := c.conn.CheckTimeout(now, c.cfg.TimeoutInterval); timedOut {
				if wasEstablished {
					c.fireDisconnected()
				}
				datagram := c.conn.BeginHandshake()
				if err := c.sock.send(datagram); err != nil {
					connLog.Printf("resend handshake after timeout: %v", err)
				}
			}
		}
	}
}
