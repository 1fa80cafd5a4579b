package atem

import (
	"bytes"
	"encoding/binary"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a concurrency-safe io.Writer, needed because sockLog,
// connLog, and dispatchLog are independent *log.Logger values that would
// otherwise interleave unsynchronized writes to a shared bytes.Buffer when
// redirected to the same destination for a test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// testCmd is a minimal Command used only by these tests; real command
// types live in a separate package built against this core.
type testCmd struct {
	name [4]byte
	body []byte
}

func (c *testCmd) Name() [4]byte        { return c.name }
func (c *testCmd) Serialize() []byte    { return c.body }
func (c *testCmd) QueueKey() interface{} { return c.name }

type versionCmd struct{ version uint16 }

var versionCmdName = [4]byte{'_', 'v', 'e', 'r'}

func (v *versionCmd) Name() [4]byte         { return versionCmdName }
func (v *versionCmd) Serialize() []byte     { return nil }
func (v *versionCmd) QueueKey() interface{} { return versionCmdName }
func (v *versionCmd) ProtocolVersion() uint16 { return v.version }

func decodeVersion(body []byte) (Command, int, error) {
	if len(body) < 2 {
		return nil, 0, ErrMalformedBlock
	}
	return &versionCmd{version: binary.BigEndian.Uint16(body[:2])}, 2, nil
}

func decodeEcho(body []byte) (Command, int, error) {
	return &testCmd{name: [4]byte{'E', 'c', 'h', 'o'}, body: body}, len(body), nil
}

func testRegistry() *CodecRegistry {
	r := NewCodecRegistry()
	r.Register(CommandType{Name: versionCmdName, Version: 0, Decode: decodeVersion})
	r.Register(CommandType{Name: [4]byte{'E', 'c', 'h', 'o'}, Version: 0, Decode: decodeEcho, AllowsTrailingBytes: true})
	return r
}

func fastTestConfig() Config {
	return Config{
		AckInterval:        5 * time.Millisecond,
		RetransmitInterval: 25 * time.Millisecond,
		TimeoutInterval:    250 * time.Millisecond,
		InFlightWindow:     16,
		MaxPayloadBytes:    1200,
		RecvBufferBytes:    8 * 1024,
	}
}

// fakeSwitcher is a scripted UDP peer standing in for the real hardware.
type fakeSwitcher struct {
	conn      *net.UDPConn
	sessionID uint16
	peer      *net.UDPAddr // the client's ephemeral source address, learned on first datagram
	nextPktID PacketID
}

func newFakeSwitcher(t *testing.T) *fakeSwitcher {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeSwitcher{conn: conn, sessionID: 0x5678, nextPktID: 1}
}

func (f *fakeSwitcher) addr() string { return f.conn.LocalAddr().String() }

func (f *fakeSwitcher) close() { f.conn.Close() }

// recv blocks for the next datagram and records the peer address.
func (f *fakeSwitcher) recv(t *testing.T) Header {
	buf := make([]byte, 2048)
	n, from, err := f.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("fake switcher recv: %v", err)
	}
	f.peer = from
	h, err := ParseHeader(buf[:n])
	if err != nil {
		t.Fatalf("fake switcher parse: %v", err)
	}
	return h
}

func (f *fakeSwitcher) sendHandshakeReply(payload []byte) {
	h := Header{Flags: FlagInit | FlagAckRequest, SessionID: f.sessionID, PktID: f.nextPktID}
	f.nextPktID = f.nextPktID.Next()
	f.conn.WriteTo(h.Bytes(payload), f.peer)
}

func (f *fakeSwitcher) sendAck(acked PacketID) {
	f.conn.WriteTo(buildAck(f.sessionID, acked), f.peer)
}

// sendDataPacket sends one in-order data datagram carrying payload and
// advances the switcher's own outbound pkt id counter.
func (f *fakeSwitcher) sendDataPacket(payload []byte) {
	h := Header{Flags: FlagAckRequest, SessionID: f.sessionID, PktID: f.nextPktID}
	f.nextPktID = f.nextPktID.Next()
	f.conn.WriteTo(h.Bytes(payload), f.peer)
}

// recvDataPacket skips header-only datagrams (pure acks) and returns the
// next one carrying a payload, so tests are not tripped up by the
// client's own handshake/ack traffic interleaving with its data sends.
func (f *fakeSwitcher) recvDataPacket(t *testing.T) Header {
	for {
		h := f.recv(t)
		if h.Length > HeaderSize {
			return h
		}
	}
}

func TestClientHandshakeAndVersionNegotiation(t *testing.T) {
	sw := newFakeSwitcher(t)
	defer sw.close()

	registry := testRegistry()
	client, err := NewClient(sw.addr(), false, registry, nil, fastTestConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Dispose()

	connected := make(chan struct{}, 1)
	received := make(chan []Command, 1)
	client.OnConnected(func() { connected <- struct{}{} })
	client.OnReceive(func(cmds []Command) { received <- cmds })

	if !client.Connect() {
		t.Fatalf("Connect returned false on first call")
	}
	if client.Connect() {
		t.Fatalf("Connect returned true on second call, want idempotent false")
	}

	h := sw.recv(t)
	if !h.Has(FlagInit) {
		t.Fatalf("client's first datagram should carry FlagInit")
	}

	var payload []byte
	verBody := make([]byte, 2)
	binary.BigEndian.PutUint16(verBody, 7)
	payload = AppendBlock(payload, versionCmdName, verBody)
	sw.sendHandshakeReply(payload)

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatalf("on_connected never fired")
	}

	select {
	case cmds := <-received:
		if len(cmds) != 1 {
			t.Fatalf("received %d commands, want 1", len(cmds))
		}
	case <-time.After(time.Second):
		t.Fatalf("on_receive never fired")
	}

	if client.ConnectionVersion() != 7 {
		t.Fatalf("ConnectionVersion = %d, want 7", client.ConnectionVersion())
	}

	// The fake switcher's handshake reply set AckRequest; the client acks
	// it immediately on handshake completion, so the ack is the next
	// datagram after the handshake.
	sw.conn.SetReadDeadline(time.Now().Add(time.Second))
	ackHdr := sw.recv(t)
	if !ackHdr.Has(FlagAck) {
		t.Fatalf("expected an ack datagram from the client, got flags %#x", ackHdr.Flags)
	}
}

func TestClientSendCommandIsAckedAndRetransmittedWhenDropped(t *testing.T) {
	sw := newFakeSwitcher(t)
	defer sw.close()

	registry := testRegistry()
	client, err := NewClient(sw.addr(), true, registry, nil, fastTestConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Dispose()

	sw.recv(t) // the initial handshake
	sw.sendHandshakeReply(nil)

	if err := client.SendCommand(&testCmd{name: [4]byte{'C', 'P', 'g', 'I'}, body: []byte{1}}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	sw.conn.SetReadDeadline(time.Now().Add(time.Second))
	first := sw.recvDataPacket(t)
	if first.Has(FlagIsRetransmit) {
		t.Fatalf("first send should not carry IsRetransmit")
	}

	// Deliberately drop the first transmission's ack and wait for the
	// retransmit deadline; the resend must carry IsRetransmit with the
	// same pkt id.
	sw.conn.SetReadDeadline(time.Now().Add(time.Second))
	second := sw.recvDataPacket(t)
	if !second.Has(FlagIsRetransmit) {
		t.Fatalf("resend should carry IsRetransmit")
	}
	if second.PktID != first.PktID {
		t.Fatalf("resend pkt id = %d, want %d (same as original)", second.PktID, first.PktID)
	}

	sw.sendAck(second.PktID)

	ackDeadline := time.Now().Add(time.Second)
	for client.HasQueuedOutbound() {
		if time.Now().After(ackDeadline) {
			t.Fatalf("packet %d still in flight after the switcher acked it", second.PktID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestClientDeliversBackToBackDatagramsUncorrupted sends two real data
// datagrams in immediate succession and asserts the exact bytes the
// dispatcher delivers for each, rather than just their count. The receive
// thread reuses one buffer across recv calls; a payload slice that still
// points into that buffer when the second datagram overwrites it would
// corrupt the first command's body without changing how many commands
// arrived, which a length-only assertion would miss.
func TestClientDeliversBackToBackDatagramsUncorrupted(t *testing.T) {
	sw := newFakeSwitcher(t)
	defer sw.close()

	registry := testRegistry()
	client, err := NewClient(sw.addr(), true, registry, nil, fastTestConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Dispose()

	received := make(chan []Command, 4)
	client.OnReceive(func(cmds []Command) { received <- cmds })

	sw.recv(t) // the initial handshake
	sw.sendHandshakeReply(nil)

	first := append([]byte(nil), 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A')
	second := append([]byte(nil), 'B', 'B', 'B', 'B', 'B', 'B', 'B', 'B')

	echoName := [4]byte{'E', 'c', 'h', 'o'}
	sw.sendDataPacket(AppendBlock(nil, echoName, first))
	sw.sendDataPacket(AppendBlock(nil, echoName, second))

	var got []Command
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case cmds := <-received:
			got = append(got, cmds...)
		case <-deadline:
			t.Fatalf("only received %d of 2 expected commands", len(got))
		}
	}

	firstEcho, ok := got[0].(*testCmd)
	if !ok {
		t.Fatalf("got[0] is %T, want *testCmd", got[0])
	}
	secondEcho, ok := got[1].(*testCmd)
	if !ok {
		t.Fatalf("got[1] is %T, want *testCmd", got[1])
	}

	if string(firstEcho.body) != string(first) {
		t.Fatalf("first command body = %q, want %q", firstEcho.body, first)
	}
	if string(secondEcho.body) != string(second) {
		t.Fatalf("second command body = %q, want %q", secondEcho.body, second)
	}
}

// TestClientUnknownCommandDroppedSurroundingBatchDelivered is the E6
// scenario: a datagram carries one block the registry does not recognize
// alongside one it does. The unknown block produces no user callback and
// a debug log line naming it, while the surrounding batch is delivered
// normally.
func TestClientUnknownCommandDroppedSurroundingBatchDelivered(t *testing.T) {
	sw := newFakeSwitcher(t)
	defer sw.close()

	registry := testRegistry()
	client, err := NewClient(sw.addr(), true, registry, nil, fastTestConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Dispose()

	prevDebug := Debug
	Debug = true
	logBuf := &syncBuffer{}
	SetLogOutput(logBuf)
	defer func() {
		Debug = prevDebug
		SetLogOutput(nil)
	}()

	received := make(chan []Command, 4)
	client.OnReceive(func(cmds []Command) { received <- cmds })

	sw.recv(t) // the initial handshake
	sw.sendHandshakeReply(nil)

	echoName := [4]byte{'E', 'c', 'h', 'o'}
	var payload []byte
	payload = AppendBlock(payload, [4]byte{'Z', 'Z', 'Z', 'Z'}, []byte{1, 2, 3})
	payload = AppendBlock(payload, echoName, []byte("hello"))
	sw.sendDataPacket(payload)

	var got []Command
	deadline := time.After(2 * time.Second)
	for len(got) == 0 {
		select {
		case cmds := <-received:
			got = append(got, cmds...)
		case <-deadline:
			t.Fatalf("never received the surrounding batch")
		}
	}

	if len(got) != 1 {
		t.Fatalf("got %d commands, want 1 (unknown ZZZZ dropped silently)", len(got))
	}
	echo, ok := got[0].(*testCmd)
	if !ok || string(echo.body) != "hello" {
		t.Fatalf("delivered command = %+v, want Echo{hello}", got[0])
	}

	deadline = time.After(2 * time.Second)
	for !strings.Contains(logBuf.String(), "ZZZZ") {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("expected a debug log line naming the unknown command, got: %q", logBuf.String())
		}
	}
}

func TestClientTimeoutFiresDisconnectedAndReconnects(t *testing.T) {
	sw := newFakeSwitcher(t)
	defer sw.close()

	registry := testRegistry()
	client, err := NewClient(sw.addr(), true, registry, nil, fastTestConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Dispose()

	disconnected := make(chan struct{}, 1)
	client.OnDisconnected(func() { disconnected <- struct{}{} })

	sw.recv(t)
	sw.sendHandshakeReply(nil)

	select {
	case <-disconnected:
		t.Fatalf("on_disconnected fired before any timeout")
	case <-time.After(50 * time.Millisecond):
	}

	// Stop answering; the liveness timer should fire on_disconnected and
	// the client should rehandshake on its own.
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatalf("on_disconnected never fired after silence")
	}

	sw.conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		h := sw.recv(t)
		if h.Has(FlagInit) {
			break
		}
	}
}
