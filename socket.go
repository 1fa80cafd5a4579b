package atem

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

// SwitcherPort is the fixed UDP port the switcher listens on.
const SwitcherPort = 9910

// socket owns the single bound UDP endpoint toward one switcher. It is a
// leaf component: it knows nothing about sessions, acks, or retransmission,
// only how to move datagrams, matching spec §4.1.
//
// Single datagrams go out through the UDPConn's WriteTo. sendBatch goes
// through an ipv4.PacketConn, the same wrapper the teacher's tx.go batches
// writes through via ipv4.Message, so a retransmit burst is written with
// PacketConn.WriteBatch.
type socket struct {
	conn   *net.UDPConn
	pconn  *ipv4.PacketConn
	remote *net.UDPAddr
}

func newSocket(remote *net.UDPAddr, recvBufferBytes int) (*socket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrap(err, "atem: bind local udp socket")
	}
	if recvBufferBytes > 0 {
		_ = conn.SetReadBuffer(recvBufferBytes)
	}
	return &socket{
		conn:   conn,
		pconn:  ipv4.NewPacketConn(conn),
		remote: remote,
	}, nil
}

// send is a non-blocking best-effort write relying on OS-level
// backpressure; callers never retry here, retransmission is owned by the
// connection state machine (spec §4.1, §4.3).
func (s *socket) send(b []byte) error {
	_, err := s.conn.WriteTo(b, s.remote)
	if err != nil {
		return errors.Wrap(err, "atem: udp send")
	}
	return nil
}

// sendBatch writes several datagrams in one syscall via
// ipv4.PacketConn.WriteBatch, falling back to sequential sends if the
// platform's batch write is unsupported (WriteBatch returns an error on
// non-Linux in the x/net implementation).
func (s *socket) sendBatch(datagrams [][]byte) error {
	msgs := make([]ipv4.Message, len(datagrams))
	for i, d := range datagrams {
		msgs[i] = ipv4.Message{Buffers: [][]byte{d}, Addr: s.remote}
	}
	if _, err := s.pconn.WriteBatch(msgs, 0); err != nil {
		for _, d := range datagrams {
			if err := s.send(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// recv blocks for the next datagram from the peer. A socket interrupted
// during shutdown is reported via ErrClosed rather than the raw net error
// (spec §4.1, §7: "Disposal during I/O ... absorb and exit thread").
func (s *socket) recv(buf []byte) (n int, from net.Addr, err error) {
	n, from, err = s.conn.ReadFrom(buf)
	if err != nil {
		if isUseOfClosedConn(err) {
			return 0, nil, ErrClosed
		}
		return 0, nil, errors.Wrap(err, "atem: udp recv")
	}
	return n, from, nil
}

func (s *socket) close() error {
	return s.conn.Close()
}

func (s *socket) localAddr() net.Addr { return s.conn.LocalAddr() }

func isUseOfClosedConn(err error) bool {
	ne, ok := err.(*net.OpError)
	return ok && ne.Err != nil && ne.Err.Error() == "use of closed network connection"
}
