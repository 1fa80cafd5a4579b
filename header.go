package atem

import "encoding/binary"

// HeaderSize is the fixed size in bytes of the transport header that
// precedes every datagram's command-block payload.
const HeaderSize = 12

// Flag is a bit in the transport header's flags field.
type Flag uint8

const (
	FlagAckRequest        Flag = 0x01
	FlagInit              Flag = 0x02 // a.k.a. NewSessionId
	FlagIsRetransmit      Flag = 0x04
	FlagRequestRetransmit Flag = 0x08
	FlagAck               Flag = 0x10
)

// PacketID is a 15-bit counter (range 0..32767) that wraps at 0x8000.
// Comparisons use signed-difference-modulo arithmetic via After/AtOrAfter.
type PacketID uint16

const packetIDMask = 0x7FFF

// Next returns p+1 wrapped at 0x8000.
func (p PacketID) Next() PacketID {
	return (p + 1) & packetIDMask
}

// diff returns (a - b), masked into the 15-bit space and then
// sign-extended, so callers get a value in [-16384, 16383] suitable for
// wraparound-aware comparisons over a half-sized window.
func diff(a, b PacketID) int {
	d := (int(a) - int(b)) & packetIDMask
	if d >= packetIDMask/2+1 {
		d -= packetIDMask + 1
	}
	return d
}

// After reports whether p comes strictly after q in the 15-bit modular
// sequence space.
func (p PacketID) After(q PacketID) bool { return diff(p, q) > 0 }

// AtOrAfter reports whether p comes at or after q.
func (p PacketID) AtOrAfter(q PacketID) bool { return diff(p, q) >= 0 }

// coveredBy reports whether id is covered by an ack carrying acked,
// i.e. (acked - id) mod 2^15 < window, per spec §4.3.
func coveredBy(id, acked PacketID, window int) bool {
	d := (int(acked) - int(id)) & packetIDMask
	return d < window
}

// Header is the parsed form of the 12-byte transport header that precedes
// every datagram's payload.
type Header struct {
	Flags      Flag
	Length     int // total datagram length, header included
	SessionID  uint16
	AckedPktID PacketID
	UnknownA   uint16
	UnknownB   uint16
	PktID      PacketID
}

// Has reports whether f is set in h.Flags.
func (h Header) Has(f Flag) bool { return h.Flags&f != 0 }

// ParseHeader decodes the first HeaderSize bytes of buf. It does not
// validate h.Length against len(buf); callers compare that themselves per
// spec §4.2 (a mismatch is a dropped packet, not a parse error here).
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrMalformedHeader
	}
	lenAndFlags := binary.BigEndian.Uint16(buf[0:2])
	return Header{
		Flags:      Flag(lenAndFlags >> 11),
		Length:     int(lenAndFlags & 0x07FF),
		SessionID:  binary.BigEndian.Uint16(buf[2:4]),
		AckedPktID: PacketID(binary.BigEndian.Uint16(buf[4:6])),
		UnknownA:   binary.BigEndian.Uint16(buf[6:8]),
		UnknownB:   binary.BigEndian.Uint16(buf[8:10]),
		PktID:      PacketID(binary.BigEndian.Uint16(buf[10:12])),
	}, nil
}

// Put serializes h into the first HeaderSize bytes of buf, which must be at
// least HeaderSize long.
func (h Header) Put(buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.Flags)<<11|uint16(h.Length&0x07FF))
	binary.BigEndian.PutUint16(buf[2:4], h.SessionID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(h.AckedPktID))
	binary.BigEndian.PutUint16(buf[6:8], h.UnknownA)
	binary.BigEndian.PutUint16(buf[8:10], h.UnknownB)
	binary.BigEndian.PutUint16(buf[10:12], uint16(h.PktID))
}

// Bytes allocates and serializes h followed by payload.
func (h Header) Bytes(payload []byte) []byte {
	h.Length = HeaderSize + len(payload)
	buf := make([]byte, h.Length)
	h.Put(buf)
	copy(buf[HeaderSize:], payload)
	return buf
}

// handshakeMagic is carried in UnknownB of the handshake datagram only.
const handshakeMagic uint16 = 0x0068

// handshakeTail is the fixed 8 trailing bytes of the 20-byte handshake
// datagram, bit-exact per spec §4.3.
var handshakeTail = [8]byte{0x01, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00}

// buildHandshake serializes the fixed 20-byte handshake datagram for the
// given locally-chosen session id.
func buildHandshake(sessionID uint16) []byte {
	h := Header{
		Flags:      FlagInit,
		Length:     20,
		SessionID:  sessionID,
		AckedPktID: 0,
		UnknownA:   0,
		UnknownB:   handshakeMagic,
		PktID:      0,
	}
	buf := make([]byte, 20)
	h.Put(buf)
	copy(buf[HeaderSize:], handshakeTail[:])
	return buf
}

// buildAck serializes a header-only ack datagram for the given session and
// acked packet id.
func buildAck(sessionID uint16, acked PacketID) []byte {
	h := Header{
		Flags:      FlagAck,
		Length:     HeaderSize,
		SessionID:  sessionID,
		AckedPktID: acked,
	}
	buf := make([]byte, HeaderSize)
	h.Put(buf)
	return buf
}
