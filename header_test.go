package atem

import "testing"

func TestParseHeaderRoundTrip(t *testing.T) {
	h := Header{
		Flags:      FlagAckRequest | FlagAck,
		Length:     18,
		SessionID:  0x5678,
		AckedPktID: 41,
		UnknownA:   0,
		UnknownB:   0,
		PktID:      42,
	}
	buf := make([]byte, HeaderSize)
	h.Put(buf)

	got, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestParseHeaderTooShort(t *testing.T) {
	if _, err := ParseHeader(make([]byte, HeaderSize-1)); err != ErrMalformedHeader {
		t.Fatalf("got %v, want ErrMalformedHeader", err)
	}
}

// TestHandshakeBytes pins the handshake datagram's known wire bytes: flags
// 0x02 (Init) and length 20 pack into 0x10, 0x14 as the first two bytes.
func TestHandshakeBytes(t *testing.T) {
	buf := buildHandshake(0x1234)
	if len(buf) != 20 {
		t.Fatalf("handshake length = %d, want 20", len(buf))
	}
	if buf[0] != 0x10 || buf[1] != 0x14 {
		t.Fatalf("flags/length bytes = %#02x %#02x, want 0x10 0x14", buf[0], buf[1])
	}
	if buf[2] != 0x12 || buf[3] != 0x34 {
		t.Fatalf("session id bytes = %#02x %#02x, want 0x12 0x34", buf[2], buf[3])
	}
}

func TestPacketIDWraparound(t *testing.T) {
	var p PacketID = 0x7FFF
	if got := p.Next(); got != 0 {
		t.Fatalf("Next() at max = %d, want 0", got)
	}
}

func TestPacketIDAfter(t *testing.T) {
	cases := []struct {
		p, q PacketID
		want bool
	}{
		{5, 4, true},
		{4, 5, false},
		{4, 4, false},
		{0, 0x7FFF, true},  // wrapped: 0 comes after 32767
		{0x7FFF, 0, false},
	}
	for _, c := range cases {
		if got := c.p.After(c.q); got != c.want {
			t.Errorf("(%d).After(%d) = %v, want %v", c.p, c.q, got, c.want)
		}
	}
}

func TestCoveredBy(t *testing.T) {
	if !coveredBy(10, 12, 4) {
		t.Fatalf("id 10 should be covered by ack 12 with window 4")
	}
	if coveredBy(10, 12, 2) {
		t.Fatalf("id 10 should not be covered by ack 12 with window 2")
	}
}

func TestHeaderHas(t *testing.T) {
	h := Header{Flags: FlagAckRequest | FlagIsRetransmit}
	if !h.Has(FlagAckRequest) {
		t.Fatalf("expected FlagAckRequest set")
	}
	if h.Has(FlagInit) {
		t.Fatalf("did not expect FlagInit set")
	}
}
