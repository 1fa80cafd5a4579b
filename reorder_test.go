package atem

import "testing"

func TestReorderBufferFirstPacketDefinesBaseline(t *testing.T) {
	b := newReorderBuffer()
	ready, dup := b.Accept(100, []byte("first"))
	if dup {
		t.Fatalf("first packet reported as duplicate")
	}
	if len(ready) != 1 || string(ready[0]) != "first" {
		t.Fatalf("ready = %v, want [first]", ready)
	}
	if b.LastDelivered() != 100 {
		t.Fatalf("LastDelivered = %d, want 100", b.LastDelivered())
	}
}

func TestReorderBufferReleasesGapOnArrival(t *testing.T) {
	b := newReorderBuffer()
	b.Accept(1, []byte("a"))

	ready, dup := b.Accept(3, []byte("c"))
	if dup || len(ready) != 0 {
		t.Fatalf("packet 3 should stay buffered, got ready=%v dup=%v", ready, dup)
	}

	ready, dup = b.Accept(2, []byte("b"))
	if dup {
		t.Fatalf("packet 2 reported as duplicate")
	}
	if len(ready) != 2 || string(ready[0]) != "b" || string(ready[1]) != "c" {
		t.Fatalf("ready = %v, want [b c]", ready)
	}
}

func TestReorderBufferDuplicateIsReportedNotRedelivered(t *testing.T) {
	b := newReorderBuffer()
	b.Accept(1, []byte("a"))
	b.Accept(2, []byte("b"))

	ready, dup := b.Accept(1, []byte("a-resent"))
	if !dup {
		t.Fatalf("resent packet 1 should be reported as duplicate")
	}
	if len(ready) != 0 {
		t.Fatalf("duplicate delivered payload: %v", ready)
	}
}

func TestReorderBufferResetForgetsBaseline(t *testing.T) {
	b := newReorderBuffer()
	b.Accept(50, []byte("x"))
	b.Reset()

	ready, dup := b.Accept(0, []byte("fresh"))
	if dup || len(ready) != 1 {
		t.Fatalf("after Reset, first packet of new session should deliver immediately: ready=%v dup=%v", ready, dup)
	}
}
