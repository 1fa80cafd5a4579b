// Package atem implements the client-side networking core of the
// proprietary UDP control protocol spoken by ATEM-family broadcast video
// switchers.
//
// It maintains a reliable, ordered, session-oriented command channel over
// an unreliable datagram transport: handshake and session id negotiation,
// packet acknowledgement and retransmission, timeout-driven reconnection,
// and ack coalescing. Decoding of individual command payloads and any
// business logic built on top of them are left to collaborators registered
// through CodecRegistry and DataTransferHandler; this package only moves
// bytes reliably and in order.
package atem
