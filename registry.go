package atem

import "sort"

// Command is the interface every decoded or outbound command payload type
// implements. Concrete command types (the hundreds of real ATEM command
// blocks) live outside this package; the core only needs this much of
// their shape.
type Command interface {
	// Name is the 4-byte ASCII command-block name used on the wire.
	Name() [4]byte

	// Serialize renders the command body (excluding the 8-byte block
	// header) for transmission.
	Serialize() []byte

	// QueueKey returns the uniqueness key used by the outbound unique
	// queue. Most commands return their own Name; commands with
	// sub-addressable state (e.g. a fader on a specific mix effect bus)
	// return a finer key such as "ProgramInput-ME1" so that updates for
	// that specific control still waiting to be sent collapse to the latest.
	QueueKey() interface{}
}

// Decoder constructs a typed Command from a received block body. A
// Decoder that does not consume the entire body must report so via
// AllowsTrailingBytes on its CommandType so the dispatcher does not treat
// the remainder as a protocol error (versioned growth, per spec §4.5).
type Decoder func(body []byte) (cmd Command, consumed int, err error)

// CommandType describes one registrable command: its wire name, the
// protocol version it first appeared in, and its decoder.
type CommandType struct {
	Name                [4]byte
	Version             uint16
	Decode              Decoder
	AllowsTrailingBytes bool
}

// CodecRegistry is a startup-time registry mapping a command name to the
// CommandType it was registered under at each protocol version, replacing
// the dynamic/reflective instantiation flagged in spec §9 with explicit
// registration.
//
// A command's wire shape can grow across protocol versions without
// changing its name; Find resolves to whichever registered version is the
// newest one not exceeding the connection's negotiated version, not an
// exact match, so a command registered "at version it first appeared in"
// stays decodable once the connection negotiates past that version.
type CodecRegistry struct {
	byName map[[4]byte][]CommandType // per name, sorted ascending by Version
}

// NewCodecRegistry returns an empty registry ready for Register calls.
func NewCodecRegistry() *CodecRegistry {
	return &CodecRegistry{byName: make(map[[4]byte][]CommandType)}
}

// Register adds ct to the registry under ct.Name. Registering the same
// (Name, Version) pair twice overwrites the previous entry.
func (r *CodecRegistry) Register(ct CommandType) {
	list := r.byName[ct.Name]
	for i, existing := range list {
		if existing.Version == ct.Version {
			list[i] = ct
			return
		}
	}
	list = append(list, ct)
	sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	r.byName[ct.Name] = list
}

// Find returns the CommandType registered for name whose Version is the
// greatest one not exceeding version. ok is false if name was never
// registered, or only at versions newer than version.
func (r *CodecRegistry) Find(name [4]byte, version uint16) (ct CommandType, ok bool) {
	for _, candidate := range r.byName[name] {
		if candidate.Version > version {
			break
		}
		ct, ok = candidate, true
	}
	return ct, ok
}
