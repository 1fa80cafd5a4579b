// Package swcommands holds a handful of illustrative command types for
// swctl. Real deployments register the full set of switcher command
// types; this package only covers enough of the wire format to drive the
// dashboard and the send subcommand.
package swcommands

import (
	"encoding/binary"

	"github.com/jaskie/LibAtem"
)

// Version carries the protocol version the switcher advertises right
// after the handshake completes.
type Version struct {
	Major, Minor uint16
}

var versionName = [4]byte{'_', 'v', 'e', 'r'}

func (v *Version) Name() [4]byte         { return versionName }
func (v *Version) QueueKey() interface{} { return versionName }
func (v *Version) Serialize() []byte     { return nil } // inbound-only in practice
func (v *Version) ProtocolVersion() uint16 { return v.Major }

func decodeVersion(body []byte) (atem.Command, int, error) {
	if len(body) < 4 {
		return nil, 0, atem.ErrMalformedBlock
	}
	return &Version{
		Major: binary.BigEndian.Uint16(body[0:2]),
		Minor: binary.BigEndian.Uint16(body[2:4]),
	}, 4, nil
}

// Tally reports the program/preview tally state of one input.
type Tally struct {
	Input            uint16
	Program, Preview bool
}

var tallyName = [4]byte{'T', 'l', 'I', 'n'}

func (t *Tally) Name() [4]byte         { return tallyName }
func (t *Tally) QueueKey() interface{} { return tallyName }
func (t *Tally) Serialize() []byte     { return nil } // inbound-only

func decodeTally(body []byte) (atem.Command, int, error) {
	if len(body) < 3 {
		return nil, 0, atem.ErrMalformedBlock
	}
	return &Tally{
		Input:   binary.BigEndian.Uint16(body[0:2]),
		Program: body[2]&0x01 != 0,
		Preview: body[2]&0x02 != 0,
	}, 3, nil
}

// ProgramInputChange requests that the program bus of mix effect
// MixEffectIndex cut to Input.
// It is outbound-only; the switcher never sends it back, so it has no
// Decoder registered.
type ProgramInputChange struct {
	MixEffectIndex uint8
	Input          uint16
}

var programInputChangeName = [4]byte{'C', 'P', 'g', 'I'}

func (c *ProgramInputChange) Name() [4]byte { return programInputChangeName }

// QueueKey collapses to one pending change per mix effect bus: a second
// cut requested before the first is sent replaces it rather than queuing
// both.
func (c *ProgramInputChange) QueueKey() interface{} {
	return [2]byte{programInputChangeName[0], c.MixEffectIndex}
}

func (c *ProgramInputChange) Serialize() []byte {
	body := make([]byte, 4)
	body[0] = c.MixEffectIndex
	binary.BigEndian.PutUint16(body[2:4], c.Input)
	return body
}

// Register adds every command type in this package to r.
func Register(r *atem.CodecRegistry) {
	r.Register(atem.CommandType{Name: versionName, Version: 0, Decode: decodeVersion})
	r.Register(atem.CommandType{Name: tallyName, Version: 0, Decode: decodeTally})
}
