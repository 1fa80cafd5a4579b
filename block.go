package atem

import "encoding/binary"

// blockHeaderSize is the 8-byte header (length, 2 reserved, 4-byte name)
// that precedes every command block's body.
const blockHeaderSize = 8

// Block is a single length-prefixed, named command payload found inside a
// datagram. Name is always 4 ASCII bytes; Body is Length-8 bytes.
type Block struct {
	Name [4]byte
	Body []byte
}

// ParseBlocks splits payload into its sequence of command blocks. Parsing
// is strict: a block whose declared length exceeds the remaining payload
// aborts parsing of the rest of the datagram and returns the blocks
// decoded so far along with ErrMalformedBlock, per spec §4.2.
func ParseBlocks(payload []byte) ([]Block, error) {
	var blocks []Block
	for len(payload) > 0 {
		if len(payload) < blockHeaderSize {
			return blocks, ErrMalformedBlock
		}
		length := int(binary.BigEndian.Uint16(payload[0:2]))
		if length < blockHeaderSize || length > len(payload) {
			return blocks, ErrMalformedBlock
		}
		var b Block
		copy(b.Name[:], payload[4:8])
		b.Body = payload[blockHeaderSize:length]
		blocks = append(blocks, b)
		payload = payload[length:]
	}
	return blocks, nil
}

// AppendBlock serializes a command block with the given name and body onto
// the end of buf and returns the extended slice.
func AppendBlock(buf []byte, name [4]byte, body []byte) []byte {
	length := blockHeaderSize + len(body)
	header := make([]byte, blockHeaderSize)
	binary.BigEndian.PutUint16(header[0:2], uint16(length))
	copy(header[4:8], name[:])
	buf = append(buf, header...)
	buf = append(buf, body...)
	return buf
}

// BlockSize reports the serialized size of a command block carrying body.
func BlockSize(body []byte) int { return blockHeaderSize + len(body) }
