package atem

import (
	"encoding/hex"
)

// dispatcher implements spec §4.5: it takes fully-ordered command blocks
// from ConnState's reorder buffer, decodes each via the codec registry,
// offers it to the DataTransferHandler, and batches whatever the handler
// doesn't claim for delivery to the user's on-receive callback.
type dispatcher struct {
	registry *CodecRegistry
	handler  DataTransferHandler
	version  func() uint16

	onReceive func([]Command)
	onVersion func(uint16) // set after construction by Client.Connect
}

func newDispatcher(registry *CodecRegistry, handler DataTransferHandler, version func() uint16, onReceive func([]Command)) *dispatcher {
	if handler == nil {
		handler = NopDataTransferHandler{}
	}
	return &dispatcher{registry: registry, handler: handler, version: version, onReceive: onReceive}
}

// dispatchPayloads decodes and delivers every ready packet's payload, in
// the order given (which the caller has already made contiguous via the
// reorder buffer).
func (d *dispatcher) dispatchPayloads(payloads [][]byte) {
	var batch []Command
	for _, payload := range payloads {
		blocks, err := ParseBlocks(payload)
		if err != nil && Debug {
			dispatchLog.Printf("malformed command block in payload, decoded %d block(s) before error: %v", len(blocks), err)
		}
		for _, b := range blocks {
			cmd := d.decodeBlock(b)
			if cmd == nil {
				continue
			}
			if vc, ok := cmd.(VersionCommand); ok && d.onVersion != nil {
				d.onVersion(vc.ProtocolVersion())
			}
			if d.handler.Handle(cmd) {
				continue
			}
			batch = append(batch, cmd)
		}
	}
	if len(batch) > 0 && d.onReceive != nil {
		d.onReceive(batch)
	}
}

// decodeBlock looks the block's name up in the registry at the current
// protocol version and invokes its decoder. Unknown names and decode
// errors are logged and the single command dropped; they never abort the
// surrounding batch (spec §4.5, §7).
func (d *dispatcher) decodeBlock(b Block) Command {
	ct, ok := d.registry.Find(b.Name, d.version())
	if !ok {
		if Debug {
			dispatchLog.Printf("unknown command %q: %s", string(b.Name[:]), hex.EncodeToString(b.Body))
		}
		return nil
	}

	cmd, consumed, err := ct.Decode(b.Body)
	if err != nil {
		dispatchLog.Printf("decode %q: %v", string(b.Name[:]), err)
		return nil
	}
	if !ct.AllowsTrailingBytes && consumed != len(b.Body) {
		dispatchLog.Printf("decode %q: %v (consumed %d of %d bytes)", string(b.Name[:]), ErrTrailingBytes, consumed, len(b.Body))
		return nil
	}
	return cmd
}
