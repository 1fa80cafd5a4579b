package atem

import "testing"

func TestDispatchUnknownCommandDroppedBatchContinues(t *testing.T) {
	goodName := [4]byte{'G', 'o', 'o', 'd'}
	registry := NewCodecRegistry()
	registry.Register(CommandType{Name: goodName, Version: 0, Decode: func(body []byte) (Command, int, error) {
		return &testCmd{name: goodName, body: body}, len(body), nil
	}})

	var got []Command
	d := newDispatcher(registry, nil, func() uint16 { return 0 }, func(cmds []Command) { got = append(got, cmds...) })

	var payload []byte
	payload = AppendBlock(payload, [4]byte{'Z', 'Z', 'Z', 'Z'}, []byte{1, 2, 3})
	payload = AppendBlock(payload, goodName, []byte{9})

	d.dispatchPayloads([][]byte{payload})

	if len(got) != 1 {
		t.Fatalf("got %d commands, want 1 (unknown name dropped, rest of batch delivered)", len(got))
	}
	if got[0].Name() != goodName {
		t.Fatalf("delivered command name = %q, want %q", got[0].Name(), goodName)
	}
}

func TestDispatchDecodeErrorDroppedBatchContinues(t *testing.T) {
	badName := [4]byte{'B', 'a', 'd', '!'}
	goodName := [4]byte{'G', 'o', 'o', 'd'}

	registry := NewCodecRegistry()
	registry.Register(CommandType{Name: badName, Version: 0, Decode: func(body []byte) (Command, int, error) {
		return nil, 0, ErrMalformedBlock
	}})
	registry.Register(CommandType{Name: goodName, Version: 0, Decode: func(body []byte) (Command, int, error) {
		return &testCmd{name: goodName, body: body}, len(body), nil
	}})

	var got []Command
	d := newDispatcher(registry, nil, func() uint16 { return 0 }, func(cmds []Command) { got = append(got, cmds...) })

	var payload []byte
	payload = AppendBlock(payload, badName, []byte{1})
	payload = AppendBlock(payload, goodName, []byte{9})

	d.dispatchPayloads([][]byte{payload})

	if len(got) != 1 {
		t.Fatalf("got %d commands, want 1 (decode error drops only that command)", len(got))
	}
	if got[0].Name() != goodName {
		t.Fatalf("delivered command name = %q, want %q", got[0].Name(), goodName)
	}
}

func TestDispatchTrailingBytesRejectedUnlessAllowed(t *testing.T) {
	strictName := [4]byte{'S', 't', 'r', 'c'}
	lenientName := [4]byte{'L', 'e', 'n', 't'}

	registry := NewCodecRegistry()
	registry.Register(CommandType{
		Name:    strictName,
		Version: 0,
		Decode: func(body []byte) (Command, int, error) {
			return &testCmd{name: strictName, body: body[:1]}, 1, nil // consumes 1 of a 3-byte body
		},
		AllowsTrailingBytes: false,
	})
	registry.Register(CommandType{
		Name:    lenientName,
		Version: 0,
		Decode: func(body []byte) (Command, int, error) {
			return &testCmd{name: lenientName, body: body[:1]}, 1, nil
		},
		AllowsTrailingBytes: true,
	})

	var got []Command
	d := newDispatcher(registry, nil, func() uint16 { return 0 }, func(cmds []Command) { got = append(got, cmds...) })

	var payload []byte
	payload = AppendBlock(payload, strictName, []byte{1, 2, 3})
	payload = AppendBlock(payload, lenientName, []byte{4, 5, 6})

	d.dispatchPayloads([][]byte{payload})

	if len(got) != 1 {
		t.Fatalf("got %d commands, want 1 (strict rejected for trailing bytes, lenient kept)", len(got))
	}
	if got[0].Name() != lenientName {
		t.Fatalf("delivered command name = %q, want %q", got[0].Name(), lenientName)
	}
}

func TestDispatchOffersEveryCommandToHandlerBeforeUserCallback(t *testing.T) {
	name := [4]byte{'C', 'l', 'a', 'm'}
	registry := NewCodecRegistry()
	registry.Register(CommandType{Name: name, Version: 0, Decode: func(body []byte) (Command, int, error) {
		return &testCmd{name: name, body: body}, len(body), nil
	}})

	handler := &claimingHandler{claim: name}
	var got []Command
	d := newDispatcher(registry, handler, func() uint16 { return 0 }, func(cmds []Command) { got = append(got, cmds...) })

	payload := AppendBlock(nil, name, []byte{1})
	d.dispatchPayloads([][]byte{payload})

	if len(got) != 0 {
		t.Fatalf("got %d commands, want 0 (handler claimed the only command in the batch)", len(got))
	}
	if !handler.handled {
		t.Fatalf("handler.Handle was never called")
	}
}

type claimingHandler struct {
	claim   [4]byte
	handled bool
}

func (h *claimingHandler) Handle(cmd Command) bool {
	h.handled = true
	return cmd.Name() == h.claim
}
func (h *claimingHandler) Reset()   {}
func (h *claimingHandler) Dispose() {}
