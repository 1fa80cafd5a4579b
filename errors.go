package atem

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the core. Wrap with github.com/pkg/errors at
// call sites that need a stack trace; compare with errors.Is against these.
var (
	// ErrClosed is returned by operations attempted after Dispose.
	ErrClosed = errors.New("atem: client disposed")

	// ErrNotConnected reports that an operation needs an established
	// session. No function in this package returns it; SendCommand and
	// DirectQueueMessage queue commands whatever the session state.
	ErrNotConnected = errors.New("atem: not connected")

	// ErrMalformedHeader is returned by ParseHeader when the buffer is
	// shorter than HeaderSize. A declared length that disagrees with the
	// datagram length is not reported through it; such packets are dropped.
	ErrMalformedHeader = errors.New("atem: malformed transport header")

	// ErrMalformedBlock is returned when a command block's declared
	// length exceeds the remaining payload of its datagram.
	ErrMalformedBlock = errors.New("atem: malformed command block")

	// ErrTrailingBytes is logged by the dispatcher when a codec leaves
	// unconsumed bytes in a block it does not mark as accepting them; the
	// command is then dropped.
	ErrTrailingBytes = errors.New("atem: command left trailing bytes")

	// ErrUnknownCommand names a command name missing from the registry.
	// No function in this package returns it: CodecRegistry.Find reports a
	// miss through its ok result.
	ErrUnknownCommand = errors.New("atem: unknown command name")
)

func errNewf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
