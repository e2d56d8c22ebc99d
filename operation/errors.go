package operation

import (
	"errors"
	"fmt"
)

// Error taxonomy. ErrTransportIO is recoverable (invalidate
// the transport, retry up to maxRetries); ErrProtocolMismatch is fatal
// (invalidate, surface to caller). Server-reported non-zero status bytes
// are not errors at all — they're returned as data (the status byte Clear
// returns, or the Status field of the Get operations' result types) and
// are never retried.
var (
	ErrTransportIO      = errors.New("operation: transport I/O error")
	ErrProtocolMismatch = errors.New("operation: protocol mismatch")
	ErrRetriesExhausted = errors.New("operation: retries exhausted")
)

func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransportIO, err)
}

func isRecoverable(err error) bool {
	return errors.Is(err, ErrTransportIO)
}
