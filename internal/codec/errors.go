package codec

import "errors"

// Sentinel errors for codec operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDecode is returned when a payload is not a valid encoding of the
	// requested message.
	ErrDecode = errors.New("codec: decode failed")

	// ErrNilMessage is returned when Marshal is called on a nil message.
	ErrNilMessage = errors.New("codec: nil message")
)
