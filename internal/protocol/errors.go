package protocol

import "errors"

var (
	// ErrClosed is returned when the peer closes the stream between frames.
	ErrClosed = errors.New("connection closed by peer")

	// ErrTruncated is returned when the stream ends in the middle of a frame.
	ErrTruncated = errors.New("truncated frame")

	// ErrFrameTooLarge is returned when a frame declares a length above the limit.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrInvalidFrame is returned when a frame is too short to hold a packet id.
	ErrInvalidFrame = errors.New("invalid frame length")

	// ErrMalformed is returned when a payload does not decode as expected.
	ErrMalformed = errors.New("malformed payload")
)

// IsProtocolError reports whether err is a framing or payload error, as
// opposed to a transport failure.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, ErrInvalidFrame) ||
		errors.Is(err, ErrMalformed)
}
