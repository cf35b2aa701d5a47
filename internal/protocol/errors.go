package protocol

import "errors"

var (
	ErrTruncated       = errors.New("protocol: truncated data")
	ErrInvalidLength   = errors.New("protocol: invalid length")
	ErrMalformedHeader = errors.New("protocol: malformed header")
	ErrMessageTooLarge = errors.New("protocol: message too large")
	ErrTrailingBytes   = errors.New("protocol: trailing bytes after message")
	ErrDepthExceeded   = errors.New("protocol: process tree too deep")
	ErrUnknownMessage  = errors.New("protocol: unknown message kind")
)
