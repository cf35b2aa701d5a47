package protocol

import (
	"errors"
	"io"
)

// ReadMessage reads exactly one complete message from r, blocking until the
// byte count declared by the header has arrived. The returned body excludes
// the header. Header bounds are validated before the body allocation.
func ReadMessage(r io.Reader) (Header, []byte, error) {
	var fixed [HeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Header{}, nil, err
	}
	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Header{}, nil, err
	}
	body := make([]byte, h.Size-HeaderSize)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Header{}, nil, ErrTruncated
			}
			return Header{}, nil, err
		}
	}
	return h, body, nil
}
