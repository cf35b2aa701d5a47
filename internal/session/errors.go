package session

import "errors"

var (
	ErrNotConnected     = errors.New("session: not connected")
	ErrAlreadyConnected = errors.New("session: already connected")
	ErrDisconnected     = errors.New("session: disconnected")
	ErrCancelled        = errors.New("session: connect cancelled")
	ErrTransport        = errors.New("session: transport error")
	ErrTimeout          = errors.New("session: request timeout")
	ErrClosed           = errors.New("session: closed")
	ErrUnexpectedReply  = errors.New("session: reply kind mismatch")
	ErrHandshakeStatus  = errors.New("session: handshake rejected by agent")
)
