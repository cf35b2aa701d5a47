// Package protocol owns the debug-agent wire contract and parsing primitives.
//
// Ownership boundary:
// - fixed message header framing
// - request encoders
// - reply/notification decoders over untrusted bytes
//
// Decoders never trust a peer-supplied length: every length field is checked
// against the bytes remaining before any dependent read. All integers are
// little-endian.
package protocol
