package protocol

import "encoding/binary"

const (
	// HeaderSize is the fixed wire header length in bytes.
	HeaderSize = 12

	// MaxMessageSize caps one wire message, header included. A header
	// declaring more than this is rejected before any allocation.
	MaxMessageSize = 8 * 1024 * 1024
)

// MsgKind tags every wire message.
type MsgKind uint32

const (
	MsgNone MsgKind = iota
	MsgHello
	MsgLaunch
	MsgAttach
	MsgProcessTree
	MsgThreads
	MsgReadMemory
)

// Notification kinds live above 0x1000 so request/reply kinds and
// notification kinds can never collide as the protocol grows.
const (
	MsgNotifyThreadStarted MsgKind = 0x1000 + iota
	MsgNotifyThreadExited
	MsgNotifyThreadSuspended
	MsgNotifyException
)

func (k MsgKind) String() string {
	switch k {
	case MsgHello:
		return "hello"
	case MsgLaunch:
		return "launch"
	case MsgAttach:
		return "attach"
	case MsgProcessTree:
		return "process_tree"
	case MsgThreads:
		return "threads"
	case MsgReadMemory:
		return "read_memory"
	case MsgNotifyThreadStarted:
		return "notify_thread_started"
	case MsgNotifyThreadExited:
		return "notify_thread_exited"
	case MsgNotifyThreadSuspended:
		return "notify_thread_suspended"
	case MsgNotifyException:
		return "notify_exception"
	default:
		return "unknown"
	}
}

// Header is the fixed wire header. Size covers the whole message, header
// included, and delimits messages on the byte stream. TransactionID 0 is
// reserved for notifications; requests use ids >= 1.
type Header struct {
	Size          uint32
	Kind          MsgKind
	TransactionID uint32
}

// EncodeHeader serializes h into a fresh HeaderSize buffer.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Size)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Kind))
	binary.LittleEndian.PutUint32(buf[8:12], h.TransactionID)
	return buf
}

// DecodeHeader parses and bounds-checks a fixed header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrTruncated
	}
	h := Header{
		Size:          binary.LittleEndian.Uint32(b[0:4]),
		Kind:          MsgKind(binary.LittleEndian.Uint32(b[4:8])),
		TransactionID: binary.LittleEndian.Uint32(b[8:12]),
	}
	if h.Size < HeaderSize {
		return Header{}, ErrMalformedHeader
	}
	if h.Size > MaxMessageSize {
		return Header{}, ErrMessageTooLarge
	}
	return h, nil
}
