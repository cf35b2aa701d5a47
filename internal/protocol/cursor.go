package protocol

import "encoding/binary"

// reader walks an untrusted message body. Fixed-field reads that run past
// the buffer fail with ErrTruncated; declared lengths that exceed the bytes
// remaining fail with ErrInvalidLength. No read ever indexes past len(buf).
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) uint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// bytes copies out n bytes previously declared by a length field.
func (r *reader) bytes(n uint64) ([]byte, error) {
	if n > uint64(r.remaining()) {
		return nil, ErrInvalidLength
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

// str reads a u32 length followed by raw bytes, no terminator.
func (r *reader) str() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.remaining()) {
		return "", ErrInvalidLength
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

// count reads a u32 element count and validates it against the smallest
// possible encoding of one element, so a corrupt count can never drive an
// oversized allocation.
func (r *reader) count(minElemSize int) (int, error) {
	n, err := r.uint32()
	if err != nil {
		return 0, err
	}
	if minElemSize > 0 && uint64(n)*uint64(minElemSize) > uint64(r.remaining()) {
		return 0, ErrInvalidLength
	}
	return int(n), nil
}

// finish rejects bytes left over after a complete decode.
func (r *reader) finish() error {
	if r.remaining() != 0 {
		return ErrTrailingBytes
	}
	return nil
}

// writer builds a message body. Writes never fail; the result is framed by
// finish, which patches the header size field.
type writer struct {
	buf []byte
}

// newWriter reserves room for the header up front.
func newWriter(kind MsgKind, txid uint32) *writer {
	w := &writer{buf: make([]byte, 0, 64)}
	w.buf = append(w.buf, EncodeHeader(Header{Kind: kind, TransactionID: txid})...)
	return w
}

func (w *writer) uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) {
	w.uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// finish patches the total size into the header and returns the wire bytes.
func (w *writer) finish() []byte {
	binary.LittleEndian.PutUint32(w.buf[0:4], uint32(len(w.buf)))
	return w.buf
}
