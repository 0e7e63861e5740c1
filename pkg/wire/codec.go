package wire

import (
	"encoding/binary"
	"fmt"
)

// Writer accumulates a message body using the wire's primitive encodings.
// It grows its backing buffer as needed; callers obtain the backing
// buffer to reuse via Reset, typically sourced from a sync.Pool.
type Writer struct {
	buf []byte
}

// NewWriter wraps buf (len 0, any capacity) for encoding into.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf[:0]}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) Reset(buf []byte) { w.buf = buf[:0] }

func (w *Writer) U8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) Bool8(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

func (w *Writer) U16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) U64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) I32(v int32) { w.U32(uint32(v)) }
func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

// Bool32 encodes a boolean as a wire u32, matching fields the legacy
// protocol widens beyond their semantic size.
func (w *Writer) Bool32(v bool) {
	if v {
		w.U32(1)
	} else {
		w.U32(0)
	}
}

// Zero appends n zero-padding bytes.
func (w *Writer) Zero(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// CStr encodes a length-prefixed, NUL-terminated byte string: a u32
// length (not counting the terminator), the bytes, then a single 0x00.
func (w *Writer) CStr(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// Reader consumes a message body using the wire's primitive decodings.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// ErrShortRead indicates the body ended before a field could be fully read.
var ErrShortRead = fmt.Errorf("wire: short read decoding field")

func (r *Reader) need(n int) error {
	if len(r.buf)-r.off < n {
		return ErrShortRead
	}
	return nil
}

func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Bool8() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

func (r *Reader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

func (r *Reader) Bool32() (bool, error) {
	v, err := r.U32()
	return v != 0, err
}

func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.off += n
	return nil
}

// CStr decodes a length-prefixed, NUL-terminated byte string.
func (r *Reader) CStr() (string, error) {
	n, err := r.U32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n) + 1); err != nil {
		return "", err
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n) + 1 // skip terminator
	return s, nil
}

// Remaining reports how many bytes are left unconsumed.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Done returns an error if the body was not fully consumed; handlers
// call this after decoding to catch malformed trailing bytes.
func (r *Reader) Done() error {
	if r.Remaining() != 0 {
		return fmt.Errorf("wire: %d trailing bytes after decode", r.Remaining())
	}
	return nil
}
