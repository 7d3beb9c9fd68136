package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrTruncated       = errors.New("wire: truncated data")
	ErrTooLong         = errors.New("wire: length exceeds prefix")
	ErrInvalidBool     = errors.New("wire: invalid bool value")
	ErrInvalidOptional = errors.New("wire: invalid optional presence byte")
	ErrUnknownVariant  = errors.New("wire: unknown variant")
	ErrTrailingBytes   = errors.New("wire: trailing bytes")
)

// LenSize is the byte width of a length prefix.
type LenSize int

const (
	Len8  LenSize = 1
	Len16 LenSize = 2
)

func (s LenSize) max() int {
	if s == Len16 {
		return math.MaxUint16
	}
	return math.MaxUint8
}

// Encoder is implemented by every value with a wire layout.
type Encoder interface {
	EncodeTo(w *Writer)
}

// Marshal encodes v into a fresh buffer.
func Marshal(v Encoder) ([]byte, error) {
	w := NewWriter(64)
	v.EncodeTo(w)
	return w.Bytes()
}

// Unmarshal decodes b with decode and requires that every byte is consumed.
func Unmarshal[T any](b []byte, decode func(*Reader) T) (T, error) {
	r := NewReader(b)
	v := decode(r)
	if err := r.Finish(); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// Writer appends fields in declaration order. The first error sticks and
// later writes become no-ops.
type Writer struct {
	buf []byte
	err error
}

func NewWriter(capHint int) *Writer {
	return &Writer{buf: make([]byte, 0, capHint)}
}

func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// Bytes returns the encoded buffer or the first write error.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

func (w *Writer) U8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

func (w *Writer) U16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) U32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) U64(v uint64) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) I32(v int32) {
	w.U32(uint32(v))
}

func (w *Writer) F32(v float32) {
	w.U32(math.Float32bits(v))
}

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

// Len writes a length prefix of the given width.
func (w *Writer) Len(n int, size LenSize) {
	if n < 0 || n > size.max() {
		w.Fail(fmt.Errorf("%w: %d > %d", ErrTooLong, n, size.max()))
		return
	}
	if size == Len16 {
		w.U16(uint16(n))
		return
	}
	w.U8(uint8(n))
}

func (w *Writer) String(s string, size LenSize) {
	w.Len(len(s), size)
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, s...)
}

// Raw appends b without a prefix.
func (w *Writer) Raw(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

// Optional writes a zero length for nil, else a length of one and the value.
func Optional[T any](w *Writer, v *T, put func(*Writer, T)) {
	if v == nil {
		w.U8(0)
		return
	}
	w.U8(1)
	put(w, *v)
}

func List[T any](w *Writer, items []T, size LenSize, put func(*Writer, T)) {
	w.Len(len(items), size)
	for _, item := range items {
		if w.err != nil {
			return
		}
		put(w, item)
	}
}

// Reader consumes fields in declaration order. The first error sticks and
// later reads return zero values.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Finish reports the sticky error or any bytes left unread.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if n := r.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, n)
	}
	return nil
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.Remaining() < n {
		r.err = ErrTruncated
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *Reader) I32() int32 {
	return int32(r.U32())
}

func (r *Reader) F32() float32 {
	return math.Float32frombits(r.U32())
}

func (r *Reader) Bool() bool {
	switch r.U8() {
	case 0:
		return false
	case 1:
		return true
	default:
		r.Fail(ErrInvalidBool)
		return false
	}
}

func (r *Reader) Len(size LenSize) int {
	if size == Len16 {
		return int(r.U16())
	}
	return int(r.U8())
}

// String reads length-prefixed text, replacing invalid UTF-8 sequences.
func (r *Reader) String(size LenSize) string {
	n := r.Len(size)
	b := r.take(n)
	if b == nil {
		return ""
	}
	return strings.ToValidUTF8(string(b), "�")
}

// Variant reads an enum discriminant and rejects positions >= count.
func (r *Reader) Variant(count uint8) uint8 {
	v := r.U8()
	if r.err == nil && v >= count {
		r.Fail(fmt.Errorf("%w: %d", ErrUnknownVariant, v))
	}
	return v
}

func ReadOptional[T any](r *Reader, get func(*Reader) T) *T {
	switch r.U8() {
	case 0:
		return nil
	case 1:
		v := get(r)
		if r.err != nil {
			return nil
		}
		return &v
	default:
		r.Fail(ErrInvalidOptional)
		return nil
	}
}

// ReadList returns nil for an empty list.
func ReadList[T any](r *Reader, size LenSize, get func(*Reader) T) []T {
	n := r.Len(size)
	if r.err != nil || n == 0 {
		return nil
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v := get(r)
		if r.err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}
