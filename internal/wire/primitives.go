// Package wire implements the SSH 2.0 primitive encoders and decoders
// (RFC 4251 §5) and the per-message-type layer built on top of them.
package wire

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
)

// Writer accumulates a message payload using the SSH wire primitives.
// It never returns an error: payload construction from in-memory values
// cannot fail, matching the teacher's writePacket helpers that build into
// a bytes.Buffer directly.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Byte appends a single byte (the `byte` primitive).
func (w *Writer) Byte(b byte) *Writer {
	w.buf = append(w.buf, b)
	return w
}

// Uint32 appends a 4-byte big-endian unsigned integer.
func (w *Writer) Uint32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// Bool appends the `boolean` primitive: a single byte, 0 or 1.
func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.Byte(1)
	}
	return w.Byte(0)
}

// String appends the `string` primitive: a uint32 length followed by the
// raw bytes. Despite the name, this also encodes arbitrary binary blobs
// (SSH's "string" type is length-prefixed bytes, not necessarily text).
func (w *Writer) String(s []byte) *Writer {
	w.Uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// Text is String for a Go string argument.
func (w *Writer) Text(s string) *Writer {
	return w.String([]byte(s))
}

// NameList appends the `name-list` primitive: a comma-separated ASCII
// name list, itself wire-encoded as a `string`.
func (w *Writer) NameList(names []string) *Writer {
	return w.Text(strings.Join(names, ","))
}

// Raw appends bytes verbatim, with no length prefix. Used for padding,
// cookies, and other fixed-size fields.
func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// MPInt appends the `mpint` primitive: two's-complement big-endian with a
// leading zero byte whenever the high bit would otherwise be set, and the
// empty string for zero.
func (w *Writer) MPInt(x *big.Int) *Writer {
	return w.Raw(EncodeMPInt(x))
}

// MPIntBytes appends an mpint given its unsigned big-endian magnitude,
// adding the leading zero byte rule directly (used for the KEX shared
// secret, which is already produced as raw bytes rather than a big.Int).
func (w *Writer) MPIntBytes(magnitude []byte) *Writer {
	return w.Raw(EncodeMPIntBytes(magnitude))
}

// EncodeMPInt renders x per the mpint rule, including its uint32 length
// prefix.
func EncodeMPInt(x *big.Int) []byte {
	if x == nil || x.Sign() == 0 {
		return EncodeMPIntBytes(nil)
	}
	if x.Sign() < 0 {
		panic("wire: negative mpint not supported")
	}
	return EncodeMPIntBytes(x.Bytes())
}

// EncodeMPIntBytes applies the mpint leading-zero rule to an unsigned
// big-endian magnitude that is already known to be non-negative, and
// returns the full wire form: uint32 length followed by the bytes.
func EncodeMPIntBytes(magnitude []byte) []byte {
	// Strip any incidental leading zeros first so the MSB test below is
	// meaningful.
	for len(magnitude) > 0 && magnitude[0] == 0 {
		magnitude = magnitude[1:]
	}
	if len(magnitude) > 0 && magnitude[0]&0x80 != 0 {
		magnitude = append([]byte{0}, magnitude...)
	}
	return NewWriter().String(magnitude).Bytes()
}

// Reader parses wire primitives out of a message payload in order,
// recording the first error encountered (subsequent reads become no-ops
// returning zero values), so callers can chain several reads and check
// Err() once at the end.
type Reader struct {
	buf []byte
	err error
}

// NewReader wraps a payload for sequential parsing.
func NewReader(payload []byte) *Reader {
	return &Reader{buf: payload}
}

// Err returns the first parse error encountered, if any.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Byte reads a single byte.
func (r *Reader) Byte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 1 {
		r.fail(errShortRead("byte"))
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

// Uint32 reads a 4-byte big-endian unsigned integer.
func (r *Reader) Uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 4 {
		r.fail(errShortRead("uint32"))
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[:4])
	r.buf = r.buf[4:]
	return v
}

// Bool reads a single-byte boolean; any non-zero byte is true.
func (r *Reader) Bool() bool {
	return r.Byte() != 0
}

// String reads a length-prefixed byte string.
func (r *Reader) String() []byte {
	if r.err != nil {
		return nil
	}
	n := r.Uint32()
	if r.err != nil {
		return nil
	}
	if uint64(len(r.buf)) < uint64(n) {
		r.fail(errShortRead("string"))
		return nil
	}
	s := r.buf[:n]
	r.buf = r.buf[n:]
	return s
}

// Text reads a length-prefixed string as Go text.
func (r *Reader) Text() string {
	return string(r.String())
}

// NameList reads a name-list (a string split on commas). An empty wire
// string decodes to an empty, non-nil slice.
func (r *Reader) NameList() []string {
	s := r.Text()
	if r.err != nil {
		return nil
	}
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

// Raw reads n raw bytes with no length prefix (e.g. the KEXINIT cookie).
func (r *Reader) Raw(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.fail(errShortRead("raw"))
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

// MPInt reads an mpint primitive into a big.Int. Values are always
// treated as non-negative, matching this client's only use (the KEX
// shared secret and signed integers are never negative here).
func (r *Reader) MPInt() *big.Int {
	b := r.String()
	if r.err != nil {
		return nil
	}
	return new(big.Int).SetBytes(b)
}

// Remaining returns whatever bytes are left unparsed.
func (r *Reader) Remaining() []byte {
	return r.buf
}

func errShortRead(field string) error {
	return fmt.Errorf("wire: short read decoding %s", field)
}
