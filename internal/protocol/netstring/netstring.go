package netstring

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// Separator ends the decimal length prefix.
	Separator byte = ':'
	// Terminator follows every payload and is not counted in its length.
	Terminator byte = ','
	// DefaultMaxFrameSize matches the nine-digit prefix the worker accepts.
	DefaultMaxFrameSize = 999999999
)

// ErrFraming is matched by every *FramingError.
var ErrFraming = errors.New("netstring: framing error")

// Kind classifies a framing failure.
type Kind int

const (
	KindInvalidPrefix Kind = iota
	KindMissingTerminator
	KindTooLarge
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindInvalidPrefix:
		return "invalid_prefix"
	case KindMissingTerminator:
		return "missing_terminator"
	case KindTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// FramingError reports a malformed or oversized frame.
type FramingError struct {
	Kind   Kind
	Offset int64 // stream offset of the offending frame
	Detail string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("netstring: %s at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

// Is reports whether target is ErrFraming.
func (e *FramingError) Is(target error) bool {
	return target == ErrFraming
}

// Encode returns payload framed as "<len>:<payload>,".
func Encode(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, len(payload)+12), payload)
}

// AppendFrame appends the framed payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, Separator)
	dst = append(dst, payload...)
	return append(dst, Terminator)
}

// WriteFrame writes one frame to w with a single Write call so concurrent
// writers holding their own lock never interleave partial frames.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(Encode(payload))
	return err
}

// Decoder reassembles frames from arbitrarily split input.
type Decoder struct {
	max       int
	maxDigits int
	buf       []byte
	offset    int64
	err       error
}

// NewDecoder creates a decoder rejecting frames larger than maxFrameSize.
// A non-positive size selects DefaultMaxFrameSize.
func NewDecoder(maxFrameSize int) *Decoder {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Decoder{
		max:       maxFrameSize,
		maxDigits: len(strconv.Itoa(maxFrameSize)),
	}
}

// Feed appends p to the pending input and returns every payload completed by
// it. Payloads completed before a malformed frame are returned along with the
// error. Once an error is returned the decoder keeps returning it.
func (d *Decoder) Feed(p []byte) ([][]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, p...)

	var frames [][]byte
	start := 0
	for {
		payload, n, err := d.next(d.buf[start:])
		if err != nil {
			d.err = err
			d.buf = nil
			return frames, err
		}
		if n == 0 {
			break
		}
		frames = append(frames, payload)
		start += n
		d.offset += int64(n)
	}

	// compact so the buffer does not grow with the stream
	rest := copy(d.buf, d.buf[start:])
	d.buf = d.buf[:rest]
	return frames, nil
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Err returns the error that stopped the decoder, if any.
func (d *Decoder) Err() error {
	return d.err
}

// next parses one frame from b. n is zero when more input is needed.
func (d *Decoder) next(b []byte) (payload []byte, n int, err error) {
	digits := 0
	for digits < len(b) && b[digits] >= '0' && b[digits] <= '9' {
		digits++
	}
	if digits > 1 && b[0] == '0' {
		return nil, 0, d.fail(KindInvalidPrefix, "leading zero in length prefix")
	}
	if digits > d.maxDigits {
		return nil, 0, d.fail(KindTooLarge, fmt.Sprintf("length prefix exceeds %d digits", d.maxDigits))
	}
	if digits == len(b) {
		return nil, 0, nil
	}
	if b[digits] != Separator {
		return nil, 0, d.fail(KindInvalidPrefix, fmt.Sprintf("unexpected byte %q in length prefix", b[digits]))
	}
	if digits == 0 {
		return nil, 0, d.fail(KindInvalidPrefix, "empty length prefix")
	}

	length, convErr := strconv.Atoi(string(b[:digits]))
	if convErr != nil || length > d.max {
		return nil, 0, d.fail(KindTooLarge, fmt.Sprintf("declared length %s exceeds maximum %d", b[:digits], d.max))
	}

	body := digits + 1
	end := body + length
	if len(b) <= end {
		return nil, 0, nil
	}
	if b[end] != Terminator {
		return nil, 0, d.fail(KindMissingTerminator, fmt.Sprintf("expected %q after %d byte payload, got %q", Terminator, length, b[end]))
	}

	payload = make([]byte, length)
	copy(payload, b[body:end])
	return payload, end + 1, nil
}

func (d *Decoder) fail(kind Kind, detail string) error {
	return &FramingError{Kind: kind, Offset: d.offset, Detail: detail}
}

// Reader reads whole frames from an underlying byte stream.
type Reader struct {
	r       io.Reader
	dec     *Decoder
	pending [][]byte
	chunk   []byte
}

// NewReader creates a frame reader over r.
func NewReader(r io.Reader, maxFrameSize int) *Reader {
	return &Reader{
		r:     r,
		dec:   NewDecoder(maxFrameSize),
		chunk: make([]byte, 32*1024),
	}
}

// ReadFrame returns the next payload. Errors from the underlying reader are
// returned unchanged once buffered frames are exhausted; io.ErrUnexpectedEOF
// is returned when the stream ends inside a frame.
func (r *Reader) ReadFrame() ([]byte, error) {
	for len(r.pending) == 0 {
		if err := r.dec.Err(); err != nil {
			return nil, err
		}
		n, err := r.r.Read(r.chunk)
		if n > 0 {
			frames, ferr := r.dec.Feed(r.chunk[:n])
			r.pending = append(r.pending, frames...)
			if ferr != nil {
				if len(r.pending) > 0 {
					break
				}
				return nil, ferr
			}
		}
		if err != nil {
			if len(r.pending) > 0 {
				break
			}
			if errors.Is(err, io.EOF) && r.dec.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	frame := r.pending[0]
	r.pending = r.pending[1:]
	return frame, nil
}
