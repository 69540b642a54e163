package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the fixed wire header size:
// [version:1][message_type:1][body_length:4 BE][reserved:2].
const HeaderLen = 8

var (
	ErrIncompleteHeader = errors.New("frame: incomplete header")
	ErrBodyTooLarge     = errors.New("frame: body too large")
	ErrBodyRead         = errors.New("frame: body read failed")
	ErrShortBody        = shortBodyError{}
)

// shortBodyError matches both ErrShortBody and ErrBodyRead so callers that
// only care about "the body did not arrive" can test for ErrBodyRead.
type shortBodyError struct{}

func (shortBodyError) Error() string { return "frame: body ended before declared length" }

func (shortBodyError) Is(target error) bool { return target == ErrBodyRead }

// Header is the fixed wire header. Reserved bytes are carried but not validated.
type Header struct {
	Version     uint8
	MessageType uint8
	BodyLen     uint32
	Reserved    [2]byte
}

// Frame is one header plus body unit.
type Frame struct {
	Header Header
	Body   []byte
}

// Limits bounds what a reader will allocate for a peer-declared body length.
type Limits struct {
	MaxBodyBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxBodyBytes: 8 * 1024 * 1024}
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = h.Version
	buf[1] = h.MessageType
	binary.BigEndian.PutUint32(buf[2:6], h.BodyLen)
	buf[6] = h.Reserved[0]
	buf[7] = h.Reserved[1]
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("%w: got %d bytes", ErrIncompleteHeader, len(b))
	}
	return Header{
		Version:     b[0],
		MessageType: b[1],
		BodyLen:     binary.BigEndian.Uint32(b[2:6]),
		Reserved:    [2]byte{b[6], b[7]},
	}, nil
}

// ReadHeader fills exactly HeaderLen bytes from r. Any failure to fill,
// including a partial read followed by end of stream, is terminal.
func ReadHeader(r io.Reader) (Header, error) {
	var fixed [HeaderLen]byte
	n, err := io.ReadFull(r, fixed[:])
	if err != nil {
		return Header{}, fmt.Errorf("%w: read %d of %d bytes: %w", ErrIncompleteHeader, n, HeaderLen, err)
	}
	return DecodeHeader(fixed[:])
}

// ReadBody reads exactly h.BodyLen bytes. The declared length is checked
// against limits before anything is allocated.
func ReadBody(r io.Reader, h Header, limits Limits) ([]byte, error) {
	if h.BodyLen > limits.MaxBodyBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, h.BodyLen, limits.MaxBodyBytes)
	}
	body := make([]byte, h.BodyLen)
	if h.BodyLen == 0 {
		return body, nil
	}
	n, err := io.ReadFull(r, body)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: read %d of %d bytes", ErrShortBody, n, h.BodyLen)
		}
		return nil, fmt.Errorf("%w: read %d of %d bytes: %w", ErrBodyRead, n, h.BodyLen, err)
	}
	return body, nil
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Frame{}, err
	}
	body, err := ReadBody(r, h, limits)
	if err != nil {
		return Frame{Header: h}, err
	}
	return Frame{Header: h, Body: body}, nil
}

// WriteFrame writes header and body in a single Write call. BodyLen is taken
// from len(f.Body).
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Body)) > uint64(limits.MaxBodyBytes) {
		return fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, len(f.Body), limits.MaxBodyBytes)
	}
	h := f.Header
	h.BodyLen = uint32(len(f.Body))

	buf := make([]byte, 0, HeaderLen+len(f.Body))
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Body...)
	_, err := w.Write(buf)
	return err
}
