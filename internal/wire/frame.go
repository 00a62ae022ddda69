package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the fixed prefix of every frame.
const HeaderSize = 12

// MaxPayload bounds a single frame's payload.
const MaxPayload = 16 << 20

var (
	// ErrShortFrame reports a connection that ended inside a frame.
	ErrShortFrame = errors.New("wire: short frame")
	// ErrFrameTooLarge reports a declared length above MaxPayload.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum payload")
)

// Frame is one command or response message.
type Frame struct {
	Tag     Tag
	Version uint32
	Payload []byte
}

// WriteFrame encodes f to w as header plus payload.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(f.Payload))
	}
	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(f.Tag))
	binary.BigEndian.PutUint32(buf[4:8], f.Version)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame decodes exactly one frame from r. A clean EOF before any header
// byte is returned as io.EOF; any other truncation is ErrShortFrame.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: header", ErrShortFrame)
		}
		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}
	f := Frame{
		Tag:     Tag(binary.BigEndian.Uint32(header[0:4])),
		Version: binary.BigEndian.Uint32(header[4:8]),
	}
	length := binary.BigEndian.Uint32(header[8:12])
	if length > MaxPayload {
		return Frame{}, fmt.Errorf("%w: declared %d bytes", ErrFrameTooLarge, length)
	}
	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: payload wants %d bytes", ErrShortFrame, length)
		}
		return Frame{}, fmt.Errorf("read frame payload: %w", err)
	}
	return f, nil
}

// IsProtocolError reports whether err came from a malformed frame.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrShortFrame) || errors.Is(err, ErrFrameTooLarge)
}
