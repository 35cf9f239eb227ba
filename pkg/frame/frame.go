package frame

import (
	"encoding/binary"
	"fmt"
)

const (
	// Start1 and Start2 are the two start marker bytes.
	Start1 byte = 0x94
	Start2 byte = 0xC3

	// HeaderLen is the marker plus the length field.
	HeaderLen = 4

	// MaxPayload is the largest payload a gateway accepts in one frame.
	MaxPayload = 512
)

// Frame is one length-delimited record. Payload is the protobuf envelope.
type Frame struct {
	Payload []byte
}

// EncodingError is returned by Encode when the payload cannot be framed.
type EncodingError struct {
	Size int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("frame: payload of %d bytes exceeds maximum of %d", e.Size, MaxPayload)
}

// Encode wraps payload in a frame. The payload is copied.
func Encode(payload []byte) (Frame, error) {
	if len(payload) > MaxPayload {
		return Frame{}, &EncodingError{Size: len(payload)}
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	return Frame{Payload: p}, nil
}

// Len returns the on-wire size of the frame.
func (f Frame) Len() int {
	return HeaderLen + len(f.Payload)
}

// Bytes renders the frame as it appears on the wire.
func (f Frame) Bytes() []byte {
	buf := make([]byte, f.Len())
	buf[0] = Start1
	buf[1] = Start2
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(f.Payload)))
	copy(buf[HeaderLen:], f.Payload)
	return buf
}
