package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MalformedReason says why a header was rejected.
type MalformedReason int

const (
	// ReasonOversize: the length field is above MaxPayload.
	ReasonOversize MalformedReason = iota
	// ReasonNoTrailingMarker: the bytes after the announced payload do not
	// start another frame, so the length field is wrong.
	ReasonNoTrailingMarker
)

// MalformedFrameError describes a header whose length field cannot be valid.
type MalformedFrameError struct {
	Length int
	Reason MalformedReason
}

func (e *MalformedFrameError) Error() string {
	if e.Reason == ReasonNoTrailingMarker {
		return fmt.Sprintf("frame: malformed header, length %d is not followed by a start marker", e.Length)
	}
	return fmt.Sprintf("frame: malformed header, length %d exceeds maximum of %d", e.Length, MaxPayload)
}

// Result is one item of a decoded stream: either a frame or a malformed header.
type Result struct {
	Frame     Frame
	Malformed *MalformedFrameError
}

// OK reports whether the result carries a valid frame.
func (r Result) OK() bool {
	return r.Malformed == nil
}

// Decoder turns a byte stream into frames. It is not safe for concurrent use;
// each connection owns its own decoder.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends bytes read from the stream.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next decoded result. It returns false when the buffered
// bytes do not yet hold a complete frame; feeding more data resumes decoding.
//
// A complete frame is accepted only if the bytes buffered after it begin
// another frame (a start marker, or a lone Start1 awaiting its pair) or there
// are none. Anything else means the length field was corrupt: the header is
// reported as malformed and the scan resumes right after its marker, which
// recovers frames that a too-long length would otherwise swallow.
func (d *Decoder) Next() (Result, bool) {
	if !d.sync() || len(d.buf) < HeaderLen {
		return Result{}, false
	}
	n := int(binary.BigEndian.Uint16(d.buf[2:4]))
	if n > MaxPayload {
		return d.reject(n, ReasonOversize), true
	}
	if len(d.buf) < HeaderLen+n {
		return Result{}, false
	}
	if !startsFrame(d.buf[HeaderLen+n:]) {
		return d.reject(n, ReasonNoTrailingMarker), true
	}
	payload := make([]byte, n)
	copy(payload, d.buf[HeaderLen:HeaderLen+n])
	d.buf = d.buf[HeaderLen+n:]
	return Result{Frame: Frame{Payload: payload}}, true
}

// reject drops the marker of a bad header so the scan resumes after it.
func (d *Decoder) reject(n int, reason MalformedReason) Result {
	d.buf = d.buf[2:]
	return Result{Malformed: &MalformedFrameError{Length: n, Reason: reason}}
}

// startsFrame reports whether rest is empty or could be the start of a frame.
func startsFrame(rest []byte) bool {
	switch len(rest) {
	case 0:
		return true
	case 1:
		return rest[0] == Start1
	default:
		return rest[0] == Start1 && rest[1] == Start2
	}
}

// Decode feeds p and drains every result that became available.
func (d *Decoder) Decode(p []byte) []Result {
	d.Feed(p)
	var out []Result
	for {
		r, ok := d.Next()
		if !ok {
			break
		}
		out = append(out, r)
	}
	d.compact()
	return out
}

// Buffered returns the number of residual bytes awaiting more input.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards residual bytes.
func (d *Decoder) Reset() {
	d.buf = nil
}

// sync discards bytes up to the next start marker. It returns false when no
// marker is buffered; a trailing Start1 is kept since its pair may follow.
func (d *Decoder) sync() bool {
	if len(d.buf) >= 2 && d.buf[0] == Start1 && d.buf[1] == Start2 {
		return true
	}
	i := bytes.Index(d.buf, []byte{Start1, Start2})
	if i >= 0 {
		d.buf = d.buf[i:]
		return true
	}
	if n := len(d.buf); n > 0 && d.buf[n-1] == Start1 {
		d.buf = d.buf[n-1:]
	} else {
		d.buf = d.buf[:0]
	}
	return false
}

// compact moves residual bytes to a fresh slice so the backing array of a
// long stream does not grow without bound.
func (d *Decoder) compact() {
	if cap(d.buf) > 4*MaxPayload && len(d.buf) < MaxPayload {
		b := make([]byte, len(d.buf))
		copy(b, d.buf)
		d.buf = b
	}
}
