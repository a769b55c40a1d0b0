// Package framecodec implements the wire framing used by the daemon
// transport: one UTF-8 JSON value per frame, terminated
// by a single '\n', capped at a hard per-frame byte limit. Connections
// are one-shot request/response; any bytes after the first newline are
// discarded by the caller, not by this package.
package framecodec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// DefaultMaxFrameBytes is the default hard cap on one frame's raw bytes.
const DefaultMaxFrameBytes = 4 * 1024 * 1024

// ErrFrameOversize is returned when a frame's bytes before the newline
// exceed the cap, or a connection buffers more than the cap without
// producing a newline.
var ErrFrameOversize = errors.New("framecodec: frame exceeds maximum size")

// ErrFrameInvalidJSON is returned when a complete frame's bytes are not
// well-formed JSON.
var ErrFrameInvalidJSON = errors.New("framecodec: frame is not valid JSON")

// Encode marshals v and appends the frame terminator.
func Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, body...)
	out = append(out, '\n')
	return out, nil
}

// Decoder reads exactly one frame per connection from r.
type Decoder struct {
	r        io.Reader
	maxBytes int
	buf      []byte
	readBuf  []byte
}

// NewDecoder builds a Decoder with the given hard byte cap. maxBytes<=0
// selects DefaultMaxFrameBytes.
func NewDecoder(r io.Reader, maxBytes int) *Decoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &Decoder{r: r, maxBytes: maxBytes, readBuf: make([]byte, 4096)}
}

// ReadFrame reads and returns one frame's raw bytes, excluding the
// trailing newline. Any bytes read past the newline are retained for a
// subsequent ReadFrame call on the same Decoder, though the daemon
// transport never issues one (connections are single-shot).
func (d *Decoder) ReadFrame() ([]byte, error) {
	for {
		if idx := bytes.IndexByte(d.buf, '\n'); idx >= 0 {
			if idx > d.maxBytes {
				return nil, ErrFrameOversize
			}
			frame := make([]byte, idx)
			copy(frame, d.buf[:idx])
			d.buf = d.buf[idx+1:]
			return frame, nil
		}
		if len(d.buf) > d.maxBytes {
			return nil, ErrFrameOversize
		}
		n, err := d.r.Read(d.readBuf)
		if n > 0 {
			d.buf = append(d.buf, d.readBuf[:n]...)
			if len(d.buf) > d.maxBytes && bytes.IndexByte(d.buf, '\n') < 0 {
				return nil, ErrFrameOversize
			}
		}
		if err != nil {
			if err == io.EOF && len(d.buf) > 0 {
				// A frame without a trailing newline at EOF is still
				// treated as incomplete: callers expect ReadFrame to
				// only succeed on a terminated frame.
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// Decode reads one frame and unmarshals it into v.
func Decode(r io.Reader, maxBytes int, v any) error {
	d := NewDecoder(r, maxBytes)
	frame, err := d.ReadFrame()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(frame, v); err != nil {
		return ErrFrameInvalidJSON
	}
	return nil
}
