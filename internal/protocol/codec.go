package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Wire framing is newline-delimited JSON: one envelope per line. The
// same codec serves the socket server, the HTTP surface, and tests.

// MaxFrameBytes bounds a single wire frame. Oversized frames indicate a
// broken or hostile client and abort the read loop.
const MaxFrameBytes = 1 << 20

// Decoder reads newline-delimited JSON frames from a stream
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r with frame-size limits applied
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameBytes)
	return &Decoder{scanner: scanner}
}

// Decode reads the next frame into v. Returns io.EOF at end of stream.
func (d *Decoder) Decode(v any) error {
	for {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return err
			}
			return io.EOF
		}
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, v); err != nil {
			return fmt.Errorf("malformed frame: %w", err)
		}
		return nil
	}
}

// Encoder writes newline-delimited JSON frames to a stream
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v as one frame
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
