package relay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/bytedance/sonic"
)

// MaxFrameSize bounds a single newline-delimited frame.
const MaxFrameSize = 4 << 20

var codec = sonic.ConfigStd

// Frame is one line on a relay connection. A frame without To is the name
// handshake; the relay answers it with a frame carrying the effective Name.
// Data frames carry a Watermill message and are routed by To; the relay
// replaces To with From before forwarding.
type Frame struct {
	Name     string            `json:"name,omitempty"`
	To       Targets           `json:"to,omitempty"`
	From     string            `json:"from,omitempty"`
	UUID     string            `json:"uuid,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
}

// IsHandshake reports whether the frame names a connection instead of
// carrying data. Forwarded data frames have From set and To removed.
func (f *Frame) IsHandshake() bool {
	return len(f.To) == 0 && f.From == ""
}

// Targets is the destination list of a frame. On the wire it is either a
// single name or a list of names.
type Targets []string

func (t Targets) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return codec.Marshal(t[0])
	}
	return codec.Marshal([]string(t))
}

func (t *Targets) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := codec.Unmarshal(data, &single); err != nil {
			return err
		}
		*t = Targets{single}
		return nil
	}
	var many []string
	if err := codec.Unmarshal(data, &many); err != nil {
		return err
	}
	*t = many
	return nil
}

// WriteFrame encodes f as one line.
func WriteFrame(w *bufio.Writer, f *Frame) error {
	data, err := codec.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// ErrFrameTooLarge is returned when a line exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("relay: frame too large")

// ReadFrame reads and decodes one line. Blank lines are skipped.
func ReadFrame(r *bufio.Reader) (*Frame, error) {
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var f Frame
		if err := codec.Unmarshal(line, &f); err != nil {
			return nil, &DecodeError{Err: err}
		}
		return &f, nil
	}
}

// DecodeError reports a line that is not a valid frame. The connection stays
// usable after it.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "relay: invalid frame: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > MaxFrameSize {
			return nil, ErrFrameTooLarge
		}
		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return buf, nil
		default:
			return nil, err
		}
	}
}
