package telemetry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// LineError reports a malformed input line. Decoding can continue past it.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("telemetry: line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// MaxLineSize bounds a single input line, newline included.
const MaxLineSize = 64 << 10

// ErrLineTooLong is wrapped in the *LineError returned for a line longer than
// MaxLineSize. The line is discarded.
var ErrLineTooLong = errors.New("line exceeds 64 KiB")

// Decoder reads samples encoded as JSON lines, e.g.
//
//	{"kind":"play_state","value":1}
//	{"kind":"health","value":0.5}
//
// Blank lines and lines starting with # are skipped.
type Decoder struct {
	r    *bufio.Reader
	line int
}

// NewDecoder reads samples from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, MaxLineSize)}
}

// Next returns the next sample, or io.EOF when the input is exhausted. A
// malformed or oversized line yields a *LineError and decoding may continue
// with the next call. Any other error is final.
func (d *Decoder) Next() (Sample, error) {
	for {
		raw, err := d.readLine()
		switch {
		case errors.Is(err, io.EOF):
			return Sample{}, io.EOF
		case errors.Is(err, ErrLineTooLong):
			d.line++
			return Sample{}, &LineError{Line: d.line, Err: err}
		case err != nil:
			return Sample{}, fmt.Errorf("telemetry: read: %w", err)
		}
		d.line++

		text := strings.TrimSpace(string(raw))
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var s Sample
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return Sample{}, &LineError{Line: d.line, Err: err}
		}
		if s.Kind == "" {
			return Sample{}, &LineError{Line: d.line, Err: errors.New("missing kind")}
		}

		return s, nil
	}
}

// readLine returns the next line. A final line without a newline is still
// returned; io.EOF only comes once nothing is left. An oversized line is
// consumed through its newline and reported as ErrLineTooLong.
func (d *Decoder) readLine() ([]byte, error) {
	raw, err := d.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = d.r.ReadSlice('\n')
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, ErrLineTooLong
	}
	if errors.Is(err, io.EOF) && len(raw) > 0 {
		return raw, nil
	}
	return raw, err
}
