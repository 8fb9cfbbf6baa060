// Package codec frames the line-delimited JSON carrier used on every IPC
// edge. One JSON value per line, UTF-8, '\n' terminated.
package codec

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
)

const (
	// initialBuffer is the scanner's starting allocation.
	initialBuffer = 64 * 1024
	// MaxLine bounds a single wire line. Lines beyond this abort the stream.
	MaxLine = 1024 * 1024
)

// Encoder serializes values onto a line-oriented JSON stream. Each Emit
// writes one line and flushes, so a peer reading the stream always observes
// whole values. Safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder wraps w in a line-oriented JSON encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Emit writes the JSON serialization of v followed by a newline and flushes.
func (e *Encoder) Emit(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(data); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}

// NewScanner returns a line scanner over r sized for protocol traffic.
// Large Update payloads need far more than the bufio default.
func NewScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialBuffer), MaxLine)
	return scanner
}

// Decode parses one wire line into v.
func Decode(line []byte, v interface{}) error {
	return json.Unmarshal(line, v)
}
