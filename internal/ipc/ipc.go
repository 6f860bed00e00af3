// Package ipc defines the JSON message framing used between the queue
// runtime and its worker child processes.
//
// The source protocol this is modeled on ships a processor's function body
// as source text for the child to evaluate. That's replaced here with a
// named-handler registry: the child process is the same compiled binary,
// re-executed in worker mode, so every handler registered in the parent is
// already present in the child. "set-processor" now carries a handler name
// instead of code, and the child looks it up instead of compiling anything.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MessageType identifies the shape of a Message's payload.
type MessageType string

const (
	// Parent -> child.
	TypeSetProcessor MessageType = "set-processor"
	TypeExecute      MessageType = "execute"
	TypeTerminate    MessageType = "terminate"

	// Child -> parent.
	TypeReady    MessageType = "ready"
	TypeProgress MessageType = "progress"
	TypeResult   MessageType = "result"
)

// Message is the single envelope type exchanged in both directions. Fields
// irrelevant to a given Type are left zero.
type Message struct {
	Type MessageType `json:"type"`

	// set-processor
	Handler string `json:"handler,omitempty"`

	// execute
	JobID     string `json:"jobId,omitempty"`
	Payload   []byte `json:"payload,omitempty"`
	TimeoutMS int64  `json:"timeoutMs,omitempty"`

	// progress
	Progress int `json:"progress,omitempty"`

	// result
	Result *Result `json:"result,omitempty"`
}

// Result carries a job execution's outcome.
type Result struct {
	Success bool   `json:"success"`
	Value   []byte `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Encoder writes newline-delimited JSON messages to an underlying writer.
// Safe for concurrent use; writes are serialized.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one message followed by a newline.
func (e *Encoder) Encode(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ipc: encoding message: %w", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err = e.w.Write(data)
	if err != nil {
		return fmt.Errorf("ipc: writing message: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited JSON messages from an underlying reader.
// Not safe for concurrent use; each side of the protocol only ever has one
// reader goroutine.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return &Decoder{scanner: scanner}
}

// Decode reads the next message. Returns io.EOF once the underlying stream
// is exhausted.
func (d *Decoder) Decode() (Message, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return Message{}, fmt.Errorf("ipc: reading message: %w", err)
		}
		return Message{}, io.EOF
	}

	var msg Message
	if err := json.Unmarshal(d.scanner.Bytes(), &msg); err != nil {
		return Message{}, fmt.Errorf("ipc: decoding message: %w", err)
	}
	return msg, nil
}
