// Package ipc carries requests between the indexer and its worker child
// processes. Messages are JSON envelopes, one per line, correlated by a
// monotonically increasing id.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// MessageType names a request or response.
type MessageType string

// Protocol messages.
const (
	TypeInit        MessageType = "init"
	TypeReady       MessageType = "ready"
	TypeEmbedBatch  MessageType = "embed_batch"
	TypeEmbeddings  MessageType = "embeddings"
	TypeEmbedQuery  MessageType = "embed_query"
	TypeEmbedding   MessageType = "embedding"
	TypeOCR         MessageType = "ocr"
	TypeOCRResult   MessageType = "ocr_result"
	TypeProgress    MessageType = "progress"
	TypeError       MessageType = "error"
	TypeShutdown    MessageType = "shutdown"
	TypeShutdownAck MessageType = "bye"
)

// Error codes carried by error envelopes.
const (
	CodeGPUFailure        = "gpu_failure"
	CodeInvalidInput      = "invalid_input"
	CodeOCRFailure        = "ocr_failure"
	CodeUnsupportedFormat = "unsupported_format"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

// maxLine bounds a single envelope. A batch of embeddings is the
// largest message.
const maxLine = 64 << 20

// Envelope is the unit of transfer.
type Envelope struct {
	ID      uint64          `json:"id"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s message %d has no payload: %w", e.Type, e.ID, domain.ErrInvalidInput)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// NewEnvelope builds an envelope with payload marshalled as JSON.
func NewEnvelope(id uint64, t MessageType, payload any) (Envelope, error) {
	env := Envelope{ID: id, Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return env, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// RemoteError is an error reported by the other side.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker: %s", e.Message)
}

// Unwrap maps the error code back to a domain sentinel.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeGPUFailure:
		return domain.ErrGPUFailure
	case CodeInvalidInput:
		return domain.ErrInvalidInput
	case CodeOCRFailure:
		return domain.ErrOCRFailure
	case CodeUnsupportedFormat:
		return domain.ErrUnsupportedFormat
	case CodeUnavailable:
		return domain.ErrEmbeddingUnavailable
	default:
		return nil
	}
}

// CodeOf classifies err for an error envelope.
func CodeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrGPUFailure):
		return CodeGPUFailure
	case errors.Is(err, domain.ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, domain.ErrOCRFailure):
		return CodeOCRFailure
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return CodeUnsupportedFormat
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// Reader reads envelopes line by line.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return &Reader{sc: sc}
}

// Read returns the next envelope, io.EOF at the end of the stream.
// Blank lines are skipped.
func (r *Reader) Read() (Envelope, error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
		}
		return env, nil
	}
	if err := r.sc.Err(); err != nil {
		return Envelope{}, err
	}
	return Envelope{}, io.EOF
}

// Writer writes envelopes, safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write sends one envelope followed by a newline.
func (w *Writer) Write(env Envelope) error {
	line, err := json.Marshal(env)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(line)
	return err
}
