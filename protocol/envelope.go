// Package protocol defines the wire envelope shared by the user and agent
// WebSocket fabrics.
package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the binary frame carried over both /ws and /ws/agent. Body
// is type-erased on the wire; callers use DecodeBody to recover the
// concrete payload for a given Type.
type Envelope struct {
	ConversationID string      `msgpack:"conversationId,omitempty" json:"conversationId,omitempty"`
	Type           MessageType `msgpack:"type" json:"type"`
	Body           any         `msgpack:"body" json:"body"`

	// W3C Trace Context, piggybacked on every frame so a client-visible
	// event can be correlated back to the server span that produced it.
	TraceID    string `msgpack:"trace_id,omitempty" json:"traceId,omitempty"`
	SpanID     string `msgpack:"span_id,omitempty" json:"spanId,omitempty"`
	TraceFlags byte   `msgpack:"trace_flags,omitempty" json:"traceFlags,omitempty"`

	SessionID string `msgpack:"session_id,omitempty" json:"sessionId,omitempty"`
	UserID    string `msgpack:"user_id,omitempty" json:"userId,omitempty"`
}

func (e *Envelope) HasTraceContext() bool {
	return e.TraceID != "" && e.SpanID != ""
}

// TraceParent renders the W3C traceparent header format:
// 00-{trace_id}-{span_id}-{flags}.
func (e *Envelope) TraceParent() string {
	if !e.HasTraceContext() {
		return ""
	}
	return fmt.Sprintf("00-%s-%s-%02x", e.TraceID, e.SpanID, e.TraceFlags)
}

func NewEnvelope(msgType MessageType, body any) *Envelope {
	return &Envelope{Type: msgType, Body: body}
}

func (e *Envelope) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &e, nil
}

// DecodeBody recovers a typed payload from an envelope's type-erased Body.
func DecodeBody[T any](e *Envelope) (*T, error) {
	if typed, ok := e.Body.(T); ok {
		return &typed, nil
	}

	data, err := msgpack.Marshal(e.Body)
	if err != nil {
		return nil, fmt.Errorf("re-encode body: %w", err)
	}

	var result T
	if err := msgpack.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode body to %T: %w", result, err)
	}
	return &result, nil
}
