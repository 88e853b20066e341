// Package envelope defines the wire message exchanged between cells over the
// bus, the NATS subject scheme, and the identifier rules shared by the
// translator and the controllers.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type classifies an envelope on the wire.
type Type string

const (
	// TypeMessage carries conversational content into or out of a cell.
	TypeMessage Type = "message"
	// TypeControl carries operational directives (drain, pause).
	TypeControl Type = "control"
	// TypeEvent carries structured event records.
	TypeEvent Type = "event"
)

// Envelope is the wire message. Payload is opaque to the bus: either a JSON
// object or a bare string, preserved as raw JSON.
type Envelope struct {
	ID           string            `json:"id"`
	From         string            `json:"from"`
	To           string            `json:"to"`
	Type         Type              `json:"type"`
	Payload      json.RawMessage   `json:"payload"`
	TraceID      string            `json:"traceId,omitempty"`
	TraceContext map[string]string `json:"traceContext,omitempty"`
}

// MessagePayload is the payload shape for TypeMessage envelopes.
type MessagePayload struct {
	Content string `json:"content"`
}

// ControlPayload is the payload shape for TypeControl envelopes.
type ControlPayload struct {
	Command            string `json:"command"` // "drain" or "pause"
	GracePeriodSeconds int    `json:"gracePeriodSeconds,omitempty"`
	Reason             string `json:"reason,omitempty"`
}

// New builds an envelope with a fresh UUID and the given payload, which is
// JSON-marshaled. Marshal failures are impossible for the payload types used
// in this module, but the error is surfaced for opaque caller payloads.
func New(from, to string, typ Type, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Envelope{
		ID:      uuid.New().String(),
		From:    from,
		To:      to,
		Type:    typ,
		Payload: raw,
	}, nil
}

// NewMessage builds a message envelope carrying plain text content.
func NewMessage(from, to, content string) *Envelope {
	env, _ := New(from, to, TypeMessage, MessagePayload{Content: content})
	return env
}

// NewControl builds a control envelope.
func NewControl(from, to string, payload ControlPayload) *Envelope {
	env, _ := New(from, to, TypeControl, payload)
	return env
}

// Content extracts the text content of a message payload. A bare JSON string
// payload is returned as-is; an object payload yields its "content" field.
func (e *Envelope) Content() string {
	var s string
	if err := json.Unmarshal(e.Payload, &s); err == nil {
		return s
	}
	var mp MessagePayload
	if err := json.Unmarshal(e.Payload, &mp); err == nil {
		return mp.Content
	}
	return string(e.Payload)
}

// Control extracts a control payload. Returns an error for non-control
// envelopes or malformed payloads.
func (e *Envelope) Control() (ControlPayload, error) {
	if e.Type != TypeControl {
		return ControlPayload{}, fmt.Errorf("not a control envelope: %s", e.Type)
	}
	var cp ControlPayload
	if err := json.Unmarshal(e.Payload, &cp); err != nil {
		return ControlPayload{}, fmt.Errorf("parse control payload: %w", err)
	}
	return cp, nil
}

// Marshal serializes the envelope for the wire.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses an envelope from wire bytes and validates the minimum
// shape: non-empty id and a known type.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("envelope missing id")
	}
	switch env.Type {
	case TypeMessage, TypeControl, TypeEvent:
	default:
		return nil, fmt.Errorf("unknown envelope type: %q", env.Type)
	}
	return &env, nil
}

// Event is the structured record published on the per-cell events subject.
type Event struct {
	Type      string          `json:"type"`
	CellName  string          `json:"cellName"`
	Namespace string          `json:"namespace"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Event types emitted by the cell runtime.
const (
	EventStarted        = "started"
	EventStopped        = "stopped"
	EventResponse       = "response"
	EventError          = "error"
	EventBudgetExceeded = "budget_exceeded"
	EventMaxIterations  = "max_iterations"
)

// NewEvent builds an event record stamped with the current time.
func NewEvent(typ, cellName, namespace string, payload any) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		raw = b
	}
	return &Event{
		Type:      typ,
		CellName:  cellName,
		Namespace: namespace,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// Marshal serializes the event for the wire.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent parses an event from wire bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("event missing type")
	}
	return &ev, nil
}
