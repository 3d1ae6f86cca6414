package pubsub

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/ncobase/relay/ctxutil"
)

// EnvelopeVersion is stamped into every outgoing envelope's metadata
const EnvelopeVersion = "1.0"

// Envelope is the wire format shared by every transport
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Message is a decoded incoming envelope
type Message struct {
	ID        string
	Channel   string
	Type      string
	Payload   json.RawMessage
	Timestamp time.Time
	Metadata  map[string]any
}

// Decode unmarshals the payload into dst
func (m *Message) Decode(dst any) error {
	return json.Unmarshal(m.Payload, dst)
}

// Priority returns the sender's priority, normal when absent
func (m *Message) Priority() Priority {
	if p, ok := m.Metadata["priority"].(string); ok && Priority(p).Valid() {
		return Priority(p)
	}
	return PriorityNormal
}

// TraceID returns the sender's trace id, empty when absent
func (m *Message) TraceID() string {
	s, _ := m.Metadata[ctxutil.TraceIDKey].(string)
	return s
}

// Source returns the sender's source metadata
func (m *Message) Source() string {
	s, _ := m.Metadata["source"].(string)
	return s
}

func encodeEnvelope(p *Publication, source string) ([]byte, error) {
	md := make(map[string]any, len(p.Metadata)+3)
	for k, v := range p.Metadata {
		md[k] = v
	}
	md["version"] = EnvelopeVersion
	md["priority"] = string(p.Priority)
	md["source"] = source

	return json.Marshal(Envelope{
		ID:        p.ID,
		Type:      p.Type,
		Payload:   p.Payload,
		Timestamp: p.Timestamp.UTC().Format(time.RFC3339Nano),
		Metadata:  md,
	})
}

// DecodeEnvelope parses data received on channel. Unknown fields are
// ignored; a missing or empty type, payload or timestamp is rejected.
func DecodeEnvelope(channel string, data []byte) (*Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &MalformedMessageError{Channel: channel, Reason: "invalid JSON", Err: err}
	}

	for _, name := range []string{"type", "payload", "timestamp"} {
		raw, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil, &MalformedMessageError{Channel: channel, Reason: "missing " + name}
		}
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedMessageError{Channel: channel, Reason: "invalid envelope", Err: err}
	}
	if env.Type == "" {
		return nil, &MalformedMessageError{Channel: channel, Reason: "missing type"}
	}

	ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		return nil, &MalformedMessageError{Channel: channel, Reason: "invalid timestamp", Err: err}
	}

	return &Message{
		ID:        env.ID,
		Channel:   channel,
		Type:      env.Type,
		Payload:   env.Payload,
		Timestamp: ts,
		Metadata:  env.Metadata,
	}, nil
}
