package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ncobase/relay/ecode"
)

// Type is the kind of a metric
type Type string

// Metric types
const (
	Counter   Type = "counter"
	Gauge     Type = "gauge"
	Histogram Type = "histogram"
	Summary   Type = "summary"
)

// Valid reports whether t is a known metric type
func (t Type) Valid() bool {
	switch t {
	case Counter, Gauge, Histogram, Summary:
		return true
	}
	return false
}

// ErrInvalidRecord is wrapped by every record and query validation failure.
var ErrInvalidRecord = errors.New("metrics: invalid record")

// Label is one name/value pair. Label order is preserved.
type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Record is one metric sample
type Record struct {
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Labels    []Label   `json:"labels,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Label returns the value of the named label
func (r Record) Label(name string) (string, bool) {
	for _, l := range r.Labels {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// Query selects records of one metric. Zero Start or End leaves that side open.
type Query struct {
	Name   string
	Type   Type
	Start  time.Time
	End    time.Time
	Labels map[string]string
	Limit  int64
}

// member is the sorted set member encoding. The id keeps records with
// identical content and timestamp distinct.
type member struct {
	ID        string  `json:"id"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit,omitempty"`
	Labels    []Label `json:"labels,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

func validateName(name string, t Type) error {
	if name == "" {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, ecode.FieldIsRequired("name"))
	}
	if t == "" {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, ecode.FieldIsRequired("type"))
	}
	if !t.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, ecode.FieldIsInvalidf("type", t))
	}
	return nil
}

func (r Record) validate() error {
	if err := validateName(r.Name, r.Type); err != nil {
		return err
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, ecode.FieldIsInvalidf("value", r.Value))
	}
	return nil
}

func encodeMember(id string, r Record) ([]byte, error) {
	return json.Marshal(member{
		ID:        id,
		Value:     r.Value,
		Unit:      r.Unit,
		Labels:    r.Labels,
		Timestamp: r.Timestamp.UnixMilli(),
	})
}

func decodeMember(name string, t Type, raw string) (Record, error) {
	var m member
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Record{}, err
	}
	return Record{
		Name:      name,
		Type:      t,
		Value:     m.Value,
		Unit:      m.Unit,
		Labels:    m.Labels,
		Timestamp: time.UnixMilli(m.Timestamp),
	}, nil
}

// matchesLabels reports whether r carries every wanted label with the exact value.
func matchesLabels(r Record, want map[string]string) bool {
	for name, value := range want {
		got, ok := r.Label(name)
		if !ok || got != value {
			return false
		}
	}
	return true
}
