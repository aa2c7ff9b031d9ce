// Package mqttconv implements the Legacy-to-New topic converter translating
// "tedge/..." topics into the "te/..." entity-topic scheme (spec §4.A),
// grounded on tedge_to_te_converter.
package mqttconv

import (
	"encoding/json"
	"fmt"

	"github.com/thin-edge/tedge-mapper/internal/topic"
)

// Message is a minimal MQTT message representation decoupled from any
// specific client library.
type Message struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// LegacyConverter translates incoming legacy "tedge/..." messages into the
// new-scheme "te/..." topic layout. Unrecognized topics are dropped.
type LegacyConverter struct{}

// NewLegacyConverter constructs a LegacyConverter.
func NewLegacyConverter() *LegacyConverter {
	return &LegacyConverter{}
}

// Convert maps a single incoming message to zero or one outgoing messages.
func (c *LegacyConverter) Convert(in Message) ([]Message, error) {
	lt, ok := topic.ParseLegacyTopic(in.Topic)
	if !ok {
		return nil, nil
	}

	target := topic.NewTarget(lt.TargetEntity())
	outTopic := target.Topic(lt.TargetChannel())

	payload := in.Payload
	if lt.Kind == topic.LegacyAlarm {
		merged, err := injectSeverity(in.Payload, lt.Severity)
		if err != nil {
			return nil, fmt.Errorf("mqttconv: converting alarm payload on %q: %w", in.Topic, err)
		}
		payload = merged
	}

	return []Message{{Topic: outTopic, Payload: payload, Retain: in.Retain}}, nil
}

// injectSeverity decodes the alarm payload as a JSON object and adds (or
// overwrites) the "severity" field, preserving field order is not
// guaranteed since Go map encoding is unordered by key insertion.
func injectSeverity(payload []byte, severity string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	severityJSON, err := json.Marshal(severity)
	if err != nil {
		return nil, err
	}
	fields["severity"] = severityJSON
	return json.Marshal(fields)
}
