// Package cloudconv implements the per-cloud egress converters that
// translate new-scheme "te/..." messages into each cloud's wire format
// (spec §4.B), grounded on az_mapper_ext/aws_mapper_ext converter.rs.
package cloudconv

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/thin-edge/tedge-mapper/internal/topic"
)

// Message is a minimal MQTT message representation decoupled from any
// specific client library.
type Message struct {
	Topic   string
	Payload []byte
}

// Clock supplies the default measurement/event timestamp, injected so tests
// can pin it (grounded on clock::Clock).
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// SizeThreshold rejects payloads whose encoded size exceeds a per-cloud
// limit (spec §4.B: Cumulocity 16184B, Azure 128 KiB, AWS 255 KiB).
type SizeThreshold int

// Validate returns a SizeThresholdExceeded error if payload exceeds the
// threshold.
func (s SizeThreshold) Validate(topicName string, payload []byte) error {
	if len(payload) > int(s) {
		return &SizeThresholdExceededError{Topic: topicName, ActualSize: len(payload), Threshold: int(s)}
	}
	return nil
}

// SizeThresholdExceededError reports a payload too large for its cloud's
// transport limit, with both sizes given as raw byte counts.
type SizeThresholdExceededError struct {
	Topic      string
	ActualSize int
	Threshold  int
}

func (e *SizeThresholdExceededError) Error() string {
	return fmt.Sprintf("message on topic %q is %d bytes, exceeding the %d byte threshold", e.Topic, e.ActualSize, e.Threshold)
}

// Converter is implemented by each cloud's egress translator.
type Converter interface {
	// InTopicFilter lists the new-scheme subscriptions this converter
	// consumes.
	InTopicFilter() []string
	// Convert translates one incoming message into zero or more outgoing
	// cloud messages.
	Convert(Message) ([]Message, error)
}

// HealthConverter is implemented by a cloud converter that has a
// cloud-specific wire format for service health-status messages, resolved
// via the entity store rather than by plain topic translation.
type HealthConverter interface {
	ConvertHealth(msg Message, externalID func(topic.EntityID) string) ([]Message, error)
}

// ConversionError wraps a malformed input payload.
type ConversionError struct {
	Topic string
	Cause error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("converting message on topic %q: %v", e.Topic, e.Cause)
}

func (e *ConversionError) Unwrap() error { return e.Cause }

// withDefaultTimestamp decodes a JSON object payload and ensures it carries
// a RFC3339 "time" field: an existing value is reformatted to RFC3339, a
// missing value is filled in from clock only when addTimestamp is true.
func withDefaultTimestamp(payload []byte, clock Clock, addTimestamp bool) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	if raw, ok := fields["time"]; ok {
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil {
			if parsed, err := time.Parse(time.RFC3339, asString); err == nil {
				reformatted, _ := json.Marshal(parsed.Format(time.RFC3339))
				fields["time"] = reformatted
			}
		}
	} else if addTimestamp {
		stamped, _ := json.Marshal(clock.Now().Format(time.RFC3339))
		fields["time"] = stamped
	}
	return json.Marshal(fields)
}
