package cloudconv

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/thin-edge/tedge-mapper/internal/servicemonitor"
	"github.com/thin-edge/tedge-mapper/internal/topic"
)

// C8yConverter translates measurements, events and alarms into Cumulocity
// SmartREST lines: measurements as "211" lines, events as "400" lines and
// alarms as "30x" lines keyed by severity.
type C8yConverter struct {
	AddTimestamp bool
	Clock        Clock
	Threshold    SizeThreshold
}

// NewC8yConverter constructs a C8yConverter with the spec default 16184
// byte SmartREST line threshold.
func NewC8yConverter(addTimestamp bool, clock Clock) *C8yConverter {
	return &C8yConverter{AddTimestamp: addTimestamp, Clock: clock, Threshold: 16184}
}

// InTopicFilter subscribes to measurement, event, alarm and health channels.
func (c *C8yConverter) InTopicFilter() []string {
	return []string{
		"te/+/+/+/+/m/+",
		"te/+/+/+/+/e/+",
		"te/+/+/+/+/a/+",
		"te/+/+/+/+/status/health",
	}
}

// alarmSeverityCode maps a SmartREST alarm severity to its "30x" template
// code: 301 critical, 302 major, 303 minor, 304 warning.
var alarmSeverityCode = map[string]int{
	"critical": 301,
	"major":    302,
	"minor":    303,
	"warning":  304,
}

// Convert implements Converter. The outgoing topic is always "c8y/s/us",
// whichever entity sent the message; child-device messages are not routed
// to a per-child "c8y/s/us/<child-xid>" topic.
func (c *C8yConverter) Convert(in Message) ([]Message, error) {
	switch channelKind(in.Topic) {
	case "m":
		return c.convertMeasurement(in)
	case "a":
		return c.convertAlarm(in)
	case "e":
		return c.convertEvent(in)
	default:
		return nil, nil
	}
}

// convertMeasurement emits one SmartREST "211,<value>" line per numeric
// top-level field of the measurement group, skipping the "time" field and
// any non-scalar (fragment/series) field, which this design level does not
// cover (spec §4.D: "one SmartREST line per measurement group").
func (c *C8yConverter) convertMeasurement(in Message) ([]Message, error) {
	payload, err := withDefaultTimestamp(in.Payload, c.Clock, c.AddTimestamp)
	if err != nil {
		return nil, &ConversionError{Topic: in.Topic, Cause: err}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, &ConversionError{Topic: in.Topic, Cause: err}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "time" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Message
	for _, k := range keys {
		var value float64
		if err := json.Unmarshal(fields[k], &value); err != nil {
			continue
		}
		line := "211," + strconv.FormatFloat(value, 'f', -1, 64)
		if err := c.Threshold.Validate(in.Topic, []byte(line)); err != nil {
			return nil, err
		}
		out = append(out, Message{Topic: "c8y/s/us", Payload: []byte(line)})
	}
	return out, nil
}

// ConvertHealth implements cloudconv.HealthConverter, translating a
// health-status message into a SmartREST "102" service-monitoring line.
func (c *C8yConverter) ConvertHealth(in Message, externalID func(topic.EntityID) string) ([]Message, error) {
	line, ok, err := servicemonitor.Translate(servicemonitor.HealthMessage{Topic: in.Topic, Payload: in.Payload}, externalID)
	if err != nil {
		return nil, &ConversionError{Topic: in.Topic, Cause: err}
	}
	if !ok {
		return nil, nil
	}
	if err := c.Threshold.Validate(in.Topic, []byte(line)); err != nil {
		return nil, err
	}
	return []Message{{Topic: "c8y/s/us", Payload: []byte(line)}}, nil
}

func (c *C8yConverter) convertAlarm(in Message) ([]Message, error) {
	var fields map[string]any
	if err := json.Unmarshal(in.Payload, &fields); err != nil {
		return nil, &ConversionError{Topic: in.Topic, Cause: err}
	}
	severity, _ := fields["severity"].(string)
	code, ok := alarmSeverityCode[severity]
	if !ok {
		code = alarmSeverityCode["minor"]
	}
	text, _ := fields["text"].(string)
	line := fmt.Sprintf("%d,%s", code, text)
	if err := c.Threshold.Validate(in.Topic, []byte(line)); err != nil {
		return nil, err
	}
	return []Message{{Topic: "c8y/s/us", Payload: []byte(line)}}, nil
}

func (c *C8yConverter) convertEvent(in Message) ([]Message, error) {
	var fields map[string]any
	if err := json.Unmarshal(in.Payload, &fields); err != nil {
		return nil, &ConversionError{Topic: in.Topic, Cause: err}
	}
	text, _ := fields["text"].(string)
	eventTime, ok := fields["time"].(string)
	if !ok {
		eventTime = c.Clock.Now().Format(time.RFC3339)
	}
	line := fmt.Sprintf("400,%s,%s", text, eventTime)
	if err := c.Threshold.Validate(in.Topic, []byte(line)); err != nil {
		return nil, err
	}
	return []Message{{Topic: "c8y/s/us", Payload: []byte(line)}}, nil
}

// channelKind extracts the 6th topic segment ("m"/"e"/"a") of a new-scheme
// topic, or "" if the topic is too short to classify.
func channelKind(t string) string {
	segs := 0
	start := 0
	for i := 0; i <= len(t); i++ {
		if i == len(t) || t[i] == '/' {
			if segs == 5 {
				return t[start:i]
			}
			segs++
			start = i + 1
		}
	}
	return ""
}
