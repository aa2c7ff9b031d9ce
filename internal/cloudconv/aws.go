package cloudconv

import "strings"

// AwsConverter translates measurements, events, alarms and health status
// into AWS IoT's "aws/td/..." topic space, grounded on
// aws_mapper_ext/src/converter.rs.
type AwsConverter struct {
	AddTimestamp bool
	Clock        Clock
	Threshold    SizeThreshold
}

// NewAwsConverter constructs an AwsConverter with the spec default 255 KiB
// threshold.
func NewAwsConverter(addTimestamp bool, clock Clock) *AwsConverter {
	return &AwsConverter{AddTimestamp: addTimestamp, Clock: clock, Threshold: 255 * 1024}
}

// InTopicFilter subscribes to measurement, event, alarm and health channels.
func (c *AwsConverter) InTopicFilter() []string {
	return []string{
		"te/+/+/+/+/m/+",
		"te/+/+/+/+/e/+",
		"te/+/+/+/+/a/+",
		"te/+/+/+/+/status/health",
	}
}

// Convert implements Converter.
func (c *AwsConverter) Convert(in Message) ([]Message, error) {
	payload, err := withDefaultTimestamp(in.Payload, c.Clock, c.AddTimestamp)
	if err != nil {
		return nil, &ConversionError{Topic: in.Topic, Cause: err}
	}
	if err := c.Threshold.Validate(in.Topic, payload); err != nil {
		return nil, err
	}
	outTopic := "aws/td/" + suffixAfterFirstSegment(in.Topic)
	return []Message{{Topic: outTopic, Payload: payload}}, nil
}

// suffixAfterFirstSegment returns everything after the topic's first
// '/'-separated segment, matching the Rust converter's topic_suffix
// computation.
func suffixAfterFirstSegment(t string) string {
	idx := strings.IndexByte(t, '/')
	if idx < 0 {
		return t
	}
	return t[idx+1:]
}
