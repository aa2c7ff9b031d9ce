package cloudconv

// AzureConverter translates measurements into Azure IoT Hub's telemetry
// topic, grounded on az_mapper_ext/src/converter.rs.
type AzureConverter struct {
	AddTimestamp bool
	Clock        Clock
	Threshold    SizeThreshold
}

// NewAzureConverter constructs an AzureConverter with the spec default
// 128 KiB threshold.
func NewAzureConverter(addTimestamp bool, clock Clock) *AzureConverter {
	return &AzureConverter{AddTimestamp: addTimestamp, Clock: clock, Threshold: 128 * 1024}
}

// InTopicFilter subscribes to every entity's measurement channel.
func (c *AzureConverter) InTopicFilter() []string {
	return []string{"te/+/+/+/+/m/+"}
}

const azOutTopic = "az/messages/events/"

// Convert implements Converter.
func (c *AzureConverter) Convert(in Message) ([]Message, error) {
	payload, err := withDefaultTimestamp(in.Payload, c.Clock, c.AddTimestamp)
	if err != nil {
		return nil, &ConversionError{Topic: in.Topic, Cause: err}
	}
	if err := c.Threshold.Validate(in.Topic, payload); err != nil {
		return nil, err
	}
	return []Message{{Topic: azOutTopic, Payload: payload}}, nil
}
