package cloudconv

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/thin-edge/tedge-mapper/internal/topic"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testClock = fixedClock{t: time.Date(2021, 4, 8, 0, 0, 0, 0, time.FixedZone("+0500", 5*3600))}

func TestAzureConverterWithoutTimestamp(t *testing.T) {
	c := NewAzureConverter(false, testClock)
	out, err := c.Convert(Message{Topic: "te/device/main///m/", Payload: []byte(`{"temperature": 23.0}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	json.Unmarshal(out[0].Payload, &decoded)
	if _, ok := decoded["time"]; ok {
		t.Fatalf("expected no time field, got %+v", decoded)
	}
}

func TestAzureConverterInjectsTimestampWhenEnabled(t *testing.T) {
	c := NewAzureConverter(true, testClock)
	out, err := c.Convert(Message{Topic: "te/device/main///m/", Payload: []byte(`{"temperature": 23.0}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	json.Unmarshal(out[0].Payload, &decoded)
	if decoded["time"] != "2021-04-08T00:00:00+05:00" {
		t.Fatalf("unexpected time field: %+v", decoded)
	}
}

func TestAzureConverterPreservesExistingTimestamp(t *testing.T) {
	c := NewAzureConverter(false, testClock)
	out, err := c.Convert(Message{
		Topic:   "te/device/main///m/",
		Payload: []byte(`{"time": "2013-06-22T17:03:14+02:00", "temperature": 23.0}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	json.Unmarshal(out[0].Payload, &decoded)
	if decoded["time"] != "2013-06-22T17:03:14+02:00" {
		t.Fatalf("unexpected time field: %+v", decoded)
	}
}

func TestAzureConverterExceedingThreshold(t *testing.T) {
	c := NewAzureConverter(false, testClock)
	c.Threshold = 1
	_, err := c.Convert(Message{Topic: "te/device/main///m/", Payload: []byte(`{"a":1}`)})
	var sizeErr *SizeThresholdExceededError
	if err == nil {
		t.Fatal("expected error")
	}
	if !asSizeThresholdExceeded(err, &sizeErr) {
		t.Fatalf("expected SizeThresholdExceededError, got %T: %v", err, err)
	}
}

func asSizeThresholdExceeded(err error, target **SizeThresholdExceededError) bool {
	if e, ok := err.(*SizeThresholdExceededError); ok {
		*target = e
		return true
	}
	return false
}

func TestAwsConverterOutputTopic(t *testing.T) {
	c := NewAwsConverter(false, testClock)
	out, err := c.Convert(Message{Topic: "te/device/child1///m/", Payload: []byte(`{"temperature": 23.0}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Topic != "aws/td/device/child1///m/" {
		t.Fatalf("unexpected topic: %s", out[0].Topic)
	}
}

func TestC8yConverterMeasurement(t *testing.T) {
	c := NewC8yConverter(false, testClock)
	out, err := c.Convert(Message{
		Topic:   "te/device/main///m/",
		Payload: []byte(`{"temperature": 23.5, "pressure": 1013}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected one SmartREST line per numeric field, got %+v", out)
	}
	if out[0].Topic != "c8y/s/us" || string(out[0].Payload) != "211,1013" {
		t.Fatalf("unexpected first line: %+v", out[0])
	}
	if out[1].Topic != "c8y/s/us" || string(out[1].Payload) != "211,23.5" {
		t.Fatalf("unexpected second line: %+v", out[1])
	}
}

func TestC8yConverterHealth(t *testing.T) {
	c := NewC8yConverter(false, testClock)
	externalID := func(id topic.EntityID) string {
		name, _ := id.DefaultServiceName()
		return "main_" + name
	}
	out, err := c.ConvertHealth(Message{
		Topic:   "te/device/main/service/collectd/status/health",
		Payload: []byte(`{"status":"up"}`),
	}, externalID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Topic != "c8y/s/us" || string(out[0].Payload) != "102,main_collectd,thin-edge.io,collectd,up" {
		t.Fatalf("unexpected health output: %+v", out)
	}
}

func TestC8yConverterAlarm(t *testing.T) {
	c := NewC8yConverter(false, testClock)
	out, err := c.Convert(Message{
		Topic:   "te/device/main///a/MyCustomAlarm",
		Payload: []byte(`{"text": "I raised it", "severity": "critical"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Topic != "c8y/s/us" || string(out[0].Payload) != "301,I raised it" {
		t.Fatalf("unexpected alarm output: %+v", out[0])
	}
}

func TestC8yConverterEvent(t *testing.T) {
	c := NewC8yConverter(false, testClock)
	out, err := c.Convert(Message{
		Topic:   "te/device/main///e/MyEvent",
		Payload: []byte(`{"text": "Some test event", "time": "2021-04-23T19:00:00+05:00"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Topic != "c8y/s/us" || string(out[0].Payload) != "400,Some test event,2021-04-23T19:00:00+05:00" {
		t.Fatalf("unexpected event output: %+v", out[0])
	}
}
