package topic

import "testing"

func TestParseEntityID(t *testing.T) {
	id, err := ParseEntityID("device/main/service/collectd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Class != "device" || id.Name != "main" || id.Kind != "service" || id.Qualifier != "collectd" {
		t.Fatalf("unexpected parse result: %+v", id)
	}
	if id.String() != "device/main/service/collectd" {
		t.Fatalf("unexpected round trip: %s", id.String())
	}
	if _, err := ParseEntityID("device/main/service"); err == nil {
		t.Fatal("expected error for 3-segment identifier")
	}
}

func TestDefaultSchemeHelpers(t *testing.T) {
	main := DefaultMainDevice()
	if !main.MatchesDefaultScheme() || !main.IsDefaultMainDevice() {
		t.Fatalf("expected main device to match default scheme: %+v", main)
	}
	svc := DefaultChildService("child1", "collectd")
	name, ok := svc.DefaultServiceName()
	if !ok || name != "collectd" {
		t.Fatalf("expected service name collectd, got %q ok=%v", name, ok)
	}
	parent, ok := svc.DefaultParentIdentifier()
	if !ok || parent != DefaultChildDevice("child1") {
		t.Fatalf("unexpected parent: %+v", parent)
	}
}

func TestChannelRoundTrip(t *testing.T) {
	cases := []struct {
		segs []string
		want Channel
	}{
		{[]string{"m", ""}, Channel{Kind: ChannelMeasurement}},
		{[]string{"e", "MyEvent"}, Channel{Kind: ChannelEvent, Type: "MyEvent"}},
		{[]string{"a", "MyAlarm"}, Channel{Kind: ChannelAlarm, Type: "MyAlarm"}},
		{[]string{"status", "health"}, Channel{Kind: ChannelHealth}},
		{[]string{"cmd", "restart", "123"}, Channel{Kind: ChannelCommand, CmdOp: "restart", CmdID: "123"}},
	}
	for _, c := range cases {
		got, err := ParseChannel(c.segs)
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", c.segs, err)
		}
		if got != c.want {
			t.Fatalf("for %v: got %+v want %+v", c.segs, got, c.want)
		}
	}
}

func TestParseLegacyTopicMeasurements(t *testing.T) {
	lt, ok := ParseLegacyTopic("tedge/measurements")
	if !ok || lt.Kind != LegacyMeasurement || lt.Device != "" {
		t.Fatalf("unexpected parse: %+v ok=%v", lt, ok)
	}
	if lt.TargetEntity() != DefaultMainDevice() {
		t.Fatalf("unexpected target entity: %+v", lt.TargetEntity())
	}

	lt, ok = ParseLegacyTopic("tedge/measurements/child1")
	if !ok || lt.Device != "child1" {
		t.Fatalf("unexpected child parse: %+v ok=%v", lt, ok)
	}
}

func TestParseLegacyTopicEventsAndAlarms(t *testing.T) {
	lt, ok := ParseLegacyTopic("tedge/events/MyEvent")
	if !ok || lt.Kind != LegacyEvent || lt.Name != "MyEvent" || lt.Device != "" {
		t.Fatalf("unexpected event parse: %+v ok=%v", lt, ok)
	}

	lt, ok = ParseLegacyTopic("tedge/events/child/MyEvent")
	if !ok || lt.Device != "child" || lt.Name != "MyEvent" {
		t.Fatalf("unexpected child event parse: %+v ok=%v", lt, ok)
	}

	lt, ok = ParseLegacyTopic("tedge/alarms/critical/MyCustomAlarm")
	if !ok || lt.Kind != LegacyAlarm || lt.Severity != "critical" || lt.Name != "MyCustomAlarm" || lt.Device != "" {
		t.Fatalf("unexpected alarm parse: %+v ok=%v", lt, ok)
	}

	lt, ok = ParseLegacyTopic("tedge/alarms/critical/child/MyCustomAlarm")
	if !ok || lt.Device != "child" || lt.Name != "MyCustomAlarm" {
		t.Fatalf("unexpected child alarm parse: %+v ok=%v", lt, ok)
	}

	if _, ok := ParseLegacyTopic("tedge/unknown/thing"); ok {
		t.Fatal("expected unknown legacy topic to be rejected")
	}
}

func TestTargetTopicRendering(t *testing.T) {
	target := NewTarget(DefaultMainDevice())
	if got := target.Topic(Channel{Kind: ChannelMeasurement}); got != "te/device/main///m/" {
		t.Fatalf("unexpected measurement topic: %s", got)
	}
	if got := target.Topic(Channel{Kind: ChannelAlarm, Type: "MyCustomAlarm"}); got != "te/device/main///a/MyCustomAlarm" {
		t.Fatalf("unexpected alarm topic: %s", got)
	}

	parsedTarget, ch, err := ParseTarget("te", "te/device/main///m/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsedTarget.Entity != DefaultMainDevice() || ch.Kind != ChannelMeasurement {
		t.Fatalf("unexpected roundtrip: %+v %+v", parsedTarget, ch)
	}
}
