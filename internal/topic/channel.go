package topic

import (
	"fmt"
	"strings"
)

// ChannelKind enumerates the new-scheme channel families (spec §3, §4.A).
type ChannelKind string

const (
	ChannelMeasurement ChannelKind = "m"
	ChannelEvent       ChannelKind = "e"
	ChannelAlarm       ChannelKind = "a"
	ChannelHealth      ChannelKind = "status/health"
	ChannelCommand     ChannelKind = "cmd"
	ChannelTwin        ChannelKind = "twin"
	ChannelEntity      ChannelKind = "" // retained registration message
)

// Channel is the suffix of a new-scheme topic following the ETID.
type Channel struct {
	Kind ChannelKind
	// Type is the measurement/event/alarm subtype, or the twin fragment key.
	Type string
	// CmdOp/CmdID are populated only for ChannelCommand.
	CmdOp string
	CmdID string
}

// String renders the channel suffix, e.g. "m/", "e/DoorOpen", "status/health".
func (c Channel) String() string {
	switch c.Kind {
	case ChannelMeasurement, ChannelEvent, ChannelAlarm:
		return fmt.Sprintf("%s/%s", c.Kind, c.Type)
	case ChannelHealth:
		return string(ChannelHealth)
	case ChannelCommand:
		return fmt.Sprintf("cmd/%s/%s", c.CmdOp, c.CmdID)
	case ChannelTwin:
		return fmt.Sprintf("twin/%s", c.Type)
	default:
		return ""
	}
}

// ParseChannel parses a channel suffix (the topic segments following the
// four ETID segments).
func ParseChannel(segments []string) (Channel, error) {
	if len(segments) == 0 {
		return Channel{Kind: ChannelEntity}, nil
	}
	switch segments[0] {
	case "m":
		return Channel{Kind: ChannelMeasurement, Type: joinRest(segments[1:])}, nil
	case "e":
		if len(segments) < 2 {
			return Channel{}, &ErrUnsupportedTopic{Topic: strings.Join(segments, "/")}
		}
		return Channel{Kind: ChannelEvent, Type: joinRest(segments[1:])}, nil
	case "a":
		if len(segments) < 2 {
			return Channel{}, &ErrUnsupportedTopic{Topic: strings.Join(segments, "/")}
		}
		return Channel{Kind: ChannelAlarm, Type: joinRest(segments[1:])}, nil
	case "status":
		if len(segments) == 2 && segments[1] == "health" {
			return Channel{Kind: ChannelHealth}, nil
		}
		return Channel{}, &ErrUnsupportedTopic{Topic: strings.Join(segments, "/")}
	case "cmd":
		if len(segments) != 3 {
			return Channel{}, &ErrUnsupportedTopic{Topic: strings.Join(segments, "/")}
		}
		return Channel{Kind: ChannelCommand, CmdOp: segments[1], CmdID: segments[2]}, nil
	case "twin":
		return Channel{Kind: ChannelTwin, Type: joinRest(segments[1:])}, nil
	default:
		return Channel{}, &ErrUnsupportedTopic{Topic: strings.Join(segments, "/")}
	}
}

func joinRest(rest []string) string {
	return strings.Join(rest, "/")
}

// ErrUnsupportedTopic is raised for any topic arity or shape violation
// (spec §4.A, §7 ProtocolError).
type ErrUnsupportedTopic struct {
	Topic string
}

func (e *ErrUnsupportedTopic) Error() string {
	return fmt.Sprintf("unsupported topic: %q", e.Topic)
}
