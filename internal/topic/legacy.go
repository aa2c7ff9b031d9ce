package topic

import "strings"

// LegacyKind enumerates the "tedge/..." topic families accepted by the
// Legacy-to-New converter (spec §4.A, grounded on tedge_to_te_converter).
type LegacyKind int

const (
	LegacyMeasurement LegacyKind = iota
	LegacyEvent
	LegacyAlarm
	LegacyHealth
)

// LegacyTopic is a parsed "tedge/..." topic. Arity determines whether the
// topic addresses the main device or a named child device:
//
//	tedge/measurements           -> main device
//	tedge/measurements/<child>   -> child device
//	tedge/events/<name>          -> main device event <name>
//	tedge/events/<child>/<name>  -> child device event <name>
//	tedge/alarms/<severity>/<name>         -> main device alarm
//	tedge/alarms/<severity>/<child>/<name> -> child device alarm
//	tedge/health/<service>                 -> main device service health
//	tedge/health/<child>/<service>         -> child device service health
type LegacyTopic struct {
	Kind     LegacyKind
	Device   string // "" means the main device
	Name     string // event/alarm/service name; empty for measurements
	Severity string // alarm severity; empty otherwise
}

// ParseLegacyTopic parses a legacy "tedge/..." topic, resolving the arity
// tie-break between a two-segment child-device form and other shapes.
func ParseLegacyTopic(t string) (LegacyTopic, bool) {
	segs := strings.Split(t, "/")
	if len(segs) < 2 || segs[0] != "tedge" {
		return LegacyTopic{}, false
	}
	switch segs[1] {
	case "measurements":
		switch len(segs) {
		case 2:
			return LegacyTopic{Kind: LegacyMeasurement}, true
		case 3:
			return LegacyTopic{Kind: LegacyMeasurement, Device: segs[2]}, true
		default:
			return LegacyTopic{}, false
		}
	case "events":
		switch len(segs) {
		case 3:
			return LegacyTopic{Kind: LegacyEvent, Name: segs[2]}, true
		case 4:
			return LegacyTopic{Kind: LegacyEvent, Device: segs[2], Name: segs[3]}, true
		default:
			return LegacyTopic{}, false
		}
	case "alarms":
		switch len(segs) {
		case 4:
			return LegacyTopic{Kind: LegacyAlarm, Severity: segs[2], Name: segs[3]}, true
		case 5:
			return LegacyTopic{Kind: LegacyAlarm, Severity: segs[2], Device: segs[3], Name: segs[4]}, true
		default:
			return LegacyTopic{}, false
		}
	case "health":
		switch len(segs) {
		case 3:
			return LegacyTopic{Kind: LegacyHealth, Name: segs[2]}, true
		case 4:
			return LegacyTopic{Kind: LegacyHealth, Device: segs[2], Name: segs[3]}, true
		default:
			return LegacyTopic{}, false
		}
	default:
		return LegacyTopic{}, false
	}
}

// TargetEntity returns the default-scheme ETID this legacy topic addresses.
// Health topics address the named service, not the device itself.
func (lt LegacyTopic) TargetEntity() EntityID {
	if lt.Kind == LegacyHealth {
		if lt.Device == "" {
			return DefaultMainService(lt.Name)
		}
		return DefaultChildService(lt.Device, lt.Name)
	}
	if lt.Device == "" {
		return DefaultMainDevice()
	}
	return DefaultChildDevice(lt.Device)
}

// TargetChannel returns the new-scheme Channel this legacy topic maps onto.
func (lt LegacyTopic) TargetChannel() Channel {
	switch lt.Kind {
	case LegacyMeasurement:
		return Channel{Kind: ChannelMeasurement}
	case LegacyEvent:
		return Channel{Kind: ChannelEvent, Type: lt.Name}
	case LegacyAlarm:
		return Channel{Kind: ChannelAlarm, Type: lt.Name}
	case LegacyHealth:
		return Channel{Kind: ChannelHealth}
	default:
		return Channel{}
	}
}
