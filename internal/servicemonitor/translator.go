// Package servicemonitor translates service health-status payloads into
// Cumulocity SmartREST "102" service-monitoring messages, grounded on
// c8y/service_monitor.rs and c8y/health_status.rs. Per the resolved design
// (spec §9), values are emitted unquoted, a missing "status" field defaults
// to "down", a missing or unparsable payload defaults to type
// "thin-edge.io", and services whose name contains "bridge" are filtered
// out.
package servicemonitor

import (
	"fmt"
	"strings"

	"github.com/thin-edge/tedge-mapper/internal/topic"
	"github.com/tidwall/gjson"
)

// HealthMessage is the decoded payload of a "te/.../status/health" message.
type HealthMessage struct {
	Topic   string
	Payload []byte
}

// Translate converts a health-status message into its SmartREST 102
// service-monitoring line, or ("", false, nil) if the service should be
// filtered out (bridge services) or the topic cannot be classified.
func Translate(msg HealthMessage, deviceExternalID func(topic.EntityID) string) (string, bool, error) {
	target, ch, err := topic.ParseTarget(topic.DefaultRootPrefix, msg.Topic)
	if err != nil || ch.Kind != topic.ChannelHealth {
		return "", false, nil
	}

	serviceName, ok := target.Entity.DefaultServiceName()
	if !ok {
		return "", false, nil
	}
	if strings.Contains(serviceName, "bridge") {
		return "", false, nil
	}

	// A missing or malformed payload is not fatal: it substitutes the same
	// defaults a never-reported service would carry, matching the
	// "down" Last-Will contract this translator exists to propagate.
	status := "down"
	serviceType := "thin-edge.io"
	if len(msg.Payload) > 0 && gjson.ValidBytes(msg.Payload) {
		if s := gjson.GetBytes(msg.Payload, "status"); s.Exists() {
			status = s.String()
		}
		if t := gjson.GetBytes(msg.Payload, "type"); t.Exists() && t.String() != "" {
			serviceType = t.String()
		}
	}

	externalID := deviceExternalID(target.Entity)
	line := fmt.Sprintf("102,%s,%s,%s,%s", externalID, serviceType, serviceName, status)
	return line, true, nil
}
