// Package topic implements the pure parsing and formatting rules of the
// local and cloud MQTT topic schemes (spec §4.A).
package topic

import (
	"fmt"
	"strings"
)

// EntityID is the four-segment "Entity Topic Identifier":
// <class>/<name>/<kind>/<qualifier>, e.g. "device/main/service/collectd".
// Trailing empty segments are permitted, e.g. "device/main//".
type EntityID struct {
	Class     string
	Name      string
	Kind      string
	Qualifier string
}

// ErrInvalidEntityID is returned when a string does not have exactly four
// '/'-separated segments.
type ErrInvalidEntityID struct {
	Value string
}

func (e *ErrInvalidEntityID) Error() string {
	return fmt.Sprintf("invalid entity topic identifier: %q", e.Value)
}

// ParseEntityID splits a topic identifier string into its four segments.
func ParseEntityID(s string) (EntityID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return EntityID{}, &ErrInvalidEntityID{Value: s}
	}
	return EntityID{Class: parts[0], Name: parts[1], Kind: parts[2], Qualifier: parts[3]}, nil
}

// String renders the canonical "<class>/<name>/<kind>/<qualifier>" form.
func (e EntityID) String() string {
	return strings.Join([]string{e.Class, e.Name, e.Kind, e.Qualifier}, "/")
}

// MatchesDefaultScheme holds when the first segment is literally "device".
func (e EntityID) MatchesDefaultScheme() bool {
	return e.Class == "device"
}

// IsService reports whether the kind segment names a service.
func (e EntityID) IsService() bool {
	return e.Kind == "service" && e.Qualifier != ""
}

// DefaultMainDevice returns "device/main//".
func DefaultMainDevice() EntityID {
	return EntityID{Class: "device", Name: "main"}
}

// DefaultChildDevice returns "device/<id>//".
func DefaultChildDevice(id string) EntityID {
	return EntityID{Class: "device", Name: id}
}

// DefaultMainService returns "device/main/service/<name>".
func DefaultMainService(name string) EntityID {
	return EntityID{Class: "device", Name: "main", Kind: "service", Qualifier: name}
}

// DefaultChildService returns "device/<device>/service/<name>".
func DefaultChildService(device, name string) EntityID {
	return EntityID{Class: "device", Name: device, Kind: "service", Qualifier: name}
}

// IsDefaultMainDevice reports whether this identifies the default main device.
func (e EntityID) IsDefaultMainDevice() bool {
	return e == DefaultMainDevice()
}

// DefaultParentIdentifier returns the device-level identifier this entity is
// namespaced under ("device/<name>//"), valid only for default-scheme IDs.
func (e EntityID) DefaultParentIdentifier() (EntityID, bool) {
	if !e.MatchesDefaultScheme() {
		return EntityID{}, false
	}
	return DefaultChildDevice(e.Name), true
}

// DefaultDeviceName returns the device-local name segment for default-scheme
// entities.
func (e EntityID) DefaultDeviceName() (string, bool) {
	if !e.MatchesDefaultScheme() {
		return "", false
	}
	return e.Name, true
}

// DefaultServiceName returns the service-local name for default-scheme
// entities that identify a service.
func (e EntityID) DefaultServiceName() (string, bool) {
	if !e.MatchesDefaultScheme() || e.Kind != "service" || e.Qualifier == "" {
		return "", false
	}
	return e.Qualifier, true
}
