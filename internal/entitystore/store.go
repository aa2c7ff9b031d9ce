// Package entitystore implements the in-memory registry of MQTT-addressable
// entities (devices and services) together with their cloud external-id
// mapping, grounded on the upstream entity_store.rs design.
package entitystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/thin-edge/tedge-mapper/internal/topic"
)

// EntityType enumerates the three registrable entity roles.
type EntityType int

const (
	MainDevice EntityType = iota
	ChildDevice
	Service
)

func (t EntityType) String() string {
	switch t {
	case MainDevice:
		return "device"
	case ChildDevice:
		return "child-device"
	case Service:
		return "service"
	default:
		return "unknown"
	}
}

func parseEntityType(s string) (EntityType, bool) {
	switch s {
	case "device":
		return MainDevice, true
	case "child-device":
		return ChildDevice, true
	case "service":
		return Service, true
	default:
		return 0, false
	}
}

// ExternalID is the cloud-facing identifier assigned to an entity.
type ExternalID string

// ExternalIDMapperFunc derives a default external id from a topic id when
// none is supplied explicitly by the registration message.
type ExternalIDMapperFunc func(id topic.EntityID) ExternalID

// ExternalIDValidatorFunc validates/normalizes a caller-supplied external id.
type ExternalIDValidatorFunc func(raw string) (ExternalID, error)

// InvalidExternalIDError wraps a rejected external id.
type InvalidExternalIDError struct {
	Value string
	Cause error
}

func (e *InvalidExternalIDError) Error() string {
	return fmt.Sprintf("invalid external id %q: %v", e.Value, e.Cause)
}

func (e *InvalidExternalIDError) Unwrap() error { return e.Cause }

// Sentinel store errors (spec §7, grounded on entity_store::Error).
var (
	ErrNoParent                     = errors.New("entitystore: specified parent does not exist in the store")
	ErrNoMainDevice                  = errors.New("entitystore: main device not registered")
	ErrMainDeviceAlreadyRegistered   = errors.New("entitystore: main device was already registered")
	ErrUnknownEntity                 = errors.New("entitystore: unknown entity")
	ErrNonDefaultTopicScheme          = errors.New("entitystore: auto-registration unsupported outside default topic scheme")
	ErrRegistrationOtherNotMap       = errors.New("entitystore: registration payload \"other\" fields must decode to a JSON object")
)

// Metadata holds the full registration state of one entity.
type Metadata struct {
	TopicID    topic.EntityID
	ExternalID ExternalID
	Type       EntityType
	Parent     *topic.EntityID
	Other      map[string]any
	TwinData   map[string]any
}

// RegistrationMessage is the parsed form of a retained registration payload
// published under "<prefix>/<topic-id>" (spec §3, §4.A).
type RegistrationMessage struct {
	Type   EntityType
	Parent *topic.EntityID
	ID     string // optional explicit "@id"
	Other  map[string]any
}

// ParseRegistrationMessage decodes a registration payload JSON object,
// extracting the "@type"/"@parent"/"@id" control fields and returning the
// remainder as Other.
func ParseRegistrationMessage(payload []byte) (RegistrationMessage, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return RegistrationMessage{}, fmt.Errorf("entitystore: decoding registration payload: %w", err)
	}
	typStr, _ := raw["@type"].(string)
	typ, ok := parseEntityType(typStr)
	if !ok {
		return RegistrationMessage{}, fmt.Errorf("entitystore: unsupported or missing @type %q", typStr)
	}
	msg := RegistrationMessage{Type: typ, Other: map[string]any{}}
	if parentStr, ok := raw["@parent"].(string); ok && parentStr != "" {
		pid, err := topic.ParseEntityID(parentStr)
		if err != nil {
			return RegistrationMessage{}, fmt.Errorf("entitystore: invalid @parent: %w", err)
		}
		msg.Parent = &pid
	}
	if idStr, ok := raw["@id"].(string); ok {
		msg.ID = idStr
	}
	for k, v := range raw {
		if k == "@type" || k == "@parent" || k == "@id" {
			continue
		}
		msg.Other[k] = v
	}
	return msg, nil
}

// EncodeRegistrationMessage renders a RegistrationMessage back into the
// wire form ParseRegistrationMessage decodes, for publishing a synthesized
// auto-registration, grounded on tedge.PayloadRegistration.
func EncodeRegistrationMessage(msg RegistrationMessage) ([]byte, error) {
	payload := map[string]any{}
	for k, v := range msg.Other {
		payload[k] = v
	}
	payload["@type"] = msg.Type.String()
	if msg.Parent != nil {
		payload["@parent"] = msg.Parent.String()
	}
	if msg.ID != "" {
		payload["@id"] = msg.ID
	}
	return json.Marshal(payload)
}

// Store is the in-memory entity registry: a flat map keyed by topic id plus
// a secondary index from external id back to topic id.
type Store struct {
	mainDevice         topic.EntityID
	defaultServiceType string
	mapper             ExternalIDMapperFunc
	validator          ExternalIDValidatorFunc

	entities       map[topic.EntityID]*Metadata
	externalIDIndex map[ExternalID]topic.EntityID
}

// New constructs a Store with the main device pre-registered.
func New(mainDevice topic.EntityID, defaultServiceType string, mapper ExternalIDMapperFunc, validator ExternalIDValidatorFunc) *Store {
	s := &Store{
		mainDevice:         mainDevice,
		defaultServiceType: defaultServiceType,
		mapper:             mapper,
		validator:          validator,
		entities:           map[topic.EntityID]*Metadata{},
		externalIDIndex:    map[ExternalID]topic.EntityID{},
	}
	xid := mapper(mainDevice)
	meta := &Metadata{TopicID: mainDevice, ExternalID: xid, Type: MainDevice, Other: map[string]any{}, TwinData: map[string]any{}}
	s.entities[mainDevice] = meta
	s.externalIDIndex[xid] = mainDevice
	return s
}

// MainDevice returns the topic id of the registered main device.
func (s *Store) MainDevice() topic.EntityID { return s.mainDevice }

// Get returns the metadata for a topic id.
func (s *Store) Get(id topic.EntityID) (*Metadata, bool) {
	m, ok := s.entities[id]
	return m, ok
}

// GetByExternalID resolves a topic id from its external id.
func (s *Store) GetByExternalID(xid ExternalID) (*Metadata, bool) {
	id, ok := s.externalIDIndex[xid]
	if !ok {
		return nil, false
	}
	return s.entities[id], true
}

// Ancestors walks the parent chain from (but not including) id up to the
// main device, nearest ancestor first.
func (s *Store) Ancestors(id topic.EntityID) ([]topic.EntityID, error) {
	meta, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	var chain []topic.EntityID
	cur := meta
	for cur.Parent != nil {
		parent, ok := s.entities[*cur.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, *cur.Parent)
		}
		chain = append(chain, parent.TopicID)
		cur = parent
	}
	return chain, nil
}

// ChildDevices lists the registered child devices of the given parent.
func (s *Store) ChildDevices(parent topic.EntityID) []topic.EntityID {
	var out []topic.EntityID
	for id, m := range s.entities {
		if m.Type == ChildDevice && m.Parent != nil && *m.Parent == parent {
			out = append(out, id)
		}
	}
	return out
}

// Services lists the registered services whose parent is the given device.
func (s *Store) Services(parent topic.EntityID) []topic.EntityID {
	var out []topic.EntityID
	for id, m := range s.entities {
		if m.Type == Service && m.Parent != nil && *m.Parent == parent {
			out = append(out, id)
		}
	}
	return out
}

// Update registers or merges a registration message for the given topic id,
// resolving the parent, computing the external id, and returning whether a
// new registration occurred.
func (s *Store) Update(id topic.EntityID, msg RegistrationMessage) (bool, error) {
	if id == s.mainDevice {
		if _, exists := s.entities[id]; exists && msg.Type == MainDevice {
			if existing := s.entities[id]; len(existing.Other) > 0 || existing.Parent != nil {
				return false, ErrMainDeviceAlreadyRegistered
			}
		}
	}

	var parent *topic.EntityID
	switch msg.Type {
	case MainDevice:
		if id != s.mainDevice {
			return false, fmt.Errorf("entitystore: only %s may register as the main device", s.mainDevice)
		}
	case ChildDevice:
		if msg.Parent != nil {
			if _, ok := s.entities[*msg.Parent]; !ok {
				return false, ErrNoParent
			}
			parent = msg.Parent
		} else {
			parent = &s.mainDevice
		}
	case Service:
		// A service with no explicit @parent is namespaced under the
		// ETID's own default parent (device/<d>//) before falling back to
		// the main device, matching entity_store's
		// parent.or_else(default_parent_identifier).or_else(main_device)
		// chain; either candidate must already be registered.
		candidate := msg.Parent
		if candidate == nil {
			if derived, ok := id.DefaultParentIdentifier(); ok {
				candidate = &derived
			} else {
				candidate = &s.mainDevice
			}
		}
		if _, ok := s.entities[*candidate]; !ok {
			return false, ErrNoParent
		}
		parent = candidate
	}

	xid, err := s.resolveExternalID(id, msg)
	if err != nil {
		return false, err
	}

	existing, exists := s.entities[id]
	if exists {
		for k, v := range msg.Other {
			existing.Other[k] = v
		}
		if parent != nil {
			existing.Parent = parent
		}
		return false, nil
	}

	meta := &Metadata{
		TopicID:    id,
		ExternalID: xid,
		Type:       msg.Type,
		Parent:     parent,
		Other:      msg.Other,
		TwinData:   map[string]any{},
	}
	if meta.Other == nil {
		meta.Other = map[string]any{}
	}
	if meta.Type == Service {
		if _, ok := meta.Other["type"]; !ok && s.defaultServiceType != "" {
			meta.Other["type"] = s.defaultServiceType
		}
	}
	s.entities[id] = meta
	s.externalIDIndex[xid] = id
	return true, nil
}

func (s *Store) resolveExternalID(id topic.EntityID, msg RegistrationMessage) (ExternalID, error) {
	if msg.ID != "" {
		if s.validator != nil {
			xid, err := s.validator(msg.ID)
			if err != nil {
				return "", &InvalidExternalIDError{Value: msg.ID, Cause: err}
			}
			return xid, nil
		}
		return ExternalID(msg.ID), nil
	}
	return s.mapper(id), nil
}

// RegisteredEntity pairs a synthesized registration message with the topic
// id it was registered under, so a caller publishing the registration can
// address the right retained topic without re-deriving it.
type RegisteredEntity struct {
	ID      topic.EntityID
	Message RegistrationMessage
}

// AutoRegisterEntity synthesizes registration messages for an unregistered
// default-scheme child device and/or service, returning them in the order
// they must be published (parent before child). It is a no-op for the main
// device and returns ErrNonDefaultTopicScheme outside the default scheme.
func (s *Store) AutoRegisterEntity(id topic.EntityID) ([]RegisteredEntity, error) {
	if id.IsDefaultMainDevice() {
		return nil, nil
	}
	if !id.MatchesDefaultScheme() {
		return nil, ErrNonDefaultTopicScheme
	}

	var out []RegisteredEntity
	deviceName, _ := id.DefaultDeviceName()
	deviceID := topic.DefaultChildDevice(deviceName)

	if _, ok := s.entities[deviceID]; !ok && deviceID != s.mainDevice {
		msg := RegistrationMessage{Type: ChildDevice, Parent: ptr(s.mainDevice), Other: map[string]any{"name": deviceName}}
		if _, err := s.Update(deviceID, msg); err != nil {
			return nil, err
		}
		out = append(out, RegisteredEntity{ID: deviceID, Message: msg})
	}

	if svcName, isSvc := id.DefaultServiceName(); isSvc {
		if _, ok := s.entities[id]; !ok {
			msg := RegistrationMessage{Type: Service, Parent: ptr(deviceID), Other: map[string]any{"name": svcName}}
			if _, err := s.Update(id, msg); err != nil {
				return nil, err
			}
			out = append(out, RegisteredEntity{ID: id, Message: msg})
		}
	}
	return out, nil
}

// UpdateTwinData merges a twin-data fragment into the entity's twin state.
// A JSON null value removes the corresponding key. Returns whether any
// value actually changed.
func (s *Store) UpdateTwinData(id topic.EntityID, fragmentKey string, value json.RawMessage) (bool, error) {
	meta, ok := s.entities[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	if meta.TwinData == nil {
		meta.TwinData = map[string]any{}
	}
	if string(value) == "null" || len(value) == 0 {
		if _, existed := meta.TwinData[fragmentKey]; !existed {
			return false, nil
		}
		delete(meta.TwinData, fragmentKey)
		return true, nil
	}
	var decoded any
	if err := json.Unmarshal(value, &decoded); err != nil {
		return false, fmt.Errorf("entitystore: decoding twin fragment %q: %w", fragmentKey, err)
	}
	prev, existed := meta.TwinData[fragmentKey]
	if existed && deepEqualJSON(prev, decoded) {
		return false, nil
	}
	meta.TwinData[fragmentKey] = decoded
	return true, nil
}

func deepEqualJSON(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func ptr(id topic.EntityID) *topic.EntityID { return &id }

// Iter returns a snapshot of every registered entity's topic id.
func (s *Store) Iter() []topic.EntityID {
	out := make([]topic.EntityID, 0, len(s.entities))
	for id := range s.entities {
		out = append(out, id)
	}
	return out
}

// DefaultExternalIDMapper derives "<prefix>_<name>[_<qualifier>]" style
// external ids by joining the prefix and the ETID's name and qualifier
// segments, skipping empty ones, with an underscore; the class and kind
// segments are not included.
func DefaultExternalIDMapper(prefix string) ExternalIDMapperFunc {
	return func(id topic.EntityID) ExternalID {
		parts := []string{}
		if prefix != "" {
			parts = append(parts, prefix)
		}
		for _, seg := range []string{id.Name, id.Qualifier} {
			if seg != "" {
				parts = append(parts, seg)
			}
		}
		return ExternalID(strings.Join(parts, "_"))
	}
}
