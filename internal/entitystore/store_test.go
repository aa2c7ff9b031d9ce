package entitystore

import (
	"errors"
	"testing"

	"github.com/thin-edge/tedge-mapper/internal/topic"
)

func newTestStore() *Store {
	mapper := DefaultExternalIDMapper("test_device")
	return New(topic.DefaultMainDevice(), "service", mapper, nil)
}

func TestRegistersMainDevice(t *testing.T) {
	s := newTestStore()
	meta, ok := s.Get(topic.DefaultMainDevice())
	if !ok {
		t.Fatal("expected main device to be pre-registered")
	}
	if meta.Type != MainDevice {
		t.Fatalf("expected MainDevice type, got %v", meta.Type)
	}
}

func TestListsChildDevices(t *testing.T) {
	s := newTestStore()
	child := topic.DefaultChildDevice("child1")
	if _, err := s.Update(child, RegistrationMessage{Type: ChildDevice}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	children := s.ChildDevices(s.MainDevice())
	if len(children) != 1 || children[0] != child {
		t.Fatalf("unexpected children: %+v", children)
	}
}

func TestListsServices(t *testing.T) {
	s := newTestStore()
	svc := topic.DefaultMainService("collectd")
	if _, err := s.Update(svc, RegistrationMessage{Type: Service}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	services := s.Services(s.MainDevice())
	if len(services) != 1 || services[0] != svc {
		t.Fatalf("unexpected services: %+v", services)
	}
	meta, _ := s.Get(svc)
	if meta.Other["type"] != "service" {
		t.Fatalf("expected default service type to be set, got %+v", meta.Other)
	}
}

func TestForbidsNonexistentParents(t *testing.T) {
	s := newTestStore()
	ghostParent := topic.DefaultChildDevice("ghost")
	svc := topic.DefaultChildService("ghost", "collectd")
	_, err := s.Update(svc, RegistrationMessage{Type: Service, Parent: &ghostParent})
	if !errors.Is(err, ErrNoParent) {
		t.Fatalf("expected ErrNoParent, got %v", err)
	}
}

func TestListAncestors(t *testing.T) {
	s := newTestStore()
	child := topic.DefaultChildDevice("child1")
	if _, err := s.Update(child, RegistrationMessage{Type: ChildDevice}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc := topic.DefaultChildService("child1", "collectd")
	if _, err := s.Update(svc, RegistrationMessage{Type: Service}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ancestors, err := s.Ancestors(svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ancestors) != 2 || ancestors[0] != child || ancestors[1] != s.MainDevice() {
		t.Fatalf("unexpected ancestors: %+v", ancestors)
	}
}

func TestServiceWithoutExplicitParentUsesEntityDerivedParent(t *testing.T) {
	s := newTestStore()
	child := topic.DefaultChildDevice("child1")
	if _, err := s.Update(child, RegistrationMessage{Type: ChildDevice}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc := topic.DefaultChildService("child1", "collectd")
	if _, err := s.Update(svc, RegistrationMessage{Type: Service}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta, ok := s.Get(svc)
	if !ok {
		t.Fatal("expected service to be registered")
	}
	if meta.Parent == nil || *meta.Parent != child {
		t.Fatalf("expected service to be parented under its derived device, got %+v", meta.Parent)
	}
}

func TestServiceWithoutExplicitParentFailsWhenDerivedParentUnregistered(t *testing.T) {
	s := newTestStore()
	svc := topic.DefaultChildService("child1", "collectd")
	if _, err := s.Update(svc, RegistrationMessage{Type: Service}); !errors.Is(err, ErrNoParent) {
		t.Fatalf("expected ErrNoParent since device/child1// was never registered, got %v", err)
	}
}

func TestAutoRegisterService(t *testing.T) {
	s := newTestStore()
	svc := topic.DefaultMainService("collectd")
	entities, err := s.AutoRegisterEntity(svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) != 1 || entities[0].Message.Type != Service || entities[0].ID != svc {
		t.Fatalf("unexpected auto-register messages: %+v", entities)
	}
	if _, ok := s.Get(svc); !ok {
		t.Fatal("expected service to be registered")
	}
}

func TestAutoRegisterChildDevice(t *testing.T) {
	s := newTestStore()
	svc := topic.DefaultChildService("child1", "collectd")
	entities, err := s.AutoRegisterEntity(svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected parent then service registration, got %+v", entities)
	}
	if entities[0].Message.Type != ChildDevice || entities[1].Message.Type != Service {
		t.Fatalf("unexpected order: %+v", entities)
	}
	if entities[0].ID != topic.DefaultChildDevice("child1") || entities[1].ID != svc {
		t.Fatalf("unexpected ids: %+v", entities)
	}
}

func TestAutoRegisterCustomTopicSchemeNotSupported(t *testing.T) {
	s := newTestStore()
	custom, _ := topic.ParseEntityID("custom/name/service/thing")
	if _, err := s.AutoRegisterEntity(custom); !errors.Is(err, ErrNonDefaultTopicScheme) {
		t.Fatalf("expected ErrNonDefaultTopicScheme, got %v", err)
	}
}

func TestUpdateTwinDataSetAndRemove(t *testing.T) {
	s := newTestStore()
	device := s.MainDevice()
	changed, err := s.UpdateTwinData(device, "hardware", []byte(`{"serial":"1234"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected twin update to report a change")
	}
	meta, _ := s.Get(device)
	if _, ok := meta.TwinData["hardware"]; !ok {
		t.Fatal("expected hardware fragment to be set")
	}

	changed, err = s.UpdateTwinData(device, "hardware", []byte(`null`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected removal to report a change")
	}
	if _, ok := meta.TwinData["hardware"]; ok {
		t.Fatal("expected hardware fragment to be removed")
	}
}

func TestEncodeRegistrationMessageRoundTrips(t *testing.T) {
	parent := topic.DefaultChildDevice("child1")
	msg := RegistrationMessage{Type: Service, Parent: &parent, Other: map[string]any{"name": "collectd"}}
	payload, err := EncodeRegistrationMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := ParseRegistrationMessage(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Type != Service || decoded.Parent == nil || *decoded.Parent != parent || decoded.Other["name"] != "collectd" {
		t.Fatalf("unexpected round-trip: %+v", decoded)
	}
}

func TestExternalIDValidation(t *testing.T) {
	validator := func(raw string) (ExternalID, error) {
		if raw == "" {
			return "", errors.New("external id must not be empty")
		}
		return ExternalID(raw), nil
	}
	s := New(topic.DefaultMainDevice(), "service", DefaultExternalIDMapper("test"), validator)
	child := topic.DefaultChildDevice("child1")
	if _, err := s.Update(child, RegistrationMessage{Type: ChildDevice, ID: "custom-xid"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta, _ := s.Get(child)
	if meta.ExternalID != "custom-xid" {
		t.Fatalf("expected validator-provided xid, got %q", meta.ExternalID)
	}
}
