// Package mapperrun implements the Mapper Runtime actor: the
// Init -> Sync -> Steady -> Shutdown state machine driving one cloud
// converter against the local MQTT broker (spec §4.D), grounded on
// tedge_mapper::core::mapper.Mapper.
package mapperrun

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thin-edge/tedge-mapper/internal/cloudconv"
	"github.com/thin-edge/tedge-mapper/internal/entitystore"
	"github.com/thin-edge/tedge-mapper/internal/httpproxy"
	"github.com/thin-edge/tedge-mapper/internal/mqttconv"
	"github.com/thin-edge/tedge-mapper/internal/topic"
)

// SyncWindow bounds how long Init waits for retained state to arrive
// before entering steady-state processing, matching SYNC_WINDOW.
const SyncWindow = 3 * time.Second

// MqttMessage is the minimal message shape the runtime exchanges with its
// MQTT transport.
type MqttMessage struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// Publisher is implemented by the MQTT transport the runtime drives.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
	Subscribe(ctx context.Context, filters []string) (<-chan MqttMessage, error)
}

// isHealthCheckRequest matches on "<root>/+/+/+/+/cmd/health/check" and any
// legacy "tedge/health-check[/<name>]" topic.
func isHealthCheckRequest(t string) bool {
	return strings.HasSuffix(t, "/cmd/health/check") || strings.HasPrefix(t, "tedge/health-check")
}

// Mapper drives one cloud's worth of topic translation plus entity
// registration and health reporting.
type Mapper struct {
	Name       string
	RootPrefix string
	Target     topic.Target
	Store      *entitystore.Store
	Converter  cloudconv.Converter
	Legacy     *mqttconv.LegacyConverter
	Transport  Publisher
	Log        *slog.Logger

	// Proxy is the authenticated HTTP handle to the cloud's REST API, used
	// to carry twin updates through to Cumulocity's inventory (spec §4.G).
	// It is nil for clouds without an HTTP proxy (Azure, AWS).
	Proxy *httpproxy.Proxy

	externalIDOf func(topic.EntityID) string
}

// NewMapper constructs a Mapper for the given cloud converter.
func NewMapper(name string, store *entitystore.Store, converter cloudconv.Converter, transport Publisher, log *slog.Logger) *Mapper {
	if log == nil {
		log = slog.Default()
	}
	target := topic.NewTarget(store.MainDevice())
	return &Mapper{
		Name:       name,
		RootPrefix: topic.DefaultRootPrefix,
		Target:     target,
		Store:      store,
		Converter:  converter,
		Legacy:     mqttconv.NewLegacyConverter(),
		Transport:  transport,
		Log:        log,
		externalIDOf: func(id topic.EntityID) string {
			if meta, ok := store.Get(id); ok {
				return string(meta.ExternalID)
			}
			return ""
		},
	}
}

// Run executes the full Init -> Sync -> Steady -> Shutdown state machine.
func (m *Mapper) Run(ctx context.Context) error {
	if err := m.init(ctx); err != nil {
		return err
	}
	defer m.shutdown(ctx)

	filters := append([]string{}, m.Converter.InTopicFilter()...)
	filters = append(filters, topic.SubscriptionFilter(m.RootPrefix), "tedge/health-check", "tedge/health-check/+")
	inbox, err := m.Transport.Subscribe(ctx, filters)
	if err != nil {
		return fmt.Errorf("mapperrun: subscribing: %w", err)
	}

	syncCtx, cancelSync := context.WithTimeout(ctx, SyncWindow)
	defer cancelSync()
	m.drainSyncWindow(syncCtx, inbox)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbox:
			if !ok {
				return nil
			}
			if err := m.processMessage(ctx, msg); err != nil {
				m.Log.Error("failed to process message", "topic", msg.Topic, "error", err)
			}
		}
	}
}

func (m *Mapper) init(ctx context.Context) error {
	if err := m.Transport.Publish(ctx, m.Target.HealthTopic(), healthPayload("up"), true); err != nil {
		return fmt.Errorf("mapperrun: publishing health up: %w", err)
	}
	selfReg, _ := json.Marshal(map[string]any{"@type": "device"})
	return m.Transport.Publish(ctx, m.Target.RegistrationTopic(), selfReg, true)
}

func (m *Mapper) shutdown(ctx context.Context) {
	if err := m.Transport.Publish(ctx, m.Target.HealthTopic(), healthPayload("down"), true); err != nil {
		m.Log.Error("failed to publish health down", "error", err)
	}
}

func healthPayload(status string) []byte {
	payload, _ := json.Marshal(map[string]any{"status": status, "time": time.Now().Unix()})
	return payload
}

// drainSyncWindow absorbs retained messages until syncCtx expires, feeding
// each through the entity store (but not yet the cloud converter) so that
// registrations are known before steady-state translation begins.
func (m *Mapper) drainSyncWindow(syncCtx context.Context, inbox <-chan MqttMessage) {
	for {
		select {
		case <-syncCtx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			m.absorbRegistration(msg)
		}
	}
}

func (m *Mapper) absorbRegistration(msg MqttMessage) {
	target, ch, err := topic.ParseTarget(m.RootPrefix, msg.Topic)
	if err != nil || ch.Kind != topic.ChannelEntity {
		return
	}
	reg, err := entitystore.ParseRegistrationMessage(msg.Payload)
	if err != nil {
		return
	}
	_, _ = m.Store.Update(target.Entity, reg)
}

func (m *Mapper) processMessage(ctx context.Context, msg MqttMessage) error {
	if isHealthCheckRequest(msg.Topic) {
		return m.Transport.Publish(ctx, m.Target.HealthTopic(), healthPayload("up"), true)
	}

	if strings.HasPrefix(msg.Topic, "tedge/") {
		translated, err := m.Legacy.Convert(mqttconv.Message{Topic: msg.Topic, Payload: msg.Payload, Retain: msg.Retain})
		if err != nil {
			return err
		}
		for _, t := range translated {
			if err := m.routeMessage(ctx, t.Topic, t.Payload); err != nil {
				return err
			}
		}
		return nil
	}

	m.absorbRegistration(msg)
	return m.routeMessage(ctx, msg.Topic, msg.Payload)
}

// routeMessage dispatches one new-scheme message: it auto-registers the
// sending entity on first sight, then sends health-status messages through
// the cloud's HealthConverter, twin updates through the entity store and on
// to the HTTP proxy, and everything else through the plain Convert path.
func (m *Mapper) routeMessage(ctx context.Context, topicStr string, payload []byte) error {
	target, ch, err := topic.ParseTarget(m.RootPrefix, topicStr)
	if err != nil {
		return m.routeThroughConverter(ctx, cloudconv.Message{Topic: topicStr, Payload: payload})
	}

	if err := m.ensureRegistered(ctx, target.Entity); err != nil {
		m.Log.Error("failed to auto-register entity", "entity", target.Entity.String(), "error", err)
	}

	switch ch.Kind {
	case topic.ChannelHealth:
		return m.routeHealth(ctx, cloudconv.Message{Topic: topicStr, Payload: payload})
	case topic.ChannelTwin:
		return m.routeTwin(ctx, target.Entity, ch.Type, payload)
	default:
		return m.routeThroughConverter(ctx, cloudconv.Message{Topic: topicStr, Payload: payload})
	}
}

func (m *Mapper) routeThroughConverter(ctx context.Context, msg cloudconv.Message) error {
	out, err := m.Converter.Convert(msg)
	if err != nil {
		return err
	}
	return m.publishAll(ctx, out)
}

// routeHealth dispatches a health-status message through the converter's
// HealthConverter extension, if it implements one; converters without a
// cloud-specific service-monitoring format (Azure, AWS) silently drop it.
func (m *Mapper) routeHealth(ctx context.Context, msg cloudconv.Message) error {
	hc, ok := m.Converter.(cloudconv.HealthConverter)
	if !ok {
		return nil
	}
	out, err := hc.ConvertHealth(msg, m.externalIDOf)
	if err != nil {
		return err
	}
	return m.publishAll(ctx, out)
}

// routeTwin merges an incoming twin fragment into the entity store and, if
// the merge actually changed the store and a proxy is wired, carries the
// update through to Cumulocity's inventory via SendInventoryTwin.
func (m *Mapper) routeTwin(ctx context.Context, id topic.EntityID, fragment string, payload []byte) error {
	changed, err := m.Store.UpdateTwinData(id, fragment, payload)
	if err != nil || !changed || m.Proxy == nil {
		return err
	}
	externalID := m.externalIDOf(id)
	if externalID == "" {
		return nil
	}
	req, err := httpproxy.SendInventoryTwinRequest(externalID, fragment, json.RawMessage(payload))
	if err != nil {
		return err
	}
	_, _, err = m.Proxy.Execute(ctx, req)
	return err
}

// ensureRegistered auto-registers id's missing ancestry/service the first
// time a data message is seen from it, publishing each synthesized
// registration as a retained message so later restarts and other mapper
// instances observe it too.
func (m *Mapper) ensureRegistered(ctx context.Context, id topic.EntityID) error {
	if _, ok := m.Store.Get(id); ok {
		return nil
	}
	entities, err := m.Store.AutoRegisterEntity(id)
	if err != nil {
		return err
	}
	for _, e := range entities {
		payload, err := entitystore.EncodeRegistrationMessage(e.Message)
		if err != nil {
			return err
		}
		regTarget := topic.NewTarget(e.ID)
		if err := m.Transport.Publish(ctx, regTarget.RegistrationTopic(), payload, true); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapper) publishAll(ctx context.Context, out []cloudconv.Message) error {
	for _, o := range out {
		if err := m.Transport.Publish(ctx, o.Topic, o.Payload, false); err != nil {
			return err
		}
	}
	return nil
}
