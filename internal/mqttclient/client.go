// Package mqttclient wraps paho.mqtt.golang with the connection-option
// defaults used throughout the mapper (spec §6), grounded on the teacher's
// pkg/tedge.NewClient and mqtt_channel::config.rs.
package mqttclient

import (
	"crypto/rand"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// LastWill describes a retained message to publish as the broker-managed
// LWT, typically the mapper's "down" health status.
type LastWill struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ConnectOptions mirrors mqtt_channel::Config: host/port default to the
// local broker, an empty SessionName forces a random client id and a clean
// session regardless of CleanSession, and QueueCapacity/MaxPacketSize bound
// the client's internal buffering.
type ConnectOptions struct {
	Host            string
	Port            int
	SessionName     string
	CleanSession    bool
	QueueCapacity   int
	MaxPacketSize   int
	InitialMessage  *LastWill
	LastWillMessage *LastWill
}

// DefaultConnectOptions returns the spec's connection-option defaults.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		Host:          "localhost",
		Port:          1883,
		CleanSession:  false,
		QueueCapacity: 1024,
		MaxPacketSize: 1024 * 1024,
	}
}

// NewClientOptions builds paho ClientOptions from ConnectOptions, applying
// the random-client-id-forces-clean-session rule.
func NewClientOptions(opts ConnectOptions) *mqtt.ClientOptions {
	clientID := opts.SessionName
	cleanSession := opts.CleanSession
	if clientID == "" {
		clientID = randomClientID()
		cleanSession = true
	}

	o := mqtt.NewClientOptions()
	o.AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Host, opts.Port))
	o.SetClientID(clientID)
	o.SetCleanSession(cleanSession)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetOrderMatters(false)

	if opts.LastWillMessage != nil {
		lw := opts.LastWillMessage
		o.SetWill(lw.Topic, string(lw.Payload), lw.QoS, lw.Retain)
	}
	if opts.InitialMessage != nil {
		msg := opts.InitialMessage
		o.SetOnConnectHandler(func(c mqtt.Client) {
			time.Sleep(500 * time.Millisecond)
			c.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
		})
	}
	return o
}

const clientIDAlphabet = "abcdefghijklmnopqrstuvwxyz"

// randomClientID generates a random 10-character lowercase client id,
// matching mqtt_channel::Config's fastrand::lowercase fallback.
func randomClientID() string {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "tedgemapper"
	}
	out := make([]byte, 10)
	for i, b := range buf {
		out[i] = clientIDAlphabet[int(b)%len(clientIDAlphabet)]
	}
	return string(out)
}
