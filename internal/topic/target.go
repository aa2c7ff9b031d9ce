package topic

import (
	"fmt"
	"strings"
)

// DefaultRootPrefix is the new-scheme topic root, "te".
const DefaultRootPrefix = "te"

// Target addresses a specific entity under a configurable root prefix,
// mirroring the teacher's tedge.Target{RootPrefix, TopicID} pairing.
type Target struct {
	RootPrefix string
	Entity     EntityID
}

// NewTarget builds a Target for the given entity under the default root.
func NewTarget(entity EntityID) Target {
	return Target{RootPrefix: DefaultRootPrefix, Entity: entity}
}

// Topic renders the full new-scheme topic for a channel, e.g.
// "te/device/main///m/".
func (t Target) Topic(ch Channel) string {
	prefix := t.RootPrefix
	if prefix == "" {
		prefix = DefaultRootPrefix
	}
	suffix := ch.String()
	if suffix == "" {
		return fmt.Sprintf("%s/%s", prefix, t.Entity.String())
	}
	return fmt.Sprintf("%s/%s/%s", prefix, t.Entity.String(), suffix)
}

// RegistrationTopic renders the retained registration topic for this entity.
func (t Target) RegistrationTopic() string {
	return t.Topic(Channel{Kind: ChannelEntity})
}

// HealthTopic renders the health/status topic for this entity.
func (t Target) HealthTopic() string {
	return t.Topic(Channel{Kind: ChannelHealth})
}

// TwinTopic renders the twin-data topic for the given fragment key.
func (t Target) TwinTopic(fragment string) string {
	return t.Topic(Channel{Kind: ChannelTwin, Type: fragment})
}

// ParseTarget splits a full new-scheme topic into its Target and Channel,
// given the configured root prefix.
func ParseTarget(rootPrefix, topicStr string) (Target, Channel, error) {
	if rootPrefix == "" {
		rootPrefix = DefaultRootPrefix
	}
	prefixStr := rootPrefix + "/"
	if !strings.HasPrefix(topicStr, prefixStr) {
		return Target{}, Channel{}, &ErrUnsupportedTopic{Topic: topicStr}
	}
	rest := strings.TrimPrefix(topicStr, prefixStr)
	segs := strings.Split(rest, "/")
	if len(segs) < 4 {
		return Target{}, Channel{}, &ErrUnsupportedTopic{Topic: topicStr}
	}
	entity := EntityID{Class: segs[0], Name: segs[1], Kind: segs[2], Qualifier: segs[3]}
	ch, err := ParseChannel(segs[4:])
	if err != nil {
		return Target{}, Channel{}, err
	}
	return Target{RootPrefix: rootPrefix, Entity: entity}, ch, nil
}

// SubscriptionFilter returns the wildcard filter subscribing to every
// channel of every entity under this root prefix: "<root>/+/+/+/+/#", the
// four ETID wildcards followed by a multi-level wildcard.
func SubscriptionFilter(rootPrefix string) string {
	if rootPrefix == "" {
		rootPrefix = DefaultRootPrefix
	}
	return rootPrefix + "/+/+/+/+/#"
}
