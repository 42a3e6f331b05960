// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package events publishes auth.SessionEvent values on a watermill topic.
package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/samber/oops"

	"github.com/holomush/keyauth/internal/auth"
)

// DefaultTopic is the topic session events are published on.
const DefaultTopic = "keyauth.sessions"

// Metadata keys set on every published message.
const (
	MetadataEventType = "event_type"
	MetadataPlayerID  = "player_id"
)

// Publisher implements auth.EventPublisher on a watermill message.Publisher.
type Publisher struct {
	publisher message.Publisher
	topic     string
}

// NewPublisher creates a Publisher. An empty topic selects DefaultTopic.
func NewPublisher(publisher message.Publisher, topic string) (*Publisher, error) {
	if publisher == nil {
		return nil, oops.Errorf("message publisher is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{publisher: publisher, topic: topic}, nil
}

// Topic returns the topic events are published on.
func (p *Publisher) Topic() string {
	return p.topic
}

// PublishSessionEvent encodes the event as JSON and publishes it.
func (p *Publisher) PublishSessionEvent(ctx context.Context, event auth.SessionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return oops.With("operation", "encode session event").
			With("event_type", string(event.Type)).
			Wrap(err)
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataEventType, string(event.Type))
	msg.Metadata.Set(MetadataPlayerID, event.PlayerID.String())

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return oops.With("operation", "publish session event").
			With("topic", p.topic).
			With("event_type", string(event.Type)).
			Wrap(err)
	}
	return nil
}

// Decode parses a message produced by PublishSessionEvent.
func Decode(msg *message.Message) (auth.SessionEvent, error) {
	var event auth.SessionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return auth.SessionEvent{}, oops.With("operation", "decode session event").
			With("message_uuid", msg.UUID).
			Wrap(err)
	}
	return event, nil
}
