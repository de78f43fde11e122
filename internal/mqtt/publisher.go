package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spooni01/ha-automation-of-todo/internal/automation"
)

// Publisher is the part of Client the fired-rule publisher needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, retained bool, payload []byte) error
}

// FiredPublisher mirrors fired rules as JSON to a topic.
type FiredPublisher struct {
	pub   Publisher
	topic string
}

// NewFiredPublisher publishes to topic through pub.
func NewFiredPublisher(pub Publisher, topic string) *FiredPublisher {
	return &FiredPublisher{pub: pub, topic: topic}
}

// PublishFired implements automation.FiredPublisher.
func (p *FiredPublisher) PublishFired(ctx context.Context, fired *automation.FiredRule) error {
	payload, err := json.Marshal(fired)
	if err != nil {
		return fmt.Errorf("failed to marshal fired rule: %w", err)
	}
	return p.pub.Publish(ctx, p.topic, false, payload)
}
