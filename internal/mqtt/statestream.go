package mqtt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/spooni01/ha-automation-of-todo/internal/events"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
)

// Subscriber is the part of Client the statestream source needs.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Unsubscribe(ctx context.Context, topic string) error
}

// StatestreamSource turns statestream topics <base>/<domain>/<object_id>/state
// into state change events. The first message seen for an entity only sets
// its baseline.
type StatestreamSource struct {
	sub       Subscriber
	baseTopic string
	log       logger.Logger
	now       func() time.Time

	mu   sync.Mutex
	last map[string]*events.EntityState
}

// NewStatestreamSource reads states published under baseTopic.
func NewStatestreamSource(sub Subscriber, baseTopic string, log logger.Logger) *StatestreamSource {
	return &StatestreamSource{
		sub:       sub,
		baseTopic: strings.TrimRight(baseTopic, "/"),
		log:       log.With(logger.String("component", "statestream")),
		now:       time.Now,
		last:      make(map[string]*events.EntityState),
	}
}

// Topic is the wildcard subscription for all entity states.
func (s *StatestreamSource) Topic() string {
	return s.baseTopic + "/+/+/state"
}

// Run subscribes and hands each transition to publish until ctx ends.
func (s *StatestreamSource) Run(ctx context.Context, publish func(*events.StateChangedEvent)) error {
	err := s.sub.Subscribe(ctx, s.Topic(), func(topic string, payload []byte, _ bool) {
		if ev := s.handle(topic, payload); ev != nil {
			publish(ev)
		}
	})
	if err != nil {
		return err
	}
	s.log.Info("statestream source started", logger.String("topic", s.Topic()))

	<-ctx.Done()
	unsubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.sub.Unsubscribe(unsubCtx, s.Topic())
	return nil
}

// handle records the new state and returns the transition, or nil for the
// first message of an entity or an unrelated topic.
func (s *StatestreamSource) handle(topic string, payload []byte) *events.StateChangedEvent {
	entityID, ok := EntityIDFromTopic(s.baseTopic, topic)
	if !ok {
		return nil
	}
	now := s.now()
	next := &events.EntityState{
		EntityID:    entityID,
		State:       strings.TrimSpace(string(payload)),
		LastUpdated: now,
	}

	s.mu.Lock()
	prev := s.last[entityID]
	if prev != nil && prev.State == next.State {
		next.LastChanged = prev.LastChanged
	} else {
		next.LastChanged = now
	}
	s.last[entityID] = next
	s.mu.Unlock()

	if prev == nil {
		return nil
	}
	return &events.StateChangedEvent{
		EntityID:  entityID,
		OldState:  prev,
		NewState:  next,
		Origin:    "MQTT",
		TimeFired: now,
	}
}

// EntityIDFromTopic maps <base>/<domain>/<object_id>/state to
// <domain>.<object_id>.
func EntityIDFromTopic(base, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, base+"/")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "state" || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}
