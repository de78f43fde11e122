package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/repository"
	"github.com/spooni01/ha-automation-of-todo/internal/events"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
	"github.com/spooni01/ha-automation-of-todo/internal/observability/metrics"
)

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock replaces time.Now as the source of FiredAt.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics records evaluation results in m.
func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator evaluates state changes against the stored rules.
type Coordinator struct {
	repo       repository.RuleRepository
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	log        logger.Logger
	now        func() time.Time
	newID      func() string
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(repo repository.RuleRepository, dispatcher Dispatcher, log logger.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		repo:       repo,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleEvent fires every rule watching event.EntityID, provided the
// entity's state value actually changed. Rules are loaded from the store on
// every call. A failing match does not stop the remaining ones; all failures
// are joined into the returned error.
func (c *Coordinator) HandleEvent(ctx context.Context, event *events.StateChangedEvent) error {
	if !event.ValueChanged() {
		c.metrics.RecordStateEvent(metrics.ResultIgnored)
		return nil
	}

	rules, err := c.repo.ListRules(ctx)
	if err != nil {
		c.metrics.RecordStateEvent(metrics.ResultError)
		return fmt.Errorf("failed to load rules: %w", err)
	}
	c.metrics.SetRuleCount(len(rules))

	var errs []error
	matched := 0
	for i := range rules {
		rule := &rules[i]
		if rule.EntityID != event.EntityID {
			continue
		}
		matched++
		if rule.EntityTypeOfChange != "" || rule.EntityChangeValue != "" {
			c.log.Debug("rule change filters are stored but not evaluated",
				logger.Uint64("rule_id", uint64(rule.ID)),
				logger.String("entity_type_of_change", rule.EntityTypeOfChange),
				logger.String("entity_change_value", rule.EntityChangeValue))
		}

		fired := &FiredRule{
			ID:      c.newID(),
			Rule:    *rule,
			Event:   event,
			FiredAt: c.now(),
		}
		c.metrics.RecordRuleFired()
		if out := c.dispatcher.Dispatch(ctx, fired); out.Err() != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", rule.ID, out.Err()))
		}
	}

	switch {
	case len(errs) > 0:
		c.metrics.RecordStateEvent(metrics.ResultError)
	case matched == 0:
		c.metrics.RecordStateEvent(metrics.ResultNoMatch)
	default:
		c.metrics.RecordStateEvent(metrics.ResultMatched)
	}
	if matched > 0 {
		c.log.Debug("state change evaluated",
			logger.String("entity_id", event.EntityID),
			logger.String("old_state", event.OldState.State),
			logger.String("new_state", event.NewState.State),
			logger.Int("matched", matched))
	}
	return errors.Join(errs...)
}
