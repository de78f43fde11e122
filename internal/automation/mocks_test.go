package automation

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/spooni01/ha-automation-of-todo/internal/datastore/entities"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/repository"
	"github.com/spooni01/ha-automation-of-todo/internal/events"
)

// mockRuleRepo is a minimal in-memory RuleRepository.
type mockRuleRepo struct {
	mu      sync.Mutex
	rules   []entities.Rule
	nextID  uint
	listErr error
	lists   int
}

func newMockRepo(rules ...entities.Rule) *mockRuleRepo {
	m := &mockRuleRepo{}
	for i := range rules {
		r := rules[i]
		m.nextID++
		if r.ID == 0 {
			r.ID = m.nextID
		}
		m.rules = append(m.rules, r)
	}
	return m
}

func (m *mockRuleRepo) AddRule(_ context.Context, rule *entities.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rule.ID = m.nextID
	m.rules = append(m.rules, *rule)
	return nil
}

func (m *mockRuleRepo) ListRules(_ context.Context) ([]entities.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return slices.Clone(m.rules), nil
}

func (m *mockRuleRepo) GetRule(_ context.Context, id uint) (*entities.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id {
			r := m.rules[i]
			return &r, nil
		}
	}
	return nil, repository.ErrRuleNotFound
}

func (m *mockRuleRepo) UpdateRule(_ context.Context, rule *entities.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == rule.ID {
			m.rules[i] = *rule
		}
	}
	return nil
}

func (m *mockRuleRepo) DeleteRule(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = slices.DeleteFunc(m.rules, func(r entities.Rule) bool { return r.ID == id })
	return nil
}

func (m *mockRuleRepo) DeleteAllRules(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.rules))
	m.rules = nil
	return n, nil
}

func (m *mockRuleRepo) listCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists
}

// serviceCall is one recorded host service invocation.
type serviceCall struct {
	Domain  string
	Service string
	Data    map[string]any
}

// recordingCaller records service calls and fails those listed in failOn,
// keyed by item name.
type recordingCaller struct {
	mu     sync.Mutex
	calls  []serviceCall
	failOn map[string]bool
}

func (r *recordingCaller) CallService(_ context.Context, domain, service string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, serviceCall{Domain: domain, Service: service, Data: data})
	if item, ok := data[attrItem].(string); ok && r.failOn[item] {
		return errors.New("host rejected call")
	}
	return nil
}

func (r *recordingCaller) recorded() []serviceCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// recordingNotifier records notifications and fails those whose title is
// listed in failOn.
type recordingNotifier struct {
	mu     sync.Mutex
	sent   []Notification
	failOn map[string]bool
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	if r.failOn[n.Title] {
		return errors.New("notification service unavailable")
	}
	return nil
}

func (r *recordingNotifier) notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sent)
}

type recordingPublisher struct {
	mu    sync.Mutex
	fired []*FiredRule
	err   error
}

func (p *recordingPublisher) PublishFired(_ context.Context, fired *FiredRule) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fired = append(p.fired, fired)
	return p.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func stateChange(entityID, oldValue, newValue string) *events.StateChangedEvent {
	return &events.StateChangedEvent{
		EntityID: entityID,
		OldState: &events.EntityState{EntityID: entityID, State: oldValue},
		NewState: &events.EntityState{EntityID: entityID, State: newValue},
	}
}
