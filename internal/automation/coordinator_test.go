package automation

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spooni01/ha-automation-of-todo/internal/datastore"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/entities"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/repository"
	"github.com/spooni01/ha-automation-of-todo/internal/events"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 14, 17, 45, 0, 0, time.Local)

type harness struct {
	caller     *recordingCaller
	notifier   *recordingNotifier
	dispatcher *ActionDispatcher
}

func newHarness() *harness {
	h := &harness{
		caller:   &recordingCaller{},
		notifier: &recordingNotifier{},
	}
	h.dispatcher = NewActionDispatcher(NewTaskCreator(h.caller, ""), h.notifier, logger.NewNop())
	return h
}

func (h *harness) coordinator(repo repository.RuleRepository) *Coordinator {
	return NewCoordinator(repo, h.dispatcher, logger.NewNop(), WithClock(fixedClock(testNow)))
}

func openStore(t *testing.T) repository.RuleRepository {
	t.Helper()
	store, err := datastore.Open(filepath.Join(t.TempDir(), "rules.db"), datastore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store.Rules()
}

func TestCoordinator_NoFireOnEqualStates(t *testing.T) {
	t.Parallel()

	repo := newMockRepo(entities.Rule{Name: "Door", EntityID: "binary_sensor.door"})
	h := newHarness()

	require.NoError(t, h.coordinator(repo).HandleEvent(t.Context(), stateChange("binary_sensor.door", "on", "on")))

	assert.Empty(t, h.caller.recorded())
	assert.Empty(t, h.notifier.notifications())
	assert.Zero(t, repo.listCount(), "rules should not be loaded for no-op transitions")
}

func TestCoordinator_IgnoresMissingStates(t *testing.T) {
	t.Parallel()

	repo := newMockRepo(entities.Rule{Name: "Door", EntityID: "binary_sensor.door"})
	h := newHarness()
	c := h.coordinator(repo)

	added := &events.StateChangedEvent{
		EntityID: "binary_sensor.door",
		NewState: &events.EntityState{State: "on"},
	}
	removed := &events.StateChangedEvent{
		EntityID: "binary_sensor.door",
		OldState: &events.EntityState{State: "on"},
	}
	require.NoError(t, c.HandleEvent(t.Context(), added))
	require.NoError(t, c.HandleEvent(t.Context(), removed))
	require.NoError(t, c.HandleEvent(t.Context(), nil))

	assert.Empty(t, h.caller.recorded())
	assert.Empty(t, h.notifier.notifications())
}

func TestCoordinator_FiresEveryMatchingRuleRegardlessOfChangeFilters(t *testing.T) {
	t.Parallel()

	repo := newMockRepo(
		entities.Rule{Name: "Water plants", Description: "soil is dry", EntityID: "sensor.soil", EntityTypeOfChange: "below", EntityChangeValue: "20"},
		entities.Rule{Name: "Unrelated", Description: "x", EntityID: "sensor.other"},
		entities.Rule{Name: "Check pump", Description: "pump may run dry", EntityID: "sensor.soil", EntityTypeOfChange: "above", EntityChangeValue: "99"},
		entities.Rule{Name: "Log moisture", Description: "", EntityID: "sensor.soil"},
	)
	h := newHarness()

	require.NoError(t, h.coordinator(repo).HandleEvent(t.Context(), stateChange("sensor.soil", "35", "34")))

	calls := h.caller.recorded()
	require.Len(t, calls, 3)
	notes := h.notifier.notifications()
	require.Len(t, notes, 3)

	wantNames := []string{"Water plants", "Check pump", "Log moisture"}
	wantDescriptions := []string{"soil is dry", "pump may run dry", ""}
	for i := range wantNames {
		assert.Equal(t, DomainTodo, calls[i].Domain)
		assert.Equal(t, ServiceAddItem, calls[i].Service)
		assert.Equal(t, wantNames[i], calls[i].Data[attrItem])
		assert.Equal(t, wantDescriptions[i], calls[i].Data[attrDescription])
		assert.Equal(t, DefaultTodoEntityID, calls[i].Data[attrEntityID])

		assert.Equal(t, wantNames[i], notes[i].Title)
		assert.Equal(t, wantDescriptions[i], notes[i].Message)
	}
}

func TestCoordinator_DueDateIsTomorrow(t *testing.T) {
	t.Parallel()

	repo := newMockRepo(
		entities.Rule{Name: "A", EntityID: "sensor.a"},
		entities.Rule{Name: "B", Description: "different content", EntityID: "sensor.a", EntityChangeValue: "7"},
	)

	clocks := []time.Time{
		testNow,
		time.Date(2026, 2, 28, 23, 0, 0, 0, time.Local),
		time.Date(2026, 12, 31, 6, 0, 0, 0, time.Local),
	}
	for _, now := range clocks {
		h := newHarness()
		c := NewCoordinator(repo, h.dispatcher, logger.NewNop(), WithClock(fixedClock(now)))
		require.NoError(t, c.HandleEvent(t.Context(), stateChange("sensor.a", "1", "2")))

		want := now.AddDate(0, 0, 1).Format("2006-01-02")
		for _, call := range h.caller.recorded() {
			assert.Equal(t, want, call.Data[attrDueDate])
		}
	}
}

func TestCoordinator_ReadsRulesOnEveryEvent(t *testing.T) {
	t.Parallel()

	repo := newMockRepo()
	h := newHarness()
	c := h.coordinator(repo)

	require.NoError(t, c.HandleEvent(t.Context(), stateChange("light.kitchen", "off", "on")))
	assert.Empty(t, h.caller.recorded())

	require.NoError(t, repo.AddRule(t.Context(), &entities.Rule{Name: "Lights", EntityID: "light.kitchen"}))
	require.NoError(t, c.HandleEvent(t.Context(), stateChange("light.kitchen", "on", "off")))

	assert.Len(t, h.caller.recorded(), 1)
	assert.Equal(t, 2, repo.listCount())
}

func TestCoordinator_SinkFailureDoesNotStopRemainingMatches(t *testing.T) {
	t.Parallel()

	repo := newMockRepo(
		entities.Rule{Name: "first", EntityID: "switch.pump"},
		entities.Rule{Name: "second", EntityID: "switch.pump"},
		entities.Rule{Name: "third", EntityID: "switch.pump"},
	)
	h := newHarness()
	h.caller.failOn = map[string]bool{"first": true}
	h.notifier.failOn = map[string]bool{"second": true}

	err := h.coordinator(repo).HandleEvent(t.Context(), stateChange("switch.pump", "off", "on"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule 1")
	assert.Contains(t, err.Error(), "rule 2")
	assert.NotContains(t, err.Error(), "rule 3")

	assert.Len(t, h.caller.recorded(), 3)
	assert.Len(t, h.notifier.notifications(), 3)
}

func TestCoordinator_ListRulesError(t *testing.T) {
	t.Parallel()

	storageErr := errors.New("disk I/O error")
	repo := newMockRepo()
	repo.listErr = storageErr
	h := newHarness()

	err := h.coordinator(repo).HandleEvent(t.Context(), stateChange("sensor.a", "1", "2"))
	require.ErrorIs(t, err, storageErr)
	assert.Empty(t, h.caller.recorded())
}

func TestCoordinator_FiredRuleCarriesEventAndIntentID(t *testing.T) {
	t.Parallel()

	repo := newMockRepo(
		entities.Rule{Name: "A", EntityID: "sensor.a"},
		entities.Rule{Name: "B", EntityID: "sensor.a"},
	)
	pub := &recordingPublisher{}
	d := NewActionDispatcher(NewTaskCreator(&recordingCaller{}, ""), &recordingNotifier{}, logger.NewNop(), WithPublisher(pub))
	c := NewCoordinator(repo, d, logger.NewNop(), WithClock(fixedClock(testNow)))

	ev := stateChange("sensor.a", "1", "2")
	require.NoError(t, c.HandleEvent(t.Context(), ev))

	require.Len(t, pub.fired, 2)
	assert.NotEmpty(t, pub.fired[0].ID)
	assert.NotEqual(t, pub.fired[0].ID, pub.fired[1].ID)
	assert.Same(t, ev, pub.fired[0].Event)
	assert.Equal(t, testNow, pub.fired[0].FiredAt)
}

func TestCoordinator_DoorScenario(t *testing.T) {
	t.Parallel()

	repo := openStore(t)
	require.NoError(t, repo.AddRule(t.Context(), &entities.Rule{
		Name:        "Close the door",
		Description: "front door was opened",
		EntityID:    "binary_sensor.door",
	}))
	h := newHarness()

	require.NoError(t, h.coordinator(repo).HandleEvent(t.Context(), stateChange("binary_sensor.door", "off", "on")))

	calls := h.caller.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "Close the door", calls[0].Data[attrItem])
	assert.Equal(t, "front door was opened", calls[0].Data[attrDescription])
	assert.Equal(t, "2026-10-15", calls[0].Data[attrDueDate])

	notes := h.notifier.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, Notification{Title: "Close the door", Message: "front door was opened"}, notes[0])
}

func TestCoordinator_DeleteAllThenNoFires(t *testing.T) {
	t.Parallel()

	repo := openStore(t)
	for _, name := range []string{"a", "b"} {
		require.NoError(t, repo.AddRule(t.Context(), &entities.Rule{Name: name, EntityID: "sensor.temp"}))
	}
	deleted, err := repo.DeleteAllRules(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	rules, err := repo.ListRules(t.Context())
	require.NoError(t, err)
	assert.Empty(t, rules)

	h := newHarness()
	require.NoError(t, h.coordinator(repo).HandleEvent(t.Context(), stateChange("sensor.temp", "20", "21")))
	assert.Empty(t, h.caller.recorded())
	assert.Empty(t, h.notifier.notifications())
}
