package automation

import (
	"errors"
	"fmt"
	"time"

	"github.com/spooni01/ha-automation-of-todo/internal/datastore/entities"
	"github.com/spooni01/ha-automation-of-todo/internal/events"
)

// FiredRule is the single intent produced when a rule matches an event.
// Both the task and the notification are derived from it.
type FiredRule struct {
	ID      string                    `json:"id"`
	Rule    entities.Rule             `json:"rule"`
	Event   *events.StateChangedEvent `json:"event"`
	FiredAt time.Time                 `json:"fired_at"`
}

// DueDate is the calendar day after FiredAt, in FiredAt's location.
func (f *FiredRule) DueDate() string {
	return f.FiredAt.AddDate(0, 0, 1).Format(dueDateLayout)
}

// Outcome collects the result of dispatching one FiredRule to both sinks.
type Outcome struct {
	Fired     *FiredRule
	TaskErr   error
	NotifyErr error
}

// Degraded reports a partial failure: exactly one of the sinks failed.
func (o Outcome) Degraded() bool {
	return (o.TaskErr == nil) != (o.NotifyErr == nil)
}

// Failed reports that both sinks failed.
func (o Outcome) Failed() bool {
	return o.TaskErr != nil && o.NotifyErr != nil
}

// Err joins the sink errors, or returns nil when both succeeded.
func (o Outcome) Err() error {
	var errs []error
	if o.TaskErr != nil {
		errs = append(errs, fmt.Errorf("task: %w", o.TaskErr))
	}
	if o.NotifyErr != nil {
		errs = append(errs, fmt.Errorf("notify: %w", o.NotifyErr))
	}
	return errors.Join(errs...)
}
