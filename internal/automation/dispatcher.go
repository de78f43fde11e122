package automation

import (
	"context"
	"strconv"

	"github.com/spooni01/ha-automation-of-todo/internal/logger"
	"github.com/spooni01/ha-automation-of-todo/internal/observability/metrics"
	"github.com/spooni01/ha-automation-of-todo/internal/telemetry"
)

// Notification is the user-visible alert for a fired rule.
type Notification struct {
	Title   string
	Message string
}

// Notifier delivers a notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// TaskSink creates the to-do item for a fired rule. *TaskCreator is the
// production implementation.
type TaskSink interface {
	CreateTask(ctx context.Context, fired *FiredRule) error
}

// FiredPublisher mirrors fired rules to an external channel.
type FiredPublisher interface {
	PublishFired(ctx context.Context, fired *FiredRule) error
}

// Dispatcher turns one FiredRule into its side effects.
type Dispatcher interface {
	Dispatch(ctx context.Context, fired *FiredRule) Outcome
}

// DispatcherOption configures an ActionDispatcher.
type DispatcherOption func(*ActionDispatcher)

// WithPublisher mirrors each fired rule through p after both sinks ran.
func WithPublisher(p FiredPublisher) DispatcherOption {
	return func(d *ActionDispatcher) {
		d.publisher = p
	}
}

// WithDispatchMetrics records sink failures in m.
func WithDispatchMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *ActionDispatcher) {
		d.metrics = m
	}
}

// WithDispatchReporter reports degraded and failed outcomes to r.
func WithDispatchReporter(r telemetry.Reporter) DispatcherOption {
	return func(d *ActionDispatcher) {
		if r != nil {
			d.reporter = r
		}
	}
}

// ActionDispatcher sends a fired rule to the task sink and the notifier.
// Both always run; their results are folded into one Outcome.
type ActionDispatcher struct {
	tasks     TaskSink
	notifier  Notifier
	publisher FiredPublisher
	metrics   *metrics.Metrics
	reporter  telemetry.Reporter
	log       logger.Logger
}

// NewActionDispatcher creates a new ActionDispatcher.
func NewActionDispatcher(tasks TaskSink, notifier Notifier, log logger.Logger, opts ...DispatcherOption) *ActionDispatcher {
	d := &ActionDispatcher{
		tasks:    tasks,
		notifier: notifier,
		reporter: telemetry.Nop(),
		log:      log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch implements Dispatcher.
func (d *ActionDispatcher) Dispatch(ctx context.Context, fired *FiredRule) Outcome {
	out := Outcome{Fired: fired}

	if d.tasks != nil {
		out.TaskErr = d.tasks.CreateTask(ctx, fired)
	}
	if d.notifier != nil {
		out.NotifyErr = d.notifier.Notify(ctx, Notification{
			Title:   fired.Rule.Name,
			Message: fired.Rule.Description,
		})
	}

	if out.TaskErr != nil {
		d.metrics.RecordSinkError(metrics.SinkTask)
	}
	if out.NotifyErr != nil {
		d.metrics.RecordSinkError(metrics.SinkNotify)
	}
	d.logOutcome(out)

	if d.publisher != nil {
		if err := d.publisher.PublishFired(ctx, fired); err != nil {
			d.log.Warn("failed to publish fired rule",
				logger.Uint64("rule_id", uint64(fired.Rule.ID)),
				logger.String("intent_id", fired.ID),
				logger.Error(err))
		}
	}
	return out
}

func (d *ActionDispatcher) logOutcome(out Outcome) {
	fired := out.Fired
	fields := []logger.Field{
		logger.Uint64("rule_id", uint64(fired.Rule.ID)),
		logger.String("intent_id", fired.ID),
		logger.String("entity_id", fired.Rule.EntityID),
	}
	switch {
	case out.Failed():
		d.log.Error("rule actions failed", append(fields,
			logger.String("task_error", out.TaskErr.Error()),
			logger.String("notify_error", out.NotifyErr.Error()))...)
	case out.Degraded():
		fields = append(fields, logger.Bool("task_ok", out.TaskErr == nil), logger.Bool("notify_ok", out.NotifyErr == nil))
		if out.TaskErr != nil {
			fields = append(fields, logger.String("task_error", out.TaskErr.Error()))
		}
		if out.NotifyErr != nil {
			fields = append(fields, logger.String("notify_error", out.NotifyErr.Error()))
		}
		d.log.Warn("rule fired with degraded outcome", fields...)
	default:
		d.log.Info("rule fired", fields...)
		return
	}
	d.reporter.CaptureError(out.Err(), map[string]string{
		"rule_id":   strconv.FormatUint(uint64(fired.Rule.ID), 10),
		"intent_id": fired.ID,
	})
}
