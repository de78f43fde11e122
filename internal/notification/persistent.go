// Package notification delivers fired-rule alerts to the host's persistent
// notification surface and optional push services.
package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/spooni01/ha-automation-of-todo/internal/automation"
)

// Host persistent notification service.
const (
	DomainPersistentNotification = "persistent_notification"
	ServiceCreate                = "create"
)

// ServiceCaller invokes a host service.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// PersistentNotifier creates a persistent notification on the host.
type PersistentNotifier struct {
	caller ServiceCaller
}

// NewPersistentNotifier returns a notifier backed by caller.
func NewPersistentNotifier(caller ServiceCaller) *PersistentNotifier {
	return &PersistentNotifier{caller: caller}
}

// Notify implements automation.Notifier.
func (p *PersistentNotifier) Notify(ctx context.Context, n automation.Notification) error {
	data := map[string]any{
		"title":   n.Title,
		"message": n.Message,
	}
	if err := p.caller.CallService(ctx, DomainPersistentNotification, ServiceCreate, data); err != nil {
		return fmt.Errorf("failed to create persistent notification %q: %w", n.Title, err)
	}
	return nil
}

// Multi fans a notification out to every notifier. All of them are tried;
// failures are joined.
type Multi []automation.Notifier

// Notify implements automation.Notifier.
func (m Multi) Notify(ctx context.Context, n automation.Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
