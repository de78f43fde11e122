package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/spooni01/ha-automation-of-todo/internal/automation"
)

const defaultPushTimeout = 10 * time.Second

// PushNotifier sends notifications through shoutrrr service URLs
// (ntfy, gotify, telegram, ...).
type PushNotifier struct {
	sender *router.ServiceRouter
	urls   int
}

// NewPushNotifier validates urls and builds the sender. A zero timeout uses
// the default.
func NewPushNotifier(urls []string, timeout time.Duration) (*PushNotifier, error) {
	if len(urls) == 0 {
		return nil, errors.New("no push URLs configured")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("failed to create push sender: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	sender.Timeout = timeout
	return &PushNotifier{sender: sender, urls: len(urls)}, nil
}

// Notify implements automation.Notifier. The message goes to every URL; the
// sender enforces its own timeout, so ctx only short-circuits a call that
// starts after cancellation.
func (p *PushNotifier) Notify(ctx context.Context, n automation.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := types.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	message := n.Message
	if message == "" {
		message = n.Title
	}

	var errs []error
	for i, err := range p.sender.Send(message, &params) {
		if err != nil {
			errs = append(errs, fmt.Errorf("push target %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to deliver push notification to %d of %d targets: %w", len(errs), p.urls, errors.Join(errs...))
	}
	return nil
}
