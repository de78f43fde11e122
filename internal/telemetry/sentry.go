// Package telemetry reports unexpected failures to Sentry.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter captures errors that operators should see outside the logs.
type Reporter interface {
	CaptureError(err error, tags map[string]string)
	Flush(timeout time.Duration) bool
}

// Init returns a Sentry-backed Reporter, or a no-op Reporter when dsn is
// empty.
func Init(dsn, environment, release string) (Reporter, error) {
	if dsn == "" {
		return Nop(), nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return &sentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

type sentryReporter struct {
	hub *sentry.Hub
}

func (r *sentryReporter) CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
}

func (r *sentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

type nopReporter struct{}

// Nop returns a Reporter that drops everything.
func Nop() Reporter {
	return nopReporter{}
}

func (nopReporter) CaptureError(error, map[string]string) {}
func (nopReporter) Flush(time.Duration) bool              { return true }
