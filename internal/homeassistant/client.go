// Package homeassistant talks to the home automation host: REST service
// calls for side effects and the websocket API for state change events.
package homeassistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
)

const defaultRequestTimeout = 10 * time.Second

// ErrAuthInvalid is returned when the host rejects the access token.
var ErrAuthInvalid = errors.New("host rejected access token")

// APIError is a non-2xx response from the REST API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, strings.TrimSpace(e.Body))
}

// Client calls host services over REST.
type Client struct {
	http *resty.Client
	log  logger.Logger
}

// NewClient returns a client for the host at baseURL authenticated with a
// long-lived access token.
func NewClient(baseURL, token string, timeout time.Duration, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{http: rc, log: log}
}

// CallService invokes domain.service with data. The call is not retried.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	start := time.Now()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(data).
		Post(path)
	if err != nil {
		return fmt.Errorf("failed to call %s.%s: %w", domain, service, err)
	}
	if resp.IsError() {
		return &APIError{Method: http.MethodPost, Path: path, StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	c.log.Debug("host service called",
		logger.String("domain", domain),
		logger.String("service", service),
		logger.Int("status", resp.StatusCode()),
		logger.Since(start))
	return nil
}

// Ping checks that the REST API is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/api/")
	if err != nil {
		return fmt.Errorf("failed to reach host API: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return ErrAuthInvalid
	}
	if resp.IsError() {
		return &APIError{Method: http.MethodGet, Path: "/api/", StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
