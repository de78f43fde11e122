package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/spooni01/ha-automation-of-todo/internal/events"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
)

// Websocket message types.
const (
	msgAuthRequired    = "auth_required"
	msgAuth            = "auth"
	msgAuthOK          = "auth_ok"
	msgAuthInvalid     = "auth_invalid"
	msgSubscribeEvents = "subscribe_events"
	msgResult          = "result"
	msgEvent           = "event"
	msgPing            = "ping"
)

const (
	handshakeTimeout    = 10 * time.Second
	defaultMaxRetry     = time.Minute
	defaultPingInterval = 30 * time.Second
)

type wsMessage struct {
	ID          int             `json:"id,omitempty"`
	Type        string          `json:"type"`
	AccessToken string          `json:"access_token,omitempty"`
	EventType   string          `json:"event_type,omitempty"`
	Success     *bool           `json:"success,omitempty"`
	Message     string          `json:"message,omitempty"`
	Event       json.RawMessage `json:"event,omitempty"`
	Error       *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventStream subscribes to state_changed events over the host websocket
// API and reconnects with exponential backoff.
type EventStream struct {
	url         string
	token       string
	maxInterval time.Duration
	// pingInterval paces host pings; a session with no inbound message for
	// two intervals is treated as dead.
	pingInterval time.Duration
	dialer       *websocket.Dialer
	log          logger.Logger
}

// NewEventStream returns a stream for the host at baseURL (http or https).
// maxInterval caps the reconnect delay.
func NewEventStream(baseURL, token string, maxInterval time.Duration, log logger.Logger) (*EventStream, error) {
	wsURL, err := WebsocketURL(baseURL)
	if err != nil {
		return nil, err
	}
	if maxInterval <= 0 {
		maxInterval = defaultMaxRetry
	}
	return &EventStream{
		url:         wsURL,
		token:       token,
		maxInterval:  maxInterval,
		pingInterval: defaultPingInterval,
		dialer:       &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		log:          log.With(logger.String("component", "event_stream")),
	}, nil
}

// WebsocketURL maps a REST base URL to the websocket API endpoint.
func WebsocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid host URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported host URL scheme %q", u.Scheme)
	}
	u.Path += "/api/websocket"
	return u.String(), nil
}

// Run delivers state changes to publish until ctx ends. It returns nil on
// cancellation and ErrAuthInvalid if the host rejects the token.
func (s *EventStream) Run(ctx context.Context, publish func(*events.StateChangedEvent)) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = min(500*time.Millisecond, s.maxInterval)
	exp.MaxInterval = s.maxInterval
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(exp, ctx)

	op := func() error {
		err := s.session(ctx, publish, exp.Reset)
		switch {
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.Is(err, ErrAuthInvalid):
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("event stream disconnected, reconnecting",
			logger.Error(err),
			logger.Duration("retry_in", wait))
	}

	err := backoff.RetryNotify(op, b, notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// session runs one connection. onReady is called once the subscription is
// confirmed.
func (s *EventStream) session(ctx context.Context, publish func(*events.StateChangedEvent), onReady func()) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.url, err)
	}

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	defer closeConn()
	stop := context.AfterFunc(ctx, closeConn)
	defer stop()

	if err := s.authenticate(conn); err != nil {
		return err
	}
	if err := conn.WriteJSON(wsMessage{ID: 1, Type: msgSubscribeEvents, EventType: events.EventTypeStateChanged}); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.keepalive(conn, pingDone)

	readTimeout := 2 * s.pingInterval
	subscribed := false
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}

		switch msg.Type {
		case msgResult:
			if msg.ID != 1 {
				continue
			}
			if msg.Success == nil || !*msg.Success {
				return fmt.Errorf("subscribe_events rejected: %s", describe(msg.Error))
			}
			if !subscribed {
				subscribed = true
				onReady()
				s.log.Info("subscribed to state changes", logger.String("url", s.url))
			}
		case msgEvent:
			ev, err := events.DecodeStateChanged(msg.Event)
			if err != nil {
				s.log.Warn("skipping undecodable event", logger.Error(err))
				continue
			}
			publish(ev)
		}
	}
}

// keepalive sends host pings until done is closed. It is the only writer
// once the subscription has been sent.
func (s *EventStream) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	id := 1
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			id++
			_ = conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
			if err := conn.WriteJSON(wsMessage{ID: id, Type: msgPing}); err != nil {
				s.log.Debug("host ping failed", logger.Error(err))
				return
			}
		}
	}
}

func (s *EventStream) authenticate(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth request: %w", err)
	}
	if msg.Type != msgAuthRequired {
		return fmt.Errorf("expected %s, got %q", msgAuthRequired, msg.Type)
	}
	if err := conn.WriteJSON(wsMessage{Type: msgAuth, AccessToken: s.token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	msg = wsMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth result: %w", err)
	}
	switch msg.Type {
	case msgAuthOK:
		return nil
	case msgAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthInvalid, msg.Message)
	default:
		return fmt.Errorf("unexpected auth reply %q", msg.Type)
	}
}

func describe(e *wsError) string {
	if e == nil {
		return "no error detail"
	}
	return e.Code + ": " + e.Message
}
