//go:build integration

package containers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NtfyContainer is a running ntfy push server.
type NtfyContainer struct {
	container   testcontainers.Container
	host        string
	port        int
	authEnabled bool
	http        *resty.Client
}

// NtfyConfig configures NewNtfyContainer.
type NtfyConfig struct {
	// ImageTag for binwiederhier/ntfy, "latest" when empty.
	ImageTag string
	// EnableAuth turns on user accounts with deny-all default access.
	EnableAuth bool
}

// NtfyMessage is one cached message on a topic.
type NtfyMessage struct {
	ID      string `json:"id"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
	Title   string `json:"title"`
	Time    int64  `json:"time"`
}

// NewNtfyContainer starts an ntfy server. A nil config means no auth.
func NewNtfyContainer(ctx context.Context, config *NtfyConfig) (*NtfyContainer, error) {
	cfg := NtfyConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.ImageTag == "" {
		cfg.ImageTag = "latest"
	}

	req := testcontainers.ContainerRequest{
		Image:        "binwiederhier/ntfy:" + cfg.ImageTag,
		ExposedPorts: []string{"80/tcp"},
		Cmd:          []string{"serve", "--cache-file=/tmp/ntfy/cache.db"},
		Tmpfs:        map[string]string{"/tmp/ntfy": "rw"},
		WaitingFor:   wait.ForHTTP("/v1/health").WithPort("80/tcp").WithStartupTimeout(30 * time.Second),
	}
	if cfg.EnableAuth {
		req.Env = map[string]string{
			"NTFY_AUTH_FILE":           "/tmp/ntfy/auth.db",
			"NTFY_AUTH_DEFAULT_ACCESS": "deny-all",
		}
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ntfy container: %w", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "80")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	c := &NtfyContainer{
		container:   container,
		host:        host,
		port:        port.Int(),
		authEnabled: cfg.EnableAuth,
	}
	c.http = resty.New().SetBaseURL("http://" + c.GetHost(ctx)).SetTimeout(10 * time.Second)
	return c, nil
}

// GetHost returns host:port of the server.
func (c *NtfyContainer) GetHost(_ context.Context) string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// AddUser creates a regular user. Auth must be enabled.
func (c *NtfyContainer) AddUser(ctx context.Context, username, password string) error {
	return c.exec(ctx, []string{"ntfy", "user", "add", username}, tcexec.WithEnv([]string{"NTFY_PASSWORD=" + password}))
}

// GrantAccess gives username "ro", "wo" or "rw" permission on topic.
func (c *NtfyContainer) GrantAccess(ctx context.Context, username, topic, permission string) error {
	return c.exec(ctx, []string{"ntfy", "access", username, topic, permission})
}

func (c *NtfyContainer) exec(ctx context.Context, cmd []string, opts ...tcexec.ProcessOption) error {
	if !c.authEnabled {
		return fmt.Errorf("%s: authentication is not enabled", strings.Join(cmd[:2], " "))
	}
	code, output, err := c.container.Exec(ctx, cmd, opts...)
	if err != nil {
		return fmt.Errorf("failed to exec %v: %w", cmd, err)
	}
	if code != 0 {
		out, _ := io.ReadAll(output)
		return fmt.Errorf("%v exited with code %d: %s", cmd, code, out)
	}
	return nil
}

// PollMessages returns every cached message on topic.
func (c *NtfyContainer) PollMessages(ctx context.Context, topic string) ([]NtfyMessage, error) {
	return c.PollMessagesWithAuth(ctx, topic, "", "")
}

// PollMessagesWithAuth is PollMessages with Basic Auth.
func (c *NtfyContainer) PollMessagesWithAuth(ctx context.Context, topic, username, password string) ([]NtfyMessage, error) {
	req := c.http.R().SetContext(ctx).SetQueryParam("poll", "1")
	if username != "" {
		req.SetBasicAuth(username, password)
	}
	resp, err := req.Get("/" + topic + "/json")
	if err != nil {
		return nil, fmt.Errorf("failed to poll messages: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("poll request failed with status %d: %s", resp.StatusCode(), resp.String())
	}

	// Newline-delimited JSON, one message per line.
	var messages []NtfyMessage
	for line := range strings.SplitSeq(strings.TrimSpace(resp.String()), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var msg NtfyMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("failed to parse message JSON: %w", err)
		}
		if msg.Message == "" && msg.ID == "" {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Terminate stops and removes the container.
func (c *NtfyContainer) Terminate(ctx context.Context) error {
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
