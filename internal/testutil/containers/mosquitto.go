//go:build integration

package containers

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	mosquittoImage   = "eclipse-mosquitto:2.0"
	mosquittoPort    = "1883/tcp"
	mosquittoConf    = "/mosquitto-anonymous.conf"
	mqttTokenTimeout = 5 * time.Second
)

const anonymousMosquittoConf = `listener 1883
allow_anonymous true
`

// MosquittoContainer is a running anonymous MQTT broker.
type MosquittoContainer struct {
	container  testcontainers.Container
	brokerURL  string
	configFile string
}

// NewMosquittoContainer starts a broker that accepts anonymous clients and
// waits until it accepts a connection.
func NewMosquittoContainer(ctx context.Context) (*MosquittoContainer, error) {
	configFile, err := writeTempFile("mosquitto-*.conf", anonymousMosquittoConf)
	if err != nil {
		return nil, err
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mosquittoImage,
			ExposedPorts: []string{mosquittoPort},
			Cmd:          []string{"mosquitto", "-c", mosquittoConf},
			Files: []testcontainers.ContainerFile{{
				HostFilePath:      configFile,
				ContainerFilePath: mosquittoConf,
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForLog("mosquitto version").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		_ = os.Remove(configFile)
		return nil, fmt.Errorf("failed to start mosquitto container: %w", err)
	}

	mc := &MosquittoContainer{container: container, configFile: configFile}
	host, err := container.Host(ctx)
	if err != nil {
		_ = mc.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "1883")
	if err != nil {
		_ = mc.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	mc.brokerURL = "tcp://" + net.JoinHostPort(host, strconv.Itoa(port.Int()))

	client, err := mc.Connect("healthcheck")
	if err != nil {
		_ = mc.Terminate(ctx)
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	client.Disconnect(250)
	return mc, nil
}

// BrokerURL returns the broker address, e.g. tcp://localhost:32771.
func (c *MosquittoContainer) BrokerURL() string {
	return c.brokerURL
}

// Connect returns a connected client. The caller disconnects it.
func (c *MosquittoContainer) Connect(clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(mqttTokenTimeout).
		SetAutoReconnect(false)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTokenTimeout) {
		return nil, fmt.Errorf("connect timeout for client %s", clientID)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect client %s: %w", clientID, err)
	}
	return client, nil
}

// Publish sends one message with a fresh client.
func (c *MosquittoContainer) Publish(topic string, retained bool, payload string) error {
	client, err := c.Connect("publisher-" + strconv.FormatInt(time.Now().UnixNano(), 36))
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	token := client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(mqttTokenTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	return token.Error()
}

// Terminate stops the container and removes the generated config file.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	var err error
	if c.container != nil {
		if termErr := c.container.Terminate(ctx); termErr != nil {
			err = fmt.Errorf("failed to terminate container: %w", termErr)
		}
	}
	if c.configFile != "" {
		_ = os.Remove(c.configFile)
	}
	return err
}

func writeTempFile(pattern, content string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return f.Name(), nil
}
