// Package conf loads and validates service settings.
package conf

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. LOCALTODO_HOST_TOKEN overrides host.token.
const EnvPrefix = "LOCALTODO"

// RulesDBFile is the rule store file name inside the config directory.
const RulesDBFile = "local_todo.rules.db"

// Settings is the full service configuration.
type Settings struct {
	Main         MainSettings         `mapstructure:"main" yaml:"main"`
	Host         HostSettings         `mapstructure:"host" yaml:"host"`
	Todo         TodoSettings         `mapstructure:"todo" yaml:"todo"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification"`
	MQTT         MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt"`
	API          APISettings          `mapstructure:"api" yaml:"api"`
	Log          LogSettings          `mapstructure:"log" yaml:"log"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
	Bus          BusSettings          `mapstructure:"bus" yaml:"bus"`
}

// MainSettings holds instance-wide paths.
type MainSettings struct {
	ConfigDir string `mapstructure:"config_dir" yaml:"config_dir"`
}

// HostSettings describes how to reach the home automation host.
type HostSettings struct {
	BaseURL              string   `mapstructure:"base_url" yaml:"base_url"`
	Token                string   `mapstructure:"token" yaml:"token"`
	RequestTimeout       Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ReconnectMaxInterval Duration `mapstructure:"reconnect_max_interval" yaml:"reconnect_max_interval"`
	// SubscribeEvents turns the websocket state_changed subscription on.
	SubscribeEvents bool `mapstructure:"subscribe_events" yaml:"subscribe_events"`
}

// TodoSettings selects the to-do list that receives created tasks.
type TodoSettings struct {
	EntityID string `mapstructure:"entity_id" yaml:"entity_id"`
}

// NotificationSettings configures optional push delivery next to the
// host's persistent notification.
type NotificationSettings struct {
	PushURLs    []string `mapstructure:"push_urls" yaml:"push_urls"`
	PushTimeout Duration `mapstructure:"push_timeout" yaml:"push_timeout"`
}

// MQTTSettings configures the statestream source and fired-rule publisher.
type MQTTSettings struct {
	Enabled          bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker           string `mapstructure:"broker" yaml:"broker"`
	ClientID         string `mapstructure:"client_id" yaml:"client_id"`
	Username         string `mapstructure:"username" yaml:"username"`
	Password         string `mapstructure:"password" yaml:"password"`
	// StatestreamTopic enables the statestream source. It replaces the
	// websocket subscription, so the two cannot be on together.
	StatestreamTopic string `mapstructure:"statestream_topic" yaml:"statestream_topic"`
	FiredTopic       string `mapstructure:"fired_topic" yaml:"fired_topic"`
	QoS              byte   `mapstructure:"qos" yaml:"qos"`
}

// APISettings configures the command and REST endpoint.
type APISettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Token   string `mapstructure:"token" yaml:"token"`
}

// LogSettings configures the logger.
type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	SentryDSN   string `mapstructure:"sentry_dsn" yaml:"sentry_dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// BusSettings configures the state event bus.
type BusSettings struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// RulesDBPath returns the fixed rule store location for this instance.
func (s *Settings) RulesDBPath() string {
	return filepath.Join(s.Main.ConfigDir, RulesDBFile)
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("main.config_dir", ".")
	v.SetDefault("host.base_url", "http://homeassistant.local:8123")
	v.SetDefault("host.token", "")
	v.SetDefault("host.request_timeout", "10s")
	v.SetDefault("host.reconnect_max_interval", "1m")
	v.SetDefault("host.subscribe_events", true)
	v.SetDefault("todo.entity_id", "todo.automatizovane")
	v.SetDefault("notification.push_urls", []string{})
	v.SetDefault("notification.push_timeout", "30s")
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "localtodo")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.statestream_topic", "")
	v.SetDefault("mqtt.fired_topic", "")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", ":8099")
	v.SetDefault("api.token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("telemetry.sentry_dsn", "")
	v.SetDefault("telemetry.environment", "production")
	v.SetDefault("bus.buffer_size", 1000)
}

// Load reads settings from configFile (optional) and the environment.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &s, nil
}

// Validate checks settings that would otherwise fail late at runtime.
func (s *Settings) Validate() error {
	var errs []error

	if s.Main.ConfigDir == "" {
		errs = append(errs, errors.New("main.config_dir is required"))
	}
	if s.Host.SubscribeEvents || s.Host.Token != "" {
		u, err := url.Parse(s.Host.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("host.base_url %q is not an absolute URL", s.Host.BaseURL))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("host.base_url scheme must be http or https, got %q", u.Scheme))
		}
	}
	if s.Todo.EntityID == "" || !strings.HasPrefix(s.Todo.EntityID, "todo.") {
		errs = append(errs, fmt.Errorf("todo.entity_id %q must be a todo.* entity", s.Todo.EntityID))
	}
	if s.Host.RequestTimeout.Std() < 0 || s.Notification.PushTimeout.Std() < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if s.MQTT.Enabled {
		if s.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
		}
		if s.MQTT.StatestreamTopic != "" && s.Host.SubscribeEvents {
			errs = append(errs, errors.New("mqtt.statestream_topic and host.subscribe_events both deliver state changes; enable only one"))
		}
		if s.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", s.MQTT.QoS))
		}
	}
	if s.Bus.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("bus.buffer_size must be positive, got %d", s.Bus.BufferSize))
	}

	return errors.Join(errs...)
}

// ReconnectCeiling returns the websocket reconnect ceiling, one minute if unset.
func (h HostSettings) ReconnectCeiling() time.Duration {
	if d := h.ReconnectMaxInterval.Std(); d > 0 {
		return d
	}
	return time.Minute
}
