// Package config loads and validates the dashboard configuration file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/hub"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/telemetry"
)

// Default values
const (
	DefaultPath          = "iothub.yaml"
	DefaultAddr          = ":8080"
	DefaultUsername      = "admin"
	DefaultPassword      = "password"
	DefaultJWTExpiration = 24 * time.Hour
	DefaultNamespace     = "haadziq"
	DefaultBrokerHost    = "broker.avisha.id"
	DefaultStoragePath   = "data/iothub.db"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig            `yaml:"server"`
	Auth    AuthConfig              `yaml:"auth"`
	MQTT    MQTTConfig              `yaml:"mqtt"`
	Topics  telemetry.TopicSettings `yaml:"topics"`
	Devices []DeviceConfig          `yaml:"devices"`
	Storage StorageConfig           `yaml:"storage"`

	path string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr   string `yaml:"addr"`
	WebDir string `yaml:"web_dir"`
	NoAuth bool   `yaml:"no_auth"`
}

// AuthConfig holds the operator account and session settings.
type AuthConfig struct {
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTExpiration time.Duration `yaml:"jwt_expiration"`
}

// MQTTConfig holds broker defaults.
type MQTTConfig struct {
	// Namespace is the root topic level all dashboard traffic lives under.
	Namespace     string               `yaml:"namespace"`
	Connection    hub.ConnectionConfig `yaml:"connection"`
	AutoConnect   bool                 `yaml:"auto_connect"`
	CommandFormat string               `yaml:"command_format"`
}

// DeviceConfig provisions one LED device.
type DeviceConfig struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Brightness *float64 `yaml:"brightness,omitempty"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr: DefaultAddr,
		},
		Auth: AuthConfig{
			Username:      DefaultUsername,
			Password:      DefaultPassword,
			JWTExpiration: DefaultJWTExpiration,
		},
		MQTT: MQTTConfig{
			Namespace: DefaultNamespace,
			Connection: hub.ConnectionConfig{
				Scheme: hub.SchemeWSS,
				Host:   DefaultBrokerHost,
				Port:   hub.DefaultPort(hub.SchemeWSS),
				Path:   "/mqtt",
			},
			CommandFormat: string(hub.CommandJSON),
		},
		Topics: telemetry.DefaultTopicSettings(DefaultNamespace),
		Devices: []DeviceConfig{
			{ID: "led1", Name: "LED Device", Brightness: telemetry.Float(50)},
		},
		Storage: StorageConfig{
			Path: DefaultStoragePath,
		},
	}
}

// Load reads the configuration at path. A missing file is created with
// defaults, and a missing JWT secret is generated and written back.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path
	dirty := false

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		dirty = true
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyDefaults()

	if cfg.Auth.JWTSecret == "" {
		secret, err := generateSecureSecret(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
		dirty = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if dirty {
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}

	return &cfg, nil
}

// applyDefaults fills zero values left by a partial file.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Auth.JWTExpiration == 0 {
		c.Auth.JWTExpiration = defaults.Auth.JWTExpiration
	}
	if c.MQTT.Namespace == "" {
		c.MQTT.Namespace = defaults.MQTT.Namespace
	}
	if c.MQTT.CommandFormat == "" {
		c.MQTT.CommandFormat = defaults.MQTT.CommandFormat
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaults.Storage.Path
	}

	// Topic fields left empty follow the configured namespace.
	nsTopics := telemetry.DefaultTopicSettings(c.MQTT.Namespace)
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&c.Topics.Temperature, nsTopics.Temperature)
	fill(&c.Topics.Humidity, nsTopics.Humidity)
	fill(&c.Topics.SensorData, nsTopics.SensorData)
	fill(&c.Topics.LedCommand, nsTopics.LedCommand)
	fill(&c.Topics.LedStatus, nsTopics.LedStatus)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if err := validateAddr(c.Server.Addr); err != nil {
		errs = errs.Append("server.addr", err)
	}

	if !c.Server.NoAuth {
		if c.Auth.Username == "" {
			errs = errs.Append("auth.username", fmt.Errorf("username cannot be empty"))
		}
		if c.Auth.Password == "" {
			errs = errs.Append("auth.password", fmt.Errorf("password cannot be empty"))
		}
	}
	if c.Auth.JWTExpiration < time.Minute {
		errs = errs.Append("auth.jwt_expiration", fmt.Errorf("must be at least 1 minute"))
	} else if c.Auth.JWTExpiration > 365*24*time.Hour {
		errs = errs.Append("auth.jwt_expiration", fmt.Errorf("cannot exceed 1 year"))
	}

	if err := telemetry.ValidateTopicName(c.MQTT.Namespace); err != nil {
		errs = errs.Append("mqtt.namespace", err)
	}
	if _, err := hub.ParseCommandFormat(c.MQTT.CommandFormat); err != nil {
		errs = errs.Append("mqtt.command_format", err)
	}
	if c.MQTT.Connection.Host != "" {
		conn := c.MQTT.Connection.WithDefaults()
		if err := conn.Validate(); err != nil {
			errs = errs.Append("mqtt.connection", err)
		}
	} else if c.MQTT.AutoConnect {
		errs = errs.Append("mqtt.auto_connect", fmt.Errorf("requires mqtt.connection.host"))
	}

	if err := c.Topics.Validate(); err != nil {
		errs = errs.Append("topics", err)
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		field := "devices[" + strconv.Itoa(i) + "]"
		switch {
		case d.ID == "":
			errs = errs.Append(field+".id", fmt.Errorf("id cannot be empty"))
		case seen[d.ID]:
			errs = errs.Append(field+".id", fmt.Errorf("duplicate device id %q", d.ID))
		}
		seen[d.ID] = true
		if d.Brightness != nil && (*d.Brightness < 0 || *d.Brightness > 100) {
			errs = errs.Append(field+".brightness", fmt.Errorf("must be between 0 and 100"))
		}
	}

	if c.Storage.Path == "" {
		errs = errs.Append("storage.path", fmt.Errorf("path cannot be empty"))
	}

	return errs.ToError()
}

func validateAddr(addr string) error {
	if addr == "" {
		return errors.New("server address cannot be empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid server address format: %s", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port number: %s", port)
	}
	return nil
}

// Save writes the configuration back to its file.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no file path")
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// The file holds the JWT secret and the operator password.
	return os.WriteFile(c.path, data, 0o600)
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// DeviceStates converts the provisioned devices into initial hub state.
func (c *Config) DeviceStates() []telemetry.DeviceState {
	out := make([]telemetry.DeviceState, 0, len(c.Devices))
	for _, d := range c.Devices {
		name := d.Name
		if name == "" {
			name = d.ID
		}
		state := telemetry.DeviceState{ID: d.ID, Name: name}
		if d.Brightness != nil {
			state.Brightness = telemetry.Float(*d.Brightness)
		}
		out = append(out, state)
	}
	return out
}

// generateSecureSecret generates a cryptographically secure random hex string.
func generateSecureSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// String returns a string representation of the config (without secrets).
func (c *Config) String() string {
	mask := func(s string) string {
		if s == "" {
			return "[not set]"
		}
		return "[set]"
	}

	return fmt.Sprintf(
		"Config{Addr: %q, NoAuth: %v, User: %q, Password: %s, JWTSecret: %s, JWTExpiration: %v, "+
			"Namespace: %q, Broker: %q, BrokerPassword: %s, AutoConnect: %v, CommandFormat: %q, Devices: %d, Storage: %q}",
		c.Server.Addr, c.Server.NoAuth, c.Auth.Username, mask(c.Auth.Password), mask(c.Auth.JWTSecret),
		c.Auth.JWTExpiration, c.MQTT.Namespace, c.MQTT.Connection.Redacted().WithDefaults().BrokerURL(),
		mask(c.MQTT.Connection.Password), c.MQTT.AutoConnect, c.MQTT.CommandFormat, len(c.Devices), c.Storage.Path,
	)
}
