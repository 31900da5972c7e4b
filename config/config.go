// Package config loads the xnetctl configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-xnet/logger"
	"github.com/arloliu/go-xnet/turnout"
	"gopkg.in/yaml.v3"
)

// Transport names accepted in bus.transport.
const (
	TransportSerial    = "serial"
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Config is the root configuration.
type Config struct {
	Bus      BusConfig      `yaml:"bus"`
	Logging  LoggingConfig  `yaml:"logging"`
	Store    StoreConfig    `yaml:"store"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Turnouts TurnoutsConfig `yaml:"turnouts"`
}

// BusConfig selects and configures the interface connection.
type BusConfig struct {
	Transport string `yaml:"transport"`

	// serial
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
	USB  bool   `yaml:"usb"`

	// tcp
	Address string `yaml:"address"`

	// websocket
	URL           string `yaml:"url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SkipTLSVerify bool   `yaml:"skip_tls_verify"`

	ReplyTimeoutMs int `yaml:"reply_timeout_ms"`
	RetryLimit     int `yaml:"retry_limit"`
}

// LoggingConfig configures the default logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig configures the roster store. An empty path keeps the roster
// in memory.
type StoreConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig configures the MQTT bridge.
type MQTTConfig struct {
	Enabled bool `yaml:"enabled"`

	// Embedded runs an in-process broker instead of connecting to Broker.
	Embedded bool `yaml:"embedded"`
	// Listen is the TCP address of the embedded broker; empty disables it.
	Listen string `yaml:"listen"`

	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`

	Prefix string `yaml:"prefix"`
}

// TurnoutsConfig configures the turnout manager.
type TurnoutsConfig struct {
	DefaultMode string          `yaml:"default_mode"`
	AutoCreate  bool            `yaml:"auto_create"`
	Roster      []TurnoutConfig `yaml:"roster"`
}

// TurnoutConfig pre-configures one turnout.
type TurnoutConfig struct {
	Address  int    `yaml:"address"`
	Mode     string `yaml:"mode"`
	Inverted bool   `yaml:"inverted"`
}

// Load reads the configuration.
//
// It starts from defaults, applies the YAML file at path if path is not
// empty, then XNET_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Transport:      TransportSerial,
			Port:           "/dev/ttyUSB0",
			Baud:           19200,
			ReplyTimeoutMs: 5000,
			RetryLimit:     3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logger.FormatJSON,
		},
		Store: StoreConfig{
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Embedded: true,
			Listen:   ":1883",
			Broker:   "tcp://localhost:1883",
			ClientID: "xnetctl",
			QoS:      1,
			Prefix:   "xnet",
		},
		Turnouts: TurnoutsConfig{
			DefaultMode: turnout.Monitoring.String(),
		},
	}
}

// applyEnvOverrides applies XNET_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("XNET_BUS_TRANSPORT"); v != "" {
		cfg.Bus.Transport = v
	}
	if v := os.Getenv("XNET_BUS_PORT"); v != "" {
		cfg.Bus.Port = v
	}
	if v := os.Getenv("XNET_BUS_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bus.Baud = n
		}
	}
	if v := os.Getenv("XNET_BUS_ADDRESS"); v != "" {
		cfg.Bus.Address = v
	}
	if v := os.Getenv("XNET_BUS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("XNET_BUS_PASSWORD"); v != "" {
		cfg.Bus.Password = v
	}

	if v := os.Getenv("XNET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("XNET_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	if v := os.Getenv("XNET_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("XNET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("XNET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch c.Bus.Transport {
	case TransportSerial:
		if c.Bus.Port == "" {
			errs = append(errs, "bus.port is required for the serial transport")
		}
		if c.Bus.Baud <= 0 {
			errs = append(errs, "bus.baud must be positive")
		}
	case TransportTCP:
		if c.Bus.Address == "" {
			errs = append(errs, "bus.address is required for the tcp transport")
		}
	case TransportWebSocket:
		if !strings.HasPrefix(c.Bus.URL, "ws://") && !strings.HasPrefix(c.Bus.URL, "wss://") {
			errs = append(errs, "bus.url must start with ws:// or wss://")
		}
	default:
		errs = append(errs, fmt.Sprintf("bus.transport %q must be serial, tcp or websocket", c.Bus.Transport))
	}

	if c.Bus.ReplyTimeoutMs <= 0 {
		errs = append(errs, "bus.reply_timeout_ms must be positive")
	}
	if c.Bus.RetryLimit < 0 {
		errs = append(errs, "bus.retry_limit must not be negative")
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Logging.Format != logger.FormatJSON && c.Logging.Format != logger.FormatConsole {
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or console", c.Logging.Format))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Prefix == "" {
			errs = append(errs, "mqtt.prefix is required")
		}
		if !c.MQTT.Embedded && c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required without the embedded broker")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if _, err := turnout.ParseFeedbackMode(c.Turnouts.DefaultMode); err != nil {
		errs = append(errs, "turnouts.default_mode: "+err.Error())
	}

	seen := make(map[int]bool, len(c.Turnouts.Roster))
	for _, tc := range c.Turnouts.Roster {
		if tc.Address < 1 || tc.Address > 1024 {
			errs = append(errs, fmt.Sprintf("turnouts.roster: address %d must be between 1 and 1024", tc.Address))
		}
		if seen[tc.Address] {
			errs = append(errs, fmt.Sprintf("turnouts.roster: duplicate address %d", tc.Address))
		}
		seen[tc.Address] = true

		if tc.Mode != "" {
			if _, err := turnout.ParseFeedbackMode(tc.Mode); err != nil {
				errs = append(errs, fmt.Sprintf("turnouts.roster[%d]: %v", tc.Address, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReplyTimeout returns the bus reply timeout as a Duration.
func (c *Config) ReplyTimeout() time.Duration {
	return time.Duration(c.Bus.ReplyTimeoutMs) * time.Millisecond
}

// DefaultMode returns the parsed default feedback mode.
func (c *Config) DefaultMode() turnout.FeedbackMode {
	m, _ := turnout.ParseFeedbackMode(c.Turnouts.DefaultMode)
	return m
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logger.Level {
	l, _ := logger.ParseLevel(c.Logging.Level)
	return l
}
