package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arloliu/go-xnet/logger"
	"github.com/arloliu/go-xnet/turnout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "xnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, TransportSerial, cfg.Bus.Transport)
	assert.Equal(t, 19200, cfg.Bus.Baud)
	assert.Equal(t, 5*time.Second, cfg.ReplyTimeout())
	assert.Equal(t, 3, cfg.Bus.RetryLimit)
	assert.Equal(t, turnout.Monitoring, cfg.DefaultMode())
	assert.Equal(t, logger.InfoLevel, cfg.LogLevel())
	assert.Equal(t, "xnet", cfg.MQTT.Prefix)
	assert.False(t, cfg.MQTT.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
bus:
  transport: tcp
  address: 192.168.1.20:5550
  reply_timeout_ms: 250
  retry_limit: 1
logging:
  level: debug
  format: console
store:
  path: /var/lib/xnet/roster.db
mqtt:
  enabled: true
  embedded: false
  broker: tcp://broker:1883
turnouts:
  default_mode: exact
  auto_create: true
  roster:
    - address: 3
      mode: DIRECT
    - address: 17
      inverted: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportTCP, cfg.Bus.Transport)
	assert.Equal(t, "192.168.1.20:5550", cfg.Bus.Address)
	assert.Equal(t, 250*time.Millisecond, cfg.ReplyTimeout())
	assert.Equal(t, 1, cfg.Bus.RetryLimit)
	assert.Equal(t, logger.DebugLevel, cfg.LogLevel())
	assert.Equal(t, "/var/lib/xnet/roster.db", cfg.Store.Path)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, turnout.Exact, cfg.DefaultMode())
	assert.True(t, cfg.Turnouts.AutoCreate)
	require.Len(t, cfg.Turnouts.Roster, 2)
	assert.Equal(t, TurnoutConfig{Address: 3, Mode: "DIRECT"}, cfg.Turnouts.Roster[0])
	assert.Equal(t, TurnoutConfig{Address: 17, Inverted: true}, cfg.Turnouts.Roster[1])

	// untouched keys keep their defaults
	assert.Equal(t, 19200, cfg.Bus.Baud)
	assert.Equal(t, "xnet", cfg.MQTT.Prefix)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "bus:\n  port: /dev/ttyACM0\n")

	t.Setenv("XNET_BUS_PORT", "/dev/ttyUSB3")
	t.Setenv("XNET_BUS_BAUD", "57600")
	t.Setenv("XNET_LOG_LEVEL", "warn")
	t.Setenv("XNET_STORE_PATH", "/tmp/roster.db")
	t.Setenv("XNET_MQTT_PASSWORD", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB3", cfg.Bus.Port)
	assert.Equal(t, 57600, cfg.Bus.Baud)
	assert.Equal(t, logger.WarnLevel, cfg.LogLevel())
	assert.Equal(t, "/tmp/roster.db", cfg.Store.Path)
	assert.Equal(t, "secret", cfg.MQTT.Password)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading config file")
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "bus: [unterminated"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing config file")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "unknown transport",
			mutate: func(c *Config) { c.Bus.Transport = "can" },
			errMsg: "bus.transport",
		},
		{
			name:   "tcp without address",
			mutate: func(c *Config) { c.Bus.Transport = TransportTCP },
			errMsg: "bus.address",
		},
		{
			name: "websocket with http url",
			mutate: func(c *Config) {
				c.Bus.Transport = TransportWebSocket
				c.Bus.URL = "http://cs/ws"
			},
			errMsg: "bus.url",
		},
		{
			name:   "zero reply timeout",
			mutate: func(c *Config) { c.Bus.ReplyTimeoutMs = 0 },
			errMsg: "bus.reply_timeout_ms",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "chatty" },
			errMsg: "unknown level",
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			errMsg: "logging.format",
		},
		{
			name: "remote mqtt without broker",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.Embedded = false
				c.MQTT.Broker = ""
			},
			errMsg: "mqtt.broker",
		},
		{
			name:   "bad default mode",
			mutate: func(c *Config) { c.Turnouts.DefaultMode = "ONESENSOR" },
			errMsg: "turnouts.default_mode",
		},
		{
			name: "address out of range",
			mutate: func(c *Config) {
				c.Turnouts.Roster = []TurnoutConfig{{Address: 1025}}
			},
			errMsg: "between 1 and 1024",
		},
		{
			name: "duplicate address",
			mutate: func(c *Config) {
				c.Turnouts.Roster = []TurnoutConfig{{Address: 5}, {Address: 5}}
			},
			errMsg: "duplicate address 5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Bus.Port = ""
	cfg.Bus.Baud = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus.port")
	assert.Contains(t, err.Error(), "bus.baud")
	assert.Contains(t, err.Error(), "; ")
}
