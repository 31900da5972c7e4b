package main

import (
	"fmt"

	"github.com/arloliu/go-xnet/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	// serial
	portName string
	baudRate int
	usb      bool

	// tcp / websocket
	tcpAddr       string
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "xnetctl",
	Short: "XpressNet turnout controller",
	Long: `xnetctl - command and monitor XpressNet turnouts.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 19200] [--usb]
  TCP:       --tcp host:port
  WebSocket: --url ws://host/path [--username user]

Settings not given as flags come from --config, then XNET_* environment
variables. For WebSocket authentication the password is read from
XNET_BUS_PASSWORD, or prompted interactively if not set.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "Log format (json, console)")

	pf.StringVarP(&portName, "port", "p", "", "Serial port device")
	pf.IntVarP(&baudRate, "baud", "b", 19200, "Baud rate (serial only)")
	pf.BoolVar(&usb, "usb", false, "Strip LI-USB framing prefixes")

	pf.StringVar(&tcpAddr, "tcp", "", "LAN interface address (host:port)")
	pf.StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	pf.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	pf.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Changed("port") {
		cfg.Bus.Transport = config.TransportSerial
		cfg.Bus.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Bus.Baud = baudRate
	}
	if flags.Changed("usb") {
		cfg.Bus.USB = usb
	}
	if flags.Changed("tcp") {
		cfg.Bus.Transport = config.TransportTCP
		cfg.Bus.Address = tcpAddr
	}
	if flags.Changed("url") {
		cfg.Bus.Transport = config.TransportWebSocket
		cfg.Bus.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Bus.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Bus.SkipTLSVerify = wsNoSSLVerify
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating flags: %w", err)
	}

	return cfg, nil
}
