package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/arloliu/go-xnet/bus"
	"github.com/arloliu/go-xnet/config"
	"golang.org/x/term"
)

// openConnection opens the interface connection selected by cfg and returns
// it with a human readable description.
func openConnection(ctx context.Context, cfg config.BusConfig) (io.ReadWriteCloser, string, error) {
	switch cfg.Transport {
	case config.TransportWebSocket:
		password := cfg.Password
		if cfg.Username != "" && password == "" {
			var err error
			if password, err = readPassword(); err != nil {
				return nil, "", err
			}
		}

		conn, err := bus.DialWebSocket(ctx, cfg.URL, bus.WebSocketOptions{
			Username:      cfg.Username,
			Password:      password,
			SkipTLSVerify: cfg.SkipTLSVerify,
		})
		if err != nil {
			return nil, "", err
		}

		return conn, "WebSocket: " + cfg.URL, nil

	case config.TransportTCP:
		conn, err := bus.DialTCP(ctx, cfg.Address)
		if err != nil {
			return nil, "", err
		}

		return conn, "TCP: " + cfg.Address, nil

	default:
		conn, err := bus.OpenSerial(cfg.Port, cfg.Baud)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", cfg.Port, cfg.Baud), nil
	}
}

// readPassword prompts for a password without echo, falling back to a plain
// line read when stdin is not a terminal.
func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}

		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return strings.TrimSpace(line), nil
}
