package bus

import (
	"fmt"
	"time"

	"github.com/arloliu/go-xnet/logger"
)

// Default controller settings.
const (
	DefaultReplyTimeout = 5 * time.Second
	DefaultRetryLimit   = 3
	DefaultCloseTimeout = 3 * time.Second

	// DefaultReplyBuffer is the number of parsed replies the receive loop may
	// hold before it waits for the dispatcher.
	DefaultReplyBuffer = 64
)

// Range limits for the reply timeout and retry limit.
const (
	MinReplyTimeout = 10 * time.Millisecond
	MaxReplyTimeout = 60 * time.Second

	MaxRetryLimit = 10
)

// Config holds the settings of a Controller.
type Config struct {
	replyTimeout time.Duration
	retryLimit   int
	closeTimeout time.Duration
	replyBuffer  int

	// usbFraming strips the FF FD / FF FE prefix the LI-USB adds to every frame.
	usbFraming bool

	logger logger.Logger
}

// NewConfig creates a controller configuration.
//
// opts are functional options applied in order; see With* functions.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		replyTimeout: DefaultReplyTimeout,
		retryLimit:   DefaultRetryLimit,
		closeTimeout: DefaultCloseTimeout,
		replyBuffer:  DefaultReplyBuffer,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ReplyTimeout returns the default reply window for messages without their own.
func (cfg *Config) ReplyTimeout() time.Duration { return cfg.replyTimeout }

// RetryLimit returns how often a message is resent after a retransmittable error.
func (cfg *Config) RetryLimit() int { return cfg.retryLimit }

// CloseTimeout returns how long Close waits for the controller tasks to exit.
func (cfg *Config) CloseTimeout() time.Duration { return cfg.closeTimeout }

// USBFraming returns whether LI-USB frame prefixes are stripped.
func (cfg *Config) USBFraming() bool { return cfg.usbFraming }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithReplyTimeout sets the default reply window.
// Range: [MinReplyTimeout, MaxReplyTimeout].
func WithReplyTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinReplyTimeout || d > MaxReplyTimeout {
			return fmt.Errorf("bus: reply timeout %v out of range [%v, %v]", d, MinReplyTimeout, MaxReplyTimeout)
		}
		cfg.replyTimeout = d

		return nil
	})
}

// WithRetryLimit sets how often a message is resent after a
// retransmittable error. Range: [0, MaxRetryLimit].
func WithRetryLimit(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 0 || n > MaxRetryLimit {
			return fmt.Errorf("bus: retry limit %d out of range [0, %d]", n, MaxRetryLimit)
		}
		cfg.retryLimit = n

		return nil
	})
}

// WithCloseTimeout sets how long Close waits for the controller tasks.
func WithCloseTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("bus: close timeout %v must be positive", d)
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithReplyBuffer sets the capacity of the receive loop's reply channel.
func WithReplyBuffer(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return fmt.Errorf("bus: reply buffer %d must be at least 1", n)
		}
		cfg.replyBuffer = n

		return nil
	})
}

// WithUSBFraming enables stripping of the LI-USB frame prefix.
func WithUSBFraming(enable bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.usbFraming = enable
		return nil
	})
}

// WithLogger sets the logger. A nil logger keeps the default one.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l != nil {
			cfg.logger = l
		}

		return nil
	})
}
