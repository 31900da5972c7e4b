package turnout

import (
	"fmt"

	"github.com/arloliu/go-xnet/logger"
)

type options struct {
	mode     FeedbackMode
	inverted bool
	logger   logger.Logger
	sink     EventSink
}

func defaultOptions() *options {
	return &options{
		mode:   Monitoring,
		logger: logger.GetLogger(),
	}
}

// Option is a functional option for NewTurnout.
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(o *options) error { return f(o) }

// WithMode sets the feedback mode. The default is Monitoring.
func WithMode(mode FeedbackMode) Option {
	return optFunc(func(o *options) error {
		if !mode.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidMode, mode)
		}
		o.mode = mode

		return nil
	})
}

// WithInverted swaps the physical outputs for Closed and Thrown.
func WithInverted(inverted bool) Option {
	return optFunc(func(o *options) error {
		o.inverted = inverted
		return nil
	})
}

// WithLogger sets the logger. A nil logger keeps the default one.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *options) error {
		if l != nil {
			o.logger = l
		}

		return nil
	})
}

// WithEventSink sets where state changes are published.
func WithEventSink(sink EventSink) Option {
	return optFunc(func(o *options) error {
		o.sink = sink
		return nil
	})
}
