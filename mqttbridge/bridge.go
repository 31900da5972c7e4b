package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/arloliu/go-xnet/logger"
	"github.com/arloliu/go-xnet/turnout"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "xnet"

// Turnouts is the part of turnout.Manager the bridge drives.
type Turnouts interface {
	Provide(ctx context.Context, address int) (*turnout.Turnout, error)
	Get(address int) (*turnout.Turnout, bool)
	Addresses() []int
	Events() *turnout.Hub
}

var _ Turnouts = (*turnout.Manager)(nil)

// StatePayload is the retained JSON document published per turnout.
type StatePayload struct {
	Address   int    `json:"address"`
	Commanded string `json:"commanded"`
	Known     string `json:"known"`
	Mode      string `json:"mode"`
}

type bridgeOptions struct {
	prefix string
	logger logger.Logger
}

// Option is a functional option for NewBridge.
type Option interface {
	apply(*bridgeOptions)
}

type optFunc func(*bridgeOptions)

func (f optFunc) apply(o *bridgeOptions) { f(o) }

// WithPrefix sets the topic prefix. The default is DefaultPrefix.
func WithPrefix(prefix string) Option {
	return optFunc(func(o *bridgeOptions) {
		if p := strings.Trim(prefix, "/"); p != "" {
			o.prefix = p
		}
	})
}

// WithLogger sets the bridge logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *bridgeOptions) {
		if l != nil {
			o.logger = l
		}
	})
}

// Bridge connects a turnout manager to a broker.
type Bridge struct {
	broker   Broker
	turnouts Turnouts
	prefix   string
	logger   logger.Logger

	mu      sync.Mutex
	ctx     context.Context //nolint:containedctx
	removeH func()
}

// NewBridge creates a bridge. Call Start to begin forwarding.
func NewBridge(broker Broker, turnouts Turnouts, opts ...Option) *Bridge {
	o := &bridgeOptions{prefix: DefaultPrefix, logger: logger.GetLogger()}
	for _, opt := range opts {
		opt.apply(o)
	}

	return &Bridge{
		broker:   broker,
		turnouts: turnouts,
		prefix:   o.prefix,
		logger:   o.logger.With("component", "mqttbridge"),
	}
}

// Start subscribes to command topics, publishes the state of every known
// turnout, and forwards subsequent state changes. ctx bounds turnouts created
// from incoming commands.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.removeH != nil {
		b.mu.Unlock()
		return nil
	}
	b.ctx = ctx
	b.removeH = b.turnouts.Events().AddHandler(b.onEvent)
	b.mu.Unlock()

	if err := b.broker.Subscribe(b.prefix+"/turnout/+/set", b.onSet); err != nil {
		b.Stop()
		return fmt.Errorf("mqttbridge: subscribe: %w", err)
	}

	for _, addr := range b.turnouts.Addresses() {
		if t, ok := b.turnouts.Get(addr); ok {
			b.publishState(t)
		}
	}

	return nil
}

// Stop detaches the bridge from state events. The broker is left open.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.removeH != nil {
		b.removeH()
		b.removeH = nil
	}
}

// StateTopic returns the topic the state of address is published to.
func (b *Bridge) StateTopic(address int) string {
	return fmt.Sprintf("%s/turnout/%d/state", b.prefix, address)
}

// SetTopic returns the command topic for address.
func (b *Bridge) SetTopic(address int) string {
	return fmt.Sprintf("%s/turnout/%d/set", b.prefix, address)
}

func (b *Bridge) onSet(topic string, payload []byte) {
	addr, ok := b.parseSetTopic(topic)
	if !ok {
		b.logger.Warn("mqttbridge: malformed command topic", "topic", topic)
		return
	}

	state, err := turnout.ParseState(string(payload))
	if err != nil {
		b.logger.Warn("mqttbridge: invalid command payload", "address", addr, "payload", string(payload))
		return
	}

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	t, err := b.turnouts.Provide(ctx, addr)
	if err != nil {
		b.logger.Warn("mqttbridge: provide turnout", "address", addr, "error", err)
		return
	}

	if err := t.RequestStateChange(state); err != nil {
		b.logger.Warn("mqttbridge: request state change", "address", addr, "state", state.String(), "error", err)
	}
}

// parseSetTopic extracts the address from "<prefix>/turnout/<addr>/set".
func (b *Bridge) parseSetTopic(topic string) (int, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/turnout/")
	if !ok {
		return 0, false
	}

	num, ok := strings.CutSuffix(rest, "/set")
	if !ok {
		return 0, false
	}

	addr, err := strconv.Atoi(num)
	if err != nil {
		return 0, false
	}

	return addr, true
}

func (b *Bridge) onEvent(ev turnout.Event) {
	t, ok := b.turnouts.Get(ev.Address)
	if !ok {
		return
	}

	b.publishState(t)
}

func (b *Bridge) publishState(t *turnout.Turnout) {
	payload, err := json.Marshal(StatePayload{
		Address:   t.Address(),
		Commanded: t.CommandedState().String(),
		Known:     t.KnownState().String(),
		Mode:      t.FeedbackMode().String(),
	})
	if err != nil {
		b.logger.Error("mqttbridge: encode state", "address", t.Address(), "error", err)
		return
	}

	if err := b.broker.Publish(b.StateTopic(t.Address()), payload, true); err != nil {
		b.logger.Warn("mqttbridge: publish state", "address", t.Address(), "error", err)
	}
}
