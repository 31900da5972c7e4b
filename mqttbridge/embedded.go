package mqttbridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

// EmbeddedConfig configures the in-process broker.
type EmbeddedConfig struct {
	// Listen is the TCP address for external clients. Empty means only the
	// inline client is served.
	Listen string
	// QoS is used for inline publishes.
	QoS byte
}

// Embedded is a Broker backed by an in-process mochi-mqtt server.
type Embedded struct {
	server *mqtt.Server
	qos    byte

	subID  atomic.Int32
	mu     sync.Mutex
	closed bool
}

var _ Broker = (*Embedded)(nil)

// NewEmbedded starts an in-process broker that allows all clients.
func NewEmbedded(cfg EmbeddedConfig) (*Embedded, error) {
	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
	})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("mqttbridge: add auth hook: %w", err)
	}

	if cfg.Listen != "" {
		tcp := listeners.NewTCP(listeners.Config{ID: "xnet-tcp", Address: cfg.Listen})
		if err := server.AddListener(tcp); err != nil {
			return nil, fmt.Errorf("mqttbridge: listen on %s: %w", cfg.Listen, err)
		}
	}

	if err := server.Serve(); err != nil {
		return nil, fmt.Errorf("mqttbridge: serve: %w", err)
	}

	return &Embedded{server: server, qos: cfg.QoS}, nil
}

// Publish implements Broker.
func (e *Embedded) Publish(topic string, payload []byte, retain bool) error {
	if e.isClosed() {
		return ErrBrokerClosed
	}

	return e.server.Publish(topic, payload, retain, e.qos)
}

// Subscribe implements Broker. The handler runs on the publisher's goroutine.
func (e *Embedded) Subscribe(filter string, h Handler) error {
	if e.isClosed() {
		return ErrBrokerClosed
	}

	id := int(e.subID.Add(1))

	return e.server.Subscribe(filter, id, func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		h(pk.TopicName, pk.Payload)
	})
}

// Close stops the server. It is safe to call more than once.
func (e *Embedded) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	return e.server.Close()
}

func (e *Embedded) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.closed
}
