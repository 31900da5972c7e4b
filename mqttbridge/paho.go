package mqttbridge

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 60 * time.Second
)

// PahoConfig configures a connection to an external broker.
type PahoConfig struct {
	// Broker is a URL such as tcp://localhost:1883 or ssl://host:8883.
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Paho is a Broker backed by an eclipse paho client.
type Paho struct {
	client paho.Client
	qos    byte
}

var _ Broker = (*Paho)(nil)

// DialPaho connects to an external broker. The client reconnects
// automatically and restores its subscriptions.
func DialPaho(cfg PahoConfig) (*Paho, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(false)
	opts.SetResumeSubs(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: %s after %v", ErrConnectTimeout, cfg.Broker, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttbridge: connect %s: %w", cfg.Broker, err)
	}

	return &Paho{client: client, qos: cfg.QoS}, nil
}

// Publish implements Broker.
func (p *Paho) Publish(topic string, payload []byte, retain bool) error {
	token := p.client.Publish(topic, p.qos, retain, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("mqttbridge: publish %s: timeout", topic)
	}

	return token.Error()
}

// Subscribe implements Broker. Handlers run on paho's goroutines.
func (p *Paho) Subscribe(filter string, h Handler) error {
	token := p.client.Subscribe(filter, p.qos, func(_ paho.Client, m paho.Message) {
		h(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("mqttbridge: subscribe %s: timeout", filter)
	}

	return token.Error()
}

// Close disconnects from the broker.
func (p *Paho) Close() error {
	p.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}
