package mqttbridge

import "errors"

var (
	// ErrBrokerClosed is returned by operations on a closed broker.
	ErrBrokerClosed = errors.New("mqttbridge: broker closed")
	// ErrConnectTimeout is returned when the external broker does not accept
	// the connection in time.
	ErrConnectTimeout = errors.New("mqttbridge: connect timeout")
)

// Handler receives a message published on a subscribed topic.
type Handler func(topic string, payload []byte)

// Broker is the minimal publish/subscribe surface the bridge needs.
type Broker interface {
	// Publish sends payload to topic.
	Publish(topic string, payload []byte, retain bool) error
	// Subscribe registers h for every topic matching filter.
	Subscribe(filter string, h Handler) error
	// Close releases the broker connection or stops the embedded server.
	Close() error
}
