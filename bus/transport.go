package bus

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// DefaultDialTimeout bounds TCP and WebSocket connection setup.
const DefaultDialTimeout = 10 * time.Second

// OpenSerial opens an LI100/LI101/LI-USB interface on portName with 8N1 framing.
func OpenSerial(portName string, baudRate int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("bus: open serial port %s: %w", portName, err)
	}

	return port, nil
}

// SerialPorts lists the serial ports present on the system.
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("bus: list serial ports: %w", err)
	}

	return ports, nil
}

// DialTCP connects to a networked interface (LI-ETH, ser2net) at addr.
func DialTCP(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	d := net.Dialer{Timeout: DefaultDialTimeout}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", addr, err)
	}

	return conn, nil
}

// WebSocketOptions configures DialWebSocket.
type WebSocketOptions struct {
	Username      string
	Password      string
	SkipTLSVerify bool
}

// DialWebSocket connects to a WebSocket serial bridge at url. Frames travel
// as binary messages; text messages are ignored.
func DialWebSocket(ctx context.Context, url string, opts WebSocketOptions) (io.ReadWriteCloser, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultDialTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: opts.SkipTLSVerify}, //nolint:gosec // opt-in for self-signed bridges
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bus: invalid websocket url %q: %w", url, err)
	}
	if opts.Username != "" {
		req.SetBasicAuth(opts.Username, opts.Password)
	}

	conn, resp, err := dialer.DialContext(ctx, url, req.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bus: websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}

		return nil, fmt.Errorf("bus: websocket dial failed: %w", err)
	}

	return &wsConn{conn: conn}, nil
}

// wsConn adapts a message oriented WebSocket to a byte stream.
type wsConn struct {
	conn *websocket.Conn
	buf  []byte

	writeMu sync.Mutex
}

func (w *wsConn) Read(p []byte) (int, error) {
	for len(w.buf) == 0 {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}

		if msgType == websocket.BinaryMessage {
			w.buf = data
		}
	}

	n := copy(p, w.buf)
	w.buf = w.buf[n:]

	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}

	return len(p), nil
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
