package xnet

import (
	"fmt"
	"strings"
	"time"
)

// Accessory numbering limits.
const (
	MinTurnout = 1
	MaxTurnout = 1024
)

// Header bytes of the requests built by this package.
const (
	headerAccessoryOperation   byte = 0x52
	headerAccessoryInformation byte = 0x42
)

// Message is an outgoing XpressNet request.
//
// The payload is immutable once built. A Message is compared by identity: a
// bus controller reports the exact *Message it transmitted, which is how a
// turnout recognises its own request.
type Message struct {
	data       []byte
	timeout    time.Duration
	hasTimeout bool
}

// NewMessage builds a message from header and data bytes and appends the
// XOR checksum. The header's low nibble is overwritten with len(data).
func NewMessage(header byte, data ...byte) (*Message, error) {
	if len(data) > 0x0F {
		return nil, fmt.Errorf("%w: %d data bytes", ErrInvalidLength, len(data))
	}

	frame := make([]byte, 0, len(data)+2)
	frame = append(frame, (header&0xF0)|byte(len(data)))
	frame = append(frame, data...)
	frame = append(frame, Checksum(frame))

	return &Message{data: frame}, nil
}

// NewTurnoutCommand builds an accessory decoder operation request.
//
// thrown selects the second output of the pair (P=1). activate switches the
// output on; the stop command for the same output is sent with activate false.
func NewTurnoutCommand(number int, thrown bool, activate bool) (*Message, error) {
	if err := validateTurnout(number); err != nil {
		return nil, err
	}

	idx := number - 1
	b2 := byte(0x80) | byte(idx&0x03)<<1
	if activate {
		b2 |= 0x08
	}
	if thrown {
		b2 |= 0x01
	}

	return NewMessage(headerAccessoryOperation, byte(idx>>2), b2)
}

// NewFeedbackRequest builds an accessory decoder information request for the
// nibble containing turnout number.
func NewFeedbackRequest(number int) (*Message, error) {
	if err := validateTurnout(number); err != nil {
		return nil, err
	}

	idx := number - 1
	nibble := byte(idx&0x03) >> 1

	return NewMessage(headerAccessoryInformation, byte(idx>>2), 0x80|nibble)
}

func validateTurnout(number int) error {
	if number < MinTurnout || number > MaxTurnout {
		return fmt.Errorf("%w: %d", ErrInvalidTurnout, number)
	}

	return nil
}

// Bytes returns a copy of the wire frame including the checksum.
func (m *Message) Bytes() []byte {
	out := make([]byte, len(m.data))
	copy(out, m.data)

	return out
}

// Len returns the frame length in bytes.
func (m *Message) Len() int {
	return len(m.data)
}

// Element returns the byte at index i of the frame.
func (m *Message) Element(i int) byte {
	return m.data[i]
}

// SetTimeout overrides the controller's reply window for this message.
// A zero timeout means no reply is awaited at all.
func (m *Message) SetTimeout(d time.Duration) {
	m.timeout = d
	m.hasTimeout = true
}

// Timeout returns the message specific reply window, and false when the
// controller default applies.
func (m *Message) Timeout() (time.Duration, bool) {
	return m.timeout, m.hasTimeout
}

// IsTurnoutCommand reports whether m is an accessory operation request.
func (m *Message) IsTurnoutCommand() bool {
	return len(m.data) == 4 && m.data[0] == headerAccessoryOperation
}

// TurnoutNumber decodes the turnout addressed by an accessory operation
// request, or 0 for other messages.
func (m *Message) TurnoutNumber() int {
	if !m.IsTurnoutCommand() {
		return 0
	}

	return int(m.data[1])<<2 + int(m.data[2]>>1&0x03) + 1
}

// String returns the frame as space separated hex bytes.
func (m *Message) String() string {
	return hexString(m.data)
}

// Checksum returns the XOR of all bytes in b.
func Checksum(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}

	return x
}

func hexString(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}

	return sb.String()
}
