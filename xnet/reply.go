package xnet

import (
	"fmt"
)

// Reply header and data bytes recognised by the classifier.
const (
	headerInterfaceInfo    byte = 0x01
	headerCommandStationRe byte = 0x61
	headerFeedbackMask     byte = 0xF0
	headerFeedback         byte = 0x40

	infoOK              byte = 0x04
	infoPCError         byte = 0x01 // error between interface and PC
	infoStationError    byte = 0x02 // error between interface and command station
	infoTimeslotError   byte = 0x05 // command station stopped addressing the interface
	infoBufferOverflow  byte = 0x06 // interface buffer full
	stationTransferErr  byte = 0x80
	stationBusy         byte = 0x81
	stationNotSupported byte = 0x82
)

// Reply is a frame received from the interface or command station.
type Reply struct {
	data        []byte
	unsolicited bool
	dest        Listener
}

// ParseReply validates the frame in b and returns a Reply holding a copy of it.
func ParseReply(b []byte) (*Reply, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(b))
	}

	if want := FrameLength(b[0]); len(b) != want {
		return nil, fmt.Errorf("%w: got %d bytes, header 0x%02X wants %d", ErrInvalidLength, len(b), b[0], want)
	}

	if x := Checksum(b); x != 0 {
		return nil, fmt.Errorf("%w: frame % X", ErrChecksumMismatch, b)
	}

	data := make([]byte, len(b))
	copy(data, b)

	return &Reply{data: data}, nil
}

// FrameLength returns the total frame size announced by header,
// including the header and checksum bytes.
func FrameLength(header byte) int {
	return int(header&0x0F) + 2
}

// Header returns the first byte of the frame.
func (r *Reply) Header() byte {
	return r.data[0]
}

// Element returns the byte at index i of the frame.
func (r *Reply) Element(i int) byte {
	return r.data[i]
}

// Len returns the frame length in bytes.
func (r *Reply) Len() int {
	return len(r.data)
}

// Bytes returns a copy of the frame.
func (r *Reply) Bytes() []byte {
	out := make([]byte, len(r.data))
	copy(out, r.data)

	return out
}

// IsOK reports whether r is the interface's "command successfully received" reply.
func (r *Reply) IsOK() bool {
	return len(r.data) == 3 && r.data[0] == headerInterfaceInfo && r.data[1] == infoOK
}

// IsRetransmittableError reports whether r is a transport error after which
// the last message may simply be sent again.
func (r *Reply) IsRetransmittableError() bool {
	if len(r.data) != 3 {
		return false
	}

	switch r.data[0] {
	case headerInterfaceInfo:
		switch r.data[1] {
		case infoPCError, infoStationError, infoTimeslotError, infoBufferOverflow:
			return true
		}
	case headerCommandStationRe:
		return r.data[1] == stationTransferErr || r.data[1] == stationBusy
	}

	return false
}

// IsNotSupported reports whether the command station rejected the last
// instruction as unsupported.
func (r *Reply) IsNotSupported() bool {
	return len(r.data) == 3 && r.data[0] == headerCommandStationRe && r.data[1] == stationNotSupported
}

// IsFeedbackBroadcast reports whether r carries accessory feedback items,
// either as a broadcast or as the answer to an information request.
func (r *Reply) IsFeedbackBroadcast() bool {
	n := int(r.data[0] & 0x0F)
	return r.data[0]&headerFeedbackMask == headerFeedback && n >= 2 && n%2 == 0
}

// FeedbackItems returns every feedback item carried by r.
func (r *Reply) FeedbackItems() []FeedbackItem {
	if !r.IsFeedbackBroadcast() {
		return nil
	}

	n := int(r.data[0]&0x0F) / 2
	items := make([]FeedbackItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, FeedbackItem{
			group: r.data[1+2*i],
			data:  r.data[2+2*i],
		})
	}

	return items
}

// SelectTurnoutFeedback returns the first turnout feedback item of r that
// covers turnout number, bound to that number.
func (r *Reply) SelectTurnoutFeedback(number int) (FeedbackItem, bool) {
	for _, item := range r.FeedbackItems() {
		if item.IsTurnout() && item.Covers(number) {
			return item.For(number), true
		}
	}

	return FeedbackItem{}, false
}

// Unsolicited reports whether r arrived while no message was awaiting a reply.
func (r *Reply) Unsolicited() bool {
	return r.unsolicited
}

// SetUnsolicited marks r as unsolicited. It is set by the bus controller.
func (r *Reply) SetUnsolicited(v bool) {
	r.unsolicited = v
}

// Destination returns the listener of the message r answers, if any.
func (r *Reply) Destination() Listener {
	return r.dest
}

// SetDestination records the listener r is delivered to directly.
func (r *Reply) SetDestination(l Listener) {
	r.dest = l
}

// String returns the frame as space separated hex bytes.
func (r *Reply) String() string {
	return hexString(r.data)
}

// NewFeedbackReply builds an accessory information reply carrying items.
// It is used to replay cached feedback.
func NewFeedbackReply(items ...FeedbackItem) (*Reply, error) {
	if len(items) == 0 || len(items) > 7 {
		return nil, fmt.Errorf("%w: %d feedback items", ErrInvalidLength, len(items))
	}

	data := make([]byte, 0, 2*len(items))
	for _, item := range items {
		data = append(data, item.group, item.data)
	}

	msg, err := NewMessage(headerFeedback, data...)
	if err != nil {
		return nil, err
	}

	return &Reply{data: msg.data}, nil
}
