package xnet

// ItemKind is the TT field of a feedback item.
type ItemKind uint8

const (
	// TurnoutWithoutFeedback is a stationary decoder that cannot report position.
	TurnoutWithoutFeedback ItemKind = iota
	// TurnoutWithFeedback is a stationary decoder with end-position reporting.
	TurnoutWithFeedback
	// FeedbackEncoder is a feedback module (sensor inputs), not a turnout.
	FeedbackEncoder
	// ReservedKind is not assigned by the protocol.
	ReservedKind
)

func (k ItemKind) String() string {
	switch k {
	case TurnoutWithoutFeedback:
		return "TurnoutWithoutFeedback"
	case TurnoutWithFeedback:
		return "TurnoutWithFeedback"
	case FeedbackEncoder:
		return "FeedbackEncoder"
	default:
		return "Reserved"
	}
}

// TurnoutStatus is the physical position reported for one turnout.
type TurnoutStatus uint8

const (
	// StatusUnknown means the turnout has not been operated since power up.
	StatusUnknown TurnoutStatus = iota
	// StatusClosed means the first output was last activated.
	StatusClosed
	// StatusThrown means the second output was last activated.
	StatusThrown
	// StatusInvalid means both outputs are reported active.
	StatusInvalid
)

func (s TurnoutStatus) String() string {
	switch s {
	case StatusClosed:
		return "Closed"
	case StatusThrown:
		return "Thrown"
	case StatusInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// FeedbackItem is one address/data byte pair of a feedback reply.
//
// The data byte has the layout ITTNZZZZ: I is set while the motion is still
// in progress, TT is the ItemKind, N selects the nibble and ZZZZ holds two
// bits per turnout.
type FeedbackItem struct {
	group  byte
	data   byte
	number int
}

// NewFeedbackItem builds an item from its raw address and data bytes.
func NewFeedbackItem(group, data byte) FeedbackItem {
	return FeedbackItem{group: group, data: data}
}

// Group returns the address byte of the item.
func (f FeedbackItem) Group() byte {
	return f.group
}

// Data returns the raw data byte of the item.
func (f FeedbackItem) Data() byte {
	return f.data
}

// Kind returns the kind of device the item describes.
func (f FeedbackItem) Kind() ItemKind {
	return ItemKind(f.data >> 5 & 0x03)
}

// IsTurnout reports whether the item describes stationary decoders.
func (f FeedbackItem) IsTurnout() bool {
	k := f.Kind()
	return k == TurnoutWithoutFeedback || k == TurnoutWithFeedback
}

// UpperNibble reports whether the item covers the upper two turnouts of its group.
func (f FeedbackItem) UpperNibble() bool {
	return f.data&0x10 != 0
}

// MotionComplete reports whether the turnouts of this nibble finished moving.
func (f FeedbackItem) MotionComplete() bool {
	return f.data&0x80 == 0
}

// FirstTurnout returns the lower of the two turnout numbers covered by the item.
func (f FeedbackItem) FirstTurnout() int {
	n := int(f.group)*4 + 1
	if f.UpperNibble() {
		n += 2
	}

	return n
}

// Covers reports whether turnout number is one of the item's two turnouts.
func (f FeedbackItem) Covers(number int) bool {
	first := f.FirstTurnout()
	return number == first || number == first+1
}

// For returns a copy of the item bound to turnout number.
func (f FeedbackItem) For(number int) FeedbackItem {
	f.number = number
	return f
}

// Number returns the turnout number the item was bound to with For,
// or 0 if it is unbound.
func (f FeedbackItem) Number() int {
	return f.number
}

// TurnoutStatus returns the position reported for the bound turnout.
// An unbound item, or one bound to a turnout it does not cover, reports
// StatusUnknown.
func (f FeedbackItem) TurnoutStatus() TurnoutStatus {
	return f.StatusOf(f.number)
}

// StatusOf returns the position reported for turnout number.
func (f FeedbackItem) StatusOf(number int) TurnoutStatus {
	if !f.Covers(number) {
		return StatusUnknown
	}

	bits := f.data & 0x03
	if number != f.FirstTurnout() {
		bits = f.data >> 2 & 0x03
	}

	return TurnoutStatus(bits)
}
