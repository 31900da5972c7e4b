package turnout

import (
	"fmt"
	"strings"
)

// State is a logical turnout position.
type State uint8

const (
	// Unknown is the state before anything was commanded or reported.
	Unknown State = iota
	// Closed is the straight route.
	Closed
	// Thrown is the diverging route.
	Thrown
	// Inconsistent means a command was issued and not yet confirmed.
	Inconsistent
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Thrown:
		return "THROWN"
	case Inconsistent:
		return "INCONSISTENT"
	default:
		return "UNKNOWN"
	}
}

// ParseState parses a case insensitive position name. Only CLOSED and
// THROWN can be commanded, so those are the only accepted names.
func ParseState(s string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CLOSED":
		return Closed, nil
	case "THROWN":
		return Thrown, nil
	default:
		return Unknown, fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

// FeedbackMode selects how replies confirm a command.
type FeedbackMode uint8

const (
	// Direct finalizes on the first OK or feedback item and never infers the
	// position from feedback content.
	Direct FeedbackMode = iota
	// Monitoring takes the position from feedback items.
	Monitoring
	// Exact is Monitoring that also waits for motion to complete on decoders
	// with end-position feedback.
	Exact
	// Signal sends the command and the stop command without awaiting replies.
	Signal
)

func (m FeedbackMode) String() string {
	switch m {
	case Direct:
		return "DIRECT"
	case Monitoring:
		return "MONITORING"
	case Exact:
		return "EXACT"
	case Signal:
		return "SIGNAL"
	default:
		return fmt.Sprintf("FeedbackMode(%d)", uint8(m))
	}
}

// Valid reports whether m is one of the defined modes.
func (m FeedbackMode) Valid() bool {
	return m <= Signal
}

// ParseFeedbackMode parses a case insensitive mode name.
func ParseFeedbackMode(s string) (FeedbackMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DIRECT":
		return Direct, nil
	case "MONITORING":
		return Monitoring, nil
	case "EXACT":
		return Exact, nil
	case "SIGNAL":
		return Signal, nil
	default:
		return Monitoring, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// InternalState drives protocol sequencing. It is independent of the known
// position.
type InternalState uint8

const (
	// Idle means no request is outstanding.
	Idle InternalState = iota
	// CommandSent means the actuation command was written and awaits confirmation.
	CommandSent
	// OffSent means the stop command was written and awaits confirmation.
	OffSent
	// StatusRequestSent means a status poll is outstanding.
	StatusRequestSent
	// QueuedMessage means a queued request was handed to the bus and not yet written.
	QueuedMessage
)

func (s InternalState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case CommandSent:
		return "CommandSent"
	case OffSent:
		return "OffSent"
	case StatusRequestSent:
		return "StatusRequestSent"
	case QueuedMessage:
		return "QueuedMessage"
	default:
		return fmt.Sprintf("InternalState(%d)", uint8(s))
	}
}
