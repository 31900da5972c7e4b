package turnout

import (
	"fmt"
	"sync"

	"github.com/arloliu/go-xnet/internal/queue"
	"github.com/arloliu/go-xnet/logger"
	"github.com/arloliu/go-xnet/xnet"
)

// Bus is the capability a turnout needs from the traffic controller.
//
// Both methods must only queue msg and return; the outcome is reported later
// through l. Implementations must never call l synchronously from Send.
type Bus interface {
	Send(msg *xnet.Message, l xnet.Listener) error
	SendHighPriority(msg *xnet.Message, l xnet.Listener) error
}

// Turnout is the command/feedback state machine of one accessory decoder
// output pair.
//
// All methods are safe for concurrent use. Bus callbacks and caller
// operations are serialized by a per-turnout mutex; different turnouts never
// contend.
type Turnout struct {
	mu sync.Mutex

	address int
	bus     Bus
	logger  logger.Logger
	sink    EventSink

	commanded State
	known     State
	inverted  bool
	mode      FeedbackMode

	internal InternalState
	pending  *request
	requests queue.Queue[*request]

	disposed bool
}

var _ xnet.Listener = (*Turnout)(nil)

// NewTurnout creates the turnout at address, 1-1024. It starts Idle with
// Unknown commanded and known state and sends nothing.
func NewTurnout(address int, bus Bus, opts ...Option) (*Turnout, error) {
	if address < xnet.MinTurnout || address > xnet.MaxTurnout {
		return nil, fmt.Errorf("%w: %d", xnet.ErrInvalidTurnout, address)
	}

	if bus == nil {
		return nil, fmt.Errorf("turnout %d: bus is nil", address)
	}

	cfg := defaultOptions()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return &Turnout{
		address:  address,
		bus:      bus,
		logger:   cfg.logger.With("turnout", address),
		sink:     cfg.sink,
		inverted: cfg.inverted,
		mode:     cfg.mode,
		internal: Idle,
		requests: queue.NewSliceQueue[*request](4),
	}, nil
}

// Address returns the accessory number.
func (t *Turnout) Address() int {
	return t.address
}

// CommandedState returns the last requested logical position.
func (t *Turnout) CommandedState() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.commanded
}

// KnownState returns the last confirmed logical position.
func (t *Turnout) KnownState() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.known
}

// FeedbackMode returns the active feedback mode.
func (t *Turnout) FeedbackMode() FeedbackMode {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.mode
}

// InternalState returns the protocol sequencing state.
func (t *Turnout) InternalState() InternalState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.internal
}

// Inverted reports whether Closed and Thrown are swapped on the wire.
func (t *Turnout) Inverted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.inverted
}

// QueueLength returns the number of requests waiting behind the in-flight one.
func (t *Turnout) QueueLength() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.requests.Length()
}

// SetInverted selects which physical output means Thrown. It applies to
// every command issued afterwards.
func (t *Turnout) SetInverted(inverted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inverted != inverted {
		t.logger.Debug("turnout: set inverted", "inverted", inverted)
	}
	t.inverted = inverted
}

// SetFeedbackMode changes how replies confirm commands.
func (t *Turnout) SetFeedbackMode(mode FeedbackMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.mode = mode

	return nil
}

// RequestStateChange commands the turnout to target, which must be Closed
// or Thrown.
//
// In Signal mode the actuation and stop commands are sent back to back and
// the known state follows immediately. In every other mode the command is
// queued and the known state is Inconsistent until a reply confirms it.
func (t *Turnout) RequestStateChange(target State) error {
	if target != Closed && target != Thrown {
		t.logger.Warn("turnout: state not forwarded to layout", "state", target.String())
		return fmt.Errorf("%w: %s", ErrInvalidState, target)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return ErrDisposed
	}

	t.logger.Debug("turnout: set commanded state", "state", target.String(), "mode", t.mode.String())
	t.setCommanded(target)

	msg, err := xnet.NewTurnoutCommand(t.address, t.physicalThrown(target), true)
	if err != nil {
		return err
	}

	// The stop goes out at high priority, so the actuation must too or the
	// dispatcher would write the stop first.
	if t.mode == Signal {
		msg.SetTimeout(0)
		if err := t.bus.SendHighPriority(msg, nil); err != nil {
			return fmt.Errorf("turnout %d: send command: %w", t.address, err)
		}

		t.sendOff()
		t.setKnown(t.commanded)

		return nil
	}

	t.setKnown(Inconsistent)
	t.enqueue(&request{msg: msg, target: CommandSent, listener: true})

	return nil
}

// RequestUpdateFromLayout queues an accessory information request for the
// turnout's nibble. The answer reaches the turnout through the manager's
// broadcast routing; commanded state is not touched.
func (t *Turnout) RequestUpdateFromLayout() error {
	msg, err := xnet.NewFeedbackRequest(t.address)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return ErrDisposed
	}

	t.enqueue(&request{msg: msg, target: Idle})

	return nil
}

// InitMessage applies a reply, typically cached feedback, without changing
// the internal state.
func (t *Turnout) InitMessage(r *xnet.Reply) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return
	}

	saved := t.internal
	t.handleReply(r)
	t.internal = saved
}

// Dispose detaches the turnout. Pending requests are dropped and later bus
// callbacks are ignored.
func (t *Turnout) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.disposed = true
	t.requests.Reset()
	t.pending = nil
	t.logger.Debug("turnout: disposed")
}

// --- xnet.Listener ---

// OnReply handles a reply addressed to the turnout or forwarded to it.
func (t *Turnout) OnReply(r *xnet.Reply) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return
	}

	t.handleReply(r)
}

// OnOutgoing adopts the target state of the in-flight request once the bus
// reports that exact message as written.
func (t *Turnout) OnOutgoing(msg *xnet.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed || t.pending == nil || t.pending.msg != msg {
		return
	}

	t.internal = t.pending.target
	t.pending = nil
}

// OnTimeout resends the stop command when its confirmation did not arrive.
func (t *Turnout) OnTimeout(msg *xnet.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return
	}

	t.logger.Debug("turnout: timeout", "msg", msg.String(), "internalState", t.internal.String())

	if t.internal == OffSent {
		t.sendOff()
	}
}

// --- internals, called with t.mu held ---

func (t *Turnout) handleReply(r *xnet.Reply) {
	c := xnet.Classify(r, t.address)
	t.logger.Debug("turnout: reply", "reply", r.String(), "kind", c.Kind.String(), "internalState", t.internal.String())

	if t.internal == OffSent {
		switch {
		case c.Kind == xnet.KindOK && !r.Unsolicited():
			t.setKnown(t.commanded)
			t.drainNext()

			return
		case c.Kind == xnet.KindRetransmittableError:
			return
		default:
			t.sendOff()
		}
	}

	strategies[t.mode](t, c)
}

// sendOff transmits the stop command for the commanded output at high
// priority and waits in OffSent for its confirmation.
func (t *Turnout) sendOff() {
	msg, err := xnet.NewTurnoutCommand(t.address, t.physicalThrown(t.commanded), false)
	if err != nil {
		t.logger.Error("turnout: build stop command", "error", err)
		return
	}

	t.logger.Debug("turnout: send stop command", "commanded", t.commanded.String())

	t.pending = &request{msg: msg, target: OffSent}
	t.internal = OffSent

	if err := t.bus.SendHighPriority(msg, t); err != nil {
		t.logger.Error("turnout: send stop command", "error", err)
	}
}

// forwardCommand queues the actuation command for s again.
func (t *Turnout) forwardCommand(s State) {
	if s != Closed && s != Thrown {
		t.logger.Warn("turnout: state not forwarded to layout", "state", s.String())
		return
	}

	msg, err := xnet.NewTurnoutCommand(t.address, t.physicalThrown(s), true)
	if err != nil {
		t.logger.Error("turnout: build command", "error", err)
		return
	}

	t.enqueue(&request{msg: msg, target: CommandSent, listener: true})
}

// physicalThrown reports whether the logical state s maps to the thrown output.
func (t *Turnout) physicalThrown(s State) bool {
	return (s == Thrown) != t.inverted
}

// logical maps a reported physical position to a logical state.
func (t *Turnout) logical(status xnet.TurnoutStatus) State {
	thrown := status == xnet.StatusThrown
	if thrown != t.inverted {
		return Thrown
	}

	return Closed
}

func (t *Turnout) setCommanded(s State) {
	old := t.commanded
	if old == s {
		return
	}

	t.commanded = s
	t.publish(EventCommanded, old, s)
}

// setKnown records a new known state. Outside Direct mode a concrete
// position that differs from a commanded state equal to the previous known
// state came from the layout, so the commanded state follows it.
func (t *Turnout) setKnown(s State) {
	old := t.known
	if old == s {
		return
	}

	t.known = s
	t.publish(EventKnown, old, s)

	if t.mode != Direct && (s == Closed || s == Thrown) && t.commanded == old {
		t.setCommanded(s)
	}
}

func (t *Turnout) publish(kind EventKind, old, s State) {
	if t.sink == nil {
		return
	}

	t.sink.Publish(Event{Address: t.address, Kind: kind, Old: old, New: s})
}
