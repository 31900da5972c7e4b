package turnout

import (
	"github.com/arloliu/go-xnet/xnet"
)

// strategy handles a classified reply for one feedback mode. It runs with
// the turnout lock held.
type strategy func(t *Turnout, c xnet.Classification)

var strategies = [...]strategy{
	Direct:     directFeedback,
	Monitoring: monitoringFeedback,
	Exact:      exactFeedback,
	Signal:     signalFeedback,
}

// directFeedback finalizes on an OK or on any feedback item for the turnout.
// The stop command is sent twice; some command stations drop the first one.
func directFeedback(t *Turnout, c xnet.Classification) {
	if t.commanded == t.known && t.internal != CommandSent {
		return
	}

	switch {
	case c.Kind == xnet.KindOK:
		t.logger.Debug("turnout: direct mode, OK triggers stop command")
	case c.HasItem():
		t.logger.Debug("turnout: direct mode, directed reply received")
	default:
		return
	}

	t.sendOff()
	t.sendOff()
}

// monitoringFeedback takes the position from feedback items. Motion
// completion is not checked.
func monitoringFeedback(t *Turnout, c xnet.Classification) {
	if t.internal == Idle || t.internal == StatusRequestSent {
		if c.HasItem() && t.applyFeedback(c.Item) {
			t.logger.Debug("turnout: monitoring mode, state change from feedback")
		}

		return
	}

	if t.commanded == t.known && t.internal != CommandSent {
		return
	}

	switch {
	case c.Kind == xnet.KindOK:
		t.logger.Debug("turnout: monitoring mode, OK triggers stop command")
		t.sendOff()
	case c.HasItem():
		if t.applyFeedback(c.Item) {
			t.logger.Debug("turnout: monitoring mode, feedback triggers stop command")
			t.sendOff()
		}
	}
}

// exactFeedback is monitoringFeedback that polls until a decoder with end
// position feedback reports the motion as complete.
func exactFeedback(t *Turnout, c xnet.Classification) {
	if t.commanded == t.known && (t.internal == Idle || t.internal == StatusRequestSent) {
		if c.HasItem() && t.applyFeedback(c.Item) {
			t.logger.Debug("turnout: exact mode, state change from feedback")
		}

		return
	}

	if t.commanded == t.known && t.internal != CommandSent && t.internal != StatusRequestSent {
		return
	}

	if c.Kind == xnet.KindOK {
		t.logger.Debug("turnout: exact mode, OK triggers stop command")
		t.sendOff()

		return
	}

	if !c.HasItem() {
		return
	}

	switch c.Item.Kind() {
	case xnet.TurnoutWithFeedback:
		if !c.Item.MotionComplete() {
			t.logger.Debug("turnout: exact mode, motion not complete")
			t.pollMotion()

			return
		}
	case xnet.TurnoutWithoutFeedback:
		// no end position reporting, so the motion counts as complete
	default:
		return
	}

	t.applyFeedback(c.Item)
	t.sendOff()
}

func signalFeedback(*Turnout, xnet.Classification) {}

// applyFeedback sets the known state from a reported position and returns
// true. An unknown or invalid position repeats the command if it is still
// unconfirmed, otherwise it moves on to the next queued request.
func (t *Turnout) applyFeedback(item xnet.FeedbackItem) bool {
	switch status := item.TurnoutStatus(); status {
	case xnet.StatusThrown, xnet.StatusClosed:
		t.setKnown(t.logical(status))
		return true
	default:
		if t.commanded != t.known {
			t.forwardCommand(t.commanded)
		} else {
			t.drainNext()
		}

		return false
	}
}

// pollMotion asks for the turnout's nibble again. The request bypasses the
// queue since the turnout is not idle while a command is unconfirmed.
func (t *Turnout) pollMotion() {
	msg, err := xnet.NewFeedbackRequest(t.address)
	if err != nil {
		t.logger.Error("turnout: build status request", "error", err)
		return
	}

	t.pending = &request{msg: msg, target: StatusRequestSent, listener: true}
	t.internal = StatusRequestSent

	if err := t.bus.Send(msg, t); err != nil {
		t.logger.Error("turnout: send status request", "error", err)
	}
}
