package turnout

import (
	"github.com/arloliu/go-xnet/xnet"
)

// request is an outgoing message together with the internal state the
// turnout adopts once the bus reports it as written.
type request struct {
	msg    *xnet.Message
	target InternalState

	// listener requests are sent with the turnout as bus listener; their
	// completion is decided by the turnout's reply handling.
	listener bool
}

// enqueue appends req and dispatches it straight away when the turnout is idle.
func (t *Turnout) enqueue(req *request) {
	t.logger.Debug("turnout: queue request", "msg", req.msg.String(), "internalState", t.internal.String())

	t.requests.Enqueue(req)

	if t.internal == Idle {
		t.drainNext()
	}
}

// drainNext dispatches the head of the queue, or goes Idle when it is empty.
//
// A request without listener whose target is Idle is complete once handed to
// the bus, so draining continues with the next one.
func (t *Turnout) drainNext() {
	for {
		req, ok := t.requests.Dequeue()
		if !ok {
			t.pending = nil
			t.internal = Idle

			return
		}

		var l xnet.Listener
		if req.listener {
			l = t
			t.internal = QueuedMessage
			t.pending = req
		} else {
			t.internal = req.target
			t.pending = nil
		}

		if err := t.bus.Send(req.msg, l); err != nil {
			t.logger.Error("turnout: send request", "msg", req.msg.String(), "error", err)
			continue
		}

		if req.listener || req.target != Idle {
			return
		}
	}
}
