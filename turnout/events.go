package turnout

import (
	"context"
	"sync/atomic"

	"github.com/arloliu/go-xnet/internal/queue"
	"github.com/arloliu/go-xnet/internal/task"
	"github.com/arloliu/go-xnet/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// EventKind tells which state an Event describes.
type EventKind uint8

const (
	// EventCommanded is a change of the commanded state.
	EventCommanded EventKind = iota
	// EventKnown is a change of the known state.
	EventKnown
)

func (k EventKind) String() string {
	if k == EventKnown {
		return "known"
	}

	return "commanded"
}

// Event is a state change of one turnout.
type Event struct {
	Address int
	Kind    EventKind
	Old     State
	New     State
}

// EventSink receives state changes. Publish is called with the turnout lock
// held and must not block or call back into the turnout.
type EventSink interface {
	Publish(ev Event)
}

// EventHandler is called for every event published to a Hub.
type EventHandler func(ev Event)

// Hub is an EventSink that queues events and hands them to its handlers from
// a dispatcher goroutine, outside any turnout lock.
type Hub struct {
	logger  logger.Logger
	taskMgr *task.Manager

	events queue.Queue[Event]
	wake   chan struct{}

	handlers  *xsync.MapOf[uint64, EventHandler]
	handlerID atomic.Uint64
	closed    atomic.Bool
}

var _ EventSink = (*Hub)(nil)

// NewHub creates a hub and starts its dispatcher. It stops when ctx is
// cancelled or Close is called.
func NewHub(ctx context.Context, l logger.Logger) (*Hub, error) {
	if l == nil {
		l = logger.GetLogger()
	}

	h := &Hub{
		logger:   l,
		taskMgr:  task.NewManager(ctx, l),
		events:   queue.NewLockFreeQueue[Event](),
		wake:     make(chan struct{}, 1),
		handlers: xsync.NewMapOf[uint64, EventHandler](),
	}

	if err := h.taskMgr.StartLoop("event-hub", h.dispatch); err != nil {
		return nil, err
	}

	return h, nil
}

// Publish queues ev. It never blocks.
func (h *Hub) Publish(ev Event) {
	if h.closed.Load() {
		return
	}

	h.events.Enqueue(ev)

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// AddHandler registers fn and returns a function that removes it.
func (h *Hub) AddHandler(fn EventHandler) (remove func()) {
	id := h.handlerID.Add(1)
	h.handlers.Store(id, fn)

	return func() { h.handlers.Delete(id) }
}

// Close stops the dispatcher. Events still queued are dropped.
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}

	h.taskMgr.Stop()
	h.taskMgr.Wait()
	h.events.Reset()
}

func (h *Hub) dispatch(ctx context.Context) bool {
	for {
		ev, ok := h.events.Dequeue()
		if !ok {
			break
		}

		h.handlers.Range(func(_ uint64, fn EventHandler) bool {
			h.call(fn, ev)
			return true
		})
	}

	select {
	case <-ctx.Done():
		return false
	case <-h.wake:
		return true
	}
}

func (h *Hub) call(fn EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("turnout: event handler panic", "address", ev.Address, "panic", r)
		}
	}()

	fn(ev)
}
