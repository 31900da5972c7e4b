package bus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-xnet/internal/pool"
	"github.com/arloliu/go-xnet/internal/queue"
	"github.com/arloliu/go-xnet/internal/task"
	"github.com/arloliu/go-xnet/logger"
	"github.com/arloliu/go-xnet/xnet"
	"github.com/puzpuzpuz/xsync/v3"
)

// LI-USB frame prefixes.
const (
	usbPrefix       byte = 0xFF
	usbPrefixReply  byte = 0xFD
	usbPrefixNotify byte = 0xFE
)

// Sentinel errors for the traffic controller.
var (
	ErrControllerClosed = errors.New("bus: controller closed")
	ErrNilMessage       = errors.New("bus: message is nil")
	ErrCloseTimeout     = errors.New("bus: close timeout")
)

const flushPollInterval = 5 * time.Millisecond

type outgoing struct {
	msg      *xnet.Message
	listener xnet.Listener
}

// Controller owns one half-duplex XpressNet line.
//
// Messages handed to Send or SendHighPriority are written one at a time.
// After each write the controller waits for the reply window of that message
// before it writes the next one. Every listener callback is made from a single
// dispatcher goroutine, so callbacks arrive in the order events happen on the
// line.
//
// A reply that arrives inside a reply window is delivered to the message's
// listener first and then to every broadcast listener except that one. A
// reply that arrives while the line is idle is marked unsolicited and goes to
// the broadcast listeners only.
type Controller struct {
	cfg     *Config
	logger  logger.Logger
	conn    io.ReadWriteCloser
	reader  *bufio.Reader
	taskMgr *task.Manager

	normal queue.Queue[*outgoing]
	high   queue.Queue[*outgoing]
	wake   chan struct{}

	// unfinished counts messages queued or being transmitted.
	unfinished atomic.Int64

	replyCh chan *xnet.Reply

	listeners  *xsync.MapOf[uint64, xnet.Listener]
	listenerID atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	metrics Metrics
}

// NewController creates a controller over conn and starts its receive and
// dispatcher tasks. The tasks stop when ctx is cancelled or Close is called.
func NewController(ctx context.Context, conn io.ReadWriteCloser, cfg *Config) (*Controller, error) {
	if conn == nil {
		return nil, errors.New("bus: connection is nil")
	}

	if cfg == nil {
		var err error
		if cfg, err = NewConfig(); err != nil {
			return nil, err
		}
	}

	c := &Controller{
		cfg:       cfg,
		logger:    cfg.logger,
		conn:      conn,
		reader:    bufio.NewReader(conn),
		taskMgr:   task.NewManager(ctx, cfg.logger),
		normal:    queue.NewLockFreeQueue[*outgoing](),
		high:      queue.NewLockFreeQueue[*outgoing](),
		wake:      make(chan struct{}, 1),
		replyCh:   make(chan *xnet.Reply, cfg.replyBuffer),
		listeners: xsync.NewMapOf[uint64, xnet.Listener](),
	}

	if err := c.taskMgr.StartLoop("receiver", c.receiveLoop); err != nil {
		return nil, err
	}
	if err := c.taskMgr.StartLoop("dispatcher", c.dispatchLoop); err != nil {
		c.taskMgr.Stop()
		return nil, err
	}

	return c, nil
}

// Send queues msg at normal priority. l receives the outcome of msg and may be nil.
// It never blocks and never calls back synchronously.
func (c *Controller) Send(msg *xnet.Message, l xnet.Listener) error {
	return c.enqueue(c.normal, msg, l)
}

// SendHighPriority queues msg ahead of every normal priority message that
// has not been written yet.
func (c *Controller) SendHighPriority(msg *xnet.Message, l xnet.Listener) error {
	return c.enqueue(c.high, msg, l)
}

func (c *Controller) enqueue(q queue.Queue[*outgoing], msg *xnet.Message, l xnet.Listener) error {
	if msg == nil {
		return ErrNilMessage
	}

	if c.closed.Load() || c.taskMgr.Context().Err() != nil {
		return ErrControllerClosed
	}

	c.unfinished.Add(1)
	c.metrics.incQueuedGauge()
	q.Enqueue(&outgoing{msg: msg, listener: l})

	select {
	case c.wake <- struct{}{}:
	default:
	}

	return nil
}

// AddListener registers l for unsolicited replies, for solicited replies
// addressed to other listeners, and for OnOutgoing notifications of every
// written message. The returned function removes l again.
func (c *Controller) AddListener(l xnet.Listener) (remove func()) {
	id := c.listenerID.Add(1)
	c.listeners.Store(id, l)

	return func() { c.listeners.Delete(id) }
}

// RemoveListener unregisters every registration of l.
func (c *Controller) RemoveListener(l xnet.Listener) {
	c.listeners.Range(func(id uint64, v xnet.Listener) bool {
		if v == l {
			c.listeners.Delete(id)
		}

		return true
	})
}

// Metrics returns the controller counters.
func (c *Controller) Metrics() *Metrics {
	return &c.metrics
}

// Config returns the controller configuration.
func (c *Controller) Config() *Config {
	return c.cfg
}

// Flush waits until every message queued before the call has been written
// and its reply window has ended. It returns ctx.Err() when ctx is done
// first, and ErrControllerClosed when the controller is or becomes closed.
func (c *Controller) Flush(ctx context.Context) error {
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()

	for {
		if c.closed.Load() {
			return ErrControllerClosed
		}
		if c.unfinished.Load() <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.taskMgr.Context().Done():
			return ErrControllerClosed
		case <-ticker.C:
		}
	}
}

// Close stops the controller tasks and closes the underlying connection.
// Messages that were not written yet are discarded without callbacks.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.taskMgr.Stop()

		if err := c.conn.Close(); err != nil {
			c.closeErr = fmt.Errorf("bus: close connection: %w", err)
		}

		done := make(chan struct{})
		go func() {
			c.taskMgr.Wait()
			close(done)
		}()

		timer := pool.GetTimer(c.cfg.closeTimeout)
		defer pool.PutTimer(timer)

		select {
		case <-done:
		case <-timer.C:
			c.logger.Error("bus: close timeout", "timeout", c.cfg.closeTimeout, "taskCount", c.taskMgr.TaskCount())
			c.closeErr = errors.Join(c.closeErr, ErrCloseTimeout)
		}

		c.high.Reset()
		c.normal.Reset()
		c.metrics.QueuedGauge.Store(0)
		c.unfinished.Store(0)
	})

	return c.closeErr
}

// --- receive side ---

func (c *Controller) receiveLoop(ctx context.Context) bool {
	frame, err := c.readFrame()
	if err != nil {
		if c.closed.Load() || ctx.Err() != nil {
			return false
		}

		if errors.Is(err, xnet.ErrChecksumMismatch) || errors.Is(err, xnet.ErrInvalidLength) {
			return true
		}

		c.logger.Error("bus: read failed, receiver stopped", "error", err)

		return false
	}

	reply, err := xnet.ParseReply(frame)
	if err != nil {
		if errors.Is(err, xnet.ErrChecksumMismatch) {
			c.metrics.incChecksumErrCount()
		} else {
			c.metrics.incDroppedFrameCount()
		}
		c.logger.Warn("bus: drop invalid frame", "error", err)

		return true
	}

	c.metrics.incReplyRecvCount()
	c.logger.Debug("bus: reply received", "reply", reply.String())

	select {
	case c.replyCh <- reply:
		return true
	case <-ctx.Done():
		return false
	}
}

// readFrame reads one frame: the header byte, then the data bytes its low
// nibble announces, then the checksum.
func (c *Controller) readFrame() ([]byte, error) {
	header, err := c.reader.ReadByte()
	if err != nil {
		return nil, err
	}

	if c.cfg.usbFraming && header == usbPrefix {
		next, err := c.reader.ReadByte()
		if err != nil {
			return nil, err
		}

		if next != usbPrefixReply && next != usbPrefixNotify {
			c.metrics.incDroppedFrameCount()
			c.logger.Warn("bus: unexpected byte after USB prefix", "byte", next)

			return nil, fmt.Errorf("%w: USB prefix FF %02X", xnet.ErrInvalidLength, next)
		}

		if header, err = c.reader.ReadByte(); err != nil {
			return nil, err
		}
	}

	frame := make([]byte, xnet.FrameLength(header))
	frame[0] = header
	if _, err := io.ReadFull(c.reader, frame[1:]); err != nil {
		return nil, err
	}

	return frame, nil
}

// --- dispatch side ---

func (c *Controller) dispatchLoop(ctx context.Context) bool {
	if out, ok := c.next(); ok {
		c.transmit(ctx, out)
		c.unfinished.Add(-1)

		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		return false
	case <-c.wake:
		return true
	case reply := <-c.replyCh:
		c.deliverUnsolicited(reply)
		return true
	}
}

func (c *Controller) next() (*outgoing, bool) {
	out, ok := c.high.Dequeue()
	if !ok {
		out, ok = c.normal.Dequeue()
	}

	if ok {
		c.metrics.decQueuedGauge()
	}

	return out, ok
}

func (c *Controller) transmit(ctx context.Context, out *outgoing) {
	window, ok := out.msg.Timeout()
	if !ok {
		window = c.cfg.replyTimeout
	}

	for attempt := 0; ; attempt++ {
		if err := c.write(out.msg); err != nil {
			c.logger.Error("bus: write failed", "msg", out.msg.String(), "error", err)
			c.notifyTimeout(out)

			return
		}

		if attempt == 0 {
			c.notifyOutgoing(out)
		}

		if window == 0 {
			return
		}

		reply, ok := c.awaitReply(ctx, window)
		if !ok {
			if ctx.Err() != nil {
				return
			}

			c.metrics.incTimeoutCount()
			c.logger.Debug("bus: reply timeout", "msg", out.msg.String(), "timeout", window)
			c.notifyTimeout(out)

			return
		}

		if reply.IsRetransmittableError() {
			if attempt < c.cfg.retryLimit {
				c.metrics.incRetransmitCount()
				c.logger.Debug("bus: retransmit", "msg", out.msg.String(), "reply", reply.String(), "attempt", attempt+1)

				continue
			}

			c.logger.Warn("bus: retry limit reached", "msg", out.msg.String(), "reply", reply.String())
			c.notifyTimeout(out)

			return
		}

		c.deliverSolicited(reply, out.listener)

		return
	}
}

func (c *Controller) write(msg *xnet.Message) error {
	if _, err := c.conn.Write(msg.Bytes()); err != nil {
		return err
	}

	c.metrics.incMsgSendCount()
	c.logger.Debug("bus: message sent", "msg", msg.String())

	return nil
}

func (c *Controller) awaitReply(ctx context.Context, window time.Duration) (*xnet.Reply, bool) {
	timer := pool.GetTimer(window)
	defer pool.PutTimer(timer)

	select {
	case reply := <-c.replyCh:
		return reply, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (c *Controller) notifyOutgoing(out *outgoing) {
	if out.listener != nil {
		out.listener.OnOutgoing(out.msg)
	}

	c.listeners.Range(func(_ uint64, l xnet.Listener) bool {
		if l != out.listener {
			l.OnOutgoing(out.msg)
		}

		return true
	})
}

func (c *Controller) notifyTimeout(out *outgoing) {
	if out.listener != nil {
		out.listener.OnTimeout(out.msg)
	}
}

func (c *Controller) deliverSolicited(reply *xnet.Reply, dest xnet.Listener) {
	reply.SetDestination(dest)

	if dest != nil {
		dest.OnReply(reply)
	}

	c.listeners.Range(func(_ uint64, l xnet.Listener) bool {
		if l != dest {
			l.OnReply(reply)
		}

		return true
	})
}

func (c *Controller) deliverUnsolicited(reply *xnet.Reply) {
	reply.SetUnsolicited(true)
	c.metrics.incUnsolicitedCount()

	c.listeners.Range(func(_ uint64, l xnet.Listener) bool {
		l.OnReply(reply)
		return true
	})
}
