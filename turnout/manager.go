package turnout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/arloliu/go-xnet/logger"
	"github.com/arloliu/go-xnet/store"
	"github.com/arloliu/go-xnet/xnet"
	"github.com/puzpuzpuz/xsync/v3"
)

// Manager owns the turnouts on one bus.
//
// It is registered with the bus controller as a broadcast listener. Feedback
// replies are cached per nibble and forwarded to every turnout they cover,
// except the one the reply was addressed to, which already received it.
type Manager struct {
	ctx    context.Context
	bus    Bus
	logger logger.Logger
	store  store.Store

	autoCreate  bool
	defaultMode FeedbackMode

	hub      *Hub
	turnouts *xsync.MapOf[int, *Turnout]
	cache    *feedbackCache
	closed   atomic.Bool
}

var _ xnet.Listener = (*Manager)(nil)

type managerOptions struct {
	logger      logger.Logger
	store       store.Store
	autoCreate  bool
	defaultMode FeedbackMode
	handlers    []EventHandler
}

// ManagerOption is a functional option for NewManager.
type ManagerOption interface {
	apply(*managerOptions) error
}

type managerOptFunc func(*managerOptions) error

func (f managerOptFunc) apply(o *managerOptions) error { return f(o) }

// WithManagerLogger sets the logger of the manager and its turnouts.
func WithManagerLogger(l logger.Logger) ManagerOption {
	return managerOptFunc(func(o *managerOptions) error {
		if l != nil {
			o.logger = l
		}

		return nil
	})
}

// WithStore persists each turnout's mode and inverted flag in s.
func WithStore(s store.Store) ManagerOption {
	return managerOptFunc(func(o *managerOptions) error {
		o.store = s
		return nil
	})
}

// WithAutoCreate creates turnouts for feedback about unknown addresses.
func WithAutoCreate(enable bool) ManagerOption {
	return managerOptFunc(func(o *managerOptions) error {
		o.autoCreate = enable
		return nil
	})
}

// WithDefaultMode sets the feedback mode of turnouts without a stored record.
func WithDefaultMode(mode FeedbackMode) ManagerOption {
	return managerOptFunc(func(o *managerOptions) error {
		if !mode.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidMode, mode)
		}
		o.defaultMode = mode

		return nil
	})
}

// WithEventHandler registers fn for the state changes of every turnout.
func WithEventHandler(fn EventHandler) ManagerOption {
	return managerOptFunc(func(o *managerOptions) error {
		if fn != nil {
			o.handlers = append(o.handlers, fn)
		}

		return nil
	})
}

// NewManager creates a manager sending through bus. Register it with the
// controller's AddListener to receive feedback broadcasts.
func NewManager(ctx context.Context, bus Bus, opts ...ManagerOption) (*Manager, error) {
	if bus == nil {
		return nil, errors.New("turnout: bus is nil")
	}

	o := &managerOptions{logger: logger.GetLogger(), defaultMode: Monitoring}
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	hub, err := NewHub(ctx, o.logger)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		ctx:         ctx,
		bus:         bus,
		logger:      o.logger,
		store:       o.store,
		autoCreate:  o.autoCreate,
		defaultMode: o.defaultMode,
		hub:         hub,
		turnouts:    xsync.NewMapOf[int, *Turnout](),
		cache:       newFeedbackCache(),
	}

	for _, fn := range o.handlers {
		hub.AddHandler(fn)
	}

	if m.store != nil {
		hub.AddHandler(m.persistOnKnownChange)
	}

	return m, nil
}

// Events returns the hub turnout state changes are published to.
func (m *Manager) Events() *Hub {
	return m.hub
}

// Provide returns the turnout at address, creating it if needed.
//
// A new turnout takes its mode and inverted flag from the store. Its state
// comes from cached feedback when the nibble was reported before, otherwise
// a status request is queued.
func (m *Manager) Provide(ctx context.Context, address int) (*Turnout, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	if t, ok := m.turnouts.Load(address); ok {
		return t, nil
	}

	rec := Record{Address: address, Mode: m.defaultMode}
	stored := false
	if m.store != nil {
		r, ok, err := LoadRecord(ctx, m.store, address)
		if err != nil {
			m.logger.Warn("turnout: load roster record", "address", address, "error", err)
		} else if ok {
			rec, stored = r, true
		}
	}

	t, err := NewTurnout(address, m.bus,
		WithMode(rec.Mode),
		WithInverted(rec.Inverted),
		WithLogger(m.logger),
		WithEventSink(m.hub),
	)
	if err != nil {
		return nil, err
	}

	actual, loaded := m.turnouts.LoadOrStore(address, t)
	if loaded {
		return actual, nil
	}

	m.logger.Debug("turnout: created", "address", address, "mode", rec.Mode.String(), "inverted", rec.Inverted)

	if r, ok := m.cache.reply(address); ok {
		t.InitMessage(r)
	} else if err := t.RequestUpdateFromLayout(); err != nil {
		m.logger.Warn("turnout: request initial state", "address", address, "error", err)
	}

	if m.store != nil && !stored {
		if err := SaveRecord(ctx, m.store, rec); err != nil {
			m.logger.Warn("turnout: save roster record", "address", address, "error", err)
		}
	}

	return t, nil
}

// Get returns the turnout at address if it exists.
func (m *Manager) Get(address int) (*Turnout, bool) {
	return m.turnouts.Load(address)
}

// Remove disposes the turnout at address and stops routing replies to it.
// Its roster record is kept.
func (m *Manager) Remove(address int) bool {
	t, ok := m.turnouts.LoadAndDelete(address)
	if !ok {
		return false
	}

	t.Dispose()

	return true
}

// Addresses returns the addresses of all turnouts in ascending order.
func (m *Manager) Addresses() []int {
	addrs := make([]int, 0, m.turnouts.Size())
	m.turnouts.Range(func(addr int, _ *Turnout) bool {
		addrs = append(addrs, addr)
		return true
	})
	sort.Ints(addrs)

	return addrs
}

// LoadRoster creates every turnout that has a stored record.
func (m *Manager) LoadRoster(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	addrs, err := RosterAddresses(ctx, m.store)
	if err != nil {
		return fmt.Errorf("turnout: list roster: %w", err)
	}

	for _, addr := range addrs {
		if _, err := m.Provide(ctx, addr); err != nil {
			return err
		}
	}

	return nil
}

// Save writes the roster record of every turnout.
func (m *Manager) Save(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	var errs []error
	m.turnouts.Range(func(_ int, t *Turnout) bool {
		if err := SaveRecord(ctx, m.store, t.record()); err != nil {
			errs = append(errs, err)
		}

		return true
	})

	return errors.Join(errs...)
}

// Close disposes all turnouts and stops the event hub.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.turnouts.Range(func(addr int, t *Turnout) bool {
		t.Dispose()
		m.turnouts.Delete(addr)

		return true
	})

	m.hub.Close()

	return nil
}

// --- xnet.Listener ---

// OnReply caches feedback items and forwards the reply to the turnouts
// they cover.
func (m *Manager) OnReply(r *xnet.Reply) {
	if m.closed.Load() || !r.IsFeedbackBroadcast() {
		return
	}

	for _, item := range r.FeedbackItems() {
		if !item.IsTurnout() {
			continue
		}

		m.cache.put(item)

		first := item.FirstTurnout()
		for addr := first; addr <= first+1 && addr <= xnet.MaxTurnout; addr++ {
			m.route(r, addr)
		}
	}
}

func (m *Manager) route(r *xnet.Reply, addr int) {
	t, ok := m.turnouts.Load(addr)
	if !ok {
		if !m.autoCreate {
			return
		}

		// the new turnout starts from the item just cached
		if _, err := m.Provide(m.ctx, addr); err != nil {
			m.logger.Warn("turnout: auto create", "address", addr, "error", err)
		}

		return
	}

	if dest := r.Destination(); dest != nil && dest == xnet.Listener(t) {
		return
	}

	t.OnReply(r)
}

// OnOutgoing is part of xnet.Listener; the manager does not track messages.
func (m *Manager) OnOutgoing(*xnet.Message) {}

// OnTimeout is part of xnet.Listener; timeouts go to the sending turnout.
func (m *Manager) OnTimeout(*xnet.Message) {}

func (m *Manager) persistOnKnownChange(ev Event) {
	if ev.Kind != EventKnown {
		return
	}

	t, ok := m.turnouts.Load(ev.Address)
	if !ok {
		return
	}

	if err := SaveRecord(m.ctx, m.store, t.record()); err != nil {
		m.logger.Warn("turnout: save roster record", "address", ev.Address, "error", err)
	}
}
