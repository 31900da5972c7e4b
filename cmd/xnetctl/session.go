package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-xnet/bus"
	"github.com/arloliu/go-xnet/config"
	"github.com/arloliu/go-xnet/logger"
	"github.com/arloliu/go-xnet/store"
	"github.com/arloliu/go-xnet/turnout"
)

const settlePollInterval = 5 * time.Millisecond

// session is an open controller with a turnout manager on top.
type session struct {
	cfg    *config.Config
	logger logger.Logger
	ctrl   *bus.Controller
	store  store.Store
	mgr    *turnout.Manager

	removeMgr func()
}

func newLogger(cfg *config.Config) logger.Logger {
	l := logger.NewSlogWithOptions(logger.SlogOptions{
		Level:  cfg.LogLevel(),
		Format: cfg.Logging.Format,
	})
	logger.SetDefault(l)

	return l
}

// openSession connects to the interface and starts the manager. Extra
// manager options are appended to the ones derived from cfg.
func openSession(ctx context.Context, cfg *config.Config, opts ...turnout.ManagerOption) (*session, error) {
	l := newLogger(cfg)

	conn, desc, err := openConnection(ctx, cfg.Bus)
	if err != nil {
		return nil, err
	}
	l.Info("connected", "interface", desc)

	busCfg, err := bus.NewConfig(
		bus.WithReplyTimeout(cfg.ReplyTimeout()),
		bus.WithRetryLimit(cfg.Bus.RetryLimit),
		bus.WithUSBFraming(cfg.Bus.USB),
		bus.WithLogger(l),
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	ctrl, err := bus.NewController(ctx, conn, busCfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &session{cfg: cfg, logger: l, ctrl: ctrl}

	if cfg.Store.Path != "" {
		db, err := store.OpenSQLite(store.Config{Path: cfg.Store.Path, BusyTimeout: cfg.Store.BusyTimeout})
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.store = db
	} else {
		s.store = store.NewMemory()
	}

	mgrOpts := []turnout.ManagerOption{
		turnout.WithManagerLogger(l),
		turnout.WithStore(s.store),
		turnout.WithAutoCreate(cfg.Turnouts.AutoCreate),
		turnout.WithDefaultMode(cfg.DefaultMode()),
	}
	mgrOpts = append(mgrOpts, opts...)

	mgr, err := turnout.NewManager(ctx, ctrl, mgrOpts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.mgr = mgr
	s.removeMgr = ctrl.AddListener(mgr)

	return s, nil
}

// applyRoster writes the configured roster to the store before turnouts are
// provided, so configured modes win over stored ones.
func (s *session) applyRoster(ctx context.Context) error {
	for _, tc := range s.cfg.Turnouts.Roster {
		rec := turnout.Record{Address: tc.Address, Mode: s.cfg.DefaultMode(), Inverted: tc.Inverted}
		if tc.Mode != "" {
			mode, err := turnout.ParseFeedbackMode(tc.Mode)
			if err != nil {
				return err
			}
			rec.Mode = mode
		}

		if err := turnout.SaveRecord(ctx, s.store, rec); err != nil {
			return fmt.Errorf("roster turnout %d: %w", tc.Address, err)
		}
	}

	return nil
}

// settle waits until t has no request in flight or queued and the controller
// has written everything, so Close does not drop a pending stop command.
func (s *session) settle(ctx context.Context, t *turnout.Turnout) error {
	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()

	for t.InternalState() != turnout.Idle || t.QueueLength() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("turnout %d: still %s: %w", t.Address(), t.InternalState(), ctx.Err())
		case <-ticker.C:
		}
	}

	return s.ctrl.Flush(ctx)
}

// Close stops the manager, the controller and the store in that order.
func (s *session) Close() error {
	var errs []error

	if s.mgr != nil {
		s.removeMgr()
		errs = append(errs, s.mgr.Close())
	}
	if s.ctrl != nil {
		errs = append(errs, s.ctrl.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}

	return errors.Join(errs...)
}
