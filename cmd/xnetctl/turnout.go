package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/arloliu/go-xnet/turnout"
	"github.com/spf13/cobra"
)

var (
	waitTimeout time.Duration
	modeName    string
)

var throwCmd = &cobra.Command{
	Use:   "throw <address>",
	Short: "Throw a turnout and wait for the layout to confirm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], turnout.Thrown)
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <address>",
	Short: "Close a turnout and wait for the layout to confirm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args[0], turnout.Closed)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <address>",
	Short: "Query the position of a turnout",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	for _, c := range []*cobra.Command{throwCmd, closeCmd, statusCmd} {
		c.Flags().DurationVarP(&waitTimeout, "wait", "w", 5*time.Second, "Time to wait for the layout")
		rootCmd.AddCommand(c)
	}

	throwCmd.Flags().StringVarP(&modeName, "mode", "m", "", "Feedback mode (DIRECT, MONITORING, EXACT, SIGNAL)")
	closeCmd.Flags().StringVarP(&modeName, "mode", "m", "", "Feedback mode (DIRECT, MONITORING, EXACT, SIGNAL)")
}

func parseAddress(s string) (int, error) {
	addr, err := strconv.Atoi(s)
	if err != nil || addr < 1 || addr > 1024 {
		return 0, fmt.Errorf("invalid turnout address %q: must be 1..1024", s)
	}

	return addr, nil
}

// knownWatcher collects known state changes of one turnout.
type knownWatcher struct {
	address int
	ch      chan turnout.State
}

func newKnownWatcher(address int) *knownWatcher {
	return &knownWatcher{address: address, ch: make(chan turnout.State, 16)}
}

func (w *knownWatcher) handle(ev turnout.Event) {
	if ev.Address != w.address || ev.Kind != turnout.EventKnown {
		return
	}

	select {
	case w.ch <- ev.New:
	default:
	}
}

// wait blocks until done reports true for a known state, or the timeout
// expires.
func (w *knownWatcher) wait(ctx context.Context, t *turnout.Turnout, done func(turnout.State) bool) (turnout.State, error) {
	if s := t.KnownState(); done(s) {
		return s, nil
	}

	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()

	for {
		select {
		case s := <-w.ch:
			if done(s) {
				return s, nil
			}
		case <-timer.C:
			return t.KnownState(), fmt.Errorf("turnout %d: no confirmation within %v", w.address, waitTimeout)
		case <-ctx.Done():
			return t.KnownState(), ctx.Err()
		}
	}
}

func runCommand(cmd *cobra.Command, arg string, target turnout.State) error {
	addr, err := parseAddress(arg)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	w := newKnownWatcher(addr)

	s, err := openSession(ctx, cfg, turnout.WithEventHandler(w.handle))
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := s.mgr.Provide(ctx, addr)
	if err != nil {
		return err
	}

	if modeName != "" {
		mode, err := turnout.ParseFeedbackMode(modeName)
		if err != nil {
			return err
		}
		if err := t.SetFeedbackMode(mode); err != nil {
			return err
		}
	}

	if err := t.RequestStateChange(target); err != nil {
		return err
	}

	known, err := w.wait(ctx, t, func(s turnout.State) bool { return s == target })
	fmt.Fprintf(cmd.OutOrStdout(), "turnout %d: commanded %s, known %s\n", addr, t.CommandedState(), known)

	return errors.Join(err, settle(ctx, s, t))
}

// settle lets the stop command reach the line before the session closes.
func settle(ctx context.Context, s *session, t *turnout.Turnout) error {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	return s.settle(ctx, t)
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	w := newKnownWatcher(addr)

	s, err := openSession(ctx, cfg, turnout.WithEventHandler(w.handle))
	if err != nil {
		return err
	}
	defer s.Close()

	// a new turnout queries its nibble on creation
	t, err := s.mgr.Provide(ctx, addr)
	if err != nil {
		return err
	}

	known, err := w.wait(ctx, t, func(s turnout.State) bool {
		return s == turnout.Closed || s == turnout.Thrown
	})
	fmt.Fprintf(cmd.OutOrStdout(), "turnout %d: %s (mode %s)\n", addr, known, t.FeedbackMode())

	return errors.Join(err, settle(ctx, s, t))
}
