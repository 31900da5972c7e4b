package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/arloliu/go-xnet/xnet"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print every frame on the bus until interrupted",
	RunE:  runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// printListener writes one line per bus event.
type printListener struct {
	mu  sync.Mutex
	out io.Writer
}

var _ xnet.Listener = (*printListener)(nil)

func (p *printListener) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "%s "+format+"\n", append([]any{time.Now().Format("15:04:05.000")}, args...)...)
}

func (p *printListener) OnReply(r *xnet.Reply) {
	dir := "RX"
	if r.Unsolicited() {
		dir = "RX*"
	}

	line := r.String()
	if r.IsFeedbackBroadcast() {
		for _, item := range r.FeedbackItems() {
			if item.IsTurnout() {
				first := item.FirstTurnout()
				line += fmt.Sprintf(" | %d=%s %d=%s", first, item.StatusOf(first), first+1, item.StatusOf(first+1))
			}
		}
	}

	p.printf("%-3s %s", dir, line)
}

func (p *printListener) OnOutgoing(m *xnet.Message) {
	p.printf("%-3s %s", "TX", m.String())
}

func (p *printListener) OnTimeout(m *xnet.Message) {
	p.printf("%-3s %s", "TMO", m.String())
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	remove := s.ctrl.AddListener(&printListener{out: cmd.OutOrStdout()})
	defer remove()

	<-ctx.Done()

	m := s.ctrl.Metrics()
	fmt.Fprintf(cmd.OutOrStdout(), "sent %d, received %d, unsolicited %d, timeouts %d, retransmits %d, checksum errors %d\n",
		m.MsgSendCount.Load(), m.ReplyRecvCount.Load(), m.UnsolicitedCount.Load(),
		m.TimeoutCount.Load(), m.RetransmitCount.Load(), m.ChecksumErrCount.Load())

	return nil
}
