package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-xnet/bus"
	"github.com/arloliu/go-xnet/config"
	"github.com/arloliu/go-xnet/turnout"
	"github.com/arloliu/go-xnet/xnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	addr, err := parseAddress("1024")
	require.NoError(t, err)
	assert.Equal(t, 1024, addr)

	for _, bad := range []string{"0", "1025", "-3", "five"} {
		_, err := parseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestPrintListener(t *testing.T) {
	var buf bytes.Buffer
	p := &printListener{out: &buf}

	msg, err := xnet.NewTurnoutCommand(1, true, true)
	require.NoError(t, err)
	p.OnOutgoing(msg)

	r, err := xnet.ParseReply([]byte{0x42, 0x00, 0x36, 0x74})
	require.NoError(t, err)
	r.SetUnsolicited(true)
	p.OnReply(r)

	p.OnTimeout(msg)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "TX")
	assert.Contains(t, lines[1], "RX*")
	assert.Contains(t, lines[1], "3=Thrown 4=Closed")
	assert.Contains(t, lines[2], "TMO")
}

func TestKnownWatcher(t *testing.T) {
	to, err := turnout.NewTurnout(5, nopBus{})
	require.NoError(t, err)

	w := newKnownWatcher(5)
	w.handle(turnout.Event{Address: 6, Kind: turnout.EventKnown, New: turnout.Thrown})
	w.handle(turnout.Event{Address: 5, Kind: turnout.EventCommanded, New: turnout.Thrown})
	w.handle(turnout.Event{Address: 5, Kind: turnout.EventKnown, New: turnout.Inconsistent})
	w.handle(turnout.Event{Address: 5, Kind: turnout.EventKnown, New: turnout.Thrown})

	waitTimeout = time.Second
	s, err := w.wait(context.Background(), to, func(s turnout.State) bool { return s == turnout.Thrown })
	require.NoError(t, err)
	assert.Equal(t, turnout.Thrown, s)

	waitTimeout = 20 * time.Millisecond
	_, err = w.wait(context.Background(), to, func(s turnout.State) bool { return s == turnout.Closed })
	require.Error(t, err)
}

func TestLoadConfigFlagsOverride(t *testing.T) {
	require.NoError(t, rootCmd.ParseFlags([]string{"--tcp", "10.0.0.5:5550", "--log-level", "debug"}))
	t.Cleanup(func() {
		tcpAddr, logLevel = "", ""
		rootCmd.Flags().Lookup("tcp").Changed = false
		rootCmd.Flags().Lookup("log-level").Changed = false
	})

	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, config.TransportTCP, cfg.Bus.Transport)
	assert.Equal(t, "10.0.0.5:5550", cfg.Bus.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 19200, cfg.Bus.Baud)
}

// okInterface records every frame written to the line and confirms every
// accessory command with an OK reply.
type okInterface struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *okInterface) serve(conn net.Conn) {
	for {
		header := make([]byte, 1)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		frame := make([]byte, xnet.FrameLength(header[0]))
		frame[0] = header[0]
		if _, err := io.ReadFull(conn, frame[1:]); err != nil {
			return
		}

		f.mu.Lock()
		f.frames = append(f.frames, frame)
		f.mu.Unlock()

		if frame[0] == 0x52 {
			if _, err := conn.Write([]byte{0x01, 0x04, 0x05}); err != nil {
				return
			}
		}
	}
}

func (f *okInterface) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]byte(nil), f.frames...)
}

func TestSettleWritesStopBeforeClose(t *testing.T) {
	for _, mode := range []turnout.FeedbackMode{turnout.Signal, turnout.Direct} {
		t.Run(mode.String(), func(t *testing.T) {
			local, remote := net.Pipe()
			defer remote.Close()

			ctrl, err := bus.NewController(context.Background(), local, nil)
			require.NoError(t, err)

			line := &okInterface{}
			go line.serve(remote)

			to, err := turnout.NewTurnout(5, ctrl, turnout.WithMode(mode))
			require.NoError(t, err)
			require.NoError(t, to.RequestStateChange(turnout.Thrown))

			s := &session{ctrl: ctrl}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			require.NoError(t, s.settle(ctx, to))
			require.NoError(t, ctrl.Close())

			actuate, err := xnet.NewTurnoutCommand(5, true, true)
			require.NoError(t, err)
			stop, err := xnet.NewTurnoutCommand(5, true, false)
			require.NoError(t, err)

			frames := line.written()
			require.GreaterOrEqual(t, len(frames), 2)
			assert.Equal(t, actuate.Bytes(), frames[0])
			assert.Equal(t, stop.Bytes(), frames[len(frames)-1], "stop is the last frame on the line")
			assert.Equal(t, turnout.Thrown, to.KnownState())
		})
	}
}

func TestSettleTimesOut(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	ctrl, err := bus.NewController(context.Background(), local, nil)
	require.NoError(t, err)
	defer ctrl.Close()

	// nothing answers, so the command stays unconfirmed
	go func() { _, _ = io.Copy(io.Discard, remote) }()

	to, err := turnout.NewTurnout(5, ctrl)
	require.NoError(t, err)
	require.NoError(t, to.RequestStateChange(turnout.Closed))

	s := &session{ctrl: ctrl}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, s.settle(ctx, to), context.DeadlineExceeded)
}

type nopBus struct{}

func (nopBus) Send(*xnet.Message, xnet.Listener) error             { return nil }
func (nopBus) SendHighPriority(*xnet.Message, xnet.Listener) error { return nil }
