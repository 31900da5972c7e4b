package turnout

import (
	"errors"
	"testing"

	"github.com/arloliu/go-xnet/logger"
	"github.com/arloliu/go-xnet/xnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewTurnout(t *testing.T) {
	_, err := NewTurnout(0, &stubBus{})
	require.ErrorIs(t, err, xnet.ErrInvalidTurnout)

	_, err = NewTurnout(1, nil)
	require.Error(t, err)

	_, err = NewTurnout(1, &stubBus{}, WithMode(FeedbackMode(9)))
	require.ErrorIs(t, err, ErrInvalidMode)

	to, bus := newTestTurnout(t, 17)
	assert.Equal(t, 17, to.Address())
	assert.Equal(t, Unknown, to.CommandedState())
	assert.Equal(t, Unknown, to.KnownState())
	assert.Equal(t, Monitoring, to.FeedbackMode())
	assert.Equal(t, Idle, to.InternalState())
	assert.False(t, to.Inverted())
	assert.Empty(t, bus.take(), "creation sends nothing")
}

func TestRequestStateChange_RejectsInvalidTarget(t *testing.T) {
	l := logger.NewMockLogger()
	l.On("With", mock.Anything)
	l.On("Warn", "turnout: state not forwarded to layout", mock.Anything)

	to, bus := newTestTurnout(t, 1, WithLogger(l))

	for _, s := range []State{Unknown, Inconsistent} {
		err := to.RequestStateChange(s)
		require.ErrorIs(t, err, ErrInvalidState)
	}

	assert.Empty(t, bus.take())
	assert.Equal(t, Unknown, to.CommandedState())
	l.AssertNumberOfCalls(t, "Warn", 2)
}

func TestMonitoring_CommandCycle(t *testing.T) {
	to, bus := newTestTurnout(t, 1)

	require.NoError(t, to.RequestStateChange(Thrown))
	assert.Equal(t, Thrown, to.CommandedState())
	assert.Equal(t, Inconsistent, to.KnownState())
	assert.Equal(t, QueuedMessage, to.InternalState())

	sent := bus.take()
	require.Len(t, sent, 1)
	cmd := sent[0]
	assert.False(t, cmd.high)
	assert.Equal(t, []byte{0x52, 0x00, 0x89, 0xDB}, cmd.msg.Bytes())
	assert.Equal(t, xnet.Listener(to), cmd.listener)

	to.OnOutgoing(cmd.msg)
	assert.Equal(t, CommandSent, to.InternalState())

	to.OnReply(okReply(t))
	assert.Equal(t, OffSent, to.InternalState())
	assert.Equal(t, Inconsistent, to.KnownState(), "stop command does not confirm by itself")

	sent = bus.take()
	require.Len(t, sent, 1)
	off := sent[0]
	assert.True(t, off.high)
	assert.Equal(t, mustCommand(t, 1, true, false), off.msg.Bytes())

	to.OnOutgoing(off.msg)
	assert.Equal(t, OffSent, to.InternalState())

	to.OnReply(okReply(t))
	assert.Equal(t, Thrown, to.KnownState())
	assert.Equal(t, Idle, to.InternalState())
	assert.Empty(t, bus.take())
}

func TestDirect_FeedbackSendsStopTwice(t *testing.T) {
	to, bus := newTestTurnout(t, 5, WithMode(Direct))

	require.NoError(t, to.RequestStateChange(Thrown))
	cmd := bus.take()[0]
	to.OnOutgoing(cmd.msg)

	to.OnReply(feedbackReply(t, 5, xnet.StatusClosed, xnet.TurnoutWithFeedback, true))

	normal, high := split(bus.take())
	assert.Empty(t, normal)
	require.Len(t, high, 2)
	for _, s := range high {
		assert.Equal(t, mustCommand(t, 5, true, false), s.msg.Bytes())
	}

	// feedback content is not used in direct mode
	assert.Equal(t, Inconsistent, to.KnownState())
	assert.Equal(t, OffSent, to.InternalState())
}

func TestDirect_OKSendsStopTwice(t *testing.T) {
	to, bus := newTestTurnout(t, 5, WithMode(Direct))

	require.NoError(t, to.RequestStateChange(Closed))
	to.OnOutgoing(bus.take()[0].msg)
	to.OnReply(okReply(t))

	_, high := split(bus.take())
	require.Len(t, high, 2)
}

func TestDirect_IgnoresFeedbackWhenSettled(t *testing.T) {
	to, bus := newTestTurnout(t, 5, WithMode(Direct))

	to.OnReply(feedbackReply(t, 5, xnet.StatusThrown, xnet.TurnoutWithFeedback, true))

	assert.Empty(t, bus.take())
	assert.Equal(t, Unknown, to.KnownState())
}

func TestMonitoring_FeedbackSetsKnownWhileIdle(t *testing.T) {
	to, bus := newTestTurnout(t, 3)

	to.OnReply(feedbackReply(t, 3, xnet.StatusThrown, xnet.TurnoutWithoutFeedback, true))
	assert.Equal(t, Thrown, to.KnownState())
	assert.Equal(t, Thrown, to.CommandedState(), "commanded state follows a layout change")
	assert.Empty(t, bus.take())

	to.OnReply(feedbackReply(t, 3, xnet.StatusClosed, xnet.TurnoutWithoutFeedback, true))
	assert.Equal(t, Closed, to.KnownState())
	assert.Equal(t, Closed, to.CommandedState())
}

func TestMonitoring_FeedbackOverridesCommanded(t *testing.T) {
	to, bus := newTestTurnout(t, 3)

	require.NoError(t, to.RequestStateChange(Closed))
	to.OnOutgoing(bus.take()[0].msg)

	to.OnReply(feedbackReply(t, 3, xnet.StatusThrown, xnet.TurnoutWithFeedback, false))
	assert.Equal(t, Thrown, to.KnownState())
	assert.Equal(t, Closed, to.CommandedState())

	_, high := split(bus.take())
	require.Len(t, high, 1, "feedback finalizes the command")
	assert.Equal(t, OffSent, to.InternalState())
}

func TestMonitoring_AmbiguousFeedbackRetriesCommand(t *testing.T) {
	to, bus := newTestTurnout(t, 3)

	require.NoError(t, to.RequestStateChange(Thrown))
	to.OnOutgoing(bus.take()[0].msg)

	to.OnReply(feedbackReply(t, 3, xnet.StatusUnknown, xnet.TurnoutWithFeedback, true))

	assert.Empty(t, bus.take(), "retry waits in the queue")
	assert.Equal(t, 1, to.QueueLength())
	assert.Equal(t, CommandSent, to.InternalState())
	assert.Equal(t, Inconsistent, to.KnownState())
}

func TestMonitoring_AmbiguousFeedbackWhenSettledDrains(t *testing.T) {
	to, bus := newTestTurnout(t, 3)

	to.OnReply(feedbackReply(t, 3, xnet.StatusInvalid, xnet.TurnoutWithFeedback, true))

	assert.Empty(t, bus.take())
	assert.Equal(t, Idle, to.InternalState())
	assert.Equal(t, 0, to.QueueLength())
	assert.Equal(t, Unknown, to.KnownState())
}

func TestExact_PollsUntilMotionComplete(t *testing.T) {
	to, bus := newTestTurnout(t, 1, WithMode(Exact))

	require.NoError(t, to.RequestStateChange(Thrown))
	to.OnOutgoing(bus.take()[0].msg)
	require.Equal(t, CommandSent, to.InternalState())

	to.OnReply(feedbackReply(t, 1, xnet.StatusThrown, xnet.TurnoutWithFeedback, false))

	normal, high := split(bus.take())
	assert.Empty(t, high, "incomplete motion must not stop the output")
	require.Len(t, normal, 1)
	assert.Equal(t, []byte{0x42, 0x00, 0x80, 0xC2}, normal[0].msg.Bytes())
	assert.Equal(t, StatusRequestSent, to.InternalState())
	assert.Equal(t, Inconsistent, to.KnownState())

	to.OnOutgoing(normal[0].msg)
	assert.Equal(t, StatusRequestSent, to.InternalState())

	to.OnReply(feedbackReply(t, 1, xnet.StatusThrown, xnet.TurnoutWithFeedback, true))

	normal, high = split(bus.take())
	assert.Empty(t, normal)
	require.Len(t, high, 1)
	assert.Equal(t, mustCommand(t, 1, true, false), high[0].msg.Bytes())
	assert.Equal(t, Thrown, to.KnownState())
	assert.Equal(t, OffSent, to.InternalState())
}

func TestExact_DecoderWithoutFeedbackIsComplete(t *testing.T) {
	to, bus := newTestTurnout(t, 2, WithMode(Exact))

	require.NoError(t, to.RequestStateChange(Closed))
	to.OnOutgoing(bus.take()[0].msg)

	// motion flag set, but the decoder cannot report end position
	to.OnReply(feedbackReply(t, 2, xnet.StatusClosed, xnet.TurnoutWithoutFeedback, false))

	normal, high := split(bus.take())
	assert.Empty(t, normal)
	require.Len(t, high, 1)
	assert.Equal(t, Closed, to.KnownState())
}

func TestExact_OKSendsStop(t *testing.T) {
	to, bus := newTestTurnout(t, 2, WithMode(Exact))

	require.NoError(t, to.RequestStateChange(Closed))
	to.OnOutgoing(bus.take()[0].msg)
	to.OnReply(okReply(t))

	_, high := split(bus.take())
	require.Len(t, high, 1)
	assert.Equal(t, OffSent, to.InternalState())
}

func TestSignal_SendsCommandAndStop(t *testing.T) {
	to, bus := newTestTurnout(t, 9, WithMode(Signal))

	require.NoError(t, to.RequestStateChange(Thrown))
	assert.Equal(t, Thrown, to.KnownState(), "known state is set without waiting")

	sent := bus.take()
	require.Len(t, sent, 2)

	assert.True(t, sent[0].high, "same priority as the stop keeps the wire order")
	assert.Nil(t, sent[0].listener)
	assert.Equal(t, mustCommand(t, 9, true, true), sent[0].msg.Bytes())
	d, ok := sent[0].msg.Timeout()
	assert.True(t, ok)
	assert.Zero(t, d)

	assert.True(t, sent[1].high)
	assert.Equal(t, mustCommand(t, 9, true, false), sent[1].msg.Bytes())

	// replies never change anything in signal mode
	to.OnReply(feedbackReply(t, 9, xnet.StatusClosed, xnet.TurnoutWithFeedback, true))
	assert.Equal(t, Thrown, to.KnownState())
}

func TestQueue_FIFOOneInFlight(t *testing.T) {
	to, bus := newTestTurnout(t, 1)

	require.NoError(t, to.RequestStateChange(Thrown))
	require.NoError(t, to.RequestStateChange(Closed))

	sent := bus.take()
	require.Len(t, sent, 1, "second command waits for the first")
	assert.Equal(t, mustCommand(t, 1, true, true), sent[0].msg.Bytes())
	assert.Equal(t, 1, to.QueueLength())

	to.OnOutgoing(sent[0].msg)
	to.OnReply(okReply(t))

	normal, high := split(bus.take())
	assert.Empty(t, normal, "queued command is not sent before the first completes")
	require.Len(t, high, 1)

	to.OnOutgoing(high[0].msg)
	to.OnReply(okReply(t))

	normal, _ = split(bus.take())
	require.Len(t, normal, 1)
	assert.Equal(t, mustCommand(t, 1, false, true), normal[0].msg.Bytes())
	assert.Equal(t, 0, to.QueueLength())
	assert.Equal(t, QueuedMessage, to.InternalState())
}

func TestSetInverted_Idempotent(t *testing.T) {
	to, bus := newTestTurnout(t, 1)

	to.SetInverted(true)
	to.SetInverted(true)
	assert.True(t, to.Inverted())

	require.NoError(t, to.RequestStateChange(Thrown))
	cmd := bus.take()[0]
	assert.Equal(t, mustCommand(t, 1, false, true), cmd.msg.Bytes(), "inverted Thrown drives the closed output")

	// physical closed reads back as logical thrown
	to.OnOutgoing(cmd.msg)
	to.OnReply(feedbackReply(t, 1, xnet.StatusClosed, xnet.TurnoutWithFeedback, true))
	assert.Equal(t, Thrown, to.KnownState())

	off := bus.take()
	require.Len(t, off, 1)
	assert.Equal(t, mustCommand(t, 1, false, false), off[0].msg.Bytes())
	to.OnOutgoing(off[0].msg)
	to.OnReply(okReply(t))
	require.Equal(t, Idle, to.InternalState())

	to.SetInverted(false)
	to.SetInverted(false)
	require.NoError(t, to.RequestStateChange(Thrown))
	assert.Equal(t, mustCommand(t, 1, true, true), bus.take()[0].msg.Bytes())
}

func TestOffSent_Replies(t *testing.T) {
	setup := func(t *testing.T) (*Turnout, *stubBus, *xnet.Message) {
		to, bus := newTestTurnout(t, 1)
		require.NoError(t, to.RequestStateChange(Thrown))
		to.OnOutgoing(bus.take()[0].msg)
		to.OnReply(okReply(t))
		off := bus.take()[0].msg
		to.OnOutgoing(off)
		require.Equal(t, OffSent, to.InternalState())

		return to, bus, off
	}

	t.Run("retransmittable error is left to the bus", func(t *testing.T) {
		to, bus, _ := setup(t)
		to.OnReply(errorReply(t))
		assert.Empty(t, bus.take())
		assert.Equal(t, OffSent, to.InternalState())
	})

	t.Run("unrelated reply resends stop", func(t *testing.T) {
		to, bus, _ := setup(t)
		to.OnReply(feedbackReply(t, 9, xnet.StatusThrown, xnet.TurnoutWithFeedback, true))
		_, high := split(bus.take())
		require.Len(t, high, 1)
		assert.Equal(t, mustCommand(t, 1, true, false), high[0].msg.Bytes())
		assert.Equal(t, Inconsistent, to.KnownState())
	})

	t.Run("unsolicited OK does not confirm", func(t *testing.T) {
		to, bus, _ := setup(t)
		r := okReply(t)
		r.SetUnsolicited(true)
		to.OnReply(r)
		_, high := split(bus.take())
		assert.NotEmpty(t, high)
		assert.Equal(t, Inconsistent, to.KnownState())
		assert.Equal(t, OffSent, to.InternalState())
	})

	t.Run("timeout resends stop", func(t *testing.T) {
		to, bus, off := setup(t)
		to.OnTimeout(off)
		_, high := split(bus.take())
		require.Len(t, high, 1)
		assert.Equal(t, OffSent, to.InternalState())
	})
}

func TestOnTimeout_IgnoredOutsideOffSent(t *testing.T) {
	to, bus := newTestTurnout(t, 1)

	require.NoError(t, to.RequestStateChange(Thrown))
	cmd := bus.take()[0]
	to.OnOutgoing(cmd.msg)

	to.OnTimeout(cmd.msg)
	assert.Empty(t, bus.take())
	assert.Equal(t, CommandSent, to.InternalState())
}

func TestOnOutgoing_MatchesIdentity(t *testing.T) {
	to, bus := newTestTurnout(t, 1)

	require.NoError(t, to.RequestStateChange(Thrown))
	cmd := bus.take()[0]

	// same bytes, different message
	other, err := xnet.NewTurnoutCommand(1, true, true)
	require.NoError(t, err)
	to.OnOutgoing(other)
	assert.Equal(t, QueuedMessage, to.InternalState())

	to.OnOutgoing(cmd.msg)
	assert.Equal(t, CommandSent, to.InternalState())

	// pending is cleared once adopted
	to.OnOutgoing(cmd.msg)
	assert.Equal(t, CommandSent, to.InternalState())
}

func TestRequestUpdateFromLayout(t *testing.T) {
	to, bus := newTestTurnout(t, 6)

	require.NoError(t, to.RequestUpdateFromLayout())
	require.NoError(t, to.RequestUpdateFromLayout())

	sent := bus.take()
	require.Len(t, sent, 2, "status requests without listener do not block the queue")
	for _, s := range sent {
		assert.Equal(t, []byte{0x42, 0x01, 0x80, 0xC3}, s.msg.Bytes())
		assert.Nil(t, s.listener)
	}
	assert.Equal(t, Idle, to.InternalState())
	assert.Equal(t, Unknown, to.CommandedState())
}

func TestInitMessage_KeepsInternalState(t *testing.T) {
	to, bus := newTestTurnout(t, 4)

	to.InitMessage(feedbackReply(t, 4, xnet.StatusClosed, xnet.TurnoutWithFeedback, true))
	assert.Equal(t, Closed, to.KnownState())
	assert.Equal(t, Closed, to.CommandedState())
	assert.Equal(t, Idle, to.InternalState())
	assert.Empty(t, bus.take())
}

func TestDispose(t *testing.T) {
	to, bus := newTestTurnout(t, 1)

	require.NoError(t, to.RequestStateChange(Thrown))
	require.NoError(t, to.RequestStateChange(Closed))
	cmd := bus.take()[0]

	to.Dispose()
	assert.Equal(t, 0, to.QueueLength())

	to.OnOutgoing(cmd.msg)
	to.OnReply(okReply(t))
	to.OnTimeout(cmd.msg)
	assert.Empty(t, bus.take())
	assert.Equal(t, QueuedMessage, to.InternalState())

	require.ErrorIs(t, to.RequestStateChange(Thrown), ErrDisposed)
	require.ErrorIs(t, to.RequestUpdateFromLayout(), ErrDisposed)
}

func TestSetFeedbackMode(t *testing.T) {
	to, _ := newTestTurnout(t, 1)

	require.NoError(t, to.SetFeedbackMode(Exact))
	assert.Equal(t, Exact, to.FeedbackMode())
	require.ErrorIs(t, to.SetFeedbackMode(FeedbackMode(7)), ErrInvalidMode)
}

func TestBusErrorIsLogged(t *testing.T) {
	to, bus := newTestTurnout(t, 1)
	bus.err = errors.New("closed")

	require.NoError(t, to.RequestStateChange(Thrown))
	assert.Equal(t, Idle, to.InternalState())
}

func TestEvents(t *testing.T) {
	sink := &recordSink{}
	to, bus := newTestTurnout(t, 2, WithEventSink(sink))

	require.NoError(t, to.RequestStateChange(Thrown))
	assert.Equal(t, []Event{
		{Address: 2, Kind: EventCommanded, Old: Unknown, New: Thrown},
		{Address: 2, Kind: EventKnown, Old: Unknown, New: Inconsistent},
	}, sink.take())

	to.OnOutgoing(bus.take()[0].msg)
	to.OnReply(okReply(t))
	to.OnOutgoing(bus.take()[0].msg)
	to.OnReply(okReply(t))

	assert.Equal(t, []Event{
		{Address: 2, Kind: EventKnown, Old: Inconsistent, New: Thrown},
	}, sink.take())
}

func TestParseState(t *testing.T) {
	s, err := ParseState(" thrown ")
	require.NoError(t, err)
	assert.Equal(t, Thrown, s)

	s, err = ParseState("CLOSED")
	require.NoError(t, err)
	assert.Equal(t, Closed, s)

	_, err = ParseState("INCONSISTENT")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestParseFeedbackMode(t *testing.T) {
	for _, m := range []FeedbackMode{Direct, Monitoring, Exact, Signal} {
		got, err := ParseFeedbackMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	_, err := ParseFeedbackMode("ONESENSOR")
	require.ErrorIs(t, err, ErrInvalidMode)
}
