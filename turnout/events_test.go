package turnout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHub_DeliversInOrder(t *testing.T) {
	hub, err := NewHub(context.Background(), nil)
	require.NoError(t, err)
	defer hub.Close()

	got := make(chan Event, 8)
	hub.AddHandler(func(ev Event) { got <- ev })

	want := []Event{
		{Address: 1, Kind: EventCommanded, Old: Unknown, New: Thrown},
		{Address: 1, Kind: EventKnown, Old: Unknown, New: Inconsistent},
		{Address: 1, Kind: EventKnown, Old: Inconsistent, New: Thrown},
	}
	for _, ev := range want {
		hub.Publish(ev)
	}

	for _, ev := range want {
		select {
		case e := <-got:
			require.Equal(t, ev, e)
		case <-time.After(time.Second):
			require.FailNow(t, "event not delivered")
		}
	}
}

func TestHub_HandlerPanicIsRecovered(t *testing.T) {
	hub, err := NewHub(context.Background(), nil)
	require.NoError(t, err)
	defer hub.Close()

	got := make(chan Event, 2)
	remove := hub.AddHandler(func(Event) { panic("boom") })
	hub.AddHandler(func(ev Event) { got <- ev })

	hub.Publish(Event{Address: 7})
	select {
	case ev := <-got:
		require.Equal(t, 7, ev.Address)
	case <-time.After(time.Second):
		require.FailNow(t, "event not delivered")
	}

	remove()
	hub.Publish(Event{Address: 8})
	select {
	case ev := <-got:
		require.Equal(t, 8, ev.Address)
	case <-time.After(time.Second):
		require.FailNow(t, "dispatcher stopped after panic")
	}
}

func TestHub_Close(t *testing.T) {
	hub, err := NewHub(context.Background(), nil)
	require.NoError(t, err)

	got := make(chan Event, 1)
	hub.AddHandler(func(ev Event) { got <- ev })

	hub.Close()
	hub.Close()
	hub.Publish(Event{Address: 1})

	select {
	case <-got:
		require.FailNow(t, "event delivered after close")
	case <-time.After(50 * time.Millisecond):
	}
}
