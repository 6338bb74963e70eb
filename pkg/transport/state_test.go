package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransition_DegradeAfterThreshold(t *testing.T) {
	st := Status{State: StateDisconnected}
	st = Transition(st, EventDial, 3)
	require.Equal(t, StateConnecting, st.State)

	st = Transition(st, EventFailed, 3)
	require.Equal(t, StateConnecting, st.State)
	require.Equal(t, 1, st.Retries)

	st = Transition(st, EventFailed, 3)
	require.Equal(t, 2, st.Retries)

	st = Transition(st, EventFailed, 3)
	require.Equal(t, StateDegraded, st.State)
	require.Equal(t, 3, st.Retries)
}

func TestTransition_DeliveryResetsRetries(t *testing.T) {
	st := Status{State: StateConnecting, Retries: 2}
	st = Transition(st, EventOpened, 3)
	require.Equal(t, StateConnected, st.State)

	st = Transition(st, EventDelivered, 3)
	require.Equal(t, 0, st.Retries)

	// after a success the ladder starts over: two more failures must not
	// degrade
	st = Transition(st, EventFailed, 3)
	st = Transition(st, EventFailed, 3)
	require.NotEqual(t, StateDegraded, st.State)
	require.Equal(t, 2, st.Retries)
}

func TestTransition_DegradedIsSticky(t *testing.T) {
	st := Status{State: StateDegraded, Retries: 3}
	for _, ev := range []Event{EventDial, EventOpened, EventDelivered, EventFailed} {
		next := Transition(st, ev, 3)
		require.Equal(t, StateDegraded, next.State, "event %v must not leave degraded", ev)
	}
	next := Transition(st, EventClosed, 3)
	require.Equal(t, StateDisconnected, next.State)
}

func TestBackoff_LinearCapped(t *testing.T) {
	base := 5 * time.Second
	max := 30 * time.Second
	require.Equal(t, 5*time.Second, Backoff(1, base, max))
	require.Equal(t, 10*time.Second, Backoff(2, base, max))
	require.Equal(t, 30*time.Second, Backoff(6, base, max))
	require.Equal(t, 30*time.Second, Backoff(100, base, max))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "polling", StateDegraded.String())
	require.Equal(t, "connected", StateConnected.String())
}
