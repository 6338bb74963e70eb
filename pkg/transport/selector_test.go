package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatrelay/pkg/envelope"
)

func fastOpts(base string, onEvent func(envelope.Event)) Options {
	return Options{
		BaseURL:        base,
		Identity:       "13800000000",
		Token:          "tok",
		RetryThreshold: 3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		OnEvent:        onEvent,
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", msg)
}

// sseServer streams the given frames then blocks until the client goes away.
func sseServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, f := range frames {
			fmt.Fprint(w, f)
			fl.Flush()
		}
		<-r.Context().Done()
	}))
}

func TestSelector_ReceivesPushEvents(t *testing.T) {
	srv := sseServer(t, []string{
		"event: points_update\ndata: {\"message\":\"+10\",\"newPoints\":110}\n\n",
		"data: {\"type\":\"new_message\",\"id\":7,\"sender\":\"admin\",\"content\":\"hi\"}\n\n",
	})
	defer srv.Close()

	var mu sync.Mutex
	var got []envelope.Event
	sel, err := NewSelector(fastOpts(srv.URL, func(ev envelope.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}))
	require.NoError(t, err)
	require.NoError(t, sel.Start(context.Background()))
	defer sel.Close()

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, "push events delivered")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, envelope.TypePointsUpdate, got[0].Type)
	// default-named events carrying a chat tag are classified as chat traffic
	require.Equal(t, envelope.TypeChatMessage, got[1].Type)
	require.Equal(t, StateConnected, sel.Status().State)
}

func TestSelector_DegradesAfterThresholdFailures(t *testing.T) {
	var dials int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	polled := make(chan struct{}, 1)
	opts := fastOpts(srv.URL, func(envelope.Event) {})
	opts.Fetch = func(ctx context.Context) ([]envelope.Event, error) {
		select {
		case polled <- struct{}{}:
		default:
		}
		return nil, nil
	}
	sel, err := NewSelector(opts)
	require.NoError(t, err)
	require.NoError(t, sel.Start(context.Background()))
	defer sel.Close()

	eventually(t, func() bool { return sel.Status().State == StateDegraded }, "degrade after threshold")
	require.Equal(t, int32(3), atomic.LoadInt32(&dials))

	select {
	case <-polled:
	case <-time.After(3 * time.Second):
		t.Fatal("polling never started after degrade")
	}

	// exclusive handle: polling active, no push stream held, and the state
	// stays degraded for the rest of the session
	require.True(t, sel.PollActive())
	require.False(t, sel.PushActive())
	require.Equal(t, StateDegraded, sel.Status().State)
}

func TestSelector_NoTokenSkipsPushEntirely(t *testing.T) {
	var dials int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
	}))
	defer srv.Close()

	opts := fastOpts(srv.URL, func(envelope.Event) {})
	opts.Token = ""
	opts.Fetch = func(ctx context.Context) ([]envelope.Event, error) { return nil, nil }
	sel, err := NewSelector(opts)
	require.NoError(t, err)
	require.NoError(t, sel.Start(context.Background()))
	defer sel.Close()

	eventually(t, func() bool { return sel.PollActive() }, "polling starts without token")
	require.Equal(t, StateDegraded, sel.Status().State)
	require.False(t, sel.PushActive())
	require.Equal(t, int32(0), atomic.LoadInt32(&dials))
}

func TestSelector_CloseStopsCallbacks(t *testing.T) {
	srv := sseServer(t, []string{"data: {\"type\":\"notification\"}\n\n"})
	defer srv.Close()

	var events int32
	sel, err := NewSelector(fastOpts(srv.URL, func(envelope.Event) {
		atomic.AddInt32(&events, 1)
	}))
	require.NoError(t, err)
	require.NoError(t, sel.Start(context.Background()))

	eventually(t, func() bool { return atomic.LoadInt32(&events) >= 1 }, "first event arrives")
	require.NoError(t, sel.Close())
	require.False(t, sel.PushActive())
	require.False(t, sel.PollActive())
	require.Equal(t, StateDisconnected, sel.Status().State)

	n := atomic.LoadInt32(&events)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, n, atomic.LoadInt32(&events), "no events after Close")

	// Close is idempotent
	require.NoError(t, sel.Close())
}

func TestSelector_CloseWaitsForInFlightDelivery(t *testing.T) {
	srv := sseServer(t, []string{"data: {\"type\":\"notification\"}\n\n"})
	defer srv.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sel, err := NewSelector(fastOpts(srv.URL, func(envelope.Event) {
		once.Do(func() { close(entered) })
		<-release
	}))
	require.NoError(t, err)
	require.NoError(t, sel.Start(context.Background()))

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("event never delivered")
	}

	closed := make(chan struct{})
	go func() {
		_ = sel.Close()
		close(closed)
	}()

	// the delivery callback is still running; Close must not return yet
	select {
	case <-closed:
		t.Fatal("Close returned while a delivery callback was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close never returned after the callback finished")
	}
}

func TestStreamURL_Escaping(t *testing.T) {
	got := StreamURL("http://api.example/api/", "admin", "a+b c")
	require.Equal(t, "http://api.example/api/notifications/connect/admin?token=a%2Bb+c", got)
}
