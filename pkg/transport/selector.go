package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"chatrelay/pkg/config"
	"chatrelay/pkg/envelope"
	"chatrelay/pkg/logger"
)

var (
	// ErrClosed is returned when an operation races with teardown.
	ErrClosed = errors.New("transport: selector closed")
)

// Options configures a Selector. BaseURL, Identity, and OnEvent are
// required; zero policy fields fall back to the config defaults.
type Options struct {
	BaseURL  string
	Identity string
	Token    string

	RetryThreshold int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	PollInterval   time.Duration

	HTTPClient *http.Client
	// Fetch supplies the polling fallback. When nil, degrade parks the
	// selector in Degraded without a pull loop.
	Fetch FetchFunc

	OnEvent func(envelope.Event)
	// OnError is invoked with the triggering error on every transport
	// failure, before retry or degrade is decided.
	OnError func(error)
	// OnStateChange observes status transitions (for the UI indicator).
	OnStateChange func(Status)
}

func (o *Options) withDefaults() {
	if o.RetryThreshold <= 0 {
		o.RetryThreshold = config.DefaultRetryThreshold
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = config.DefaultRetryBaseDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = config.DefaultRetryMaxDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = config.DefaultPollInterval
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
}

// Selector owns exactly one delivery handle for one subscriber identity:
// either the push stream or the polling ticker, never both. It is created
// on mount, closed on unmount/logout, and never reused after Close.
type Selector struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	status     Status
	stream     *Stream
	retryTimer *time.Timer
	pollActive bool
	closed     bool

	// gate is read-held around every OnEvent call; Close write-acquires it
	// after flagging closed, so no callback can land after Close returns.
	gate sync.RWMutex
}

// NewSelector validates opts and returns an idle selector; Start opens the
// first connection.
func NewSelector(opts Options) (*Selector, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("transport: base URL is required")
	}
	if opts.Identity == "" {
		return nil, errors.New("transport: identity is required")
	}
	if opts.OnEvent == nil {
		return nil, errors.New("transport: OnEvent is required")
	}
	opts.withDefaults()
	return &Selector{opts: opts, status: Status{State: StateDisconnected}}, nil
}

// Start begins delivery. Without an auth token no push attempt is made at
// all: the selector goes straight to polling, skipping the retry ladder.
func (s *Selector) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.opts.Token == "" {
		logger.Warn("sse_token_missing_degrading", "identity", s.opts.Identity)
		s.startPolling()
		return nil
	}
	s.transition(EventDial)
	go s.runPush()
	return nil
}

// Status returns the current observable state.
func (s *Selector) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PushActive reports whether a push stream handle is currently held.
func (s *Selector) PushActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// PollActive reports whether the polling loop is currently running.
func (s *Selector) PollActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollActive
}

// Close tears down whichever handle is live and stops any pending retry
// timer. No callback fires after Close returns: the closed flag flips under
// the lock, then Close drains the delivery gate before returning.
func (s *Selector) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
	s.pollActive = false
	s.status = Transition(s.status, EventClosed, s.opts.RetryThreshold)
	s.mu.Unlock()

	// wait out any delivery that passed its closed check before the flag flipped
	s.gate.Lock()
	s.gate.Unlock()

	logger.Info("transport_closed", "identity", s.opts.Identity)
	return nil
}

func (s *Selector) transition(ev Event) {
	s.mu.Lock()
	prev := s.status
	s.status = Transition(prev, ev, s.opts.RetryThreshold)
	cur := s.status
	s.mu.Unlock()
	if prev != cur && s.opts.OnStateChange != nil {
		s.opts.OnStateChange(cur)
	}
}

// runPush dials the stream and pumps events until error or teardown.
func (s *Selector) runPush() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	stream, err := DialStream(ctx, s.opts.HTTPClient, s.opts.BaseURL, s.opts.Identity, s.opts.Token)
	if err != nil {
		s.pushError(err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = stream.Close()
		return
	}
	s.stream = stream
	s.mu.Unlock()
	s.transition(EventOpened)

	for {
		ev, err := stream.Recv()
		if err != nil {
			s.pushError(err)
			return
		}
		if !s.deliver(ev, true) {
			return
		}
	}
}

// deliver hands one event to OnEvent under the delivery gate. Returns false
// when the selector closed instead.
func (s *Selector) deliver(ev envelope.Event, push bool) bool {
	s.gate.RLock()
	defer s.gate.RUnlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	if push {
		// any delivery counts as success and resets the retry ladder
		s.transition(EventDelivered)
	}
	s.opts.OnEvent(ev)
	return true
}

// pushError applies the retry/degrade policy after a stream failure.
func (s *Selector) pushError(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
	s.mu.Unlock()

	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
	s.transition(EventFailed)

	st := s.Status()
	if st.State == StateDegraded {
		logger.Warn("sse_degrading_to_polling", "identity", s.opts.Identity, "retries", st.Retries)
		degradesTotal.Inc()
		s.startPolling()
		return
	}

	delay := Backoff(st.Retries, s.opts.RetryBaseDelay, s.opts.RetryMaxDelay)
	logger.Info("sse_reconnect_scheduled", "identity", s.opts.Identity, "retries", st.Retries, "delay", delay.String())
	reconnectsTotal.Inc()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		dead := s.closed
		s.retryTimer = nil
		s.mu.Unlock()
		if dead {
			return
		}
		s.runPush()
	})
	s.mu.Unlock()
}

// startPolling switches the selector to the pull loop. Degraded is sticky:
// once polling starts, push is not re-probed for the rest of the session.
func (s *Selector) startPolling() {
	s.mu.Lock()
	if s.closed || s.pollActive {
		s.mu.Unlock()
		return
	}
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
	s.status = Status{State: StateDegraded, Retries: s.status.Retries}
	s.pollActive = true
	ctx := s.ctx
	cur := s.status
	s.mu.Unlock()

	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(cur)
	}
	if s.opts.Fetch == nil {
		logger.Warn("polling_unavailable_no_fetcher", "identity", s.opts.Identity)
		return
	}
	p := &poller{interval: s.opts.PollInterval, fetch: s.opts.Fetch, onEvent: s.guardedEvent}
	go func() {
		p.run(ctx)
		s.mu.Lock()
		s.pollActive = false
		s.mu.Unlock()
	}()
}

func (s *Selector) guardedEvent(ev envelope.Event) {
	s.deliver(ev, false)
}
