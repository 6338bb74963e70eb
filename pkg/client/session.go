// Package client assembles one authenticated delivery session: the transport
// selector, the event dispatcher, the session bus, and the consumers hanging
// off it (message store, points tracker, journal). A session maps one-to-one
// to a logged-in identity and is torn down as a unit.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/backend"
	"chatrelay/pkg/bus"
	"chatrelay/pkg/chat"
	"chatrelay/pkg/config"
	"chatrelay/pkg/envelope"
	"chatrelay/pkg/journal"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/points"
	"chatrelay/pkg/transport"
)

// Options configures a Session.
type Options struct {
	BaseURL string
	Token   string

	// Sink receives toasts and refresh requests; nil discards them.
	Sink envelope.Sink
	// OnAppend fires for every new message entry (scroll-to-latest).
	OnAppend func(chat.Entry)
	// OnState observes transport status changes (connection indicator).
	OnState func(transport.Status)
	// OnPoints observes balance changes.
	OnPoints func(int)

	// Journal enables local event journaling. journal.Open must have been
	// called by the host process.
	Journal bool

	Config     *config.Config
	HTTPClient *http.Client
}

// Session is one live delivery session.
type Session struct {
	opts  Options
	creds *auth.Store
	api   *backend.Client
	bus   *bus.Bus
	disp  *envelope.Dispatcher

	identity string
	admin    bool

	store  *chat.Store
	points *points.Tracker
	sel    *transport.Selector

	mu          sync.Mutex
	subs        []*bus.Subscription
	selectedKey string // admin: apiKey of the selected session
	lastSeen    int64  // highest message id observed by polling
	closed      bool
}

// refreshSink wraps the caller's sink so RefreshUser lands on the points
// tracker's authoritative refetch path.
type refreshSink struct {
	inner envelope.Sink
	s     *Session
}

func (r refreshSink) Toast(msg string) { r.inner.Toast(msg) }
func (r refreshSink) RefreshUser() {
	r.inner.RefreshUser()
	r.s.refreshUser()
}

// Open authenticates against the backend, resolves the subscriber identity,
// and starts delivery. The returned session owns its transport handle until
// Close.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("client: base URL is required")
	}
	if opts.Sink == nil {
		opts.Sink = envelope.NopSink{}
	}

	creds := auth.NewStore()
	creds.SetToken(opts.Token)
	api := backend.New(opts.BaseURL, opts.Token, opts.HTTPClient)

	s := &Session{
		opts:  opts,
		creds: creds,
		api:   api,
		bus:   bus.New(),
	}

	var apiKey string
	if opts.Token != "" {
		user, err := api.CurrentUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("client: authentication failed: %w", err)
		}
		creds.SetUser(user)
		apiKey = user.APIKey
		identity, err := creds.Identity()
		if err != nil {
			return nil, err
		}
		s.identity = identity
		s.admin = identity == models.AdminIdentity
		s.points = points.NewTracker(user.Points, api, opts.OnPoints)
	} else {
		// anonymous sessions poll public state only
		s.identity = "anonymous"
		s.points = points.NewTracker(0, api, opts.OnPoints)
	}

	self := s.identity
	if s.admin {
		apiKey = "" // the admin store is scoped by SelectSession
	}
	s.store = chat.NewStore(self, apiKey, opts.OnAppend)
	s.disp = envelope.NewDispatcher(s.bus, refreshSink{inner: opts.Sink, s: s})

	s.subs = append(s.subs,
		s.bus.Subscribe(bus.TopicChatMessage, func(payload any) {
			if ev, ok := payload.(*envelope.ChatEvent); ok {
				s.store.Ingest(ev)
			}
		}),
		s.bus.Subscribe(bus.TopicPointsUpdate, func(payload any) {
			if pu, ok := payload.(*models.PointsUpdate); ok {
				s.points.Apply(*pu)
			}
		}),
	)

	retryThreshold, baseDelay, maxDelay, pollEvery := config.DefaultRetryThreshold,
		config.DefaultRetryBaseDelay, config.DefaultRetryMaxDelay, config.DefaultPollInterval
	if opts.Config != nil {
		retryThreshold = opts.Config.RetryThreshold()
		baseDelay = opts.Config.RetryBaseDelay()
		maxDelay = opts.Config.RetryMaxDelay()
		pollEvery = opts.Config.PollInterval()
	}

	sel, err := transport.NewSelector(transport.Options{
		BaseURL:        opts.BaseURL,
		Identity:       s.identity,
		Token:          opts.Token,
		RetryThreshold: retryThreshold,
		RetryBaseDelay: baseDelay,
		RetryMaxDelay:  maxDelay,
		PollInterval:   pollEvery,
		HTTPClient:     opts.HTTPClient,
		Fetch:          s.pollFetch,
		OnEvent:        s.handleEvent,
		OnError: func(err error) {
			logger.Warn("transport_error", "identity", s.identity, "error", err)
		},
		OnStateChange: func(st transport.Status) {
			if opts.OnState != nil {
				opts.OnState(st)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	s.sel = sel

	if err := sel.Start(ctx); err != nil {
		return nil, err
	}
	logger.Info("session_opened", "identity", s.identity, "admin", s.admin)
	return s, nil
}

// handleEvent is the single entry point for inbound events from either
// transport mode: journal first (best effort), then dispatch.
func (s *Session) handleEvent(ev envelope.Event) {
	if s.opts.Journal && journal.Ready() {
		if err := journal.Append(s.identity, ev); err != nil {
			logger.Warn("journal_append_skipped", "error", err)
		}
	}
	s.disp.Dispatch(ev)
}

// refreshUser refetches the user record and reseeds the balance.
func (s *Session) refreshUser() {
	if s.creds.Token() == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		u, err := s.api.CurrentUser(ctx)
		if err != nil {
			logger.Warn("user_refresh_failed", "error", err)
			return
		}
		s.creds.SetUser(u)
		s.points.Seed(u.Points)
	}()
}

// pollFetch is the degraded-mode pull pass: it diffs backend state against
// what the session already saw and synthesizes the events push would have
// delivered. Poll order may differ from push order; the store dedups.
func (s *Session) pollFetch(ctx context.Context) ([]envelope.Event, error) {
	var out []envelope.Event

	if s.creds.Token() != "" {
		u, err := s.api.CurrentUser(ctx)
		if err != nil {
			return nil, err
		}
		if prev := s.points.Balance(); u.Points != prev {
			pu := models.PointsUpdate{Message: "points balance updated", NewPoints: u.Points}
			if b, err := json.Marshal(pu); err == nil {
				out = append(out, envelope.Event{Type: envelope.TypePointsUpdate, Data: string(b)})
			}
		}
		s.creds.SetUser(u)
	}

	apiKey := s.sessionKey()
	if apiKey != "" {
		msgs, err := s.api.ChatHistory(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		last := s.lastSeen
		for _, m := range msgs {
			if m.ID <= last {
				continue
			}
			if m.ID > s.lastSeen {
				s.lastSeen = m.ID
			}
			ev := envelope.ChatEvent{Type: envelope.TypeNewMessage, ChatMessage: m}
			if b, err := json.Marshal(ev); err == nil {
				out = append(out, envelope.Event{Type: envelope.TypeChatMessage, Data: string(b)})
			}
		}
		s.mu.Unlock()
	}
	return out, nil
}

// sessionKey returns the apiKey of the session the chat store is scoped to.
func (s *Session) sessionKey() string {
	if u := s.creds.User(); u != nil && !s.admin {
		return u.APIKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedKey
}

// Send posts one message for the current session and records the optimistic
// echo. The backend's assigned id, when echoed, is attached immediately so
// the delivered copy dedups by id.
func (s *Session) Send(ctx context.Context, receiver, content string) (chat.Entry, error) {
	apiKey := s.sessionKey()
	if apiKey == "" {
		return chat.Entry{}, fmt.Errorf("client: no session selected")
	}
	resp, err := s.api.SendMessage(ctx, backend.SendMessageRequest{
		APIKey:   apiKey,
		Receiver: receiver,
		Content:  content,
	})
	if err != nil {
		return chat.Entry{}, err
	}
	m := models.ChatMessage{
		APIKey:      apiKey,
		Sender:      s.identity,
		Receiver:    receiver,
		Content:     content,
		MessageType: "text",
	}
	if resp != nil {
		m = *resp
	}
	return s.store.AppendLocalEcho(m), nil
}

// LoadHistory fetches and installs the current session's message history.
func (s *Session) LoadHistory(ctx context.Context) error {
	apiKey := s.sessionKey()
	if apiKey == "" {
		return fmt.Errorf("client: no session selected")
	}
	msgs, err := s.api.ChatHistory(ctx, apiKey)
	if err != nil {
		return err
	}
	s.store.LoadHistory(msgs)
	s.mu.Lock()
	for _, m := range msgs {
		if m.ID > s.lastSeen {
			s.lastSeen = m.ID
		}
	}
	s.mu.Unlock()
	return nil
}

// SelectSession switches the admin view to the given session.
func (s *Session) SelectSession(ctx context.Context, apiKey string) error {
	if !s.admin {
		return fmt.Errorf("client: only the admin session multiplexes")
	}
	msgs, err := s.api.ChatHistory(ctx, apiKey)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.selectedKey = apiKey
	for _, m := range msgs {
		if m.ID > s.lastSeen {
			s.lastSeen = m.ID
		}
	}
	s.mu.Unlock()
	s.store.SelectSession(apiKey, msgs)
	return s.api.MarkRead(ctx, apiKey)
}

// MarkRead clears unread state locally and on the backend.
func (s *Session) MarkRead(ctx context.Context) error {
	apiKey := s.sessionKey()
	if apiKey == "" {
		return nil
	}
	s.store.MarkRead()
	return s.api.MarkRead(ctx, apiKey)
}

// Sessions lists all chat sessions; admin only.
func (s *Session) Sessions(ctx context.Context) ([]models.ChatSession, error) {
	if !s.admin {
		return nil, fmt.Errorf("client: admin only")
	}
	return s.api.ListSessions(ctx)
}

// Bus exposes the session bus for additional consumers.
func (s *Session) Bus() *bus.Bus { return s.bus }

// Store exposes the message store.
func (s *Session) Store() *chat.Store { return s.store }

// Points exposes the balance tracker.
func (s *Session) Points() *points.Tracker { return s.points }

// Transport exposes the selector status for indicators and tests.
func (s *Session) Transport() transport.Status { return s.sel.Status() }

// Identity returns the subscriber identity this session is bound to.
func (s *Session) Identity() string { return s.identity }

// Close tears the session down: transport handle, reconcile timer, bus
// subscriptions. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	err := s.sel.Close()
	s.points.Close()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	s.bus.Close()
	logger.Info("session_closed", "identity", s.identity)
	return err
}
