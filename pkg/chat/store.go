// Package chat holds the per-session message list and its deduplication
// policy: an optimistic local echo of a just-sent message and the delivered
// copy arriving later over the transport must collapse into one entry.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/pkg/envelope"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

// raceWindow bounds the defensive sender+content match used when the
// delivered copy races the optimistic echo before ids can line up.
const raceWindow = 5 * time.Second

// Entry is one list element: the message plus a stable local key for
// presentation identity while the backend id is still unknown.
type Entry struct {
	LocalKey string
	models.ChatMessage
	Optimistic bool
}

// Store is the ordered message list for the currently open session.
// Appends happen in arrival order and the list is never re-sorted. When a
// consumer multiplexes sessions (the admin inbox), SelectSession scopes the
// list to one apiKey; deliveries for other sessions only feed their unread
// counters.
type Store struct {
	mu       sync.Mutex
	self     string // own identity: user phone, or "admin"
	apiKey   string // selected session scope; empty accepts everything
	entries  []Entry
	unread   map[string]int // per-session unread, keyed by apiKey
	onAppend func(Entry)    // scroll-to-latest signal
}

// NewStore returns a store for the given own identity scoped to apiKey.
// onAppend fires after every successful append and may be nil.
func NewStore(self, apiKey string, onAppend func(Entry)) *Store {
	return &Store{self: self, apiKey: apiKey, unread: map[string]int{}, onAppend: onAppend}
}

// LoadHistory replaces the list with a fetched history snapshot.
func (s *Store) LoadHistory(msgs []models.ChatMessage) {
	s.mu.Lock()
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, Entry{LocalKey: uuid.NewString(), ChatMessage: m})
	}
	s.entries = entries
	s.mu.Unlock()
}

// SelectSession switches the admin view to another session: the list is
// replaced by that session's history and its unread counter clears.
func (s *Store) SelectSession(apiKey string, history []models.ChatMessage) {
	s.mu.Lock()
	s.apiKey = apiKey
	delete(s.unread, apiKey)
	s.mu.Unlock()
	s.LoadHistory(history)
}

// AppendLocalEcho records the optimistic copy of a just-sent message. When
// the backend echoed an assigned id it is used as-is; otherwise the entry
// keeps ID 0 and relies on the race-window match for reconciliation.
func (s *Store) AppendLocalEcho(m models.ChatMessage) Entry {
	if m.CreatedAt == "" {
		now := time.Now().UTC().Format(time.RFC3339)
		m.CreatedAt = now
		m.UpdatedAt = now
	}
	if m.MessageType == "" {
		m.MessageType = "text"
	}
	e := Entry{LocalKey: uuid.NewString(), ChatMessage: m, Optimistic: true}
	s.mu.Lock()
	s.entries = append(s.entries, e)
	cb := s.onAppend
	s.mu.Unlock()
	if cb != nil {
		cb(e)
	}
	return e
}

// Ingest applies a delivered chat event. It reports whether a new entry was
// appended; a duplicate (by id, or by the defensive sender+content match
// against a recent optimistic echo) is absorbed without growing the list.
func (s *Store) Ingest(ev *envelope.ChatEvent) bool {
	if ev == nil || (ev.Type != envelope.TypeNewMessage && ev.Type != "") {
		return false
	}
	m := ev.ChatMessage
	if m.MessageType == "" {
		m.MessageType = "text"
	}

	s.mu.Lock()

	// admin multiplexing: deliveries for unselected sessions only bump
	// that session's unread counter
	if s.apiKey != "" && m.APIKey != s.apiKey {
		if m.Receiver == s.self {
			s.unread[m.APIKey]++
		}
		s.mu.Unlock()
		return false
	}

	// already delivered
	if m.ID != 0 {
		for _, e := range s.entries {
			if e.ID == m.ID {
				s.mu.Unlock()
				return false
			}
		}
	}

	// delivered copy of our own optimistic echo: adopt the backend id
	// instead of appending a twin
	for i := range s.entries {
		e := &s.entries[i]
		if e.Optimistic && e.Sender == m.Sender && e.Content == m.Content && withinRaceWindow(e.CreatedAt, m.CreatedAt) {
			e.ID = m.ID
			e.Optimistic = false
			if m.CreatedAt != "" {
				e.CreatedAt = m.CreatedAt
				e.UpdatedAt = m.CreatedAt
			}
			s.mu.Unlock()
			logger.Debug("chat_echo_reconciled", "id", m.ID, "sender", m.Sender)
			return false
		}
	}

	entry := Entry{LocalKey: uuid.NewString(), ChatMessage: m}
	s.entries = append(s.entries, entry)
	if m.Receiver == s.self {
		s.unread[m.APIKey]++
	}
	cb := s.onAppend
	s.mu.Unlock()

	if cb != nil {
		cb(entry)
	}
	return true
}

// Messages returns a copy of the current list in arrival order.
func (s *Store) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Unread returns the unread count for the selected session.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[s.apiKey]
}

// UnreadFor returns the unread count of an arbitrary session (admin view).
func (s *Store) UnreadFor(apiKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[apiKey]
}

// MarkRead clears the selected session's unread counter. The backing REST
// call is the caller's responsibility.
func (s *Store) MarkRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unread, s.apiKey)
}

// withinRaceWindow reports whether two RFC3339-ish timestamps are close
// enough to represent the same logical message. Unparseable timestamps are
// treated as "now", which keeps a fresh echo matchable against a delivered
// copy with an exotic timestamp format.
func withinRaceWindow(a, b string) bool {
	ta := parseTime(a)
	tb := parseTime(b)
	d := ta.Sub(tb)
	if d < 0 {
		d = -d
	}
	return d <= raceWindow
}

func parseTime(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
