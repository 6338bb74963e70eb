package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"chatrelay/pkg/envelope"
	"chatrelay/pkg/logger"
)

// StreamURL builds the push endpoint for an identity. The stream protocol
// cannot carry custom headers, so the bearer token rides the query string.
func StreamURL(base, identity, token string) string {
	return fmt.Sprintf("%s/notifications/connect/%s?token=%s",
		strings.TrimRight(base, "/"), url.PathEscape(identity), url.QueryEscape(token))
}

// Stream is one open server-sent event connection.
type Stream struct {
	resp   *http.Response
	rd     *bufio.Reader
	cancel context.CancelFunc
}

// DialStream opens the push stream for identity. The returned Stream must be
// closed by the caller; cancelling ctx also tears it down.
func DialStream(ctx context.Context, client *http.Client, base, identity, token string) (*Stream, error) {
	if client == nil {
		client = http.DefaultClient
	}
	sctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(sctx, http.MethodGet, StreamURL(base, identity, token), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream dial failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream dial failed: status %d", resp.StatusCode)
	}
	logger.Info("sse_stream_opened", "identity", identity)
	return &Stream{resp: resp, rd: bufio.NewReader(resp.Body), cancel: cancel}, nil
}

// Recv blocks until the next complete event arrives, the stream errors, or
// the stream is closed. Events with no data lines (keep-alives) are skipped.
func (s *Stream) Recv() (envelope.Event, error) {
	var evType string
	var data []string
	for {
		line, err := s.rd.ReadString('\n')
		if err != nil {
			return envelope.Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if len(data) > 0 {
				return normalizeEvent(evType, strings.Join(data, "\n")), nil
			}
			evType = ""
			data = nil
		case strings.HasPrefix(line, ":"):
			// comment / heartbeat
		case strings.HasPrefix(line, "event:"):
			evType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

// Close tears the stream down. Safe to call concurrently with Recv, which
// will return an error shortly after.
func (s *Stream) Close() error {
	s.cancel()
	return s.resp.Body.Close()
}

// normalizeEvent maps the wire event name onto the envelope type set.
// Chat messages arrive as default (unnamed) events; the nested type tag in
// the payload decides whether such an event is chat traffic. Only the tag is
// peeked here — full payload parsing happens once, in the dispatcher.
func normalizeEvent(evType, data string) envelope.Event {
	if evType == "" || evType == "message" {
		var tag struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(data), &tag); err == nil {
			if tag.Type == envelope.TypeNewMessage || tag.Type == envelope.TypeChatMessage {
				return envelope.Event{Type: envelope.TypeChatMessage, Data: data}
			}
			if tag.Type != "" {
				return envelope.Event{Type: tag.Type, Data: data}
			}
		}
		return envelope.Event{Type: "message", Data: data}
	}
	return envelope.Event{Type: evType, Data: data}
}
