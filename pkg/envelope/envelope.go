// Package envelope normalizes raw transport payloads into typed events and
// classifies them for dispatch. Whatever component first observes a raw
// event parses its data exactly once; everything downstream receives the
// parsed form.
package envelope

import (
	"encoding/json"
	"fmt"

	"chatrelay/pkg/models"
)

// Event types delivered over the notification stream. Anything else falls
// through to the unknown branch of the dispatcher.
const (
	TypeConnection   = "connection"
	TypeNotification = "notification"
	TypePointsUpdate = "points_update"
	TypeChatMessage  = "chat_message"

	// TypeNewMessage is the nested type field inside a chat_message payload.
	TypeNewMessage = "new_message"
)

// Event is one raw inbound transport event: a type tag plus the payload
// exactly as the transport delivered it.
type Event struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ChatEvent is the parsed payload of a chat_message event. The message
// fields arrive inline next to the nested type tag.
type ChatEvent struct {
	Type string `json:"type"`
	models.ChatMessage
}

// ParseChat decodes a chat_message payload. The payload is sometimes
// delivered double-encoded (a JSON string containing JSON); one unwrap is
// attempted before giving up.
func ParseChat(data string) (*ChatEvent, error) {
	var ev ChatEvent
	if err := json.Unmarshal([]byte(data), &ev); err == nil && ev.Type != "" {
		return &ev, nil
	}
	var inner string
	if err := json.Unmarshal([]byte(data), &inner); err == nil {
		var ev2 ChatEvent
		if err := json.Unmarshal([]byte(inner), &ev2); err == nil {
			return &ev2, nil
		}
	}
	return nil, fmt.Errorf("malformed chat payload: %.64q", data)
}

// ParsePoints decodes a points_update payload.
func ParsePoints(data string) (*models.PointsUpdate, error) {
	var pu models.PointsUpdate
	if err := json.Unmarshal([]byte(data), &pu); err != nil {
		return nil, fmt.Errorf("malformed points payload: %w", err)
	}
	return &pu, nil
}
