package envelope

import (
	"chatrelay/pkg/bus"
	"chatrelay/pkg/logger"
)

// Sink receives the user-facing side effects of classification: transient
// toasts and requests for an authoritative user refetch. UI-less consumers
// (and tests) supply their own implementation.
type Sink interface {
	// Toast surfaces a transient, non-blocking message.
	Toast(message string)
	// RefreshUser triggers an authoritative refetch of the user record
	// (points included) from the backend.
	RefreshUser()
}

// NopSink discards all side effects.
type NopSink struct{}

func (NopSink) Toast(string) {}
func (NopSink) RefreshUser() {}

// Dispatcher classifies normalized events and fans the chat-relevant ones
// out on the bus. The dispatcher owns the parse-once contract for
// chat_message payloads: consumers subscribed to bus.TopicChatMessage always
// receive an already-parsed *ChatEvent.
type Dispatcher struct {
	bus  *bus.Bus
	sink Sink
}

// NewDispatcher wires a dispatcher to the session bus and sink.
func NewDispatcher(b *bus.Bus, sink Sink) *Dispatcher {
	if sink == nil {
		sink = NopSink{}
	}
	return &Dispatcher{bus: b, sink: sink}
}

// Dispatch routes one inbound event. Transport errors never reach here;
// parse failures are logged and the event is dropped, by design losing it.
func (d *Dispatcher) Dispatch(ev Event) {
	switch ev.Type {
	case TypeConnection:
		d.sink.Toast("realtime notifications connected")
		d.bus.Publish(bus.TopicConnection, ev.Data)

	case TypeNotification:
		d.sink.Toast(ev.Data)
		// a plain notification may accompany a balance change; refetch to
		// be safe
		d.sink.RefreshUser()
		d.bus.Publish(bus.TopicNotification, ev.Data)

	case TypePointsUpdate:
		pu, err := ParsePoints(ev.Data)
		if err != nil {
			logger.Error("points_update_parse_failed", "error", err)
			// fall back to showing the raw payload and refetching
			d.sink.Toast(ev.Data)
			d.sink.RefreshUser()
			return
		}
		d.sink.Toast(pu.Message)
		d.bus.Publish(bus.TopicPointsUpdate, pu)

	case TypeChatMessage:
		msg, err := ParseChat(ev.Data)
		if err != nil {
			logger.Error("chat_message_parse_failed", "error", err)
			return
		}
		d.bus.Publish(bus.TopicChatMessage, msg)

	default:
		if ev.Data != "" {
			// unknown types may still carry something important; surface it
			// and treat it as "something changed"
			d.sink.Toast(ev.Data)
			d.sink.RefreshUser()
		}
	}
}
