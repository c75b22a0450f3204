package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType enumerates server→client events on the duplex channel.
type EventType string

const (
	EventTyping      EventType = "typing"
	EventMessage     EventType = "message"
	EventSuggestions EventType = "suggestions"
	EventError       EventType = "error"
)

// Event is one wire message to the client.
type Event struct {
	Type        EventType `json:"type"`
	Content     string    `json:"content,omitempty"`
	Timestamp   string    `json:"timestamp,omitempty"`
	Items       []string  `json:"items,omitempty"`
	Description string    `json:"description,omitempty"`
}

// eventSink serializes event emission for one connection, so events for a
// turn always reach the client in emit order.
type eventSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newEventSink(conn *websocket.Conn) *eventSink {
	return &eventSink{conn: conn}
}

func (s *eventSink) emit(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(e)
}

func (s *eventSink) typing() error {
	return s.emit(Event{Type: EventTyping})
}

func (s *eventSink) message(content string, ts time.Time) error {
	return s.emit(Event{Type: EventMessage, Content: content, Timestamp: ts.Format(time.RFC3339)})
}

func (s *eventSink) suggestions(items []string) error {
	return s.emit(Event{Type: EventSuggestions, Items: items})
}

func (s *eventSink) error(description string) error {
	return s.emit(Event{Type: EventError, Description: description})
}
