package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingSucceeded = "booking_succeeded"
	EventBookingFailed    = "booking_failed"
	EventBookingExhausted = "booking_exhausted"
	EventSessionExpired   = "session_expired"
	EventReminderSent     = "reminder_sent"
)

// BookingEventPayload is the minimal attempt snapshot for event consumers.
type BookingEventPayload struct {
	AutoBookingID int64  `json:"auto_booking_id"`
	Username      string `json:"username"`
	ClassName     string `json:"class_name"`
	Date          string `json:"date,omitempty"`
	TimeOfDay     string `json:"time,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	RetryCount    int    `json:"retry_count,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Event is a lightweight in-process domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// PublishJSON marshals the payload and delivers it to all subscribers of the
// type, synchronously and in registration order. Handler errors do not stop
// delivery to later handlers.
func (b *EventBus) PublishJSON(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := &Event{Type: eventType, Payload: data, CreatedAt: time.Now()}

	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[eventType]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		_ = h(event)
	}
	return nil
}
