// Package events provides the in-process event bus connecting the control
// loop and executor to notifications, metrics, and API observers.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventPositionOpened    EventType = "POSITION_OPENED"
	EventPositionClosed    EventType = "POSITION_CLOSED"
	EventPositionFailed    EventType = "POSITION_FAILED"
	EventExitTriggered     EventType = "EXIT_TRIGGERED"
	EventExitAttempted     EventType = "EXIT_ATTEMPTED"
	EventEmergencyStop     EventType = "EMERGENCY_STOP"
	EventCommandReceived   EventType = "COMMAND_RECEIVED"
	EventCommandDropped    EventType = "COMMAND_DROPPED"
	EventEndpointDegraded  EventType = "ENDPOINT_DEGRADED"
	EventEndpointRecovered EventType = "ENDPOINT_RECOVERED"
	EventStoreUnavailable  EventType = "STORE_UNAVAILABLE"
	EventStrategyPaused    EventType = "STRATEGY_PAUSED"
	EventTickCompleted     EventType = "TICK_COMPLETED"
	EventError             EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishExitTriggered publishes a decision-engine exit intent
func (eb *EventBus) PublishExitTriggered(mint, reason, detail string, pnlPercent float64) {
	eb.Publish(Event{
		Type: EventExitTriggered,
		Data: map[string]interface{}{
			"mint":        mint,
			"reason":      reason,
			"detail":      detail,
			"pnl_percent": pnlPercent,
		},
	})
}

// PublishExitAttempted publishes a single exit submission result
func (eb *EventBus) PublishExitAttempted(mint string, attempt int, tipLamports uint64, result string) {
	eb.Publish(Event{
		Type: EventExitAttempted,
		Data: map[string]interface{}{
			"mint":         mint,
			"attempt":      attempt,
			"tip_lamports": tipLamports,
			"result":       result,
		},
	})
}

// PublishPositionClosed publishes a confirmed position close
func (eb *EventBus) PublishPositionClosed(mint, reason string, entryPrice, exitPrice, pnlPercent float64) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"mint":        mint,
			"reason":      reason,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"pnl_percent": pnlPercent,
		},
	})
}

// PublishPositionFailed publishes an exit that exhausted its retries
func (eb *EventBus) PublishPositionFailed(mint, reason string, attempts int) {
	eb.Publish(Event{
		Type: EventPositionFailed,
		Data: map[string]interface{}{
			"mint":     mint,
			"reason":   reason,
			"attempts": attempts,
		},
	})
}

// PublishEmergencyStop publishes an emergency stop sweep
func (eb *EventBus) PublishEmergencyStop(source string, openPositions int) {
	eb.Publish(Event{
		Type: EventEmergencyStop,
		Data: map[string]interface{}{
			"source":         source,
			"open_positions": openPositions,
		},
	})
}

// PublishCommandReceived publishes an accepted external command
func (eb *EventBus) PublishCommandReceived(id, action, mint, source string) {
	eb.Publish(Event{
		Type: EventCommandReceived,
		Data: map[string]interface{}{
			"id":     id,
			"action": action,
			"mint":   mint,
			"source": source,
		},
	})
}

// PublishEndpointStateChange publishes an endpoint health change
func (eb *EventBus) PublishEndpointStateChange(name, state string, recovered bool) {
	eventType := EventEndpointDegraded
	if recovered {
		eventType = EventEndpointRecovered
	}
	eb.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"endpoint": name,
			"state":    state,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
