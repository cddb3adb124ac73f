// Package events fans domain events out to the dashboard, the alerting
// rules, the knowledge index and, optionally, Kafka.
package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents different types of events that can be produced
type EventType string

const (
	WorkOrderCreated   EventType = "work_order.created"
	WorkOrderUpdated   EventType = "work_order.updated"
	WorkOrderCompleted EventType = "work_order.completed"
	WorkOrderDeleted   EventType = "work_order.deleted"

	AssetCreated EventType = "asset.created"
	AssetUpdated EventType = "asset.updated"
	AssetDeleted EventType = "asset.deleted"

	PartAdjusted EventType = "part.adjusted"
	PartLowStock EventType = "part.low_stock"

	ScheduleTriggered EventType = "schedule.triggered"

	MonitorTargetDown        EventType = "monitor.target_down"
	MonitorTargetRecovered   EventType = "monitor.target_recovered"
	MonitorRecoveryAttempted EventType = "monitor.recovery_attempted"

	AutonomyAction EventType = "autonomy.action"

	SystemEvent EventType = "system"
)

// Event represents a domain event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	User      string                 `json:"user,omitempty"`
}

// New builds an event with a fresh ID and timestamp.
func New(eventType EventType, source string, data map[string]interface{}) Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      data,
	}
}

// Publisher is what producers of events depend on.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Sink consumes published events.
type Sink interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, event Event) error
}

func (f SinkFunc) Name() string { return f.SinkName }

func (f SinkFunc) Handle(ctx context.Context, event Event) error { return f.Fn(ctx, event) }

// Bus delivers every event to all sinks in registration order and keeps
// the most recent events for the dashboard.
type Bus struct {
	mu        sync.RWMutex
	sinks     []Sink
	recent    []Event
	maxRecent int
}

func NewBus(maxRecent int) *Bus {
	if maxRecent < 1 {
		maxRecent = 100
	}
	return &Bus{maxRecent: maxRecent}
}

// Subscribe registers a sink.
func (b *Bus) Subscribe(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Publish delivers event to every sink. Sink failures are logged and do not
// stop delivery to the remaining sinks.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	if len(b.recent) >= b.maxRecent {
		b.recent = b.recent[1:]
	}
	b.recent = append(b.recent, event)
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Handle(ctx, event); err != nil {
			log.Printf("⚠️  Event sink %s failed for %s: %v", sink.Name(), event.Type, err)
		}
	}
}

// Recent returns up to n of the latest events, newest last.
func (b *Bus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.recent) {
		n = len(b.recent)
	}
	out := make([]Event, n)
	copy(out, b.recent[len(b.recent)-n:])
	return out
}
