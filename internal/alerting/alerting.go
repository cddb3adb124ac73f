package alerting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatterfix/internal/events"

	"github.com/google/uuid"
)

// AlertLevel represents the severity level of an alert
type AlertLevel int

const (
	InfoAlert AlertLevel = iota
	WarningAlert
	ErrorAlert
	CriticalAlert
)

// String returns the string representation of AlertLevel
func (l AlertLevel) String() string {
	switch l {
	case InfoAlert:
		return "INFO"
	case WarningAlert:
		return "WARNING"
	case ErrorAlert:
		return "ERROR"
	case CriticalAlert:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func (l AlertLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Alert represents a raised alert
type Alert struct {
	ID          string                 `json:"id"`
	RuleID      string                 `json:"rule_id"`
	Level       AlertLevel             `json:"level"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Resolved    bool                   `json:"resolved"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
}

// AlertRule represents a rule for generating alerts.
// When GroupBy names an event data field, the cooldown applies per distinct value of that field.
type AlertRule struct {
	ID          string
	Name        string
	Description string
	EventType   events.EventType
	Condition   AlertCondition
	Level       AlertLevel
	Cooldown    time.Duration
	GroupBy     string
}

// AlertCondition is a function that evaluates whether an alert should be triggered
type AlertCondition func(event events.Event, state *State) bool

// AlertHandler is a function that handles an alert
type AlertHandler func(alert Alert)

// State tracks recent events for frequency conditions
type State struct {
	mutex      sync.RWMutex
	counts     map[events.EventType]int64
	timestamps map[events.EventType][]time.Time
	window     time.Duration
}

func newState(window time.Duration) *State {
	return &State{
		counts:     make(map[events.EventType]int64),
		timestamps: make(map[events.EventType][]time.Time),
		window:     window,
	}
}

func (s *State) record(event events.Event) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.counts[event.Type]++
	cutoff := event.Timestamp.Add(-s.window)
	kept := s.timestamps[event.Type][:0]
	for _, ts := range s.timestamps[event.Type] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.timestamps[event.Type] = append(kept, event.Timestamp)
}

// CountSince returns how many events of eventType were seen after t within the tracked window
func (s *State) CountSince(eventType events.EventType, t time.Time) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	n := 0
	for _, ts := range s.timestamps[eventType] {
		if ts.After(t) {
			n++
		}
	}
	return n
}

// Total returns how many events of eventType were ever processed
func (s *State) Total(eventType events.EventType) int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.counts[eventType]
}

// System manages alert rules and generated alerts
type System struct {
	mutex         sync.RWMutex
	rules         []AlertRule
	lastTriggered map[string]time.Time
	alerts        []Alert
	handlers      []AlertHandler
	state         *State
	maxAlerts     int
	now           func() time.Time
}

// NewSystem creates a new alerting system
func NewSystem(maxAlerts int) *System {
	if maxAlerts <= 0 {
		maxAlerts = 1000
	}
	return &System{
		lastTriggered: make(map[string]time.Time),
		alerts:        make([]Alert, 0),
		maxAlerts:     maxAlerts,
		state:         newState(time.Hour),
		now:           time.Now,
	}
}

// RegisterRule registers an alert rule, replacing any rule with the same ID
func (a *System) RegisterRule(rule AlertRule) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for i := range a.rules {
		if a.rules[i].ID == rule.ID {
			a.rules[i] = rule
			return
		}
	}
	a.rules = append(a.rules, rule)
}

// Rules returns the registered rules sorted by ID
func (a *System) Rules() []AlertRule {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	out := append([]AlertRule(nil), a.rules...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegisterHandler registers an alert handler
func (a *System) RegisterHandler(handler AlertHandler) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.handlers = append(a.handlers, handler)
}

func (a *System) Name() string { return "alerting" }

// Handle lets the alerting system subscribe to the event bus
func (a *System) Handle(_ context.Context, event events.Event) error {
	a.ProcessEvent(event)
	return nil
}

// ProcessEvent evaluates rules against an event and returns the alerts it raised
func (a *System) ProcessEvent(event events.Event) []Alert {
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}
	a.state.record(event)

	a.mutex.Lock()
	now := a.now()
	var raised []Alert
	for _, rule := range a.rules {
		if rule.EventType != "" && rule.EventType != event.Type {
			continue
		}

		group := ""
		if rule.GroupBy != "" {
			group = fmt.Sprint(event.Data[rule.GroupBy])
		}
		cooldownKey := rule.ID + "|" + group
		if last, ok := a.lastTriggered[cooldownKey]; ok && now.Sub(last) < rule.Cooldown {
			continue
		}

		if rule.Condition != nil && !rule.Condition(event, a.state) {
			continue
		}

		title := rule.Name
		if group != "" {
			title = fmt.Sprintf("%s: %s", rule.Name, group)
		}
		alert := Alert{
			ID:          uuid.NewString(),
			RuleID:      rule.ID,
			Level:       rule.Level,
			Title:       title,
			Description: rule.Description,
			Source:      string(event.Type),
			Timestamp:   now,
			Data:        event.Data,
		}

		a.alerts = append(a.alerts, alert)
		if len(a.alerts) > a.maxAlerts {
			a.alerts = a.alerts[len(a.alerts)-a.maxAlerts:]
		}
		a.lastTriggered[cooldownKey] = now
		raised = append(raised, alert)
	}
	handlers := append([]AlertHandler(nil), a.handlers...)
	a.mutex.Unlock()

	for _, alert := range raised {
		for _, handler := range handlers {
			handler(alert)
		}
	}
	return raised
}

// GetAlerts returns all alerts, newest last
func (a *System) GetAlerts() []Alert {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	alerts := make([]Alert, len(a.alerts))
	copy(alerts, a.alerts)
	return alerts
}

// GetActiveAlerts returns all active (unresolved) alerts
func (a *System) GetActiveAlerts() []Alert {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	activeAlerts := make([]Alert, 0)
	for _, alert := range a.alerts {
		if !alert.Resolved {
			activeAlerts = append(activeAlerts, alert)
		}
	}
	return activeAlerts
}

// ResolveAlert resolves an alert
func (a *System) ResolveAlert(alertID string) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for i := range a.alerts {
		if a.alerts[i].ID == alertID && !a.alerts[i].Resolved {
			now := a.now()
			a.alerts[i].Resolved = true
			a.alerts[i].ResolvedAt = &now
			return true
		}
	}
	return false
}

// ClearResolved drops resolved alerts and returns how many were removed
func (a *System) ClearResolved() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	kept := a.alerts[:0]
	for _, alert := range a.alerts {
		if !alert.Resolved {
			kept = append(kept, alert)
		}
	}
	removed := len(a.alerts) - len(kept)
	a.alerts = kept
	return removed
}

// Common alert conditions

// Always triggers for every matching event
func Always() AlertCondition {
	return func(events.Event, *State) bool { return true }
}

// FieldEquals triggers when event data key formats to value
func FieldEquals(key, value string) AlertCondition {
	return func(event events.Event, _ *State) bool {
		v, ok := event.Data[key]
		return ok && fmt.Sprint(v) == value
	}
}

// FieldBool triggers when event data key is the boolean want
func FieldBool(key string, want bool) AlertCondition {
	return func(event events.Event, _ *State) bool {
		v, ok := event.Data[key].(bool)
		return ok && v == want
	}
}

// ThresholdCondition creates a condition that triggers when a metric crosses a threshold
func ThresholdCondition(metricKey string, threshold float64, isGreaterThan bool) AlertCondition {
	return func(event events.Event, _ *State) bool {
		value, ok := event.Data[metricKey]
		if !ok {
			return false
		}

		var floatValue float64
		switch v := value.(type) {
		case float64:
			floatValue = v
		case float32:
			floatValue = float64(v)
		case int:
			floatValue = float64(v)
		case int64:
			floatValue = float64(v)
		default:
			return false
		}

		if isGreaterThan {
			return floatValue > threshold
		}
		return floatValue < threshold
	}
}

// EventFrequencyCondition triggers when at least count events of the same type arrived within window
func EventFrequencyCondition(count int, window time.Duration) AlertCondition {
	return func(event events.Event, state *State) bool {
		return state.CountSince(event.Type, event.Timestamp.Add(-window)) >= count
	}
}

// DefaultRules are the maintenance alert rules registered at startup
func DefaultRules() []AlertRule {
	return []AlertRule{
		{
			ID:          "service-down",
			Name:        "Service down",
			Description: "A monitored service failed its health check repeatedly",
			EventType:   events.MonitorTargetDown,
			Condition:   Always(),
			Level:       CriticalAlert,
			Cooldown:    5 * time.Minute,
			GroupBy:     "target",
		},
		{
			ID:          "recovery-failed",
			Name:        "Automatic recovery failed",
			Description: "The restart command for a down service did not succeed",
			EventType:   events.MonitorRecoveryAttempted,
			Condition:   FieldBool("success", false),
			Level:       ErrorAlert,
			Cooldown:    5 * time.Minute,
			GroupBy:     "target",
		},
		{
			ID:          "low-stock",
			Name:        "Part below reorder point",
			Description: "On-hand quantity is at or below the minimum",
			EventType:   events.PartLowStock,
			Condition:   Always(),
			Level:       WarningAlert,
			Cooldown:    time.Hour,
			GroupBy:     "part_number",
		},
		{
			ID:          "critical-work-order",
			Name:        "Critical work order",
			Description: "A critical priority work order was created",
			EventType:   events.WorkOrderCreated,
			Condition:   FieldEquals("priority", "critical"),
			Level:       WarningAlert,
			GroupBy:     "id",
		},
		{
			ID:          "work-order-surge",
			Name:        "Work order surge",
			Description: "Ten or more work orders were created within 15 minutes",
			EventType:   events.WorkOrderCreated,
			Condition:   EventFrequencyCondition(10, 15*time.Minute),
			Level:       WarningAlert,
			Cooldown:    30 * time.Minute,
		},
		{
			ID:          "host-cpu-high",
			Name:        "Host CPU saturated",
			Description: "CPU usage on the service host is above 90%",
			EventType:   events.SystemEvent,
			Condition:   ThresholdCondition("cpu_percent", 90, true),
			Level:       WarningAlert,
			Cooldown:    15 * time.Minute,
		},
		{
			ID:          "host-memory-high",
			Name:        "Host memory saturated",
			Description: "Memory usage on the service host is above 90%",
			EventType:   events.SystemEvent,
			Condition:   ThresholdCondition("memory_percent", 90, true),
			Level:       WarningAlert,
			Cooldown:    15 * time.Minute,
		},
	}
}
