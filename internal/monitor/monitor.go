// Package monitor polls service health endpoints and restarts services that
// fail FailureThreshold consecutive check cycles.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"chatterfix/internal/config"
	"chatterfix/internal/events"
	"chatterfix/internal/logs"
	"chatterfix/internal/utils"
)

// Status is the health of a monitored target
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Target is a monitored service endpoint
type Target struct {
	Name            string `json:"name"`
	URL             string `json:"url"`
	ExpectedStatus  int    `json:"expected_status"`
	CloudRunService string `json:"cloud_run_service,omitempty"`
	Region          string `json:"region,omitempty"`
	Recovery        string `json:"recovery"`
}

// TargetsFromConfig converts configured targets, applying defaults.
func TargetsFromConfig(cfg []config.TargetConfig) []Target {
	targets := make([]Target, 0, len(cfg))
	for _, tc := range cfg {
		t := Target{
			Name:            tc.Name,
			URL:             tc.URL,
			ExpectedStatus:  tc.ExpectedStatus,
			CloudRunService: tc.CloudRunService,
			Region:          tc.Region,
			Recovery:        tc.Recovery,
		}
		if t.ExpectedStatus == 0 {
			t.ExpectedStatus = http.StatusOK
		}
		if t.Recovery == "" {
			t.Recovery = "none"
		}
		targets = append(targets, t)
	}
	return targets
}

// TargetState is the rolling health record of one target
type TargetState struct {
	Target              Target     `json:"target"`
	Status              Status     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalChecks         int        `json:"total_checks"`
	TotalFailures       int        `json:"total_failures"`
	LastStatusCode      int        `json:"last_status_code,omitempty"`
	LastLatencyMS       int64      `json:"last_latency_ms"`
	LastAttempts        int        `json:"last_attempts"`
	LastError           string     `json:"last_error,omitempty"`
	LastChecked         *time.Time `json:"last_checked,omitempty"`
	Recoveries          int        `json:"recoveries"`
	LastRecovery        *time.Time `json:"last_recovery,omitempty"`
	LastRecoveryError   string     `json:"last_recovery_error,omitempty"`
}

// ProbeResult is the outcome of one probe including retries
type ProbeResult struct {
	StatusCode int
	Latency    time.Duration
	Attempts   int
	Err        error
}

// Monitor runs health checks against its targets
type Monitor struct {
	mu         sync.RWMutex
	enabled    bool
	targets    []Target
	states     map[string]*TargetState
	interval   time.Duration
	timeout    time.Duration
	threshold  int
	policy     utils.RetryPolicy
	recoverers map[string]Recoverer

	client       *http.Client
	publisher    events.Publisher
	logger       *logs.Logger
	sampleSystem func(ctx context.Context) (*SystemMetrics, error)
	now          func() time.Time

	trigger  chan struct{}
	reset    chan time.Duration
	lastRun  time.Time
	running  bool
	runMutex sync.Mutex
}

// NewMonitor creates a monitor from configuration. publisher and logger may be nil.
func NewMonitor(cfg config.MonitorConfig, publisher events.Publisher, logger *logs.Logger) *Monitor {
	m := &Monitor{
		states: make(map[string]*TargetState),
		client: &http.Client{},
		recoverers: map[string]Recoverer{
			"none":   NoopRecoverer{},
			"gcloud": NewCloudRunRestarter(cfg.GCloudProject, cfg.GCloudRegion),
		},
		publisher:    publisher,
		logger:       logger,
		sampleSystem: SystemSnapshot,
		now:          time.Now,
		trigger:      make(chan struct{}, 1),
		reset:        make(chan time.Duration, 1),
	}
	m.apply(cfg)
	return m
}

func (m *Monitor) apply(cfg config.MonitorConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = cfg.Enable
	m.interval = cfg.Interval
	if m.interval <= 0 {
		m.interval = time.Minute
	}
	m.timeout = cfg.Timeout
	if m.timeout <= 0 {
		m.timeout = 10 * time.Second
	}
	m.threshold = cfg.FailureThreshold
	if m.threshold < 1 {
		m.threshold = 3
	}
	m.policy = utils.RetryPolicy{
		MaxRetries:  cfg.MaxRetries,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
	}
	// Swap rather than mutate: a recovery in flight keeps the restarter it started with.
	if restarter, ok := m.recoverers["gcloud"].(*CloudRunRestarter); ok &&
		(restarter.Project != cfg.GCloudProject || restarter.Region != cfg.GCloudRegion) {
		m.recoverers["gcloud"] = restarter.WithLocation(cfg.GCloudProject, cfg.GCloudRegion)
	}

	m.targets = TargetsFromConfig(cfg.Targets)
	keep := make(map[string]*TargetState, len(m.targets))
	for _, t := range m.targets {
		st, ok := m.states[t.Name]
		if !ok {
			st = &TargetState{Status: StatusUnknown}
		}
		st.Target = t
		keep[t.Name] = st
	}
	m.states = keep
}

// SetRecoverer registers or replaces the recoverer used for targets whose Recovery is name.
func (m *Monitor) SetRecoverer(name string, r Recoverer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoverers[name] = r
}

// OnSettingsChanged applies new monitor settings without restarting the loop
func (m *Monitor) OnSettingsChanged(oldSettings, newSettings *config.Config) {
	wasEnabled := m.Enabled()
	m.apply(newSettings.Monitor)
	if !wasEnabled && newSettings.Monitor.Enable {
		m.Trigger()
	}
	if oldSettings == nil || oldSettings.Monitor.Interval != newSettings.Monitor.Interval {
		select {
		case m.reset <- newSettings.Monitor.Interval:
		default:
		}
	}
	log.Printf("🔄 Monitor settings updated: %d target(s), interval %s", len(newSettings.Monitor.Targets), newSettings.Monitor.Interval)
}

// Start runs check cycles until ctx is cancelled. Ticks are skipped while the
// monitor is disabled; manual triggers always run.
func (m *Monitor) Start(ctx context.Context) {
	interval := m.currentInterval()
	if m.Enabled() {
		log.Printf("🩺 Health monitor started (interval %s)", interval)
	} else {
		log.Println("ℹ️  Health monitor idle until enabled in settings")
	}
	m.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Health monitor stopped")
			return
		case d := <-m.reset:
			if d > 0 {
				ticker.Reset(d)
			}
		case <-m.trigger:
			log.Println("⚡ Manual health check triggered")
			m.RunOnce(ctx)
			ticker.Reset(m.currentInterval())
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if m.Enabled() {
		m.RunOnce(ctx)
	}
}

// Enabled reports whether scheduled check cycles run
func (m *Monitor) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

func (m *Monitor) currentInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interval
}

// Trigger asks the running loop for an immediate cycle
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// RunOnce probes every target concurrently and applies the strike policy.
// Overlapping calls are skipped.
func (m *Monitor) RunOnce(ctx context.Context) []TargetState {
	m.runMutex.Lock()
	if m.running {
		m.runMutex.Unlock()
		return m.Snapshot()
	}
	m.running = true
	m.runMutex.Unlock()
	defer func() {
		m.runMutex.Lock()
		m.running = false
		m.runMutex.Unlock()
	}()

	m.mu.RLock()
	targets := append([]Target(nil), m.targets...)
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			m.record(ctx, t, m.Probe(ctx, t))
		}(target)
	}
	wg.Wait()

	m.mu.Lock()
	m.lastRun = m.now()
	m.mu.Unlock()

	if m.sampleSystem != nil {
		if metrics, err := m.sampleSystem(ctx); err == nil {
			m.publish(ctx, events.SystemEvent, metrics.EventData())
		}
	}
	return m.Snapshot()
}

// Probe checks one target, retrying failures per the retry policy.
func (m *Monitor) Probe(ctx context.Context, target Target) ProbeResult {
	m.mu.RLock()
	policy := m.policy
	timeout := m.timeout
	m.mu.RUnlock()

	expected := target.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}

	var result ProbeResult
	attempts, err := utils.Retry(ctx, policy, func() error {
		if _, perr := url.ParseRequestURI(target.URL); perr != nil {
			return utils.Permanent(fmt.Errorf("invalid url: %w", perr))
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, rerr := http.NewRequestWithContext(reqCtx, http.MethodGet, target.URL, nil)
		if rerr != nil {
			return utils.Permanent(rerr)
		}
		req.Header.Set("User-Agent", "chatterfix-monitor/1.0")

		start := time.Now()
		resp, derr := m.client.Do(req)
		result.Latency = time.Since(start)
		if derr != nil {
			result.StatusCode = 0
			return derr
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

		result.StatusCode = resp.StatusCode
		if resp.StatusCode != expected {
			return fmt.Errorf("unexpected status %d (want %d)", resp.StatusCode, expected)
		}
		return nil
	})
	result.Attempts = attempts
	result.Err = err
	return result
}

func (m *Monitor) record(ctx context.Context, target Target, res ProbeResult) {
	now := m.now()

	m.mu.Lock()
	st, ok := m.states[target.Name]
	if !ok {
		st = &TargetState{Target: target, Status: StatusUnknown}
		m.states[target.Name] = st
	}
	st.TotalChecks++
	st.LastChecked = &now
	st.LastStatusCode = res.StatusCode
	st.LastLatencyMS = res.Latency.Milliseconds()
	st.LastAttempts = res.Attempts

	if res.Err == nil {
		wasDown := st.Status == StatusDown
		st.Status = StatusHealthy
		st.ConsecutiveFailures = 0
		st.LastError = ""
		m.mu.Unlock()

		if wasDown {
			log.Printf("✅ %s recovered", target.Name)
			m.publish(ctx, events.MonitorTargetRecovered, map[string]interface{}{
				"target": target.Name,
				"url":    target.URL,
			})
		}
		return
	}

	st.TotalFailures++
	st.ConsecutiveFailures++
	st.LastError = res.Err.Error()
	if st.ConsecutiveFailures < m.threshold {
		if st.Status != StatusDown {
			st.Status = StatusDegraded
		}
		failures, threshold := st.ConsecutiveFailures, m.threshold
		m.mu.Unlock()
		log.Printf("⚠️  %s health check failed (%d/%d): %v", target.Name, failures, threshold, res.Err)
		return
	}

	// Strike limit reached: recover once, then require a fresh strike sequence.
	failures := st.ConsecutiveFailures
	st.Status = StatusDown
	st.ConsecutiveFailures = 0
	recoverer, ok := m.recoverers[target.Recovery]
	if !ok {
		recoverer = NoopRecoverer{}
	}
	m.mu.Unlock()

	log.Printf("🚨 %s is down after %d consecutive failures: %v", target.Name, failures, res.Err)
	m.publish(ctx, events.MonitorTargetDown, map[string]interface{}{
		"target":   target.Name,
		"url":      target.URL,
		"failures": failures,
		"error":    res.Err.Error(),
	})

	rerr := recoverer.Recover(ctx, target)

	recoveredAt := m.now()
	m.mu.Lock()
	st.Recoveries++
	st.LastRecovery = &recoveredAt
	st.LastRecoveryError = ""
	if rerr != nil {
		st.LastRecoveryError = rerr.Error()
	}
	m.mu.Unlock()

	data := map[string]interface{}{
		"target":   target.Name,
		"recovery": recoverer.Name(),
		"success":  rerr == nil,
	}
	if rerr != nil {
		log.Printf("❌ Recovery of %s failed: %v", target.Name, rerr)
		data["error"] = rerr.Error()
	}
	m.publish(ctx, events.MonitorRecoveryAttempted, data)
}

func (m *Monitor) publish(ctx context.Context, eventType events.EventType, data map[string]interface{}) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(ctx, events.New(eventType, "monitor", data))
}

// Snapshot returns the state of every target sorted by name
func (m *Monitor) Snapshot() []TargetState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TargetState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target.Name < out[j].Target.Name })
	return out
}

// Targets returns the configured targets
func (m *Monitor) Targets() []Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Target(nil), m.targets...)
}

// LastRun returns when the last full cycle finished
func (m *Monitor) LastRun() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRun
}
