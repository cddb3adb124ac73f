package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatterfix/internal/config"
	"chatterfix/internal/events"
	"chatterfix/internal/logs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeRecoverer struct {
	calls int32
	err   error
}

func (f *fakeRecoverer) Name() string { return "fake" }

func (f *fakeRecoverer) Recover(context.Context, Target) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func testConfig(url string) config.MonitorConfig {
	return config.MonitorConfig{
		Enable:           true,
		Interval:         time.Minute,
		Timeout:          time.Second,
		FailureThreshold: 3,
		MaxRetries:       1,
		BaseBackoff:      time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		GCloudRegion:     "us-central1",
		Targets:          []config.TargetConfig{{Name: "api", URL: url}},
	}
}

func newTestMonitor(t *testing.T, handler http.HandlerFunc) (*Monitor, *recorder, *fakeRecoverer) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	pub := &recorder{}
	m := NewMonitor(testConfig(srv.URL), pub, nil)
	m.sampleSystem = nil
	fake := &fakeRecoverer{}
	m.SetRecoverer("none", fake)
	return m, pub, fake
}

func TestThreeStrikeRecovery(t *testing.T) {
	var status int32 = http.StatusInternalServerError
	var hits int32
	m, pub, fake := newTestMonitor(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	})
	ctx := context.Background()

	m.RunOnce(ctx)
	state := m.RunOnce(ctx)[0]
	assert.Equal(t, StatusDegraded, state.Status)
	assert.Equal(t, 2, state.ConsecutiveFailures)
	assert.Equal(t, 2, state.LastAttempts, "one retry per cycle")
	assert.EqualValues(t, 4, atomic.LoadInt32(&hits))
	assert.Zero(t, atomic.LoadInt32(&fake.calls))

	state = m.RunOnce(ctx)[0]
	assert.Equal(t, StatusDown, state.Status)
	assert.Equal(t, 0, state.ConsecutiveFailures, "counter resets after recovery")
	assert.Equal(t, 1, state.Recoveries)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fake.calls))
	assert.Equal(t, []events.EventType{events.MonitorTargetDown, events.MonitorRecoveryAttempted}, pub.types())

	// Another failure stays down but needs a full strike sequence before recovering again
	state = m.RunOnce(ctx)[0]
	assert.Equal(t, StatusDown, state.Status)
	assert.Equal(t, 1, state.ConsecutiveFailures)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fake.calls))

	atomic.StoreInt32(&status, http.StatusOK)
	state = m.RunOnce(ctx)[0]
	assert.Equal(t, StatusHealthy, state.Status)
	assert.Empty(t, state.LastError)
	assert.Equal(t, events.MonitorTargetRecovered, pub.types()[2])
	assert.Equal(t, 5, state.TotalChecks)
	assert.Equal(t, 4, state.TotalFailures)
}

func TestRecoveryFailureIsPublished(t *testing.T) {
	m, pub, fake := newTestMonitor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	fake.err = errors.New("permission denied")

	for i := 0; i < 3; i++ {
		m.RunOnce(context.Background())
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 2)
	attempt := pub.events[1]
	assert.Equal(t, false, attempt.Data["success"])
	assert.Equal(t, "permission denied", attempt.Data["error"])
	assert.Equal(t, "permission denied", m.Snapshot()[0].LastRecoveryError)
}

func TestProbe(t *testing.T) {
	m, _, _ := newTestMonitor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	target := m.Targets()[0]

	res := m.Probe(context.Background(), target)
	assert.Error(t, res.Err, "204 is not the expected 200")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	target.ExpectedStatus = http.StatusNoContent
	res = m.Probe(context.Background(), target)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, res.Attempts)

	res = m.Probe(context.Background(), Target{Name: "bad", URL: "not a url"})
	assert.Error(t, res.Err)
	assert.Equal(t, 1, res.Attempts, "invalid urls are not retried")
}

func TestTargetsFromConfigDefaults(t *testing.T) {
	targets := TargetsFromConfig([]config.TargetConfig{{Name: "ui", URL: "http://ui/health"}})
	require.Len(t, targets, 1)
	assert.Equal(t, http.StatusOK, targets[0].ExpectedStatus)
	assert.Equal(t, "none", targets[0].Recovery)
}

func TestOnSettingsChangedKeepsState(t *testing.T) {
	m, _, _ := newTestMonitor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	m.RunOnce(context.Background())

	old := &config.Config{Monitor: testConfig(m.Targets()[0].URL)}
	updated := &config.Config{Monitor: testConfig(m.Targets()[0].URL)}
	updated.Monitor.Interval = 2 * time.Minute
	updated.Monitor.Targets = append(updated.Monitor.Targets, config.TargetConfig{Name: "worker", URL: "http://worker/health"})
	m.OnSettingsChanged(old, updated)

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, StatusHealthy, snap[0].Status)
	assert.Equal(t, StatusUnknown, snap[1].Status)
	assert.Equal(t, 2*time.Minute, m.currentInterval())
}

func TestStartRunsAndStops(t *testing.T) {
	m, _, _ := newTestMonitor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return !m.LastRun().IsZero() }, 2*time.Second, 10*time.Millisecond)
	m.Trigger()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestStartIdlesUntilEnabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg.Enable = false
	m := NewMonitor(cfg, nil, nil)
	m.sampleSystem = nil

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.True(t, m.LastRun().IsZero(), "disabled monitor must not probe")

	settings := config.Load()
	settings.Monitor = testConfig(srv.URL)
	m.OnSettingsChanged(nil, settings)
	assert.Eventually(t, func() bool { return !m.LastRun().IsZero() }, 2*time.Second, 10*time.Millisecond)
}

func TestReport(t *testing.T) {
	m, _, _ := newTestMonitor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	assert.Equal(t, "healthy", m.Report().Overall)

	m.RunOnce(context.Background())
	report := m.Report()
	assert.Equal(t, "degraded", report.Overall)
	assert.Equal(t, 85.0, report.Score)

	m.RunOnce(context.Background())
	m.RunOnce(context.Background())
	report = m.Report()
	assert.Equal(t, "critical", report.Overall)
	assert.Equal(t, 60.0, report.Score)
	assert.NotEmpty(t, report.Signals)
}

func TestReportNoisyLogs(t *testing.T) {
	logger := logs.NewLogger(50, logs.DEBUG)
	for i := 0; i < 5; i++ {
		logger.Error("❌ database unavailable")
	}
	logger.Warn("⚠️  slow query")

	m := NewMonitor(config.MonitorConfig{}, nil, logger)
	report := m.Report()
	assert.Equal(t, "degraded", report.Overall)
	assert.Len(t, report.RecentErrors, 5)
	assert.Equal(t, 90.0, report.Score)
	assert.Contains(t, report.Signals[0], "5 errors logged")
}

func TestCloudRunRestarterArgs(t *testing.T) {
	r := NewCloudRunRestarter("my-project", "us-central1")
	r.now = func() time.Time { return time.Unix(1700000000, 0) }

	args, err := r.Args(Target{Name: "chatterfix-api"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"run", "services", "update", "chatterfix-api",
		"--region", "us-central1",
		"--project", "my-project",
		"--update-env-vars", "CHATTERFIX_RESTARTED_AT=1700000000",
	}, args)

	args, err = r.Args(Target{Name: "x", CloudRunService: "svc", Region: "europe-west1"})
	require.NoError(t, err)
	assert.Equal(t, "svc", args[3])
	assert.Equal(t, "europe-west1", args[5])

	_, err = r.Args(Target{Name: "bad; rm -rf /"})
	assert.Error(t, err)
	_, err = r.Args(Target{Name: "ok", Region: "US_EAST"})
	assert.Error(t, err)
}

func TestSettingsChangeSwapsRestarter(t *testing.T) {
	m := NewMonitor(testConfig("http://127.0.0.1:1"), nil, nil)
	m.sampleSystem = nil

	before, ok := m.recoverers["gcloud"].(*CloudRunRestarter)
	require.True(t, ok)

	cfg := config.Load()
	cfg.Monitor = testConfig("http://127.0.0.1:1")
	cfg.Monitor.GCloudProject = "plant-ops"
	cfg.Monitor.GCloudRegion = "europe-west1"
	m.OnSettingsChanged(nil, cfg)

	after, ok := m.recoverers["gcloud"].(*CloudRunRestarter)
	require.True(t, ok)
	assert.NotSame(t, before, after)
	assert.Equal(t, "us-central1", before.Region, "a restarter in use is never mutated")
	assert.Empty(t, before.Project)
	assert.Equal(t, "europe-west1", after.Region)
	assert.Equal(t, "plant-ops", after.Project)
}

func TestCloudRunRestarterRecover(t *testing.T) {
	r := NewCloudRunRestarter("", "us-central1")
	var gotName string
	var gotArgs []string
	r.Run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return nil, nil
	}
	require.NoError(t, r.Recover(context.Background(), Target{Name: "api"}))
	assert.Equal(t, "gcloud", gotName)
	assert.NotContains(t, gotArgs, "--project")

	r.Run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("ERROR: not authorized"), errors.New("exit status 1")
	}
	err := r.Recover(context.Background(), Target{Name: "api"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}
