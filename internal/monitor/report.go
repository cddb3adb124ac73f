package monitor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"chatterfix/internal/logs"
	"chatterfix/internal/utils"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	slowResponse     = 2 * time.Second
	errorLogWindow   = 15 * time.Minute
	noisyErrorCount  = 5
	repeatedRestarts = 3
)

// SystemMetrics is a point-in-time host sample
type SystemMetrics struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryUsedMB  uint64    `json:"memory_used_mb"`
	MemoryTotalMB uint64    `json:"memory_total_mb"`
	DiskPercent   float64   `json:"disk_percent"`
	Load1         float64   `json:"load_1"`
	Load5         float64   `json:"load_5"`
	Load15        float64   `json:"load_15"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	Goroutines    int       `json:"goroutines"`
	CollectedAt   time.Time `json:"collected_at"`
}

// EventData flattens the sample for a system event
func (s *SystemMetrics) EventData() map[string]interface{} {
	return map[string]interface{}{
		"cpu_percent":    s.CPUPercent,
		"memory_percent": s.MemoryPercent,
		"disk_percent":   s.DiskPercent,
		"load_1":         s.Load1,
		"goroutines":     s.Goroutines,
	}
}

// SystemSnapshot collects host metrics using gopsutil.
// CPU, memory and disk are required; load and uptime are best effort.
func SystemSnapshot(ctx context.Context) (*SystemMetrics, error) {
	metrics := &SystemMetrics{
		Goroutines:  runtime.NumGoroutine(),
		CollectedAt: time.Now(),
	}

	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU metrics: %w", err)
	}
	if len(cpuPercent) > 0 {
		metrics.CPUPercent = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory metrics: %w", err)
	}
	metrics.MemoryPercent = memInfo.UsedPercent
	metrics.MemoryUsedMB = memInfo.Used / 1024 / 1024
	metrics.MemoryTotalMB = memInfo.Total / 1024 / 1024

	diskInfo, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return nil, fmt.Errorf("failed to get disk metrics: %w", err)
	}
	metrics.DiskPercent = diskInfo.UsedPercent

	if avg, err := load.AvgWithContext(ctx); err == nil {
		metrics.Load1, metrics.Load5, metrics.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		metrics.UptimeSeconds = uptime
	}
	return metrics, nil
}

// HealthReport summarizes target health and recent error logs
type HealthReport struct {
	Overall         string        `json:"overall"`
	Score           float64       `json:"score"`
	GeneratedAt     time.Time     `json:"generated_at"`
	Targets         []TargetState `json:"targets"`
	Signals         []string      `json:"signals"`
	Recommendations []string      `json:"recommendations"`
	RecentErrors    []logs.Entry  `json:"recent_errors"`
}

// Report analyzes the current snapshot.
// Overall is critical when any target is down, degraded when any target is
// failing or error logs are noisy, healthy otherwise.
func (m *Monitor) Report() HealthReport {
	now := m.now()
	report := HealthReport{
		GeneratedAt:     now,
		Targets:         m.Snapshot(),
		Signals:         []string{},
		Recommendations: []string{},
		RecentErrors:    []logs.Entry{},
	}

	down, degraded := 0, 0
	for _, st := range report.Targets {
		name := st.Target.Name
		switch st.Status {
		case StatusDown:
			down++
			report.Signals = append(report.Signals, fmt.Sprintf("%s is down: %s", name, st.LastError))
			if st.Target.Recovery == "none" {
				report.Recommendations = append(report.Recommendations,
					fmt.Sprintf("Restart %s manually or configure gcloud recovery", name))
			}
			if st.LastRecoveryError != "" {
				report.Recommendations = append(report.Recommendations,
					fmt.Sprintf("Check gcloud credentials and service name for %s", name))
			}
		case StatusDegraded:
			degraded++
			report.Signals = append(report.Signals,
				fmt.Sprintf("%s failing (%d consecutive)", name, st.ConsecutiveFailures))
		}
		if time.Duration(st.LastLatencyMS)*time.Millisecond > slowResponse && st.Status != StatusDown {
			report.Signals = append(report.Signals, fmt.Sprintf("%s responding slowly (%dms)", name, st.LastLatencyMS))
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Investigate slow responses from %s", name))
		}
		if st.Recoveries >= repeatedRestarts {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("%s restarted %d times; investigate the root cause", name, st.Recoveries))
		}
	}

	if m.logger != nil {
		report.RecentErrors = append(report.RecentErrors, m.logger.Since(now.Add(-errorLogWindow), logs.ERROR)...)
	}
	if len(report.RecentErrors) >= noisyErrorCount {
		report.Signals = append(report.Signals,
			fmt.Sprintf("%d errors logged in the last %s", len(report.RecentErrors), utils.FormatDuration(errorLogWindow)))
	}

	penalty := 40*float64(down) + 15*float64(degraded) + 2*float64(len(report.RecentErrors))
	report.Score = utils.Clamp(100-penalty, 0, 100)

	switch {
	case down > 0:
		report.Overall = "critical"
	case degraded > 0 || len(report.RecentErrors) >= noisyErrorCount:
		report.Overall = "degraded"
	default:
		report.Overall = "healthy"
	}
	return report
}
