// Package scheduler turns due preventive-maintenance schedules into work orders.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"chatterfix/internal/config"
	"chatterfix/internal/events"
	"chatterfix/internal/store"
	"chatterfix/types"
)

// Store is the persistence the scheduler needs
type Store interface {
	ListDueSchedules(ctx context.Context, now time.Time) ([]types.MaintenanceSchedule, error)
	FindOpenWorkOrder(ctx context.Context, m store.OpenMatch) (*types.WorkOrder, error)
	CreateWorkOrder(ctx context.Context, wo *types.WorkOrder) error
	SetScheduleNextDue(ctx context.Context, id int64, next time.Time) error
}

// Outcome is what happened to one due schedule
type Outcome struct {
	ScheduleID  int64     `json:"schedule_id"`
	Title       string    `json:"title"`
	WorkOrderID int64     `json:"work_order_id,omitempty"`
	Skipped     bool      `json:"skipped,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	NextDue     time.Time `json:"next_due"`
	Error       string    `json:"error,omitempty"`
}

// RunResult summarizes a RunDue pass
type RunResult struct {
	RanAt    time.Time `json:"ran_at"`
	Due      int       `json:"due"`
	Created  int       `json:"created"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Outcomes []Outcome `json:"outcomes"`
}

// Scheduler runs due schedules on an interval
type Scheduler struct {
	store     Store
	publisher events.Publisher

	mu       sync.RWMutex
	enabled  bool
	interval time.Duration
	last     *RunResult
	running  sync.Mutex

	trigger chan struct{}
	reset   chan time.Duration
	now     func() time.Time
}

func New(cfg config.SchedulerConfig, s Store, publisher events.Publisher) *Scheduler {
	sc := &Scheduler{
		store:     s,
		publisher: publisher,
		trigger:   make(chan struct{}, 1),
		reset:     make(chan time.Duration, 1),
		now:       func() time.Time { return time.Now().UTC() },
	}
	sc.apply(cfg)
	return sc
}

func (s *Scheduler) apply(cfg config.SchedulerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = cfg.Enable
	s.interval = cfg.Interval
	if s.interval <= 0 {
		s.interval = time.Hour
	}
}

// OnSettingsChanged implements config.SettingsChangeListener.
func (s *Scheduler) OnSettingsChanged(oldSettings, newSettings *config.Config) {
	s.mu.RLock()
	wasEnabled := s.enabled
	s.mu.RUnlock()
	s.apply(newSettings.Scheduler)
	if !wasEnabled && newSettings.Scheduler.Enable {
		s.Trigger()
	}
	if oldSettings == nil || oldSettings.Scheduler.Interval != newSettings.Scheduler.Interval {
		select {
		case s.reset <- newSettings.Scheduler.Interval:
		default:
		}
	}
	log.Printf("🔄 Scheduler settings updated: enabled=%t interval %s", newSettings.Scheduler.Enable, newSettings.Scheduler.Interval)
}

// Start runs due schedules immediately and then on every tick until ctx is done.
// Ticks are skipped while the scheduler is disabled.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.currentInterval()
	s.mu.RLock()
	enabled := s.enabled
	s.mu.RUnlock()
	if enabled {
		log.Printf("🗓️  Maintenance scheduler started (interval %s)", interval)
	} else {
		log.Println("ℹ️  Maintenance scheduler idle until enabled in settings")
	}
	s.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Maintenance scheduler stopped")
			return
		case d := <-s.reset:
			if d > 0 {
				ticker.Reset(d)
			}
		case <-s.trigger:
			log.Println("⚡ Manual schedule run triggered")
			s.run(ctx)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Trigger requests a run outside the normal interval.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.RLock()
	enabled := s.enabled
	s.mu.RUnlock()
	if enabled {
		s.run(ctx)
	}
}

func (s *Scheduler) run(ctx context.Context) {
	if _, err := s.RunDue(ctx, s.now()); err != nil {
		log.Printf("❌ Scheduled maintenance run failed: %v", err)
	}
}

func (s *Scheduler) currentInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// RunDue creates one work order per due schedule unless an active one already
// exists for it, then moves the schedule's NextDue past now.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) (*RunResult, error) {
	s.running.Lock()
	defer s.running.Unlock()

	due, err := s.store.ListDueSchedules(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}

	result := &RunResult{RanAt: now, Due: len(due), Outcomes: []Outcome{}}
	for i := range due {
		outcome := s.runOne(ctx, &due[i], now)
		switch {
		case outcome.Error != "":
			result.Failed++
		case outcome.Skipped:
			result.Skipped++
		default:
			result.Created++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	if result.Due > 0 {
		log.Printf("🗓️  Scheduled maintenance: %d due, %d created, %d skipped, %d failed",
			result.Due, result.Created, result.Skipped, result.Failed)
	}

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()
	return result, nil
}

func (s *Scheduler) runOne(ctx context.Context, sched *types.MaintenanceSchedule, now time.Time) Outcome {
	outcome := Outcome{ScheduleID: sched.ID, Title: sched.Title}
	dueAt := sched.NextDue

	existing, err := s.store.FindOpenWorkOrder(ctx, store.OpenMatch{ScheduleID: &sched.ID})
	switch {
	case err == nil:
		outcome.Skipped = true
		outcome.WorkOrderID = existing.ID
		outcome.Reason = fmt.Sprintf("work order #%d is still open", existing.ID)
	case errors.Is(err, store.ErrNotFound):
		wo := &types.WorkOrder{
			Title:       sched.Title,
			Description: sched.Description,
			Priority:    sched.Priority,
			Category:    types.CategoryGeneral,
			AssetID:     &sched.AssetID,
			ScheduleID:  &sched.ID,
			Source:      types.SourceSchedule,
			DueDate:     &dueAt,
			CreatedBy:   "scheduler",
		}
		if err := s.store.CreateWorkOrder(ctx, wo); err != nil {
			outcome.Error = err.Error()
			log.Printf("❌ Failed to create work order for schedule %d: %v", sched.ID, err)
			return outcome
		}
		outcome.WorkOrderID = wo.ID
	default:
		outcome.Error = err.Error()
		return outcome
	}

	sched.Advance(now)
	outcome.NextDue = sched.NextDue
	if err := s.store.SetScheduleNextDue(ctx, sched.ID, sched.NextDue); err != nil {
		outcome.Error = err.Error()
		log.Printf("❌ Failed to advance schedule %d: %v", sched.ID, err)
		return outcome
	}

	if s.publisher != nil {
		s.publisher.Publish(ctx, events.New(events.ScheduleTriggered, "scheduler", map[string]interface{}{
			"schedule_id":   sched.ID,
			"asset_id":      sched.AssetID,
			"title":         sched.Title,
			"work_order_id": outcome.WorkOrderID,
			"skipped":       outcome.Skipped,
			"due_at":        dueAt,
			"next_due":      sched.NextDue,
		}))
	}
	return outcome
}

// LastRun returns the most recent run result, or nil before the first run.
func (s *Scheduler) LastRun() *RunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
