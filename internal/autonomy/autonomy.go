// Package autonomy watches stock, schedules and service health and proposes
// or opens work orders on its own, gated by a trust score.
package autonomy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"chatterfix/internal/config"
	"chatterfix/internal/events"
	"chatterfix/internal/monitor"
	"chatterfix/internal/store"
	"chatterfix/types"

	"github.com/google/uuid"
)

// Mode controls whether the engine acts on its proposals
type Mode string

const (
	ModeOff     Mode = "off"
	ModePropose Mode = "propose"
	ModeAuto    Mode = "auto"
)

// ParseMode maps unknown values to propose.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeOff, ModeAuto:
		return Mode(s)
	}
	return ModePropose
}

// Kind is the type of an autonomous action
type Kind string

const (
	KindReorderPart           Kind = "reorder_part"
	KindPreventiveMaintenance Kind = "preventive_maintenance"
	KindServiceFollowup       Kind = "service_recovery_followup"
	KindInvestigateLoad       Kind = "investigate_load"
)

// Decision records what happened to an action
type Decision string

const (
	DecisionProposed   Decision = "proposed"
	DecisionExecuted   Decision = "executed"
	DecisionSuppressed Decision = "suppressed"
	DecisionFailed     Decision = "failed"
)

// LoadThreshold is the CPU or memory percentage that triggers investigate_load.
const LoadThreshold = 90.0

// Action is one proposed piece of work
type Action struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	Title       string         `json:"title"`
	Reason      string         `json:"reason"`
	Priority    types.Priority `json:"priority"`
	Category    types.Category `json:"category"`
	TrustScore  float64        `json:"trust_score"`
	Trust       *TrustScore    `json:"trust"`
	AssetID     *int64         `json:"asset_id,omitempty"`
	PartID      *int64         `json:"part_id,omitempty"`
	ScheduleID  *int64         `json:"schedule_id,omitempty"`
	Target      string         `json:"target,omitempty"`
	Decision    Decision       `json:"decision"`
	WorkOrderID int64          `json:"work_order_id,omitempty"`
	DuplicateOf int64          `json:"duplicate_of,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Signals is the state the engine reasons over
type Signals struct {
	LowStock     []types.Part                `json:"low_stock"`
	DueSchedules []types.MaintenanceSchedule `json:"due_schedules"`
	CriticalOpen []types.WorkOrder           `json:"critical_open"`
	Targets      []monitor.TargetState       `json:"targets"`
	System       *monitor.SystemMetrics      `json:"system,omitempty"`
	GatheredAt   time.Time                   `json:"gathered_at"`
}

// Store is the persistence the engine needs
type Store interface {
	ListLowStockParts(ctx context.Context) ([]types.Part, error)
	ListDueSchedules(ctx context.Context, now time.Time) ([]types.MaintenanceSchedule, error)
	ListWorkOrders(ctx context.Context, f store.WorkOrderFilter) ([]types.WorkOrder, int, error)
	GetAsset(ctx context.Context, id int64) (*types.Asset, error)
	FindOpenWorkOrder(ctx context.Context, m store.OpenMatch) (*types.WorkOrder, error)
	CreateWorkOrder(ctx context.Context, wo *types.WorkOrder) error
}

// HealthSource provides monitored target states
type HealthSource interface {
	Snapshot() []monitor.TargetState
}

// Run is the result of one evaluation
type Run struct {
	Mode     Mode      `json:"mode"`
	RanAt    time.Time `json:"ran_at"`
	Signals  *Signals  `json:"signals,omitempty"`
	Actions  []Action  `json:"actions"`
	Executed int       `json:"executed"`
}

// Status is reported by /autonomy/status
type Status struct {
	Mode          Mode          `json:"mode"`
	MinTrust      float64       `json:"min_trust"`
	Interval      time.Duration `json:"interval"`
	LastRun       *time.Time    `json:"last_run,omitempty"`
	LastActions   []Action      `json:"last_actions"`
	TotalExecuted int           `json:"total_executed"`
	TotalRuns     int           `json:"total_runs"`
}

// Engine evaluates signals on an interval
type Engine struct {
	store        Store
	health       HealthSource
	publisher    events.Publisher
	sampleSystem func(ctx context.Context) (*monitor.SystemMetrics, error)

	mu            sync.RWMutex
	mode          Mode
	minTrust      float64
	interval      time.Duration
	last          *Run
	totalExecuted int
	totalRuns     int

	running sync.Mutex
	reset   chan time.Duration
	now     func() time.Time
}

func NewEngine(cfg config.AutonomyConfig, s Store, health HealthSource, publisher events.Publisher) *Engine {
	e := &Engine{
		store:        s,
		health:       health,
		publisher:    publisher,
		sampleSystem: monitor.SystemSnapshot,
		reset:        make(chan time.Duration, 1),
		now:          func() time.Time { return time.Now().UTC() },
	}
	e.apply(cfg)
	return e
}

func (e *Engine) apply(cfg config.AutonomyConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = ParseMode(cfg.Mode)
	e.minTrust = cfg.MinTrust
	if e.minTrust <= 0 || e.minTrust > 1 {
		e.minTrust = 0.7
	}
	e.interval = cfg.Interval
	if e.interval <= 0 {
		e.interval = 5 * time.Minute
	}
}

// OnSettingsChanged implements config.SettingsChangeListener.
func (e *Engine) OnSettingsChanged(oldSettings, newSettings *config.Config) {
	e.apply(newSettings.Autonomy)
	if oldSettings == nil || oldSettings.Autonomy.Interval != newSettings.Autonomy.Interval {
		select {
		case e.reset <- newSettings.Autonomy.Interval:
		default:
		}
	}
	log.Printf("🔄 Autonomy settings updated: mode=%s min_trust=%.2f", ParseMode(newSettings.Autonomy.Mode), newSettings.Autonomy.MinTrust)
}

// Mode returns the current operating mode.
func (e *Engine) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Start evaluates on every tick until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.mu.RLock()
	interval := e.interval
	e.mu.RUnlock()

	log.Printf("🤖 Autonomous operations started (mode %s, interval %s)", e.Mode(), interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Autonomous operations stopped")
			return
		case d := <-e.reset:
			if d > 0 {
				ticker.Reset(d)
			}
		case <-ticker.C:
			if _, err := e.Evaluate(ctx); err != nil {
				log.Printf("❌ Autonomy evaluation failed: %v", err)
			}
		}
	}
}

// Evaluate gathers signals, scores candidate actions and, in auto mode,
// executes those at or above MinTrust. Off mode does nothing.
func (e *Engine) Evaluate(ctx context.Context) (*Run, error) {
	e.running.Lock()
	defer e.running.Unlock()

	e.mu.RLock()
	mode, minTrust := e.mode, e.minTrust
	e.mu.RUnlock()

	run := &Run{Mode: mode, RanAt: e.now(), Actions: []Action{}}
	if mode == ModeOff {
		return run, nil
	}

	signals, err := e.Gather(ctx)
	if err != nil {
		return nil, err
	}
	run.Signals = signals

	actions, err := e.Plan(ctx, signals)
	if err != nil {
		return nil, err
	}

	for i := range actions {
		a := &actions[i]
		if a.Decision == "" {
			a.Decision = DecisionProposed
			if mode == ModeAuto && a.TrustScore >= minTrust {
				e.execute(ctx, a)
			}
		}
		if a.Decision == DecisionExecuted {
			run.Executed++
		}
		e.publish(ctx, a)
	}
	run.Actions = actions

	if len(actions) > 0 {
		log.Printf("🤖 Autonomy run: %d action(s), %d executed (mode %s)", len(actions), run.Executed, mode)
	}

	e.mu.Lock()
	e.last = run
	e.totalRuns++
	e.totalExecuted += run.Executed
	e.mu.Unlock()
	return run, nil
}

// Gather collects the current signals.
func (e *Engine) Gather(ctx context.Context) (*Signals, error) {
	now := e.now()
	sig := &Signals{GatheredAt: now}

	var err error
	if sig.LowStock, err = e.store.ListLowStockParts(ctx); err != nil {
		return nil, fmt.Errorf("failed to load low stock parts: %w", err)
	}
	if sig.DueSchedules, err = e.store.ListDueSchedules(ctx, now); err != nil {
		return nil, fmt.Errorf("failed to load due schedules: %w", err)
	}
	if sig.CriticalOpen, _, err = e.store.ListWorkOrders(ctx, store.WorkOrderFilter{ActiveOnly: true, Priority: types.PriorityCritical, Limit: 200}); err != nil {
		return nil, fmt.Errorf("failed to load critical work orders: %w", err)
	}
	if e.health != nil {
		sig.Targets = e.health.Snapshot()
	}
	if e.sampleSystem != nil {
		if sys, err := e.sampleSystem(ctx); err != nil {
			log.Printf("⚠️  Autonomy could not sample host metrics: %v", err)
		} else {
			sig.System = sys
		}
	}
	return sig, nil
}

// Plan turns signals into scored actions. Actions whose subject already has
// an open work order come back suppressed.
func (e *Engine) Plan(ctx context.Context, sig *Signals) ([]Action, error) {
	actions := []Action{}

	for _, part := range sig.LowStock {
		trust := newTrust(KindReorderPart)
		trust.add("stock_deficit", stockEvidence(part.Quantity, part.MinQuantity))
		priority := types.PriorityMedium
		if part.Quantity <= 0 {
			priority = types.PriorityHigh
		}
		actions = append(actions, Action{
			Kind:     KindReorderPart,
			Title:    fmt.Sprintf("Reorder part %s", part.PartNumber),
			Reason:   fmt.Sprintf("%s has %d on hand, reorder point %d; order %d", part.Name, part.Quantity, part.MinQuantity, part.ReorderQuantity()),
			Priority: priority,
			Category: types.CategoryGeneral,
			Trust:    trust,
			PartID:   &part.ID,
		})
	}

	criticalByAsset := map[int64]int{}
	for _, wo := range sig.CriticalOpen {
		if wo.AssetID != nil {
			criticalByAsset[*wo.AssetID]++
		}
	}

	for _, sched := range sig.DueSchedules {
		trust := newTrust(KindPreventiveMaintenance)
		overdue := sig.GatheredAt.Sub(sched.NextDue).Hours() / 24
		trust.add("overdue", overdueEvidence(overdue, sched.FrequencyDays))
		if asset, err := e.store.GetAsset(ctx, sched.AssetID); err == nil {
			trust.add("criticality", criticalityEvidence(asset.Criticality))
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load asset %d: %w", sched.AssetID, err)
		}
		if criticalByAsset[sched.AssetID] > 0 {
			trust.add("critical_open_on_asset", 0.1)
		}
		actions = append(actions, Action{
			Kind:       KindPreventiveMaintenance,
			Title:      sched.Title,
			Reason:     fmt.Sprintf("Schedule due %s (every %d days)", sched.NextDue.Format(time.RFC3339), sched.FrequencyDays),
			Priority:   sched.Priority,
			Category:   types.CategoryGeneral,
			Trust:      trust,
			AssetID:    &sched.AssetID,
			ScheduleID: &sched.ID,
		})
	}

	for _, ts := range sig.Targets {
		if ts.Status != monitor.StatusDown {
			continue
		}
		trust := newTrust(KindServiceFollowup)
		trust.add("target_down", 0.3)
		if ts.LastRecoveryError != "" {
			trust.add("recovery_failed", 0.1)
		}
		reason := fmt.Sprintf("%s is down after %d failed checks", ts.Target.Name, ts.TotalFailures)
		if ts.LastError != "" {
			reason += ": " + ts.LastError
		}
		actions = append(actions, Action{
			Kind:     KindServiceFollowup,
			Title:    fmt.Sprintf("Investigate outage: %s", ts.Target.Name),
			Reason:   reason,
			Priority: types.PriorityCritical,
			Category: types.CategoryGeneral,
			Trust:    trust,
			Target:   ts.Target.Name,
		})
	}

	if sys := sig.System; sys != nil {
		worst := sys.CPUPercent
		if sys.MemoryPercent > worst {
			worst = sys.MemoryPercent
		}
		if worst > LoadThreshold {
			trust := newTrust(KindInvestigateLoad)
			trust.add("load", loadEvidence(worst, LoadThreshold))
			actions = append(actions, Action{
				Kind:     KindInvestigateLoad,
				Title:    "Investigate high host load",
				Reason:   fmt.Sprintf("CPU %.1f%%, memory %.1f%%", sys.CPUPercent, sys.MemoryPercent),
				Priority: types.PriorityHigh,
				Category: types.CategoryGeneral,
				Trust:    trust,
			})
		}
	}

	for i := range actions {
		a := &actions[i]
		a.ID = uuid.NewString()
		existing, err := e.store.FindOpenWorkOrder(ctx, e.match(a))
		switch {
		case err == nil:
			a.Trust.add("open_work_order", -duplicatePenalty)
			a.Decision = DecisionSuppressed
			a.DuplicateOf = existing.ID
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("failed to check open work orders: %w", err)
		}
		a.TrustScore = a.Trust.Total
	}

	sort.SliceStable(actions, func(i, j int) bool { return actions[i].TrustScore > actions[j].TrustScore })
	return actions, nil
}

// match identifies the open work order that would make a a duplicate.
func (e *Engine) match(a *Action) store.OpenMatch {
	if a.Kind == KindPreventiveMaintenance && a.ScheduleID != nil {
		return store.OpenMatch{ScheduleID: a.ScheduleID}
	}
	return store.OpenMatch{Source: types.SourceAutonomy, Title: a.Title}
}

func (e *Engine) execute(ctx context.Context, a *Action) {
	wo := &types.WorkOrder{
		Title:       a.Title,
		Description: fmt.Sprintf("%s\n\nOpened automatically (trust %.2f).", a.Reason, a.TrustScore),
		Priority:    a.Priority,
		Category:    a.Category,
		AssetID:     a.AssetID,
		ScheduleID:  a.ScheduleID,
		Source:      types.SourceAutonomy,
		CreatedBy:   "autonomy",
	}
	if err := e.store.CreateWorkOrder(ctx, wo); err != nil {
		a.Decision = DecisionFailed
		a.Error = err.Error()
		log.Printf("❌ Autonomous %s failed: %v", a.Kind, err)
		return
	}
	a.Decision = DecisionExecuted
	a.WorkOrderID = wo.ID
	log.Printf("✅ Autonomous %s opened work order #%d (trust %.2f)", a.Kind, wo.ID, a.TrustScore)
}

func (e *Engine) publish(ctx context.Context, a *Action) {
	if e.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"action_id":   a.ID,
		"kind":        string(a.Kind),
		"title":       a.Title,
		"decision":    string(a.Decision),
		"trust_score": a.TrustScore,
	}
	if a.WorkOrderID != 0 {
		data["work_order_id"] = a.WorkOrderID
	}
	if a.Target != "" {
		data["target"] = a.Target
	}
	e.publisher.Publish(ctx, events.New(events.AutonomyAction, "autonomy", data))
}

// Status reports the mode and the most recent run.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Status{
		Mode:          e.mode,
		MinTrust:      e.minTrust,
		Interval:      e.interval,
		LastActions:   []Action{},
		TotalExecuted: e.totalExecuted,
		TotalRuns:     e.totalRuns,
	}
	if e.last != nil {
		ranAt := e.last.RanAt
		st.LastRun = &ranAt
		st.LastActions = append(st.LastActions, e.last.Actions...)
	}
	return st
}
