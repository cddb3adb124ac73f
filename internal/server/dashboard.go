package server

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"time"

	"chatterfix/dashboard"
	"chatterfix/internal/alerting"
	"chatterfix/internal/autonomy"
	"chatterfix/internal/cache"
	apperrors "chatterfix/internal/errors"
	"chatterfix/internal/events"
	"chatterfix/internal/monitor"
	"chatterfix/internal/store"
	"chatterfix/types"
)

// Summary is the dashboard overview returned by /dashboard/summary
type Summary struct {
	Stats            *store.DashboardStats `json:"stats"`
	Targets          []monitor.TargetState `json:"targets"`
	ActiveAlerts     int                   `json:"active_alerts"`
	Autonomy         autonomy.Status       `json:"autonomy"`
	KnowledgeIndexed int                   `json:"knowledge_indexed"`
	AIProviders      []string              `json:"ai_providers"`
	Clients          int                   `json:"dashboard_clients"`
}

// stats returns backlog counts, cached until the next write
func (s *Server) stats(ctx context.Context) (*store.DashboardStats, error) {
	return cache.GetOrLoad(ctx, s.summary, "stats", s.cacheTTL, func(ctx context.Context) (*store.DashboardStats, error) {
		return s.app.Store.Stats(ctx, time.Now().UTC())
	})
}

func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats(r.Context())
	if err != nil {
		s.fail(w, r, err, "Dashboard")
		return
	}

	summary := Summary{
		Stats:        stats,
		Targets:      s.app.Monitor.Snapshot(),
		ActiveAlerts: len(s.app.Alerts.GetActiveAlerts()),
		Autonomy:     s.app.Autonomy.Status(),
		AIProviders:  s.app.AI.Providers(),
		Clients:      s.app.Hub.ConnectionCount(),
	}
	if summary.Targets == nil {
		summary.Targets = []monitor.TargetState{}
	}
	if summary.AIProviders == nil {
		summary.AIProviders = []string{}
	}
	if s.app.Knowledge != nil {
		summary.KnowledgeIndexed = s.app.Knowledge.Count()
	}
	apperrors.SendSuccess(w, summary)
}

// dashboardPage is the data rendered by dashboard.Page
type dashboardPage struct {
	User        *types.User
	Stats       *store.DashboardStats
	WorkOrders  []types.WorkOrder
	Targets     []monitor.TargetState
	Alerts      []alerting.Alert
	LowStock    []types.Part
	Autonomy    autonomy.Status
	GeneratedAt time.Time
	Version     string
}

// handleDashboardPage renders the overview page, or a sign-in form for anonymous visitors
func (s *Server) handleDashboardPage(w http.ResponseWriter, r *http.Request) {
	data := dashboardPage{GeneratedAt: time.Now(), Version: s.app.Version}

	if user, ok := s.app.Auth.Identify(r); ok {
		data.User = user
		if err := s.loadDashboard(r.Context(), &data); err != nil {
			s.fail(w, r, err, "Dashboard")
			return
		}
	}

	var buf bytes.Buffer
	if err := dashboard.Page.Execute(&buf, data); err != nil {
		s.fail(w, r, apperrors.NewInternalError("Failed to render dashboard", err), "")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("⚠️  Failed to write dashboard page: %v", err)
	}
}

func (s *Server) loadDashboard(ctx context.Context, data *dashboardPage) error {
	stats, err := s.stats(ctx)
	if err != nil {
		return err
	}
	data.Stats = stats

	items, _, err := s.app.Store.ListWorkOrders(ctx, store.WorkOrderFilter{ActiveOnly: true, Limit: 15})
	if err != nil {
		return err
	}
	data.WorkOrders = items

	if data.LowStock, err = s.app.Store.ListLowStockParts(ctx); err != nil {
		return err
	}

	data.Targets = s.app.Monitor.Snapshot()
	data.Alerts = s.app.Alerts.GetActiveAlerts()
	data.Autonomy = s.app.Autonomy.Status()
	return nil
}

// Name identifies the server's cache invalidation sink on the bus
func (s *Server) Name() string { return "http-cache" }

// Handle invalidates cached reads when background components change data.
// Events published by the API itself were already handled by the writing handler.
func (s *Server) Handle(ctx context.Context, event events.Event) error {
	if event.Source == "api" {
		return nil
	}
	switch event.Type {
	case events.WorkOrderCreated, events.WorkOrderUpdated, events.WorkOrderDeleted, events.AutonomyAction:
		s.workOrders.Invalidate(ctx)
		s.summary.Invalidate(ctx)
	case events.WorkOrderCompleted, events.ScheduleTriggered:
		s.workOrders.Invalidate(ctx)
		s.schedules.Invalidate(ctx)
		s.summary.Invalidate(ctx)
	}
	return nil
}
