package server

import (
	"net/http"
	"strconv"
	"time"

	"chatterfix/internal/alerting"
	apperrors "chatterfix/internal/errors"
	"chatterfix/internal/logs"
	"chatterfix/internal/monitor"
)

// handleMonitorStatus returns the rolling state of every monitored service
func (s *Server) handleMonitorStatus(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.app.Monitor.Snapshot()
	counts := map[monitor.Status]int{}
	for _, st := range snapshot {
		counts[st.Status]++
	}

	var lastRun *time.Time
	if t := s.app.Monitor.LastRun(); !t.IsZero() {
		lastRun = &t
	}
	apperrors.SendSuccess(w, map[string]interface{}{
		"targets":  snapshot,
		"counts":   counts,
		"last_run": lastRun,
	})
}

func (s *Server) handleMonitorReport(w http.ResponseWriter, _ *http.Request) {
	apperrors.SendSuccess(w, s.app.Monitor.Report())
}

func (s *Server) handleMonitorTargets(w http.ResponseWriter, _ *http.Request) {
	apperrors.SendSuccess(w, s.app.Monitor.Targets())
}

// handleSystemMetrics samples host CPU, memory and disk
func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := monitor.SystemSnapshot(r.Context())
	if err != nil {
		s.fail(w, r, err, "System metrics")
		return
	}
	apperrors.SendSuccess(w, metrics)
}

// handleMonitorLogs returns buffered log entries, optionally filtered by minimum level
func (s *Server) handleMonitorLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	entries := s.app.Logger.GetLast(limit)
	if raw := r.URL.Query().Get("level"); raw != "" {
		min := logs.Level(raw)
		filtered := make([]logs.Entry, 0, len(entries))
		for _, e := range entries {
			if e.Level.AtLeast(min) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []logs.Entry{}
	}
	apperrors.SendSuccess(w, entries)
}

// handleMonitorCheck probes all targets now and returns the new states
func (s *Server) handleMonitorCheck(w http.ResponseWriter, r *http.Request) {
	states := s.app.Monitor.RunOnce(r.Context())
	if states == nil {
		states = []monitor.TargetState{}
	}
	s.audit(r, "check", "monitor", 0, strconv.Itoa(len(states))+" targets")
	apperrors.SendSuccess(w, states)
}

// handleGetAlerts lists alerts, newest first; ?active=true hides resolved ones
func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	var alerts []alerting.Alert
	if queryBool(r, "active") {
		alerts = s.app.Alerts.GetActiveAlerts()
	} else {
		alerts = s.app.Alerts.GetAlerts()
	}
	if alerts == nil {
		alerts = []alerting.Alert{}
	}
	apperrors.SendSuccess(w, map[string]interface{}{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	alertID := muxVar(r, "id")
	if !s.app.Alerts.ResolveAlert(alertID) {
		apperrors.SendError(w, apperrors.NewNotFoundError("Alert"))
		return
	}
	s.audit(r, "resolve", "alert", 0, alertID)
	apperrors.SendSuccess(w, map[string]interface{}{"id": alertID, "resolved": true})
}

func (s *Server) handleClearResolvedAlerts(w http.ResponseWriter, r *http.Request) {
	cleared := s.app.Alerts.ClearResolved()
	s.audit(r, "clear_resolved", "alert", 0, strconv.Itoa(cleared))
	apperrors.SendSuccess(w, map[string]interface{}{"cleared": cleared})
}
