package server

import (
	"context"
	"net/http"
	"time"

	"chatterfix/internal/cache"
	apperrors "chatterfix/internal/errors"
	"chatterfix/internal/store"
	"chatterfix/types"
)

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	limit, offset := getPaginationParams(r)
	assetID, appErr := queryID(r, "asset_id")
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	f := store.ScheduleFilter{AssetID: assetID, ActiveOnly: queryBool(r, "active"), Limit: limit, Offset: offset}

	result, err := cache.GetOrLoad(r.Context(), s.schedules, cacheKey("list", r), s.cacheTTL,
		func(ctx context.Context) (page[types.MaintenanceSchedule], error) {
			items, total, err := s.app.Store.ListSchedules(ctx, f)
			return newPage(items, total, limit, offset), err
		})
	if err != nil {
		s.fail(w, r, err, "Schedules")
		return
	}
	apperrors.SendSuccess(w, result)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	sched, err := cache.GetOrLoad(r.Context(), s.schedules, idKey(id), s.cacheTTL,
		func(ctx context.Context) (*types.MaintenanceSchedule, error) {
			return s.app.Store.GetSchedule(ctx, id)
		})
	if err != nil {
		s.fail(w, r, err, "Schedule")
		return
	}
	apperrors.SendSuccess(w, sched)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	sched := types.MaintenanceSchedule{Active: true}
	if appErr := decodeJSON(r, &sched); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	if err := s.app.Store.CreateSchedule(r.Context(), &sched); err != nil {
		s.fail(w, r, err, "Schedule")
		return
	}

	s.schedulesChanged(r)
	s.audit(r, "create", "schedule", sched.ID, sched.Title)
	apperrors.SendCreated(w, sched)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	sched, err := s.app.Store.GetSchedule(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "Schedule")
		return
	}
	if appErr := decodeJSON(r, sched); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	sched.ID = id

	if err := s.app.Store.UpdateSchedule(r.Context(), sched); err != nil {
		s.fail(w, r, err, "Schedule")
		return
	}

	s.schedulesChanged(r)
	s.audit(r, "update", "schedule", sched.ID, sched.Title)
	apperrors.SendSuccess(w, sched)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	if err := s.app.Store.DeleteSchedule(r.Context(), id); err != nil {
		s.fail(w, r, err, "Schedule")
		return
	}

	s.schedulesChanged(r)
	s.audit(r, "delete", "schedule", id, "")
	apperrors.SendSuccess(w, map[string]interface{}{"id": id, "deleted": true})
}

// handleRunSchedules generates work orders for every due schedule now
func (s *Server) handleRunSchedules(w http.ResponseWriter, r *http.Request) {
	result, err := s.app.Scheduler.RunDue(r.Context(), time.Now())
	if err != nil {
		s.fail(w, r, err, "Schedules")
		return
	}

	s.schedulesChanged(r)
	s.workOrdersChanged(r, nil)
	s.audit(r, "run", "schedule", 0, "")
	apperrors.SendSuccess(w, result)
}

func (s *Server) schedulesChanged(r *http.Request) {
	s.schedules.Invalidate(r.Context())
	s.summary.Invalidate(r.Context())
}
