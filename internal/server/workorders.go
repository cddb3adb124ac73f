package server

import (
	"context"
	"net/http"
	"strings"

	"chatterfix/internal/auth"
	"chatterfix/internal/cache"
	apperrors "chatterfix/internal/errors"
	"chatterfix/internal/events"
	"chatterfix/internal/store"
	"chatterfix/types"
)

// workOrderFilter builds a store filter from query parameters
func workOrderFilter(r *http.Request) (store.WorkOrderFilter, *apperrors.AppError) {
	q := r.URL.Query()
	limit, offset := getPaginationParams(r)
	f := store.WorkOrderFilter{
		ActiveOnly: queryBool(r, "active"),
		Priority:   types.Priority(q.Get("priority")),
		Category:   types.Category(q.Get("category")),
		Source:     types.WorkOrderSource(q.Get("source")),
		AssignedTo: q.Get("assigned_to"),
		Query:      strings.TrimSpace(q.Get("q")),
		Limit:      limit,
		Offset:     offset,
	}

	details := map[string]interface{}{}
	for _, raw := range splitList(q.Get("status")) {
		status := types.WorkOrderStatus(raw)
		if !status.Valid() {
			details["status"] = "unknown status " + raw
			continue
		}
		f.Statuses = append(f.Statuses, status)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		details["priority"] = "unknown priority " + string(f.Priority)
	}
	if f.Category != "" && !f.Category.Valid() {
		details["category"] = "unknown category " + string(f.Category)
	}
	if f.Source != "" && !f.Source.Valid() {
		details["source"] = "unknown source " + string(f.Source)
	}
	if len(details) > 0 {
		return f, apperrors.NewValidationError("Invalid filter", details)
	}

	assetID, appErr := queryID(r, "asset_id")
	if appErr != nil {
		return f, appErr
	}
	f.AssetID = assetID
	scheduleID, appErr := queryID(r, "schedule_id")
	if appErr != nil {
		return f, appErr
	}
	f.ScheduleID = scheduleID
	return f, nil
}

func (s *Server) handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	f, appErr := workOrderFilter(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	result, err := cache.GetOrLoad(r.Context(), s.workOrders, cacheKey("list", r), s.cacheTTL,
		func(ctx context.Context) (page[types.WorkOrder], error) {
			items, total, err := s.app.Store.ListWorkOrders(ctx, f)
			return newPage(items, total, f.Limit, f.Offset), err
		})
	if err != nil {
		s.fail(w, r, err, "Work orders")
		return
	}
	apperrors.SendSuccess(w, result)
}

func (s *Server) handleGetWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	wo, err := cache.GetOrLoad(r.Context(), s.workOrders, idKey(id), s.cacheTTL,
		func(ctx context.Context) (*types.WorkOrder, error) {
			return s.app.Store.GetWorkOrder(ctx, id)
		})
	if err != nil {
		s.fail(w, r, err, "Work order")
		return
	}
	apperrors.SendSuccess(w, wo)
}

func (s *Server) handleCreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	var wo types.WorkOrder
	if appErr := decodeJSON(r, &wo); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	wo.CreatedBy = auth.Username(r.Context())
	if wo.Source == "" {
		wo.Source = types.SourceManual
	}

	if err := s.app.Store.CreateWorkOrder(r.Context(), &wo); err != nil {
		s.fail(w, r, err, "Work order")
		return
	}

	s.workOrdersChanged(r, nil)
	s.publish(r, events.WorkOrderCreated, workOrderEventData(&wo))
	s.audit(r, "create", "work_order", wo.ID, wo.Title)
	apperrors.SendCreated(w, wo)
}

// handleUpdateWorkOrder applies the JSON body on top of the stored record,
// so omitted fields keep their values.
func (s *Server) handleUpdateWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	wo, err := s.app.Store.GetWorkOrder(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "Work order")
		return
	}
	previous := wo.Status
	if appErr := decodeJSON(r, wo); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	wo.ID = id

	if err := s.app.Store.UpdateWorkOrder(r.Context(), wo); err != nil {
		s.fail(w, r, err, "Work order")
		return
	}

	s.workOrdersChanged(r, wo)
	eventType := events.WorkOrderUpdated
	if wo.Status == types.StatusCompleted && previous != types.StatusCompleted {
		eventType = events.WorkOrderCompleted
	}
	s.publish(r, eventType, workOrderEventData(wo))
	s.audit(r, "update", "work_order", wo.ID, string(previous)+" -> "+string(wo.Status))
	apperrors.SendSuccess(w, wo)
}

type completeRequest struct {
	ResolutionNotes string `json:"resolution_notes"`
}

func (s *Server) handleCompleteWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	var req completeRequest
	if appErr := decodeOptionalJSON(r, &req); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	wo, err := s.app.Store.CompleteWorkOrder(r.Context(), id, req.ResolutionNotes)
	if err != nil {
		s.fail(w, r, err, "Work order")
		return
	}

	s.workOrdersChanged(r, wo)
	s.publish(r, events.WorkOrderCompleted, workOrderEventData(wo))
	s.audit(r, "complete", "work_order", wo.ID, req.ResolutionNotes)
	apperrors.SendSuccess(w, wo)
}

func (s *Server) handleDeleteWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	if err := s.app.Store.DeleteWorkOrder(r.Context(), id); err != nil {
		s.fail(w, r, err, "Work order")
		return
	}

	s.workOrdersChanged(r, nil)
	s.publish(r, events.WorkOrderDeleted, map[string]interface{}{"id": id})
	s.audit(r, "delete", "work_order", id, "")
	apperrors.SendSuccess(w, map[string]interface{}{"id": id, "deleted": true})
}

// workOrdersChanged drops cached work order reads and dashboard counts.
// Writes to a schedule-generated work order may stamp its schedule, so
// passing wo drops cached schedule reads too.
func (s *Server) workOrdersChanged(r *http.Request, wo *types.WorkOrder) {
	s.workOrders.Invalidate(r.Context())
	s.summary.Invalidate(r.Context())
	if wo != nil && wo.ScheduleID != nil {
		s.schedules.Invalidate(r.Context())
	}
}
