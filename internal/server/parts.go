package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"chatterfix/internal/cache"
	apperrors "chatterfix/internal/errors"
	"chatterfix/internal/events"
	"chatterfix/internal/store"
	"chatterfix/types"
)

func (s *Server) handleListParts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := getPaginationParams(r)
	f := store.PartFilter{
		LowStockOnly: queryBool(r, "low_stock"),
		Location:     q.Get("location"),
		Query:        strings.TrimSpace(q.Get("q")),
		Limit:        limit,
		Offset:       offset,
	}

	result, err := cache.GetOrLoad(r.Context(), s.parts, cacheKey("list", r), s.cacheTTL,
		func(ctx context.Context) (page[types.Part], error) {
			items, total, err := s.app.Store.ListParts(ctx, f)
			return newPage(items, total, limit, offset), err
		})
	if err != nil {
		s.fail(w, r, err, "Parts")
		return
	}
	apperrors.SendSuccess(w, result)
}

func (s *Server) handleLowStockParts(w http.ResponseWriter, r *http.Request) {
	parts, err := cache.GetOrLoad(r.Context(), s.parts, "low-stock", s.cacheTTL,
		func(ctx context.Context) ([]types.Part, error) {
			items, err := s.app.Store.ListLowStockParts(ctx)
			if items == nil {
				items = []types.Part{}
			}
			return items, err
		})
	if err != nil {
		s.fail(w, r, err, "Parts")
		return
	}

	reorder := make([]map[string]interface{}, 0, len(parts))
	for i := range parts {
		reorder = append(reorder, map[string]interface{}{
			"part":             parts[i],
			"reorder_quantity": parts[i].ReorderQuantity(),
		})
	}
	apperrors.SendSuccess(w, map[string]interface{}{"count": len(parts), "items": reorder})
}

func (s *Server) handleGetPart(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	part, err := cache.GetOrLoad(r.Context(), s.parts, idKey(id), s.cacheTTL,
		func(ctx context.Context) (*types.Part, error) {
			return s.app.Store.GetPart(ctx, id)
		})
	if err != nil {
		s.fail(w, r, err, "Part")
		return
	}
	apperrors.SendSuccess(w, part)
}

func (s *Server) handleCreatePart(w http.ResponseWriter, r *http.Request) {
	var part types.Part
	if appErr := decodeJSON(r, &part); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	if err := s.app.Store.CreatePart(r.Context(), &part); err != nil {
		s.fail(w, r, err, "Part")
		return
	}

	s.partsChanged(r)
	s.checkLowStock(r, &part)
	s.audit(r, "create", "part", part.ID, part.PartNumber)
	apperrors.SendCreated(w, part)
}

func (s *Server) handleUpdatePart(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	part, err := s.app.Store.GetPart(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "Part")
		return
	}
	if appErr := decodeJSON(r, part); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	part.ID = id

	if err := s.app.Store.UpdatePart(r.Context(), part); err != nil {
		s.fail(w, r, err, "Part")
		return
	}

	s.partsChanged(r)
	s.checkLowStock(r, part)
	s.audit(r, "update", "part", part.ID, part.PartNumber)
	apperrors.SendSuccess(w, part)
}

func (s *Server) handleDeletePart(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	if err := s.app.Store.DeletePart(r.Context(), id); err != nil {
		s.fail(w, r, err, "Part")
		return
	}

	s.partsChanged(r)
	s.audit(r, "delete", "part", id, "")
	apperrors.SendSuccess(w, map[string]interface{}{"id": id, "deleted": true})
}

type adjustRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// handleAdjustPart records stock received (positive delta) or consumed (negative)
func (s *Server) handleAdjustPart(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	var req adjustRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	if req.Delta == 0 {
		apperrors.SendError(w, apperrors.NewValidationError("Validation failed", map[string]interface{}{"delta": "must not be zero"}))
		return
	}

	part, err := s.app.Store.AdjustPartQuantity(r.Context(), id, req.Delta)
	if err != nil {
		s.fail(w, r, err, "Part")
		return
	}

	s.partsChanged(r)
	data := partEventData(part)
	data["delta"] = req.Delta
	data["reason"] = req.Reason
	s.publish(r, events.PartAdjusted, data)
	if req.Delta < 0 {
		s.checkLowStock(r, part)
	}
	s.audit(r, "adjust", "part", part.ID, fmt.Sprintf("%+d %s", req.Delta, req.Reason))
	apperrors.SendSuccess(w, part)
}

// checkLowStock emits part.low_stock when the part sits at or below its reorder point
func (s *Server) checkLowStock(r *http.Request, part *types.Part) {
	if !part.IsLowStock() {
		return
	}
	data := partEventData(part)
	data["reorder_quantity"] = part.ReorderQuantity()
	s.publish(r, events.PartLowStock, data)
}

func (s *Server) partsChanged(r *http.Request) {
	s.parts.Invalidate(r.Context())
	s.summary.Invalidate(r.Context())
}
