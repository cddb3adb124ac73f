package server

import (
	"context"
	"net/http"
	"strings"

	"chatterfix/internal/cache"
	apperrors "chatterfix/internal/errors"
	"chatterfix/internal/events"
	"chatterfix/internal/store"
	"chatterfix/types"
)

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := getPaginationParams(r)
	f := store.AssetFilter{
		Status:   types.AssetStatus(q.Get("status")),
		Category: q.Get("category"),
		Location: q.Get("location"),
		Query:    strings.TrimSpace(q.Get("q")),
		Limit:    limit,
		Offset:   offset,
	}
	if f.Status != "" && !f.Status.Valid() {
		apperrors.SendError(w, apperrors.NewValidationError("Invalid filter", map[string]interface{}{"status": "unknown status " + string(f.Status)}))
		return
	}

	result, err := cache.GetOrLoad(r.Context(), s.assets, cacheKey("list", r), s.cacheTTL,
		func(ctx context.Context) (page[types.Asset], error) {
			items, total, err := s.app.Store.ListAssets(ctx, f)
			return newPage(items, total, limit, offset), err
		})
	if err != nil {
		s.fail(w, r, err, "Assets")
		return
	}
	apperrors.SendSuccess(w, result)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	asset, err := cache.GetOrLoad(r.Context(), s.assets, idKey(id), s.cacheTTL,
		func(ctx context.Context) (*types.Asset, error) {
			return s.app.Store.GetAsset(ctx, id)
		})
	if err != nil {
		s.fail(w, r, err, "Asset")
		return
	}
	apperrors.SendSuccess(w, asset)
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var asset types.Asset
	if appErr := decodeJSON(r, &asset); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	if err := s.app.Store.CreateAsset(r.Context(), &asset); err != nil {
		s.fail(w, r, err, "Asset")
		return
	}

	s.assetsChanged(r)
	s.publish(r, events.AssetCreated, assetEventData(&asset))
	s.audit(r, "create", "asset", asset.ID, asset.AssetTag)
	apperrors.SendCreated(w, asset)
}

func (s *Server) handleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	asset, err := s.app.Store.GetAsset(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "Asset")
		return
	}
	if appErr := decodeJSON(r, asset); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	asset.ID = id

	if err := s.app.Store.UpdateAsset(r.Context(), asset); err != nil {
		s.fail(w, r, err, "Asset")
		return
	}

	s.assetsChanged(r)
	s.publish(r, events.AssetUpdated, assetEventData(asset))
	s.audit(r, "update", "asset", asset.ID, string(asset.Status))
	apperrors.SendSuccess(w, asset)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	if err := s.app.Store.DeleteAsset(r.Context(), id); err != nil {
		s.fail(w, r, err, "Asset")
		return
	}

	s.assetsChanged(r)
	s.publish(r, events.AssetDeleted, map[string]interface{}{"id": id})
	s.audit(r, "delete", "asset", id, "")
	apperrors.SendSuccess(w, map[string]interface{}{"id": id, "deleted": true})
}

// handleAssetWorkOrders lists the work order history of one asset
func (s *Server) handleAssetWorkOrders(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	if _, err := s.app.Store.GetAsset(r.Context(), id); err != nil {
		s.fail(w, r, err, "Asset")
		return
	}

	limit, offset := getPaginationParams(r)
	f := store.WorkOrderFilter{AssetID: &id, ActiveOnly: queryBool(r, "active"), Limit: limit, Offset: offset}
	result, err := cache.GetOrLoad(r.Context(), s.workOrders, cacheKey("asset:"+idKey(id), r), s.cacheTTL,
		func(ctx context.Context) (page[types.WorkOrder], error) {
			items, total, err := s.app.Store.ListWorkOrders(ctx, f)
			return newPage(items, total, limit, offset), err
		})
	if err != nil {
		s.fail(w, r, err, "Work orders")
		return
	}
	apperrors.SendSuccess(w, result)
}

func (s *Server) assetsChanged(r *http.Request) {
	s.assets.Invalidate(r.Context())
	s.summary.Invalidate(r.Context())
}

func assetEventData(a *types.Asset) map[string]interface{} {
	return map[string]interface{}{
		"id":          a.ID,
		"name":        a.Name,
		"asset_tag":   a.AssetTag,
		"status":      string(a.Status),
		"criticality": a.Criticality,
	}
}
