package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"chatterfix/internal/ai"
	"chatterfix/internal/auth"
	apperrors "chatterfix/internal/errors"
	"chatterfix/internal/events"
	"chatterfix/internal/knowledge"
	"chatterfix/internal/store"
	"chatterfix/internal/voice"
	"chatterfix/types"

	"github.com/gorilla/mux"
)

// page is the envelope data of list endpoints
type page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newPage[T any](items []T, total, limit, offset int) page[T] {
	if items == nil {
		items = []T{}
	}
	return page[T]{Items: items, Total: total, Limit: limit, Offset: offset}
}

// fail maps err to an AppError, logs server-side failures and writes the envelope
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, resource string) {
	appErr := toAppError(err, resource)
	appErr.WithRequestID(RequestID(r.Context()))
	s.errors.HandleError(appErr)
	apperrors.SendError(w, appErr)
}

// toAppError translates package sentinels into the API error taxonomy
func toAppError(err error, resource string) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if resource == "" {
		resource = "Resource"
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		e := apperrors.NewNotFoundError(resource)
		e.Cause = err
		return e
	case errors.Is(err, store.ErrDuplicate):
		return apperrors.NewConflictError(resource+" already exists", err)
	case errors.Is(err, store.ErrInUse):
		return apperrors.NewConflictError(resource+" is still referenced by other records", err)
	case errors.Is(err, store.ErrInvalidReference):
		return apperrors.NewAppError(apperrors.ErrorTypeValidation, "INVALID_REFERENCE", err.Error(), err)
	case errors.Is(err, store.ErrInvalidTransition):
		return apperrors.NewAppError(apperrors.ErrorTypeValidation, "INVALID_TRANSITION", err.Error(), err)
	case errors.Is(err, store.ErrInsufficientStock):
		return apperrors.NewAppError(apperrors.ErrorTypeValidation, "INSUFFICIENT_STOCK", err.Error(), err)
	case errors.Is(err, ai.ErrNoProviders):
		return apperrors.NewUnavailableError("No AI providers are configured", err)
	case errors.Is(err, knowledge.ErrEmptyText):
		return apperrors.NewValidationError("Query has no searchable words", nil)
	case errors.Is(err, voice.ErrNotUnderstood), errors.Is(err, voice.ErrMissingWorkOrder):
		return apperrors.NewAppError(apperrors.ErrorTypeValidation, "VOICE_NOT_UNDERSTOOD", err.Error(), err)
	}
	return apperrors.FromError(err)
}

// decodeJSON reads the request body into v
func decodeJSON(r *http.Request, v interface{}) *apperrors.AppError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewValidationError("Request body is required", nil)
		}
		return apperrors.NewValidationError("Invalid JSON body", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty
func decodeOptionalJSON(r *http.Request, v interface{}) *apperrors.AppError {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(r, v)
}

// pathID reads the {id} route variable
func pathID(r *http.Request) (int64, *apperrors.AppError) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("Invalid id", map[string]interface{}{"id": mux.Vars(r)["id"]})
	}
	return id, nil
}

func muxVar(r *http.Request, key string) string { return mux.Vars(r)[key] }

// getPaginationParams extracts pagination parameters from request
func getPaginationParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 500 {
			limit = parsedLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	return limit, offset
}

// queryID parses an optional positive integer query parameter
func queryID(r *http.Request, key string) (*int64, *apperrors.AppError) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, apperrors.NewValidationError("Invalid "+key, map[string]interface{}{key: raw})
	}
	return &id, nil
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// cacheKey identifies a list request by its normalized query string
func cacheKey(prefix string, r *http.Request) string {
	return prefix + "?" + r.URL.Query().Encode()
}

func idKey(id int64) string { return "id:" + strconv.FormatInt(id, 10) }

// publish sends a domain event attributed to the caller
func (s *Server) publish(r *http.Request, eventType events.EventType, data map[string]interface{}) {
	event := events.New(eventType, "api", data)
	event.User = auth.Username(r.Context())
	s.app.Bus.Publish(r.Context(), event)
}

// audit records a write in the audit log; failures are logged, not returned
func (s *Server) audit(r *http.Request, action, resourceType string, id int64, details string) {
	resourceID := ""
	if id > 0 {
		resourceID = strconv.FormatInt(id, 10)
	}
	if err := s.app.Store.LogAction(r.Context(), auth.Username(r.Context()), action, resourceType, resourceID, details); err != nil {
		log.Printf("⚠️  Failed to write audit entry %s %s/%s: %v", action, resourceType, resourceID, err)
	}
}

func workOrderEventData(wo *types.WorkOrder) map[string]interface{} {
	data := map[string]interface{}{
		"id":       wo.ID,
		"title":    wo.Title,
		"status":   string(wo.Status),
		"priority": string(wo.Priority),
		"category": string(wo.Category),
		"source":   string(wo.Source),
	}
	if wo.AssetID != nil {
		data["asset_id"] = *wo.AssetID
	}
	return data
}

func partEventData(p *types.Part) map[string]interface{} {
	return map[string]interface{}{
		"id":           p.ID,
		"part_number":  p.PartNumber,
		"name":         p.Name,
		"quantity":     p.Quantity,
		"min_quantity": p.MinQuantity,
	}
}

// splitList parses comma separated query values
func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
