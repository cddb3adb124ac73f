package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"chatterfix/internal/ai"
	"chatterfix/internal/auth"
	apperrors "chatterfix/internal/errors"
	"chatterfix/internal/knowledge"
	"chatterfix/internal/voice"
	"chatterfix/types"
)

// chatRequest accepts both the API shape and the legacy /grok/chat "prompt" field
type chatRequest struct {
	Message string `json:"message"`
	Prompt  string `json:"prompt"`
}

func (s *Server) handleAIProviders(w http.ResponseWriter, _ *http.Request) {
	apperrors.SendSuccess(w, map[string]interface{}{
		"available": s.app.AI.Available(),
		"providers": s.app.AI.Providers(),
	})
}

func (s *Server) handleAIChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = strings.TrimSpace(req.Prompt)
	}
	if message == "" {
		apperrors.SendError(w, apperrors.NewValidationError("Validation failed", map[string]interface{}{"message": "is required"}))
		return
	}

	answer, err := s.app.AI.Chat(r.Context(), message)
	if err != nil {
		s.failAI(w, r, err)
		return
	}
	apperrors.SendSuccess(w, answer)
}

// handleAISuggest asks the AI for troubleshooting steps, using similar
// completed work orders from the knowledge index as context.
func (s *Server) handleAISuggest(w http.ResponseWriter, r *http.Request) {
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

	var asset *types.Asset
	if wo.AssetID != nil {
		if asset, err = s.app.Store.GetAsset(r.Context(), *wo.AssetID); err != nil {
			log.Printf("⚠️  Asset %d of work order %d not loaded: %v", *wo.AssetID, wo.ID, err)
			asset = nil
		}
	}

	var references []ai.Reference
	if s.app.Knowledge != nil {
		matches, err := s.app.Knowledge.SimilarTo(r.Context(), wo, 3)
		if err != nil && !errors.Is(err, knowledge.ErrEmptyText) {
			log.Printf("⚠️  Similar work order lookup failed for %d: %v", wo.ID, err)
		}
		for _, m := range matches {
			references = append(references, m.Reference())
		}
	}

	answer, err := s.app.AI.SuggestForWorkOrder(r.Context(), wo, asset, references)
	if err != nil {
		s.failAI(w, r, err)
		return
	}
	s.audit(r, "suggest", "work_order", wo.ID, answer.Provider)
	apperrors.SendSuccess(w, map[string]interface{}{
		"work_order_id": wo.ID,
		"suggestion":    answer,
		"similar":       references,
	})
}

func (s *Server) failAI(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ai.ErrNoProviders) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.fail(w, r, err, "")
		return
	}
	s.fail(w, r, apperrors.NewExternalError("ai", err), "")
}

type voiceRequest struct {
	Transcript string `json:"transcript"`
	AssetID    *int64 `json:"asset_id,omitempty"`
	DryRun     bool   `json:"dry_run,omitempty"`
}

func (req *voiceRequest) validate() *apperrors.AppError {
	req.Transcript = strings.TrimSpace(req.Transcript)
	if req.Transcript == "" {
		return apperrors.NewValidationError("Validation failed", map[string]interface{}{"transcript": "is required"})
	}
	if len(req.Transcript) > 2000 {
		return apperrors.NewValidationError("Validation failed", map[string]interface{}{"transcript": "must be at most 2000 characters"})
	}
	return nil
}

// handleVoiceParse classifies a transcript without acting on it
func (s *Server) handleVoiceParse(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	if appErr := req.validate(); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	apperrors.SendSuccess(w, voice.Parse(req.Transcript))
}

// handleVoiceCommand executes a transcript: create, complete, status or list
func (s *Server) handleVoiceCommand(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	if appErr := req.validate(); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	result, err := s.app.Voice.Handle(r.Context(), req.Transcript, voice.Options{
		User:    auth.Username(r.Context()),
		AssetID: req.AssetID,
		DryRun:  req.DryRun,
	})
	if err != nil {
		s.fail(w, r, err, "Work order")
		return
	}

	if result.WorkOrder != nil && (result.Intent.Action == voice.ActionCreate || result.Intent.Action == voice.ActionComplete) {
		s.workOrdersChanged(r, result.WorkOrder)
		s.audit(r, "voice_"+string(result.Intent.Action), "work_order", result.WorkOrder.ID, req.Transcript)
		if result.Intent.Action == voice.ActionCreate {
			apperrors.SendCreated(w, result)
			return
		}
	}
	apperrors.SendSuccess(w, result)
}

// handleKnowledgeSearch finds completed work orders similar to ?q=
func (s *Server) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	if s.app.Knowledge == nil {
		apperrors.SendError(w, apperrors.NewUnavailableError("Knowledge index is not available", nil))
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		apperrors.SendError(w, apperrors.NewValidationError("query parameter 'q' is required", nil))
		return
	}
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}

	matches, err := s.app.Knowledge.Similar(r.Context(), query, limit)
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	if matches == nil {
		matches = []knowledge.Match{}
	}
	apperrors.SendSuccess(w, map[string]interface{}{
		"query":   query,
		"indexed": s.app.Knowledge.Count(),
		"matches": matches,
	})
}

func (s *Server) handleAutonomyStatus(w http.ResponseWriter, _ *http.Request) {
	apperrors.SendSuccess(w, s.app.Autonomy.Status())
}

// handleAutonomyEvaluate runs one evaluation immediately
func (s *Server) handleAutonomyEvaluate(w http.ResponseWriter, r *http.Request) {
	run, err := s.app.Autonomy.Evaluate(r.Context())
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	if run.Executed > 0 {
		s.workOrdersChanged(r, nil)
	}
	s.audit(r, "evaluate", "autonomy", 0, string(run.Mode)+": "+strconv.Itoa(len(run.Actions))+" actions")
	apperrors.SendSuccess(w, run)
}
