package server

import (
	"encoding/json"
	"log"
	"net/http"

	"chatterfix/internal/auth"
	apperrors "chatterfix/internal/errors"
)

// handleGetSettings returns the running configuration with secrets redacted
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	apperrors.SendSuccess(w, s.app.Settings.GetSettings().Redacted())
}

// handleUpdateSettings merges the body onto the current settings, validates
// them and notifies listeners. Redacted secrets sent back unchanged keep their
// stored values.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	current := s.app.Settings.GetSettings()
	next := current.Clone()
	if err := json.NewDecoder(r.Body).Decode(next); err != nil {
		apperrors.SendError(w, apperrors.NewValidationError("Invalid settings format", map[string]interface{}{"error": err.Error()}))
		return
	}
	next.RestoreSecrets(current)

	if err := s.app.Settings.UpdateSettings(next); err != nil {
		apperrors.SendError(w, apperrors.NewValidationError("Settings validation failed", map[string]interface{}{"error": err.Error()}))
		return
	}

	if s.app.SettingsFile != "" {
		if err := s.app.Settings.SaveToFile(s.app.SettingsFile); err != nil {
			log.Printf("⚠️  Settings applied but not persisted to %s: %v", s.app.SettingsFile, err)
		}
	}

	log.Printf("⚙️  Settings updated by %s", auth.Username(r.Context()))
	s.audit(r, "update", "settings", 0, "")
	apperrors.SendSuccess(w, next.Redacted())
}
