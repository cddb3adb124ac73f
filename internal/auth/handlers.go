package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	apperrors "chatterfix/internal/errors"
)

// HandleLogin checks credentials, issues a JWT and sets the session cookie
func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.SendError(w, apperrors.NewValidationError("Invalid JSON body", nil))
		return
	}
	if req.Username == "" || req.Password == "" {
		apperrors.SendError(w, apperrors.NewValidationError("username and password are required", nil))
		return
	}

	user, err := s.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInactiveUser) {
			log.Printf("⚠️  Failed login for %q from %s", req.Username, apperrors.ClientIP(r))
			apperrors.SendError(w, apperrors.NewAuthenticationError(err.Error()))
			return
		}
		apperrors.SendError(w, apperrors.FromError(err))
		return
	}

	token, expires, err := s.GenerateJWT(user)
	if err != nil {
		apperrors.SendError(w, apperrors.NewInternalError("Failed to issue token", err))
		return
	}

	session, _ := s.sessionStore.Get(r, sessionName)
	session.Values["user_id"] = user.ID
	if err := session.Save(r, w); err != nil {
		log.Printf("⚠️  Failed to save session for %s: %v", user.Username, err)
	}

	log.Printf("✅ User %s logged in", user.Username)
	apperrors.SendSuccess(w, LoginResponse{Token: token, ExpiresAt: expires, User: user})
}

// HandleLogout clears the session cookie
func (s *Service) HandleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := s.sessionStore.Get(r, sessionName)
	session.Values = make(map[interface{}]interface{})
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		log.Printf("⚠️  Failed to clear session: %v", err)
	}
	apperrors.SendSuccess(w, map[string]bool{"logged_out": true})
}

// HandleMe returns the authenticated user
func (s *Service) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		apperrors.SendError(w, apperrors.NewAuthenticationError("authentication required"))
		return
	}
	apperrors.SendSuccess(w, user)
}
