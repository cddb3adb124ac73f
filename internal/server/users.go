package server

import (
	"net/http"
	"strconv"
	"strings"

	"chatterfix/internal/auth"
	apperrors "chatterfix/internal/errors"
	"chatterfix/types"
)

// userRequest is the writable view of a user; Password is hashed before storage
type userRequest struct {
	Username *string     `json:"username"`
	Email    *string     `json:"email"`
	FullName *string     `json:"full_name"`
	Role     *types.Role `json:"role"`
	Active   *bool       `json:"active"`
	Password *string     `json:"password"`
}

// apply copies the provided fields onto u
func (req *userRequest) apply(u *types.User) error {
	if req.Username != nil {
		u.Username = strings.TrimSpace(*req.Username)
	}
	if req.Email != nil {
		u.Email = strings.TrimSpace(*req.Email)
	}
	if req.FullName != nil {
		u.FullName = *req.FullName
	}
	if req.Role != nil {
		u.Role = *req.Role
	}
	if req.Active != nil {
		u.Active = *req.Active
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
	}
	return nil
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.app.Store.ListUsers(r.Context())
	if err != nil {
		s.fail(w, r, err, "Users")
		return
	}
	if users == nil {
		users = []types.User{}
	}
	apperrors.SendSuccess(w, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	user, err := s.app.Store.GetUser(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "User")
		return
	}
	apperrors.SendSuccess(w, user)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	if req.Password == nil {
		apperrors.SendError(w, apperrors.NewValidationError("Validation failed", map[string]interface{}{"password": "is required"}))
		return
	}

	user := &types.User{Role: types.RoleTechnician, Active: true}
	if err := req.apply(user); err != nil {
		s.fail(w, r, err, "User")
		return
	}
	if err := s.app.Store.CreateUser(r.Context(), user); err != nil {
		s.fail(w, r, err, "User")
		return
	}

	s.audit(r, "create", "user", user.ID, user.Username+" ("+string(user.Role)+")")
	apperrors.SendCreated(w, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	var req userRequest
	if appErr := decodeJSON(r, &req); appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}

	user, err := s.app.Store.GetUser(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "User")
		return
	}
	if caller, ok := auth.UserFromContext(r.Context()); ok && caller.ID == id {
		if (req.Role != nil && *req.Role != user.Role) || (req.Active != nil && !*req.Active) {
			apperrors.SendError(w, apperrors.NewConflictError("You cannot change your own role or deactivate yourself", nil))
			return
		}
	}
	if err := req.apply(user); err != nil {
		s.fail(w, r, err, "User")
		return
	}
	if err := s.app.Store.UpdateUser(r.Context(), user); err != nil {
		s.fail(w, r, err, "User")
		return
	}

	s.audit(r, "update", "user", user.ID, user.Username)
	apperrors.SendSuccess(w, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		apperrors.SendError(w, appErr)
		return
	}
	if caller, ok := auth.UserFromContext(r.Context()); ok && caller.ID == id {
		apperrors.SendError(w, apperrors.NewConflictError("You cannot delete your own account", nil))
		return
	}

	if err := s.app.Store.DeleteUser(r.Context(), id); err != nil {
		s.fail(w, r, err, "User")
		return
	}

	s.audit(r, "delete", "user", id, "")
	apperrors.SendSuccess(w, map[string]interface{}{"id": id, "deleted": true})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	entries, err := s.app.Store.ListAudit(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err, "Audit log")
		return
	}
	if entries == nil {
		entries = []types.AuditEntry{}
	}
	apperrors.SendSuccess(w, entries)
}
