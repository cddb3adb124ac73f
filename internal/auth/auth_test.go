package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatterfix/internal/config"
	apperrors "chatterfix/internal/errors"
	"chatterfix/internal/store"
	"chatterfix/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, enabled bool) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	svc := NewService(config.AuthConfig{
		Enabled:       enabled,
		JWTSecret:     "test-secret",
		SessionSecret: "session-secret-0123456789abcdef",
		TokenTTL:      time.Hour,
		AdminUsername: "admin",
		AdminPassword: "admin-password",
	}, s)
	return svc, s
}

func addUser(t *testing.T, s *store.Store, username string, role types.Role, active bool) *types.User {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	u := &types.User{Username: username, Role: role, PasswordHash: hash, Active: active}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func whoAmI() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		apperrors.SendSuccess(w, user)
	})
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("long enough")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "long enough"))
	assert.False(t, CheckPassword(hash, "wrong"))

	_, err = HashPassword("short")
	var verrs types.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestAuthenticate(t *testing.T) {
	svc, s := newTestService(t, true)
	ctx := context.Background()
	addUser(t, s, "tech1", types.RoleTechnician, true)
	addUser(t, s, "gone", types.RoleTechnician, false)

	user, err := svc.Authenticate(ctx, "tech1", "correct-horse")
	require.NoError(t, err)
	assert.NotNil(t, user.LastLogin)

	_, err = svc.Authenticate(ctx, "tech1", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "gone", "correct-horse")
	assert.ErrorIs(t, err, ErrInactiveUser)
}

func TestJWT(t *testing.T) {
	svc, _ := newTestService(t, true)
	user := &types.User{ID: 7, Username: "mgr", Role: types.RoleManager}

	token, expires, err := svc.GenerateJWT(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := svc.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, types.RoleManager, claims.Role)

	other := NewService(config.AuthConfig{JWTSecret: "different"}, nil)
	_, err = other.ValidateJWT(token)
	assert.Error(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.ValidateJWT(token)
	assert.Error(t, err, "expired token must be rejected")
}

func TestMiddleware_Bearer(t *testing.T) {
	svc, s := newTestService(t, true)
	user := addUser(t, s, "tech1", types.RoleTechnician, true)
	token, _, err := svc.GenerateJWT(user)
	require.NoError(t, err)

	handler := svc.Middleware(whoAmI())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"tech1"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_DeactivatedUserRejected(t *testing.T) {
	svc, s := newTestService(t, true)
	user := addUser(t, s, "tech1", types.RoleTechnician, true)
	token, _, err := svc.GenerateJWT(user)
	require.NoError(t, err)

	user.Active = false
	require.NoError(t, s.UpdateUser(context.Background(), user))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	svc.Middleware(whoAmI()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentify(t *testing.T) {
	svc, s := newTestService(t, true)
	user := addUser(t, s, "tech1", types.RoleTechnician, true)
	token, _, err := svc.GenerateJWT(user)
	require.NoError(t, err)

	_, ok := svc.Identify(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	got, ok := svc.Identify(req)
	require.True(t, ok)
	assert.Equal(t, "tech1", got.Username)

	disabled, _ := newTestService(t, false)
	got, ok = disabled.Identify(httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, ok)
	assert.Equal(t, types.RoleAdmin, got.Role)
}

func TestMiddleware_Disabled(t *testing.T) {
	svc, _ := newTestService(t, false)
	rec := httptest.NewRecorder()
	svc.Middleware(RequireRole(types.RoleAdmin)(whoAmI())).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"admin"`)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		role types.Role
		want int
	}{
		{types.RoleViewer, http.StatusForbidden},
		{types.RoleTechnician, http.StatusForbidden},
		{types.RoleManager, http.StatusOK},
		{types.RoleAdmin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/", nil)
			req = req.WithContext(WithUser(req.Context(), &types.User{Username: "u", Role: tt.role, Active: true}))
			rec := httptest.NewRecorder()
			RequireRole(types.RoleManager)(whoAmI()).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	RequireRole(types.RoleViewer)(whoAmI()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginSessionLogout(t *testing.T) {
	svc, s := newTestService(t, true)
	addUser(t, s, "tech1", types.RoleTechnician, true)

	body, _ := json.Marshal(LoginRequest{Username: "tech1", Password: "correct-horse"})
	rec := httptest.NewRecorder()
	svc.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool          `json:"success"`
		Data    LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data.Token)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	// the session cookie alone authenticates
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	svc.Middleware(http.HandlerFunc(svc.HandleMe)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tech1")

	rec = httptest.NewRecorder()
	svc.HandleLogout(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Result().Cookies())
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestLogin_BadCredentials(t *testing.T) {
	svc, s := newTestService(t, true)
	addUser(t, s, "tech1", types.RoleTechnician, true)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"wrong password", `{"username":"tech1","password":"nope"}`, http.StatusUnauthorized},
		{"missing fields", `{"username":"tech1"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			svc.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(tt.body)))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestEnsureAdmin(t *testing.T) {
	svc, s := newTestService(t, true)
	ctx := context.Background()

	admin, err := svc.EnsureAdmin(ctx)
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.Equal(t, types.RoleAdmin, admin.Role)

	user, err := svc.Authenticate(ctx, "admin", "admin-password")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, user.ID)

	again, err := svc.EnsureAdmin(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)

	count, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
