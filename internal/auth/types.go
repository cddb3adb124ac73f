package auth

import (
	"context"
	"errors"
	"time"

	"chatterfix/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
)

var (
	// ErrInvalidCredentials is returned for an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInactiveUser is returned when a deactivated account authenticates.
	ErrInactiveUser = errors.New("user account is disabled")
)

// UserStore is the persistence auth needs
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*types.User, error)
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	CountUsers(ctx context.Context) (int, error)
	CreateUser(ctx context.Context, u *types.User) error
	TouchLastLogin(ctx context.Context, id int64) error
}

// Service handles authentication operations
type Service struct {
	store        UserStore
	enabled      bool
	jwtSecret    []byte
	tokenTTL     time.Duration
	sessionStore *sessions.CookieStore
	adminUser    string
	adminPass    string
	adminEmail   string
	now          func() time.Time
}

// contextKey represents custom context key types to avoid collisions
type contextKey string

const (
	userContextKey contextKey = "user"
	sessionName               = "chatterfix-session"
)

// Claims is the JWT payload
type Claims struct {
	UserID   int64      `json:"user_id"`
	Username string     `json:"username"`
	Role     types.Role `json:"role"`
	jwt.RegisteredClaims
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned after a successful login
type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *types.User `json:"user"`
}
