package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"chatterfix/internal/config"
	"chatterfix/internal/store"
	"chatterfix/internal/utils"
	"chatterfix/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

// NewService creates the authentication service. Empty secrets are replaced
// with random ones, which invalidates tokens and sessions on restart.
func NewService(cfg config.AuthConfig, users UserStore) *Service {
	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = randomSecret()
		if cfg.Enabled {
			log.Println("⚠️  JWT_SECRET not set; using a random secret, tokens will not survive a restart")
		}
	}
	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = randomSecret()
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	cookies := sessions.NewCookieStore([]byte(sessionSecret))
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &Service{
		store:        users,
		enabled:      cfg.Enabled,
		jwtSecret:    []byte(jwtSecret),
		tokenTTL:     ttl,
		sessionStore: cookies,
		adminUser:    cfg.AdminUsername,
		adminPass:    cfg.AdminPassword,
		adminEmail:   cfg.AdminEmail,
		now:          time.Now,
	}
}

func randomSecret() string {
	secret, err := utils.GenerateSecureToken(48)
	if err != nil {
		panic(fmt.Sprintf("failed to generate secret: %v", err))
	}
	return secret
}

// Enabled reports whether requests must authenticate.
func (s *Service) Enabled() bool { return s.enabled }

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", types.ValidationErrors{"password": "must be at least 8 characters"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Authenticate verifies credentials and records the login.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*types.User, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrInactiveUser
	}

	if err := s.store.TouchLastLogin(ctx, user.ID); err != nil {
		log.Printf("⚠️  Failed to record login for %s: %v", user.Username, err)
	} else {
		now := s.now().UTC()
		user.LastLogin = &now
	}
	return user, nil
}

// GenerateJWT generates a signed token for the user
func (s *Service) GenerateJWT(user *types.User) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.tokenTTL)
	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    "chatterfix",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ValidateJWT validates a token and returns its claims
func (s *Service) ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// EnsureAdmin creates the configured admin account when no users exist.
// Without ADMIN_PASSWORD a random password is generated and logged once.
func (s *Service) EnsureAdmin(ctx context.Context) (*types.User, error) {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil, nil
	}

	username := s.adminUser
	if username == "" {
		username = "admin"
	}
	password := s.adminPass
	generated := password == ""
	if generated {
		if password, err = utils.GenerateSecureToken(20); err != nil {
			return nil, fmt.Errorf("failed to generate admin password: %w", err)
		}
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	admin := &types.User{
		Username:     username,
		Email:        s.adminEmail,
		FullName:     "Administrator",
		Role:         types.RoleAdmin,
		PasswordHash: hash,
		Active:       true,
	}
	if err := s.store.CreateUser(ctx, admin); err != nil {
		return nil, fmt.Errorf("failed to create admin user: %w", err)
	}

	if generated {
		log.Printf("🔑 Created admin user %q with generated password: %s", username, password)
	} else {
		log.Printf("🔑 Created admin user %q", username)
	}
	return admin, nil
}
