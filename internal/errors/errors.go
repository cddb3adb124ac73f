package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"chatterfix/types"

	"golang.org/x/time/rate"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeAuthorization  ErrorType = "authorization"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeExternal       ErrorType = "external"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeUnavailable    ErrorType = "unavailable"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StatusCode int                    `json:"-"`
	Timestamp  time.Time              `json:"timestamp"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison for errors.Is()
func (e *AppError) Is(target error) bool {
	if appErr, ok := target.(*AppError); ok {
		return e.Type == appErr.Type && e.Code == appErr.Code
	}
	return false
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string, cause error) *AppError {
	return &AppError{
		Type:       errorType,
		Code:       code,
		Message:    message,
		Cause:      cause,
		StatusCode: getStatusCodeForErrorType(errorType),
		Timestamp:  time.Now(),
	}
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	if len(details) == 0 {
		return e
	}
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithRequestID adds request ID to the error
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// getStatusCodeForErrorType maps error types to HTTP status codes
func getStatusCodeForErrorType(errorType ErrorType) int {
	switch errorType {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeAuthorization:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeExternal:
		return http.StatusBadGateway
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors for frequent use cases

// NewValidationError creates a validation error
func NewValidationError(message string, details map[string]interface{}) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_FAILED", message, nil).WithDetails(details)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "RESOURCE_NOT_FOUND", fmt.Sprintf("%s not found", resource), nil)
}

// NewConflictError creates a conflict error
func NewConflictError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConflict, "RESOURCE_CONFLICT", message, cause)
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message, cause)
}

// NewExternalError creates an external service error
func NewExternalError(service string, cause error) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR",
		fmt.Sprintf("External service %s failed", service), cause)
}

// NewUnavailableError reports a dependency that is not configured or not reachable
func NewUnavailableError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeUnavailable, "SERVICE_UNAVAILABLE", message, cause)
}

// NewAuthenticationError creates an authentication error
func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthentication, "AUTHENTICATION_FAILED", message, nil)
}

// NewAuthorizationError creates an authorization error
func NewAuthorizationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthorization, "AUTHORIZATION_FAILED", message, nil)
}

// FromError converts any error into an AppError.
// Validation failures keep their field details; everything unknown becomes internal.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var verrs types.ValidationErrors
	if stderrors.As(err, &verrs) {
		details := make(map[string]interface{}, len(verrs))
		for field, msg := range verrs {
			details[field] = msg
		}
		return NewValidationError("Validation failed", details)
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewAppError(ErrorTypeTimeout, "TIMEOUT", "Operation timed out", err)
	}

	return NewInternalError("Unexpected error occurred", err)
}

// ErrorHandler handles errors consistently across the application
type ErrorHandler struct {
	logger     *log.Logger
	notifyFunc func(*AppError)
}

// NewErrorHandler creates a new error handler
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		logger: log.Default(),
	}
}

// SetNotificationFunction sets a function to call when errors occur
func (eh *ErrorHandler) SetNotificationFunction(fn func(*AppError)) {
	eh.notifyFunc = fn
}

// HandleError logs server-side failures and optionally notifies.
// Client errors (4xx) are not logged.
func (eh *ErrorHandler) HandleError(err error) {
	if err == nil {
		return
	}

	appErr := FromError(err)
	if appErr.StatusCode < 500 {
		return
	}

	eh.logger.Printf("🚨 Error [%s]: %s", appErr.Type, appErr.Error())
	if appErr.Details != nil {
		eh.logger.Printf("   Details: %+v", appErr.Details)
	}
	if appErr.RequestID != "" {
		eh.logger.Printf("   Request ID: %s", appErr.RequestID)
	}

	if eh.notifyFunc != nil {
		eh.notifyFunc(appErr)
	}
}

// APIError represents a standardized API error response
type APIError struct {
	Error     string                 `json:"error"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
}

// APIResponse represents a standardized API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// SendError sends a standardized error response
func SendError(w http.ResponseWriter, appErr *AppError) {
	if appErr.RequestID == "" {
		appErr.RequestID = w.Header().Get("X-Request-ID")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Error:     http.StatusText(appErr.StatusCode),
			Message:   appErr.Message,
			Code:      appErr.Code,
			Details:   appErr.Details,
			Timestamp: appErr.Timestamp,
			RequestID: appErr.RequestID,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// SendSuccess sends a standardized success response
func SendSuccess(w http.ResponseWriter, data interface{}) {
	sendData(w, http.StatusOK, data)
}

// SendCreated sends a standardized 201 response
func SendCreated(w http.ResponseWriter, data interface{}) {
	sendData(w, http.StatusCreated, data)
}

func sendData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(APIResponse{
		Success: true,
		Data:    data,
	})
}

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	limiters map[string]*clientLimiter
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	mutex    sync.Mutex
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter allowing rps requests per second with the given burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  10 * time.Minute,
	}
}

// IsAllowed checks if a request is allowed
func (rl *RateLimiter) IsAllowed(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = now

	if len(rl.limiters) > 1024 {
		rl.evictIdle(now)
	}

	return cl.limiter.AllowN(now, 1)
}

// evictIdle drops buckets not seen for idleTTL; caller holds the lock
func (rl *RateLimiter) evictIdle(now time.Time) {
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > rl.idleTTL {
			delete(rl.limiters, key)
		}
	}
}

// ClientIP returns the remote host of r, ignoring forwarding headers
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ProxyTrust resolves client addresses behind reverse proxies. X-Forwarded-For
// is only believed when the connection comes from a trusted proxy.
type ProxyTrust struct {
	nets []*net.IPNet
}

// NewProxyTrust accepts CIDRs or bare IPs. Invalid entries are logged and skipped.
func NewProxyTrust(proxies []string) *ProxyTrust {
	p := &ProxyTrust{}
	for _, entry := range proxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil && ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			log.Printf("⚠️  Ignoring invalid trusted proxy %q: %v", entry, err)
			continue
		}
		p.nets = append(p.nets, ipNet)
	}
	return p
}

func (p *ProxyTrust) trusts(addr string) bool {
	if p == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range p.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP walks X-Forwarded-For from the nearest hop and returns the first
// address that is not a trusted proxy.
func (p *ProxyTrust) ClientIP(r *http.Request) string {
	remote := ClientIP(r)
	if !p.trusts(remote) {
		return remote
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !p.trusts(hop) {
			return hop
		}
		remote = hop
	}
	return remote
}

// RateLimitMiddleware limits each client, as resolved by trust, to its own bucket
func RateLimitMiddleware(rl *RateLimiter, trust *ProxyTrust) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.IsAllowed(trust.ClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				SendError(w, NewAppError(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded", nil))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware adds security headers
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self' ws: wss:")

		next.ServeHTTP(w, r)
	})
}

// ValidationMiddleware validates request data
func ValidationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check Content-Type for requests that carry a body
		if (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) && r.ContentLength != 0 {
			contentType := r.Header.Get("Content-Type")
			if !strings.Contains(contentType, "application/json") {
				SendError(w, NewValidationError("Content-Type must be application/json", nil))
				return
			}
		}

		// Check request size (limit to 10MB)
		if r.ContentLength > 10*1024*1024 {
			SendError(w, NewValidationError("Request too large", nil))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 10*1024*1024)

		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware adds CORS headers for the allowed origins ("*" allows any)
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
