package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RedactedValue replaces secrets in settings returned to API clients.
const RedactedValue = "********"

// Config represents the main application configuration
type Config struct {
	ServerPort int             `json:"server_port"`
	DataDir    string          `json:"data_dir"`
	Database   DatabaseConfig  `json:"database"`
	Cache      CacheConfig     `json:"cache"`
	Auth       AuthConfig      `json:"auth"`
	Events     EventsConfig    `json:"events"`
	Monitor    MonitorConfig   `json:"monitor"`
	AI         AIConfig        `json:"ai"`
	Autonomy   AutonomyConfig  `json:"autonomy"`
	Scheduler  SchedulerConfig `json:"scheduler"`
	Knowledge  KnowledgeConfig `json:"knowledge"`
	HTTP       HTTPConfig      `json:"http"`
}

// DatabaseConfig selects the SQL backend and its connection pool.
type DatabaseConfig struct {
	Driver          string        `json:"driver"`
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

// CacheConfig controls read caching; an empty RedisURL selects the in-process cache.
type CacheConfig struct {
	RedisURL string        `json:"redis_url"`
	TTL      time.Duration `json:"ttl"`
}

type AuthConfig struct {
	Enabled       bool          `json:"enabled"`
	JWTSecret     string        `json:"jwt_secret"`
	SessionSecret string        `json:"session_secret"`
	TokenTTL      time.Duration `json:"token_ttl"`
	AdminUsername string        `json:"admin_username"`
	AdminPassword string        `json:"admin_password"`
	AdminEmail    string        `json:"admin_email"`
}

// EventsConfig defines where domain events are streamed besides the dashboard
type EventsConfig struct {
	EnableKafka  bool     `json:"enable_kafka"`
	KafkaBrokers []string `json:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic"`
}

// MonitorConfig defines the health monitor loop and its 3-strike recovery policy
type MonitorConfig struct {
	Enable           bool           `json:"enable"`
	Interval         time.Duration  `json:"interval"`
	Timeout          time.Duration  `json:"timeout"`
	FailureThreshold int            `json:"failure_threshold"`
	MaxRetries       int            `json:"max_retries"`
	BaseBackoff      time.Duration  `json:"base_backoff"`
	MaxBackoff       time.Duration  `json:"max_backoff"`
	GCloudProject    string         `json:"gcloud_project"`
	GCloudRegion     string         `json:"gcloud_region"`
	TargetsFile      string         `json:"targets_file"`
	Targets          []TargetConfig `json:"targets"`
}

// TargetConfig describes one monitored service
type TargetConfig struct {
	Name            string `json:"name" yaml:"name"`
	URL             string `json:"url" yaml:"url"`
	ExpectedStatus  int    `json:"expected_status,omitempty" yaml:"expected_status"`
	CloudRunService string `json:"cloud_run_service,omitempty" yaml:"cloud_run_service"`
	Region          string `json:"region,omitempty" yaml:"region"`
	Recovery        string `json:"recovery,omitempty" yaml:"recovery"`
}

// AIConfig defines the configuration for AI providers
type AIConfig struct {
	PrimaryProvider string              `json:"primary_provider"`
	Timeout         time.Duration       `json:"timeout"`
	Grok            ProviderCredentials `json:"grok"`
	OpenAI          ProviderCredentials `json:"openai"`
	DeepSeek        ProviderCredentials `json:"deepseek"`
	Gemini          ProviderCredentials `json:"gemini"`
}

// ProviderCredentials represents credentials for an AI provider
type ProviderCredentials struct {
	APIKey   string `json:"api_key"`
	Endpoint string `json:"endpoint"`
	Model    string `json:"model"`
}

type AutonomyConfig struct {
	Mode     string        `json:"mode"`
	MinTrust float64       `json:"min_trust"`
	Interval time.Duration `json:"interval"`
}

type SchedulerConfig struct {
	Enable   bool          `json:"enable"`
	Interval time.Duration `json:"interval"`
}

type KnowledgeConfig struct {
	Persist  bool `json:"persist"`
	Compress bool `json:"compress"`
}

type HTTPConfig struct {
	RateLimitRPS   float64  `json:"rate_limit_rps"`
	RateLimitBurst int      `json:"rate_limit_burst"`
	CORSOrigins    []string `json:"cors_origins"`
	// TrustedProxies are CIDRs or IPs whose X-Forwarded-For header is believed
	TrustedProxies []string `json:"trusted_proxies"`
}

// Load loads configuration from environment variables
func Load() *Config {
	dataDir := getEnv("CHATTERFIX_DATA_DIR", "./data")
	port := getEnvInt("SERVER_PORT", 8080)

	cfg := &Config{
		ServerPort: port,
		DataDir:    dataDir,
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			DSN:             getEnv("DATABASE_URL", defaultSQLiteDSN(dataDir)),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", time.Minute),
		},
		Cache: CacheConfig{
			RedisURL: getEnv("REDIS_URL", ""),
			TTL:      getEnvDuration("CACHE_TTL", 5*time.Minute),
		},
		Auth: AuthConfig{
			Enabled:       getEnvBool("AUTH_ENABLED", true),
			JWTSecret:     getEnv("JWT_SECRET", ""),
			SessionSecret: getEnv("SESSION_SECRET", ""),
			TokenTTL:      getEnvDuration("JWT_TTL", 24*time.Hour),
			AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
			AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		},
		Events: EventsConfig{
			EnableKafka:  getEnvBool("KAFKA_ENABLE", false),
			KafkaBrokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			KafkaTopic:   getEnv("KAFKA_TOPIC", "chatterfix-events"),
		},
		Monitor: MonitorConfig{
			Enable:           getEnvBool("MONITOR_ENABLE", true),
			Interval:         getEnvDuration("MONITOR_INTERVAL", time.Minute),
			Timeout:          getEnvDuration("MONITOR_TIMEOUT", 10*time.Second),
			FailureThreshold: getEnvInt("MONITOR_FAILURE_THRESHOLD", 3),
			MaxRetries:       getEnvInt("MONITOR_MAX_RETRIES", 3),
			BaseBackoff:      getEnvDuration("MONITOR_BASE_BACKOFF", time.Second),
			MaxBackoff:       getEnvDuration("MONITOR_MAX_BACKOFF", 8*time.Second),
			GCloudProject:    getEnv("GCLOUD_PROJECT", ""),
			GCloudRegion:     getEnv("GCLOUD_REGION", "us-central1"),
			TargetsFile:      getEnv("MONITOR_TARGETS_FILE", ""),
			Targets:          ParseTargets(getEnv("MONITOR_TARGETS", "")),
		},
		AI: AIConfig{
			PrimaryProvider: strings.ToLower(getEnv("AI_PRIMARY_PROVIDER", "grok")),
			Timeout:         getEnvDuration("AI_TIMEOUT", 60*time.Second),
			Grok: ProviderCredentials{
				APIKey:   getEnv("GROK_API_KEY", getEnv("XAI_API_KEY", "")),
				Endpoint: getEnv("GROK_ENDPOINT", "https://api.x.ai/v1"),
				Model:    getEnv("GROK_MODEL", "grok-3"),
			},
			OpenAI: ProviderCredentials{
				APIKey:   getEnv("OPENAI_API_KEY", ""),
				Endpoint: getEnv("OPENAI_ENDPOINT", "https://api.openai.com/v1"),
				Model:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			},
			DeepSeek: ProviderCredentials{
				APIKey:   getEnv("DEEPSEEK_API_KEY", ""),
				Endpoint: getEnv("DEEPSEEK_ENDPOINT", "https://api.deepseek.com/v1"),
				Model:    getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
			},
			Gemini: ProviderCredentials{
				APIKey: getEnv("GEMINI_API_KEY", ""),
				Model:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			},
		},
		Autonomy: AutonomyConfig{
			Mode:     strings.ToLower(getEnv("AUTONOMY_MODE", "propose")),
			MinTrust: getEnvFloat("AUTONOMY_MIN_TRUST", 0.7),
			Interval: getEnvDuration("AUTONOMY_INTERVAL", 5*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enable:   getEnvBool("SCHEDULER_ENABLE", true),
			Interval: getEnvDuration("SCHEDULER_INTERVAL", time.Hour),
		},
		Knowledge: KnowledgeConfig{
			Persist:  getEnvBool("KNOWLEDGE_PERSIST", false),
			Compress: getEnvBool("KNOWLEDGE_COMPRESS", true),
		},
		HTTP: HTTPConfig{
			RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),
			CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"*"}),
			TrustedProxies: getEnvList("TRUSTED_PROXIES", nil),
		},
	}

	if len(cfg.Monitor.Targets) == 0 {
		cfg.Monitor.Targets = []TargetConfig{{
			Name:     "chatterfix",
			URL:      fmt.Sprintf("http://localhost:%d/health", port),
			Recovery: "none",
		}}
	}

	return cfg
}

func defaultSQLiteDSN(dataDir string) string {
	return filepath.Join(dataDir, "chatterfix.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// ParseTargets parses "name=url,name=url". Entries without a name are named after their host.
func ParseTargets(raw string) []TargetConfig {
	var targets []TargetConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, rawURL, found := strings.Cut(entry, "=")
		if !found || strings.Contains(name, "://") {
			rawURL = entry
			name = ""
		}
		rawURL = strings.TrimSpace(rawURL)
		if name == "" {
			if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
				name = u.Hostname()
			} else {
				name = rawURL
			}
		}

		targets = append(targets, TargetConfig{Name: strings.TrimSpace(name), URL: rawURL})
	}
	return targets
}

// getEnv retrieves environment variable with fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves boolean environment variable with fallback
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvInt retrieves integer environment variable with fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	var cp Config
	_ = json.Unmarshal(data, &cp)
	return &cp
}

// Redacted returns a copy with every secret replaced by RedactedValue
func (c *Config) Redacted() *Config {
	cp := c.Clone()
	for _, secret := range cp.secrets() {
		if *secret != "" {
			*secret = RedactedValue
		}
	}
	cp.Database.DSN = redactDSN(cp.Database.DSN)
	cp.Cache.RedisURL = redactDSN(cp.Cache.RedisURL)
	return cp
}

// RestoreSecrets copies secrets from prev into any field a client sent back redacted.
func (c *Config) RestoreSecrets(prev *Config) {
	mine, theirs := c.secrets(), prev.secrets()
	for i := range mine {
		if *mine[i] == RedactedValue {
			*mine[i] = *theirs[i]
		}
	}
	if c.Database.DSN == redactDSN(prev.Database.DSN) {
		c.Database.DSN = prev.Database.DSN
	}
	if c.Cache.RedisURL == redactDSN(prev.Cache.RedisURL) {
		c.Cache.RedisURL = prev.Cache.RedisURL
	}
}

func (c *Config) secrets() []*string {
	return []*string{
		&c.Auth.JWTSecret,
		&c.Auth.SessionSecret,
		&c.Auth.AdminPassword,
		&c.AI.Grok.APIKey,
		&c.AI.OpenAI.APIKey,
		&c.AI.DeepSeek.APIKey,
		&c.AI.Gemini.APIKey,
	}
}

// redactDSN hides the password of URL-shaped connection strings.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, has := u.User.Password(); !has {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), RedactedValue)
	return u.String()
}

// SettingsValidator defines the interface for validating settings
type SettingsValidator interface {
	Validate(settings *Config) error
}

// SettingsChangeListener defines the interface for listening to settings changes
type SettingsChangeListener interface {
	OnSettingsChanged(oldSettings, newSettings *Config)
}

// SettingsManager manages application settings with validation and persistence
type SettingsManager struct {
	settings   *Config
	validators []SettingsValidator
	listeners  []SettingsChangeListener
	mutex      sync.RWMutex
}

// DefaultSettingsValidator provides default validation for settings
type DefaultSettingsValidator struct{}

// Validate validates the configuration settings
func (v *DefaultSettingsValidator) Validate(settings *Config) error {
	if settings.ServerPort < 1 || settings.ServerPort > 65535 {
		return fmt.Errorf("server_port must be between 1 and 65535")
	}

	switch settings.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %s", settings.Database.Driver)
	}
	if settings.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	if settings.Monitor.Interval < 5*time.Second {
		return fmt.Errorf("monitor interval must be at least 5 seconds")
	}
	if settings.Monitor.FailureThreshold < 1 {
		return fmt.Errorf("monitor failure_threshold must be at least 1")
	}
	if settings.Monitor.MaxRetries < 0 || settings.Monitor.MaxRetries > 10 {
		return fmt.Errorf("monitor max_retries must be between 0 and 10")
	}
	for _, t := range settings.Monitor.Targets {
		if t.Name == "" || t.URL == "" {
			return fmt.Errorf("monitor targets need a name and url")
		}
		if t.Recovery != "" && t.Recovery != "none" && t.Recovery != "gcloud" {
			return fmt.Errorf("invalid recovery %q for target %s", t.Recovery, t.Name)
		}
	}

	switch settings.Autonomy.Mode {
	case "off", "propose", "auto":
	default:
		return fmt.Errorf("invalid autonomy mode: %s", settings.Autonomy.Mode)
	}
	if settings.Autonomy.MinTrust < 0 || settings.Autonomy.MinTrust > 1 {
		return fmt.Errorf("autonomy min_trust must be between 0 and 1")
	}
	if settings.Autonomy.Interval < 10*time.Second {
		return fmt.Errorf("autonomy interval must be at least 10 seconds")
	}

	if settings.Scheduler.Interval < time.Minute {
		return fmt.Errorf("scheduler interval must be at least 1 minute")
	}

	validProviders := map[string]bool{
		"grok":     true,
		"openai":   true,
		"deepseek": true,
		"gemini":   true,
	}
	if !validProviders[settings.AI.PrimaryProvider] {
		return fmt.Errorf("invalid primary_provider: %s", settings.AI.PrimaryProvider)
	}

	if settings.HTTP.RateLimitRPS <= 0 || settings.HTTP.RateLimitBurst < 1 {
		return fmt.Errorf("rate limit must allow at least one request")
	}

	return nil
}

// NewSettingsManager creates a new settings manager
func NewSettingsManager(initial *Config) *SettingsManager {
	return &SettingsManager{
		settings:   initial.Clone(),
		validators: []SettingsValidator{&DefaultSettingsValidator{}},
		listeners:  make([]SettingsChangeListener, 0),
	}
}

// GetSettings returns a copy of the current settings
func (sm *SettingsManager) GetSettings() *Config {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.settings.Clone()
}

// Validate runs every registered validator against settings
func (sm *SettingsManager) Validate(settings *Config) error {
	sm.mutex.RLock()
	validators := append([]SettingsValidator(nil), sm.validators...)
	sm.mutex.RUnlock()

	for _, validator := range validators {
		if err := validator.Validate(settings); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// UpdateSettings updates the settings after validation
func (sm *SettingsManager) UpdateSettings(newSettings *Config) error {
	if err := sm.Validate(newSettings); err != nil {
		return err
	}

	sm.mutex.Lock()
	oldSettings := sm.settings
	sm.settings = newSettings.Clone()
	listeners := append([]SettingsChangeListener(nil), sm.listeners...)
	sm.mutex.Unlock()

	// Listeners run outside the lock so they may read settings back
	for _, listener := range listeners {
		listener.OnSettingsChanged(oldSettings.Clone(), newSettings.Clone())
	}

	return nil
}

// AddValidator adds a settings validator
func (sm *SettingsManager) AddValidator(validator SettingsValidator) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.validators = append(sm.validators, validator)
}

// AddChangeListener adds a settings change listener
func (sm *SettingsManager) AddChangeListener(listener SettingsChangeListener) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.listeners = append(sm.listeners, listener)
}

// SaveToFile saves the current settings to a file
func (sm *SettingsManager) SaveToFile(filename string) error {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	data, err := json.MarshalIndent(sm.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// LoadFromFile loads settings from a file
func (sm *SettingsManager) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	var newSettings Config
	if err := json.Unmarshal(data, &newSettings); err != nil {
		return fmt.Errorf("failed to parse settings file: %w", err)
	}

	if err := sm.UpdateSettings(&newSettings); err != nil {
		return fmt.Errorf("loaded settings %w", err)
	}

	return nil
}
