package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort       string
	JWTSecret     string
	TokenTTLHours int
	// Database
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Redis for listing cache and token blacklist
	RedisEnabled    bool
	RedisHost       string
	RedisPort       int
	RedisDB         int
	RedisPassword   string
	CacheTTLSeconds int
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// HTTP surface
	RateLimitPerMinute       int
	RedeemRateLimitPerMinute int
	AllowedOrigins           []string
	AdminUsernames           []string
	// Benefits
	RedemptionCommentMax int
	// SMTP for redemption notifications
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTLS      bool
	NotifyEmail  string
}

var (
	cfg    AppConfig
	loaded bool
	mu     sync.RWMutex
)

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	mu.Lock()
	defer mu.Unlock()
	if loaded {
		return cfg
	}

	// Precedence: config/config.json -> defaults -> .env -> environment variable overrides
	var next AppConfig
	if err := loadJSONConfig(filepath.Join("config", "config.json"), &next); err != nil {
		log.Printf("ignoring invalid config/config.json: %v", err)
	}
	applyDefaults(&next)

	// godotenv.Load never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to read .env: %v", err)
	}
	applyEnvOverrides(&next)

	if next.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	cfg = next
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	mu.RLock()
	if loaded {
		c := cfg
		mu.RUnlock()
		return c
	}
	mu.RUnlock()
	return Load()
}

// Set installs c as the active configuration after filling defaults.
// Used by tests and by programs embedding the router.
func Set(c AppConfig) {
	applyDefaults(&c)
	mu.Lock()
	cfg = c
	loaded = true
	mu.Unlock()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads the grouped JSON file into out if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}
	applyJSON(raw, out)
	return nil
}

func applyJSON(raw map[string]any, out *AppConfig) {
	getString := func(m map[string]any, key string) string {
		if s, ok := m[key].(string); ok {
			return s
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		switch t := m[key].(type) {
		case float64:
			return int(t)
		case int:
			return t
		}
		return 0
	}
	getBool := func(m map[string]any, key string) bool {
		b, _ := m[key].(bool)
		return b
	}
	getStringSlice := func(m map[string]any, key string) []string {
		arr, ok := m[key].([]any)
		if !ok {
			return nil
		}
		res := make([]string, 0, len(arr))
		for _, it := range arr {
			if s, ok := it.(string); ok {
				res = append(res, s)
			}
		}
		return res
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		out.TokenTTLHours = getInt(app, "TokenTTLHours")
		out.RateLimitPerMinute = getInt(app, "RateLimitPerMinute")
		out.RedeemRateLimitPerMinute = getInt(app, "RedeemRateLimitPerMinute")
		out.AllowedOrigins = getStringSlice(app, "AllowedOrigins")
		out.GinMode = getString(app, "GinMode")
		out.GinPath = getString(app, "GinPath")
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DBDriver = getString(dbs, "Driver")
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisEnabled = getBool(rds, "Enabled")
		out.RedisHost = getString(rds, "RedisHost")
		out.RedisPort = getInt(rds, "RedisPort")
		out.RedisDB = getInt(rds, "RedisDB")
		out.RedisPassword = getString(rds, "RedisPassword")
		out.CacheTTLSeconds = getInt(rds, "CacheTTLSeconds")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		out.LogLevel = getString(lg, "Level")
		out.LogPath = getString(lg, "Path")
		out.LogMaxSizeMB = getInt(lg, "MaxSizeMB")
		out.LogMaxBackups = getInt(lg, "MaxBackups")
		out.LogMaxAgeDays = getInt(lg, "MaxAgeDays")
		out.LogCompress = getBool(lg, "Compress")
	}

	if adm, ok := raw["admin"].(map[string]any); ok {
		out.AdminUsernames = getStringSlice(adm, "Usernames")
	}

	if bn, ok := raw["benefits"].(map[string]any); ok {
		out.RedemptionCommentMax = getInt(bn, "CommentMax")
		out.NotifyEmail = getString(bn, "NotifyEmail")
	}

	if sm, ok := raw["smtp"].(map[string]any); ok {
		out.SMTPHost = getString(sm, "SMTPHost")
		out.SMTPPort = getInt(sm, "SMTPPort")
		out.SMTPUsername = getString(sm, "SMTPUsername")
		out.SMTPPassword = getString(sm, "SMTPPassword")
		out.SMTPFrom = getString(sm, "SMTPFrom")
		out.SMTPFromName = getString(sm, "SMTPFromName")
		out.SMTPTLS = getBool(sm, "SMTPTLS")
	}
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.TokenTTLHours == 0 {
		c.TokenTTLHours = 72
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if c.RedeemRateLimitPerMinute == 0 {
		c.RedeemRateLimitPerMinute = 30
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "benefits"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 3600
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.RedemptionCommentMax == 0 {
		c.RedemptionCommentMax = 500
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("TOKEN_TTL_HOURS", ""); v != "" {
		c.TokenTTLHours = mustParseInt(v)
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("DB_DRIVER", ""); v != "" {
		c.DBDriver = strings.ToLower(v)
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("REDIS_ENABLED", ""); v != "" {
		c.RedisEnabled = v == "true"
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("CACHE_TTL_SECONDS", ""); v != "" {
		c.CacheTTLSeconds = mustParseInt(v)
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("REDEEM_RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RedeemRateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if v := getEnv("ADMIN_USERNAMES", ""); v != "" {
		c.AdminUsernames = splitAndTrim(v)
	}
	if v := getEnv("REDEMPTION_COMMENT_MAX", ""); v != "" {
		c.RedemptionCommentMax = mustParseInt(v)
	}
	if v := getEnv("NOTIFY_EMAIL", ""); v != "" {
		c.NotifyEmail = v
	}
	if v := getEnv("SMTP_HOST", ""); v != "" {
		c.SMTPHost = v
	}
	if v := getEnv("SMTP_PORT", ""); v != "" {
		c.SMTPPort = mustParseInt(v)
	}
	if v := getEnv("SMTP_USERNAME", ""); v != "" {
		c.SMTPUsername = v
	}
	if v := getEnv("SMTP_PASSWORD", ""); v != "" {
		c.SMTPPassword = v
	}
	if v := getEnv("SMTP_FROM", ""); v != "" {
		c.SMTPFrom = v
	}
	if v := getEnv("SMTP_FROM_NAME", ""); v != "" {
		c.SMTPFromName = v
	}
	if v := getEnv("SMTP_TLS", ""); v != "" {
		c.SMTPTLS = v == "true"
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
