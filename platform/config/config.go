// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// WebhookConfig provides settings for inbound gateway webhooks.
type WebhookConfig interface {
	GetWebhookAPIKeys() []string
	IsWebhookAuthEnforced() bool
}

// SchedulerConfig provides settings for the asynq task queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetStuckSweepCron() string
}

// CRMConfig provides settings for the partner CRM API.
type CRMConfig interface {
	GetCRMBaseURL() string
	GetCRMAPIKey() string
	GetCRMTimeout() time.Duration
	GetCRMRatePerSecond() float64
	IsCRMEnabled() bool
}

// GatewayConfig provides settings for the upstream voice gateway API.
type GatewayConfig interface {
	GetGatewayBaseURL() string
	GetGatewayAPIKey() string
	GetGatewayTimeout() time.Duration
	IsGatewayEnabled() bool
}

// ClassifierConfig provides settings for the classification model.
type ClassifierConfig interface {
	GetClassifierBaseURL() string
	GetClassifierAPIKey() string
	GetClassifierModel() string
	GetClassifierTimeout() time.Duration
	GetTaxonomyFile() string
	IsClassifierEnabled() bool
}

// MatchingConfig provides thresholds for candidate name matching.
type MatchingConfig interface {
	GetMatchThreshold() float64
	GetExactMatchThreshold() float64
	GetMatchAmbiguityPolicy() string
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketCallPayloads() string
	IsMinIOEnabled() bool
}

// SMTPConfig provides settings for operational alert e-mail.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetSMTPFrom() string
	GetAlertRecipients() []string
	IsAlertEmailEnabled() bool
}

// ProcessingConfig provides settings for the call processing pipeline.
type ProcessingConfig interface {
	GetCallStore() string
	GetLockTTL() time.Duration
	GetReprocessDelay() time.Duration
	GetStuckOlderThan() time.Duration
	GetStuckBatchLimit() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                  string
	HTTPAddr             string
	DatabaseURL          string
	JWTAccessSecret      string
	CORSAllowAll         bool
	CORSOrigins          []string
	CORSAllowCreds       bool
	WebhookAPIKeys       []string
	RedisURL             string
	RedisTLSInsecure     bool
	AsynqQueueName       string
	AsynqConcurrency     int
	StuckSweepCron       string
	CRMBaseURL           string
	CRMAPIKey            string
	CRMTimeout           time.Duration
	CRMRatePerSecond     float64
	GatewayBaseURL       string
	GatewayAPIKey        string
	GatewayTimeout       time.Duration
	ClassifierBaseURL    string
	ClassifierAPIKey     string
	ClassifierModel      string
	ClassifierTimeout    time.Duration
	TaxonomyFile         string
	MatchThreshold       float64
	ExactMatchThreshold  float64
	MatchAmbiguityPolicy string
	MinIOEndpoint        string
	MinIOAccessKey       string
	MinIOSecretKey       string
	MinIOUseSSL          bool
	MinioBucketPayloads  string
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
	SMTPFrom             string
	AlertRecipients      []string
	CallStore            string
	LockTTL              time.Duration
	ReprocessDelay       time.Duration
	StuckOlderThan       time.Duration
	StuckBatchLimit      int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// WebhookConfig implementation
func (c *Config) GetWebhookAPIKeys() []string { return c.WebhookAPIKeys }
func (c *Config) IsWebhookAuthEnforced() bool { return len(c.WebhookAPIKeys) > 0 }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }
func (c *Config) GetStuckSweepCron() string { return c.StuckSweepCron }

// CRMConfig implementation
func (c *Config) GetCRMBaseURL() string        { return c.CRMBaseURL }
func (c *Config) GetCRMAPIKey() string         { return c.CRMAPIKey }
func (c *Config) GetCRMTimeout() time.Duration { return c.CRMTimeout }
func (c *Config) GetCRMRatePerSecond() float64 { return c.CRMRatePerSecond }
func (c *Config) IsCRMEnabled() bool           { return c.CRMBaseURL != "" }

// GatewayConfig implementation
func (c *Config) GetGatewayBaseURL() string        { return c.GatewayBaseURL }
func (c *Config) GetGatewayAPIKey() string         { return c.GatewayAPIKey }
func (c *Config) GetGatewayTimeout() time.Duration { return c.GatewayTimeout }
func (c *Config) IsGatewayEnabled() bool           { return c.GatewayBaseURL != "" }

// ClassifierConfig implementation
func (c *Config) GetClassifierBaseURL() string        { return c.ClassifierBaseURL }
func (c *Config) GetClassifierAPIKey() string         { return c.ClassifierAPIKey }
func (c *Config) GetClassifierModel() string          { return c.ClassifierModel }
func (c *Config) GetClassifierTimeout() time.Duration { return c.ClassifierTimeout }
func (c *Config) GetTaxonomyFile() string             { return c.TaxonomyFile }
func (c *Config) IsClassifierEnabled() bool           { return c.ClassifierAPIKey != "" }

// MatchingConfig implementation
func (c *Config) GetMatchThreshold() float64      { return c.MatchThreshold }
func (c *Config) GetExactMatchThreshold() float64 { return c.ExactMatchThreshold }
func (c *Config) GetMatchAmbiguityPolicy() string { return c.MatchAmbiguityPolicy }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string           { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string          { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string          { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool               { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketCallPayloads() string { return c.MinioBucketPayloads }
func (c *Config) IsMinIOEnabled() bool               { return c.MinIOEndpoint != "" }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string          { return c.SMTPHost }
func (c *Config) GetSMTPPort() int             { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string      { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string      { return c.SMTPPassword }
func (c *Config) GetSMTPFrom() string          { return c.SMTPFrom }
func (c *Config) GetAlertRecipients() []string { return c.AlertRecipients }
func (c *Config) IsAlertEmailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != "" && len(c.AlertRecipients) > 0
}

// ProcessingConfig implementation
func (c *Config) GetCallStore() string             { return c.CallStore }
func (c *Config) GetLockTTL() time.Duration        { return c.LockTTL }
func (c *Config) GetReprocessDelay() time.Duration { return c.ReprocessDelay }
func (c *Config) GetStuckOlderThan() time.Duration { return c.StuckOlderThan }
func (c *Config) GetStuckBatchLimit() int          { return c.StuckBatchLimit }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		JWTAccessSecret:      getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:         corsAllowAll,
		CORSOrigins:          corsOrigins,
		CORSAllowCreds:       strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		WebhookAPIKeys:       splitCSV(getEnv("WEBHOOK_API_KEYS", "")),
		RedisURL:             getEnv("REDIS_URL", ""),
		RedisTLSInsecure:     strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:       getEnv("ASYNQ_QUEUE", "calls"),
		AsynqConcurrency:     mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),
		StuckSweepCron:       getEnv("STUCK_SWEEP_CRON", "*/15 * * * *"),
		CRMBaseURL:           getEnv("CRM_BASE_URL", ""),
		CRMAPIKey:            getEnv("CRM_API_KEY", ""),
		CRMTimeout:           mustDuration(getEnv("CRM_TIMEOUT", "15s")),
		CRMRatePerSecond:     mustFloat(getEnv("CRM_RATE_PER_SECOND", "5")),
		GatewayBaseURL:       getEnv("GATEWAY_BASE_URL", ""),
		GatewayAPIKey:        getEnv("GATEWAY_API_KEY", ""),
		GatewayTimeout:       mustDuration(getEnv("GATEWAY_TIMEOUT", "20s")),
		ClassifierBaseURL:    getEnv("CLASSIFIER_BASE_URL", "https://api.openai.com/v1"),
		ClassifierAPIKey:     getEnv("CLASSIFIER_API_KEY", ""),
		ClassifierModel:      getEnv("CLASSIFIER_MODEL", "gpt-4o-mini"),
		ClassifierTimeout:    mustDuration(getEnv("CLASSIFIER_TIMEOUT", "60s")),
		TaxonomyFile:         getEnv("TAXONOMY_FILE", ""),
		MatchThreshold:       mustFloat(getEnv("MATCH_THRESHOLD", "0.5")),
		ExactMatchThreshold:  mustFloat(getEnv("MATCH_EXACT_THRESHOLD", "0.9")),
		MatchAmbiguityPolicy: strings.ToLower(getEnv("MATCH_AMBIGUITY_POLICY", "first")),
		MinIOEndpoint:        getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:       getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:       getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:          strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketPayloads:  getEnv("MINIO_BUCKET_CALL_PAYLOADS", "call-payloads"),
		SMTPHost:             getEnv("SMTP_HOST", ""),
		SMTPPort:             mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:             getEnv("SMTP_FROM", ""),
		AlertRecipients:      splitCSV(getEnv("ALERT_RECIPIENTS", "")),
		CallStore:            strings.ToLower(getEnv("CALL_STORE", "postgres")),
		LockTTL:              mustDuration(getEnv("CALL_LOCK_TTL", "5m")),
		ReprocessDelay:       mustDuration(getEnv("REPROCESS_DELAY", "2s")),
		StuckOlderThan:       mustDuration(getEnv("STUCK_OLDER_THAN", "30m")),
		StuckBatchLimit:      mustInt(getEnv("STUCK_BATCH_LIMIT", "50")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.CallStore != "postgres" && c.CallStore != "memory" {
		return fmt.Errorf("CALL_STORE must be postgres or memory")
	}
	if c.CallStore == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if c.MatchAmbiguityPolicy != "first" && c.MatchAmbiguityPolicy != "none" {
		return fmt.Errorf("MATCH_AMBIGUITY_POLICY must be first or none")
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 || c.ExactMatchThreshold < c.MatchThreshold || c.ExactMatchThreshold > 1 {
		return fmt.Errorf("MATCH_THRESHOLD and MATCH_EXACT_THRESHOLD must satisfy 0 < match <= exact <= 1")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("CALL_LOCK_TTL must be a positive duration")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
