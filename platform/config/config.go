// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// StoreConfig selects and configures the key-value store backend.
type StoreConfig interface {
	GetStoreDriver() string
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetPebblePath() string
}

// SchedulerConfig provides settings for delayed tasks and the periodic sweep.
type SchedulerConfig interface {
	GetStoreDriver() string
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetSweepCron() string
}

// WebhookConfig provides the webhook handshake and signature secrets.
type WebhookConfig interface {
	GetVerifyToken() string
	GetAppSecret() string
}

// WhatsAppConfig provides settings for the messaging API client.
type WhatsAppConfig interface {
	GetGraphBaseURL() string
	GetGraphAPIVersion() string
	GetWhatsAppToken() string
	GetWhatsAppPhoneID() string
}

// LeadAdsConfig provides settings for the lead data fetch.
type LeadAdsConfig interface {
	GetGraphBaseURL() string
	GetGraphAPIVersion() string
	GetLeadAdsToken() string
}

// EmailConfig provides settings for owner email notifications.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetEmailAPIURL() string
	GetEmailAPIKey() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetOwnerEmail() string
	GetEmailTimeout() time.Duration
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
}

// PhoneConfig provides the national defaults used by the phone normalizer.
type PhoneConfig interface {
	GetDefaultCountryCode() string
	GetMobilePrefixes() string
}

// TemplateConfig resolves message template names per message kind.
type TemplateConfig interface {
	Template(kind string) TemplateSpec
}

// LifecycleConfig provides the lead lifecycle policy.
type LifecycleConfig interface {
	PhoneConfig
	TemplateConfig
	GetOwnerPhone() string
	GetWelcomeDelay() time.Duration
	GetWelcomeJitter() time.Duration
	GetFollowup1After() time.Duration
	GetFollowup2After() time.Duration
	GetFollowupHourStart() int
	GetFollowupHourEnd() int
	GetLocation() *time.Location
	GetLeadMaxAge() time.Duration
	GetFailedLeadRetention() time.Duration
	GetRecordTTL() time.Duration
}

// RelayConfig provides settings for the owner/user relay.
type RelayConfig interface {
	PhoneConfig
	TemplateConfig
	GetOwnerPhone() string
	GetSessionWindow() time.Duration
	GetRelayMappingTTL() time.Duration
	GetSeenTTL() time.Duration
	GetExcerptMaxRunes() int
	GetRecordTTL() time.Duration
}

// DashboardConfig provides settings for the admin dashboard session.
type DashboardConfig interface {
	GetAdminKey() string
	GetDashboardSessionTTL() time.Duration
	GetCookieSecure() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env            string
	HTTPAddr       string
	CORSAllowAll   bool
	CORSOrigins    []string
	CORSAllowCreds bool

	StoreDriver      string
	RedisURL         string
	RedisTLSInsecure bool
	PebblePath       string
	AsynqQueueName   string
	AsynqConcurrency int
	SweepCron        string

	VerifyToken     string
	AppSecret       string
	GraphBaseURL    string
	GraphAPIVersion string
	WhatsAppToken   string
	WhatsAppPhoneID string
	LeadAdsToken    string

	OwnerPhone         string
	DefaultCountryCode string
	MobilePrefixes     string
	Templates          map[string]TemplateSpec

	WelcomeDelay        time.Duration
	WelcomeJitter       time.Duration
	Followup1After      time.Duration
	Followup2After      time.Duration
	FollowupHourStart   int
	FollowupHourEnd     int
	Location            *time.Location
	LeadMaxAge          time.Duration
	FailedLeadRetention time.Duration
	RecordTTL           time.Duration

	SessionWindow   time.Duration
	RelayMappingTTL time.Duration
	SeenTTL         time.Duration
	ExcerptMaxRunes int

	EmailEnabled     bool
	EmailAPIURL      string
	EmailAPIKey      string
	EmailFromName    string
	EmailFromAddress string
	OwnerEmail       string
	EmailTimeout     time.Duration
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string

	AdminKey            string
	DashboardSessionTTL time.Duration
	CookieSecure        bool
}

// =============================================================================
// Interface Implementations
// =============================================================================

// HTTPConfig implementation
func (c *Config) GetEnv() string           { return c.Env }
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// StoreConfig / SchedulerConfig implementation
func (c *Config) GetStoreDriver() string     { return c.StoreDriver }
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetPebblePath() string      { return c.PebblePath }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }
func (c *Config) GetSweepCron() string       { return c.SweepCron }

// WebhookConfig implementation
func (c *Config) GetVerifyToken() string { return c.VerifyToken }
func (c *Config) GetAppSecret() string   { return c.AppSecret }

// WhatsAppConfig / LeadAdsConfig implementation
func (c *Config) GetGraphBaseURL() string    { return c.GraphBaseURL }
func (c *Config) GetGraphAPIVersion() string { return c.GraphAPIVersion }
func (c *Config) GetWhatsAppToken() string   { return c.WhatsAppToken }
func (c *Config) GetWhatsAppPhoneID() string { return c.WhatsAppPhoneID }
func (c *Config) GetLeadAdsToken() string    { return c.LeadAdsToken }

// PhoneConfig implementation
func (c *Config) GetDefaultCountryCode() string { return c.DefaultCountryCode }
func (c *Config) GetMobilePrefixes() string     { return c.MobilePrefixes }

// LifecycleConfig implementation
func (c *Config) GetOwnerPhone() string                  { return c.OwnerPhone }
func (c *Config) GetWelcomeDelay() time.Duration         { return c.WelcomeDelay }
func (c *Config) GetWelcomeJitter() time.Duration        { return c.WelcomeJitter }
func (c *Config) GetFollowup1After() time.Duration       { return c.Followup1After }
func (c *Config) GetFollowup2After() time.Duration       { return c.Followup2After }
func (c *Config) GetFollowupHourStart() int              { return c.FollowupHourStart }
func (c *Config) GetFollowupHourEnd() int                { return c.FollowupHourEnd }
func (c *Config) GetLeadMaxAge() time.Duration           { return c.LeadMaxAge }
func (c *Config) GetFailedLeadRetention() time.Duration  { return c.FailedLeadRetention }
func (c *Config) GetRecordTTL() time.Duration            { return c.RecordTTL }
func (c *Config) GetLocation() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// RelayConfig implementation
func (c *Config) GetSessionWindow() time.Duration   { return c.SessionWindow }
func (c *Config) GetRelayMappingTTL() time.Duration { return c.RelayMappingTTL }
func (c *Config) GetSeenTTL() time.Duration         { return c.SeenTTL }
func (c *Config) GetExcerptMaxRunes() int           { return c.ExcerptMaxRunes }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool           { return c.EmailEnabled }
func (c *Config) GetEmailAPIURL() string          { return c.EmailAPIURL }
func (c *Config) GetEmailAPIKey() string          { return c.EmailAPIKey }
func (c *Config) GetEmailFromName() string        { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string     { return c.EmailFromAddress }
func (c *Config) GetOwnerEmail() string           { return c.OwnerEmail }
func (c *Config) GetEmailTimeout() time.Duration  { return c.EmailTimeout }
func (c *Config) GetSMTPHost() string             { return c.SMTPHost }
func (c *Config) GetSMTPPort() int                { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string         { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string         { return c.SMTPPassword }

// DashboardConfig implementation
func (c *Config) GetAdminKey() string                   { return c.AdminKey }
func (c *Config) GetDashboardSessionTTL() time.Duration { return c.DashboardSessionTTL }
func (c *Config) GetCookieSecure() bool                 { return c.CookieSecure }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:8080"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	location, err := time.LoadLocation(getEnv("TIMEZONE", "Europe/Rome"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	emailAPIKey := getEnv("EMAIL_API_KEY", "")
	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:            getEnv("APP_ENV", "development"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		CORSAllowAll:   corsAllowAll,
		CORSOrigins:    corsOrigins,
		CORSAllowCreds: strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),

		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", "redis")),
		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		PebblePath:       getEnv("PEBBLE_PATH", "data/leads"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "leads"),
		AsynqConcurrency: mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),
		SweepCron:        getEnv("SWEEP_CRON", "*/5 * * * *"),

		VerifyToken:     getEnv("VERIFY_TOKEN", ""),
		AppSecret:       getEnv("APP_SECRET", ""),
		GraphBaseURL:    strings.TrimRight(getEnv("GRAPH_BASE_URL", "https://graph.facebook.com"), "/"),
		GraphAPIVersion: getEnv("GRAPH_API_VERSION", "v22.0"),
		WhatsAppToken:   getEnv("WHATSAPP_TOKEN", ""),
		WhatsAppPhoneID: getEnv("WHATSAPP_PHONE_ID", ""),
		LeadAdsToken:    getEnv("FB_TOKEN", ""),

		OwnerPhone:         getEnv("OWNER_PHONE", ""),
		DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "39"),
		MobilePrefixes:     getEnv("MOBILE_PREFIXES", "3"),
		Templates:          defaultTemplates(getEnv("TEMPLATE_LANGUAGE", "it")),

		WelcomeDelay:        mustDuration(getEnv("WELCOME_DELAY", "30m")),
		WelcomeJitter:       mustDuration(getEnv("WELCOME_JITTER", "60m")),
		Followup1After:      time.Duration(mustInt(getEnv("FOLLOWUP1_HOURS", "24"))) * time.Hour,
		Followup2After:      time.Duration(mustInt(getEnv("FOLLOWUP2_HOURS", "72"))) * time.Hour,
		FollowupHourStart:   mustInt(getEnv("FOLLOWUP_HOUR_START", "9")),
		FollowupHourEnd:     mustInt(getEnv("FOLLOWUP_HOUR_END", "20")),
		Location:            location,
		LeadMaxAge:          mustDuration(getEnv("LEAD_MAX_AGE", "168h")),
		FailedLeadRetention: mustDuration(getEnv("FAILED_LEAD_RETENTION", "24h")),
		RecordTTL:           mustDuration(getEnv("RECORD_TTL", "720h")),

		SessionWindow:   mustDuration(getEnv("SESSION_WINDOW", "23h30m")),
		RelayMappingTTL: mustDuration(getEnv("RELAY_MAPPING_TTL", "168h")),
		SeenTTL:         mustDuration(getEnv("SEEN_TTL", "24h")),
		ExcerptMaxRunes: mustInt(getEnv("EXCERPT_MAX_CHARS", "250")),

		EmailEnabled:     emailEnabled && (emailAPIKey != "" || smtpHost != ""),
		EmailAPIURL:      getEnv("EMAIL_API_URL", "https://api.resend.com/emails"),
		EmailAPIKey:      emailAPIKey,
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Lead Relay"),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		OwnerEmail:       getEnv("OWNER_EMAIL", ""),
		EmailTimeout:     mustDuration(getEnv("EMAIL_TIMEOUT", "10s")),
		SMTPHost:         smtpHost,
		SMTPPort:         mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),

		AdminKey:            getEnv("ADMIN_KEY", ""),
		DashboardSessionTTL: mustDuration(getEnv("DASHBOARD_SESSION_TTL", "24h")),
		CookieSecure:        strings.EqualFold(getEnv("APP_ENV", "development"), "production"),
	}

	if path := getEnv("TEMPLATES_FILE", ""); path != "" {
		overrides, err := LoadTemplateCatalog(path)
		if err != nil {
			return nil, err
		}
		cfg.Templates = mergeTemplates(cfg.Templates, overrides)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.VerifyToken == "" {
		return fmt.Errorf("VERIFY_TOKEN is required")
	}
	if c.WhatsAppToken == "" || c.WhatsAppPhoneID == "" {
		return fmt.Errorf("WHATSAPP_TOKEN and WHATSAPP_PHONE_ID are required")
	}
	if c.OwnerPhone == "" {
		return fmt.Errorf("OWNER_PHONE is required")
	}
	if c.AdminKey == "" {
		return fmt.Errorf("ADMIN_KEY is required")
	}
	switch c.StoreDriver {
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_DRIVER is redis")
		}
	case "pebble":
		if c.PebblePath == "" {
			return fmt.Errorf("PEBBLE_PATH is required when STORE_DRIVER is pebble")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if !gronx.IsValid(c.SweepCron) {
		return fmt.Errorf("invalid SWEEP_CRON expression: %s", c.SweepCron)
	}
	if c.FollowupHourStart < 0 || c.FollowupHourEnd > 24 || c.FollowupHourStart >= c.FollowupHourEnd {
		return fmt.Errorf("FOLLOWUP_HOUR_START must be before FOLLOWUP_HOUR_END within 0-24")
	}
	if c.Followup1After <= 0 || c.Followup2After <= c.Followup1After {
		return fmt.Errorf("FOLLOWUP2_HOURS must be greater than FOLLOWUP1_HOURS")
	}
	// records and markers must expire; a malformed duration parses as zero
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"RECORD_TTL", c.RecordTTL},
		{"SEEN_TTL", c.SeenTTL},
		{"RELAY_MAPPING_TTL", c.RelayMappingTTL},
		{"LEAD_MAX_AGE", c.LeadMaxAge},
		{"SESSION_WINDOW", c.SessionWindow},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be a positive duration such as 720h", d.key)
		}
	}
	if c.EmailEnabled && c.EmailFromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
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
