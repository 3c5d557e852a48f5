package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/entitle/pkg/billing"
	"github.com/platinummonkey/entitle/pkg/notify"
	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/storage"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// FileEnv names the optional YAML config file
const FileEnv = "ENTITLE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	Session SessionConfig `yaml:"session"`
	Billing BillingConfig `yaml:"billing"`
	Notify  NotifyConfig  `yaml:"notify"`
	Jobs    JobsConfig    `yaml:"jobs"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s liveness and readiness checks)
	HealthPort string `yaml:"health_port"`

	// AppURL is the public front end, used in invitation links
	AppURL         string   `yaml:"app_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// InvitesPerHour limits invitations sent by one user
	InvitesPerHour int `yaml:"invites_per_hour"`
}

// SessionConfig identifies who signs session tokens
type SessionConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// BillingConfig holds payment provider settings
type BillingConfig struct {
	StripeAPIKey     string                  `yaml:"stripe_api_key"`
	StripeBaseURL    string                  `yaml:"stripe_base_url"`
	ProviderTimeout  time.Duration           `yaml:"provider_timeout"`
	WebhookSecret    string                  `yaml:"webhook_secret"`
	WebhookTolerance time.Duration           `yaml:"webhook_tolerance"`
	Prices           map[billing.Plan]string `yaml:"prices"`
	SuccessURL       string                  `yaml:"success_url"`
	CancelURL        string                  `yaml:"cancel_url"`
	PortalReturnURL  string                  `yaml:"portal_return_url"`
}

// Stripe returns the provider client config
func (b BillingConfig) Stripe() billing.StripeConfig {
	return billing.StripeConfig{
		APIKey:     b.StripeAPIKey,
		BaseURL:    b.StripeBaseURL,
		Timeout:    b.ProviderTimeout,
		Prices:     b.Prices,
		SuccessURL: b.SuccessURL,
		CancelURL:  b.CancelURL,
	}
}

// NotifyConfig points at the mail relay. An empty RelayURL logs messages instead.
type NotifyConfig struct {
	RelayURL     string        `yaml:"relay_url"`
	Timeout      time.Duration `yaml:"timeout"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Scopes       []string      `yaml:"scopes"`
}

// HTTP returns the relay client config
func (n NotifyConfig) HTTP() notify.HTTPConfig {
	return notify.HTTPConfig{
		URL:          n.RelayURL,
		Timeout:      n.Timeout,
		TokenURL:     n.TokenURL,
		ClientID:     n.ClientID,
		ClientSecret: n.ClientSecret,
		Scopes:       n.Scopes,
	}
}

// JobsConfig holds the worker's cron schedules
type JobsConfig struct {
	ExpireInvitationsSchedule string `yaml:"expire_invitations_schedule"`
	ReconcileTiersSchedule    string `yaml:"reconcile_tiers_schedule"`
	ReconcileConcurrency      int    `yaml:"reconcile_concurrency"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// OTel returns the tracing config
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			AppURL:          "http://localhost:3000",
			InvitesPerHour:  30,
		},
		Storage: storage.DefaultConfig(),
		Session: SessionConfig{Audience: "entitle"},
		Billing: BillingConfig{
			StripeBaseURL:    billing.DefaultStripeURL,
			ProviderTimeout:  10 * time.Second,
			WebhookTolerance: billing.DefaultWebhookTolerance,
			Prices:           map[billing.Plan]string{},
		},
		Notify: NotifyConfig{Timeout: notify.DefaultTimeout},
		Jobs: JobsConfig{
			ExpireInvitationsSchedule: "*/15 * * * *",
			ReconcileTiersSchedule:    "0 * * * *",
			ReconcileConcurrency:      4,
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "entitle",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig loads configuration from the file named by ENTITLE_CONFIG_FILE,
// if any, then from environment variables
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(FileEnv))
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when empty), then ENTITLE_* environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server = loadServerConfig(c.Server)
	c.Storage = loadStorageConfig(c.Storage)
	c.Session = SessionConfig{
		Issuer:   getEnv("ENTITLE_SESSION_ISSUER", c.Session.Issuer),
		Audience: getEnv("ENTITLE_SESSION_AUDIENCE", c.Session.Audience),
	}
	c.Billing = loadBillingConfig(c.Billing)
	c.Notify = loadNotifyConfig(c.Notify)
	c.Jobs = JobsConfig{
		ExpireInvitationsSchedule: getEnv("ENTITLE_EXPIRE_INVITATIONS_SCHEDULE", c.Jobs.ExpireInvitationsSchedule),
		ReconcileTiersSchedule:    getEnv("ENTITLE_RECONCILE_TIERS_SCHEDULE", c.Jobs.ReconcileTiersSchedule),
		ReconcileConcurrency:      getEnvInt("ENTITLE_RECONCILE_CONCURRENCY", c.Jobs.ReconcileConcurrency),
	}
	c.Observability = loadObservabilityConfig(c.Observability)
}

// loadServerConfig loads server configuration from environment
func loadServerConfig(cfg ServerConfig) ServerConfig {
	return ServerConfig{
		Host:            getEnv("ENTITLE_HOST", cfg.Host),
		Port:            getEnv("ENTITLE_PORT", cfg.Port),
		ReadTimeout:     getEnvDuration("ENTITLE_READ_TIMEOUT", cfg.ReadTimeout),
		WriteTimeout:    getEnvDuration("ENTITLE_WRITE_TIMEOUT", cfg.WriteTimeout),
		IdleTimeout:     getEnvDuration("ENTITLE_IDLE_TIMEOUT", cfg.IdleTimeout),
		ShutdownTimeout: getEnvDuration("ENTITLE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout),
		HealthPort:      getEnv("ENTITLE_HEALTH_PORT", cfg.HealthPort),
		AppURL:          strings.TrimRight(getEnv("ENTITLE_APP_URL", cfg.AppURL), "/"),
		AllowedOrigins:  getEnvList("ENTITLE_ALLOWED_ORIGINS", cfg.AllowedOrigins),
		InvitesPerHour:  getEnvInt("ENTITLE_INVITES_PER_HOUR", cfg.InvitesPerHour),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig(cfg storage.Config) storage.Config {
	cfg.Driver = getEnv("ENTITLE_DB_DRIVER", cfg.Driver)
	cfg.URL = getEnv("ENTITLE_DB_URL", cfg.URL)
	if maxConns := getEnvInt("ENTITLE_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("ENTITLE_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.Timeout = getEnvDuration("ENTITLE_DB_TIMEOUT", cfg.Timeout)
	if attempts := getEnvInt("ENTITLE_DB_TX_ATTEMPTS", 0); attempts > 0 {
		cfg.TxAttempts = attempts
	}

	// Redis config
	cfg.RedisURL = getEnv("ENTITLE_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("ENTITLE_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("ENTITLE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("ENTITLE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("ENTITLE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("ENTITLE_CACHE_ENABLED", cfg.CacheEnabled)
	cfg.CacheTTL = getEnvDuration("ENTITLE_CACHE_TTL", cfg.CacheTTL)
	if l1CacheSize := getEnvInt("ENTITLE_L1_CACHE_SIZE", 0); l1CacheSize > 0 {
		cfg.L1CacheSize = l1CacheSize
	}
	cfg.L1CacheTTL = getEnvDuration("ENTITLE_L1_CACHE_TTL", cfg.L1CacheTTL)

	return cfg
}

func loadBillingConfig(cfg BillingConfig) BillingConfig {
	cfg.StripeAPIKey = getEnv("ENTITLE_STRIPE_API_KEY", cfg.StripeAPIKey)
	cfg.StripeBaseURL = getEnv("ENTITLE_STRIPE_BASE_URL", cfg.StripeBaseURL)
	cfg.ProviderTimeout = getEnvDuration("ENTITLE_STRIPE_TIMEOUT", cfg.ProviderTimeout)
	cfg.WebhookSecret = getEnv("ENTITLE_STRIPE_WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.WebhookTolerance = getEnvDuration("ENTITLE_STRIPE_WEBHOOK_TOLERANCE", cfg.WebhookTolerance)
	cfg.SuccessURL = getEnv("ENTITLE_BILLING_SUCCESS_URL", cfg.SuccessURL)
	cfg.CancelURL = getEnv("ENTITLE_BILLING_CANCEL_URL", cfg.CancelURL)
	cfg.PortalReturnURL = getEnv("ENTITLE_BILLING_PORTAL_RETURN_URL", cfg.PortalReturnURL)

	prices := make(map[billing.Plan]string, len(billing.Plans))
	for plan, price := range cfg.Prices {
		prices[plan] = price
	}
	for _, plan := range billing.Plans {
		key := "ENTITLE_STRIPE_PRICE_" + strings.ToUpper(string(plan))
		if price := getEnv(key, ""); price != "" {
			prices[plan] = price
		}
	}
	cfg.Prices = prices

	return cfg
}

func loadNotifyConfig(cfg NotifyConfig) NotifyConfig {
	return NotifyConfig{
		RelayURL:     getEnv("ENTITLE_MAIL_RELAY_URL", cfg.RelayURL),
		Timeout:      getEnvDuration("ENTITLE_MAIL_TIMEOUT", cfg.Timeout),
		TokenURL:     getEnv("ENTITLE_MAIL_TOKEN_URL", cfg.TokenURL),
		ClientID:     getEnv("ENTITLE_MAIL_CLIENT_ID", cfg.ClientID),
		ClientSecret: getEnv("ENTITLE_MAIL_CLIENT_SECRET", cfg.ClientSecret),
		Scopes:       getEnvList("ENTITLE_MAIL_SCOPES", cfg.Scopes),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig(cfg ObservabilityConfig) ObservabilityConfig {
	if level := getEnv("ENTITLE_LOG_LEVEL", ""); level != "" {
		cfg.LogLevel = observability.ParseLogLevel(level)
	}
	cfg.MetricsEnabled = getEnvBool("ENTITLE_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.OTelEnabled = getEnvBool("ENTITLE_OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv("ENTITLE_OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelServiceName = getEnv("ENTITLE_OTEL_SERVICE_NAME", cfg.OTelServiceName)
	cfg.OTelServiceVersion = getEnv("ENTITLE_OTEL_SERVICE_VERSION", cfg.OTelServiceVersion)
	cfg.OTelInsecure = getEnvBool("ENTITLE_OTEL_INSECURE", cfg.OTelInsecure)
	cfg.OTelSampleRatio = getEnvFloat("ENTITLE_OTEL_SAMPLE_RATIO", cfg.OTelSampleRatio)
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.AppURL == "" {
		return fmt.Errorf("app URL is required for invitation links")
	}
	if c.Server.InvitesPerHour < 0 {
		return fmt.Errorf("invites per hour must not be negative")
	}

	// Validate storage config
	if _, err := storage.ParseDialect(c.Storage.Driver); err != nil {
		return err
	}
	if c.Storage.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Session.Issuer == "" || c.Session.Audience == "" {
		return fmt.Errorf("session issuer and audience are required")
	}

	if c.Billing.StripeAPIKey != "" {
		if c.Billing.WebhookSecret == "" {
			return fmt.Errorf("webhook secret is required when Stripe is configured")
		}
		for _, plan := range billing.Plans {
			if c.Billing.Prices[plan] == "" {
				return fmt.Errorf("missing Stripe price for plan %s", plan)
			}
		}
	}
	for plan := range c.Billing.Prices {
		if !plan.Valid() {
			return fmt.Errorf("price configured for unknown plan %s", plan)
		}
	}

	for name, schedule := range map[string]string{
		"expire invitations": c.Jobs.ExpireInvitationsSchedule,
		"reconcile tiers":    c.Jobs.ReconcileTiersSchedule,
	} {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, schedule, err)
		}
	}
	if c.Jobs.ReconcileConcurrency <= 0 {
		return fmt.Errorf("reconcile concurrency must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
