package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Instantly    InstantlyConfig    `yaml:"instantly"`
	Snowflake    SnowflakeConfig    `yaml:"snowflake"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Sync         SyncConfig         `yaml:"sync"`
	Verification VerificationConfig `yaml:"verification"`
	Notify       NotifyConfig       `yaml:"notify"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// InstantlyConfig holds campaign execution API configuration
type InstantlyConfig struct {
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	SMBCampaignID     string `yaml:"smb_campaign_id"`
	MidsizeCampaignID string `yaml:"midsize_campaign_id"`
	PageSize          int    `yaml:"page_size"`
}

// Timeout returns the configured timeout as a duration
func (c InstantlyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CampaignIDs returns the configured campaign ids, SMB first.
func (c InstantlyConfig) CampaignIDs() []string {
	ids := make([]string, 0, 2)
	if c.SMBCampaignID != "" {
		ids = append(ids, c.SMBCampaignID)
	}
	if c.MidsizeCampaignID != "" {
		ids = append(ids, c.MidsizeCampaignID)
	}
	return ids
}

// SnowflakeConfig holds Snowflake configuration for the candidate view
type SnowflakeConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	View      string `yaml:"view"`
	Enabled   bool   `yaml:"enabled"`
}

// DatabaseConfig holds the operational Postgres configuration
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis configuration for the cycle lock
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// SyncConfig holds the tuning knobs for a reconciliation cycle
type SyncConfig struct {
	MailboxCount        int     `yaml:"mailbox_count"`
	PerMailboxDaily     int     `yaml:"per_mailbox_daily"`
	InventoryMultiplier float64 `yaml:"inventory_multiplier"`
	InventoryHardCap    int     `yaml:"inventory_hard_cap"`

	TargetLeads       int `yaml:"target_leads"`
	BatchSize         int `yaml:"batch_size"`
	BatchPauseSeconds int `yaml:"batch_pause_seconds"`
	Workers           int `yaml:"workers"`

	CooldownDays       int `yaml:"cooldown_days"`
	BounceGraceDays    int `yaml:"bounce_grace_days"`
	StaleActiveDays    int `yaml:"stale_active_days"`
	CheckThrottleHours int `yaml:"check_throttle_hours"`

	RevenueThreshold    float64 `yaml:"revenue_threshold"`
	CycleTimeoutMinutes int     `yaml:"cycle_timeout_minutes"`
	LockTTLMinutes      int     `yaml:"lock_ttl_minutes"`
	DryRun              bool    `yaml:"dry_run"`
}

// InventoryCeiling derives the active-lead ceiling from mailbox capacity,
// clamped to the hard cap.
func (c SyncConfig) InventoryCeiling() int {
	ceiling := int(float64(c.MailboxCount*c.PerMailboxDaily) * c.InventoryMultiplier)
	if c.InventoryHardCap > 0 && ceiling > c.InventoryHardCap {
		return c.InventoryHardCap
	}
	return ceiling
}

// Cooldown returns the re-enrollment cooldown window.
func (c SyncConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownDays) * 24 * time.Hour
}

// BounceGrace returns the soft-bounce observation window.
func (c SyncConfig) BounceGrace() time.Duration {
	return time.Duration(c.BounceGraceDays) * 24 * time.Hour
}

// StaleActive returns the max age before an active lead is considered stuck.
func (c SyncConfig) StaleActive() time.Duration {
	return time.Duration(c.StaleActiveDays) * 24 * time.Hour
}

// CheckThrottle returns the drain re-evaluation throttle window.
func (c SyncConfig) CheckThrottle() time.Duration {
	return time.Duration(c.CheckThrottleHours) * time.Hour
}

// BatchPause returns the pause between creation batches.
func (c SyncConfig) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseSeconds) * time.Second
}

// CycleTimeout returns the overall cycle deadline.
func (c SyncConfig) CycleTimeout() time.Duration {
	return time.Duration(c.CycleTimeoutMinutes) * time.Minute
}

// LockTTL returns the cycle lock expiry.
func (c SyncConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// VerificationConfig holds verification sub-loop settings
type VerificationConfig struct {
	Enabled         bool `yaml:"enabled"`
	RetriggerHours  int  `yaml:"retrigger_hours"`
	PollBatchSize   int  `yaml:"poll_batch_size"`
	DeleteOnInvalid bool `yaml:"delete_on_invalid"`
}

// RetriggerWindow returns how long a pending verification is left alone
// before it may be triggered again.
func (c VerificationConfig) RetriggerWindow() time.Duration {
	return time.Duration(c.RetriggerHours) * time.Hour
}

// NotifyConfig holds cycle summary delivery settings
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
	Enabled    bool   `yaml:"enabled"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c NotifyConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "" // Running on ECS or Lambda, use IAM role
	}
	return c.AWSProfile
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Instantly.BaseURL == "" {
		cfg.Instantly.BaseURL = "https://api.instantly.ai/api/v2"
	}
	if cfg.Instantly.TimeoutSeconds == 0 {
		cfg.Instantly.TimeoutSeconds = 30
	}
	if cfg.Instantly.PageSize == 0 {
		cfg.Instantly.PageSize = 100
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Sync.MailboxCount == 0 {
		cfg.Sync.MailboxCount = 50
	}
	if cfg.Sync.PerMailboxDaily == 0 {
		cfg.Sync.PerMailboxDaily = 30
	}
	if cfg.Sync.InventoryMultiplier == 0 {
		cfg.Sync.InventoryMultiplier = 3.0
	}
	if cfg.Sync.InventoryHardCap == 0 {
		cfg.Sync.InventoryHardCap = 25000
	}
	if cfg.Sync.TargetLeads == 0 {
		cfg.Sync.TargetLeads = 1000
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 50
	}
	if cfg.Sync.BatchPauseSeconds == 0 {
		cfg.Sync.BatchPauseSeconds = 2
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}
	if cfg.Sync.CooldownDays == 0 {
		cfg.Sync.CooldownDays = 90
	}
	if cfg.Sync.BounceGraceDays == 0 {
		cfg.Sync.BounceGraceDays = 7
	}
	if cfg.Sync.StaleActiveDays == 0 {
		cfg.Sync.StaleActiveDays = 90
	}
	if cfg.Sync.CheckThrottleHours == 0 {
		cfg.Sync.CheckThrottleHours = 24
	}
	if cfg.Sync.RevenueThreshold == 0 {
		cfg.Sync.RevenueThreshold = 1_000_000
	}
	if cfg.Sync.CycleTimeoutMinutes == 0 {
		cfg.Sync.CycleTimeoutMinutes = 55
	}
	if cfg.Sync.LockTTLMinutes == 0 {
		cfg.Sync.LockTTLMinutes = 60
	}
	if cfg.Verification.RetriggerHours == 0 {
		cfg.Verification.RetriggerHours = 24
	}
	if cfg.Verification.PollBatchSize == 0 {
		cfg.Verification.PollBatchSize = 200
	}
	if cfg.Snowflake.Database == "" {
		cfg.Snowflake.Database = "IGNITE_DATA_LAKE"
	}
	if cfg.Snowflake.Schema == "" {
		cfg.Snowflake.Schema = "OUTREACH"
	}
	if cfg.Snowflake.View == "" {
		cfg.Snowflake.View = "V_READY_FOR_OUTREACH"
	}
	if cfg.Notify.S3Region == "" {
		cfg.Notify.S3Region = "us-west-2"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if apiKey := os.Getenv("INSTANTLY_API_KEY"); apiKey != "" {
		cfg.Instantly.APIKey = apiKey
	}
	if baseURL := os.Getenv("INSTANTLY_BASE_URL"); baseURL != "" {
		cfg.Instantly.BaseURL = baseURL
	}
	if v := os.Getenv("INSTANTLY_SMB_CAMPAIGN_ID"); v != "" {
		cfg.Instantly.SMBCampaignID = v
	}
	if v := os.Getenv("INSTANTLY_MIDSIZE_CAMPAIGN_ID"); v != "" {
		cfg.Instantly.MidsizeCampaignID = v
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SNOWFLAKE_ACCOUNT"); v != "" {
		cfg.Snowflake.Account = v
	}
	if v := os.Getenv("SNOWFLAKE_USER"); v != "" {
		cfg.Snowflake.User = v
	}
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		cfg.Snowflake.Password = v
	}
	if v := os.Getenv("SNOWFLAKE_WAREHOUSE"); v != "" {
		cfg.Snowflake.Warehouse = v
	}

	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
		cfg.Notify.Enabled = true
	}
	if v := os.Getenv("NOTIFY_S3_BUCKET"); v != "" {
		cfg.Notify.S3Bucket = v
	}

	if v := os.Getenv("DRY_RUN"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DRY_RUN value %q: %w", v, err)
		}
		cfg.Sync.DryRun = dryRun
	}
	if v := os.Getenv("SYNC_TARGET_LEADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SYNC_TARGET_LEADS value %q: %w", v, err)
		}
		cfg.Sync.TargetLeads = n
	}

	return cfg, nil
}

// Validate checks that the configuration is runnable.
func (c *Config) Validate() error {
	if c.Instantly.APIKey == "" {
		return fmt.Errorf("instantly api key is required")
	}
	if len(c.Instantly.CampaignIDs()) == 0 {
		return fmt.Errorf("at least one campaign id is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if c.Sync.InventoryCeiling() <= 0 {
		return fmt.Errorf("inventory ceiling must be positive")
	}
	return nil
}
