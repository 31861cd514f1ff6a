package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen" yaml:"listen"`
	BaseURL     string   `mapstructure:"base_url" yaml:"base_url"`
	Debug       bool     `mapstructure:"debug" yaml:"debug"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	// AdminToken guards the /api/admin routes. Empty disables them.
	AdminToken string `mapstructure:"admin_token" yaml:"admin_token"`
}

// IMAPConfig holds the catch-all mailbox the poller reads from.
type IMAPConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	// PasswordKey names a keyring entry used when Password is empty.
	PasswordKey string `mapstructure:"password_key" yaml:"password_key"`
	TLS         bool   `mapstructure:"tls" yaml:"tls"`
	// Plaintext skips TLS entirely; only for local test servers.
	Plaintext       bool   `mapstructure:"plaintext" yaml:"plaintext"`
	Mailbox         string `mapstructure:"mailbox" yaml:"mailbox"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	BatchSize       int    `mapstructure:"batch_size" yaml:"batch_size"`
	DeleteAfter     bool   `mapstructure:"delete_after_fetch" yaml:"delete_after_fetch"`
}

// SMTPConfig holds the inbound SMTP receiver settings.
type SMTPConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen          string `mapstructure:"listen" yaml:"listen"`
	Hostname        string `mapstructure:"hostname" yaml:"hostname"`
	MaxMessageBytes int64  `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MaxRecipients   int    `mapstructure:"max_recipients" yaml:"max_recipients"`
}

// StorageConfig selects the database and raw message blob backend.
type StorageConfig struct {
	DBPath  string   `mapstructure:"db_path" yaml:"db_path"`
	Blob    string   `mapstructure:"blob" yaml:"blob"`
	BlobDir string   `mapstructure:"blob_dir" yaml:"blob_dir"`
	S3      S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures an S3-compatible bucket (AWS, R2, MinIO).
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	PathStyle       bool   `mapstructure:"path_style" yaml:"path_style"`
}

// CryptoConfig locates the server signing key and the master key.
type CryptoConfig struct {
	SigningKeyFile string `mapstructure:"signing_key_file" yaml:"signing_key_file"`
	// MasterKey is base64url; MasterKeyRef names a keyring entry instead.
	MasterKey    string `mapstructure:"master_key" yaml:"master_key"`
	MasterKeyRef string `mapstructure:"master_key_ref" yaml:"master_key_ref"`
}

// AuthConfig holds access token settings.
type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTSecretRef string `mapstructure:"jwt_secret_ref" yaml:"jwt_secret_ref"`
}

// RealtimeConfig configures optional external event publishers.
type RealtimeConfig struct {
	KafkaBrokers  []string `mapstructure:"kafka_brokers" yaml:"kafka_brokers"`
	KafkaTopic    string   `mapstructure:"kafka_topic" yaml:"kafka_topic"`
	RedisURL      string   `mapstructure:"redis_url" yaml:"redis_url"`
	RedisPrefix   string   `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	HeartbeatSec  int      `mapstructure:"heartbeat_sec" yaml:"heartbeat_sec"`
	SubscriberBuf int      `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// ExpiryConfig schedules the expired address sweep.
type ExpiryConfig struct {
	Schedule  string `mapstructure:"schedule" yaml:"schedule"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"`
}

// RateLimitConfig limits address creation per client IP.
type RateLimitConfig struct {
	CreatePerMinute float64 `mapstructure:"create_per_minute" yaml:"create_per_minute"`
	Burst           int     `mapstructure:"burst" yaml:"burst"`
}

// SelfTestConfig is the outbound SMTP relay used by the self-test.
type SelfTestConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	Username   string `mapstructure:"username" yaml:"username"`
	Password   string `mapstructure:"password" yaml:"password"`
	From       string `mapstructure:"from" yaml:"from"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// ClientConfig is used by CLI commands talking to a running server.
type ClientConfig struct {
	Server string `mapstructure:"server" yaml:"server"`
	// Address is the current address created from this machine. Its
	// token and sealed secret key live in the keyring.
	Address   string `mapstructure:"address" yaml:"address"`
	AddressID string `mapstructure:"address_id" yaml:"address_id"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server    ServerConfig        `mapstructure:"server" yaml:"server"`
	Domains   []string            `mapstructure:"domains" yaml:"domains"`
	Tiers     map[Tier]TierPolicy `mapstructure:"tiers" yaml:"tiers"`
	IMAP      IMAPConfig          `mapstructure:"imap" yaml:"imap"`
	SMTP      SMTPConfig          `mapstructure:"smtp" yaml:"smtp"`
	Storage   StorageConfig       `mapstructure:"storage" yaml:"storage"`
	Crypto    CryptoConfig        `mapstructure:"crypto" yaml:"crypto"`
	Auth      AuthConfig          `mapstructure:"auth" yaml:"auth"`
	Realtime  RealtimeConfig      `mapstructure:"realtime" yaml:"realtime"`
	Expiry    ExpiryConfig        `mapstructure:"expiry" yaml:"expiry"`
	RateLimit RateLimitConfig     `mapstructure:"ratelimit" yaml:"ratelimit"`
	SelfTest  SelfTestConfig      `mapstructure:"selftest" yaml:"selftest"`
	Client    ClientConfig        `mapstructure:"client" yaml:"client"`
}

// Policy returns the limits for tier, falling back to the free tier.
func (c *AppConfig) Policy(t Tier) TierPolicy {
	if p, ok := c.Tiers[t]; ok {
		return p
	}
	return c.Tiers[TierFree]
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/tempmail/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "tempmail", "config.yaml")
}

// DefaultDataDir returns ~/.local/share/tempmail.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "tempmail")
}

func defaultTiers() map[Tier]TierPolicy {
	return map[Tier]TierPolicy{
		TierFree: {
			TTL:             time.Hour,
			MaxTTL:          24 * time.Hour,
			InboxCapacity:   50,
			MaxMessageBytes: 5 << 20,
		},
		TierPremium: {
			TTL:             24 * time.Hour,
			MaxTTL:          30 * 24 * time.Hour,
			InboxCapacity:   500,
			MaxMessageBytes: 25 << 20,
		},
		TierBusiness: {
			TTL:             7 * 24 * time.Hour,
			MaxTTL:          365 * 24 * time.Hour,
			InboxCapacity:   5000,
			MaxMessageBytes: 50 << 20,
		},
	}
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	dataDir := DefaultDataDir()
	return &AppConfig{
		Server: ServerConfig{
			Listen:  ":8080",
			BaseURL: "http://localhost:8080",
		},
		Domains: []string{"tempmail.local"},
		Tiers:   defaultTiers(),
		IMAP: IMAPConfig{
			Port:            "993",
			TLS:             true,
			Mailbox:         "INBOX",
			PollIntervalSec: 30,
			BatchSize:       50,
		},
		SMTP: SMTPConfig{
			Listen:          ":2525",
			Hostname:        "localhost",
			MaxMessageBytes: 50 << 20,
			MaxRecipients:   50,
		},
		Storage: StorageConfig{
			DBPath:  filepath.Join(dataDir, "tempmail.db"),
			Blob:    "fs",
			BlobDir: filepath.Join(dataDir, "blobs"),
			S3:      S3Config{Region: "auto"},
		},
		Crypto: CryptoConfig{
			SigningKeyFile: filepath.Join(dataDir, "signing.key"),
		},
		Realtime: RealtimeConfig{
			KafkaTopic:    "tempmail.events",
			RedisPrefix:   "tempmail",
			HeartbeatSec:  25,
			SubscriberBuf: 16,
		},
		Expiry: ExpiryConfig{
			Schedule:  "@every 1m",
			BatchSize: 100,
		},
		RateLimit: RateLimitConfig{
			CreatePerMinute: 10,
			Burst:           5,
		},
		SelfTest: SelfTestConfig{
			Port:       587,
			TimeoutSec: 120,
		},
		Client: ClientConfig{
			Server: "http://localhost:8080",
		},
	}
}

// setDefaults mirrors DefaultAppConfig into v so that environment
// variables can override any key.
func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_url", d.Server.BaseURL)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.admin_token", "")
	v.SetDefault("domains", d.Domains)
	v.SetDefault("imap.enabled", false)
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", d.IMAP.Port)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.tls", d.IMAP.TLS)
	v.SetDefault("imap.plaintext", false)
	v.SetDefault("imap.mailbox", d.IMAP.Mailbox)
	v.SetDefault("imap.poll_interval_sec", d.IMAP.PollIntervalSec)
	v.SetDefault("imap.batch_size", d.IMAP.BatchSize)
	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.listen", d.SMTP.Listen)
	v.SetDefault("smtp.hostname", d.SMTP.Hostname)
	v.SetDefault("smtp.max_message_bytes", d.SMTP.MaxMessageBytes)
	v.SetDefault("smtp.max_recipients", d.SMTP.MaxRecipients)
	v.SetDefault("storage.db_path", d.Storage.DBPath)
	v.SetDefault("storage.blob", d.Storage.Blob)
	v.SetDefault("storage.blob_dir", d.Storage.BlobDir)
	v.SetDefault("storage.s3.region", d.Storage.S3.Region)
	v.SetDefault("crypto.signing_key_file", d.Crypto.SigningKeyFile)
	v.SetDefault("crypto.master_key", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("realtime.kafka_topic", d.Realtime.KafkaTopic)
	v.SetDefault("realtime.redis_url", "")
	v.SetDefault("realtime.redis_prefix", d.Realtime.RedisPrefix)
	v.SetDefault("realtime.heartbeat_sec", d.Realtime.HeartbeatSec)
	v.SetDefault("realtime.subscriber_buffer", d.Realtime.SubscriberBuf)
	v.SetDefault("expiry.schedule", d.Expiry.Schedule)
	v.SetDefault("expiry.batch_size", d.Expiry.BatchSize)
	v.SetDefault("ratelimit.create_per_minute", d.RateLimit.CreatePerMinute)
	v.SetDefault("ratelimit.burst", d.RateLimit.Burst)
	v.SetDefault("selftest.port", d.SelfTest.Port)
	v.SetDefault("selftest.timeout_sec", d.SelfTest.TimeoutSec)
	v.SetDefault("client.server", d.Client.Server)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, defaults (plus TEMPMAIL_* environment
// overrides) are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TEMPMAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Partially specified tiers keep the defaults for missing fields.
	defaults := defaultTiers()
	for t, def := range defaults {
		p, ok := cfg.Tiers[t]
		if !ok {
			cfg.Tiers[t] = def
			continue
		}
		if p.TTL == 0 {
			p.TTL = def.TTL
		}
		if p.MaxTTL == 0 {
			p.MaxTTL = def.MaxTTL
		}
		if p.MaxMessageBytes == 0 {
			p.MaxMessageBytes = def.MaxMessageBytes
		}
		cfg.Tiers[t] = p
	}

	for i, d := range cfg.Domains {
		cfg.Domains[i] = strings.ToLower(strings.TrimSpace(d))
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("domains", cfg.Domains)
	v.Set("tiers", cfg.Tiers)
	v.Set("imap", cfg.IMAP)
	v.Set("smtp", cfg.SMTP)
	v.Set("storage", cfg.Storage)
	v.Set("crypto", cfg.Crypto)
	v.Set("auth", cfg.Auth)
	v.Set("realtime", cfg.Realtime)
	v.Set("expiry", cfg.Expiry)
	v.Set("ratelimit", cfg.RateLimit)
	v.Set("selftest", cfg.SelfTest)
	v.Set("client", cfg.Client)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
