// Package config provides YAML-based configuration loading for matreq.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level matreq configuration, loaded from matreq.yaml and
// then overridden from the environment.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Images   ImagesConfig   `yaml:"images"`
	Requests RequestsConfig `yaml:"requests"`
	Log      LogConfig      `yaml:"log"`
	Notify   NotifyConfig   `yaml:"notify"`
	Backup   BackupConfig   `yaml:"backup"`
	Lock     LockConfig     `yaml:"lock"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig selects the relational backend. An empty URL means the
// SQLite file at Path.
type DatabaseConfig struct {
	URL  string `yaml:"url"`
	Path string `yaml:"path"`
	// BackupJSON is a snapshot restored into an empty table on first start in
	// the cloud environment. Only settable through DB_BACKUP_JSON.
	BackupJSON string `yaml:"-"`
}

// ImagesConfig locates the image directory.
type ImagesConfig struct {
	Dir string `yaml:"dir"`
}

// RequestsConfig tunes request lifecycle rules.
type RequestsConfig struct {
	StatusPolicy string `yaml:"status_policy"` // permissive or enforced
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// NotifyConfig holds chat webhook targets. Empty values disable a target.
type NotifyConfig struct {
	SlackWebhookURL   string `yaml:"slack_webhook_url"`
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
}

// BackupConfig enables scheduled JSON snapshots when Schedule is set.
type BackupConfig struct {
	Schedule string `yaml:"schedule"` // 5-field cron expression
	Dir      string `yaml:"dir"`
	Keep     int    `yaml:"keep"`
}

// LockConfig selects the write lock. An empty RedisAddr keeps the lock in
// process.
type LockConfig struct {
	RedisAddr string `yaml:"redis_addr"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOptional behaves like Load but returns the defaults when path does not
// exist, so the server can start with no config file at all.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Parse(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides settings from environment variables and re-validates.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("DATABASE_URL", &c.Database.URL)
	str("DB_PATH", &c.Database.Path)
	str("DB_BACKUP_JSON", &c.Database.BackupJSON)
	str("IMAGES_DIR", &c.Images.Dir)
	str("STATUS_POLICY", &c.Requests.StatusPolicy)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("SLACK_WEBHOOK_URL", &c.Notify.SlackWebhookURL)
	str("DISCORD_WEBHOOK_URL", &c.Notify.DiscordWebhookURL)
	str("BACKUP_SCHEDULE", &c.Backup.Schedule)
	str("BACKUP_DIR", &c.Backup.Dir)
	str("REDIS_ADDRESS", &c.Lock.RedisAddr)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT %q is not a number", v)
		}
		c.Server.Port = port
	}

	c.applyDefaults()
	return c.validate()
}

// applyDefaults fills in default values. Paths are left empty here and
// filled by ResolvePaths, which depends on the runtime environment.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Requests.StatusPolicy == "" {
		c.Requests.StatusPolicy = "permissive"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Backup.Keep == 0 {
		c.Backup.Keep = 14
	}
}

// validate checks that all values are consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Requests.StatusPolicy {
	case "permissive", "enforced":
	default:
		errs = append(errs, fmt.Sprintf("requests.status_policy %q must be permissive or enforced", c.Requests.StatusPolicy))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Backup.Keep < 0 {
		errs = append(errs, "backup.keep must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
