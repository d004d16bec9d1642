package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"crispy/utils"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads from YAML as a Go duration string ("5s", "1h").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	PublicURL string `yaml:"public_url"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
	PublicURL       string `yaml:"public_url"`
}

type StorageConfig struct {
	Backend string    `yaml:"backend"` // local, s3 or gcs
	S3      S3Config  `yaml:"s3"`
	GCS     GCSConfig `yaml:"gcs"`
}

// Config is the runtime configuration of the server and the CLI.
type Config struct {
	Port          string   `yaml:"port"`
	DBDriver      string   `yaml:"db_driver"`
	DBPath        string   `yaml:"db_path"`
	BackupDir     string   `yaml:"backup_dir"`
	UploadDir     string   `yaml:"upload_dir"`
	ModerationLog string   `yaml:"moderation_log"`
	AdminKey      string   `yaml:"admin_key"`
	AdminKeyHash  string   `yaml:"admin_key_hash"`
	RedisURL      string   `yaml:"redis_url"`
	LogLevel      string   `yaml:"log_level"`
	CORSOrigins   []string `yaml:"cors_origins"`

	AllocLockTimeout Duration `yaml:"alloc_lock_timeout"`
	RedisLockTTL     Duration `yaml:"redis_lock_ttl"`
	RequestTimeout   Duration `yaml:"request_timeout"`
	RateEvery        Duration `yaml:"rate_every"`
	RateBurst        int      `yaml:"rate_burst"`
	RatePrune        Duration `yaml:"rate_prune"`
	RateExpire       Duration `yaml:"rate_expire"`

	Storage StorageConfig `yaml:"storage"`
}

func mustDuration(s string) Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return Duration(d)
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:             "3001",
		DBDriver:         "sqlite3",
		DBPath:           "./crispy.db",
		BackupDir:        "./backups",
		UploadDir:        "./uploads",
		ModerationLog:    "./data/moderation.log",
		LogLevel:         "info",
		CORSOrigins:      []string{"*"},
		AllocLockTimeout: mustDuration(DefaultAllocLockTimeout),
		RedisLockTTL:     mustDuration(DefaultRedisLockTTL),
		RequestTimeout:   mustDuration(DefaultRequestTimeout),
		RateEvery:        mustDuration(DefaultRateLimitEvery),
		RateBurst:        DefaultRateLimitBurst,
		RatePrune:        mustDuration(DefaultRateLimitPrune),
		RateExpire:       mustDuration(DefaultRateLimitExpire),
		Storage: StorageConfig{
			Backend: "local",
			S3:      S3Config{Region: "us-east-1", UseSSL: true},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and CRISPY_* environment variables, in that order.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv(logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("unsupported db_driver %q (want sqlite3 or sqlite)", c.DBDriver)
	}
	switch c.Storage.Backend {
	case "local", "s3", "gcs":
	default:
		return fmt.Errorf("unsupported storage backend %q (want local, s3 or gcs)", c.Storage.Backend)
	}
	if c.AllocLockTimeout <= 0 {
		return fmt.Errorf("alloc_lock_timeout must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) applyEnv(logger *slog.Logger) {
	str := func(key string, dst *string) {
		*dst = utils.GetEnv(key, *dst)
	}
	dur := func(key string, dst *Duration) {
		raw := utils.GetEnv(key, "")
		if raw == "" {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			logger.Warn("Invalid duration in environment, keeping current value", "key", key, "value", raw, "current", dst.Std().String())
			return
		}
		*dst = Duration(d)
	}

	str("CRISPY_PORT", &c.Port)
	str("CRISPY_DB_DRIVER", &c.DBDriver)
	str("CRISPY_DB_PATH", &c.DBPath)
	str("CRISPY_BACKUP_DIR", &c.BackupDir)
	str("CRISPY_UPLOAD_DIR", &c.UploadDir)
	str("CRISPY_MODERATION_LOG", &c.ModerationLog)
	str("CRISPY_ADMIN_KEY", &c.AdminKey)
	str("CRISPY_ADMIN_KEY_HASH", &c.AdminKeyHash)
	str("CRISPY_REDIS_URL", &c.RedisURL)
	str("CRISPY_LOG_LEVEL", &c.LogLevel)
	c.CORSOrigins = utils.GetEnvList("CRISPY_CORS_ORIGINS", c.CORSOrigins)

	dur("CRISPY_ALLOC_LOCK_TIMEOUT", &c.AllocLockTimeout)
	dur("CRISPY_REDIS_LOCK_TTL", &c.RedisLockTTL)
	dur("CRISPY_REQUEST_TIMEOUT", &c.RequestTimeout)
	dur("CRISPY_RATE_EVERY", &c.RateEvery)
	dur("CRISPY_RATE_PRUNE", &c.RatePrune)
	dur("CRISPY_RATE_EXPIRE", &c.RateExpire)
	if raw := utils.GetEnv("CRISPY_RATE_BURST", ""); raw != "" {
		burst, err := strconv.Atoi(raw)
		if err != nil {
			logger.Warn("Invalid CRISPY_RATE_BURST integer, using default", "value", raw, "default", c.RateBurst)
		} else {
			c.RateBurst = burst
		}
	}

	str("CRISPY_STORAGE_BACKEND", &c.Storage.Backend)
	str("CRISPY_S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("CRISPY_S3_ACCESS_KEY", &c.Storage.S3.AccessKey)
	str("CRISPY_S3_SECRET_KEY", &c.Storage.S3.SecretKey)
	str("CRISPY_S3_BUCKET", &c.Storage.S3.Bucket)
	str("CRISPY_S3_REGION", &c.Storage.S3.Region)
	str("CRISPY_S3_PUBLIC_URL", &c.Storage.S3.PublicURL)
	if raw := utils.GetEnv("CRISPY_S3_USE_SSL", ""); raw != "" {
		c.Storage.S3.UseSSL = raw == "true"
	}
	str("CRISPY_GCS_BUCKET", &c.Storage.GCS.Bucket)
	str("CRISPY_GCS_CREDENTIALS_FILE", &c.Storage.GCS.CredentialsFile)
	str("CRISPY_GCS_PUBLIC_URL", &c.Storage.GCS.PublicURL)
}
