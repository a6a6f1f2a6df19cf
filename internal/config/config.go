package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	API struct {
		BaseURL        string  `yaml:"base_url"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
		PageSize       int     `yaml:"page_size"`
	} `yaml:"api"`

	Google struct {
		ClientID string `yaml:"client_id"`
	} `yaml:"google"`

	Session struct {
		// Backend is "sqlite" (default) or "redis".
		Backend      string `yaml:"backend"`
		DatabasePath string `yaml:"database_path"`
		RedisPrefix  string `yaml:"redis_prefix"`
	} `yaml:"session"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Uploads struct {
		MaxFileMB  int    `yaml:"max_file_mb"`
		MaxTotalMB int    `yaml:"max_total_mb"`
		MaxFiles   int    `yaml:"max_files"`
		PreviewDir string `yaml:"preview_dir"`
	} `yaml:"uploads"`

	Backup BackupConfig `yaml:"backup"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

// BackupConfig schedules copies of the sqlite session database.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Interval defaults to daily.
func (b BackupConfig) Interval() time.Duration {
	if b.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.IntervalHours) * time.Hour
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Session.Backend == "" {
		cfg.Session.Backend = "sqlite"
	}
	if cfg.Session.DatabasePath == "" {
		cfg.Session.DatabasePath = "data/tileworks.db"
	}
	if cfg.Session.RedisPrefix == "" {
		cfg.Session.RedisPrefix = "tileworks:session"
	}

	if cfg.Backup.StoragePath == "" {
		cfg.Backup.StoragePath = "data/backups"
	}

	if cfg.Session.Backend == "sqlite" {
		if err = os.MkdirAll(filepath.Dir(cfg.Session.DatabasePath), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	switch c.Session.Backend {
	case "", "sqlite":
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("session.backend is redis but redis.address is empty")
		}
	default:
		return fmt.Errorf("unknown session.backend %q", c.Session.Backend)
	}
	if c.API.RateLimitRPS < 0 {
		return fmt.Errorf("api.rate_limit_rps cannot be negative")
	}
	return nil
}

// HTTPTimeout is zero unless configured, leaving the platform default in place.
func (c *Config) HTTPTimeout() time.Duration {
	if c.API.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c *Config) PageSize() int {
	if c.API.PageSize <= 0 {
		return 10
	}
	return c.API.PageSize
}

func (c *Config) MaxFileBytes() int64 {
	if c.Uploads.MaxFileMB <= 0 {
		return 10 << 20
	}
	return int64(c.Uploads.MaxFileMB) << 20
}

func (c *Config) MaxTotalBytes() int64 {
	if c.Uploads.MaxTotalMB <= 0 {
		return 50 << 20
	}
	return int64(c.Uploads.MaxTotalMB) << 20
}

func (c *Config) MaxFiles() int {
	if c.Uploads.MaxFiles <= 0 {
		return 5
	}
	return c.Uploads.MaxFiles
}
