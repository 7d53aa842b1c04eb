package config

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Catalog
		Dedup
		Canonical
		Import
		Tasks
		ReResolve
		Audit
	}

	HTTP struct {
		Port int32
		Host string
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Database struct {
		Path      string
		TasksPath string
	}
	Catalog struct {
		Enabled      bool
		BaseURL      string
		Timeout      time.Duration
		ResultLimit  int
		RateInterval time.Duration // Minimum gap between catalog requests
	}
	Dedup struct {
		UpdateThreshold float64 // Similarity at or above which stored text is replaced
		MinThreshold    float64 // Similarity at or above which an entry goes to review
		AutoUpdate      bool
	}
	Canonical struct {
		CacheSize         int
		VerifiedThreshold float64
		ConfirmThreshold  float64
	}
	Import struct {
		MaxSizeMB int
	}
	Tasks struct {
		Enabled         bool
		Workers         int
		ReleaseAfter    time.Duration
		CleanupInterval time.Duration
	}
	ReResolve struct {
		Enabled  bool
		Schedule string // Cron format: "0 3 * * *" = daily at 03:00
	}
	Audit struct {
		RetentionDays int // Days to keep audit events (default: 30)
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8188)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 2)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("tasks_database_path", DefaultTasksDatabasePath)

	// External catalog defaults
	v.SetDefault("catalog_enabled", true)
	v.SetDefault("catalog_base_url", "https://openlibrary.org")
	v.SetDefault("catalog_timeout", "5s")
	v.SetDefault("catalog_result_limit", 5)
	v.SetDefault("catalog_rate_interval", "1s")

	// Matching defaults
	v.SetDefault("dedup_update_threshold", 0.9)
	v.SetDefault("dedup_min_threshold", 0.8)
	v.SetDefault("dedup_auto_update", true)
	v.SetDefault("canonical_cache_size", 1024)
	v.SetDefault("canonical_verified_threshold", 0.9)
	v.SetDefault("canonical_confirm_threshold", 0.7)

	v.SetDefault("max_import_size_mb", 10)

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")

	v.SetDefault("reresolve_enabled", false)
	v.SetDefault("reresolve_schedule", "0 3 * * *") // Daily at 03:00
	v.SetDefault("audit_retention_days", 30)

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path:      v.GetString("DATABASE_PATH"),
			TasksPath: v.GetString("TASKS_DATABASE_PATH"),
		},
		Catalog: Catalog{
			Enabled:      v.GetBool("CATALOG_ENABLED"),
			BaseURL:      v.GetString("CATALOG_BASE_URL"),
			Timeout:      v.GetDuration("CATALOG_TIMEOUT"),
			ResultLimit:  v.GetInt("CATALOG_RESULT_LIMIT"),
			RateInterval: v.GetDuration("CATALOG_RATE_INTERVAL"),
		},
		Dedup: Dedup{
			UpdateThreshold: v.GetFloat64("DEDUP_UPDATE_THRESHOLD"),
			MinThreshold:    v.GetFloat64("DEDUP_MIN_THRESHOLD"),
			AutoUpdate:      v.GetBool("DEDUP_AUTO_UPDATE"),
		},
		Canonical: Canonical{
			CacheSize:         v.GetInt("CANONICAL_CACHE_SIZE"),
			VerifiedThreshold: v.GetFloat64("CANONICAL_VERIFIED_THRESHOLD"),
			ConfirmThreshold:  v.GetFloat64("CANONICAL_CONFIRM_THRESHOLD"),
		},
		Import: Import{
			MaxSizeMB: v.GetInt("MAX_IMPORT_SIZE_MB"),
		},
		Tasks: Tasks{
			Enabled:         v.GetBool("TASKS_ENABLED"),
			Workers:         v.GetInt("TASK_WORKERS"),
			ReleaseAfter:    v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval: v.GetDuration("TASK_CLEANUP_INTERVAL"),
		},
		ReResolve: ReResolve{
			Enabled:  v.GetBool("RERESOLVE_ENABLED"),
			Schedule: v.GetString("RERESOLVE_SCHEDULE"),
		},
		Audit: Audit{
			RetentionDays: v.GetInt("AUDIT_RETENTION_DAYS"),
		},
	}
}

// MaxImportBytes is the largest clippings upload accepted.
func (c *Config) MaxImportBytes() int64 {
	return int64(c.Import.MaxSizeMB) << 20
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.Path, validation.Required),
	); err != nil {
		return err
	}
	if err := c.Catalog.Validate(); err != nil {
		return err
	}
	if err := c.Dedup.Validate(); err != nil {
		return err
	}
	if err := c.Canonical.Validate(); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Import,
		validation.Field(&c.Import.MaxSizeMB, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	if err := c.Tasks.Validate(); err != nil {
		return err
	}
	return c.ReResolve.Validate()
}

// Validate validates the HTTP configuration.
func (c *HTTP) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(int32(1)), validation.Max(int32(65535))),
	)
}

// Validate validates the catalog configuration. A disabled catalog needs nothing else.
func (c *Catalog) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required),
		validation.Field(&c.Timeout, validation.Required),
		validation.Field(&c.ResultLimit, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

// Validate validates the dedup thresholds. Review must start at or below
// the update threshold.
func (c *Dedup) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.UpdateThreshold, validation.Required, validation.Max(1.0)),
		validation.Field(&c.MinThreshold, validation.Required, validation.Max(c.UpdateThreshold)),
	)
}

// Validate validates the canonical resolver configuration.
func (c *Canonical) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.CacheSize, validation.Min(0)),
		validation.Field(&c.VerifiedThreshold, validation.Required, validation.Max(1.0)),
		validation.Field(&c.ConfirmThreshold, validation.Required, validation.Max(c.VerifiedThreshold)),
	)
}

// Validate validates the task queue configuration.
func (c *Tasks) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
		validation.Field(&c.ReleaseAfter, validation.Min(time.Minute)),
	)
}

// Validate validates the re-resolve schedule.
func (c *ReResolve) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Schedule, validation.Required, validation.By(func(value any) error {
			_, err := cron.ParseStandard(value.(string))
			return err
		})),
	)
}
