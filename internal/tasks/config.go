package tasks

import "time"

// Config describes the background queue and the SQLite file it lives in.
// Retry and retention settings are per queue; see each task's Config method.
type Config struct {
	// Path of the queue database. It must not be the library database.
	Path string

	Workers int

	// ReleaseAfter hands a task claimed by a crashed worker back to the queue.
	ReleaseAfter time.Duration

	// CleanupInterval is how often finished tasks past their retention are purged.
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Path:            "./marginalia-tasks.db",
		Workers:         2,
		ReleaseAfter:    15 * time.Minute,
		CleanupInterval: time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.ReleaseAfter <= 0 {
		c.ReleaseAfter = d.ReleaseAfter
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	return c
}
