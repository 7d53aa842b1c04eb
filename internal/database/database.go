package database

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/marginalia/internal/entities"
)

// models lists every table owned by the library database, in migration order.
var models = []any{
	&entities.ImportSession{},
	&entities.CanonicalBook{},
	&entities.CanonicalLinkAudit{},
	&entities.BookAlias{},
	&entities.Book{},
	&entities.Note{},
	&entities.NoteRevision{},
	&entities.BookLinkRevision{},
	&entities.ReviewItem{},
	&entities.AuditEvent{},
}

type Database struct {
	DB *gorm.DB
}

// Option adjusts the gorm configuration before the database is opened.
type Option func(*gorm.Config)

// WithLogLevel overrides the SQL log level (logger.Warn by default).
func WithLogLevel(level logger.LogLevel) Option {
	return func(c *gorm.Config) {
		c.Logger = c.Logger.LogMode(level)
	}
}

// WithLogOutput sends SQL logs to w instead of stdout. It resets the level,
// so pass it before WithLogLevel.
func WithLogOutput(w io.Writer) Option {
	return func(c *gorm.Config) {
		c.Logger = newLogger(w, logger.Warn)
	}
}

// newLogger is gorm's default logger, except that lookups which find nothing
// are not reported.
func newLogger(w io.Writer, level logger.LogLevel) logger.Interface {
	return logger.New(log.New(w, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  w == os.Stdout,
	})
}

// NewDatabase opens the SQLite file at dbPath in WAL mode and migrates every
// model. The file is created if missing; its directory is not.
func NewDatabase(dbPath string, opts ...Option) (*Database, error) {
	cfg := &gorm.Config{Logger: newLogger(os.Stdout, logger.Warn)}
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_journal=WAL&_busy_timeout=5000"), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("Database initialized successfully at %s", dbPath)

	return &Database{DB: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Stats holds row counts shown on the health endpoint.
type Stats struct {
	Books             int64 `json:"books"`
	Notes             int64 `json:"notes"`
	CanonicalBooks    int64 `json:"canonical_books"`
	ProvisionalBooks  int64 `json:"provisional_books"`
	PendingReviews    int64 `json:"pending_reviews"`
	CompletedSessions int64 `json:"completed_sessions"`
}

func (d *Database) GetStats() (*Stats, error) {
	var s Stats
	counts := []struct {
		query *gorm.DB
		dest  *int64
	}{
		{d.DB.Model(&entities.Book{}), &s.Books},
		{d.DB.Model(&entities.Note{}), &s.Notes},
		{d.DB.Model(&entities.CanonicalBook{}), &s.CanonicalBooks},
		{d.DB.Model(&entities.CanonicalBook{}).Where("match_status = ?", entities.MatchStatusProvisional), &s.ProvisionalBooks},
		{d.DB.Model(&entities.ReviewItem{}).Where("status = ?", entities.ReviewStatusPending), &s.PendingReviews},
		{d.DB.Model(&entities.ImportSession{}).Where("status = ?", entities.ImportStatusCompleted), &s.CompletedSessions},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("count rows: %w", err)
		}
	}
	return &s, nil
}
