package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteConfig holds SQLite-specific settings for the audit store.
type SQLiteConfig struct {
	Path        string // Database file path.
	JournalMode string // WAL mode by default.
}

// PostgresConfig configures the PostgreSQL connection and pool.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 30m
}

func (c PostgresConfig) maxOpen() int {
	if c.MaxOpenConns > 0 {
		return c.MaxOpenConns
	}
	return 25
}

func (c PostgresConfig) maxIdle() int {
	if c.MaxIdleConns > 0 {
		return c.MaxIdleConns
	}
	return 5
}

func (c PostgresConfig) maxLifetime() time.Duration {
	if c.ConnMaxLifetime > 0 {
		return c.ConnMaxLifetime
	}
	return 30 * time.Minute
}

// eventModel maps to the "audit_events" table.
// No UpdatedAt or DeletedAt — the trail is append-only and immutable.
type eventModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Time       time.Time `gorm:"not null;index"`
	Topology   string    `gorm:"not null"`
	SessionID  string    `gorm:"index"`
	Tool       string    `gorm:"not null;index"`
	VaultID    string    `gorm:"index"`
	AgentID    string
	Outcome    string `gorm:"not null"`
	StatusCode int
	Detail     string `gorm:"type:text"`
	DurationMS int64
}

func (eventModel) TableName() string { return "audit_events" }

// Store implements Recorder backed by a relational database via GORM.
// The same model serves both drivers; SQLite stores uuid columns as text.
type Store struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger
}

// OpenSQLite opens (or creates) a SQLite-backed audit store.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez GORM driver.
func OpenSQLite(cfg SQLiteConfig, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	// Build DSN with pragmas.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  newGormLogger(slogger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&eventModel{}); err != nil {
		return nil, fmt.Errorf("migrating audit_events: %w", err)
	}

	slogger.Info("sqlite audit store opened",
		slog.String("path", cfg.Path),
		slog.String("journal_mode", journalMode),
	)
	return &Store{db: db, driver: "sqlite", logger: slogger}, nil
}

// OpenPostgres connects to PostgreSQL, configures the pool, and migrates.
func OpenPostgres(cfg PostgresConfig, slogger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      newGormLogger(slogger),
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.maxOpen())
	sqlDB.SetMaxIdleConns(cfg.maxIdle())
	sqlDB.SetConnMaxLifetime(cfg.maxLifetime())

	if err := db.AutoMigrate(&eventModel{}); err != nil {
		return nil, fmt.Errorf("migrating audit_events: %w", err)
	}

	slogger.Info("postgres audit store connected",
		slog.Int("max_open_conns", cfg.maxOpen()),
		slog.Int("max_idle_conns", cfg.maxIdle()),
	)
	return &Store{db: db, driver: "postgres", logger: slogger}, nil
}

func newGormLogger(slogger *slog.Logger) logger.Interface {
	return logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// Record inserts a single audit event. This is the only write method —
// immutability is enforced at the interface level.
func (s *Store) Record(ctx context.Context, event Event) error {
	event.fillDefaults()

	id, err := uuid.Parse(event.ID)
	if err != nil {
		return fmt.Errorf("audit event id %q is not a uuid: %w", event.ID, err)
	}

	model := eventModel{
		ID:         id,
		Time:       event.Time,
		Topology:   event.Topology,
		SessionID:  event.SessionID,
		Tool:       event.Tool,
		VaultID:    event.VaultID,
		AgentID:    event.AgentID,
		Outcome:    event.Outcome,
		StatusCode: event.StatusCode,
		Detail:     event.Detail,
		DurationMS: event.DurationMS,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// QueryFilter narrows a Query. Zero values match everything.
type QueryFilter struct {
	SessionID string
	Tool      string
	Limit     int // Default: 100.
}

// Query returns audit events, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	q := s.db.WithContext(ctx).
		Order("time DESC").
		Limit(limit)

	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	if filter.Tool != "" {
		q = q.Where("tool = ?", filter.Tool)
	}

	var models []eventModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}

	events := make([]Event, len(models))
	for i := range models {
		m := &models[i]
		events[i] = Event{
			ID:         m.ID.String(),
			Time:       m.Time,
			Topology:   m.Topology,
			SessionID:  m.SessionID,
			Tool:       m.Tool,
			VaultID:    m.VaultID,
			AgentID:    m.AgentID,
			Outcome:    m.Outcome,
			StatusCode: m.StatusCode,
			Detail:     m.Detail,
			DurationMS: m.DurationMS,
		}
	}
	return events, nil
}

// Driver returns the database driver name ("sqlite" or "postgres").
func (s *Store) Driver() string { return s.driver }

// Ping verifies the database connection, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

var _ Recorder = (*Store)(nil)
