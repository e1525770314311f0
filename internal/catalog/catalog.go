// Package catalog keeps a database record of recording sessions and the
// outputs each sink produced. It supports SQLite, PostgreSQL, and MySQL
// through GORM.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/jmylchreest/framecast/internal/config"
)

// ErrSessionNotFound is returned when no session has the requested ID.
var ErrSessionNotFound = errors.New("session not found")

// Catalog wraps the GORM connection.
type Catalog struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.CatalogConfig, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newGormLogger(cfg.LogLevel, logger),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if cfg.Driver == "sqlite" {
		// One writer per session; more connections only add lock contention.
		maxOpen, maxIdle = 2, 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&Session{}, &Output{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating catalog: %w", err)
	}

	logger.Debug("catalog opened",
		slog.String("driver", cfg.Driver),
		slog.String("dsn", cfg.DSN),
		slog.Int("max_open_conns", maxOpen),
	)

	return &Catalog{db: db, driver: cfg.Driver, logger: logger}, nil
}

func dialectorFor(cfg config.CatalogConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		// Pure Go driver (modernc.org/sqlite); pragmas go in the DSN.
		dsn := cfg.DSN
		if strings.Contains(dsn, "?") {
			dsn += "&"
		} else {
			dsn += "?"
		}
		dsn += "_pragma=busy_timeout(10000)" +
			"&_pragma=journal_mode(WAL)" +
			"&_pragma=synchronous(NORMAL)" +
			"&_pragma=foreign_keys(ON)"
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported catalog driver: %q", cfg.Driver)
	}
}

// Driver returns the database driver name.
func (c *Catalog) Driver() string {
	return c.driver
}

// Ping verifies the connection is alive.
func (c *Catalog) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// BeginSession inserts s, assigning its ID and start time when unset.
func (c *Catalog) BeginSession(ctx context.Context, s *Session) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	if err := c.db.WithContext(ctx).Omit("Outputs").Create(s).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	c.logger.Info("session started",
		slog.String("session_id", s.ID.String()),
		slog.String("source", s.Source),
	)
	return nil
}

// FinishSession marks a session stopped, records runErr, and stores the
// per-sink outputs in one transaction.
func (c *Catalog) FinishSession(ctx context.Context, id ULID, outputs []Output, runErr error) error {
	now := time.Now()
	updates := map[string]any{"stopped_at": now}
	if runErr != nil {
		updates["error"] = runErr.Error()
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Session{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("updating session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		for i := range outputs {
			outputs[i].SessionID = id
		}
		if len(outputs) > 0 {
			if err := tx.Create(&outputs).Error; err != nil {
				return fmt.Errorf("creating outputs: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("session finished",
		slog.String("session_id", id.String()),
		slog.Int("outputs", len(outputs)),
	)
	return nil
}

// GetSession loads one session with its outputs.
func (c *Catalog) GetSession(ctx context.Context, id ULID) (*Session, error) {
	var s Session
	err := c.db.WithContext(ctx).Preload("Outputs", func(db *gorm.DB) *gorm.DB {
		return db.Order("channel, sink")
	}).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return &s, nil
}

// ListSessions returns the most recent sessions first. A limit of zero or
// less returns every session.
func (c *Catalog) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	q := c.db.WithContext(ctx).Preload("Outputs", func(db *gorm.DB) *gorm.DB {
		return db.Order("channel, sink")
	}).Order("started_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var sessions []Session
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}
