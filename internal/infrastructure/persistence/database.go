// Package persistence opens the external stores the audit sinks write to.
// It hands out a GORM handle for the relational audit table and a go-redis client for the audit stream.
package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
)

// OpenDatabase opens the audit database described by cfg and verifies it answers a ping.
//
// Parameters:
//   - ctx: Context for the initial ping
//   - cfg: Database configuration; Driver is "postgres" or "sqlite"
//   - log: Logger instance for connection lifecycle events
//
// Returns:
//   - *gorm.DB: Ready database handle
//   - error: Connection establishment error if any
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		dialector = postgres.Open(cfg.GetDSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, errors.ErrInvalidConfig(fmt.Sprintf("unsupported database driver %q", cfg.Driver))
	}

	log.Info(ctx, "Opening audit database",
		logger.String("driver", cfg.Driver),
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database),
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.ErrInternal("open audit database").WithCause(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.ErrInternal("audit database handle").WithCause(err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		log.Error(ctx, "Audit database ping failed", err)
		return nil, errors.ErrInternal("ping audit database").WithCause(err)
	}

	log.Info(ctx, "Audit database ready", logger.String("driver", cfg.Driver))
	return db, nil
}

// CloseDatabase releases the pool behind db.
func CloseDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

//Personal.AI order the ending
