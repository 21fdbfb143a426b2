package database

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"chroma-rag/config"
	"chroma-rag/pkg/logger"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

// Open connects to the primary, registers read replicas and applies pool settings.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("%v: open: %w", config.ModuleDatabase, err)
	}

	if replicas := ReplicaDSNs(cfg); len(replicas) > 0 {
		dialectors := make([]gorm.Dialector, len(replicas))
		for i, dsn := range replicas {
			dialectors[i] = mysql.Open(dsn)
		}
		if err := db.Use(dbresolver.Register(dbresolver.Config{
			Replicas: dialectors,
			Policy:   dbresolver.RandomPolicy{},
		})); err != nil {
			return nil, fmt.Errorf("%v: register replicas: %w", config.ModuleDatabase, err)
		}
		logger.WithField("replicas", len(replicas)).Info("database: read replicas registered")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxLifetime > 0 {
		lifetime := time.Duration(cfg.MaxLifetime) * time.Minute
		sqlDB.SetConnMaxIdleTime(lifetime)
		sqlDB.SetConnMaxLifetime(lifetime)
	}
	return db, nil
}

// ReplicaDSNs builds one DSN per configured replica ("host" or "host:port").
// Replicas share credentials and schema with the primary.
func ReplicaDSNs(cfg config.DatabaseConfig) []string {
	out := make([]string, 0, len(cfg.Replicas))
	for _, r := range cfg.Replicas {
		if r == "" {
			continue
		}
		host, port := r, cfg.Port
		if h, p, err := net.SplitHostPort(r); err == nil {
			if n, err := strconv.Atoi(p); err == nil {
				host, port = h, n
			}
		}
		out = append(out, config.BuildMySQLDSN(host, port, cfg))
	}
	return out
}

// Migrate creates or updates the tables this service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Item{}, &RetrievalLog{}, &IngestRun{})
}

// Ping checks the primary connection.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the pool. Safe on nil.
func Close(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
