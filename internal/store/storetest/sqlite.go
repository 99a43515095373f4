// Package storetest opens in-memory SQLite pools carrying the users schema,
// for tests that exercise the credential store without postgres.
package storetest

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	userDatamodel "github.com/oneflow-erp/oneflow-api/internal/core/datamodel/user"
	"github.com/oneflow-erp/oneflow-api/internal/store"
	applogger "github.com/oneflow-erp/oneflow-api/pkg/logger"
)

// IsUniqueViolation matches SQLite's extended UNIQUE constraint code.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// OpenSQLite migrates a fresh in-memory database and wraps it in a pool with
// a single connection, so every query sees the same database. Callers own
// the returned pool and close it.
func OpenSQLite(opts ...store.Option) (*store.Pool, error) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storetest: open sqlite: %w", err)
	}
	if err := gdb.AutoMigrate(&userDatamodel.User{}); err != nil {
		return nil, fmt.Errorf("storetest: migrate users: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("storetest: sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	opts = append([]store.Option{
		store.WithLogger(applogger.Discard()),
		store.WithUniqueViolation(IsUniqueViolation),
	}, opts...)
	return store.New(sqlx.NewDb(sqlDB, "sqlite3"), opts...), nil
}
