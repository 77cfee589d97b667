package testutil

import (
	"context"
	"os"
	"strings"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/riskwatch/riskwatch-backend/internal/data/db"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/dbctx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

// DB opens the integration-test database named by TEST_POSTGRES_DSN and
// migrates the schema. Tests calling it skip when the variable is unset so
// the suite stays runnable without infrastructure.
func DB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run database integration tests")
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test postgres: %v", err)
	}
	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		t.Fatalf("enable uuid-ossp: %v", err)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		t.Fatalf("migrate test schema: %v", err)
	}
	return gdb
}

// TxCtx hands the test a dbctx bound to a transaction that is rolled back
// in cleanup, so tests never leak rows into each other.
func TxCtx(t *testing.T, gdb *gorm.DB) dbctx.Context {
	t.Helper()

	tx := gdb.Begin()
	if tx.Error != nil {
		t.Fatalf("begin test tx: %v", tx.Error)
	}
	t.Cleanup(func() {
		_ = tx.Rollback()
	})
	return dbctx.WithTx(context.Background(), tx)
}

// Logger returns a quiet logger for wiring repos under test.
func Logger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("test logger: %v", err)
	}
	return log
}
