package accounts

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// VersionTable records which fixture migrations are applied.
const VersionTable = "heapprobe_db_version"

// goose keeps its settings in package globals.
var gooseMu sync.Mutex

// Schema manages the fixture table lifecycle. Create, Drop and Reset are the
// only transitions; rows are never deleted any other way.
type Schema struct {
	db     *sql.DB
	logger log.Logger
}

// NewSchema wraps pool in a database/sql handle for the migration runner.
func NewSchema(pool *pgxpool.Pool, logger log.Logger) *Schema {
	return NewSchemaFromDB(stdlib.OpenDBFromPool(pool), logger)
}

// NewSchemaFromDB uses an already open database/sql handle.
func NewSchemaFromDB(db *sql.DB, logger log.Logger) *Schema {
	return &Schema{
		db:     db,
		logger: logger,
	}
}

// Create applies all pending migrations.
func (s *Schema) Create(ctx context.Context) error {
	return s.withGoose(func() error {
		if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
			return fmt.Errorf("failed to create %s: %w", TableName, err)
		}
		level.Info(s.logger).Log("msg", "fixture table created", "table", TableName)
		return nil
	})
}

// Drop rolls back every applied migration, removing the fixture table.
func (s *Schema) Drop(ctx context.Context) error {
	return s.withGoose(func() error {
		if err := goose.DownToContext(ctx, s.db, "migrations", 0); err != nil {
			return fmt.Errorf("failed to drop %s: %w", TableName, err)
		}
		level.Info(s.logger).Log("msg", "fixture table dropped", "table", TableName)
		return nil
	})
}

// Reset drops and recreates the fixture table, leaving it empty.
func (s *Schema) Reset(ctx context.Context) error {
	if err := s.Drop(ctx); err != nil {
		return err
	}
	return s.Create(ctx)
}

// Version returns the applied fixture migration version, 0 when none.
func (s *Schema) Version(ctx context.Context) (int64, error) {
	var version int64
	err := s.withGoose(func() error {
		v, err := goose.GetDBVersionContext(ctx, s.db)
		version = v
		return err
	})
	return version, err
}

// Close closes the database/sql handle.
func (s *Schema) Close() error {
	return s.db.Close()
}

func (s *Schema) withGoose(f func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetTableName(VersionTable)
	goose.SetLogger(gooseLogger{s.logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return f()
}

// gooseLogger forwards migration progress to a go-kit logger.
type gooseLogger struct {
	logger log.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	level.Debug(l.logger).Log("component", "goose", "msg", fmt.Sprintf(format, v...))
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	level.Error(l.logger).Log("component", "goose", "msg", fmt.Sprintf(format, v...))
	os.Exit(1)
}
