package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/dmitrijs2005/glacierkeeper/internal/filex"
	"github.com/dmitrijs2005/glacierkeeper/internal/index/migrations"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

var sqlOpen = sql.Open

// RunMigrations applies the embedded schema for backend to db.
func RunMigrations(ctx context.Context, db *sql.DB, backend string) error {
	var dialect string
	switch backend {
	case BackendSQLite:
		dialect = "sqlite3"
	case BackendPostgres:
		dialect = "pgx"
	default:
		return common.Validationf("open index", "unknown bookkeeping backend %q", backend)
	}

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := gooseUpContext(ctx, db, backend); err != nil {
		return fmt.Errorf("failed to migrate index: %w", err)
	}
	return nil
}

// sqliteDSN turns a plain path into a URI with a busy timeout so parallel
// invocations wait for the writer instead of failing.
func sqliteDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "file:") || dsn == ":memory:" {
		return dsn, nil
	}
	if err := filex.EnsureParentDir(dsn); err != nil {
		return "", err
	}
	return "file:" + dsn + "?_pragma=busy_timeout(5000)", nil
}

// Open connects to the bookkeeping database, migrates it and returns the
// repository with a function releasing the connection.
func Open(ctx context.Context, backend, dsn string) (Repository, func() error, error) {
	var driver string
	switch backend {
	case BackendSQLite:
		driver = "sqlite"
		var err error
		if dsn, err = sqliteDSN(dsn); err != nil {
			return nil, nil, err
		}
	case BackendPostgres:
		driver = "pgx"
	default:
		return nil, nil, common.Validationf("open index", "unknown bookkeeping backend %q", backend)
	}

	db, err := sqlOpen(driver, dsn)
	if err != nil {
		return nil, nil, common.Unavailable("open index", err)
	}

	if err := RunMigrations(ctx, db, backend); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	if backend == BackendSQLite {
		return NewSQLiteRepository(db), db.Close, nil
	}
	return NewPostgresRepository(db), db.Close, nil
}
