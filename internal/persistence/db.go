package persistence

import (
	"context"
	"database/sql"
	"regexp"
	"time"

	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB wraps *sql.DB with the dialect needed to rewrite placeholders.
// Queries in this package are written with Postgres $n placeholders.
type DB struct {
	*sql.DB
	driver string
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// Open connects to a Postgres or SQLite database and verifies the connection.
// Pass ":memory:" with the sqlite driver for a throwaway database.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, eris.Errorf("unsupported database driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", driver)
	}

	if driver == DriverSQLite {
		// A single connection keeps :memory: databases shared and
		// serializes writers the way SQLite wants.
		sqlDB.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA foreign_keys=ON",
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=10000",
		} {
			if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
				sqlDB.Close()
				return nil, eris.Wrapf(err, "exec %s", pragma)
			}
		}
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, eris.Wrapf(err, "ping %s", driver)
	}

	return &DB{DB: sqlDB, driver: driver}, nil
}

// Driver returns the driver name the database was opened with.
func (d *DB) Driver() string { return d.driver }

// Rebind converts $n placeholders to ?n for SQLite.
func (d *DB) Rebind(query string) string {
	if d.driver != DriverSQLite {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

func (d *DB) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, d.Rebind(query), args...)
	}
	return d.ExecContext(ctx, d.Rebind(query), args...)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.QueryRowContext(ctx, d.Rebind(query), args...)
}

func (d *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.QueryContext(ctx, d.Rebind(query), args...)
}
