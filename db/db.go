package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"strings"
	"time"

	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"

	"go.hackfix.me/natmgr/db/migrator"
	"go.hackfix.me/natmgr/db/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps sql.DB with additional context and migration functionality.
type DB struct {
	*sql.DB
	ctx        context.Context
	timeNow    func() time.Time
	path       string
	migrations []*migrator.Migration
}

var _ types.Querier = (*DB)(nil)

// Open creates and configures a new SQLite database connection with migrations support.
func Open(ctx context.Context, path string, timeNow func() time.Time) (*DB, error) {
	var d *DB
	if strings.Contains(path, "mode=memory") || strings.Contains(path, ":memory:") {
		defer func() {
			if d != nil {
				// See https://github.com/mattn/go-sqlite3#faq
				d.SetMaxIdleConns(10)
				d.SetConnMaxLifetime(time.Duration(math.Inf(1)))
			}
		}()
	}

	sqliteDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed opening SQLite database: %w", err)
	}

	d = &DB{DB: sqliteDB, ctx: ctx, path: path, timeNow: timeNow}

	// The CLI and the web server may run concurrently against the same file.
	_, err = d.Exec(`PRAGMA busy_timeout = 5000;`)
	if err != nil {
		return nil, fmt.Errorf("failed setting busy timeout: %w", err)
	}

	migrationsDir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed getting migrations directory: %w", err)
	}
	migrations, err := migrator.LoadMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}
	d.migrations = migrations

	return d, nil
}

// Init creates or upgrades the database schema. It is safe to call on every
// startup.
func (d *DB) Init(logger *slog.Logger) error {
	dblogger := logger.With("path", d.path)
	dblogger.Debug("initializing database")

	err := migrator.RunMigrations(d, d.migrations, migrator.MigrationUp, "all", logger)
	if err != nil {
		return err
	}

	dblogger.Debug("database initialized")

	return nil
}

// NewContext returns the main database context.
func (d *DB) NewContext() context.Context {
	return d.ctx
}

// Path returns the data source name the database was opened with.
func (d *DB) Path() string {
	return d.path
}

// TimeNow returns the current system time.
func (d *DB) TimeNow() time.Time {
	return d.timeNow()
}

// Tx runs fn inside a transaction. The transaction is committed if fn returns
// nil, and rolled back otherwise.
func (d *DB) Tx(ctx context.Context, fn func(q types.Querier) error) (err error) {
	sqlTx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed starting transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rerr := sqlTx.Rollback(); rerr != nil {
				err = errors.Join(err, fmt.Errorf("failed rolling back transaction: %w", rerr))
			}
			return
		}
		if cerr := sqlTx.Commit(); cerr != nil {
			err = fmt.Errorf("failed committing transaction: %w", cerr)
		}
	}()

	return fn(&tx{Tx: sqlTx, db: d})
}

// BackupTo writes a consistent copy of the whole database to a new file at path.
func (d *DB) BackupTo(ctx context.Context, path string) error {
	if _, err := d.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("failed copying database to '%s': %w", path, err)
	}

	return nil
}

// RestoreFrom replaces the contents of the given tables with those from the
// database file at path, in a single transaction. The tables must have the same
// columns in both databases.
func (d *DB) RestoreFrom(ctx context.Context, path string, tables ...string) (rerr error) {
	// ATTACH isn't allowed inside a transaction, and is scoped to a connection.
	conn, err := d.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed acquiring connection: %w", err)
	}
	defer func() {
		rerr = errors.Join(rerr, conn.Close())
	}()

	if _, err = conn.ExecContext(ctx, `ATTACH DATABASE ? AS bak`, path); err != nil {
		return fmt.Errorf("failed attaching database '%s': %w", path, err)
	}
	defer func() {
		if _, derr := conn.ExecContext(ctx, `DETACH DATABASE bak`); derr != nil {
			rerr = errors.Join(rerr, fmt.Errorf("failed detaching database: %w", derr))
		}
	}()

	sqlTx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed starting transaction: %w", err)
	}

	for _, table := range tables {
		_, err = sqlTx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM main."%s"`, table))
		if err == nil {
			_, err = sqlTx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO main."%[1]s" SELECT * FROM bak."%[1]s"`, table))
		}
		if err != nil {
			return errors.Join(
				fmt.Errorf("failed restoring table %s: %w", table, err), sqlTx.Rollback())
		}
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed committing restore: %w", err)
	}

	return nil
}

// tx is a Querier bound to a single transaction.
type tx struct {
	*sql.Tx
	db *DB
}

var _ types.Querier = (*tx)(nil)

func (t *tx) NewContext() context.Context {
	return t.db.NewContext()
}

func (t *tx) TimeNow() time.Time {
	return t.db.TimeNow()
}
