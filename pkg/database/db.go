// Package database opens the dual-backend (Postgres/SQLite) database/sql
// handle shared by the policy store (G), audit log (I), and approval queue
// (H), grounded on the teacher's Postgres-primary/SQLite-dev split.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver identifies which database/sql driver a DB handle was opened with,
// since a handful of call sites (placeholder style, upsert syntax) differ
// between Postgres and SQLite even through the same database/sql interface.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// DB bundles an open *sql.DB with the driver it was opened as.
type DB struct {
	*sql.DB
	Driver Driver
}

// Open dials the backend named by databaseURL's scheme: postgres://,
// postgresql://, or sqlite:// (a bare file path or ":memory:" after the
// scheme). Config.Validate rejects any other scheme before Open is called.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	var driver Driver
	var dsn string

	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		driver = DriverPostgres
		dsn = databaseURL
	case strings.HasPrefix(databaseURL, "sqlite://"):
		driver = DriverSQLite
		dsn = strings.TrimPrefix(databaseURL, "sqlite://")
		if dsn == "" {
			dsn = ":memory:"
		}
	default:
		return nil, fmt.Errorf("database: unsupported url scheme in %q", databaseURL)
	}

	sqlDriver := "postgres"
	if driver == DriverSQLite {
		sqlDriver = "sqlite"
	}

	conn, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", driver, err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("database: ping %s: %w", driver, err)
	}

	return &DB{DB: conn, Driver: driver}, nil
}

// Migration is one forward-only schema step, identified by a monotonically
// increasing version. Each store package (policy, audit, approval) owns its
// own migration list and calls Migrate at startup.
type Migration struct {
	Version int
	Name    string
	// Postgres and SQLite statements diverge on a few DDL details (JSONB vs
	// TEXT, SERIAL vs INTEGER PRIMARY KEY AUTOINCREMENT); each migration
	// supplies both.
	Postgres string
	SQLite   string
}

// Migrate applies every migration in order whose version exceeds the
// highest version already recorded in schema_migrations, creating that
// bookkeeping table on first use. Grounded on the teacher's
// receipt_store_sqlite.go migrate() pattern (now superseded here but
// citable from the example pack).
func (db *DB) Migrate(ctx context.Context, table string, migrations []Migration) error {
	createTrack := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (version INTEGER PRIMARY KEY, name TEXT NOT NULL, applied_at TIMESTAMP NOT NULL)`, table)
	if _, err := db.ExecContext(ctx, createTrack); err != nil {
		return fmt.Errorf("database: create migration table: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT version FROM %s`, table))
	if err != nil {
		return fmt.Errorf("database: read migration table: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		stmt := m.Postgres
		if db.Driver == DriverSQLite {
			stmt = m.SQLite
		}
		if stmt == "" {
			return fmt.Errorf("database: migration %d (%s) has no statement for driver %s", m.Version, m.Name, db.Driver)
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("database: migration %d (%s): %w", m.Version, m.Name, err)
		}
		insert := fmt.Sprintf(`INSERT INTO %s (version, name, applied_at) VALUES (%s, %s, %s)`, table,
			db.placeholder(1), db.placeholder(2), db.placeholder(3))
		if _, err := tx.ExecContext(ctx, insert, m.Version, m.Name, nowUTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("database: record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// placeholder returns the positional parameter marker for this driver:
// Postgres uses $1, $2, ...; SQLite (via modernc.org/sqlite's driver)
// accepts ?.
func (db *DB) placeholder(n int) string {
	if db.Driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Rebind rewrites a query written with Postgres-style $1, $2, ... markers
// into the driver-appropriate form, so store code can be written once
// against Postgres syntax and run on either backend. For SQLite every
// marker becomes a plain "?" in the order it appears, so a query meant for
// both backends uses each $N once and in ascending order.
func (db *DB) Rebind(query string) string {
	if db.Driver == DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			b.WriteByte('?')
			i = j - 1
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func nowUTC() time.Time { return time.Now().UTC() }
