// Package recordsdb owns the server's Postgres records database between
// runs: it drops and recreates it so leaderboard checks start clean.
package recordsdb

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/lib/pq"
)

// DefaultDatabase is the database the game server keeps its records in.
const DefaultDatabase = "records"

type Params struct {
	User     string
	Password string
	Host     string
	Port     string
	SSLMode  string

	// Maintenance is the database to connect to while dropping the target.
	Maintenance string
	// Force terminates other sessions on drop (Postgres 13+).
	Force bool
}

// DSN returns a postgres:// URL for database db.
func (p Params) DSN(db string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, p.Port),
		Path:   "/" + db,
	}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}
	mode := p.SSLMode
	if mode == "" {
		mode = "disable"
	}
	u.RawQuery = url.Values{"sslmode": {mode}}.Encode()
	return u.String()
}

func (p Params) maintenance() string {
	if p.Maintenance == "" {
		return "postgres"
	}
	return p.Maintenance
}

// statements returns the SQL Reset runs, in order.
func statements(database string, force bool) []string {
	drop := "DROP DATABASE IF EXISTS " + pq.QuoteIdentifier(database)
	if force {
		drop += " WITH (FORCE)"
	}
	return []string{drop, "CREATE DATABASE " + pq.QuoteIdentifier(database)}
}

func open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Reset drops database (if present) and creates it empty.
func Reset(ctx context.Context, p Params, database string) error {
	if database == "" {
		database = DefaultDatabase
	}
	db, err := open(ctx, p.DSN(p.maintenance()))
	if err != nil {
		return err
	}
	defer db.Close()

	// DROP/CREATE DATABASE cannot run inside a transaction block; each
	// ExecContext is its own implicit transaction.
	for _, stmt := range statements(database, p.Force) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// Exists reports whether database is present on the server.
func Exists(ctx context.Context, p Params, database string) (bool, error) {
	db, err := open(ctx, p.DSN(p.maintenance()))
	if err != nil {
		return false, err
	}
	defer db.Close()

	var n int
	err = db.QueryRowContext(ctx, `SELECT count(*) FROM pg_database WHERE datname = $1`, database).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
