package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"envgrid/logger"
)

// DBType selects the SQL backend.
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"
)

// DBConfig describes how to open the journal database.
type DBConfig struct {
	Type DBType
	Path string // SQLite file
	DSN  string // PostgreSQL connection string
}

// DBDriver wraps *sql.DB with the dialect differences the journal needs.
type DBDriver struct {
	Type DBType
	db   *sql.DB
}

// NewDBDriver opens and pings the configured database.
func NewDBDriver(cfg DBConfig) (*DBDriver, error) {
	switch cfg.Type {
	case DBTypeSQLite, "":
		path := cfg.Path
		if path == "" {
			path = "data/envgrid.db"
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, err
		}
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure sqlite: %w", err)
		}
		logger.Infof("📂 Journal database: sqlite %s", path)
		return &DBDriver{Type: DBTypeSQLite, db: db}, nil

	case DBTypePostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres journal requires DB_DSN")
		}
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		logger.Infof("📂 Journal database: postgres")
		return &DBDriver{Type: DBTypePostgres, db: db}, nil
	}
	return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
}

// NewDBDriverFromDB wraps an already open connection.
func NewDBDriverFromDB(db *sql.DB, typ DBType) *DBDriver {
	return &DBDriver{Type: typ, db: db}
}

func (d *DBDriver) DB() *sql.DB { return d.db }

func (d *DBDriver) Close() error { return d.db.Close() }

// Rebind rewrites ? placeholders to $1..$n for postgres.
func (d *DBDriver) Rebind(query string) string {
	if d.Type != DBTypePostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
