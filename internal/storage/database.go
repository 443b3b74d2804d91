package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codedrop/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DriverName maps a configured database type to its database/sql driver name.
func DriverName(dbType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "", "sqlite", "sqlite3":
		return "sqlite3", nil
	case "mysql":
		return "mysql", nil
	case "postgres", "postgresql", "pgx":
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", dbType)
	}
}

// Open connects to the configured database.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	driver, err := DriverName(dbType)
	if err != nil {
		return nil, err
	}
	dbCfg, ok := cfg.Databases[driver]
	if !ok {
		dbCfg, ok = cfg.Databases[dbType]
	}
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var db *sql.DB
	switch driver {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		if err := ensureSQLiteDir(dbCfg.DSN); err != nil {
			return nil, err
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// one connection keeps :memory: databases shared and serializes writers
		db.SetMaxOpenConns(1)
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "pgx":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// ensureSQLiteDir creates the parent directory of a file-backed sqlite DSN.
func ensureSQLiteDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	path := dsn
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite directory %s: %w", dir, err)
	}
	return nil
}

// Migrate ensures the files table is present.
func Migrate(db *sql.DB, dbType string) error {
	driver, err := DriverName(dbType)
	if err != nil {
		return fmt.Errorf("unsupported driver for migration: %s", dbType)
	}
	var stmts []string
	switch driver {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS files (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				code TEXT NOT NULL UNIQUE,
				file_id TEXT NOT NULL,
				file_type TEXT NOT NULL CHECK (file_type IN ('document', 'video', 'audio', 'photo')),
				caption TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				views INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_files_created_at ON files(created_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS files (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				code VARCHAR(64) NOT NULL,
				file_id VARCHAR(255) NOT NULL,
				file_type VARCHAR(16) NOT NULL,
				caption TEXT NOT NULL,
				created_at BIGINT NOT NULL,
				views BIGINT UNSIGNED NOT NULL DEFAULT 0,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_files_code (code),
				INDEX idx_files_created_at (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "pgx":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS files (
				id BIGSERIAL PRIMARY KEY,
				code TEXT NOT NULL UNIQUE,
				file_id TEXT NOT NULL,
				file_type TEXT NOT NULL CHECK (file_type IN ('document', 'video', 'audio', 'photo')),
				caption TEXT NOT NULL DEFAULT '',
				created_at BIGINT NOT NULL,
				views BIGINT NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_files_created_at ON files(created_at DESC)`,
		}
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
