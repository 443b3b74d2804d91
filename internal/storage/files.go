package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"codedrop/internal/models"
)

var (
	// ErrNotFound is returned when no record matches a code.
	ErrNotFound = errors.New("file not found")
	// ErrConflict is returned when a code is already taken.
	ErrConflict = errors.New("code already exists")
	// ErrUnavailable wraps any other storage failure.
	ErrUnavailable = errors.New("storage unavailable")
)

const (
	mysqlDuplicateEntry = 1062
	pgUniqueViolation   = "23505"
)

// FileStore persists file records. Records are only ever inserted and have
// their view counter bumped; nothing is updated or deleted otherwise.
type FileStore struct {
	db   *sql.DB
	bind int
}

// NewFileStore wraps an opened database. dbType selects placeholder syntax.
func NewFileStore(db *sql.DB, dbType string) (*FileStore, error) {
	driver, err := DriverName(dbType)
	if err != nil {
		return nil, err
	}
	return &FileStore{db: db, bind: sqlx.BindType(driver)}, nil
}

func (s *FileStore) q(query string) string {
	return sqlx.Rebind(s.bind, query)
}

// Insert appends a new record.
func (s *FileStore) Insert(ctx context.Context, rec *models.FileRecord) error {
	if rec == nil || rec.Code == "" || rec.FileRef == "" {
		return errors.New("code and file reference are required")
	}
	if _, err := models.ParseFileKind(string(rec.Kind)); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO files (code, file_id, file_type, caption, created_at, views) VALUES (?, ?, ?, ?, ?, 0)`),
		rec.Code, rec.FileRef, string(rec.Kind), rec.Caption, rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert file %s: %w", rec.Code, ErrConflict)
		}
		return fmt.Errorf("insert file: %w: %w", ErrUnavailable, err)
	}
	rec.Views = 0
	return nil
}

// FindByCode looks up a record by its retrieval code.
func (s *FileStore) FindByCode(ctx context.Context, code string) (*models.FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, code, file_id, file_type, caption, created_at, views FROM files WHERE code = ?`), code,
	)
	rec, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query file: %w: %w", ErrUnavailable, err)
	}
	return rec, nil
}

// IncrementViews adds one view in a single statement so concurrent
// retrievals of the same code never lose an update.
func (s *FileStore) IncrementViews(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE files SET views = views + 1 WHERE code = ?`), code)
	if err != nil {
		return fmt.Errorf("increment views: %w: %w", ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w: %w", ErrUnavailable, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored records.
func (s *FileStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count files: %w: %w", ErrUnavailable, err)
	}
	return n, nil
}

// SumViews returns the total views across all records, 0 when empty.
func (s *FileStore) SumViews(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(views), 0) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum views: %w: %w", ErrUnavailable, err)
	}
	return n, nil
}

// Recent returns up to limit records, newest first.
func (s *FileStore) Recent(ctx context.Context, limit int) ([]*models.FileRecord, error) {
	if limit <= 0 {
		return []*models.FileRecord{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, code, file_id, file_type, caption, created_at, views FROM files ORDER BY created_at DESC, id DESC LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent files: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	files := make([]*models.FileRecord, 0, limit)
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w: %w", ErrUnavailable, err)
		}
		files = append(files, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w: %w", ErrUnavailable, err)
	}
	return files, nil
}

// Ping checks the underlying connection.
func (s *FileStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(sc scanner) (*models.FileRecord, error) {
	var (
		rec  models.FileRecord
		kind string
	)
	if err := sc.Scan(&rec.ID, &rec.Code, &rec.FileRef, &kind, &rec.Caption, &rec.CreatedAt, &rec.Views); err != nil {
		return nil, err
	}
	k, err := models.ParseFileKind(kind)
	if err != nil {
		return nil, err
	}
	rec.Kind = k
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
