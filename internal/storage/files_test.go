package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codedrop/internal/config"
	"codedrop/internal/models"
)

func TestDriverName(t *testing.T) {
	cases := map[string]string{
		"":         "sqlite3",
		"sqlite":   "sqlite3",
		"SQLite3":  "sqlite3",
		"mysql":    "mysql",
		"postgres": "pgx",
		"pgx":      "pgx",
	}
	for in, want := range cases {
		got, err := DriverName(in)
		require.NoError(t, err, "DriverName(%q)", in)
		assert.Equal(t, want, got, "DriverName(%q)", in)
	}
	_, err := DriverName("oracle")
	assert.Error(t, err)
}

func TestOpenDefaultSQLiteInEmptyDir(t *testing.T) {
	t.Setenv("CODEDROP_DB", "")
	t.Setenv("CODEDROP_DB_DSN", "")
	chdir(t, t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)
	dsn := cfg.Databases["sqlite3"].DSN
	require.True(t, filepath.IsAbs(dsn))
	require.Equal(t, filepath.Join("data", "codedrop.db"), filepath.Join(filepath.Base(filepath.Dir(dsn)), filepath.Base(dsn)))

	db, err := Open("sqlite3", cfg)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db, "sqlite3"))

	_, err = os.Stat(dsn)
	assert.NoError(t, err)
}

func TestEnsureSQLiteDirSkipsMemory(t *testing.T) {
	for _, dsn := range []string{":memory:", "file:drop.db?mode=memory&cache=shared", "drop.db"} {
		assert.NoError(t, ensureSQLiteDir(dsn), dsn)
	}

	nested := filepath.Join(t.TempDir(), "a", "b", "drop.db?_busy_timeout=5000")
	require.NoError(t, ensureSQLiteDir(nested))
	info, err := os.Stat(filepath.Dir(nested))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestInsertAndFind(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := &models.FileRecord{Code: "abc12345", FileRef: "BQACAgIAAxk", Kind: models.KindDocument, Caption: "report.pdf", CreatedAt: 1700000000000}
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.FindByCode(ctx, "abc12345")
	require.NoError(t, err)
	assert.Equal(t, rec.FileRef, got.FileRef)
	assert.Equal(t, rec.Kind, got.Kind)
	assert.Equal(t, rec.Caption, got.Caption)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	assert.Zero(t, got.Views)

	_, err = store.FindByCode(ctx, "missing0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &models.FileRecord{Code: "dup00001", FileRef: "a", Kind: models.KindPhoto, CreatedAt: 1}))
	err := store.Insert(ctx, &models.FileRecord{Code: "dup00001", FileRef: "b", Kind: models.KindVideo, CreatedAt: 2})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := store.FindByCode(ctx, "dup00001")
	require.NoError(t, err)
	assert.Equal(t, "a", got.FileRef, "conflicting insert overwrote record")
}

func TestInsertRejectsUnknownKind(t *testing.T) {
	store := openTestStore(t)
	err := store.Insert(context.Background(), &models.FileRecord{Code: "k0000001", FileRef: "x", Kind: "sticker"})
	assert.Error(t, err)
}

func TestIncrementViewsConcurrent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &models.FileRecord{Code: "hot00001", FileRef: "f", Kind: models.KindAudio, CreatedAt: 1}))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.IncrementViews(ctx, "hot00001"))
		}()
	}
	wg.Wait()

	got, err := store.FindByCode(ctx, "hot00001")
	require.NoError(t, err)
	assert.EqualValues(t, n, got.Views)

	assert.ErrorIs(t, store.IncrementViews(ctx, "nope0000"), ErrNotFound)
}

func TestAggregatesEmpty(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	sum, err := store.SumViews(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum)

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.NotNil(t, recent)
	assert.Empty(t, recent)
}

func TestRecentOrderingAndLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		rec := &models.FileRecord{
			Code:      fmt.Sprintf("c%07d", i),
			FileRef:   fmt.Sprintf("ref-%d", i),
			Kind:      models.KindDocument,
			CreatedAt: int64(1000 + i),
		}
		require.NoError(t, store.Insert(ctx, rec))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, store.IncrementViews(ctx, "c0000005"))
	}

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, "c0000012", recent[0].Code)
	for i := 1; i < len(recent); i++ {
		assert.Greater(t, recent[i-1].CreatedAt, recent[i].CreatedAt, "not strictly descending at %d", i)
	}

	count, _ := store.Count(ctx)
	sum, _ := store.SumViews(ctx)
	assert.EqualValues(t, 12, count)
	assert.EqualValues(t, 3, sum)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, Migrate(db, "sqlite3"))
	assert.Error(t, Migrate(db, "oracle"))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := Open("sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db, "sqlite3"))
	return db
}

func openTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(openTestDB(t), "sqlite3")
	require.NoError(t, err)
	return store
}

// chdir changes the working directory for the duration of the test
// (stand-in for testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
