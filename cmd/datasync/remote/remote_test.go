package remote

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/common/cache"
	"github.com/lyzr/datasync/common/config"
	"github.com/lyzr/datasync/common/db"
	"github.com/lyzr/datasync/common/logger"
)

func drain(t *testing.T, s RowStream) [][]string {
	t.Helper()
	defer s.Close()
	var rows [][]string
	for {
		row, err := s.Next()
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func newSQLiteSource(t *testing.T, c cache.Cache) (*SQLSource, *sql.DB) {
	t.Helper()
	conn, err := OpenSQLite(filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Exec(`CREATE TABLE "ds.alpha-id" (id INTEGER, name TEXT, amount REAL, note TEXT)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO "ds.alpha-id" VALUES (3, 'c', 3.5, NULL), (1, 'a', 1.25, 'x'), (2, 'b', 2, 'y')`)
	require.NoError(t, err)
	_, err = conn.Exec(`CREATE TABLE "ds.keyless-id" (label TEXT)`)
	require.NoError(t, err)

	return NewSQLSource(conn, "ds.", "id", c, time.Minute, logger.Discard()), conn
}

var alpha = models.Identity{Name: "Alpha", ExternalID: "alpha-id"}

func TestSQLSource_CountSchemaFetch(t *testing.T) {
	src, _ := newSQLiteSource(t, nil)
	ctx := context.Background()

	n, err := src.Count(ctx, alpha)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	cols, err := src.Schema(ctx, alpha)
	require.NoError(t, err)
	require.Len(t, cols, 4)
	key, ok := RowKey(cols)
	require.True(t, ok)
	assert.Equal(t, "id", key.Name)

	all, err := src.FetchAll(ctx, alpha)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "amount", "note"}, all.Header())
	assert.Equal(t, [][]string{
		{"1", "a", "1.25", "x"},
		{"2", "b", "2", "y"},
		{"3", "c", "3.5", ""},
	}, drain(t, all))

	page, err := src.FetchRange(ctx, alpha, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"2", "b", "2", "y"}}, drain(t, page))
}

func TestSQLSource_KeylessAndMissing(t *testing.T) {
	src, _ := newSQLiteSource(t, nil)
	ctx := context.Background()

	cols, err := src.Schema(ctx, models.Identity{ExternalID: "keyless-id"})
	require.NoError(t, err)
	_, ok := RowKey(cols)
	assert.False(t, ok)

	_, err = src.Schema(ctx, models.Identity{ExternalID: "missing-id"})
	assert.Error(t, err)

	_, err = src.Count(ctx, models.Identity{ExternalID: "missing-id"})
	assert.Error(t, err)
}

func TestSQLSource_SchemaIsCached(t *testing.T) {
	mem := cache.NewMemoryCache(logger.Discard())
	defer mem.Close()
	src, conn := newSQLiteSource(t, mem)
	ctx := context.Background()

	first, err := src.Schema(ctx, alpha)
	require.NoError(t, err)

	_, err = conn.Exec(`ALTER TABLE "ds.alpha-id" ADD COLUMN extra TEXT`)
	require.NoError(t, err)

	second, err := src.Schema(ctx, alpha)
	require.NoError(t, err)
	assert.Equal(t, first, second, "served from cache")

	require.NoError(t, mem.Delete(ctx, "remote:schema:sqlite:alpha-id"))
	third, err := src.Schema(ctx, alpha)
	require.NoError(t, err)
	assert.Len(t, third, 5)
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource()
	src.SetTable("alpha-id", Table{
		Columns: []Column{{Name: "id", Type: "integer", RowKey: true}, {Name: "v", Type: "text"}},
		Rows:    [][]string{{"1", "a"}, {"2", "b"}, {"3", "c"}},
	})
	ctx := context.Background()

	page, err := src.FetchRange(ctx, alpha, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"3", "c"}}, drain(t, page))

	all, err := src.FetchAll(ctx, alpha)
	require.NoError(t, err)
	assert.Len(t, drain(t, all), 3)

	_, fetchAlls, fetchRanges := src.Counts()
	assert.Equal(t, int64(1), fetchAlls)
	assert.Equal(t, int64(1), fetchRanges)

	src.Err = errors.New("remote down")
	_, err = src.Count(ctx, alpha)
	assert.EqualError(t, err, "remote down")
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("x", 7200))
	assert.Equal(t, "2025-06-01T10:00:00Z", formatValue(ts))
	assert.Equal(t, "", formatValue(nil))
	assert.Equal(t, "true", formatValue(true))
	assert.Equal(t, "0.1", formatValue(0.1))
	assert.Equal(t, "00000000-0000-0000-0000-000000000001",
		formatValue([16]byte{15: 1}))
}

// TestPostgresSource runs against a live database when
// DATASYNC_TEST_POSTGRES_URL is set
func TestPostgresSource(t *testing.T) {
	url := os.Getenv("DATASYNC_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("DATASYNC_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()

	t.Setenv("POSTGRES_URL", url)
	cfg, err := config.Load("datasync-test")
	require.NoError(t, err)

	database, err := db.New(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec(ctx, `DROP TABLE IF EXISTS "dstest.alpha-id"`)
	require.NoError(t, err)
	_, err = database.Exec(ctx, `CREATE TABLE "dstest.alpha-id" (id bigint, name text)`)
	require.NoError(t, err)
	defer database.Exec(ctx, `DROP TABLE IF EXISTS "dstest.alpha-id"`)
	_, err = database.Exec(ctx, `INSERT INTO "dstest.alpha-id" VALUES (2, 'b'), (1, 'a')`)
	require.NoError(t, err)

	src := NewPostgresSource(database, "dstest.", "id", nil, time.Minute, logger.Discard())

	n, err := src.Count(ctx, alpha)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	cols, err := src.Schema(ctx, alpha)
	require.NoError(t, err)
	_, ok := RowKey(cols)
	assert.True(t, ok)

	all, err := src.FetchAll(ctx, alpha)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "a"}, {"2", "b"}}, drain(t, all))
}
