package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestQuery_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	_, err := db.Exec(ctx, `CREATE TABLE players (steamid TEXT PRIMARY KEY, kills INTEGER)`)
	require.NoError(t, err)

	n, err := db.Exec(ctx, `INSERT INTO players (steamid, kills) VALUES (?, ?), (?, ?)`, "STEAM_0:1:1", 3, "STEAM_0:1:2", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := db.Query(ctx, `SELECT steamid, kills FROM players ORDER BY kills DESC`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "STEAM_0:1:2", rows[0]["steamid"])
	assert.Equal(t, int64(7), rows[0]["kills"])

	row, err := db.QueryRow(ctx, `SELECT kills FROM players WHERE steamid = ?`, "STEAM_0:1:1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), row["kills"])

	v, err := db.QueryValue(ctx, `SELECT COUNT(*) FROM players`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestQuery_NoRows(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	_, err := db.Exec(ctx, `CREATE TABLE empty (id INTEGER)`)
	require.NoError(t, err)

	rows, err := db.Query(ctx, `SELECT id FROM empty`)
	require.NoError(t, err)
	assert.Empty(t, rows)

	row, err := db.QueryRow(ctx, `SELECT id FROM empty`)
	require.NoError(t, err)
	assert.Nil(t, row)

	v, err := db.QueryValue(ctx, `SELECT id FROM empty`)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestTableExists(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	ok, err := db.TableExists(ctx, "things")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.Exec(ctx, `CREATE TABLE things (id INTEGER)`)
	require.NoError(t, err)

	ok, err = db.TableExists(ctx, "things")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	_, err := db.Exec(ctx, `CREATE TABLE t (id INTEGER)`)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO t (id) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, err := db.QueryValue(ctx, `SELECT COUNT(*) FROM t`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"it's", "'it''s'"},
		{"null\x00tail", "'null'"},
		{"", "''"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Escape(tt.in), tt.in)
	}
}

func TestClosed(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Query(context.Background(), `SELECT 1`)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, db.Close())
}
