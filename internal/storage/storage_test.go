package storage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/addonlib/internal/sqldb"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"addonlib/config/base.json", "addonlib/config/base.json", false},
		{"/addonlib//config/", "addonlib/config", false},
		{`addonlib\config\base.json`, "addonlib/config/base.json", false},
		{"", "", true},
		{"/", "", true},
		{"../etc/passwd", "", true},
		{"addonlib/../../x", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanKey(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// backendContract runs the behavior every Backend must share.
func backendContract(t *testing.T, b Backend) {
	ctx := context.Background()

	_, ok, err := b.Read(ctx, "addonlib/config/base.json")
	require.NoError(t, err)
	assert.False(t, ok, "missing document reads as not ok")

	err = b.Write(ctx, "addonlib/config/base.json", `{"Debug":"true"}`)
	assert.Error(t, err, "write into a missing directory fails")

	require.NoError(t, b.CreateDir(ctx, "addonlib/config"))
	exists, err := b.Exists(ctx, "addonlib/config")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = b.Exists(ctx, "addonlib")
	require.NoError(t, err)
	assert.True(t, exists, "parents are created too")

	require.NoError(t, b.Write(ctx, "addonlib/config/base.json", `{"Debug":"true"}`))
	data, ok, err := b.Read(ctx, "addonlib/config/base.json")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"Debug":"true"}`, data)

	require.NoError(t, b.Write(ctx, "addonlib/config/base.json", `{}`))
	data, _, err = b.Read(ctx, "addonlib/config/base.json")
	require.NoError(t, err)
	assert.Equal(t, `{}`, data, "write overwrites")

	exists, err = b.Exists(ctx, "addonlib/config/base.json")
	require.NoError(t, err)
	assert.True(t, exists)

	_, _, err = b.Read(ctx, "../outside")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFileBackend(t *testing.T) {
	root := t.TempDir()
	b := NewFileBackend(root)
	backendContract(t, b)

	// Documents land as plain files under the root.
	raw, err := os.ReadFile(filepath.Join(root, "addonlib", "config", "base.json"))
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(raw))
	assert.Equal(t, root, b.Root())
}

func TestFileBackend_RewriteKeepsReadableMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no unix permission bits")
	}
	ctx := context.Background()
	root := t.TempDir()
	b := NewFileBackend(root)
	require.NoError(t, b.CreateDir(ctx, "cfg"))

	for _, data := range []string{`{"A":"1"}`, `{"A":"2"}`} {
		require.NoError(t, b.Write(ctx, "cfg/BASE.json", data))
		info, err := os.Stat(filepath.Join(root, "cfg", "BASE.json"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	}
}

func TestFileBackend_CanceledContext(t *testing.T) {
	b := NewFileBackend(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := b.Read(ctx, "x.json")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteBackend(t *testing.T) {
	db, err := sqldb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b, err := NewSQLiteBackend(context.Background(), db)
	require.NoError(t, err)
	backendContract(t, b)

	ok, err := db.TableExists(context.Background(), "addon_documents")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewSQLiteBackend_RequiresDB(t *testing.T) {
	_, err := NewSQLiteBackend(context.Background(), nil)
	require.Error(t, err)
}
