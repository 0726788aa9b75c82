package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "addonlib.toml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Second, cfg.Sync.Debounce.Std())
	assert.Equal(t, 10*time.Second, cfg.Sync.SendTimeout.Std())
	assert.Equal(t, 5*time.Second, cfg.Server.WriteTimeout.Std())
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, "en-US", cfg.Locale.Default)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	p := writeFile(t, `
[server]
addr = "127.0.0.1:9000"

[storage]
backend = "sqlite"
sqlite_path = "x.db"
watch = false

[sync]
debounce = "250ms"

[addons]
execution_timeout = "1s"

[permissions]
admins = ["alice", "bob"]
superadmins = ["root"]

[locale]
default = "de-DE"
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "/addonlib", cfg.Server.Path, "unset keys keep their default")
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "x.db", cfg.Storage.SQLitePath)
	assert.False(t, cfg.Storage.Watch)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.Debounce.Std())
	assert.Equal(t, time.Second, cfg.Addons.ExecutionTimeout.Std())
	assert.Equal(t, []string{"alice", "bob"}, cfg.Permissions.Admins)
	assert.Equal(t, []string{"root"}, cfg.Permissions.SuperAdmins)
	assert.Equal(t, "de-DE", cfg.Locale.Default)
}

func TestLoad_ParseError(t *testing.T) {
	p := writeFile(t, "[server\naddr = 1\n")
	_, err := Load(p)
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, p, pe.Path)
	assert.Equal(t, 1, pe.Line)
}

func TestLoad_UnknownKey(t *testing.T) {
	p := writeFile(t, "[server]\nadress = \":1\"\n")
	_, err := Load(p)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, pe.Message, "adress")
}

func TestLoad_BadDuration(t *testing.T) {
	p := writeFile(t, "[sync]\ndebounce = \"soon\"\n")
	_, err := Load(p)

	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(map[string]string{
		"ADDONLIB_SERVER_ADDR":        ":1234",
		"ADDONLIB_SYNC_DEBOUNCE":      "10ms",
		"ADDONLIB_STORAGE_WATCH":      "false",
		"ADDONLIB_ADDONS_QUEUE_SIZE":  "7",
		"ADDONLIB_PERMISSIONS_ADMINS": "alice,bob",
		"ADDONLIB_LOG_LEVEL":          "debug",
		"UNRELATED":                   "x",
	})
	require.NoError(t, err)

	assert.Equal(t, ":1234", cfg.Server.Addr)
	assert.Equal(t, 10*time.Millisecond, cfg.Sync.Debounce.Std())
	assert.False(t, cfg.Storage.Watch)
	assert.Equal(t, 7, cfg.Addons.QueueSize)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Permissions.Admins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/addonlib", cfg.Server.Path)
}

func TestApplyEnv_BadValue(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(map[string]string{"ADDONLIB_ADDONS_QUEUE_SIZE": "many"})
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeFile(t, "[server]\naddr = \":1\"\n")
	t.Setenv("ADDONLIB_SERVER_ADDR", ":2")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":2", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"relative path", func(c *Config) { c.Server.Path = "ws" }, "server.path"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"sqlite without path", func(c *Config) {
			c.Storage.Backend = BackendSQLite
			c.Storage.SQLitePath = ""
		}, "storage.sqlite_path"},
		{"empty root", func(c *Config) { c.Storage.Root = "" }, "storage.root"},
		{"negative debounce", func(c *Config) { c.Sync.Debounce = Duration(-time.Second) }, "sync.debounce"},
		{"negative send timeout", func(c *Config) { c.Sync.SendTimeout = Duration(-time.Second) }, "sync.send_timeout"},
		{"negative write timeout", func(c *Config) { c.Server.WriteTimeout = Duration(-time.Second) }, "server.write_timeout"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"no addons dir", func(c *Config) { c.Addons.Dir = "" }, "addons.dir"},
		{"negative queue", func(c *Config) { c.Addons.QueueSize = -1 }, "addons.queue_size"},
		{"no locale", func(c *Config) { c.Locale.Default = "" }, "locale.default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestValidate_ReportsEveryField(t *testing.T) {
	cfg := Default()
	cfg.Server.Addr = ""
	cfg.Locale.Default = ""

	var verr *ValidationError
	require.True(t, errors.As(cfg.Validate(), &verr))
	assert.Len(t, verr.Fields, 2)
	assert.Contains(t, verr.Error(), "server.addr")
	assert.Contains(t, verr.Error(), "locale.default")
}

func TestEncode_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Permissions.Admins = []string{"alice"}
	cfg.Permissions.SuperAdmins = []string{"root"}

	data, err := cfg.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), "2s")

	got, err := Load(writeFile(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
