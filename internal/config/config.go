// Package config loads the process configuration.
//
// Settings come from three places, later ones winning:
//
//  1. built-in defaults (Default),
//  2. a TOML file,
//  3. ADDONLIB_* environment variables, e.g. ADDONLIB_SERVER_ADDR or
//     ADDONLIB_PERMISSIONS_ADMINS=alice,bob.
//
// A minimal file:
//
//	[server]
//	addr = ":27015"
//
//	[storage]
//	backend = "sqlite"
//	sqlite_path = "data/addonlib.db"
//
//	[sync]
//	debounce = "2s"
//
//	[permissions]
//	admins = ["alice"]
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/addonlib/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ADDONLIB_"

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Duration is a time.Duration written as a Go duration string ("2s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the whole process configuration.
type Config struct {
	Server      ServerConfig      `toml:"server" envPrefix:"SERVER_"`
	Storage     StorageConfig     `toml:"storage" envPrefix:"STORAGE_"`
	Sync        SyncConfig        `toml:"sync" envPrefix:"SYNC_"`
	Log         LogConfig         `toml:"log" envPrefix:"LOG_"`
	Addons      AddonsConfig      `toml:"addons" envPrefix:"ADDONS_"`
	Permissions PermissionsConfig `toml:"permissions" envPrefix:"PERMISSIONS_"`
	Locale      LocaleConfig      `toml:"locale" envPrefix:"LOCALE_"`
	Client      ClientConfig      `toml:"client" envPrefix:"CLIENT_"`
}

// ServerConfig configures the websocket listener.
type ServerConfig struct {
	Addr            string   `toml:"addr" env:"ADDR"`
	Path            string   `toml:"path" env:"PATH"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// WriteTimeout bounds one message write to one client; a client that
	// stops reading is disconnected once it expires.
	WriteTimeout Duration `toml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// StorageConfig selects where module documents live.
type StorageConfig struct {
	Backend    string `toml:"backend" env:"BACKEND"`
	Root       string `toml:"root" env:"ROOT"`
	Dir        string `toml:"dir" env:"DIR"`
	SQLitePath string `toml:"sqlite_path" env:"SQLITE_PATH"`

	// Watch reloads modules edited on disk (file backend only).
	Watch         bool     `toml:"watch" env:"WATCH"`
	WatchDebounce Duration `toml:"watch_debounce" env:"WATCH_DEBOUNCE"`
}

// SyncConfig configures server to client synchronization.
type SyncConfig struct {
	Debounce    Duration `toml:"debounce" env:"DEBOUNCE"`
	SendTimeout Duration `toml:"send_timeout" env:"SEND_TIMEOUT"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

// AddonsConfig configures the Lua addon host.
type AddonsConfig struct {
	Enabled          bool     `toml:"enabled" env:"ENABLED"`
	Dir              string   `toml:"dir" env:"DIR"`
	ExecutionTimeout Duration `toml:"execution_timeout" env:"EXECUTION_TIMEOUT"`
	QueueSize        int      `toml:"queue_size" env:"QUEUE_SIZE"`
}

// PermissionsConfig lists privileged peers.
type PermissionsConfig struct {
	Admins      []string `toml:"admins" env:"ADMINS" envSeparator:","`
	SuperAdmins []string `toml:"superadmins" env:"SUPERADMINS" envSeparator:","`
}

// LocaleConfig selects the notification language.
type LocaleConfig struct {
	Default string `toml:"default" env:"DEFAULT"`
}

// ClientConfig configures the client role.
type ClientConfig struct {
	URL     string `toml:"url" env:"URL"`
	DataDir string `toml:"data_dir" env:"DATA_DIR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":27015",
			Path:            "/addonlib",
			ShutdownTimeout: Duration(5 * time.Second),
			WriteTimeout:    Duration(5 * time.Second),
		},
		Storage: StorageConfig{
			Backend:       BackendFile,
			Root:          "data",
			Dir:           "config",
			SQLitePath:    "data/addonlib.db",
			Watch:         true,
			WatchDebounce: Duration(200 * time.Millisecond),
		},
		Sync: SyncConfig{
			Debounce:    Duration(2 * time.Second),
			SendTimeout: Duration(10 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatJSON,
		},
		Addons: AddonsConfig{
			Enabled:          true,
			Dir:              "addons",
			ExecutionTimeout: Duration(5 * time.Second),
			QueueSize:        100,
		},
		Locale: LocaleConfig{
			Default: "en-US",
		},
		Client: ClientConfig{
			URL:     "ws://localhost:27015/addonlib",
			DataDir: "client-data",
		},
	}
}

// Load reads the TOML file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error; an
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := cfg.decode(path, data); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode parses TOML over c. Unknown keys are errors so typos surface.
func (c *Config) decode(source string, data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			pe.Line, pe.Column = derr.Position()
		}
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			pe.Message = serr.String()
		}
		return pe
	}
	return nil
}

// ApplyEnv applies ADDONLIB_* environment overrides.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(nil)
}

func (c *Config) applyEnv(environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if c.Server.Addr == "" {
		verr.add("server.addr", "must not be empty")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		verr.add("server.path", "must start with /")
	}
	if c.Server.ShutdownTimeout < 0 {
		verr.add("server.shutdown_timeout", "must not be negative")
	}
	if c.Server.WriteTimeout < 0 {
		verr.add("server.write_timeout", "must not be negative")
	}

	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.Root == "" {
			verr.add("storage.root", "must not be empty for the file backend")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			verr.add("storage.sqlite_path", "must not be empty for the sqlite backend")
		}
	default:
		verr.add("storage.backend", "must be %q or %q, got %q", BackendFile, BackendSQLite, c.Storage.Backend)
	}
	if c.Storage.Dir == "" {
		verr.add("storage.dir", "must not be empty")
	}
	if c.Storage.WatchDebounce < 0 {
		verr.add("storage.watch_debounce", "must not be negative")
	}

	if c.Sync.Debounce < 0 {
		verr.add("sync.debounce", "must not be negative")
	}
	if c.Sync.SendTimeout < 0 {
		verr.add("sync.send_timeout", "must not be negative")
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		verr.add("log.level", "%v", err)
	}
	switch c.Log.Format {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		verr.add("log.format", "must be %q or %q, got %q", logging.FormatJSON, logging.FormatConsole, c.Log.Format)
	}

	if c.Addons.Enabled && c.Addons.Dir == "" {
		verr.add("addons.dir", "must not be empty when addons are enabled")
	}
	if c.Addons.ExecutionTimeout < 0 {
		verr.add("addons.execution_timeout", "must not be negative")
	}
	if c.Addons.QueueSize < 0 {
		verr.add("addons.queue_size", "must not be negative")
	}

	if c.Locale.Default == "" {
		verr.add("locale.default", "must not be empty")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Encode returns c as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
