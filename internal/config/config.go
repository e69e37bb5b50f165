// Package config loads bindle-server settings from defaults, an optional
// config file, BINDLE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nitishm/bindle/storage/registry"
	"github.com/nitishm/bindle/storage/storageconfig"
)

const (
	EnvPrefix = "BINDLE"

	RepoObject = "object"
	RepoSQLite = "sqlite"
)

type Config struct {
	// DataDir holds the default object store and SQLite database.
	DataDir  string `mapstructure:"data_dir"`
	GRPCAddr string `mapstructure:"grpc_addr"`
	// HTTPAddr is optional; empty disables the HTTP API.
	HTTPAddr string `mapstructure:"http_addr"`

	Log        LogConfig            `mapstructure:"log"`
	Repository RepositoryConfig     `mapstructure:"repository"`
	Storage    storageconfig.Config `mapstructure:"storage"`

	CacheEntries     int `mapstructure:"cache_entries"`
	ChunkSize        int `mapstructure:"chunk_size"`
	ProbeConcurrency int `mapstructure:"probe_concurrency"`
}

type LogConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

type RepositoryConfig struct {
	// Driver is "object" (invoices live in the object store) or "sqlite".
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	dataDir := ".bindle"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".bindle", "data")
	}
	return Config{
		DataDir:          dataDir,
		GRPCAddr:         "127.0.0.1:8079",
		HTTPAddr:         "127.0.0.1:8080",
		Log:              LogConfig{Mode: "development", Level: "info"},
		Repository:       RepositoryConfig{Driver: RepoObject},
		CacheEntries:     100000,
		ChunkSize:        64 << 10,
		ProbeConcurrency: 16,
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"config":            "",
	"data-dir":          "data_dir",
	"grpc-addr":         "grpc_addr",
	"http-addr":         "http_addr",
	"log-mode":          "log.mode",
	"log-level":         "log.level",
	"repository":        "repository.driver",
	"sqlite-path":       "repository.sqlite_path",
	"cache-entries":     "cache_entries",
	"chunk-size":        "chunk_size",
	"probe-concurrency": "probe_concurrency",
}

// RegisterFlags defines the server flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("config", "", "Path to a YAML, TOML or JSON config file")
	fs.String("data-dir", d.DataDir, "Directory for the default object store and database")
	fs.String("grpc-addr", d.GRPCAddr, "gRPC listen address")
	fs.String("http-addr", d.HTTPAddr, "HTTP listen address (empty disables HTTP)")
	fs.String("log-mode", d.Log.Mode, "Log mode: development or production")
	fs.String("log-level", d.Log.Level, "Log level")
	fs.String("repository", d.Repository.Driver, "Invoice repository: object or sqlite")
	fs.String("sqlite-path", "", "SQLite database path (default <data-dir>/invoices.db)")
	fs.Int("cache-entries", d.CacheEntries, "Parcel existence cache entries (negative disables)")
	fs.Int("chunk-size", d.ChunkSize, "Parcel stream chunk size in bytes")
	fs.Int("probe-concurrency", d.ProbeConcurrency, "Concurrent existence probes per missing-parcel query")
}

// Load resolves the configuration. fs may be nil. When fs carries a
// "config" flag its value names the config file.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	d := Defaults()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("grpc_addr", d.GRPCAddr)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("log.mode", d.Log.Mode)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlite_path", "")
	v.SetDefault("cache_entries", d.CacheEntries)
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("probe_concurrency", d.ProbeConcurrency)
	v.SetDefault("storage.write_policy", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var configFile string
	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || key == "" {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDerived fills settings that default relative to DataDir.
func (c *Config) applyDerived() {
	if c.Repository.SQLitePath == "" {
		c.Repository.SQLitePath = filepath.Join(c.DataDir, "invoices.db")
	}
	if len(c.Storage.Backends) == 0 {
		c.Storage.Backends = []storageconfig.BackendConfig{{
			Name:   "localfs",
			Config: map[string]string{"localfs-dir": filepath.Join(c.DataDir, "objects")},
		}}
	}
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if c.GRPCAddr == "" && c.HTTPAddr == "" {
		return errors.New("config: at least one of grpc_addr and http_addr is required")
	}
	switch c.Repository.Driver {
	case RepoObject, RepoSQLite:
	default:
		return fmt.Errorf("config: unknown repository driver %q", c.Repository.Driver)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("config: chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ProbeConcurrency <= 0 {
		return fmt.Errorf("config: probe_concurrency must be positive, got %d", c.ProbeConcurrency)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	names := make([]string, 0, len(c.Storage.Backends))
	for _, b := range c.Storage.Backends {
		names = append(names, b.Name)
	}
	return c.CheckBackends(names...)
}

// CheckBackends rejects parcels-only backends when invoices are kept in the
// object store. Unregistered names pass; opening them fails later.
func (c *Config) CheckBackends(names ...string) error {
	if c.Repository.Driver != RepoObject {
		return nil
	}
	for _, name := range names {
		if registry.ParcelsOnly(name) {
			return fmt.Errorf("config: backend %q stores parcels only; use repository driver %q", name, RepoSQLite)
		}
	}
	return nil
}
