package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/nitishm/bindle/storage"
	"github.com/nitishm/bindle/storage/memory"
	"github.com/nitishm/bindle/storage/registry"
	"github.com/nitishm/bindle/storage/storageconfig"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t, "--data-dir", "/srv/bindle"))
	require.NoError(t, err)
	require.Equal(t, "/srv/bindle", cfg.DataDir)
	require.Equal(t, RepoObject, cfg.Repository.Driver)
	require.Equal(t, filepath.Join("/srv/bindle", "invoices.db"), cfg.Repository.SQLitePath)
	require.Len(t, cfg.Storage.Backends, 1)
	require.Equal(t, "localfs", cfg.Storage.Backends[0].Name)
	require.Equal(t, filepath.Join("/srv/bindle", "objects"), cfg.Storage.Backends[0].Config["localfs-dir"])
	require.Equal(t, 64<<10, cfg.ChunkSize)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("BINDLE_GRPC_ADDR", "0.0.0.0:9000")
	t.Setenv("BINDLE_REPOSITORY_DRIVER", "sqlite")
	t.Setenv("BINDLE_LOG_LEVEL", "debug")

	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.GRPCAddr)
	require.Equal(t, RepoSQLite, cfg.Repository.Driver)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("BINDLE_GRPC_ADDR", "0.0.0.0:9000")
	cfg, err := Load(newFlags(t, "--grpc-addr", "127.0.0.1:7000"))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7000", cfg.GRPCAddr)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bindle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: `+dir+`
http_addr: ""
probe_concurrency: 4
repository:
  driver: sqlite
storage:
  write_policy: all
  backends:
    - name: memory
    - name: localfs
      id: disk
      config:
        localfs-dir: `+filepath.Join(dir, "objects")+`
`), 0o644))

	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)
	require.Equal(t, dir, cfg.DataDir)
	require.Empty(t, cfg.HTTPAddr)
	require.Equal(t, 4, cfg.ProbeConcurrency)
	require.Equal(t, RepoSQLite, cfg.Repository.Driver)
	require.Equal(t, "all", cfg.Storage.WritePolicy)
	require.Len(t, cfg.Storage.Backends, 2)
	require.Equal(t, "disk", cfg.Storage.Backends[1].ID)
	require.Equal(t, filepath.Join(dir, "objects"), cfg.Storage.Backends[1].Config["localfs-dir"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown repository", []string{"--repository", "postgres"}},
		{"zero chunk size", []string{"--chunk-size", "0"}},
		{"no listeners", []string{"--grpc-addr", "", "--http-addr", ""}},
		{"missing config file", []string{"--config", "/does/not/exist.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newFlags(t, tt.args...))
			require.Error(t, err)
		})
	}
}

func init() {
	open := func() (storage.ObjectStore, func() error, error) { return memory.New(), nil, nil }
	registry.MustRegister(registry.Backend{
		Name:          "config-test-parcels",
		Usage:         registry.UsageServer,
		ParcelsOnly:   true,
		RegisterFlags: func(*pflag.FlagSet) {},
		Open:          open,
		OpenConfig:    func(map[string]string) (storage.ObjectStore, func() error, error) { return open() },
	})
}

func TestValidateParcelsOnlyBackendNeedsSQLite(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Storage = storageconfig.Config{Backends: []storageconfig.BackendConfig{{Name: "config-test-parcels"}}}

	err := cfg.Validate()
	require.ErrorContains(t, err, "stores parcels only")

	cfg.Repository.Driver = RepoSQLite
	require.NoError(t, cfg.Validate())

	cfg.Repository.Driver = RepoObject
	require.NoError(t, cfg.CheckBackends("localfs", "unregistered"))
	require.Error(t, cfg.CheckBackends("config-test-parcels"))
}

func TestLoadWithoutFlags(t *testing.T) {
	t.Setenv("BINDLE_DATA_DIR", t.TempDir())
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, Defaults().GRPCAddr, cfg.GRPCAddr)
}
