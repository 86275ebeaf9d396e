package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		loader func(string) (*config.Config, error)
	}{
		{name: "YAML", path: "../../config.example.yaml", loader: LoadFromYAML},
		{name: "JSON", path: "../../config.example.json", loader: LoadFromJSON},
		{name: "TOML", path: "../../config.example.toml", loader: LoadFromTOML},
		{name: "auto-detected YAML", path: "../../config.example.yaml", loader: LoadFromFile},
		{name: "auto-detected JSON", path: "../../config.example.json", loader: LoadFromFile},
		{name: "auto-detected TOML", path: "../../config.example.toml", loader: LoadFromFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := tt.loader(tt.path)
			require.NoError(t, err)

			validateConfig(t, cfg, tt.name)
		})
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile("config.txt")
	require.ErrorContains(t, err, "unsupported config file format")
}

func TestLoadFromFile_ExpandsEnv(t *testing.T) {
	t.Setenv("STARKINDEXOR_TEST_RPC", "http://node.internal:9545")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
stream:
  rpc_url: "${STARKINDEXOR_TEST_RPC}"
indexers:
  - name: "lifeform"
    type: "lifeform"
    contracts:
      - address: "0x1"
    storage:
      driver: "badger"
      badger:
        in_memory: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "http://node.internal:9545", cfg.Stream.RPCURL)
	require.Equal(t, config.DriverBadger, cfg.Indexers[0].Storage.Driver)
}

func TestLoadFromYAML_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
stream:
  rpc_url: "http://localhost:9545"
  chunk_size: 5000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadFromYAML(path)
	require.ErrorContains(t, err, "failed to parse YAML config")
}

// validateConfig checks that the loaded config has expected values
func validateConfig(t *testing.T, cfg *config.Config, format string) {
	t.Helper()

	require.NotEmpty(t, cfg.Stream.RPCURL, "[%s] stream.rpc_url should not be empty", format)
	require.Equal(t, config.FinalityAccepted, cfg.Stream.Finality, "[%s] stream.finality", format)
	require.Equal(t, 5*time.Second, cfg.Stream.PollInterval.Duration, "[%s] stream.poll_interval", format)
	require.NotNil(t, cfg.Stream.Retry, "[%s] stream.retry", format)

	require.Len(t, cfg.Indexers, 1, "[%s] indexers", format)
	idx := cfg.Indexers[0]
	require.Equal(t, "lifeform_tokens", idx.Name)
	require.Equal(t, "lifeform", idx.Type)
	require.Equal(t, uint64(635900), idx.StartingBlock)
	require.True(t, idx.ShouldPersistState())
	require.Equal(t, uint64(64), idx.ReorgWindow)
	require.Len(t, idx.Contracts, 1)

	require.Equal(t, config.DriverSQLite, idx.Storage.Driver)
	require.NotNil(t, idx.Storage.SQLite)
	require.Equal(t, "WAL", idx.Storage.SQLite.JournalMode)
	require.Equal(t, 5000, idx.Storage.SQLite.BusyTimeout, "[%s] sqlite default busy_timeout", format)

	require.Equal(t, 3, idx.StorageRetry.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, idx.StorageRetry.InitialBackoff.Duration)
	require.Equal(t, 30*time.Second, idx.StorageRetry.MaxBackoff.Duration, "[%s] storage_retry default", format)

	require.NotNil(t, cfg.Logging)
	require.Equal(t, "debug", cfg.Logging.GetComponentLevel("cursor-tracker"))
	require.Equal(t, "info", cfg.Logging.GetComponentLevel("engine"))

	require.NotNil(t, cfg.API)
	require.Equal(t, 15*time.Second, cfg.API.ReadTimeout.Duration, "[%s] api default read_timeout", format)
}

func TestConfigDefaults(t *testing.T) {
	cfg := &config.Config{
		Stream: config.StreamConfig{RPCURL: "https://test.com"},
		Indexers: []config.IndexerConfig{
			{
				Name: "test",
				Type: "erc721",
				Storage: config.StorageConfig{
					SQLite: &config.DatabaseConfig{Path: "./test.db"},
				},
				Contracts: []config.ContractConfig{{Address: "0x1234"}},
			},
		},
	}

	cfg.ApplyDefaults()

	require.Equal(t, config.FinalityAccepted, cfg.Stream.Finality)
	require.Equal(t, 100, cfg.Stream.EventsChunkSize)
	require.Equal(t, 5, cfg.Stream.Retry.MaxAttempts)

	idx := cfg.Indexers[0]
	require.Equal(t, config.DriverSQLite, idx.Storage.Driver)
	require.Equal(t, "NORMAL", idx.Storage.SQLite.Synchronous)
	require.Equal(t, 25, idx.Storage.SQLite.MaxOpenConnections)
	require.True(t, idx.ShouldPersistState())
	require.Equal(t, uint64(64), idx.ReorgWindow)
	require.Equal(t, 3, idx.StorageRetry.MaxAttempts)

	require.NoError(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	valid := func() *config.Config {
		cfg := &config.Config{
			Stream: config.StreamConfig{RPCURL: "https://test.com"},
			Indexers: []config.IndexerConfig{
				{
					Name: "test",
					Type: "lifeform",
					Storage: config.StorageConfig{
						SQLite: &config.DatabaseConfig{Path: "./test.db"},
					},
					Contracts: []config.ContractConfig{{Address: "0x1234"}},
				},
			},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(cfg *config.Config) {},
		},
		{
			name:    "missing rpc url",
			mutate:  func(cfg *config.Config) { cfg.Stream.RPCURL = "" },
			wantErr: "stream.rpc_url is required",
		},
		{
			name:    "invalid finality",
			mutate:  func(cfg *config.Config) { cfg.Stream.Finality = "safe" },
			wantErr: "stream.finality",
		},
		{
			name:    "no indexers",
			mutate:  func(cfg *config.Config) { cfg.Indexers = nil },
			wantErr: "at least one indexer",
		},
		{
			name: "duplicate indexer names",
			mutate: func(cfg *config.Config) {
				cfg.Indexers = append(cfg.Indexers, cfg.Indexers[0])
			},
			wantErr: "duplicate indexer name",
		},
		{
			name:    "missing type",
			mutate:  func(cfg *config.Config) { cfg.Indexers[0].Type = "" },
			wantErr: "type is required",
		},
		{
			name:    "unknown driver",
			mutate:  func(cfg *config.Config) { cfg.Indexers[0].Storage.Driver = "mysql" },
			wantErr: "storage.driver must be one of",
		},
		{
			name: "postgres without dsn",
			mutate: func(cfg *config.Config) {
				cfg.Indexers[0].Storage.Driver = config.DriverPostgres
			},
			wantErr: "storage.postgres.dsn is required",
		},
		{
			name:    "contract without 0x",
			mutate:  func(cfg *config.Config) { cfg.Indexers[0].Contracts[0].Address = "1234" },
			wantErr: "0x-prefixed",
		},
		{
			name: "unknown logging component",
			mutate: func(cfg *config.Config) {
				cfg.Logging = &config.LoggingConfig{
					DefaultLevel:    "info",
					ComponentLevels: map[string]string{"downloader": "debug"},
				}
			},
			wantErr: "unknown component",
		},
		{
			name: "negative checkpoint cadence",
			mutate: func(cfg *config.Config) {
				cfg.Indexers[0].Maintenance = &config.MaintenanceConfig{Enabled: true, CheckpointEveryBatches: -1}
			},
			wantErr: "checkpoint_every_batches",
		},
		{
			name: "notifier without url",
			mutate: func(cfg *config.Config) {
				cfg.Notifier = &config.NotifierConfig{Enabled: true}
			},
			wantErr: "nats_url is required",
		},
		{
			name: "lock without url",
			mutate: func(cfg *config.Config) {
				cfg.Lock = &config.LockConfig{Enabled: true}
				cfg.Lock.ApplyDefaults()
			},
			wantErr: "redis_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
