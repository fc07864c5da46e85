package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/evmproc-dev/evmproc/pkg/config"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `processor:
  archive_url: https://archive.example.com
  chain_url: https://rpc.example.com
  status_schema: test_processor
database:
  path: ./test.db
logging:
  default_level: info
metrics:
  enabled: true
`

const jsonConfig = `{
  "processor": {
    "archive_url": "https://archive.example.com",
    "chain_url": "https://rpc.example.com",
    "status_schema": "test_processor"
  },
  "database": {"path": "./test.db"}
}`

const tomlConfig = `[processor]
archive_url = "https://archive.example.com"
chain_url = "https://rpc.example.com"
status_schema = "test_processor"

[database]
path = "./test.db"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromYAML(t *testing.T) {
	cfg, err := LoadFromYAML(writeConfig(t, "config.yaml", yamlConfig))
	require.NoError(t, err)
	validateConfig(t, cfg, "YAML")

	require.NotNil(t, cfg.Metrics)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, ":9090", cfg.Metrics.ListenAddress, "metrics defaults should be applied")
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := LoadFromJSON(writeConfig(t, "config.json", jsonConfig))
	require.NoError(t, err)
	validateConfig(t, cfg, "JSON")
}

func TestLoadFromTOML(t *testing.T) {
	cfg, err := LoadFromTOML(writeConfig(t, "config.toml", tomlConfig))
	require.NoError(t, err)
	validateConfig(t, cfg, "TOML")
}

func TestLoadFromFile_AutoDetect(t *testing.T) {
	for _, tt := range []struct {
		name    string
		content string
	}{
		{"config.yaml", yamlConfig},
		{"config.yml", yamlConfig},
		{"config.json", jsonConfig},
		{"config.toml", tomlConfig},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromFile(writeConfig(t, tt.name, tt.content))
			require.NoError(t, err)
			validateConfig(t, cfg, tt.name)
		})
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile("config.txt")
	require.ErrorContains(t, err, "unsupported config file format")
}

func TestLoadFromFile_InvalidConfig(t *testing.T) {
	// No data source at all fails validation.
	path := writeConfig(t, "config.yaml", "database:\n  path: ./test.db\n")
	_, err := LoadFromFile(path)
	require.ErrorContains(t, err, "at least one of archive_url or chain_url")
}

// validateConfig checks that the loaded config has expected values and that
// defaults were applied.
func validateConfig(t *testing.T, cfg *config.Config, format string) {
	t.Helper()

	require.Equal(t, "https://archive.example.com", cfg.Processor.ArchiveURL, "[%s]", format)
	require.Equal(t, "https://rpc.example.com", cfg.Processor.ChainURL, "[%s]", format)
	require.Equal(t, "test_processor", cfg.Processor.StatusSchema, "[%s]", format)

	require.NotZero(t, cfg.Processor.SafetyDepth, "[%s] safety_depth default", format)
	require.NotZero(t, cfg.Processor.PollInterval.Duration, "[%s] poll_interval default", format)
	require.NotZero(t, cfg.Processor.QueryTimeout.Duration, "[%s] query_timeout default", format)

	require.Equal(t, "./test.db", cfg.Database.Path, "[%s]", format)
	require.Equal(t, "WAL", cfg.Database.JournalMode, "[%s] journal_mode default", format)
	require.Equal(t, "NORMAL", cfg.Database.Synchronous, "[%s] synchronous default", format)
}
