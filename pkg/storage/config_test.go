package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotEmpty(t, cfg.RootDir)
	assert.Equal(t, uint32(24*3600), cfg.ShardStateTTL)
	assert.Equal(t, 128*datasize.MB, cfg.PackageBudget.ByteSize)
	assert.Equal(t, time.Hour, cfg.GCInterval)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root_dir: /data/cellar
shard_state_ttl: 3600
package_size_budget: 64MB
gc_interval: 30m
log_level: debug
log_json: true
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/cellar", cfg.RootDir)
	assert.Equal(t, uint32(3600), cfg.ShardStateTTL)
	assert.Equal(t, 64*datasize.MB, cfg.PackageBudget.ByteSize)
	assert.Equal(t, 30*time.Minute, cfg.GCInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
}

func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root_dir: /data/cellar\n"), 0644))

	// Unset fields keep their defaults
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/cellar", cfg.RootDir)
	assert.Equal(t, DefaultConfig().ShardStateTTL, cfg.ShardStateTTL)
	assert.Equal(t, DefaultConfig().PackageBudget, cfg.PackageBudget)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
