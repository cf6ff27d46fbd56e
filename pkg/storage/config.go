package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/cellardb/cellar/pkg/celldb"
)

// ByteSize adds YAML decoding to datasize.ByteSize, accepting values like
// "64MB" or plain byte counts.
type ByteSize struct {
	datasize.ByteSize
}

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return b.UnmarshalText([]byte(s))
}

// Config holds the storage core configuration
type Config struct {
	// RootDir is the storage root directory
	RootDir string `yaml:"root_dir"`

	// ShardStateTTL is how long a shard state outlives its block's
	// generation time, in seconds
	ShardStateTTL uint32 `yaml:"shard_state_ttl"`

	// PackageBudget bounds one archive package file before rollover
	PackageBudget ByteSize `yaml:"package_size_budget"`

	// GCInterval is the period of the background collection loop
	GCInterval time.Duration `yaml:"gc_interval"`

	// LogLevel configures the global logger
	LogLevel string `yaml:"log_level"`

	// LogJSON switches the global logger to JSON output
	LogJSON bool `yaml:"log_json"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() Config {
	return Config{
		RootDir:       "/var/lib/cellar",
		ShardStateTTL: celldb.DefaultStateTTL,
		PackageBudget: ByteSize{128 * datasize.MB},
		GCInterval:    time.Hour,
		LogLevel:      "info",
	}
}

// LoadConfig reads a YAML configuration file over the defaults
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.RootDir == "" {
		return cfg, fmt.Errorf("config: root_dir must not be empty")
	}
	return cfg, nil
}
