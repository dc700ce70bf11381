package sqdata

import (
	"fmt"
	"os"
	"time"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/query"
	"github.com/liliang-cn/sqdata/pkg/tabular"
	"gopkg.in/yaml.v3"
)

// Config represents database configuration
type Config struct {
	Path         string        `yaml:"path"`          // Database file path
	FlushEvery   int           `yaml:"flush_every"`   // Table metadata batch size
	IdleTimeout  time.Duration `yaml:"idle_timeout"`  // Evict datasets idle this long; 0 keeps them
	Preload      bool          `yaml:"preload"`       // Materialize every dataset on Open
	LogLevel     string        `yaml:"log_level"`     // debug, info, warn or error; empty logs nothing
	QueryEpsilon float64       `yaml:"query_epsilon"` // Numeric equality tolerance for queries; 0 uses query.Epsilon

	// Logger overrides LogLevel when set
	Logger core.Logger `yaml:"-"`
}

// DefaultConfig returns default configuration
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		FlushEvery:   tabular.DefaultFlushEvery,
		QueryEpsilon: query.Epsilon,
	}
}

// LoadConfig reads a YAML config file over DefaultConfig. A path in the file
// wins over the default's empty one.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig("")
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: invalid config %s: %v", core.ErrInvalidArgument, path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case c.FlushEvery < 0:
		return fmt.Errorf("%w: flush_every must be non-negative", core.ErrInvalidArgument)
	case c.IdleTimeout < 0:
		return fmt.Errorf("%w: idle_timeout must be non-negative", core.ErrInvalidArgument)
	case c.QueryEpsilon < 0:
		return fmt.Errorf("%w: query_epsilon must be non-negative", core.ErrInvalidArgument)
	}
	if c.LogLevel != "" {
		if _, err := core.ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) logger() (core.Logger, error) {
	if c.Logger != nil {
		return c.Logger, nil
	}
	if c.LogLevel == "" {
		return core.NopLogger(), nil
	}
	level, err := core.ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return core.NewStdLogger(level), nil
}
