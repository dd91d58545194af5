package recurrence

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds configuration options for the recurrence engine
type EngineConfig struct {
	// Cache configuration
	CacheEnabled bool        `yaml:"cache_enabled"`
	CacheConfig  CacheConfig `yaml:"cache"`

	// MaxInstances caps Expand results; 0 means DefaultMaxInstances.
	MaxInstances int `yaml:"max_instances"`
	// MaxLookupOccurrences is how many occurrences single-event lookups
	// inspect before giving up.
	MaxLookupOccurrences int `yaml:"max_lookup_occurrences"`
}

// DefaultEngineConfig provides sensible defaults for production use
var DefaultEngineConfig = EngineConfig{
	CacheEnabled: true,
	CacheConfig:  DefaultCacheConfig,

	MaxInstances:         DefaultMaxInstances,
	MaxLookupOccurrences: 1000,
}

// HighPerformanceConfig is optimized for high-traffic scenarios
var HighPerformanceConfig = EngineConfig{
	CacheEnabled: true,
	CacheConfig: CacheConfig{
		TTL:             30 * time.Minute,
		MaxEntries:      5000,
		CleanupInterval: 10 * time.Minute,
	},

	MaxInstances:         1000,
	MaxLookupOccurrences: 200,
}

// LowMemoryConfig is optimized for memory-constrained environments
var LowMemoryConfig = EngineConfig{
	CacheEnabled: true,
	CacheConfig: CacheConfig{
		TTL:             5 * time.Minute,
		MaxEntries:      100,
		CleanupInterval: 2 * time.Minute,
	},

	MaxInstances:         500,
	MaxLookupOccurrences: 1000,
}

// DisabledCacheConfig turns off caching entirely
var DisabledCacheConfig = EngineConfig{
	CacheEnabled: false,

	MaxInstances:         DefaultMaxInstances,
	MaxLookupOccurrences: 5000,
}

// ParseEngineConfig reads a YAML document on top of DefaultEngineConfig, so
// omitted fields keep their defaults. Durations use Go syntax ("15m").
func ParseEngineConfig(data []byte) (EngineConfig, error) {
	config := DefaultEngineConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return EngineConfig{}, fmt.Errorf("failed to parse engine config: %w", err)
	}
	if config.MaxInstances < 0 || config.MaxLookupOccurrences < 0 {
		return EngineConfig{}, fmt.Errorf("engine config limits must not be negative")
	}
	if config.CacheEnabled && (config.CacheConfig.TTL <= 0 || config.CacheConfig.MaxEntries <= 0) {
		return EngineConfig{}, fmt.Errorf("cache ttl and max_entries must be positive when the cache is enabled")
	}
	return config, nil
}

// LoadEngineConfig reads an EngineConfig from a YAML file.
func LoadEngineConfig(path string) (EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("failed to read engine config: %w", err)
	}
	return ParseEngineConfig(data)
}

// NewEngineWithConfig creates a new recurrence engine with custom configuration
func NewEngineWithConfig(config EngineConfig, opts ...Option) *Engine {
	var cache *RecurrenceCache
	if config.CacheEnabled {
		cache = NewRecurrenceCache(config.CacheConfig)
	}

	e := &Engine{
		cache:  cache,
		config: config,
		logger: defaultLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
