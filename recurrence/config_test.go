package recurrence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEngineConfig(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		expected EngineConfig
	}{
		{
			name:     "empty document keeps defaults",
			yaml:     "",
			expected: DefaultEngineConfig,
		},
		{
			name: "overrides limits",
			yaml: "max_instances: 200\nmax_lookup_occurrences: 50\n",
			expected: EngineConfig{
				CacheEnabled:         true,
				CacheConfig:          DefaultCacheConfig,
				MaxInstances:         200,
				MaxLookupOccurrences: 50,
			},
		},
		{
			name: "cache section",
			yaml: "cache:\n  ttl: 90s\n  max_entries: 42\n  cleanup_interval: 1m\n",
			expected: EngineConfig{
				CacheEnabled: true,
				CacheConfig: CacheConfig{
					TTL:             90 * time.Second,
					MaxEntries:      42,
					CleanupInterval: time.Minute,
				},
				MaxInstances:         DefaultMaxInstances,
				MaxLookupOccurrences: 1000,
			},
		},
		{
			name: "disabled cache ignores cache limits",
			yaml: "cache_enabled: false\ncache:\n  ttl: 0s\n",
			expected: EngineConfig{
				CacheEnabled: false,
				CacheConfig: CacheConfig{
					MaxEntries:      DefaultCacheConfig.MaxEntries,
					CleanupInterval: DefaultCacheConfig.CleanupInterval,
				},
				MaxInstances:         DefaultMaxInstances,
				MaxLookupOccurrences: 1000,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := ParseEngineConfig([]byte(tt.yaml))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, config)
		})
	}
}

func TestParseEngineConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "max_instances: [1, 2"},
		{"wrong type", "max_instances: lots"},
		{"bad duration", "cache:\n  ttl: soon\n"},
		{"negative instances", "max_instances: -1"},
		{"negative lookups", "max_lookup_occurrences: -5"},
		{"zero ttl", "cache:\n  ttl: 0s\n"},
		{"zero entries", "cache:\n  max_entries: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEngineConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadEngineConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_enabled: false\nmax_instances: 10\n"), 0o600))

	config, err := LoadEngineConfig(path)
	require.NoError(t, err)
	assert.False(t, config.CacheEnabled)
	assert.Equal(t, 10, config.MaxInstances)

	engine := NewEngineWithConfig(config)
	defer engine.Close()
	assert.Equal(t, config, engine.Config())

	_, err = engine.Expand(meeting(t, "FREQ=DAILY"), utc(2024, 1, 1, 0, 0, 0), utc(2024, 2, 1, 0, 0, 0))
	assert.True(t, IsType(err, ErrTooManyInstances))

	_, err = LoadEngineConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
