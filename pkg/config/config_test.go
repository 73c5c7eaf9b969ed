package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig("non_existent_config.yml")
	require.NoError(t, err)

	assert.Equal(t, 0.1, config.Karma.ReactionCoefficient)
	assert.Equal(t, 0.5, config.Karma.RequiredPercentile)
	assert.Equal(t, 60.0, config.Karma.TimeToCancelSeconds)
	assert.False(t, config.Karma.CanBeBot)
	assert.False(t, config.Karma.EnforceSubZeroGuard)
	require.Len(t, config.Karma.RateLimitsGlobal, 2)
	assert.Equal(t, 10.0, config.Karma.RateLimitsGlobal[0].Rate)
	require.Len(t, config.Karma.RateLimitsPerTarget, 2)
	assert.Equal(t, 3.0, config.Karma.RateLimitsPerTarget[0].Rate)

	assert.True(t, config.AutoRestriction.Enabled)
	assert.Equal(t, 2.0, config.AutoRestriction.BackoffFactor)
	assert.InDelta(t, 10*60.0, config.AutoRestrictionBase().Seconds(), 1e-6)

	assert.InDelta(t, 90*24*60*60.0, config.AuthorRetention().Seconds(), 1e-6)
	assert.InDelta(t, 24*60*60.0, config.AuthorCleanupInterval().Seconds(), 1e-6)

	assert.Equal(t, "karmicbot", config.Database.Namespace)
	assert.Equal(t, "karmicbot", config.Redis.Prefix)
}

func TestLoadConfig_ValidFile(t *testing.T) {
	content := []byte(`
karma:
  reaction_coefficient: 0.2
  required_percentile: 0.75
  time_to_cancel_seconds: 30
  can_be_bot: true
  rate_limits_global:
    - rate: 15
      window_hours: 1
  rate_limits_per_target:
    - rate: 4
      window_hours: 2
auto_restriction:
  enabled: false
  base_duration_hours: 0.5
  backoff_factor: 3
authors:
  retention_hours: 48
  cleanup_interval_hours: 6
database:
  host: ws://db.internal:8000/rpc
  namespace: ns1
  database: db1
redis:
  url: redis://cache.internal:6379/1
  prefix: myprefix
`)
	tmpfile, err := os.CreateTemp("", "config_test_*.yml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.Write(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	config, err := LoadConfig(tmpfile.Name())
	require.NoError(t, err)

	assert.Equal(t, 0.2, config.Karma.ReactionCoefficient)
	assert.Equal(t, 0.75, config.Karma.RequiredPercentile)
	assert.Equal(t, 30.0, config.Karma.TimeToCancelSeconds)
	assert.True(t, config.Karma.CanBeBot)
	require.Len(t, config.Karma.RateLimitsGlobal, 1)
	assert.Equal(t, 15.0, config.Karma.RateLimitsGlobal[0].Rate)

	assert.False(t, config.AutoRestriction.Enabled)
	assert.Equal(t, 3.0, config.AutoRestriction.BackoffFactor)
	assert.InDelta(t, 30*60.0, config.AutoRestrictionBase().Seconds(), 1e-6)

	assert.InDelta(t, 48*60*60.0, config.AuthorRetention().Seconds(), 1e-6)
	assert.InDelta(t, 6*60*60.0, config.AuthorCleanupInterval().Seconds(), 1e-6)

	assert.Equal(t, "ws://db.internal:8000/rpc", config.Database.Host)
	assert.Equal(t, "ns1", config.Database.Namespace)
	assert.Equal(t, "redis://cache.internal:6379/1", config.Redis.URL)
	assert.Equal(t, "myprefix", config.Redis.Prefix)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	content := []byte(`
karma:
  reaction_coefficient: "not a number"
  broken_yaml: [ unclosed bracket
`)
	tmpfile, err := os.CreateTemp("", "config_invalid_*.yml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.Write(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	config, err := LoadConfig(tmpfile.Name())

	assert.Error(t, err)
	assert.Nil(t, config)
}

func TestRateLimitWindow(t *testing.T) {
	rl := RateLimit{Rate: 5, WindowHours: 2}
	assert.InDelta(t, 2*60*60.0, rl.Window().Seconds(), 1e-6)
}
