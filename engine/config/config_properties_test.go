package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestPropertyValidatedConfigInvariants verifies every config that passes
// validation satisfies the scheduler's assumptions, regardless of which
// optional fields were left to default.
func TestPropertyValidatedConfigInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		conf := validTestConfig()
		// negative draws must be rejected, zero draws take the default,
		// positive draws pass through
		conf.SubmitSettings.SubmitPeriod = rapid.IntRange(-60, 60).Draw(t, "period")
		conf.SubmitSettings.FlagLifetime = rapid.IntRange(-300, 10000).Draw(t, "lifetime")
		conf.SubmitSettings.BatchLimit = rapid.IntRange(-500, 500).Draw(t, "batchLimit")
		conf.SubmitSettings.AttemptCap = rapid.IntRange(-50, 50).Draw(t, "attemptCap")
		conf.SubmitSettings.MaxConcurrent = rapid.IntRange(-16, 16).Draw(t, "maxConcurrent")
		conf.SubmitSettings.CheckerTimeout = rapid.IntRange(-60, 60).Draw(t, "checkerTimeout")

		err := checkConfig(conf)
		if err != nil {
			return
		}

		assert.Greater(t, conf.SubmitSettings.BatchLimit, 0, "batch limit must be positive after validation")
		assert.Greater(t, conf.SubmitSettings.SubmitPeriod, 0, "submit period must be positive after validation")
		assert.Greater(t, conf.SubmitSettings.CheckerTimeout, 0, "checker timeout must be positive after validation")
		assert.Greater(t, conf.SubmitSettings.AttemptCap, 0, "attempt cap must be positive after validation")
		assert.Greater(t, conf.SubmitSettings.MaxConcurrent, 0, "concurrency bound must be positive after validation")
		assert.Greater(t, conf.SubmitSettings.FlagLifetime, conf.SubmitSettings.SubmitPeriod,
			"a flag must survive at least one full cycle")
		assert.Less(t, conf.SubmitSettings.CheckerTimeout, conf.SubmitSettings.FlagLifetime,
			"a dispatch must be able to finish within the flag lifetime")
		assert.NotEmpty(t, conf.SubmitSettings.FlagFormat)
	})
}

// TestPropertyValidationIdempotence verifies validating a config twice gives
// the same result and does not change any defaulted value.
func TestPropertyValidationIdempotence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		conf := validTestConfig()
		conf.SubmitSettings.SubmitPeriod = rapid.IntRange(1, 60).Draw(t, "period")
		conf.CheckerSettings.CheckerProtocol = rapid.SampledFrom([]string{"", "batch", "keyed"}).Draw(t, "protocol")

		require.NoError(t, checkConfig(conf))
		first := *conf

		require.NoError(t, checkConfig(conf))
		assert.Equal(t, first.SubmitSettings, conf.SubmitSettings, "revalidation must not move defaults")
		assert.Equal(t, first.CheckerSettings, conf.CheckerSettings)
	})
}
