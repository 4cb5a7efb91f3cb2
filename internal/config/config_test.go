package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		orig, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			}
		})
	}
}

func TestLoadFailsWithoutRequiredFields(t *testing.T) {
	clearEnv(t, "DATABASE_URL", "JWT_SIGNING_KEY")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaultsWhenOptionalFieldsAbsent(t *testing.T) {
	clearEnv(t, "DATABASE_URL", "JWT_SIGNING_KEY", "PORT",
		"AUCTION_EXTEND_THRESHOLD_SECONDS", "ORDER_PAYMENT_WINDOW_SECONDS")
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("JWT_SIGNING_KEY", "secret")
	t.Cleanup(func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("JWT_SIGNING_KEY")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 700, cfg.PlatformFeeBps)
	assert.Equal(t, "migrations", cfg.MigrationsDir)
	assert.Equal(t, 30, cfg.AuctionExtendThresholdSecond)
	assert.Equal(t, 172800, cfg.OrderPaymentWindowSeconds)
}

func TestGetEnvIntFallsBackToDefaultOnInvalidValue(t *testing.T) {
	clearEnv(t, "SOME_INT")
	os.Setenv("SOME_INT", "not-a-number")
	assert.Equal(t, 42, getEnvInt("SOME_INT", 42))
}

func TestGetEnvBoolRecognizesTruthyValues(t *testing.T) {
	clearEnv(t, "SOME_BOOL")
	os.Setenv("SOME_BOOL", "1")
	assert.True(t, getEnvBool("SOME_BOOL", false))
}
