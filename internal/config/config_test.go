package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SETTLEMENT_QUEUE")
	unsetEnvWithCleanup(t, "QUOTE_TTL_SECS")
	unsetEnvWithCleanup(t, "SETTLEMENT_MAX_ATTEMPTS")
	unsetEnvWithCleanup(t, "DAILY_LIMIT_BTC")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SettlementQueue != "ledger_service.settlement" {
		t.Fatalf("expected default settlement queue, got %q", cfg.SettlementQueue)
	}
	if cfg.QuoteTTLSecs != 300 {
		t.Fatalf("expected default quote ttl 300, got %d", cfg.QuoteTTLSecs)
	}
	if cfg.SettlementMaxAttempts != 10 {
		t.Fatalf("expected default max attempts 10, got %d", cfg.SettlementMaxAttempts)
	}
	if cfg.DailyLimitBTC != "100000000" {
		t.Fatalf("expected default btc ceiling, got %q", cfg.DailyLimitBTC)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesInvalidValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "QUOTE_TTL_SECS", "-5")
	setEnvWithCleanup(t, "RATE_TOLERANCE_PERCENT", "-1.5")
	setEnvWithCleanup(t, "FEE_UPSIDE", "0.5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.QuoteTTLSecs != 300 {
		t.Fatalf("expected quote ttl coerced to default, got %d", cfg.QuoteTTLSecs)
	}
	if cfg.RateTolerancePercent != 0 {
		t.Fatalf("expected tolerance coerced to zero, got %f", cfg.RateTolerancePercent)
	}
	if cfg.FeeUpside != 1.2 {
		t.Fatalf("expected fee upside coerced to default, got %f", cfg.FeeUpside)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
