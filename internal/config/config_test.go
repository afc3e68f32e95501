package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{
		"SERVER_PORT", "PORT", "CLAIM_PERIOD", "WIDGET_SESSION_TTL_HOURS",
		"CLAIM_RATE_LIMIT_PER_MINUTE", "CLAIM_MAX_PICK_RETRIES",
		"REDIS_REPLAY_PREFIX", "REDIS_RATE_LIMIT_PREFIX",
	} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default ServerPort 8080, got %q", cfg.ServerPort)
	}
	if cfg.ClaimPeriod != "monthly" {
		t.Fatalf("expected default ClaimPeriod monthly, got %q", cfg.ClaimPeriod)
	}
	if cfg.WidgetSessionTTLHours != 168 {
		t.Fatalf("expected default WidgetSessionTTLHours 168, got %d", cfg.WidgetSessionTTLHours)
	}
	if cfg.ClaimRateLimitPerMinute != 30 {
		t.Fatalf("expected default ClaimRateLimitPerMinute 30, got %d", cfg.ClaimRateLimitPerMinute)
	}
	if cfg.ClaimMaxPickRetries != 3 {
		t.Fatalf("expected default ClaimMaxPickRetries 3, got %d", cfg.ClaimMaxPickRetries)
	}
	if cfg.RedisReplayPrefix != "coupon:replay" {
		t.Fatalf("expected default RedisReplayPrefix coupon:replay, got %q", cfg.RedisReplayPrefix)
	}
}

func TestLoadConfig_UsesPortAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected ServerPort from PORT alias, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_ServerPortTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8081")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8081" {
		t.Fatalf("expected ServerPort to prioritize SERVER_PORT, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_ReadsClaimSettingsFromEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CLAIM_PERIOD", "once")
	setEnvWithCleanup(t, "CLAIM_RATE_LIMIT_PER_MINUTE", "5")
	setEnvWithCleanup(t, "WIDGET_SESSION_SECRET", "test-secret")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ClaimPeriod != "once" {
		t.Fatalf("expected ClaimPeriod once, got %q", cfg.ClaimPeriod)
	}
	if cfg.ClaimRateLimitPerMinute != 5 {
		t.Fatalf("expected ClaimRateLimitPerMinute 5, got %d", cfg.ClaimRateLimitPerMinute)
	}
	if cfg.WidgetSessionSecret != "test-secret" {
		t.Fatalf("expected WidgetSessionSecret from env, got %q", cfg.WidgetSessionSecret)
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
		}
	})
}
