package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PoolSize != 4 || cfg.Scheduler.TickInterval != time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfigFile(t, `
pool_size: 8
visibility_timeout: 45s
scheduler:
  enabled: false
  tick_interval: 30s
retry:
  max_attempts: 5
  multiplier: 3
queue:
  prefix: custom
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PoolSize != 8 {
		t.Fatalf("pool_size = %d, want 8", cfg.PoolSize)
	}
	if cfg.VisibilityTimeout != 45*time.Second {
		t.Fatalf("visibility_timeout = %s, want 45s", cfg.VisibilityTimeout)
	}
	if cfg.Scheduler.Enabled {
		t.Fatalf("expected scheduler.enabled to be overridden to false")
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.Multiplier != 3 {
		t.Fatalf("unexpected retry overrides: %+v", cfg.Retry)
	}
	if cfg.Queue.Prefix != "custom" {
		t.Fatalf("queue.prefix = %q, want custom", cfg.Queue.Prefix)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfigFile(t, `
pool_size: 8
not_a_real_setting: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for an unrecognized key")
	}
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	t.Setenv("JOBQUEUE_POOL_SIZE", "16")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PoolSize != 16 {
		t.Fatalf("pool_size = %d, want 16 from env override", cfg.PoolSize)
	}
}

func TestRetryToRetryConfigCarriesFields(t *testing.T) {
	r := Retry{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 2, Exponential: true, JitterFraction: 0.1}
	rc := r.ToRetryConfig()
	if rc.MaxAttempts != 5 || rc.Multiplier != 2 || rc.Jitter != 0.1 {
		t.Fatalf("conversion dropped fields: %+v", rc)
	}
}
