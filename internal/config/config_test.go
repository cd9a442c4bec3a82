package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleINI = `
[DEFAULT]
heartbeat_period = 40
cooldown_period = 86400
monitor_period = 60
suspicious_backoff = 5
dead_backoff = 1

[OPENSTACK]
cloud = example-cloud
provider_net = ext-net,public

[REDIS]
host = redis.internal
pass = hunter2

[MYSQL]
host = placement-db.internal
user = sonny
pass = hunter2

[SLACK]
token = xoxb-test
channel = ops-alerts
clouds = example-cloud,other-cloud
`

func writeTempINI(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp ini: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeTempINI(t, sampleINI)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Default.HeartbeatPeriod != 40 {
		t.Errorf("HeartbeatPeriod = %d, want 40", cfg.Default.HeartbeatPeriod)
	}
	if cfg.Default.DeadBackoff != 1 {
		t.Errorf("DeadBackoff = %d, want 1", cfg.Default.DeadBackoff)
	}
	if cfg.OpenStack.Cloud != "example-cloud" {
		t.Errorf("Cloud = %q, want example-cloud", cfg.OpenStack.Cloud)
	}
	if len(cfg.OpenStack.ProviderNet) != 2 || cfg.OpenStack.ProviderNet[0] != "ext-net" {
		t.Errorf("ProviderNet = %v", cfg.OpenStack.ProviderNet)
	}
	if cfg.Redis.Host != "redis.internal" {
		t.Errorf("Redis.Host = %q", cfg.Redis.Host)
	}
	if len(cfg.Slack.Clouds) != 2 {
		t.Errorf("Slack.Clouds = %v", cfg.Slack.Clouds)
	}
}

func TestLoadFromFileMissingSection(t *testing.T) {
	path := writeTempINI(t, "[DEFAULT]\nheartbeat_period = 40\n[OPENSTACK]\ncloud = x\n[REDIS]\nhost = y\n")
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for missing MYSQL/SLACK sections")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	cfg := Default()
	cfg.Redis.Host = "original"
	t.Setenv("SONNY_REDIS_HOST", "overridden")
	LoadFromEnv(cfg)
	if cfg.Redis.Host != "overridden" {
		t.Errorf("Redis.Host = %q, want overridden", cfg.Redis.Host)
	}
}

func TestDefaultMatchesSpecConstants(t *testing.T) {
	cfg := Default()
	want := DefaultConfig{
		HeartbeatPeriod:   40,
		CooldownPeriod:    86400,
		MonitorPeriod:     60,
		SuspiciousBackoff: 5,
		DeadBackoff:       1,
	}
	if cfg.Default != want {
		t.Errorf("Default() = %+v, want %+v", cfg.Default, want)
	}
}
