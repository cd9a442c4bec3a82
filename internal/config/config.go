// Package config loads the INI configuration file shared by all three CLI
// entry points (monitor, sonny, ns4), following the same
// defaults-then-file-then-env layering the rest of the stack uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/oriys/sonny/internal/sonnyerr"
	"gopkg.in/ini.v1"
)

// Config is the fully resolved configuration for one cloud.
type Config struct {
	Default  DefaultConfig
	OpenStack OpenStackConfig
	Redis    RedisConfig
	MySQL    MySQLConfig
	Slack    SlackConfig
}

// DefaultConfig holds the supervisor's timing constants.
type DefaultConfig struct {
	HeartbeatPeriod    int `ini:"heartbeat_period"`
	CooldownPeriod     int `ini:"cooldown_period"`
	MonitorPeriod      int `ini:"monitor_period"`
	SuspiciousBackoff  int `ini:"suspicious_backoff"`
	DeadBackoff        int `ini:"dead_backoff"`
}

// OpenStackConfig names the cloud this process instance supervises.
type OpenStackConfig struct {
	Cloud       string   `ini:"cloud"`
	ProviderNet []string `ini:"-"`
}

// RedisConfig is the InventoryCache/job-queue/pub-sub backend.
type RedisConfig struct {
	Host string `ini:"host"`
	Pass string `ini:"pass"`
}

// MySQLConfig names the placement-database backend. The section name is
// kept literal per spec; see DESIGN.md for the pgx-over-MySQL-driver
// substitution this binds to.
type MySQLConfig struct {
	Host string `ini:"host"`
	User string `ini:"user"`
	Pass string `ini:"pass"`
}

// SlackConfig configures the chat bridge.
type SlackConfig struct {
	Token   string   `ini:"token"`
	Channel string   `ini:"channel"`
	Clouds  []string `ini:"-"`
}

// Default returns the baked-in defaults, matching the common/config.py
// module constants this process's behavior is pinned to.
func Default() *Config {
	return &Config{
		Default: DefaultConfig{
			HeartbeatPeriod:   40,
			CooldownPeriod:    86400,
			MonitorPeriod:     60,
			SuspiciousBackoff: 5,
			DeadBackoff:       1,
		},
		OpenStack: OpenStackConfig{
			ProviderNet: []string{"ext-net"},
		},
	}
}

var requiredSections = []string{"DEFAULT", "OPENSTACK", "REDIS", "MYSQL", "SLACK"}

// LoadFromFile reads and validates path, starting from Default() and
// overlaying every key the file sets. All four non-DEFAULT sections are
// required to exist (even if empty), matching the read_and_validate_config
// contract this replaces.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", sonnyerr.ConfigError, path, err)
	}

	for _, name := range requiredSections {
		if name == "DEFAULT" {
			continue
		}
		if !f.HasSection(name) {
			return nil, fmt.Errorf("%w: missing section %s", sonnyerr.ConfigError, name)
		}
	}

	def := f.Section("DEFAULT")
	if err := def.MapTo(&cfg.Default); err != nil {
		return nil, fmt.Errorf("%w: parse DEFAULT: %v", sonnyerr.ConfigError, err)
	}

	os_ := f.Section("OPENSTACK")
	cfg.OpenStack.Cloud = os_.Key("cloud").String()
	if nets := os_.Key("provider_net").String(); nets != "" {
		cfg.OpenStack.ProviderNet = splitComma(nets)
	}

	if err := f.Section("REDIS").MapTo(&cfg.Redis); err != nil {
		return nil, fmt.Errorf("%w: parse REDIS: %v", sonnyerr.ConfigError, err)
	}
	if err := f.Section("MYSQL").MapTo(&cfg.MySQL); err != nil {
		return nil, fmt.Errorf("%w: parse MYSQL: %v", sonnyerr.ConfigError, err)
	}

	slack := f.Section("SLACK")
	cfg.Slack.Token = slack.Key("token").String()
	cfg.Slack.Channel = slack.Key("channel").String()
	if clouds := slack.Key("clouds").String(); clouds != "" {
		cfg.Slack.Clouds = splitComma(clouds)
	}

	if cfg.Redis.Host == "" {
		return nil, fmt.Errorf("%w: REDIS.host is required", sonnyerr.ConfigError)
	}

	return cfg, nil
}

// LoadFromEnv applies SONNY_* environment overrides on top of an
// already-loaded config, for the handful of settings operators commonly
// override per-deployment without editing the INI file (credentials,
// mainly).
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SONNY_REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("SONNY_REDIS_PASS"); v != "" {
		cfg.Redis.Pass = v
	}
	if v := os.Getenv("SONNY_MYSQL_HOST"); v != "" {
		cfg.MySQL.Host = v
	}
	if v := os.Getenv("SONNY_MYSQL_USER"); v != "" {
		cfg.MySQL.User = v
	}
	if v := os.Getenv("SONNY_MYSQL_PASS"); v != "" {
		cfg.MySQL.Pass = v
	}
	if v := os.Getenv("SONNY_SLACK_TOKEN"); v != "" {
		cfg.Slack.Token = v
	}
	if v := os.Getenv("SONNY_OPENSTACK_CLOUD"); v != "" {
		cfg.OpenStack.Cloud = v
	}
	if v := os.Getenv("SONNY_MONITOR_PERIOD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Default.MonitorPeriod = n
		}
	}
}

func splitComma(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
