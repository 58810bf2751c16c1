// Package config loads the YAML configuration for the agent and the query
// tools. Configuration is validated once at load time and immutable
// afterwards; environment variables override the file for deployment
// plumbing (backend address, source id).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/m3047/totalizer/internal/bucket"
	"github.com/m3047/totalizer/internal/classify"
	"github.com/m3047/totalizer/internal/errors"
	"github.com/m3047/totalizer/internal/rkv"
)

// Redis is the backend connection block.
type Redis struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// StoreConfig converts to the rkv connection settings.
func (r Redis) StoreConfig() rkv.RedisConfig {
	return rkv.RedisConfig{
		Addr:        r.Addr,
		Password:    r.Password,
		DB:          r.DB,
		DialTimeout: time.Duration(r.TimeoutSeconds) * time.Second,
	}
}

// Agent is the ingestion agent configuration.
type Agent struct {
	Listen       []string              `yaml:"listen"`        // UDP addresses, one receive loop each
	Source       string                `yaml:"source"`        // producing instance identifier
	TTLSeconds   int                   `yaml:"ttl_seconds"`   // counter key TTL
	Buckets      int                   `yaml:"buckets"`       // live buckets per counter; width = ttl/buckets
	StatsSeconds int                   `yaml:"stats_seconds"` // 0 disables the periodic summary
	Redis        Redis                 `yaml:"redis"`
	Rules        []classify.RuleConfig `yaml:"rules"`
}

// Ring derives the bucket ring from the TTL and bucket count, the same
// division the rule language this replaces performed.
func (a *Agent) Ring() bucket.Ring {
	count := a.Buckets
	if count < 1 {
		count = 1
	}
	return bucket.Ring{
		Width: time.Duration(a.TTLSeconds/count) * time.Second,
		Count: count,
		TTL:   time.Duration(a.TTLSeconds) * time.Second,
	}
}

// LoadAgent reads, overrides, and validates an agent configuration.
func LoadAgent(path string) (*Agent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigError("load", err)
	}
	var cfg Agent
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.ConfigError("load", err)
	}

	applyEnv(&cfg.Source, "TOTALIZER_SOURCE")
	applyEnv(&cfg.Redis.Addr, "TOTALIZER_REDIS_ADDR")
	applyEnv(&cfg.Redis.Password, "TOTALIZER_REDIS_PASSWORD")
	applyEnvInt(&cfg.Redis.DB, "TOTALIZER_REDIS_DB")

	if len(cfg.Listen) == 0 {
		return nil, errors.ConfigErrorf("agent", "at least one listen address is required")
	}
	if cfg.Source == "" {
		return nil, errors.ConfigErrorf("agent", "source is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.ConfigErrorf("agent", "ttl_seconds must be positive")
	}
	if err := cfg.Ring().Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Rules) == 0 {
		return nil, errors.ConfigErrorf("agent", "at least one classification rule is required")
	}
	return &cfg, nil
}

// Client is the query-side configuration.
type Client struct {
	Fanout         string              `yaml:"fanout"`          // default logical name to query
	Targets        map[string][]string `yaml:"targets"`         // static resolution table; empty means DNS
	TimeoutSeconds int                 `yaml:"timeout_seconds"` // per-endpoint bound
	Redis          Redis               `yaml:"redis"`           // shared credentials for endpoint reads
}

// LoadClient reads and validates a client configuration. A missing file is
// not an error: everything has flag or environment equivalents.
func LoadClient(path string) (*Client, error) {
	var cfg Client
	raw, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.ConfigError("load", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.ConfigError("load", err)
	}

	applyEnv(&cfg.Fanout, "TOTALIZER_FANOUT")
	applyEnv(&cfg.Redis.Password, "TOTALIZER_REDIS_PASSWORD")
	applyEnvInt(&cfg.Redis.DB, "TOTALIZER_REDIS_DB")
	return &cfg, nil
}

// Timeout returns the per-endpoint bound, defaulted.
func (c *Client) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func applyEnv(target *string, name string) {
	if value, ok := os.LookupEnv(name); ok && value != "" {
		*target = value
	}
}

func applyEnvInt(target *int, name string) {
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return
	}
	if n, err := strconv.Atoi(value); err == nil {
		*target = n
	} else {
		fmt.Fprintf(os.Stderr, "config: ignoring non-numeric %s=%q\n", name, value)
	}
}
