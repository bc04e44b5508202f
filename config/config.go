// Package config loads the deployment-wide settings for the job queue
// core — pool size, timeouts, scheduler cadence, retry policy and queue
// naming — via Viper, binding environment variables and rejecting
// unrecognized keys so a typo in a config file fails loudly at startup
// rather than silently falling back to a default.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/llmbx/jobqueue/retry"
)

// Scheduler holds the recurring-job tick settings.
type Scheduler struct {
	Enabled        bool          `mapstructure:"enabled"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	MaxJobsPerTick int           `mapstructure:"max_jobs_per_tick"`
}

// Retry holds the backoff policy applied to failed jobs.
type Retry struct {
	MaxAttempts    uint32        `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
	Exponential    bool          `mapstructure:"exponential"`
	JitterFraction float64       `mapstructure:"jitter"`
}

// ToRetryConfig converts the loaded retry settings into the form the
// retry package's Backoff function consumes.
func (r Retry) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: r.InitialBackoff,
		MaxBackoff:     r.MaxBackoff,
		Multiplier:     r.Multiplier,
		Exponential:    r.Exponential,
		Jitter:         r.JitterFraction,
	}
}

// Queue holds the queue naming settings. Prefix namespaces the Redis
// broker's keys; DeadLetterName is loaded and defaulted, but no broker
// reads it (the Redis dead-letter key is always prefix:jobs:dlq).
type Queue struct {
	Prefix         string `mapstructure:"prefix"`
	DeadLetterName string `mapstructure:"dead_letter_name"`
}

// Config is the full recognized configuration surface. Any key present
// in a loaded file that does not map onto one of these fields causes
// Load to fail, rather than being silently ignored. Environment
// variables are only read for the bound keys; others are not seen.
type Config struct {
	PoolSize           int           `mapstructure:"pool_size"`
	BlockingPopTimeout time.Duration `mapstructure:"blocking_pop_timeout"`
	VisibilityTimeout  time.Duration `mapstructure:"visibility_timeout"`
	Scheduler          Scheduler     `mapstructure:"scheduler"`
	Retry              Retry         `mapstructure:"retry"`
	Queue              Queue         `mapstructure:"queue"`
}

// Defaults returns the configuration applied before a config file or
// environment variables are layered on top.
func Defaults() Config {
	return Config{
		PoolSize:           4,
		BlockingPopTimeout: 5 * time.Second,
		VisibilityTimeout:  30 * time.Second,
		Scheduler: Scheduler{
			Enabled:        true,
			TickInterval:   time.Minute,
			MaxJobsPerTick: 100,
		},
		Retry: Retry{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
			Multiplier:     2.0,
			Exponential:    true,
			JitterFraction: 0,
		},
		Queue: Queue{
			Prefix:         "jobqueue",
			DeadLetterName: "dead_letter",
		},
	}
}

func bindDefaults(v *viper.Viper, d Config) {
	v.SetDefault("pool_size", d.PoolSize)
	v.SetDefault("blocking_pop_timeout", d.BlockingPopTimeout)
	v.SetDefault("visibility_timeout", d.VisibilityTimeout)
	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.tick_interval", d.Scheduler.TickInterval)
	v.SetDefault("scheduler.max_jobs_per_tick", d.Scheduler.MaxJobsPerTick)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_backoff", d.Retry.InitialBackoff)
	v.SetDefault("retry.max_backoff", d.Retry.MaxBackoff)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.exponential", d.Retry.Exponential)
	v.SetDefault("retry.jitter", d.Retry.JitterFraction)
	v.SetDefault("queue.prefix", d.Queue.Prefix)
	v.SetDefault("queue.dead_letter_name", d.Queue.DeadLetterName)
}

// envBindings lists every recognized key alongside the environment
// variable it may be overridden by.
var envBindings = map[string]string{
	"pool_size":                  "JOBQUEUE_POOL_SIZE",
	"blocking_pop_timeout":       "JOBQUEUE_BLOCKING_POP_TIMEOUT",
	"visibility_timeout":         "JOBQUEUE_VISIBILITY_TIMEOUT",
	"scheduler.enabled":          "JOBQUEUE_SCHEDULER_ENABLED",
	"scheduler.tick_interval":    "JOBQUEUE_SCHEDULER_TICK_INTERVAL",
	"scheduler.max_jobs_per_tick": "JOBQUEUE_SCHEDULER_MAX_JOBS_PER_TICK",
	"retry.max_attempts":         "JOBQUEUE_RETRY_MAX_ATTEMPTS",
	"retry.initial_backoff":      "JOBQUEUE_RETRY_INITIAL_BACKOFF",
	"retry.max_backoff":          "JOBQUEUE_RETRY_MAX_BACKOFF",
	"retry.multiplier":           "JOBQUEUE_RETRY_MULTIPLIER",
	"retry.exponential":          "JOBQUEUE_RETRY_EXPONENTIAL",
	"retry.jitter":               "JOBQUEUE_RETRY_JITTER",
	"queue.prefix":               "JOBQUEUE_QUEUE_PREFIX",
	"queue.dead_letter_name":     "JOBQUEUE_QUEUE_DEAD_LETTER_NAME",
}

// Load reads configuration from path (if non-empty), layers in the
// bound environment variables, and decodes the result with
// UnmarshalExact: any key present in the file that is not one of the
// recognized options above causes Load to fail. An empty path loads
// defaults plus environment overrides only.
func Load(path string) (Config, error) {
	v := viper.New()
	defaults := Defaults()
	bindDefaults(v, defaults)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("config: bind env %s: %w", env, err)
		}
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unrecognized or malformed setting: %w", err)
	}
	return cfg, nil
}
