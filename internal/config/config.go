// Package config loads runorch configuration from defaults, an optional
// YAML file, RUNORCH_ environment variables and runtime overrides.
package config

import "time"

// Config is the full runorch configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Health    HealthConfig    `mapstructure:"health"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Store     StoreConfig     `mapstructure:"store"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	JobTypes  JobTypesConfig  `mapstructure:"job_types"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Outputs   OutputsConfig   `mapstructure:"outputs"`
	Journal   JournalConfig   `mapstructure:"journal"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StoreConfig selects the run store backend.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	AuthToken       string        `mapstructure:"auth_token"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// CatalogConfig selects where pipeline definitions come from.
type CatalogConfig struct {
	// Source is "sql" (tables in the run store) or "file".
	Source string `mapstructure:"source"`

	// Files is a doublestar glob of YAML catalog files.
	Files string `mapstructure:"files"`
}

type ExecutorConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	TokenURL       string        `mapstructure:"token_url"`
	Scopes         []string      `mapstructure:"scopes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
}

// JobTypesConfig maps executor job-type ids to parameter builders.
type JobTypesConfig struct {
	Synchronize string `mapstructure:"synchronize"`
	Transform   string `mapstructure:"transform"`
}

type SchedulerConfig struct {
	TriggerInterval   time.Duration `mapstructure:"trigger_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	TimeoutSeconds    int           `mapstructure:"timeout_seconds"`
	TriggerWindow     time.Duration `mapstructure:"trigger_window"`
	Workers           int           `mapstructure:"workers"`
	DisableNightly    bool          `mapstructure:"disable_nightly"`
	NightlySchedule   string        `mapstructure:"nightly_schedule"`
	Dedupe            bool          `mapstructure:"dedupe"`
}

// Timeout is the run timeout budget.
func (s SchedulerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// OutputsConfig controls output size resolution against S3.
type OutputsConfig struct {
	ResolveSize    bool   `mapstructure:"resolve_size"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}
