package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppIdentity names the binary, its env prefix and its config directory.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the runorch identity.
var DefaultIdentity = AppIdentity{
	BinaryName: "runorch",
	EnvPrefix:  "RUNORCH",
	ConfigName: "runorch",
}

// EnvVarSpec maps an environment variable onto a config key.
type EnvVarSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
	configFile  string
)

// SetConfigFile forces Load to read path instead of searching.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// GetConfig returns the most recently loaded configuration.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Identity returns the active identity, or nil before Load.
func Identity() *AppIdentity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

// Load builds the configuration. Precedence, lowest first: defaults,
// config file, environment, overrides.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	_ = ctx

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	explicit := configFile
	configMu.Unlock()

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v, explicit); err != nil {
		return nil, err
	}

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, explicit string) error {
	if explicit == "" {
		explicit = strings.TrimSpace(os.Getenv(envName("CONFIG")))
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("health.enabled", true)
	v.SetDefault("tracing.enabled", false)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", "30m")
	v.SetDefault("store.auto_migrate", true)

	v.SetDefault("catalog.source", "sql")
	v.SetDefault("catalog.files", "")

	v.SetDefault("executor.base_url", "")
	v.SetDefault("executor.token", "")
	v.SetDefault("executor.client_id", "")
	v.SetDefault("executor.client_secret", "")
	v.SetDefault("executor.token_url", "")
	v.SetDefault("executor.scopes", []string{})
	v.SetDefault("executor.request_timeout", "30s")
	v.SetDefault("executor.rate_limit", 0)

	v.SetDefault("job_types.synchronize", "")
	v.SetDefault("job_types.transform", "")

	v.SetDefault("scheduler.trigger_interval", "1m")
	v.SetDefault("scheduler.reconcile_interval", "1m")
	v.SetDefault("scheduler.timeout_seconds", 72000)
	v.SetDefault("scheduler.trigger_window", "1h")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.disable_nightly", false)
	v.SetDefault("scheduler.nightly_schedule", "0 0 * * *")
	v.SetDefault("scheduler.dedupe", false)

	v.SetDefault("outputs.resolve_size", false)
	v.SetDefault("outputs.region", "")
	v.SetDefault("outputs.endpoint", "")
	v.SetDefault("outputs.profile", "")
	v.SetDefault("outputs.force_path_style", false)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.dir", "")
}

// getEnvSpecs lists the environment variables Load binds. The short
// aliases come first so they win over the long names.
func getEnvSpecs() []EnvVarSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvVarSpec{}
	}

	aliases := map[string]string{
		"server.host":                  "HOST",
		"server.port":                  "PORT",
		"server.read_timeout":          "READ_TIMEOUT",
		"server.write_timeout":         "WRITE_TIMEOUT",
		"server.idle_timeout":          "IDLE_TIMEOUT",
		"server.shutdown_timeout":      "SHUTDOWN_TIMEOUT",
		"logging.level":                "LOG_LEVEL",
		"logging.profile":              "LOG_PROFILE",
		"store.url":                    "DATABASE_URL",
		"executor.token":               "EXECUTOR_TOKEN",
		"scheduler.timeout_seconds":    "TIMEOUT_SECONDS",
		"scheduler.trigger_interval":   "TRIGGER_INTERVAL",
		"scheduler.reconcile_interval": "RECONCILE_INTERVAL",
		"scheduler.workers":            "WORKERS",
	}

	specs := make([]EnvVarSpec, 0, len(configKeys)+len(aliases))
	for _, key := range configKeys {
		if alias, ok := aliases[key]; ok {
			specs = append(specs, EnvVarSpec{Name: id.EnvPrefix + "_" + alias, Path: key})
		}
		specs = append(specs, EnvVarSpec{
			Name: id.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_")),
			Path: key,
		})
	}
	return specs
}

// configKeys is every leaf key that can come from the environment.
var configKeys = []string{
	"server.host", "server.port", "server.read_timeout", "server.write_timeout",
	"server.idle_timeout", "server.shutdown_timeout",
	"logging.level", "logging.profile",
	"health.enabled", "tracing.enabled",
	"store.driver", "store.path", "store.url", "store.auth_token",
	"store.max_open_conns", "store.max_idle_conns", "store.conn_max_lifetime", "store.auto_migrate",
	"catalog.source", "catalog.files",
	"executor.base_url", "executor.token", "executor.client_id", "executor.client_secret",
	"executor.token_url", "executor.scopes", "executor.request_timeout", "executor.rate_limit",
	"job_types.synchronize", "job_types.transform",
	"scheduler.trigger_interval", "scheduler.reconcile_interval", "scheduler.timeout_seconds",
	"scheduler.trigger_window", "scheduler.workers", "scheduler.disable_nightly",
	"scheduler.nightly_schedule", "scheduler.dedupe",
	"outputs.resolve_size", "outputs.region", "outputs.endpoint", "outputs.profile", "outputs.force_path_style",
	"journal.enabled", "journal.dir",
}

// bindEnv binds every name for a key in one call; viper keeps only the
// last binding per key and checks names in order.
func bindEnv(v *viper.Viper) error {
	names := make(map[string][]string)
	var order []string
	for _, spec := range getEnvSpecs() {
		if _, seen := names[spec.Path]; !seen {
			order = append(order, spec.Path)
		}
		names[spec.Path] = append(names[spec.Path], spec.Name)
	}
	for _, key := range order {
		args := append([]string{key}, names[key]...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return []string{}
	}
	return []string{filepath.Join(dir, id.ConfigName)}
}

func envName(suffix string) string {
	prefix := DefaultIdentity.EnvPrefix
	if id := Identity(); id != nil {
		prefix = id.EnvPrefix
	}
	return prefix + "_" + suffix
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func normalize(cfg *Config) {
	cfg.Logging.Profile = strings.ToUpper(strings.TrimSpace(cfg.Logging.Profile))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Catalog.Source = strings.ToLower(strings.TrimSpace(cfg.Catalog.Source))
	cfg.Executor.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Executor.BaseURL), "/")
}

// Validate rejects values no component can run with. Missing executor and
// job-type settings are checked by the commands that need them.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	switch cfg.Store.Driver {
	case "sqlite", "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be sqlite or postgres", cfg.Store.Driver))
	}
	switch cfg.Catalog.Source {
	case "sql":
	case "file":
		if strings.TrimSpace(cfg.Catalog.Files) == "" {
			errs = append(errs, errors.New("catalog.files is required when catalog.source is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("catalog.source %q must be sql or file", cfg.Catalog.Source))
	}
	if cfg.Scheduler.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("scheduler.timeout_seconds must be positive"))
	}
	if cfg.Scheduler.Workers <= 0 {
		errs = append(errs, errors.New("scheduler.workers must be positive"))
	}
	if cfg.Scheduler.TriggerInterval <= 0 || cfg.Scheduler.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("scheduler intervals must be positive"))
	}
	return errors.Join(errs...)
}
