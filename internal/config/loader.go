package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const envPrefix = "NIMBUSFS"

var (
	configMu  sync.Mutex
	appConfig *Config
)

// Load builds the configuration from defaults, an optional config file,
// NIMBUSFS_* environment variables, and runtime overrides, in that
// precedence order. The loaded config is cached and retrievable via
// GetConfig.
//
// configFile may be empty, in which case nimbusfs.yaml is searched for
// in the working directory and $HOME/.config/nimbusfs/.
func Load(configFile string, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		if err := validateConfigFile(configFile); err != nil {
			return nil, err
		}
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("nimbusfs")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/nimbusfs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	// Runtime overrides use the explicit-set layer so they outrank
	// both the config file and environment variables.
	for _, ov := range overrides {
		for key, val := range flattenOverrides("", ov) {
			v.Set(key, val)
		}
	}

	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// GetConfig returns the most recently loaded configuration, or a
// default configuration if Load has not been called.
func GetConfig() *Config {
	configMu.Lock()
	defer configMu.Unlock()
	if appConfig == nil {
		cfg := defaultConfig()
		appConfig = cfg
	}
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "console")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("health.enabled", true)

	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.scheme", "")
	v.SetDefault("s3.path_style", true)
	v.SetDefault("s3.anonymous", false)
	v.SetDefault("s3.request_timeout", "0s")
	v.SetDefault("s3.connect_timeout", "0s")
	v.SetDefault("s3.max_connections", 0)
	v.SetDefault("s3.background_writes", true)
	v.SetDefault("s3.allow_delayed_open", true)
	v.SetDefault("s3.allow_bucket_creation", false)
	v.SetDefault("s3.allow_bucket_deletion", false)
	v.SetDefault("s3.list_rate_limit", 0)
}

func defaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		// Defaults are static and always decode.
		panic(fmt.Sprintf("config: decode defaults: %v", err))
	}
	return cfg
}

func flattenOverrides(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flattenOverrides(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// resetForTesting clears the cached config. Tests only.
func resetForTesting() {
	configMu.Lock()
	appConfig = nil
	configMu.Unlock()
}
