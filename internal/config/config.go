package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "FEESCOPE"

// RPCConfig is shared by commands that talk to a node.
type RPCConfig struct {
	URLs              []string
	MaxRetries        int
	RetryBackoff      time.Duration
	RequestsPerSecond float64
}

// StoreConfig selects and configures a position/ledger store backend.
type StoreConfig struct {
	Kind          string
	CacheFile     string
	PGDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Store kinds.
const (
	StoreNone     = "none"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Validate checks that the selected backend has what it needs.
func (c StoreConfig) Validate() error {
	switch c.Kind {
	case StoreNone:
		return nil
	case StoreFile:
		if c.CacheFile == "" {
			return fmt.Errorf("cache file path is required for file store")
		}
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg dsn is required for postgres store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis addr is required for redis store")
		}
	default:
		return fmt.Errorf("unknown store %q (want none, file, postgres or redis)", c.Kind)
	}
	return nil
}

// newViper merges defaults, environment variables, flags and an optional
// config file. Without an explicit file, ./config.* is read when present.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func rpcDefaults(defaults map[string]interface{}) map[string]interface{} {
	defaults["max-retries"] = 5
	defaults["retry-backoff"] = 500 * time.Millisecond
	defaults["rps"] = 0.0
	return defaults
}

func loadRPC(v *viper.Viper) RPCConfig {
	return RPCConfig{
		URLs:              getStringSlice(v, "rpc"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		RequestsPerSecond: v.GetFloat64("rps"),
	}
}

func storeDefaults(defaults map[string]interface{}, kind string) map[string]interface{} {
	defaults["store"] = kind
	defaults["cache-file"] = "./data/cache.json"
	defaults["redis-db"] = 0
	return defaults
}

func loadStore(v *viper.Viper) StoreConfig {
	return StoreConfig{
		Kind:          strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		CacheFile:     v.GetString("cache-file"),
		PGDSN:         v.GetString("pg-dsn"),
		RedisAddr:     v.GetString("redis-addr"),
		RedisPassword: v.GetString("redis-password"),
		RedisDB:       v.GetInt("redis-db"),
	}
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return splitAndClean(strings.Join(typed, ","))
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return splitAndClean(strings.Join(items, ","))
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, item := range parts {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
