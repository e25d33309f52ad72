package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "NAGENTS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "NAGENTS_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "warehouse.driver", typ: kString, env: "NAGENTS_WAREHOUSE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Warehouse.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Warehouse.Driver },
	},
	{
		key: "warehouse.dsn", typ: kString, env: "NAGENTS_WAREHOUSE_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Warehouse.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Warehouse.DSN },
	},
	{
		key: "warehouse.query_timeout_seconds", typ: kInt, env: "NAGENTS_WAREHOUSE_QUERY_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Warehouse.QueryTimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Warehouse.QueryTimeoutSeconds },
	},
	{
		key: "storage.data_dir", typ: kString, env: "NAGENTS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "loader.reference_doc", typ: kString, env: "NAGENTS_LOADER_REFERENCE_DOC",
		apply:   func(cfg *Config, v any) { cfg.Loader.ReferenceDoc = v.(string) },
		extract: func(cfg Config) any { return cfg.Loader.ReferenceDoc },
	},
	{
		key: "export.output_dir", typ: kString, env: "NAGENTS_EXPORT_OUTPUT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Export.OutputDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Export.OutputDir },
	},
	{
		key: "log.level", typ: kString, env: "NAGENTS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all non-secret config key/value pairs from the current config.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a config key to the config file backend.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), key, value)
}

func setKeyWith(b Backend, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		switch s.typ {
		case kString:
			return b.SetString(key, value)
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %w", key, err)
			}
			return b.SetInt(key, i)
		}
	}

	return fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
