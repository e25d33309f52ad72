// Package config loads nagents configuration from a JSON config file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	Warehouse WarehouseConfig
	Storage   StorageConfig
	Loader    LoaderConfig
	Export    ExportConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type WarehouseConfig struct {
	Driver string
	DSN    string
	// QueryTimeoutSeconds bounds a single warehouse query; long analytic
	// scans routinely run for minutes.
	QueryTimeoutSeconds int
}

type StorageConfig struct {
	DataDir string
}

type LoaderConfig struct {
	ReferenceDoc string
}

type ExportConfig struct {
	OutputDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Warehouse: WarehouseConfig{
			QueryTimeoutSeconds: 300,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Loader: LoaderConfig{
			ReferenceDoc: "reference_queries.sql",
		},
		Export: ExportConfig{
			OutputDir: "./data_extracts",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "nagents-data"
		}
	}
	return filepath.Join(dir, "nagents")
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/nagents/config.json, then applies NAGENTS_*
// environment variable overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// RequireWarehouse validates the warehouse settings for commands that
// execute queries. The DSN is opaque to nagents; connection and auth
// handling belong to the driver.
func (c Config) RequireWarehouse() error {
	if c.Warehouse.Driver == "" {
		return errors.New("missing required config: warehouse driver. Set it via `nagents config set warehouse.driver <name>` or NAGENTS_WAREHOUSE_DRIVER")
	}
	if c.Warehouse.DSN == "" {
		return errors.New("missing required config: warehouse DSN. Set it via environment variable NAGENTS_WAREHOUSE_DSN")
	}
	if c.Warehouse.QueryTimeoutSeconds <= 0 {
		return fmt.Errorf("warehouse query timeout must be positive, got %d", c.Warehouse.QueryTimeoutSeconds)
	}
	return nil
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "nagents", "config.json")
}
