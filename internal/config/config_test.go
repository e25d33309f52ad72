package config

import (
	"strings"
	"testing"
)

// fakeBackend is a test double backed by plain maps.
type fakeBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{strings: map[string]string{}, ints: map[string]int{}}
}

func (f *fakeBackend) GetString(key string) (string, bool, error) {
	v, ok := f.strings[key]
	return v, ok, nil
}

func (f *fakeBackend) GetInt(key string) (int, bool, error) {
	v, ok := f.ints[key]
	return v, ok, nil
}

func (f *fakeBackend) SetString(key, val string) error {
	f.strings[key] = val
	return nil
}

func (f *fakeBackend) SetInt(key string, val int) error {
	f.ints[key] = val
	return nil
}

func (f *fakeBackend) Delete(key string) error {
	delete(f.strings, key)
	delete(f.ints, key)
	return nil
}

// TestDefaults verifies default values survive an empty backend.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newFakeBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Warehouse.QueryTimeoutSeconds != 300 {
		t.Errorf("Warehouse.QueryTimeoutSeconds = %d, want 300", cfg.Warehouse.QueryTimeoutSeconds)
	}
	if cfg.Loader.ReferenceDoc != "reference_queries.sql" {
		t.Errorf("Loader.ReferenceDoc = %q, want reference_queries.sql", cfg.Loader.ReferenceDoc)
	}
	if cfg.Export.OutputDir != "./data_extracts" {
		t.Errorf("Export.OutputDir = %q, want ./data_extracts", cfg.Export.OutputDir)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

// TestBackendOverride verifies file-backed values override defaults.
func TestBackendOverride(t *testing.T) {
	b := newFakeBackend()
	b.ints["server.port"] = 9999
	b.strings["warehouse.driver"] = "sqlite"
	b.strings["log.level"] = "debug"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Warehouse.Driver != "sqlite" {
		t.Errorf("Warehouse.Driver = %q, want sqlite", cfg.Warehouse.Driver)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

// TestEnvOverride verifies environment variables win over the backend.
func TestEnvOverride(t *testing.T) {
	b := newFakeBackend()
	b.ints["server.port"] = 9999
	t.Setenv("NAGENTS_SERVER_PORT", "4700")
	t.Setenv("NAGENTS_WAREHOUSE_DSN", "file:warehouse.db")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4700 {
		t.Errorf("Server.Port = %d, want 4700", cfg.Server.Port)
	}
	if cfg.Warehouse.DSN != "file:warehouse.db" {
		t.Errorf("Warehouse.DSN = %q, want file:warehouse.db", cfg.Warehouse.DSN)
	}
}

// TestEnvOverrideBadInt verifies an unparseable integer env var is
// ignored rather than clobbering the configured value.
func TestEnvOverrideBadInt(t *testing.T) {
	t.Setenv("NAGENTS_SERVER_PORT", "not-a-port")

	cfg, err := loadWith(newFakeBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want default 4600", cfg.Server.Port)
	}
}

// TestSetKeySecretRejected verifies secrets cannot be written to the file.
func TestSetKeySecretRejected(t *testing.T) {
	b := newFakeBackend()
	err := setKeyWith(b, "warehouse.dsn", "secret-dsn")
	if err == nil {
		t.Fatal("setKeyWith(warehouse.dsn) returned nil error")
	}
	if !strings.Contains(err.Error(), "NAGENTS_WAREHOUSE_DSN") {
		t.Errorf("error %q does not name the env var", err)
	}
	if _, ok := b.strings["warehouse.dsn"]; ok {
		t.Error("secret was written to backend")
	}
}

// TestSetKeyValidation covers unknown keys and int parsing.
func TestSetKeyValidation(t *testing.T) {
	b := newFakeBackend()

	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("setKeyWith(no.such.key) returned nil error")
	}
	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("setKeyWith(server.port, abc) returned nil error")
	}
	if err := setKeyWith(b, "server.port", "4601"); err != nil {
		t.Errorf("setKeyWith(server.port, 4601): %v", err)
	}
	if b.ints["server.port"] != 4601 {
		t.Errorf("server.port = %d, want 4601", b.ints["server.port"])
	}
}

// TestRequireWarehouse verifies validation of query-executing commands.
func TestRequireWarehouse(t *testing.T) {
	cfg := defaults()
	if err := cfg.RequireWarehouse(); err == nil {
		t.Error("RequireWarehouse with empty driver returned nil error")
	}

	cfg.Warehouse.Driver = "sqlite"
	if err := cfg.RequireWarehouse(); err == nil {
		t.Error("RequireWarehouse with empty DSN returned nil error")
	}

	cfg.Warehouse.DSN = "file:warehouse.db"
	cfg.Warehouse.QueryTimeoutSeconds = 0
	if err := cfg.RequireWarehouse(); err == nil {
		t.Error("RequireWarehouse with zero timeout returned nil error")
	}

	cfg.Warehouse.QueryTimeoutSeconds = 300
	if err := cfg.RequireWarehouse(); err != nil {
		t.Errorf("RequireWarehouse: %v", err)
	}
}
