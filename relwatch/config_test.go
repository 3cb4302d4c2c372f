package relwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relwatch.yaml")
	yaml := `
source:
  page_url: https://example.gov.uk/stats
fetch:
  attempts: 3
  base_delay: 2s
  allow_private: true
storage:
  state_backend: file
  state_file: /var/lib/relwatch/cache.json
schedule:
  interval: 6h
http:
  addr: ":9300"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.defaults()

	if cfg.Source.PageURL != "https://example.gov.uk/stats" || cfg.Source.Name != DefaultName {
		t.Errorf("source: %+v", cfg.Source)
	}
	if cfg.Fetch.Attempts != 3 || cfg.Fetch.BaseDelay != 2*time.Second || !cfg.Fetch.AllowPrivate {
		t.Errorf("fetch: %+v", cfg.Fetch)
	}
	if cfg.Fetch.MaxDelay != 30*time.Second {
		t.Errorf("max delay default: %v", cfg.Fetch.MaxDelay)
	}
	if cfg.Storage.StateBackend != BackendFile || cfg.Storage.StateFile != "/var/lib/relwatch/cache.json" {
		t.Errorf("storage: %+v", cfg.Storage)
	}
	if cfg.Schedule.Interval != 6*time.Hour || cfg.HTTP.Addr != ":9300" {
		t.Errorf("schedule/http: %+v %+v", cfg.Schedule, cfg.HTTP)
	}
	if cfg.Storage.BusyTimeout != 10*time.Second || cfg.Storage.Synchronous != "NORMAL" {
		t.Errorf("sqlite defaults: %+v", cfg.Storage)
	}
	if cfg.Table.Sheet != "Quarter" || cfg.Table.Sentinel != "Column1" || cfg.Table.KeyName != "Key" {
		t.Errorf("table defaults: %+v", cfg.Table)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadConfigFile_Missing(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RELWATCH_PAGE_URL", "https://mirror.example/stats")
	t.Setenv("RELWATCH_STATE_BACKEND", "file")
	t.Setenv("RELWATCH_INTERVAL", "90m")
	t.Setenv("RELWATCH_FETCH_ATTEMPTS", "7")
	t.Setenv("RELWATCH_ALLOW_PRIVATE", "true")

	cfg := &Config{}
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Source.PageURL != "https://mirror.example/stats" || cfg.Storage.StateBackend != BackendFile {
		t.Errorf("strings: %+v %+v", cfg.Source, cfg.Storage)
	}
	if cfg.Schedule.Interval != 90*time.Minute || cfg.Fetch.Attempts != 7 || !cfg.Fetch.AllowPrivate {
		t.Errorf("parsed: %+v %+v", cfg.Schedule, cfg.Fetch)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	t.Setenv("RELWATCH_INTERVAL", "daily")
	if err := (&Config{}).ApplyEnv(); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{StateBackend: "redis"}}
	cfg.defaults()
	if err := cfg.Validate(); err == nil {
		t.Error("unknown backend accepted")
	}
	cfg = &Config{Storage: StorageConfig{Synchronous: "sometimes"}}
	cfg.defaults()
	if err := cfg.Validate(); err == nil {
		t.Error("unknown synchronous mode accepted")
	}
	cfg = &Config{Storage: StorageConfig{Synchronous: "full"}}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("lower-case synchronous mode: %v", err)
	}
	cfg = &Config{Fetch: FetchConfig{Jitter: 1.5}}
	cfg.defaults()
	if err := cfg.Validate(); err == nil {
		t.Error("jitter > 1 accepted")
	}
}
