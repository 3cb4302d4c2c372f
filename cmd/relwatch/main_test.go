package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/relwatch/relwatch"
)

func TestLoadConfig_FileThenEnv(t *testing.T) {
	// WHAT: Values come from the YAML file, then RELWATCH_* variables win.
	// WHY: Deployments keep one file and override per host.
	path := filepath.Join(t.TempDir(), "relwatch.yaml")
	yaml := `
source:
  page_url: https://example.gov.uk/stats
storage:
  db_path: /var/lib/relwatch/relwatch.db
schedule:
  interval: 6h
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RELWATCH_DB_PATH", "/tmp/override.db")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source.PageURL != "https://example.gov.uk/stats" {
		t.Errorf("page url: got %q", cfg.Source.PageURL)
	}
	if cfg.Storage.DBPath != "/tmp/override.db" {
		t.Errorf("db path: got %q, want env override", cfg.Storage.DBPath)
	}
	if cfg.Schedule.Interval != 6*time.Hour {
		t.Errorf("interval: got %v", cfg.Schedule.Interval)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Setenv("RELWATCH_PAGE_URL", "https://mirror.example/stats")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source.PageURL != "https://mirror.example/stats" {
		t.Errorf("page url: got %q", cfg.Source.PageURL)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	t.Setenv("RELWATCH_FETCH_ATTEMPTS", "many")
	if _, err := loadConfig(""); err == nil {
		t.Error("bad env value accepted")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		outcome relwatch.Outcome
		want    int
	}{
		{relwatch.OutcomeCommitted, 0},
		{relwatch.OutcomeSkipped, 0},
		{relwatch.OutcomeRejected, 0},
		{relwatch.OutcomeFailed, 1},
	}
	for _, tt := range tests {
		if got := exitCode(relwatch.Result{Outcome: tt.outcome}); got != tt.want {
			t.Errorf("exitCode(%s) = %d, want %d", tt.outcome, got, tt.want)
		}
	}
}
