package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := `[paths]
data_dir = "` + filepath.Join(base, "data") + `"
image_root = "` + filepath.Join(base, "images") + `"

[mapillary]
access_token = "from-file"
tile_size_deg = 0.05

[download]
concurrency = 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved = %q exists = %v", resolved, exists)
	}
	if cfg.Mapillary.AccessToken != "from-file" {
		t.Fatalf("access token = %q", cfg.Mapillary.AccessToken)
	}
	if cfg.Mapillary.TileSizeDeg != 0.05 {
		t.Fatalf("tile size = %v", cfg.Mapillary.TileSizeDeg)
	}
	if cfg.Download.Concurrency != 4 {
		t.Fatalf("concurrency = %d", cfg.Download.Concurrency)
	}
	// Untouched fields keep defaults.
	if cfg.Mapillary.PageLimit != defaultPageLimit {
		t.Fatalf("page limit = %d", cfg.Mapillary.PageLimit)
	}
}

func TestLoadEnvTokenWins(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := `[paths]
data_dir = "` + filepath.Join(base, "data") + `"
image_root = "` + filepath.Join(base, "images") + `"

[mapillary]
access_token = "from-file"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MAPILLARY_ACCESS_TOKEN", "from-env")

	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mapillary.AccessToken != "from-env" {
		t.Fatalf("access token = %q, want env override", cfg.Mapillary.AccessToken)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if exists {
		t.Fatalf("expected missing file, resolved %q", resolved)
	}
	if cfg.Workflow.QueuePollInterval != defaultQueuePollInterval {
		t.Fatalf("poll interval = %d", cfg.Workflow.QueuePollInterval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.Paths.DataDir = "" }},
		{"zero tile size", func(c *Config) { c.Mapillary.TileSizeDeg = 0 }},
		{"oversized page limit", func(c *Config) { c.Mapillary.PageLimit = 5000 }},
		{"zero concurrency", func(c *Config) { c.Download.Concurrency = 0 }},
		{"confidence above one", func(c *Config) { c.Detection.MinConfidence = 1.5 }},
		{"negative retry limit", func(c *Config) { c.Clothing.RetryLimit = -1 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestExpandPathHome(t *testing.T) {
	expanded, err := ExpandPath("~/threadmap-test")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("home: %v", err)
	}
	if !strings.HasPrefix(expanded, home) {
		t.Fatalf("expanded = %q, want under %q", expanded, home)
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := Default()
	cfg.Paths.DataDir = "/var/lib/threadmap"
	if got := cfg.DatabasePath(); got != "/var/lib/threadmap/threadmap.db" {
		t.Fatalf("database path = %q", got)
	}
}

func TestSampleConfigParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	if _, _, _, err := Load(path); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
}
