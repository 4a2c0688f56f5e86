package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "DB_DRIVER", "CHECKPOINT_EVERY", "WARM_MEDIANS", "CORS_ORIGINS", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.HTTPAddr != ":8080" || c.DBDriver != "" || c.CheckpointEvery != 500 || c.WarmMedians {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.SlogLevel() != slog.LevelInfo {
		t.Fatalf("level: %v", c.SlogLevel())
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpam.yaml")
	body := "db_driver: sqlite\ncheckpoint_every: 10\nwarm_medians: true\ncors_origins: [\"https://a.example\"]\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHECKPOINT_EVERY", "25")
	t.Setenv("CORS_ORIGINS", " https://b.example, ,https://c.example ")
	t.Setenv("WARM_MEDIANS", "")
	t.Setenv("LOG_LEVEL", "")

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.DBDriver != "sqlite" || !c.WarmMedians {
		t.Fatalf("file values lost: %+v", c)
	}
	if c.CheckpointEvery != 25 {
		t.Fatalf("env must win over file, got %d", c.CheckpointEvery)
	}
	if len(c.CORSOrigins) != 2 || c.CORSOrigins[1] != "https://c.example" {
		t.Fatalf("cors: %q", c.CORSOrigins)
	}
	if c.SlogLevel() != slog.LevelDebug {
		t.Fatalf("level: %v", c.SlogLevel())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
