package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	DBDriver string `yaml:"db_driver"` // sqlite|postgres; empty keeps results in files only
	DBDSN    string `yaml:"db_dsn"`

	MediansPath     string `yaml:"medians_path"` // empty: course_medians.csv next to the ledger
	CheckpointEvery int    `yaml:"checkpoint_every"`
	WarmMedians     bool   `yaml:"warm_medians"`

	AuthHMACSecret string `yaml:"auth_hmac_secret"`
	AdminUser      string `yaml:"admin_user"`
	AdminPassHash  string `yaml:"admin_pass_hash"` // bcrypt

	CORSOrigins []string `yaml:"cors_origins"`

	LogLevel string `yaml:"log_level"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		CheckpointEvery: 500,
		AuthHMACSecret:  "dev-secret-change-me",
		AdminUser:       "registrar",
		CORSOrigins:     []string{"http://localhost:3000"},
		LogLevel:        "info",
	}
}

// Load layers defaults, the optional YAML file at path, then the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// FromEnv is Load without a file.
func FromEnv() Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

func overlayFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: %s does not exist", path)
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.DBDriver = envOr("DB_DRIVER", c.DBDriver)
	c.DBDSN = envOr("DB_DSN", c.DBDSN)
	c.MediansPath = envOr("MEDIANS_PATH", c.MediansPath)
	c.CheckpointEvery = envInt("CHECKPOINT_EVERY", c.CheckpointEvery)
	c.WarmMedians = envBool("WARM_MEDIANS", c.WarmMedians)
	c.AuthHMACSecret = envOr("AUTH_HMAC_SECRET", c.AuthHMACSecret)
	c.AdminUser = envOr("ADMIN_USER", c.AdminUser)
	c.AdminPassHash = envOr("ADMIN_PASS_HASH", c.AdminPassHash)
	c.CORSOrigins = csvOr("CORS_ORIGINS", c.CORSOrigins)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
}

// SlogLevel maps LogLevel onto slog; unknown values read as info.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return n
}
func csvOr(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
