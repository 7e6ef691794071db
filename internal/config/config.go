// Package config loads app config from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Addr is the operator HTTP listen address.
	Addr string `mapstructure:"ADDR"`
	// DBDriver selects the storage backend: "sqlite" or "postgres".
	DBDriver string `mapstructure:"DB_DRIVER"`
	// DatabaseURL is the SQLite DSN (file path plus query options) or the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// FeedPath is the enrollment CSV read at the start of every cycle.
	FeedPath string `mapstructure:"FEED_PATH"`
	// CycleAt is the daily wall-clock fire time, HH:MM.
	CycleAt string `mapstructure:"CYCLE_AT"`
	// Timezone is the IANA zone used for the daily schedule and for "today" in lapse detection.
	Timezone string `mapstructure:"TIMEZONE"`
	// ScheduleEnabled arms the daily timer in serve mode.
	ScheduleEnabled bool `mapstructure:"SCHEDULE_ENABLED"`
	// CycleOnStart runs one cycle before arming the timer.
	CycleOnStart bool `mapstructure:"CYCLE_ON_START"`

	TGBotToken      string `mapstructure:"TG_BOT_TOKEN"`
	TGAdminChatID   int64  `mapstructure:"TG_ADMIN_CHAT_ID"`
	TGWebhookSecret string `mapstructure:"TG_WEBHOOK_SECRET"`
	// AllowedChatIDs is a comma-separated list of chat IDs whose membership events are tracked. Empty tracks all.
	AllowedChatIDs string `mapstructure:"ALLOWED_CHAT_IDS"`

	// AdminToken guards /api routes when set.
	AdminToken string `mapstructure:"ADMIN_TOKEN"`
	// CORSOrigins is a comma-separated list of allowed origins for the operator API.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars already set win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ADDR", ":8080")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DATABASE_URL", "rostersync.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	v.SetDefault("FEED_PATH", "enrollment_renewals.csv")
	v.SetDefault("CYCLE_AT", "13:45")
	v.SetDefault("TIMEZONE", "Asia/Jakarta")
	v.SetDefault("SCHEDULE_ENABLED", true)
	v.SetDefault("CYCLE_ON_START", true)
	v.SetDefault("TG_BOT_TOKEN", "")
	v.SetDefault("TG_ADMIN_CHAT_ID", 0)
	v.SetDefault("TG_WEBHOOK_SECRET", "")
	v.SetDefault("ALLOWED_CHAT_IDS", "")
	v.SetDefault("ADMIN_TOKEN", "")
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "auto")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Addr == "" {
		return nil, errors.New("config: ADDR must be set")
	}
	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("config: DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}
	if _, _, err := cfg.CycleTime(); err != nil {
		return nil, err
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	if _, err := cfg.AllowedChats(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// CycleTime parses CycleAt into hour and minute.
func (c *Config) CycleTime() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.CycleAt))
	if err != nil {
		return 0, 0, fmt.Errorf("config: CYCLE_AT must be HH:MM, got %q", c.CycleAt)
	}
	return t.Hour(), t.Minute(), nil
}

// Location resolves Timezone. Empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// AllowedChats parses AllowedChatIDs. A nil result means every chat is allowed.
func (c *Config) AllowedChats() ([]int64, error) {
	var out []int64
	for _, p := range splitList(c.AllowedChatIDs) {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: ALLOWED_CHAT_IDS entry %q is not an integer", p)
		}
		out = append(out, id)
	}
	return out, nil
}

// CORSOriginList returns CORSOrigins split on commas.
func (c *Config) CORSOriginList() []string {
	return splitList(c.CORSOrigins)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
