package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "enrollment_renewals.csv", cfg.FeedPath)
	assert.Equal(t, "13:45", cfg.CycleAt)
	assert.True(t, cfg.ScheduleEnabled)
	assert.True(t, cfg.CycleOnStart)

	h, m, err := cfg.CycleTime()
	require.NoError(t, err)
	assert.Equal(t, 13, h)
	assert.Equal(t, 45, m)

	chats, err := cfg.AllowedChats()
	require.NoError(t, err)
	assert.Nil(t, chats)
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/roster")
	t.Setenv("CYCLE_AT", "07:05")
	t.Setenv("ALLOWED_CHAT_IDS", "-1002243654237, 42")
	t.Setenv("TG_ADMIN_CHAT_ID", "-100")
	t.Setenv("SCHEDULE_ENABLED", "false")

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, int64(-100), cfg.TGAdminChatID)
	assert.False(t, cfg.ScheduleEnabled)

	chats, err := cfg.AllowedChats()
	require.NoError(t, err)
	assert.Equal(t, []int64{-1002243654237, 42}, chats)
}

func TestLoad_EnvFile(t *testing.T) {
	os.Clearenv()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FEED_PATH=/data/feed.csv\nCYCLE_AT=06:30\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/feed.csv", cfg.FeedPath)
	assert.Equal(t, "06:30", cfg.CycleAt)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"driver":     {"DB_DRIVER": "mysql"},
		"cycle time": {"CYCLE_AT": "25:99"},
		"timezone":   {"TIMEZONE": "Mars/Olympus"},
		"chat ids":   {"ALLOWED_CHAT_IDS": "abc"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load(noEnvFile(t))
			assert.Error(t, err)
		})
	}
}

func TestCORSOriginList(t *testing.T) {
	cfg := &Config{CORSOrigins: " https://a.example ,,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOriginList())
}
