package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, FeedRedis, cfg.Feed.Driver)
	assert.Equal(t, -(5*time.Hour + 30*time.Minute), cfg.Schedule.SMSOffset)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.SMSMinLead)
	assert.Equal(t, 24*time.Hour, cfg.Schedule.ReengagementWindow)
	assert.Equal(t, "* * * * *", cfg.Schedule.RefreshCron)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, 20, cfg.DBMaxConnections())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: ":9000"
feed_driver: nats
sms_min_lead: 30m
display_timezone: Asia/Kolkata
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("SERVER_ADDR", ":9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.ServerAddr)
	assert.Equal(t, FeedNATS, cfg.Feed.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Schedule.SMSMinLead)
	assert.Equal(t, "Asia/Kolkata", cfg.Location().String())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("SMS_SCHEDULE_OFFSET=-4h\n"), 0o600))
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("ENV_FILE", envPath)
	t.Cleanup(func() { os.Unsetenv("SMS_SCHEDULE_OFFSET") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, -4*time.Hour, cfg.Schedule.SMSOffset)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"cron", "REFRESH_CRON", "every minute"},
		{"driver", "FEED_DRIVER", "kafka"},
		{"offset", "SMS_SCHEDULE_OFFSET", "five hours"},
		{"timezone", "DISPLAY_TIMEZONE", "Mars/Olympus"},
		{"window", "REENGAGEMENT_WINDOW", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
			t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_ProductionRequiresGatewayToken(t *testing.T) {
	prodEnv := func(t *testing.T) {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
		t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
		t.Setenv("APP_ENV", "production")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com")
		t.Setenv("DATABASE_URL", "postgres://timeline:prod@db:5432/timeline")
	}

	t.Run("missing", func(t *testing.T) {
		prodEnv(t)
		t.Setenv("GATEWAY_TOKEN", "")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GATEWAY_TOKEN")
	})

	t.Run("set", func(t *testing.T) {
		prodEnv(t)
		t.Setenv("GATEWAY_TOKEN", "s3cret")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "s3cret", cfg.Gateway.Token)
	})
}

func TestLoad_TrustProxy(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.TrustProxy)

	t.Setenv("TRUST_PROXY", "true")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.TrustProxy)
}
