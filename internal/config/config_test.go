package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Mail.Enabled)
	assert.Equal(t, 2525, cfg.Mail.InboundPort)
	assert.Equal(t, 587, cfg.Mail.SubmissionPort)
	assert.Equal(t, 10*time.Second, cfg.Mail.QueuePollInterval)
	assert.Equal(t, 10, cfg.Mail.QueueBatchSize)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Database.Type)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VPNADMIN_SERVER_PORT", "9090")
	t.Setenv("VPNADMIN_MAIL_ENABLED", "true")
	t.Setenv("VPNADMIN_MAIL_HOSTNAME", "Mail.Panel.Example")
	t.Setenv("VPNADMIN_MAIL_QUEUE_POLL_INTERVAL", "30s")
	t.Setenv("VPNADMIN_CORS_ALLOWED_ORIGINS", "https://panel.example.com, https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Mail.Enabled)
	// 主机名统一小写
	assert.Equal(t, "mail.panel.example", cfg.Mail.Hostname)
	assert.Equal(t, 30*time.Second, cfg.Mail.QueuePollInterval)
	assert.Equal(t, []string{"https://panel.example.com", "https://admin.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	t.Setenv("VPNADMIN_SERVER_PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresDSNWithDatabaseType(t *testing.T) {
	t.Setenv("VPNADMIN_DATABASE_TYPE", "postgres")
	t.Setenv("VPNADMIN_DATABASE_DSN", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownDatabaseType(t *testing.T) {
	t.Setenv("VPNADMIN_DATABASE_TYPE", "sqlite")
	t.Setenv("VPNADMIN_DATABASE_DSN", "file::memory:")

	_, err := Load()
	assert.Error(t, err)
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList("a, b"))
	assert.Empty(t, parseList("  ,  "))
	assert.Equal(t, []string{"*"}, parseList("*"))
}
