package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "mailer.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Dispatch.RateLimit)
	assert.Equal(t, 60, cfg.Dispatch.WindowSecs)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 2000, cfg.Dispatch.InitialBackoffMs)
	assert.Equal(t, 10000, cfg.Dispatch.MaxBackoffMs)
	assert.InDelta(t, 2.0, cfg.Dispatch.Multiplier, 0.001)
	assert.InDelta(t, 0.0, cfg.Dispatch.JitterFraction, 0.001)
	assert.Equal(t, "log", cfg.Mail.Transport)
	assert.Equal(t, "conservative", cfg.Campaign.DefaultTone)
	assert.Equal(t, 10, cfg.Campaign.PreviewLimit)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, 300, cfg.OCR.DPI)
	assert.Equal(t, "https://rhfunding.io/unsubscribe", cfg.Branding.OptoutLink)
	assert.Empty(t, cfg.Events.AMQPURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/mailer
log:
  level: debug
  format: console
server:
  port: 9090
dispatch:
  rate_limit: 10
mail:
  transport: smtp
  smtp:
    host: smtp.example.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/mailer", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Dispatch.RateLimit)
	assert.Equal(t, "smtp", cfg.Mail.Transport)
	assert.Equal(t, "smtp.example.com", cfg.Mail.SMTP.Host)
	// Defaults still apply for unset values
	assert.Equal(t, 587, cfg.Mail.SMTP.Port)
	assert.Equal(t, 60, cfg.Dispatch.WindowSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("MAILER_STORE_DRIVER", "postgres")
	t.Setenv("MAILER_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("MAILER_SERVER_PORT", "3000")
	t.Setenv("MAILER_SERVER_API_TOKEN", "secret")
	t.Setenv("MAILER_DISPATCH_RATE_LIMIT", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIToken)
	assert.Equal(t, 5, cfg.Dispatch.RateLimit)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "mailer.db"
	cfg.Mail.Transport = "log"
	cfg.Mail.FromEmail = "funding@example.com"
	cfg.Dispatch.RateLimit = 60
	cfg.Dispatch.WindowSecs = 60
	cfg.Dispatch.MaxAttempts = 3
	cfg.OCR.Provider = "local"
	cfg.Campaign.PreviewLimit = 10
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate())
}

func TestValidate_UnknownDriverAndTransport(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Mail.Transport = "carrier-pigeon"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql" is not supported`)
	assert.Contains(t, err.Error(), `mail.transport "carrier-pigeon" is not supported`)
}

func TestValidate_SMTPRequiresHost(t *testing.T) {
	cfg := validDefaults()
	cfg.Mail.Transport = "smtp"
	cfg.Mail.SMTP.Port = 587

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail.smtp.host is required")

	cfg.Mail.SMTP.Host = "smtp.example.com"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_SendGridRequiresKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Mail.Transport = "sendgrid"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail.sendgrid.api_key is required")
}

func TestValidate_DispatchBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Dispatch.RateLimit = 0
	cfg.Dispatch.WindowSecs = -1
	cfg.Dispatch.JitterFraction = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch.rate_limit must be > 0")
	assert.Contains(t, err.Error(), "dispatch.window_secs must be > 0")
	assert.Contains(t, err.Error(), "dispatch.jitter_fraction must be between 0 and 1")
}

func TestValidate_MistralRequiresKey(t *testing.T) {
	cfg := validDefaults()
	cfg.OCR.Provider = "mistral"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr.mistral_api_key is required")
}
