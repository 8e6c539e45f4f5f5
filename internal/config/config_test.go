package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Worker.NumWorkers)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 10000, cfg.Admission.BulkRecipientCeiling)
	assert.Equal(t, int64(5*1024*1024), cfg.Webhooks.MaxBodyBytes)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
  admin_token: "secret"
worker:
  num_workers: 3
  max_attempts: 2
  backoff_initial: 1s
providers:
  ordered:
    - name: sendgrid
      api_key: sg-key
    - name: sparkpost
      api_key: sp-key
webhooks:
  sendgrid_secret: whsec
  generic_secrets:
    acme: acme-secret
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.Server.AdminToken)
	assert.Equal(t, 3, cfg.Worker.NumWorkers)
	assert.Equal(t, 2, cfg.Worker.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Worker.BackoffInitial)
	// Unset fields keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Worker.SendTimeout)

	require.Len(t, cfg.Providers.Ordered, 2)
	assert.Equal(t, "sendgrid", cfg.Providers.Ordered[0].Name)
	assert.Equal(t, "sp-key", cfg.Providers.Ordered[1].APIKey)

	assert.Equal(t, "whsec", cfg.Webhooks.SendGridSecret)
	assert.Equal(t, "acme-secret", cfg.Webhooks.GenericSecrets["acme"])
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
worker:
  num_workers: 3
`), 0o644))

	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("WORKER_POOL_SIZE", "7")
	t.Setenv("ADMIN_TOKEN", "env-token")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 7, cfg.Worker.NumWorkers)
	assert.Equal(t, "env-token", cfg.Server.AdminToken)
}

func TestEnvProviderFallback(t *testing.T) {
	t.Setenv("SES_ACCESS_KEY", "AKIA")
	t.Setenv("SES_SECRET_KEY", "shh")
	t.Setenv("SES_REGION", "us-east-1")
	t.Setenv("SENDGRID_API_KEY", "sg-key")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Len(t, cfg.Providers.Ordered, 2)
	assert.Equal(t, "ses", cfg.Providers.Ordered[0].Name)
	assert.Equal(t, "us-east-1", cfg.Providers.Ordered[0].Region)
	assert.Equal(t, "sendgrid", cfg.Providers.Ordered[1].Name)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Worker.NumWorkers = 0 }},
		{"zero attempts", func(c *Config) { c.Worker.MaxAttempts = 0 }},
		{"zero ceiling", func(c *Config) { c.Admission.BulkRecipientCeiling = 0 }},
		{"zero visibility", func(c *Config) { c.Queue.VisibilityTimeout = 0 }},
		{"unnamed provider", func(c *Config) {
			c.Providers.Ordered = []ProviderConfig{{APIKey: "k"}}
		}},
		{"duplicate provider", func(c *Config) {
			c.Providers.Ordered = []ProviderConfig{{Name: "ses"}, {Name: "ses"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
