package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Gateway.Port)
	assert.Equal(t, 1000, cfg.Client.MaxMessageLength)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout())
	assert.Len(t, cfg.Client.CORSProxies, 3)
}

func TestLoadConfig_JSONFileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"webhook": {"production_url": "https://hooks.example/webhook/abc", "test_url": "https://hooks.example/webhook-test/abc"},
		"gateway": {"port": 8080}
	}`), 0644))
	t.Setenv("CHATRELAY_GATEWAY_PORT", "9090")
	t.Setenv("CHATRELAY_WEBHOOK_TIMEOUT_SECONDS", "3")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://hooks.example/webhook/abc", cfg.Webhook.ProductionURL)
	assert.Equal(t, "https://hooks.example/webhook-test/abc", cfg.Webhook.TestURL)
	assert.Equal(t, 9090, cfg.Gateway.Port)
	assert.Equal(t, 3*time.Second, cfg.WebhookTimeout())
	assert.Equal(t, "0.0.0.0:9090", cfg.GatewayAddr())
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
webhook:
  production_url: https://hooks.example/webhook/abc
client:
  max_message_length: 2000
  cors_proxies:
    - https://relay.example/?url=
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.Client.MaxMessageLength)
	assert.Equal(t, []string{"https://relay.example/?url="}, cfg.Client.CORSProxies)
	assert.Equal(t, "https://hooks.example/webhook/abc", cfg.DirectWebhookURL())
}

func TestLoadConfig_FromEnvJSON(t *testing.T) {
	t.Setenv("CHATRELAY_CONFIG_JSON", `{"client": {"webhook_url": "https://direct.example/hook"}}`)

	cfg, err := LoadConfig("/does/not/matter.json")
	require.NoError(t, err)
	assert.Equal(t, "https://direct.example/hook", cfg.DirectWebhookURL())
}

func TestLoadConfig_RejectsInvalidLength(t *testing.T) {
	t.Setenv("CHATRELAY_CLIENT_MAX_MESSAGE_LENGTH", "5000")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "config.json"))
	assert.ErrorContains(t, err, "max_message_length")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.Webhook.ProductionURL = "https://hooks.example/webhook/xyz"

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Webhook.ProductionURL, loaded.Webhook.ProductionURL)
}
