package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"`
	Gateway GatewayConfig `json:"gateway" yaml:"gateway"`
	Client  ClientConfig  `json:"client" yaml:"client"`
	Log     LogConfig     `json:"log" yaml:"log"`
	mu      sync.RWMutex
}

// WebhookConfig names the workflow endpoints the proxy forwards to. The test
// URL is tried only when the production URL answers 404.
type WebhookConfig struct {
	ProductionURL  string `json:"production_url" yaml:"production_url" env:"CHATRELAY_WEBHOOK_PRODUCTION_URL"`
	TestURL        string `json:"test_url" yaml:"test_url" env:"CHATRELAY_WEBHOOK_TEST_URL"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" env:"CHATRELAY_WEBHOOK_TIMEOUT_SECONDS"`
}

type GatewayConfig struct {
	Host         string  `json:"host" yaml:"host" env:"CHATRELAY_GATEWAY_HOST"`
	Port         int     `json:"port" yaml:"port" env:"CHATRELAY_GATEWAY_PORT"`
	RateLimit    float64 `json:"rate_limit" yaml:"rate_limit" env:"CHATRELAY_GATEWAY_RATE_LIMIT"` // requests per second per client IP, 0 disables
	RateBurst    int     `json:"rate_burst" yaml:"rate_burst" env:"CHATRELAY_GATEWAY_RATE_BURST"`
	MaxBodyBytes int64   `json:"max_body_bytes" yaml:"max_body_bytes" env:"CHATRELAY_GATEWAY_MAX_BODY_BYTES"`
	TrustProxy   bool    `json:"trust_proxy" yaml:"trust_proxy" env:"CHATRELAY_GATEWAY_TRUST_PROXY"` // honor X-Forwarded-For/X-Real-IP; only behind a proxy that overwrites them
}

type ClientConfig struct {
	ProxyURL         string   `json:"proxy_url" yaml:"proxy_url" env:"CHATRELAY_CLIENT_PROXY_URL"`
	WebhookURL       string   `json:"webhook_url" yaml:"webhook_url" env:"CHATRELAY_CLIENT_WEBHOOK_URL"`
	AlternateURL     string   `json:"alternate_url" yaml:"alternate_url" env:"CHATRELAY_CLIENT_ALTERNATE_URL"`
	CORSProxies      []string `json:"cors_proxies" yaml:"cors_proxies" env:"CHATRELAY_CLIENT_CORS_PROXIES"`
	Origin           string   `json:"origin" yaml:"origin" env:"CHATRELAY_CLIENT_ORIGIN"`
	MaxMessageLength int      `json:"max_message_length" yaml:"max_message_length" env:"CHATRELAY_CLIENT_MAX_MESSAGE_LENGTH"`
	TimeoutSeconds   int      `json:"timeout_seconds" yaml:"timeout_seconds" env:"CHATRELAY_CLIENT_TIMEOUT_SECONDS"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" env:"CHATRELAY_LOG_LEVEL"`
}

func DefaultConfig() *Config {
	return &Config{
		Webhook: WebhookConfig{
			ProductionURL:  "",
			TestURL:        "",
			TimeoutSeconds: 10,
		},
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         3000,
			RateLimit:    2,
			RateBurst:    10,
			MaxBodyBytes: 1 << 20,
		},
		Client: ClientConfig{
			ProxyURL:   "http://localhost:3000",
			WebhookURL: "",
			CORSProxies: []string{
				"https://api.allorigins.win/raw?url=",
				"https://cors-anywhere.herokuapp.com/",
				"https://thingproxy.freeboard.io/fetch/",
			},
			Origin:           "https://localhost",
			MaxMessageLength: 1000,
			TimeoutSeconds:   10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Full config from env var (for containers / serverless)
	if cfgJSON := os.Getenv("CHATRELAY_CONFIG_JSON"); cfgJSON != "" {
		if err := json.Unmarshal([]byte(cfgJSON), cfg); err != nil {
			return nil, fmt.Errorf("parsing CHATRELAY_CONFIG_JSON: %w", err)
		}
		if err := env.Parse(cfg); err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err == nil {
		if isYAML(path) {
			err = yaml.Unmarshal(data, cfg)
		} else {
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate rejects values the rest of the program cannot work with.
// Missing URLs are not an error here: each command checks the ones it needs.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	if c.Gateway.RateLimit < 0 {
		return fmt.Errorf("gateway.rate_limit must not be negative")
	}
	if n := c.Client.MaxMessageLength; n < 1 || n > 2000 {
		return fmt.Errorf("client.max_message_length must be between 1 and 2000, got %d", n)
	}
	return nil
}

func (c *Config) GatewayAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

func (c *Config) WebhookTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return seconds(c.Webhook.TimeoutSeconds)
}

func (c *Config) ClientTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return seconds(c.Client.TimeoutSeconds)
}

// DirectWebhookURL is the URL the client calls without the proxy. It falls
// back to the proxy's production URL so one config file serves both sides.
func (c *Config) DirectWebhookURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Client.WebhookURL != "" {
		return c.Client.WebhookURL
	}
	return c.Webhook.ProductionURL
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// DefaultPath returns ~/.chatrelay/config.json.
func DefaultPath() string {
	return expandHome("~/.chatrelay/config.json")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
