package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrNoConfigFile is returned by Load when no candidate path exists.
var ErrNoConfigFile = errors.New("no config file found")

// searchPaths lists where Load looks for config.yaml when no path is given.
func searchPaths() []string {
	paths := []string{}
	if p := os.Getenv("MOONSHOT_CONFIG"); p != "" {
		paths = append(paths, p)
	}
	return append(paths,
		"config.yaml",
		filepath.Join("config", "config.yaml"),
	)
}

// Load reads .env (if present), the YAML file at path (or the first one found
// on the search path) layered over Default(), applies environment secrets and
// validates the result. An empty path with no file on the search path yields
// the validated defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()

	data, found, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if found {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates it without touching the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, bool, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, false, fmt.Errorf("read config %s: %w", path, err)
		}
		return data, true, nil
	}

	for _, p := range searchPaths() {
		data, err := os.ReadFile(p)
		if err == nil {
			return data, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("read config %s: %w", p, err)
		}
	}
	return nil, false, nil
}

// applyEnv copies secrets and endpoints from the environment.
func (c *Config) applyEnv() {
	setIf := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setIf(&c.Storage.PostgresDSN, "POSTGRES_DSN")
	setIf(&c.Storage.ClickhouseDSN, "CLICKHOUSE_DSN")
	setIf(&c.Safety.BaseURL, "SAFETY_API_URL")
	setIf(&c.Safety.APIKey, "SAFETY_API_KEY")
	setIf(&c.Feed.WSURL, "PRICE_WS_URL")
	setIf(&c.Feed.PollURL, "PRICE_POLL_URL")
	setIf(&c.Notify.WebhookURL, "WEBHOOK_URL")
	setIf(&c.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setIf(&c.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setIf(&c.API.JWTSecret, "API_JWT_SECRET")
	setIf(&c.Logging.Level, "LOG_LEVEL")
}
