// CLAUDE:SUMMARY Root YAML configuration composing the per-package configs, with env overrides for deploy knobs.
package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pulse/bandit"
	"github.com/hazyhaar/pulse/embeddings"
	"github.com/hazyhaar/pulse/policy"
	"github.com/hazyhaar/pulse/scoring"
	"github.com/hazyhaar/pulse/scraper"
	"github.com/hazyhaar/pulse/telemetry"
)

// appConfig composes every subsystem's config. Each package applies its own
// defaults, so an empty file is a valid deployment.
type appConfig struct {
	DBPath string `yaml:"db_path"`

	Telemetry  telemetry.Config          `yaml:"telemetry"`
	Collector  telemetry.CollectorConfig `yaml:"collector"`
	Browser    scraper.BrowserConfig     `yaml:"browser"`
	Scraper    scraper.Config            `yaml:"scraper"`
	Embeddings embeddings.Config         `yaml:"embeddings"`
	Scoring    scoring.Config            `yaml:"scoring"`
	Selector   bandit.SelectorConfig     `yaml:"selector"`
	Updater    policy.UpdaterConfig      `yaml:"updater"`
	Watch      policy.WatchOptions       `yaml:"policy_watch"`

	// AlertWebhook receives validation alerts as JSON POSTs. Empty drops
	// them.
	AlertWebhook string `yaml:"alert_webhook"`
}

// loadConfig reads the YAML file (optional) and applies env overrides for
// the knobs that vary per deployment.
func loadConfig(path string) (*appConfig, error) {
	cfg := &appConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if cfg.DBPath == "" {
		cfg.DBPath = env("DB_PATH", "db/pulse.db")
	}
	if v := os.Getenv("ALERT_WEBHOOK"); v != "" {
		cfg.AlertWebhook = v
	}
	if v := os.Getenv("EMBED_ENDPOINT"); v != "" {
		cfg.Embeddings.Endpoint = v
	}
	if v := os.Getenv("CHROME_URL"); v != "" {
		cfg.Browser.RemoteURL = v
	}
	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
