package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds all parley server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`

	LLMAPIKey  string `json:"llm_api_key"`
	LLMBaseURL string `json:"llm_base_url"`
	LLMModel   string `json:"llm_model"`

	CRMBaseURL   string `json:"crm_base_url"`
	CRMToken     string `json:"crm_token"`
	CRMSimulated bool   `json:"crm_simulated"`

	VaultPassphrase string `json:"vault_passphrase"`
	VaultSalt       string `json:"vault_salt"`

	IdleTimeout   string `json:"idle_timeout"`
	SweepSchedule string `json:"sweep_schedule"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:  ":4200",
		DBPath:      filepath.Join(parleyDir(), "parley.db"),
		LogLevel:    "info",
		LLMModel:    "gpt-4o-mini",
		IdleTimeout: "24h",
	}
}

func parleyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parley"
	}
	return filepath.Join(home, ".parley")
}

func settingsPath() string {
	return filepath.Join(parleyDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("PARLEY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PARLEY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PARLEY_LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("PARLEY_LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("PARLEY_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("PARLEY_CRM_BASE_URL"); v != "" {
		cfg.CRMBaseURL = v
	}
	if v := os.Getenv("PARLEY_CRM_TOKEN"); v != "" {
		cfg.CRMToken = v
	}
	if v := os.Getenv("PARLEY_CRM_SIMULATED"); v != "" {
		cfg.CRMSimulated = v == "true" || v == "1"
	}
	if v := os.Getenv("PARLEY_VAULT_PASSPHRASE"); v != "" {
		cfg.VaultPassphrase = v
	}
	if v := os.Getenv("PARLEY_VAULT_SALT"); v != "" {
		cfg.VaultSalt = v
	}
	if v := os.Getenv("PARLEY_IDLE_TIMEOUT"); v != "" {
		cfg.IdleTimeout = v
	}
	if v := os.Getenv("PARLEY_SWEEP_SCHEDULE"); v != "" {
		cfg.SweepSchedule = v
	}

	return cfg
}

// idleTimeout parses the configured idle timeout, falling back to the
// default when the value is unparseable or non-positive.
func (c Config) idleTimeout() time.Duration {
	d, err := time.ParseDuration(c.IdleTimeout)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}
