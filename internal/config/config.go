package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// AdminUsername is auto-approved with full entitlements and the
	// admin role on registration.
	AdminUsername string `json:"admin_username"`
	Provider      string `json:"provider"`
	// RetentionDays is the horizon beyond which sessions become
	// eligible for cleanup.
	RetentionDays      int `json:"retention_days"`
	RetentionSweepMins int `json:"retention_sweep_minutes"`
	MinWorkers         int `json:"min_workers"`
	MaxWorkers         int `json:"max_workers"`
	QueueSize          int `json:"queue_size"`
	WorkerIdleTimeout  int `json:"worker_idle_timeout"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	ProModel   string `json:"pro_model"`
	ImageModel string `json:"image_model"`
	APIKey     string `json:"api_key"`
}

// env var overriding the configured provider API key, per provider name.
var providerKeyEnv = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
}

// Load reads configuration from the provided path (defaults to
// config.json). A .env file next to the process, when present, is loaded
// first so API keys can stay out of the config file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}

	for name, prov := range cfg.Providers {
		if env, ok := providerKeyEnv[name]; ok {
			if key := os.Getenv(env); key != "" {
				prov.APIKey = key
				cfg.Providers[name] = prov
			}
		}
	}

	if cfg.BasicConfig.Provider == "" {
		cfg.BasicConfig.Provider = "gemini"
	}
	if cfg.BasicConfig.RetentionDays <= 0 {
		cfg.BasicConfig.RetentionDays = 90
	}

	return &cfg, nil
}
