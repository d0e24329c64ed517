package config

import (
	"fmt"
	"os"
)

// Config holds every process setting the service needs. It is loaded once in
// main and passed to each component at construction; no package reads the
// environment on its own.
type Config struct {
	BackendURL string // Odoo server base URL, e.g. http://localhost:8069
	Database   string // Odoo database name
	Username   string // backend login
	Password   string // backend password / API key
	OpenAIKey  string // classification oracle API key

	Port string // HTTP listen port, default 8080
}

// Load reads configuration from the environment. Every backend and oracle
// credential is required; a missing one is an error so the service fails at
// startup instead of issuing calls with empty credentials.
func Load() (Config, error) {
	cfg := Config{
		BackendURL: os.Getenv("ODOO_URL"),
		Database:   os.Getenv("ODOO_DB"),
		Username:   os.Getenv("ODOO_USER"),
		Password:   os.Getenv("ODOO_PASS"),
		OpenAIKey:  os.Getenv("OPENAI_API_KEY"),
		Port:       os.Getenv("SERVER_PORT"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	required := []struct {
		name  string
		value string
	}{
		{"ODOO_URL", cfg.BackendURL},
		{"ODOO_DB", cfg.Database},
		{"ODOO_USER", cfg.Username},
		{"ODOO_PASS", cfg.Password},
		{"OPENAI_API_KEY", cfg.OpenAIKey},
	}
	for _, req := range required {
		if req.value == "" {
			return Config{}, fmt.Errorf("%s is required", req.name)
		}
	}

	return cfg, nil
}
