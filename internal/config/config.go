package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/fx"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Directory DirectoryConfig `yaml:"directory"`
	Audit     EndpointConfig  `yaml:"audit"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type DirectoryConfig struct {
	BaseURL string              `yaml:"base_url"`
	Timeout string              `yaml:"timeout"`
	Static  map[string][]string `yaml:"static"`
}

type EndpointConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8140,
		},
		Directory: DirectoryConfig{
			Timeout: "5s",
		},
		Audit: EndpointConfig{
			Timeout: "5s",
		},
	}
}

// Load reads the yaml file at path over the defaults, then applies
// environment-variable overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("APP_SERVER_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_SERVER_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_DIRECTORY_BASE_URL")); v != "" {
		cfg.Directory.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_DIRECTORY_TIMEOUT")); v != "" {
		cfg.Directory.Timeout = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_AUDIT_BASE_URL")); v != "" {
		cfg.Audit.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_AUDIT_TIMEOUT")); v != "" {
		cfg.Audit.Timeout = v
	}

	return cfg, nil
}

func Module(path string) fx.Option {
	return fx.Provide(func() (Config, error) {
		return Load(path)
	})
}
