package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the service configuration. Values in the YAML file may
// reference environment variables with ${NAME} placeholders.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Storage struct {
		// Backend selects "memory" or "table".
		Backend          string `yaml:"backend"`
		ConnectionString string `yaml:"connection_string"`
		TasksTable       string `yaml:"tasks_table"`
	} `yaml:"storage"`

	Redis struct {
		ConnectionString string `yaml:"connection_string"`
		Channel          string `yaml:"channel"`
		CacheTTL         string `yaml:"cache_ttl"`
	} `yaml:"redis"`

	Auth struct {
		Domain   string `yaml:"domain"`
		Audience string `yaml:"audience"`
	} `yaml:"auth"`
}

// Load reads and expands the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	content := string(data)
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		placeholder := "${" + pair[0] + "}"
		content = strings.ReplaceAll(content, placeholder, pair[1])
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.TasksTable == "" {
		c.Storage.TasksTable = "tasks"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "task-updates"
	}
	if c.Redis.CacheTTL == "" {
		c.Redis.CacheTTL = "5m"
	}
}

// CacheTTL parses the snapshot cache TTL.
func (c *Config) CacheTTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.Redis.CacheTTL)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid cache_ttl %q", c.Redis.CacheTTL)
	}
	return d, nil
}
