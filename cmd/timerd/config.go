package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the timerd YAML configuration. Flags override the file.
type Config struct {
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Mongo struct {
		URI        string `yaml:"uri"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	} `yaml:"mongo"`
	// PollInterval is a Go duration string, e.g. "5s".
	PollInterval string `yaml:"poll_interval"`
	// SinkName is the broker consumer group name.
	SinkName string `yaml:"sink_name"`
}

// LoadConfig reads the YAML file at path. An empty path yields defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	cfg.Redis.Addr = "localhost:6379"
	cfg.Mongo.URI = "mongodb://localhost:27017"
	cfg.Mongo.Database = "serviceweave"
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	return cfg, nil
}

// pollInterval parses the configured interval; empty means the engine
// default.
func (c Config) pollInterval() (time.Duration, error) {
	if c.PollInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("parse poll_interval: %w", err)
	}
	return d, nil
}
