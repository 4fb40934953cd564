package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	API     apiConfig     `yaml:"api"`
	Catalog catalogConfig `yaml:"catalog"`
	Feed    feedConfig    `yaml:"feed"`
	Store   storeConfig   `yaml:"store"`
	Metrics metricsConfig `yaml:"metrics"`
	Jaeger  jaegerConfig  `yaml:"jaeger"`
}

type apiConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type catalogConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

type feedConfig struct {
	// Driver is websocket, kafka or none.
	Driver            string        `yaml:"driver"`
	URL               string        `yaml:"url"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	Kafka             kafkaConfig   `yaml:"kafka"`
}

type kafkaConfig struct {
	Addr    string `yaml:"addr"`
	GroupID string `yaml:"group_id"`
	Topic   string `yaml:"topic"`
}

type storeConfig struct {
	// Driver is memory, sqlite or redis.
	Driver        string        `yaml:"driver"`
	Name          string        `yaml:"name"`
	Dir           string        `yaml:"dir"`
	RedisAddr     string        `yaml:"redis_addr"`
	TombstoneTTL  time.Duration `yaml:"tombstone_ttl"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

type metricsConfig struct {
	Port int `yaml:"port"`
}

type jaegerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
}

func defaultConfig() config {
	return config{
		API: apiConfig{Port: 8081},
		Catalog: catalogConfig{
			BaseURL:   "http://localhost:8000/api",
			Timeout:   10 * time.Second,
			RateLimit: 10,
			Burst:     5,
		},
		Feed: feedConfig{
			Driver:            "websocket",
			URL:               "ws://localhost:8000/ws/movies/",
			ReadTimeout:       time.Minute,
			ReconnectInterval: 5 * time.Second,
			Kafka: kafkaConfig{
				Addr:    "localhost:9092",
				GroupID: "moviereplica",
				Topic:   "movies",
			},
		},
		Store: storeConfig{
			Driver:        "sqlite",
			Name:          "moviesdb",
			Dir:           "data",
			RedisAddr:     "localhost:6379",
			TombstoneTTL:  7 * 24 * time.Hour,
			PurgeInterval: time.Hour,
		},
		Metrics: metricsConfig{Port: 9091},
		Jaeger:  jaegerConfig{Host: "localhost", Port: "6831"},
	}
}

// loadConfig reads the yaml file at path over the defaults.
func loadConfig(path string) (*config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := defaultConfig()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *config) validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Feed.Driver {
	case "websocket", "kafka", "none":
	default:
		return fmt.Errorf("unknown feed driver %q", c.Feed.Driver)
	}
	if c.Store.Name == "" {
		return fmt.Errorf("store name is required")
	}
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog base_url is required")
	}
	if c.Catalog.RateLimit <= 0 || c.Catalog.Burst <= 0 {
		return fmt.Errorf("catalog rate_limit and burst must be positive")
	}
	return nil
}
