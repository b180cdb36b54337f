package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultPath = "config.yaml"

type Config struct {
	Database   DatabaseConfig    `yaml:"database"`
	Validator  ValidatorConfig   `yaml:"validator"`
	Tester     TesterConfig      `yaml:"tester"`
	Eviction   EvictionConfig    `yaml:"eviction"`
	GeoIP      GeoIPConfig       `yaml:"geoip"`
	Sources    []SourceConfig    `yaml:"sources"`
	Publishers []PublisherConfig `yaml:"publishers"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
}

type ValidatorConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	PageSize     int           `yaml:"page_size"`
	HistoryLimit int           `yaml:"history_limit"`
	Interval     time.Duration `yaml:"interval"`
}

type TesterConfig struct {
	TargetURL       string        `yaml:"target_url"`
	Timeout         time.Duration `yaml:"timeout"`
	ExpectField     string        `yaml:"expect_field"`
	BlockSignatures []string      `yaml:"block_signatures"`
	UserAgent       string        `yaml:"user_agent"`
}

type EvictionConfig struct {
	StaleAfter      time.Duration `yaml:"stale_after"`
	StaleMinFails   int           `yaml:"stale_min_fails"`
	CleanupMinFails int           `yaml:"cleanup_min_fails"`
	CleanupMaxScore int           `yaml:"cleanup_max_score"`
}

type GeoIPConfig struct {
	CityPath string `yaml:"city_path"`
}

type SourceConfig struct {
	Name   string                 `yaml:"name"`
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:"params"`
}

// PublisherConfig selects proxies from the pool and hands them to a
// publisher type. Status defaults to active; "any" disables the filter.
type PublisherConfig struct {
	Name     string                 `yaml:"name"`
	Type     string                 `yaml:"type"`
	Status   string                 `yaml:"status"`
	MinScore int                    `yaml:"min_score"`
	Limit    int                    `yaml:"limit"`
	Params   map[string]interface{} `yaml:"params"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = "proxyhealth.db"

	cfg.Validator.Concurrency = 10
	cfg.Validator.PageSize = 100
	cfg.Validator.HistoryLimit = 20
	cfg.Validator.Interval = time.Hour

	cfg.Tester.TargetURL = "https://httpbin.org/ip"
	cfg.Tester.Timeout = 10 * time.Second
	cfg.Tester.ExpectField = "origin"
	cfg.Tester.BlockSignatures = []string{
		"Our systems have detected unusual traffic",
		"unusual traffic from your computer network",
		"captcha",
	}
	cfg.Tester.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	cfg.Eviction.StaleAfter = 72 * time.Hour
	cfg.Eviction.StaleMinFails = 3
	cfg.Eviction.CleanupMinFails = 5
	cfg.Eviction.CleanupMaxScore = 20
	return &cfg
}

// Load reads path on top of Default. An empty path means ./config.yaml,
// which may be absent. Environment variables (and a .env file) override
// the database section.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = defaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config yaml: %w", err)
		}
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PROXYHEALTH_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("PROXYHEALTH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PROXYHEALTH_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Tester.TargetURL == "" {
		return fmt.Errorf("tester.target_url is required")
	}
	if c.Tester.Timeout <= 0 {
		c.Tester.Timeout = 10 * time.Second
	}
	if c.Validator.PageSize <= 0 {
		c.Validator.PageSize = 100
	}
	if c.Validator.HistoryLimit <= 0 {
		c.Validator.HistoryLimit = 20
	}
	if c.Validator.Interval <= 0 {
		c.Validator.Interval = time.Hour
	}
	for i := range c.Sources {
		if c.Sources[i].Params == nil {
			c.Sources[i].Params = make(map[string]interface{})
		}
	}
	for i := range c.Publishers {
		if c.Publishers[i].Params == nil {
			c.Publishers[i].Params = make(map[string]interface{})
		}
		if c.Publishers[i].Status == "" {
			c.Publishers[i].Status = "active"
		}
	}
	return nil
}

// FindPublisher returns the publisher with the given name.
func (c *Config) FindPublisher(name string) (PublisherConfig, bool) {
	for _, p := range c.Publishers {
		if p.Name == name {
			return p, true
		}
	}
	return PublisherConfig{}, false
}

// FindSource returns the source with the given name.
func (c *Config) FindSource(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}
