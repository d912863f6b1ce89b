package acquirer

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is a configuration for the acquirer application
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	// RepoBackend selects the settlement store: "pg", "redis" or "mem".
	RepoBackend string `yaml:"repo_backend"`
	DBDSN       string `yaml:"db_dsn"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// PANHashKey keys the HMAC under which card numbers are stored.
	PANHashKey string `yaml:"pan_hash_key"`
	// AllowMemBackend must be set for the non-durable "mem" store; it exists for tests.
	AllowMemBackend bool `yaml:"allow_mem_backend"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:    "localhost:9090",
		RepoBackend: "pg",
		PANHashKey:  "dev-secret-pepper",
	}
}

// LoadConfig reads a YAML config file over the defaults, then applies environment overrides.
// An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.RepoBackend = getenv("REPO_BACKEND", c.RepoBackend)
	c.DBDSN = getenv("DB_DSN", c.DBDSN)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getenv("REDIS_PASSWORD", c.RedisPassword)
	c.PANHashKey = getenv("PAN_HASH_KEY", c.PANHashKey)
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.RedisDB = db
	}
	if getenv("ALLOW_MEM_BACKEND_FOR_TESTS", "false") == "true" {
		c.AllowMemBackend = true
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
