package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/claude/formcheck/internal/engine"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Engine    EngineConfig    `yaml:"engine"`

	profiles map[engine.Exercise]engine.Config
}

// DefaultSessionIdleTimeout ends live sessions nobody has touched for this long.
const DefaultSessionIdleTimeout = 15 * time.Minute

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// SessionIdleTimeout ends live sessions without requests for this long.
	// Zero selects DefaultSessionIdleTimeout.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

type KafkaConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	QueueSize int      `yaml:"queue_size"`
}

// EngineConfig holds threshold overrides. Defaults apply to every exercise and
// the per-exercise blocks are decoded on top, so a file only lists what it changes.
type EngineConfig struct {
	Defaults  yaml.Node            `yaml:"defaults"`
	Exercises map[string]yaml.Node `yaml:"exercises"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Profile returns the resolved engine configuration for ex.
func (c *Config) Profile(ex engine.Exercise) engine.Config {
	if p, ok := c.profiles[ex]; ok {
		return p
	}
	return engine.DefaultConfig(ex)
}

// Load reads config from a YAML file, then applies environment variable overrides.
// Env vars use the prefix FORMCHECK_ and underscore-separated paths:
//
//	FORMCHECK_SERVER_HOST, FORMCHECK_SERVER_PORT, FORMCHECK_SERVER_SESSION_IDLE_TIMEOUT,
//	FORMCHECK_DB_HOST, FORMCHECK_DB_PORT, FORMCHECK_DB_NAME,
//	FORMCHECK_DB_USER, FORMCHECK_DB_PASSWORD, FORMCHECK_DB_SSLMODE,
//	FORMCHECK_AUTH_API_KEY,
//	FORMCHECK_TAILSCALE_ENABLED, FORMCHECK_TAILSCALE_HOSTNAME, FORMCHECK_TAILSCALE_STATE_DIR,
//	FORMCHECK_KAFKA_ENABLED, FORMCHECK_KAFKA_BROKERS (comma-separated), FORMCHECK_KAFKA_TOPIC,
//	FORMCHECK_ENGINE_SCORING_STRATEGY
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.resolveProfiles(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	applyEnvOverrides(cfg)
	if cfg.Server.SessionIdleTimeout == 0 {
		cfg.Server.SessionIdleTimeout = DefaultSessionIdleTimeout
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) resolveProfiles() error {
	for name := range c.Engine.Exercises {
		if _, err := engine.ParseExercise(name); err != nil {
			return fmt.Errorf("engine.exercises: %w", err)
		}
	}

	c.profiles = make(map[engine.Exercise]engine.Config)
	for _, ex := range engine.Exercises() {
		p := engine.DefaultConfig(ex)
		if !c.Engine.Defaults.IsZero() {
			if err := c.Engine.Defaults.Decode(&p); err != nil {
				return fmt.Errorf("engine.defaults: %w", err)
			}
		}
		if node, ok := c.Engine.Exercises[string(ex)]; ok {
			if err := node.Decode(&p); err != nil {
				return fmt.Errorf("engine.exercises.%s: %w", ex, err)
			}
		}
		c.profiles[ex] = p
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORMCHECK_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("FORMCHECK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FORMCHECK_SERVER_SESSION_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.SessionIdleTimeout = d
		}
	}
	if v := os.Getenv("FORMCHECK_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FORMCHECK_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FORMCHECK_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FORMCHECK_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FORMCHECK_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FORMCHECK_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("FORMCHECK_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("FORMCHECK_TAILSCALE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = enabled
		}
	}
	if v := os.Getenv("FORMCHECK_TAILSCALE_HOSTNAME"); v != "" {
		cfg.Tailscale.Hostname = v
	}
	if v := os.Getenv("FORMCHECK_TAILSCALE_STATE_DIR"); v != "" {
		cfg.Tailscale.StateDir = v
	}
	if v := os.Getenv("FORMCHECK_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("FORMCHECK_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FORMCHECK_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("FORMCHECK_ENGINE_SCORING_STRATEGY"); v != "" {
		for ex, p := range cfg.profiles {
			p.ScoringStrategy = engine.ScoringStrategy(v)
			cfg.profiles[ex] = p
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port == 0 && !c.Tailscale.Enabled {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.SessionIdleTimeout < 0 {
		return fmt.Errorf("server.session_idle_timeout must not be negative")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}
	if c.Kafka.QueueSize < 0 {
		return fmt.Errorf("kafka.queue_size must not be negative")
	}
	for _, ex := range engine.Exercises() {
		if err := c.Profile(ex).Validate(); err != nil {
			return fmt.Errorf("engine.%s: %w", ex, err)
		}
	}
	return nil
}
