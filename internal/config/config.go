package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/lavapool/internal/cluster"
)

// Environment variables read by Load.
const (
	EnvToken          = "DISCORD_TOKEN"
	EnvNodesFile      = "LAVAPOOL_NODES"
	EnvAdminAddr      = "LAVAPOOL_ADMIN_ADDR"
	EnvSource         = "LAVAPOOL_SOURCE"
	EnvLogLevel       = "LAVAPOOL_LOG_LEVEL"
	EnvHealthInterval = "LAVAPOOL_HEALTH_INTERVAL"
	EnvGuildID        = "LAVAPOOL_GUILD_ID"
)

const (
	DefaultNodesFile      = "nodes.yaml"
	DefaultAdminAddr      = ":8080"
	DefaultHealthInterval = 30 * time.Second
)

var (
	ErrMissingToken = errors.New(EnvToken + " is not set")
	ErrNoNodes      = errors.New("no nodes configured")
)

// Config is everything cmd/lavapool needs to start.
type Config struct {
	Token          string
	AdminAddr      string
	Source         string
	LogLevel       string
	HealthInterval time.Duration

	// GuildID restricts the bot to one guild when set.
	GuildID snowflake.ID

	Nodes []cluster.NodeDescriptor
}

// NodesFile is the YAML layout of the node list.
//
//	nodes:
//	  - id: main
//	    host: localhost
//	    port: 2333
//	    password: youshallnotpass
//	    retry_delay: 30s
type NodesFile struct {
	Nodes []cluster.NodeDescriptor `yaml:"nodes"`
}

// Load reads .env when present, then the environment, then the node list
// file, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Token:          os.Getenv(EnvToken),
		AdminAddr:      getenv(EnvAdminAddr, DefaultAdminAddr),
		Source:         os.Getenv(EnvSource),
		LogLevel:       getenv(EnvLogLevel, "info"),
		HealthInterval: DefaultHealthInterval,
	}

	if v := os.Getenv(EnvHealthInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHealthInterval, err)
		}
		cfg.HealthInterval = d
	}

	if v := os.Getenv(EnvGuildID); v != "" {
		id, err := snowflake.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvGuildID, err)
		}
		cfg.GuildID = id
	}

	nodes, err := LoadNodes(getenv(EnvNodesFile, DefaultNodesFile))
	if err != nil {
		return nil, err
	}
	cfg.Nodes = nodes

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadNodes parses a node list file.
func LoadNodes(path string) ([]cluster.NodeDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node list: %w", err)
	}
	return ParseNodes(data)
}

// ParseNodes decodes a node list document.
func ParseNodes(data []byte) ([]cluster.NodeDescriptor, error) {
	var file NodesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse node list: %w", err)
	}
	return file.Nodes, nil
}

// Validate checks that the bot can log in and has somewhere to play.
func (c *Config) Validate() error {
	if c.Token == "" {
		return ErrMissingToken
	}
	if len(c.Nodes) == 0 {
		return ErrNoNodes
	}

	seen := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if strings.TrimSpace(n.Host) == "" {
			return fmt.Errorf("node %d: host is required", i)
		}
		if n.Port < 0 || n.Port > 65535 {
			return fmt.Errorf("node %s: port %d out of range", n.Key(), n.Port)
		}
		if seen[n.Key()] {
			return fmt.Errorf("node %s: duplicate id", n.Key())
		}
		seen[n.Key()] = true
	}
	if c.HealthInterval < 0 {
		return fmt.Errorf("%s must not be negative", EnvHealthInterval)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
