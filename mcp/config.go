// Package mcp resolves external MCP (Model Context Protocol) servers into
// tools usable by research agents. Servers are declared in a YAML config,
// filtered per server by enabled_tools and targeted at agent roles via
// add_to_agents. Discovery failures degrade gracefully: the affected server is
// skipped and the agent falls back to its default tool set.
package mcp

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Transport kinds supported for MCP servers.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// ServerConfig declares how to reach one MCP server and which of its tools
// are exposed to which agent roles. A server with an empty EnabledTools list
// is configured but inactive.
type ServerConfig struct {
	Transport    string            `yaml:"transport"` // stdio or sse
	Command      string            `yaml:"command,omitempty"`
	Args         []string          `yaml:"args,omitempty"`
	URL          string            `yaml:"url,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	EnabledTools []string          `yaml:"enabled_tools,omitempty"`
	AddToAgents  []string          `yaml:"add_to_agents,omitempty"`
}

// Config is the root of the MCP servers YAML document.
type Config struct {
	Servers map[string]ServerConfig `yaml:"servers"`
}

// LoadConfig reads and parses an MCP servers YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}
	for name, sc := range cfg.Servers {
		if err := validateServer(name, sc); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func validateServer(name string, sc ServerConfig) error {
	switch sc.Transport {
	case TransportStdio:
		if sc.Command == "" {
			return fmt.Errorf("mcp server %q: stdio transport requires command", name)
		}
	case TransportSSE:
		if sc.URL == "" {
			return fmt.Errorf("mcp server %q: sse transport requires url", name)
		}
	default:
		return fmt.Errorf("mcp server %q: unknown transport %q", name, sc.Transport)
	}
	return nil
}

// enabledFor reports whether the server should provide tools to a role.
func (sc ServerConfig) enabledFor(role string) bool {
	if len(sc.EnabledTools) == 0 {
		return false
	}
	for _, r := range sc.AddToAgents {
		if r == role {
			return true
		}
	}
	return false
}

// toolEnabled reports whether a discovered tool name is in the enabled set.
func (sc ServerConfig) toolEnabled(name string) bool {
	for _, t := range sc.EnabledTools {
		if t == name {
			return true
		}
	}
	return false
}
