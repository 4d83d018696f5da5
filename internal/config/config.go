// Package config handles Curator configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./curator.yaml, ~/.config/curator/config.yaml, /etc/curator/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"curator.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "curator", "config.yaml"))
	}

	paths = append(paths, "/etc/curator/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Curator configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Models      ModelsConfig      `yaml:"models"`
	Radarr      RadarrConfig      `yaml:"radarr"`
	Sonarr      SonarrConfig      `yaml:"sonarr"`
	QBittorrent QBittorrentConfig `yaml:"qbittorrent"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	History     HistoryConfig     `yaml:"history"`
	LogLevel    string            `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines LLM settings.
type ModelsConfig struct {
	OllamaURL string `yaml:"ollama_url"`
	Default   string `yaml:"default"`
}

// RadarrConfig defines the movie catalog connection.
type RadarrConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// SonarrConfig defines the series catalog connection.
type SonarrConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// QBittorrentConfig defines the torrent client connection.
type QBittorrentConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTConfig defines the optional notification broker. Notifications
// are disabled when Broker is empty.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
}

// HistoryConfig bounds the in-memory conversation store.
type HistoryConfig struct {
	// MaxMessages is the per-session message cap. When a session log
	// grows past this, the middle is discarded (head + tail are kept).
	MaxMessages int `yaml:"max_messages"`
	// KeepHead is how many early messages survive trimming.
	KeepHead int `yaml:"keep_head"`
	// MaxSessions caps the number of live sessions; the least recently
	// used sessions are evicted past this bound.
	MaxSessions int `yaml:"max_sessions"`
	// MaxResultChars caps tool result previews in the replay view.
	MaxResultChars int `yaml:"max_result_chars"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so secrets can live outside the file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 5000
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Models.Default == "" {
		c.Models.Default = "command-r-plus:latest"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "curator"
	}
	if c.History.MaxMessages == 0 {
		c.History.MaxMessages = 100
	}
	if c.History.KeepHead == 0 {
		c.History.KeepHead = 10
	}
	if c.History.MaxSessions == 0 {
		c.History.MaxSessions = 200
	}
	if c.History.MaxResultChars == 0 {
		c.History.MaxResultChars = 800
	}
}
