package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "curator.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen:
  address: "127.0.0.1"
  port: 8080
models:
  ollama_url: "http://ollama:11434"
  default: "llama3.1:8b"
radarr:
  url: "http://radarr:7878"
  api_key: "rkey"
qbittorrent:
  url: "http://qbt:8081"
  username: "admin"
  password: "pw"
mqtt:
  broker: "mqtt://broker:1883"
  device_name: "living-room"
history:
  max_messages: 50
log_level: "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Address != "127.0.0.1" || cfg.Listen.Port != 8080 {
		t.Errorf("listen = %+v", cfg.Listen)
	}
	if cfg.Models.Default != "llama3.1:8b" {
		t.Errorf("model = %q", cfg.Models.Default)
	}
	if cfg.Radarr.APIKey != "rkey" {
		t.Errorf("radarr key = %q", cfg.Radarr.APIKey)
	}
	if cfg.MQTT.DeviceName != "living-room" {
		t.Errorf("device name = %q", cfg.MQTT.DeviceName)
	}
	if cfg.History.MaxMessages != 50 {
		t.Errorf("max messages = %d", cfg.History.MaxMessages)
	}
	// Unset history fields still get defaults.
	if cfg.History.KeepHead != 10 || cfg.History.MaxSessions != 200 || cfg.History.MaxResultChars != 800 {
		t.Errorf("history defaults = %+v", cfg.History)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 5000 {
		t.Errorf("port = %d, want 5000", cfg.Listen.Port)
	}
	if cfg.Models.OllamaURL != "http://localhost:11434" {
		t.Errorf("ollama url = %q", cfg.Models.OllamaURL)
	}
	if cfg.Models.Default == "" {
		t.Error("no default model")
	}
	if cfg.MQTT.DeviceName != "curator" {
		t.Errorf("device name = %q", cfg.MQTT.DeviceName)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CURATOR_TEST_KEY", "from-env")
	cfg, err := Load(writeConfig(t, `
radarr:
  url: "http://radarr:7878"
  api_key: "${CURATOR_TEST_KEY}"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Radarr.APIKey != "from-env" {
		t.Errorf("api_key = %q, want value from environment", cfg.Radarr.APIKey)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "listen: [not a mapping")); err == nil {
		t.Fatal("Load of invalid YAML returned nil error")
	}
}

func TestFindConfigExplicit(t *testing.T) {
	path := writeConfig(t, "{}")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if got != path {
		t.Errorf("got %q, want %q", got, path)
	}

	// An explicit path must exist; no fallback to the search list.
	if _, err := FindConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("FindConfig with missing explicit path returned nil error")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{" warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(LevelTrace)}
	if got := ReplaceLogLevelNames(nil, a); got.Value.String() != "TRACE" {
		t.Errorf("trace renders as %q", got.Value.String())
	}

	b := slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(slog.LevelInfo)}
	if got := ReplaceLogLevelNames(nil, b); got.Value.Any() != slog.LevelInfo {
		t.Errorf("info level rewritten: %v", got.Value)
	}
}
