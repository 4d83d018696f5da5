// Curator is a conversational media-management assistant.
//
// It drives Radarr, Sonarr and qBittorrent through an LLM with tool
// calling, exposing an SSE/WebSocket streaming API plus a synchronous
// chat endpoint. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	curator serve            Start the API server
//	curator ask <question>   Ask a single question (for testing)
//	curator version          Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"curator/internal/agent"
	"curator/internal/api"
	"curator/internal/buildinfo"
	"curator/internal/config"
	"curator/internal/conversation"
	"curator/internal/llm"
	"curator/internal/notify"
	"curator/internal/qbittorrent"
	"curator/internal/radarr"
	"curator/internal/sonarr"
	"curator/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the curator command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes concurrent calls from tests awkward, and the argument
// surface here is tiny.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: curator ask <question>")
		}
		return runAsk(ctx, stdout, configPath, strings.Join(cmdArgs, " "))
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "", "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintf(w, `Curator — conversational media assistant

Usage:
  curator serve              Start the API server
  curator ask <question>     Ask a single question (for testing)
  curator version            Print version and build information

Flags:
  -config <path>             Config file (default: auto-discover)
`)
	return nil
}

// buildLoop assembles the full stack from configuration: backend
// clients, tool registry, conversation store, notifier and the
// decision loop.
func buildLoop(cfg *config.Config, logger *slog.Logger) (*agent.Loop, *conversation.Store, *notify.Notifier) {
	var rad *radarr.Client
	if cfg.Radarr.URL != "" {
		rad = radarr.NewClient(cfg.Radarr.URL, cfg.Radarr.APIKey)
	}
	var son *sonarr.Client
	if cfg.Sonarr.URL != "" {
		son = sonarr.NewClient(cfg.Sonarr.URL, cfg.Sonarr.APIKey)
	}
	var qbt *qbittorrent.Client
	if cfg.QBittorrent.URL != "" {
		qbt = qbittorrent.NewClient(cfg.QBittorrent.URL, cfg.QBittorrent.Username, cfg.QBittorrent.Password)
	}

	notifier := notify.New(cfg.MQTT, logger)
	registry := tools.NewRegistry(rad, son, qbt, notifier)
	store := conversation.NewStore(cfg.History.MaxMessages, cfg.History.KeepHead, logger)
	client := llm.NewOllamaClient(cfg.Models.OllamaURL)

	loop := agent.NewLoop(logger, client, registry, store, notifier,
		cfg.Models.Default, cfg.History.MaxResultChars)
	return loop, store, notifier
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level)
	logger.Info("starting curator",
		"version", buildinfo.Version,
		"config", cfgPath,
		"model", cfg.Models.Default,
	)

	loop, store, notifier := buildLoop(cfg, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if notifier.Enabled() {
		go func() {
			if err := notifier.Start(ctx); err != nil {
				logger.Error("mqtt notifier failed", "error", err)
			}
		}()
	} else {
		logger.Info("mqtt notifications disabled (no broker configured)")
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, store,
		cfg.History.MaxSessions, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer offlineCancel()
		if err := notifier.Stop(offlineCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}

		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Curator stopped")
	return nil
}

// runAsk runs a single synchronous turn against a throwaway session
// and prints the answer. Useful for smoke-testing a config without a
// client.
func runAsk(ctx context.Context, stdout io.Writer, configPath, question string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Keep ask output clean: log warnings and errors only.
	logger := newLogger(os.Stderr, slog.LevelWarn)
	loop, _, _ := buildLoop(cfg, logger)

	answer, err := loop.Ask(ctx, "cli", question)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, answer)
	return nil
}

// newLogger creates a structured text logger writing to w at the given
// level. All log output goes through slog; this helper standardizes
// the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	})
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
