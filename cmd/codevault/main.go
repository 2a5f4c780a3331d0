// ABOUTME: Entry point for codevault
// ABOUTME: Custodies per-user access codes behind a Matrix control panel

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/relayforge/codevault/internal/config"
)

const banner = `
               _                      _ _
  ___ ___   __| | _____   ____ _ _   _| | |_
 / __/ _ \ / _' |/ _ \ \ / / _' | | | | | __|
| (_| (_) | (_| |  __/\ V / (_| | |_| | | |_
 \___\___/ \__,_|\___| \_/ \__,_|\__,_|_|\__|
`

// getConfigPath returns the path to the codevault config file.
// Priority: CODEVAULT_CONFIG env var > XDG_CONFIG_HOME/codevault/codevault.toml > ~/.config/codevault/codevault.toml
func getConfigPath() string {
	if envPath := os.Getenv("CODEVAULT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "codevault.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "codevault", "codevault.toml")
}

func main() {
	// Check for init command
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging.Level)

	// Print startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Ledger:     %s/%s\n", cfg.Ledger.Repo, cfg.Ledger.Path)
	green.Print("    ▶ ")
	fmt.Printf("Panel room: %s\n", cfg.Panel.RoomID)
	green.Print("    ▶ ")
	fmt.Printf("Panel mode: %s\n", cfg.Panel.Mode)
	fmt.Println()

	// Setup graceful shutdown context first - all operations should respect it
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Create bridge
	bridge, err := NewBridge(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// Run bridge
	logger.Info("starting codevault")
	return bridge.Run(ctx)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)

	prompt := func(label, fallback string) string {
		green.Print("    ▶ ")
		if fallback != "" {
			fmt.Printf("%s [%s]: ", label, fallback)
		} else {
			fmt.Printf("%s: ", label)
		}
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return fallback
		}
		return answer
	}

	homeserver := prompt("Matrix homeserver URL", "https://matrix.org")
	userID := prompt("Matrix user ID (e.g. @codevault:matrix.org)", "")
	accessToken := prompt("Matrix access token", "")
	ledgerRepo := prompt("Ledger repository (owner/name)", "")
	ledgerPath := prompt("Ledger file path", "codes.txt")
	roomID := prompt("Panel room ID", "")
	mode := prompt("Panel mode (indefinite/timeboxed)", "indefinite")

	cfg := fmt.Sprintf(`# codevault configuration
# Generated by codevault init

[matrix]
homeserver   = "%s"
user_id      = "%s"
access_token = "%s"

[ledger]
# Token comes from the environment so it never lands on disk.
token = "${GITHUB_TOKEN}"
repo  = "%s"
path  = "%s"

[panel]
room_id = "%s"
mode    = "%s"
`, homeserver, userID, accessToken, ledgerRepo, ledgerPath, roomID, mode)

	if mode == "timeboxed" {
		cfg += fmt.Sprintf("lifetime = \"%s\"\n", prompt("Panel lifetime", "24h"))
	}

	cfg += `
[cooldowns]
issue  = "20s"
reveal = "20s"
reset  = "5h"

[logging]
level = "info"
`

	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(configPath, []byte(cfg), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Export GITHUB_TOKEN")
	fmt.Println("    2. Run: codevault")
	fmt.Println()

	return nil
}
