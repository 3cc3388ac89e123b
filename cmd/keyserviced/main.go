// ABOUTME: Entry point for the keyserviced remote key daemon
// ABOUTME: Serves the key service HTTP API over a software secure area

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/identity-vault/internal/keyservice"
	"github.com/2389/identity-vault/internal/securearea"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                                  _              _
| | _____ _   _ ___  ___ _ ____   _(_) ___ ___  __| |
| |/ / _ \ | | / __|/ _ \ '__\ \ / / |/ __/ _ \/ _' |
|   <  __/ |_| \__ \  __/ |   \ V /| | (_|  __/ (_| |
|_|\_\___|\__, |___/\___|_|    \_/ |_|\___\___|\__,_|
          |___/
`

// getConfigPath returns the path to the key service config file.
// Priority: VAULT_KEYSERVICE_CONFIG env var > XDG_CONFIG_HOME/identity-vault/keyservice.toml > ~/.config/identity-vault/keyservice.toml
func getConfigPath() string {
	if envPath := os.Getenv("VAULT_KEYSERVICE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "keyservice.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "identity-vault", "keyservice.toml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	area, err := securearea.NewSoftwareSecureArea(cfg.masterSecret())
	if err != nil {
		return fmt.Errorf("creating secure area: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config: %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:   %s\n", cfg.Server.Addr)
	if cfg.Keys.MasterSecret == "" {
		yellow.Print("    ▶ ")
		fmt.Println("Keys:   ephemeral wrapping secret (keys lost on restart)")
	}
	fmt.Println()

	logger.Info("starting keyserviced",
		"config", configPath,
		"addr", cfg.Server.Addr,
	)

	svc := keyservice.New(area, []byte(cfg.Auth.TokenSecret))
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: svc.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	return nil
}

func setupLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
