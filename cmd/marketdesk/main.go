// ABOUTME: Interactive console for the marketdesk seller chat workbench
// ABOUTME: Usage: marketdesk [-config path] [-server URL] [-account ID] [-buyer ID -item ID]

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/2389/marketdesk/internal/auth"
	"github.com/2389/marketdesk/internal/config"
	"github.com/2389/marketdesk/internal/logging"
	"github.com/2389/marketdesk/internal/workbench"
)

var version = "dev"

// getConfigPath returns the workbench config file path.
// Priority: MARKETDESK_CONFIG env var > XDG_CONFIG_HOME/marketdesk/config.yaml > ~/.config/marketdesk/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MARKETDESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "marketdesk.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "marketdesk", "config.yaml")
}

func main() {
	configPath := flag.String("config", "", "config file (.yaml or .toml)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	server := flag.String("server", "http://localhost:8080", "backend URL when no config file exists")
	account := flag.String("account", "", "account (cookie_id) to open")
	buyer := flag.String("buyer", "", "deep link buyer id")
	item := flag.String("item", "", "deep link item id")
	logLevel := flag.String("log-level", "", "override logging.level")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: loading %s: %v\n", *envFile, err)
	}

	path := *configPath
	if path == "" {
		path = getConfigPath()
	}
	cfg, err := loadConfig(path, *server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *account != "" {
		cfg.Workbench.AccountID = *account
	}
	if *buyer != "" {
		cfg.Workbench.DeepLinkBuyerID = *buyer
		cfg.Workbench.DeepLinkItemID = *item
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

// loadConfig reads path, or builds a default config for server when the file
// does not exist.
func loadConfig(path, server string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg, err = config.Parse(fmt.Appendf(nil, "backend:\n  base_url: %q\nauth:\n  token: \"${%s}\"\n", server, auth.TokenEnvVar), false)
	if err != nil {
		return nil, fmt.Errorf("building default config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	token, err := auth.LoadToken(auth.Source{Token: cfg.Auth.Token, TokenFile: cfg.Auth.TokenFile})
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	con := newConsole(os.Stdout)
	con.banner(cfg, token)

	wb, err := workbench.New(cfg, workbench.Deps{
		Token:    token,
		Logger:   logger,
		Notifier: con.notice,
		OnEvent:  con.event,
	})
	if err != nil {
		return err
	}
	defer wb.Close()
	con.wb = wb

	startCtx, cancel := context.WithTimeout(ctx, cfg.Backend.RequestTimeout*2)
	err = wb.Start(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("starting workbench: %w", err)
	}

	con.printStatus()
	con.printSessions()
	if _, ok := wb.Active(); ok {
		con.printTimeline()
	}
	return con.loop(ctx, os.Stdin)
}

// banner prints connection and credential details.
func (c *console) banner(cfg *config.Config, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cyan.Fprintf(c.out, "marketdesk %s\n", version)
	c.green.Fprint(c.out, "    ▶ ")
	fmt.Fprintf(c.out, "Backend: %s\n", cfg.Backend.BaseURL)
	c.green.Fprint(c.out, "    ▶ ")
	fmt.Fprintf(c.out, "Feed:    %s/ws/chat\n", cfg.FeedURL())

	c.green.Fprint(c.out, "    ▶ ")
	switch claims, err := auth.InspectToken(token); {
	case token == "":
		fmt.Fprintf(c.out, "Auth:    none (set %s for authentication)\n", auth.TokenEnvVar)
	case err != nil:
		fmt.Fprintln(c.out, "Auth:    opaque token configured")
	case claims.ExpiresAt.IsZero():
		fmt.Fprintf(c.out, "Auth:    %s\n", claims.Subject)
	case claims.Expired(time.Now()):
		c.yellow.Fprintf(c.out, "Auth:    %s (expired %s)\n", claims.Subject, humanize.Time(claims.ExpiresAt))
	default:
		fmt.Fprintf(c.out, "Auth:    %s (expires %s)\n", claims.Subject, humanize.Time(claims.ExpiresAt))
	}
	fmt.Fprintln(c.out, "Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Fprintln(c.out)
}
