// ABOUTME: Admin CLI for identity-vault credential and key pool management
// ABOUTME: Enrolls credentials, inspects key pools, and runs reconciliation

package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/identity-vault/internal/config"
	"github.com/2389/identity-vault/internal/credential"
	"github.com/2389/identity-vault/internal/curve"
	"github.com/2389/identity-vault/internal/keyservice"
	"github.com/2389/identity-vault/internal/pool"
	"github.com/2389/identity-vault/internal/securearea"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  _ _                   _           _
 __   ____ _ _   _| | |_       __ _  __| |_ __ ___ (_)_ __
 \ \ / / _' | | | | | __|____ / _' |/ _' | '_ ' _ \| | '_ \
  \ V / (_| | |_| | | ||_____| (_| | (_| | | | | | | | | | |
   \_/ \__,_|\__,_|_|\__|     \__,_|\__,_|_| |_| |_|_|_| |_|
`

// getConfigPath returns the path to the vault config file.
// Priority: VAULT_CONFIG env var > XDG_CONFIG_HOME/identity-vault/vault.yaml > ~/.config/identity-vault/vault.yaml
func getConfigPath() string {
	if envPath := os.Getenv("VAULT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "vault.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "identity-vault", "vault.yaml")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = cmdServe(ctx)
	case "enroll":
		err = cmdEnroll(ctx, args)
	case "credentials":
		err = cmdCredentials(ctx)
	case "keys":
		err = cmdKeys(ctx, args)
	case "reconcile":
		err = cmdReconcile(ctx, args)
	case "status":
		err = cmdStatus(ctx)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: vault-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  serve                     Run the pool scheduler daemon")
	fmt.Println("  enroll [id]               Enroll a new credential (random ID if omitted)")
	fmt.Println("  credentials               List enrolled credential IDs")
	fmt.Println("  keys <credential-id>      List certified and pending keys for a credential")
	fmt.Println("  reconcile <credential-id> [--dry-run]")
	fmt.Println("                            Replenish the credential's key pools now")
	fmt.Println("  status                    Show pool health for every credential")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  VAULT_CONFIG              Config file path (default: ~/.config/identity-vault/vault.yaml)")
	fmt.Println()
}

// loadAll opens the store and secure area configured in the vault config.
func loadAll() (*config.Config, credential.Store, securearea.SecureArea, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(setupLogger(cfg.Logging))

	store, err := credential.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening store: %w", err)
	}

	area, err := openArea(cfg)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	return cfg, store, area, nil
}

// openArea builds the secure area backend selected by the config.
func openArea(cfg *config.Config) (securearea.SecureArea, error) {
	switch cfg.SecureArea.Backend {
	case "remote":
		remote := cfg.SecureArea.Remote
		return keyservice.NewClient(remote.BaseURL, remote.ClientID, []byte(remote.TokenSecret)), nil
	default: // software
		var master []byte
		if cfg.SecureArea.Master != "" {
			decoded, err := base64.StdEncoding.DecodeString(cfg.SecureArea.Master)
			if err != nil {
				return nil, fmt.Errorf("decoding secure_area.master_secret: %w", err)
			}
			master = decoded
		}
		area, err := securearea.NewSoftwareSecureArea(master)
		if err != nil {
			return nil, fmt.Errorf("creating secure area: %w", err)
		}
		return area, nil
	}
}

// settingsFor converts a domain policy into key creation settings.
func settingsFor(policy config.DomainPolicy) (*securearea.CreateKeySettings, error) {
	cv, err := curve.FromCOSE(policy.Curve)
	if err != nil {
		return nil, err
	}
	return &securearea.CreateKeySettings{Curve: cv}, nil
}

func cmdServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, store, area, err := loadAll()
	if err != nil {
		return err
	}
	defer store.Close()

	interval := cfg.Pool.Interval
	if interval == 0 {
		interval = time.Minute
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Database:    %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Secure area: %s\n", area.Identifier())
	green.Print("    ▶ ")
	fmt.Printf("Interval:    %s\n", interval)
	fmt.Println()

	ids, err := store.ListCredentialIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing credentials: %w", err)
	}

	sched := pool.NewScheduler(store, area, interval)
	for _, id := range ids {
		for domain, policy := range cfg.Pool.Domains {
			settings, err := settingsFor(policy)
			if err != nil {
				return fmt.Errorf("domain %q: %w", domain, err)
			}
			sched.Add(pool.Target{
				CredentialID: id,
				Domain:       domain,
				Settings:     settings,
				Policy: pool.Policy{
					TargetPoolSize: policy.TargetPoolSize,
					MaxUsesPerKey:  policy.MaxUsesPerKey,
					MinValidWindow: policy.MinValidWindow,
				},
			})
		}
	}

	slog.Info("starting pool scheduler",
		"credentials", len(ids),
		"domains", len(cfg.Pool.Domains),
		"interval", interval,
	)

	sched.Run(ctx)
	return nil
}

func cmdEnroll(ctx context.Context, args []string) error {
	_, store, area, err := loadAll()
	if err != nil {
		return err
	}
	defer store.Close()

	id := uuid.NewString()
	if len(args) > 0 {
		id = args[0]
	}

	if _, err := store.GetCredential(ctx, id); err == nil {
		return fmt.Errorf("credential %q already exists", id)
	}

	cred := credential.New(id, area.Identifier(), nil)
	if err := store.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Enrolled credential %s (secure area: %s)\n", id, area.Identifier())
	return nil
}

func cmdCredentials(ctx context.Context) error {
	_, store, _, err := loadAll()
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.ListCredentialIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing credentials: %w", err)
	}

	if len(ids) == 0 {
		fmt.Println("No credentials enrolled.")
		return nil
	}

	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func cmdKeys(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: vault-admin keys <credential-id>")
	}

	cfg, store, _, err := loadAll()
	if err != nil {
		return err
	}
	defer store.Close()

	cred, err := store.GetCredential(ctx, args[0])
	if err != nil {
		return fmt.Errorf("loading credential: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  DOMAIN\tKEY\tSTATE\tUSES\tVALID UNTIL\tREPLACEMENT")
	fmt.Fprintln(w, "  ------\t---\t-----\t----\t-----------\t-----------")

	for domain := range cfg.Pool.Domains {
		for _, key := range cred.AuthenticationKeys(domain) {
			replacement := "-"
			if key.HasReplacement() {
				replacement = truncate(key.ReplacementID, 12)
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%s\t%s\n",
				domain, truncate(key.ID, 12), "certified", key.UsageCount,
				key.ValidUntil.Format("Jan 02 15:04"), replacement)
		}
		for _, key := range cred.PendingAuthenticationKeys(domain) {
			state := "pending"
			if key.ReplacementForID != "" {
				state = "pending (replaces " + truncate(key.ReplacementForID, 12) + ")"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t-\t-\t-\n", domain, truncate(key.ID, 12), state)
		}
	}

	return w.Flush()
}

func cmdReconcile(ctx context.Context, args []string) error {
	var id string
	dryRun := false
	for _, arg := range args {
		if arg == "--dry-run" {
			dryRun = true
			continue
		}
		id = arg
	}
	if id == "" {
		return fmt.Errorf("usage: vault-admin reconcile <credential-id> [--dry-run]")
	}

	cfg, store, area, err := loadAll()
	if err != nil {
		return err
	}
	defer store.Close()

	cred, err := store.GetCredential(ctx, id)
	if err != nil {
		return fmt.Errorf("loading credential: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	total := 0
	for domain, policy := range cfg.Pool.Domains {
		settings, err := settingsFor(policy)
		if err != nil {
			return fmt.Errorf("domain %q: %w", domain, err)
		}

		created, err := pool.Reconcile(ctx, cred, area, settings, pool.Options{
			Domain:         domain,
			Now:            time.Now(),
			TargetPoolSize: policy.TargetPoolSize,
			MaxUsesPerKey:  policy.MaxUsesPerKey,
			MinValidWindow: policy.MinValidWindow,
			DryRun:         dryRun,
		})
		total += created
		if err != nil {
			// Keys created before the failure are kept; persist them.
			if !dryRun && total > 0 {
				if saveErr := store.SaveCredential(ctx, cred); saveErr != nil {
					return fmt.Errorf("saving partial progress: %w", saveErr)
				}
			}
			return fmt.Errorf("reconciling domain %q: %w", domain, err)
		}

		if dryRun {
			yellow.Print("~ ")
			fmt.Printf("%s: would create %d key(s)\n", domain, created)
		} else {
			green.Print("✓ ")
			fmt.Printf("%s: created %d key(s)\n", domain, created)
		}
	}

	if !dryRun && total > 0 {
		if err := store.SaveCredential(ctx, cred); err != nil {
			return fmt.Errorf("saving credential: %w", err)
		}
	}

	return nil
}

func cmdStatus(ctx context.Context) error {
	cfg, store, _, err := loadAll()
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.ListCredentialIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing credentials: %w", err)
	}

	if len(ids) == 0 {
		fmt.Println("No credentials enrolled.")
		return nil
	}

	now := time.Now()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  CREDENTIAL\tDOMAIN\tCERTIFIED\tPENDING\tNEEDED")
	fmt.Fprintln(w, "  ----------\t------\t---------\t-------\t------")

	for _, id := range ids {
		cred, err := store.GetCredential(ctx, id)
		if err != nil {
			return fmt.Errorf("loading credential %q: %w", id, err)
		}

		for domain, policy := range cfg.Pool.Domains {
			needed, err := pool.Reconcile(ctx, cred, nil, nil, pool.Options{
				Domain:         domain,
				Now:            now,
				TargetPoolSize: policy.TargetPoolSize,
				MaxUsesPerKey:  policy.MaxUsesPerKey,
				MinValidWindow: policy.MinValidWindow,
				DryRun:         true,
			})
			if err != nil {
				return fmt.Errorf("planning domain %q: %w", domain, err)
			}

			fmt.Fprintf(w, "  %s\t%s\t%d\t%d\t%d\n",
				truncate(id, 16), domain,
				len(cred.AuthenticationKeys(domain)),
				len(cred.PendingAuthenticationKeys(domain)),
				needed)
		}
	}

	return w.Flush()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
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

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
