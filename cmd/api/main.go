package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/danielp1234/saas-metrics-sub000/internal/infra/app"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/config"
)

const defaultEnvFile = ".env"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		envFile     string
		checkConfig bool
	)

	cmd := &cobra.Command{
		Use:           "api",
		Short:         "Serve the SaaS metrics authentication API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if checkConfig {
				printConfigSummary(cmd.OutOrStdout(), cfg)
				return nil
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			application, err := app.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}
			return application.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file loaded before IAM_ variables are read")
	cmd.Flags().BoolVar(&checkConfig, "check-config", false, "validate configuration, print a summary and exit")
	return cmd
}

// loadEnvFile tolerates a missing default file; an explicitly named one must exist.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if path == defaultEnvFile && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

func printConfigSummary(w io.Writer, cfg *config.AppConfig) {
	keyRing := "local to this instance"
	if cfg.Encryption.InitialKey != "" || cfg.Encryption.Passphrase != "" {
		keyRing = "shared via redis prefix " + cfg.Redis.KeyRingPrefix
	}
	trusted := "none, peer address is the client ip"
	if len(cfg.App.TrustedProxies) > 0 {
		trusted = fmt.Sprint(cfg.App.TrustedProxies)
	}

	fmt.Fprintf(w, "environment:      %s\n", cfg.App.Env)
	fmt.Fprintf(w, "listen:           %s:%d\n", cfg.App.Host, cfg.App.Port)
	fmt.Fprintf(w, "access token ttl: %s\n", cfg.JWT.AccessTokenTTL)
	fmt.Fprintf(w, "refresh ttl:      %s\n", cfg.JWT.RefreshTokenTTL)
	fmt.Fprintf(w, "max sessions:     %d\n", cfg.Session.MaxConcurrent)
	fmt.Fprintf(w, "encryption:       %s, rotate every %s, retain %s\n", cfg.Encryption.Algorithm, cfg.Encryption.RotationInterval, cfg.Encryption.Retention)
	fmt.Fprintf(w, "key ring:         %s\n", keyRing)
	fmt.Fprintf(w, "trusted proxies:  %s\n", trusted)
}
