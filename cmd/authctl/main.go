package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/config"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/database"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/logger"
	postgresrepo "github.com/danielp1234/saas-metrics-sub000/internal/repository/postgres"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Operator utility for the auth service database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newRolesCommand())
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
				if err := database.Migrate(ctx, pool, log); err != nil {
					return err
				}
				version, err := database.MigrationVersion(ctx, pool)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
				return nil
			})
		},
	}
}

func newRolesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage explicit role grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newRolesGrantCommand())
	cmd.AddCommand(newRolesRevokeCommand())
	cmd.AddCommand(newRolesShowCommand())
	return cmd
}

func newRolesGrantCommand() *cobra.Command {
	var (
		email     string
		roleName  string
		grantedBy string
	)

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role to an email address",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, ok := domain.ParseRole(roleName)
			if !ok {
				return fmt.Errorf("unknown role %q (expected PUBLIC, ADMIN or SUPER_ADMIN)", roleName)
			}
			return withPool(cmd, func(ctx context.Context, pool *pgxpool.Pool, _ *zap.Logger) error {
				if err := postgresrepo.NewRoleDirectory(pool).Grant(ctx, email, role, grantedBy); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s\n", role, email)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address receiving the role")
	cmd.Flags().StringVar(&roleName, "role", "", "Role to grant (PUBLIC, ADMIN, SUPER_ADMIN)")
	cmd.Flags().StringVar(&grantedBy, "granted-by", "authctl", "Operator recorded on the grant")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newRolesRevokeCommand() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the active grant for an email address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, pool *pgxpool.Pool, _ *zap.Logger) error {
				revoked, err := postgresrepo.NewRoleDirectory(pool).Revoke(ctx, email)
				if err != nil {
					return err
				}
				if !revoked {
					fmt.Fprintf(cmd.OutOrStdout(), "no active grant for %s\n", email)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked grant for %s\n", email)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address to revoke")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newRolesShowCommand() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active grant for an email address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, pool *pgxpool.Pool, _ *zap.Logger) error {
				role, found, err := postgresrepo.NewRoleDirectory(pool).LookupRole(ctx, email)
				if err != nil {
					return err
				}
				printGrant(cmd.OutOrStdout(), email, role, found)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address to look up")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func printGrant(w io.Writer, email string, role domain.Role, found bool) {
	if !found {
		fmt.Fprintf(w, "%s has no explicit grant\n", email)
		return
	}
	fmt.Fprintf(w, "%s\t%s\n", email, role)
}

func withPool(cmd *cobra.Command, fn func(context.Context, *pgxpool.Pool, *zap.Logger) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, pool, log)
}
