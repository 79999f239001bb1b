package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/medconsole/clinic/internal/config"
	"github.com/medconsole/clinic/internal/domain/patientdata"
	"github.com/medconsole/clinic/internal/platform/auth"
	"github.com/medconsole/clinic/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic patient data API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests without a token act as an admin dev user")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	e, err := a.newServer()
	if err != nil {
		return err
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Str("store", cfg.StoreBackend).
			Str("audit_sink", cfg.AuditSink).
			Bool("audit_strict", cfg.AuditStrict).
			Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	withMigrator := func(fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, db.Migrations()))
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.UpTo(ctx, target)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies everything)")
	cmd.AddCommand(upCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatuses(cmd, statuses)
				return nil
			})
		},
	})

	return cmd
}

func printStatuses(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write generated demo patients to the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			location, _ := cmd.Flags().GetString("location")
			seed, _ := cmd.Flags().GetInt64("seed")
			if count < 1 {
				return fmt.Errorf("--count must be positive")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.seed(ctx, count, location, seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d patient(s).\n", n)
			return nil
		},
	}
	cmd.Flags().Int("count", 10, "Number of patients to create")
	cmd.Flags().String("location", "main", "Location id for the patients")
	cmd.Flags().Int64("seed", time.Now().UnixNano(), "Random seed")
	return cmd
}

// seed writes count generated patients through PatientService. On Postgres
// all writes share one transaction.
func (a *app) seed(ctx context.Context, count int, location string, seed int64) (int, error) {
	svc := a.patientService()
	mocks := patientdata.MockPatients(count, rand.New(rand.NewSource(seed)), location, time.Now())

	write := func(ctx context.Context) error {
		for _, p := range mocks {
			if _, err := svc.Create(ctx, p.Input(), "seed"); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if a.pool != nil && a.cfg.StoreBackend == config.BackendPostgres {
		err = db.InTx(ctx, a.pool, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	return len(mocks), nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for a staff user",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			roles, _ := cmd.Flags().GetString("roles")
			location, _ := cmd.Flags().GetString("location")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if user == "" {
				return fmt.Errorf("--user is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(auth.JWTConfig{
				Issuer:     cfg.AuthIssuer,
				Audience:   cfg.AuthAudience,
				SigningKey: []byte(cfg.AuthSigningKey),
			}, user, strings.Split(roles, ","), location, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "User id (token subject)")
	cmd.Flags().String("roles", auth.RoleDoctor, "Comma-separated roles")
	cmd.Flags().String("location", "", "Clinic location id")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
