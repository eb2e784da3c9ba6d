package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/claimexport/internal/config"
	"github.com/ehr/claimexport/internal/domain/claimexport"
	"github.com/ehr/claimexport/internal/platform/archive"
	"github.com/ehr/claimexport/internal/platform/auth"
	"github.com/ehr/claimexport/internal/platform/db"
	"github.com/ehr/claimexport/internal/platform/logging"
	"github.com/ehr/claimexport/internal/platform/middleware"
	"github.com/ehr/claimexport/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "claimexport-server",
		Short: "837P claim batch export API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the claim export API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.ResolvedLogFormat(), nil)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(cfg.ResolvedLogFormat(), nil)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests without a token are treated as admin")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	settings := ediSettings(cfg)
	if err := settings.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid edi settings")
	}

	svc := claimexport.NewService(
		claimexport.NewEncounterRepoPG(pool),
		controlAllocator(cfg, pool, logger),
		claimexport.Options{
			Settings:      settings,
			ClaimTTL:      cfg.ExportClaimTTL,
			MarkRetries:   cfg.ExportMarkRetries,
			ArchivePrefix: cfg.ArchivePrefix,
		},
		logger,
	)
	if cfg.ArchiveBucket != "" {
		store, err := archive.NewS3Store(archive.S3Config{
			Bucket:   cfg.ArchiveBucket,
			Region:   cfg.ArchiveRegion,
			Endpoint: cfg.ArchiveEndpoint,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure batch archive")
		}
		svc.SetArchive(store)
		logger.Info().Str("bucket", cfg.ArchiveBucket).Msg("batch archive enabled")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	claimexport.NewHandler(svc).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func ediSettings(cfg *config.Config) claimexport.Settings {
	return claimexport.Settings{
		SenderID:         cfg.EDISenderID,
		ReceiverID:       cfg.EDIReceiverID,
		SubmitterName:    cfg.EDISubmitterName,
		SubmitterContact: cfg.EDISubmitterContact,
		SubmitterPhone:   cfg.EDISubmitterPhone,
		ReceiverName:     cfg.EDIReceiverName,
		BillingName:      cfg.EDIBillingName,
		BillingNPI:       cfg.EDIBillingNPI,
		BillingTaxID:     cfg.EDIBillingTaxID,
		BillingAddress: claimexport.Address{
			Line:  cfg.EDIBillingAddress,
			City:  cfg.EDIBillingCity,
			State: cfg.EDIBillingState,
			Zip:   cfg.EDIBillingZip,
		},
		PayerID:        cfg.EDIPayerID,
		UsageIndicator: cfg.EDIUsageIndicator,
		LineBreaks:     cfg.EDILineBreaks,
	}
}

func controlAllocator(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) claimexport.ControlNumberAllocator {
	if cfg.EDIControlNumbers == config.ControlNumbersRandom {
		logger.Warn().Msg("random control numbers: uniqueness across runs is not guaranteed")
		return claimexport.NewRandomAllocator(nil)
	}
	return claimexport.NewSequenceAllocator(pool)
}
