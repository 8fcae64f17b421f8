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
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/anamnesis/anamnesis/internal/config"
	"github.com/anamnesis/anamnesis/internal/domain/questionnaire"
	"github.com/anamnesis/anamnesis/internal/domain/session"
	"github.com/anamnesis/anamnesis/internal/domain/template"
	"github.com/anamnesis/anamnesis/internal/platform/auth"
	"github.com/anamnesis/anamnesis/internal/platform/db"
	"github.com/anamnesis/anamnesis/internal/platform/idempotency"
	"github.com/anamnesis/anamnesis/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "anamnesis-server",
		Short: "Adaptive questionnaire API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the questionnaire API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withPool loads config and opens a pool for one-shot commands.
func withPool(fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")
			all, _ := cmd.Flags().GetBool("all-tenants")

			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				schemas := []string{schema}
				if all {
					tenants, err := db.ListTenants(ctx, pool)
					if err != nil {
						return err
					}
					schemas = schemas[:0]
					for _, t := range tenants {
						schemas = append(schemas, db.SchemaName(t))
					}
				}

				migrator := db.NewMigrator(pool, dir)
				for _, s := range schemas {
					fmt.Printf("Running migrations on schema: %s\n", s)
					count, err := migrator.Up(ctx, s)
					if err != nil {
						return fmt.Errorf("migration failed on %s: %w", s, err)
					}
					fmt.Printf("Applied %d migration(s) successfully.\n", count)
				}
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	upCmd.Flags().Bool("all-tenants", false, "Migrate every tenant schema")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("Migration status for schema: %s\n", schema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.Modified {
							status = "modified"
						}
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a backup or write a forward migration instead.")
			return nil
		},
	})

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
				if err := db.CreateTenantSchema(ctx, pool, name, dir); err != nil {
					return err
				}
				fmt.Println("Tenant created successfully.")
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List provisioned tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				tenants, err := db.ListTenants(ctx, pool)
				if err != nil {
					return err
				}
				for _, t := range tenants {
					fmt.Println(t)
				}
				return nil
			})
		},
	})

	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// newIdempotencyStore selects the record backend. The returned stop func
// releases background work owned by the store.
func newIdempotencyStore(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client) (idempotency.Store, func(), error) {
	switch cfg.IdempotencyBackend {
	case config.IdempotencyRedis:
		if rdb == nil {
			return nil, nil, fmt.Errorf("idempotency backend redis requires REDIS_URL")
		}
		return idempotency.NewRedisStore(rdb), func() {}, nil
	case config.IdempotencyMemory:
		store := idempotency.NewMemoryStore(time.Minute)
		return store, store.Stop, nil
	case config.IdempotencyPostgres, "":
		return idempotency.NewPGStore(pool), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown idempotency backend %q", cfg.IdempotencyBackend)
}

// sweepIdempotency deletes expired records from every tenant schema until ctx
// is cancelled. Only the postgres backend needs it; redis and memory expire
// records themselves.
func sweepIdempotency(ctx context.Context, pool *pgxpool.Pool, store *idempotency.PGStore, every time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tenants, err := db.ListTenants(ctx, pool)
		if err != nil {
			logger.Warn().Err(err).Msg("idempotency sweep: list tenants")
			continue
		}
		for _, tenantID := range tenants {
			tctx, release, err := db.BindTenant(ctx, pool, tenantID)
			if err != nil {
				logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("idempotency sweep: bind tenant")
				continue
			}
			n, err := store.DeleteExpired(tctx)
			release()
			if err != nil {
				logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("idempotency sweep failed")
				continue
			}
			if n > 0 {
				logger.Info().Int64("deleted", n).Str("tenant_id", tenantID).Msg("expired idempotency records removed")
			}
		}
	}
}

type serverDeps struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	rdb    *redis.Client
	store  idempotency.Store
	logger zerolog.Logger
}

// newServer builds the echo instance with every route registered.
func newServer(d serverDeps) *echo.Echo {
	cfg := d.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID",
			idempotency.HeaderKey, idempotency.HeaderKeyLegacy},
		ExposeHeaders: []string{middleware.RequestIDHeader, idempotency.HeaderReplayed},
	}))
	e.Use(middleware.Audit(d.logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if d.pool != nil {
		e.GET("/health/db", db.HealthHandler(d.pool))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	var authMW echo.MiddlewareFunc
	if cfg.ResolvedAuthMode() == "development" {
		authMW = auth.DevAuthMiddleware(cfg.DefaultTenant)
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	apiV1 := e.Group("/api/v1",
		middleware.RateLimit(rateLimitCfg),
		authMW,
		db.TenantMiddleware(d.pool, cfg.DefaultTenant),
	)

	// Templates
	var templateRepo template.Repository = template.NewRepoPG(d.pool)
	if d.rdb != nil {
		templateRepo = template.NewCachedRepository(templateRepo, d.rdb, template.DefaultCacheTTL, d.logger)
	}
	templateSvc := template.NewService(templateRepo, d.logger)
	template.NewHandler(templateSvc).RegisterRoutes(apiV1)

	// Stateless evaluation
	questionnaire.NewHandler().RegisterRoutes(apiV1)

	// Sessions
	var guard *idempotency.Guard
	if d.store != nil {
		guard = idempotency.NewGuard(d.store, cfg.IdempotencyTTL, d.logger)
	}
	sessionSvc := session.NewService(session.NewRepoPG(d.pool), templateSvc, cfg.PublicFillURL, d.logger)
	sessionHandler := session.NewHandler(sessionSvc, guard)
	sessionHandler.RegisterRoutes(apiV1)

	// Public fill links resolve their own tenant.
	public := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))
	session.NewPublicHandler(sessionHandler, d.pool).RegisterRoutes(public)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		logger.Info().Msg("connected to redis")
	}

	store, stopStore, err := newIdempotencyStore(cfg, pool, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure idempotency store")
	}
	defer stopStore()
	if pg, ok := store.(*idempotency.PGStore); ok {
		go sweepIdempotency(ctx, pool, pg, time.Hour, logger)
	}
	logger.Info().Str("backend", cfg.IdempotencyBackend).Dur("ttl", cfg.IdempotencyTTL).Msg("idempotency store ready")

	e := newServer(serverDeps{cfg: cfg, pool: pool, rdb: rdb, store: store, logger: logger})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
