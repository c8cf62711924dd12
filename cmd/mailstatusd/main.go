package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	mailstatus "github.com/goliatone/go-mailstatus"
	"github.com/goliatone/go-mailstatus/core"
	mailmigrations "github.com/goliatone/go-mailstatus/migrations"
	"github.com/goliatone/go-mailstatus/retention"
	sqlstore "github.com/goliatone/go-mailstatus/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun/dialect/pgdialect"
)

const shutdownTimeout = 15 * time.Second

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-mailstatus" }

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	logger := glog.Ensure(nil)

	cfg := configFromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	dsn := strings.TrimSpace(os.Getenv("MAILSTATUS_DATABASE_URL"))
	if dsn == "" {
		return fmt.Errorf("mailstatusd: MAILSTATUS_DATABASE_URL is required")
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("mailstatusd: open database: %w", err)
	}

	client, err := persistence.New(persistenceConfig{
		driver: "postgres",
		server: dsn,
		debug:  envBool("MAILSTATUS_DB_DEBUG"),
	}, sqlDB, pgdialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("mailstatusd: persistence client: %w", err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := mailmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != mailmigrations.DialectPostgres {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, mailmigrations.WithValidationTargets(mailmigrations.DialectPostgres)); err != nil {
		return fmt.Errorf("mailstatusd: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("mailstatusd: migrate: %w", err)
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = envDuration("MAILSTATUS_CERT_CACHE_TTL", time.Hour)
	certCache, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return fmt.Errorf("mailstatusd: certificate cache: %w", err)
	}

	service, err := mailstatus.Setup(ctx, cfg,
		mailstatus.WithLogger(logger),
		mailstatus.WithMessageStore(factory.MessageStore()),
		mailstatus.WithEventStore(factory.EventStore()),
		mailstatus.WithRecipientDirectory(factory.RecipientStore()),
		mailstatus.WithCertificateCache(certCache),
	)
	if err != nil {
		return err
	}

	go runRetentionLoop(ctx, service.Sweeper(), envDuration("MAILSTATUS_SWEEP_INTERVAL", 24*time.Hour), logger)

	addr := strings.TrimSpace(os.Getenv("MAILSTATUS_LISTEN_ADDR"))
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           service.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhook server listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	return nil
}

func runRetentionLoop(ctx context.Context, sweeper *retention.Sweeper, interval time.Duration, logger core.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweeper.RunSweep(ctx); err != nil {
				logger.Error("scheduled retention sweep failed", "error", err)
			}
		}
	}
}

func configFromEnv() core.Config {
	cfg := core.DefaultConfig()
	if topics := strings.TrimSpace(os.Getenv("MAILSTATUS_TOPIC_ARNS")); topics != "" {
		for _, topic := range strings.Split(topics, ",") {
			topic = strings.TrimSpace(topic)
			if topic != "" {
				cfg.Verification.Topics = append(cfg.Verification.Topics, topic)
			}
		}
	}
	if v := envInt("MAILSTATUS_FRESHNESS_WINDOW_MINUTES"); v > 0 {
		cfg.Verification.FreshnessWindowMinutes = v
	}
	if v := envInt("MAILSTATUS_CERT_FETCH_TIMEOUT_SECONDS"); v > 0 {
		cfg.Verification.CertFetchTimeoutSeconds = v
	}
	if v := envInt("MAILSTATUS_SOFT_BOUNCE_THRESHOLD"); v > 0 {
		cfg.Delivery.SoftBounceThreshold = v
	}
	if v := envInt("MAILSTATUS_RETENTION_ACTIVE_DAYS"); v > 0 {
		cfg.Retention.ActiveWindowDays = v
	}
	if v := envInt("MAILSTATUS_RETENTION_MAX_DAYS"); v > 0 {
		cfg.Retention.MaxWindowDays = v
	}
	return cfg
}

func envInt(key string) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}

func envBool(key string) bool {
	value, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
