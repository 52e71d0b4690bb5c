package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/entanglekey/server/internal/auth"
	"github.com/entanglekey/server/internal/config"
	"github.com/entanglekey/server/internal/db"
	"github.com/entanglekey/server/internal/entropy"
	httphandler "github.com/entanglekey/server/internal/http"
	"github.com/entanglekey/server/internal/http/handlers"
	"github.com/entanglekey/server/internal/kem"
	"github.com/entanglekey/server/internal/pairing"
	"github.com/entanglekey/server/internal/pool"
	"github.com/entanglekey/server/internal/repo"

	_ "github.com/lib/pq"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// KEM backend selection is startup-fatal: with strict_pq there is no
	// runtime fallback to a weaker backend.
	provider, err := kem.NewProvider(cfg.KEMBackend, cfg.StrictPQ)
	if err != nil {
		logger.Fatal("KEM provider initialization failed", zap.Error(err))
	}
	logger.Info("KEM provider ready", zap.String("backend", provider.Name()))

	monitor := entropy.NewMonitor(cfg.Thresholds)
	secrets := pool.NewSecretCache(cfg.SecretCacheSize, cfg.SecretCacheTTL)

	ctx := context.Background()

	var stores pairing.Stores
	if cfg.DevMode {
		logger.Warn("DEV_MODE enabled; using in-memory stores")
		stores = pairing.Stores{
			Devices:   repo.NewMemoryDeviceRepo(),
			Sessions:  repo.NewMemorySessionRepo(),
			Pairs:     repo.NewMemoryPairRepo(),
			Pools:     repo.NewMemoryPoolRepo(),
			Events:    repo.NewMemoryEventRepo(),
			Entropy:   repo.NewMemoryEntropyRepo(),
			Anomalies: repo.NewMemoryAnomalyRepo(),
		}
	} else {
		database, err := db.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer database.Close()

		if err := runMigrations(database, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}

		stores = pairing.Stores{
			Devices:   repo.NewDeviceRepo(database),
			Sessions:  repo.NewSessionRepo(database),
			Pairs:     repo.NewPairRepo(database),
			Pools:     repo.NewPoolRepo(database),
			Events:    repo.NewEventRepo(database),
			Entropy:   repo.NewEntropyRepo(database),
			Anomalies: repo.NewAnomalyRepo(database),
		}
	}

	orchCfg := pairing.DefaultConfig()
	orchCfg.MaxPairsPerUser = cfg.MaxPairsPerUser
	orchCfg.SessionTTL = cfg.SessionTTL
	orchCfg.CodeSalt = cfg.PairCodeSalt

	orch := pairing.NewOrchestrator(orchCfg, provider, monitor, secrets, stores, logger)

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	pairingHandler := handlers.NewPairingHandler(orch, logger)
	router := httphandler.NewRouter(pairingHandler, jwtService)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB, logger *zap.Logger) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from repo root)")
	}

	absDir, _ := filepath.Abs(migrationDir)
	logger.Info("running migrations", zap.String("dir", absDir))

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
