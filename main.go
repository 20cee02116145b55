// Package main provides the main entry point for the SMS dispatcher service
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/sms-dispatcher/app/handlers"
	"github.com/amirphl/sms-dispatcher/app/middleware"
	"github.com/amirphl/sms-dispatcher/app/router"
	"github.com/amirphl/sms-dispatcher/app/scheduler"
	"github.com/amirphl/sms-dispatcher/app/services"
	businessflow "github.com/amirphl/sms-dispatcher/business_flow"
	"github.com/amirphl/sms-dispatcher/config"
	_ "github.com/amirphl/sms-dispatcher/docs"
	"github.com/amirphl/sms-dispatcher/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const leaderLockKey = "dispatch:leader"

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting SMS dispatcher...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	// Engine first so in-flight ticks finish and the leader lock is released
	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	if cfg.AutoMigrate {
		if err := repository.AutoMigrate(db); err != nil {
			return nil, err
		}
		log.Println("Database schema migrated")
	}

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis to surface connectivity issues.
// The returned function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeLeaderLock returns nil when redis is not configured so a single instance always admits
func initializeLeaderLock(rc *redis.Client, cfg *config.ProductionConfig) (scheduler.LeaderLock, error) {
	if rc == nil {
		log.Println("Redis disabled: dispatch admission runs without a leader lock")
		return nil, nil
	}
	lock, err := scheduler.NewRedisLeaderLock(rc, cfg.Cache.RedisPrefix+leaderLockKey, uuid.NewString(), cfg.Dispatch.LeaderLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize leader lock: %w", err)
	}
	log.Printf("Dispatch leader lock owner: %s", lock.Owner())
	return lock, nil
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), rc, cfg.Cache.HealthCheckInterval))
	}

	// Repositories
	recordRepo := repository.NewDispatchRecordRepository(db)
	messageRepo := repository.NewIncomingMessageRepository(db)
	adminRepo := repository.NewAdminRepository(db)

	// Dispatch engine
	schedulerLogger, logCloser, err := scheduler.NewSchedulerLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scheduler logger: %w", err)
	}

	lock, err := initializeLeaderLock(rc, cfg)
	if err != nil {
		return nil, err
	}

	engine, err := scheduler.NewDispatchEngine(
		recordRepo,
		scheduler.NewHTTPGatewayClient(cfg.Gateway),
		lock,
		schedulerLogger,
		scheduler.NewEngineConfig(cfg.Dispatch, cfg.Gateway),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dispatch engine: %w", err)
	}

	if cfg.Dispatch.Enabled {
		stopFuncs = append(stopFuncs, engine.Start(context.Background()))
	} else {
		log.Println("Dispatch engine disabled; admin API only")
	}
	stopFuncs = append(stopFuncs, func() {
		if err := logCloser.Close(); err != nil {
			log.Printf("Failed to close scheduler log: %v", err)
		}
	})

	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.SecretKey,
		rc,
		cfg.Cache.RedisPrefix,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	// Flows
	adminAuthFlow := businessflow.NewAdminAuthFlow(adminRepo, tokenService, cfg.Security.BcryptCost)
	dispatchAdminFlow := businessflow.NewDispatchAdminFlow(engine, recordRepo, messageRepo, repository.NewTxRunner(db), cfg.Dispatch.DefaultCountryCode)

	if cfg.Admin.BootstrapUsername != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		created, err := adminAuthFlow.EnsureBootstrapAdmin(ctx, cfg.Admin.BootstrapUsername, cfg.Admin.BootstrapPassword)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to bootstrap admin: %w", err)
		}
		if created {
			log.Printf("Bootstrap admin %q created", cfg.Admin.BootstrapUsername)
		}
	}

	// Handlers
	authAdminHandler := handlers.NewAuthAdminHandler(adminAuthFlow)
	dispatchAdminHandler := handlers.NewDispatchAdminHandler(dispatchAdminFlow, cfg.Deployment)

	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	appRouter := router.NewFiberRouter(cfg, authMiddleware, authAdminHandler, dispatchAdminHandler)

	return &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		stopFuncs: stopFuncs,
	}, nil
}
