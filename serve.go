package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crispy/allocator"
	"crispy/config"
	"crispy/database"
	"crispy/handlers"
	"crispy/models"
	"crispy/modlog"
	"crispy/utils"

	"github.com/redis/go-redis/v9"
)

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// openDB connects the store. With redis_url set the partition lock is shared through Redis
// so several server processes can allocate against one database.
func openDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.DatabaseService, func(), error) {
	opts := database.Options{
		Driver:    cfg.DBDriver,
		Path:      cfg.DBPath,
		BackupDir: cfg.BackupDir,
		LockWait:  cfg.AllocLockTimeout.Std(),
	}

	closeRedis := func() {}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis_url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("could not reach redis at %s: %w", redisOpts.Addr, err)
		}
		opts.Locker = allocator.NewRedisLocker(client, cfg.RedisLockTTL.Std(), logger)
		closeRedis = func() {
			if err := client.Close(); err != nil {
				logger.Error("Failed to close redis client", "error", err)
			}
		}
		logger.Info("Using Redis partition locks", "addr", redisOpts.Addr)
	}

	db, err := database.InitDB(opts, logger)
	if err != nil {
		closeRedis()
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
		closeRedis()
	}, nil
}

func newStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (models.StorageService, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s3 := cfg.Storage.S3
		store, err := utils.NewS3Storage(ctx, s3.Endpoint, s3.AccessKey, s3.SecretKey, s3.Bucket, s3.Region, s3.PublicURL, s3.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		logger.Info("S3 Storage initialized", "endpoint", s3.Endpoint, "bucket", s3.Bucket)
		return store, nil
	case "gcs":
		g := cfg.Storage.GCS
		store, err := utils.NewGCSStorage(ctx, g.Bucket, g.CredentialsFile, g.PublicURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GCS storage: %w", err)
		}
		logger.Info("GCS Storage initialized", "bucket", g.Bucket)
		return store, nil
	default:
		if err := utils.EnsureDir(cfg.UploadDir); err != nil {
			return nil, err
		}
		logger.Info("Local Storage initialized", "dir", cfg.UploadDir)
		return &utils.LocalStorage{Dir: cfg.UploadDir}, nil
	}
}

// buildApplication wires every dependency of the HTTP API. The returned func releases them
// in reverse order: the moderation log is drained before the database closes.
func buildApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, func(), error) {
	db, closeDB, err := openDB(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	store, err := newStorage(ctx, cfg, logger)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	sink, err := modlog.New(db, cfg.ModerationLog, config.ModLogQueueLength, logger)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	admin := utils.NewAdminGate(cfg.AdminKey, cfg.AdminKeyHash)
	if !admin.Enabled() {
		logger.Warn("No admin key configured, moderation routes are disabled")
	}

	app := &Application{
		db:             db,
		rateLimiter:    models.NewRateLimiter(cfg.RateEvery.Std(), cfg.RateBurst, cfg.RatePrune.Std(), cfg.RateExpire.Std()),
		logger:         logger,
		storage:        store,
		modLog:         sink,
		admin:          admin,
		uploadDir:      cfg.UploadDir,
		corsOrigins:    cfg.CORSOrigins,
		requestTimeout: cfg.RequestTimeout.Std(),
	}

	cleanup := func() {
		if err := sink.Close(); err != nil {
			logger.Error("Failed to close moderation log", "error", err)
		}
		if closer, ok := store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Error("Failed to close storage client", "error", err)
			}
		}
		closeDB()
	}
	return app, cleanup, nil
}

// runServer serves the API until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	app, cleanup, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.SetupRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("crispy server started successfully",
		"version", config.AppVersion,
		"address", "http://localhost:"+cfg.Port,
		"db_driver", cfg.DBDriver,
		"storage", cfg.Storage.Backend,
	)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exiting")
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
