package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iolipix/JuriNapse-sub001/internal/config"
	"github.com/iolipix/JuriNapse-sub001/internal/consumer"
	"github.com/iolipix/JuriNapse-sub001/internal/handler"
	"github.com/iolipix/JuriNapse-sub001/internal/notify"
	"github.com/iolipix/JuriNapse-sub001/internal/reconciler"
	"github.com/iolipix/JuriNapse-sub001/internal/service"
	"github.com/iolipix/JuriNapse-sub001/internal/store"
	"github.com/iolipix/JuriNapse-sub001/pkg/database"
	"github.com/iolipix/JuriNapse-sub001/pkg/jwt"
	pkglog "github.com/iolipix/JuriNapse-sub001/pkg/log"
	"github.com/iolipix/JuriNapse-sub001/pkg/middleware"
	"github.com/iolipix/JuriNapse-sub001/pkg/pubsub"
	"github.com/iolipix/JuriNapse-sub001/pkg/storage"
)

const serviceName = "social-graph-service"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// 2. Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty || cfg.Log.Level == "debug",
		ServiceName: serviceName,
	})
	logger := pkglog.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. User record store
	userStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open user store")
	}
	defer userStore.Close()
	logger.Info().Str("driver", cfg.Store.Driver).Msg("user store ready")

	// 4. Notification bus
	publisher, err := pubsub.NewPublisher(cfg.PubSub(), cfg.Notify.Channel)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.Notify.Driver).Msg("notification bus unavailable, follow notifications disabled")
		publisher = pubsub.NopPublisher{}
	}
	defer publisher.Close()
	notifier := notify.NewBusNotifier(publisher, cfg.Notify.Channel)

	// 5. Avatar URL signer
	avatars, err := storage.New(ctx, cfg.StorageBackend())
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to init avatar storage")
	}

	svc := service.NewSocialGraphService(userStore, notifier, avatars, service.Options{
		RepairBatchSize: cfg.Repair.BatchSize,
		AvatarURLTTL:    cfg.Storage.AvatarURLTTL,
		NotifyTimeout:   cfg.Notify.Timeout,
	})

	// 6. Local JWT validation
	tokens, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token validator")
	}
	authMiddleware := middleware.NewAuthMiddleware(tokens)

	// 7. Account lifecycle consumer
	var kafkaConsumer *consumer.ConfluentConsumer
	if cfg.Kafka.ConsumerEnabled && cfg.Kafka.Brokers != "" {
		kc, err := consumer.NewConfluentConsumer(
			cfg.Kafka.Brokers,
			cfg.Kafka.UserEventsTopic,
			cfg.Kafka.GroupID,
			svc,
		)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka consumer, lifecycle events disabled")
		} else if err := kc.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to start kafka consumer")
		} else {
			kafkaConsumer = kc
			logger.Info().Str("topic", cfg.Kafka.UserEventsTopic).Msg("user event consumer started")
		}
	} else {
		logger.Info().Msg("user event consumer disabled")
	}

	// 8. Scheduled repair
	var rec *reconciler.Reconciler
	if cfg.Repair.Enabled {
		rec = reconciler.New(svc, cfg.Repair)
		rec.Start(ctx)
		logger.Info().Dur("interval", cfg.Repair.Interval).Msg("scheduled repair started")
	}

	// 9. Setup Gin router + HTTP server
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	handler.NewHandler(svc, authMiddleware).RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logger.Info().Str("addr", addr).Msg("social-graph-service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// 10. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutdown signal received")

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		cancel()

		if kafkaConsumer != nil {
			if err := kafkaConsumer.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing kafka consumer")
			}
		}

		if rec != nil {
			rec.Stop()
			<-rec.Done()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server forced to shutdown")
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("social-graph-service stopped")
	case <-time.After(3 * shutdownTimeout):
		logger.Warn().Dur("timeout", 3*shutdownTimeout).Msg("shutdown timed out")
	}
}

// openStore builds the configured user record backend.
func openStore(ctx context.Context, cfg *config.Config) (store.UserStore, error) {
	switch cfg.Store.Driver {
	case "redis":
		client, err := store.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		return store.NewRedisUserStore(client, cfg.Redis.KeyPrefix), nil

	case "gorm", "":
		db, err := database.New(&database.Config{
			Driver:          cfg.Database.Driver,
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			DBName:          cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			TimeZone:        cfg.Database.TimeZone,
			FilePath:        cfg.Database.FilePath,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			LogLevel:        cfg.Database.LogLevel,
		})
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}

		st := store.NewGormUserStore(db)
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
