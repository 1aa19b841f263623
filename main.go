package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	api "skillspring-backend/cmd/api"
	accountDelivery "skillspring-backend/internal/account/delivery"
	accountdomain "skillspring-backend/internal/account/domain"
	accountRepo "skillspring-backend/internal/account/repository"
	accountUsecase "skillspring-backend/internal/account/usecase"
	"skillspring-backend/internal/application/classifier"
	applicationDelivery "skillspring-backend/internal/application/delivery"
	appdomain "skillspring-backend/internal/application/domain"
	"skillspring-backend/internal/application/ledger"
	appRepo "skillspring-backend/internal/application/repository"
	appUsecase "skillspring-backend/internal/application/usecase"
	authUsecase "skillspring-backend/internal/auth/usecase"
	"skillspring-backend/internal/mail"
	"skillspring-backend/internal/notification"
	notificationDelivery "skillspring-backend/internal/notification/delivery"
	"skillspring-backend/internal/scheduler"
	"skillspring-backend/pkg/config"
	"skillspring-backend/pkg/crypto"
	"skillspring-backend/pkg/database"
	"skillspring-backend/pkg/fcm"
	"skillspring-backend/pkg/gmail"
	"skillspring-backend/pkg/imap"
	"skillspring-backend/pkg/lock"
	"skillspring-backend/pkg/logger"
	"skillspring-backend/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultMaxMessages = 100

func main() {
	// Load configuration
	cfg := config.Load()

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer zl.Sync() //nolint:errcheck

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewConnection(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(&appdomain.ApplicationRecord{}, &appdomain.SyncCursor{}, &accountdomain.MailAccount{}, &accountdomain.DeviceToken{}); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// Repositories
	applicationRepository := appRepo.NewApplicationRepository(db)
	cursorRepository := appRepo.NewSyncCursorRepository(db)
	accountRepository := accountRepo.NewMailAccountRepository(db)
	deviceTokenRepository := accountRepo.NewDeviceTokenRepository(db)

	// Classification and ledger
	tables, err := classifier.DefaultTables()
	if err != nil {
		return fmt.Errorf("load keyword tables: %w", err)
	}
	if cfg.ClassifierKeywordsFile != "" {
		if tables, err = classifier.LoadTables(cfg.ClassifierKeywordsFile); err != nil {
			return fmt.Errorf("load keyword tables: %w", err)
		}
		zl.Info("using keyword tables", zap.String("file", cfg.ClassifierKeywordsFile))
	}
	clf, err := classifier.New(tables)
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}
	appLedger := ledger.New(applicationRepository, cursorRepository, zl, ledger.WithPlatformDomains(clf.PlatformDomains()))

	syncMetrics := metrics.NewSyncMetrics(prometheus.DefaultRegisterer, metrics.Config{
		ServiceName: "skillspring-backend",
		Environment: cfg.Env,
	})

	// Per-user sync lock: Redis when configured, otherwise in-process.
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			zl.Warn("redis unreachable, using in-process sync locks", zap.Error(err))
		} else {
			locker = lock.NewRedisLocker(redisClient, "skillspring:")
			zl.Info("using redis sync locks")
		}
	}

	// Mail providers
	box := crypto.NewBox(cfg.EncryptionKey)
	if cfg.EncryptionKey == "" {
		zl.Warn("ENCRYPTION_KEY not set, IMAP accounts cannot be connected")
	}
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret, zl)
	imapService := imap.NewService(zl)

	maxMessages := cfg.SyncMaxMessages
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	mailRouter := mail.NewRouter(accountRepository, gmailService, imapService, box, maxMessages)

	// Sync pipeline
	syncService := appUsecase.NewSyncService(mailRouter, clf, appLedger, cursorRepository, syncMetrics, appUsecase.SyncConfig{
		Window:       cfg.SyncWindow,
		FetchTimeout: cfg.SyncFetchTimeout,
		Concurrency:  cfg.SyncConcurrency,
		MaxMessages:  maxMessages,
	}, zl)
	syncQueue := appUsecase.NewSyncQueue(syncService, locker, syncMetrics, appUsecase.QueueConfig{
		Workers:    cfg.SyncQueueWorkers,
		JobTimeout: cfg.SyncJobTimeout,
	}, zl)
	syncQueue.Start()
	defer syncQueue.Stop()

	// Status push notifications (optional)
	if cfg.FirebaseCredentials != "" {
		fcmClient, err := fcm.NewClient(ctx, cfg.FirebaseCredentials, zl)
		if err != nil {
			zl.Warn("failed to initialize FCM client, status push disabled", zap.Error(err))
		} else {
			syncService.SetStatusNotifier(notification.NewPushNotifier(fcmClient, deviceTokenRepository, syncMetrics, zl))
		}
	} else {
		zl.Info("no Firebase credentials configured, status push disabled")
	}

	// Gmail watch notifications (optional)
	shortTopic, fullTopic := topicNames(cfg.GoogleProjectID, cfg.GooglePubSubTopic)
	accounts := accountUsecase.NewAccountUsecase(accountRepository, deviceTokenRepository, gmailService, imapService, box, fullTopic, zl)
	dispatcher := notification.NewDispatcher(accountRepository, gmailService, syncQueue, zl)
	if cfg.GoogleProjectID != "" {
		notifService, err := notification.NewService(ctx, cfg.GoogleProjectID, shortTopic, cfg.GooglePubSubSub, cfg.GoogleCredentials, dispatcher, zl)
		if err != nil {
			zl.Error("failed to initialize notification service", zap.Error(err))
		} else {
			defer notifService.Close()
			go notifService.Start(ctx)
		}
	} else {
		zl.Warn("GOOGLE_PROJECT_ID not configured, pub/sub notifications disabled")
	}

	var watches scheduler.WatchRenewer
	if fullTopic != "" {
		watches = accounts
	}
	poller := scheduler.NewSyncScheduler(accountRepository, syncQueue, watches, cfg.PollInterval, zl)
	poller.Start()
	defer poller.Stop()

	// HTTP
	var webhookHandler *notificationDelivery.WebhookHandler
	if cfg.WebhookToken != "" {
		webhookHandler = notificationDelivery.NewWebhookHandler(dispatcher, cfg.WebhookToken)
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(
		applicationDelivery.NewApplicationHandler(appLedger, syncService, syncQueue),
		accountDelivery.NewAccountHandler(accounts),
		webhookHandler,
		authUsecase.NewTokenValidator(cfg.JWTSecret),
		cfg.CORSOrigins,
		zl,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		zl.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// topicNames returns the short topic id used by the Pub/Sub client and the
// full resource name Gmail watch expects.
func topicNames(projectID, topic string) (string, string) {
	short := topic
	if parts := strings.Split(topic, "/"); len(parts) > 1 {
		short = parts[len(parts)-1]
	}
	if short == "" {
		short = "gmail-updates"
	}
	if strings.HasPrefix(topic, "projects/") {
		return short, topic
	}
	if projectID == "" {
		return short, ""
	}
	return short, fmt.Sprintf("projects/%s/topics/%s", projectID, short)
}
