package main

import (
	"context"
	"crypto/x509"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subscription-api/internal/api"
	"subscription-api/internal/config"
	"subscription-api/internal/database"
	"subscription-api/internal/metrics"
	"subscription-api/internal/platform"
	"subscription-api/internal/services"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}
	cfg := config.AppConfig

	// Initialize logging
	logging.InitLogging()

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.CloseDatabase()

	// Platform clients
	apple, err := newAppleClient(cfg)
	if err != nil {
		log.Fatal("Failed to initialize App Store client:", err)
	}
	var google platform.GoogleVerifier
	if cfg.GooglePackageName != "" {
		client, err := platform.NewGoogleClient(context.Background(), cfg.GooglePackageName, cfg.GoogleCredentialsFile, cfg.VerifyTimeout)
		if err != nil {
			log.Fatal("Failed to initialize Google Play client:", err)
		}
		google = client
	} else {
		logging.Warnf("GOOGLE_PACKAGE_NAME not set, Google Play is disabled")
	}

	// Services
	m := metrics.Default()
	store := database.NewStore(database.GetDB())
	orderNo, err := services.NewOrderNumberGenerator(cfg.NodeID)
	if err != nil {
		log.Fatal("Failed to initialize order numbers:", err)
	}
	engine := services.NewEngine(store, orderNo, services.EngineOptions{
		MaxRetries: cfg.PersistMaxRetries,
		Metrics:    m,
		Notifier:   services.NewWebhookNotifier(cfg.CallbackURL, cfg.CallbackSecret),
	})

	var alerter services.Alerter
	if cfg.BrevoAPIKey != "" && cfg.AlertEmail != "" {
		alerter = services.NewBrevoAlerter(services.BrevoAlerterOptions{
			APIKey:      cfg.BrevoAPIKey,
			FromEmail:   cfg.BrevoFromEmail,
			FromName:    cfg.BrevoFromName,
			To:          cfg.AlertEmail,
			ServiceName: cfg.ServiceName,
		})
	}
	ingestor := services.NewIngestor(engine, store, services.IngestorOptions{
		Apple:   apple,
		Google:  google,
		Alerter: alerter,
		Metrics: m,
	})

	var locker services.Locker
	if redisClient := database.GetRedis(); redisClient != nil {
		locker = services.NewRedisLocker(redisClient)
	}
	sweeper := services.NewSweeper(engine, store, services.SweeperOptions{
		Schedule: cfg.SweepSchedule,
		Locker:   locker,
		LockTTL:  cfg.SweepLockTTL,
		Metrics:  m,
	})
	if cfg.SweepEnabled {
		if err := sweeper.Start(); err != nil {
			log.Fatal("Failed to start expiry sweeper:", err)
		}
		defer sweeper.Stop()
	}

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, api.Dependencies{
		Ingestor:       ingestor,
		Subscriptions:  services.NewSubscriptionService(engine, store, apple, google),
		Commissions:    services.NewCommissionService(store, cfg.DefaultCommissionRate),
		Sweeper:        sweeper,
		Store:          store,
		InternalAPIKey: cfg.InternalAPIKey,
		PubSubAudience: cfg.GooglePubSubAudience,
		ServiceName:    cfg.ServiceName,
	})

	// Start server
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logging.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Infof("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Errorf("Server forced to shut down: %v", err)
	}
}

func newAppleClient(cfg *config.Config) (*platform.AppleClient, error) {
	var root *x509.Certificate
	if cfg.AppleRootCAPath != "" {
		cert, err := platform.LoadRootCertificate(cfg.AppleRootCAPath)
		if err != nil {
			return nil, err
		}
		root = cert
	} else {
		logging.Warnf("APPLE_ROOT_CA_PATH not set, App Store notification signatures are not verified")
	}

	return platform.NewAppleClient(platform.AppleOptions{
		ProductionURL: cfg.AppleVerifyURL,
		SandboxURL:    cfg.AppleSandboxVerifyURL,
		SharedSecret:  cfg.AppleSharedSecret,
		BundleID:      cfg.AppleBundleID,
		Timeout:       cfg.VerifyTimeout,
		JWS:           platform.NewJWSVerifier(root),
	}), nil
}
