package database

import (
	"context"
	"fmt"
	"time"

	"subscription-api/internal/config"
	"subscription-api/internal/models"
	"subscription-api/pkg/logging"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	DB          *gorm.DB
	RedisClient *redis.Client
)

// InitDatabase initializes database connection
func InitDatabase() error {
	var err error
	DB, err = Open(config.AppConfig.DatabaseURL, config.AppConfig.SQLitePath, logger.Warn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Redis is optional, it only backs the sweeper's distributed lock
	if err := initRedis(); err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := SeedDefaults(DB); err != nil {
		return fmt.Errorf("failed to insert default data: %w", err)
	}

	return nil
}

// Open connects to PostgreSQL, or to SQLite when dsn is empty.
func Open(dsn, sqlitePath string, level logger.LogLevel) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(level),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	}

	if dsn == "" {
		// Fallback to SQLite for development
		logging.Infof("Database URL not set, using SQLite at %s", sqlitePath)
		return OpenSQLite(sqlitePath, gormConfig)
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logging.Infof("Database connected successfully")
	return db, nil
}

// OpenSQLite opens a SQLite database with a single connection so that
// transactions serialize instead of failing with SQLITE_BUSY.
func OpenSQLite(path string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if gormConfig == nil {
		gormConfig = &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			NamingStrategy: schema.NamingStrategy{SingularTable: true},
		}
	}
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=on"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// initRedis initializes Redis connection
func initRedis() error {
	redisURL := config.AppConfig.RedisURL
	if redisURL == "" {
		logging.Infof("REDIS_URL not set, sweeper runs with in-process locking only")
		return nil
	}

	logging.Infof("Connecting to Redis: %s", maskRedisURL(redisURL))

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		logging.Errorf("Failed to parse Redis URL: %v", err)
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	RedisClient = redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		logging.Errorf("Failed to connect to Redis: %v", err)
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Infof("Redis connected successfully")
	return nil
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if len(url) > 20 {
		return url[:10] + "***" + url[len(url)-10:]
	}
	return "***"
}

// Migrate performs database migration
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Order{},
		&models.ProcessedTransaction{},
		&models.SubscriptionEvent{},
		&models.SubscriptionProduct{},
		&models.Distributor{},
		&models.RemediationItem{},
	)
}

// DefaultProducts is the catalog seeded on first start.
func DefaultProducts() []models.SubscriptionProduct {
	return []models.SubscriptionProduct{
		{ProductID: "vip_monthly", Name: "VIP Monthly", AppleProductID: "vip_monthly", GoogleProductID: "vip_monthly", PlanType: "monthly", DurationDays: 30, Price: decimal.RequireFromString("9.99"), Currency: "USD", IsActive: true, SortOrder: 1},
		{ProductID: "vip_quarterly", Name: "VIP Quarterly", AppleProductID: "vip_quarterly", GoogleProductID: "vip_quarterly", PlanType: "quarterly", DurationDays: 90, Price: decimal.RequireFromString("24.99"), Currency: "USD", IsActive: true, SortOrder: 2},
		{ProductID: "vip_yearly", Name: "VIP Yearly", AppleProductID: "vip_yearly", GoogleProductID: "vip_yearly", PlanType: "yearly", DurationDays: 365, Price: decimal.RequireFromString("79.99"), Currency: "USD", IsActive: true, SortOrder: 3},
	}
}

// SeedDefaults inserts default data
func SeedDefaults(db *gorm.DB) error {
	for _, product := range DefaultProducts() {
		product := product
		// Use FirstOrCreate to avoid duplicates
		if err := db.Where("product_id = ?", product.ProductID).FirstOrCreate(&product).Error; err != nil {
			return fmt.Errorf("failed to create default product %s: %w", product.ProductID, err)
		}
	}

	logging.Infof("Default data inserted successfully")
	return nil
}

// GetDB returns database instance
func GetDB() *gorm.DB {
	return DB
}

// GetRedis returns Redis client, nil when Redis is not configured
func GetRedis() *redis.Client {
	return RedisClient
}

// CloseDatabase closes database connections
func CloseDatabase() error {
	if DB != nil {
		if sqlDB, err := DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logging.Errorf("Failed to close database: %v", err)
			}
		}
	}

	if RedisClient != nil {
		if err := RedisClient.Close(); err != nil {
			logging.Errorf("Failed to close Redis: %v", err)
		}
	}

	return nil
}
