package database

import (
	"fmt"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is an interface for database operations
type DB interface {
	DB() (*gorm.DB, error)
	Close() error
}

// GormDatabase implements the DB interface for GORM
type GormDatabase struct {
	db *gorm.DB
}

// Connect establishes a connection to the database
func Connect(cfg config.DatabaseConfig, log *logrus.Logger) (DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	logLevel := logger.Error
	if cfg.Debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger: logger.New(&logAdapter{log: log}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	sqlDB.SetConnMaxLifetime(cfg.MaxLife)

	return &GormDatabase{db: db}, nil
}

// Wrap adapts an already opened gorm.DB to the DB interface
func Wrap(db *gorm.DB) DB {
	return &GormDatabase{db: db}
}

// DB returns the underlying gorm.DB instance
func (d *GormDatabase) DB() (*gorm.DB, error) {
	return d.db, nil
}

// Close closes the database connection
func (d *GormDatabase) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate creates or updates the device table, and the event table when
// events are stored in postgres.
func AutoMigrate(db DB, withEvents bool) error {
	gormDB, err := db.DB()
	if err != nil {
		return err
	}

	tables := []interface{}{&models.Device{}}
	if withEvents {
		tables = append(tables, &models.StoredEvent{})
	}

	if err := gormDB.AutoMigrate(tables...); err != nil {
		return fmt.Errorf("failed to migrate table structures: %w", err)
	}
	return nil
}

// logAdapter routes GORM log output to the application logger
type logAdapter struct {
	log *logrus.Logger
}

func (l *logAdapter) Printf(format string, args ...interface{}) {
	if l.log == nil {
		fmt.Printf(format+"\n", args...)
		return
	}
	l.log.WithField("component", "gorm").Infof(format, args...)
}
