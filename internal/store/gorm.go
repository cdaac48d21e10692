package store

import (
	stdlog "log"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/spatialqc/spatialqc/internal/config"
)

func InitDB(cfg *config.Config) (*gorm.DB, error) {
	gormLogger := logger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)

	newDB, err := gorm.Open(sqlite.Open(cfg.Database.Name), &gorm.Config{Logger: gormLogger, TranslateError: true})
	if err != nil {
		zap.S().Named("gorm").Errorf("failed to open database %q: %v", cfg.Database.Name, err)
		return nil, errors.Wrapf(err, "opening database %q", cfg.Database.Name)
	}

	sqlDB, err := newDB.DB()
	if err != nil {
		zap.S().Named("gorm").Errorf("failed to configure connections: %v", err)
		return nil, errors.Wrap(err, "configuring connection pool")
	}
	// sqlite serializes writers; a single connection avoids lock contention.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	return newDB, nil
}
