package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/strandlabs/strand/internal/infrastructure/persistence/models"
)

// DBConfig selects the backing store.
type DBConfig struct {
	Type string `mapstructure:"type"` // sqlite | postgres
	DSN  string `mapstructure:"dsn"`
}

// Connect opens the database and migrates the schema.
func Connect(cfg DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.AssistantModel{},
		&models.ThreadModel{},
		&models.MessageModel{},
		&models.RunModel{},
		&models.ActionModel{},
		&models.APIKeyModel{},
		&models.ToolModel{},
		&models.VectorStoreModel{},
		&models.FileModel{},
	)
}
