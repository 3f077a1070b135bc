package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"prashikshan/internal/config"
)

const (
	slowQueryThreshold = 500 * time.Millisecond
	pingTimeout        = 5 * time.Second
)

// InitDatabase 连接 PostgreSQL。SQL 日志写入 slog，只记录慢查询与错误。
func InitDatabase(cfg config.DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.NewSlogLogger(log.With(slog.String("component", "gorm")), logger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap db: %w", err)
	}
	// 托管 Postgres 免费档连接数有限。
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// AutoMigrate 迁移全部业务表。
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Profile{},
		&Follow{},
		&Post{},
		&PostLike{},
		&Comment{},
		&Message{},
		&Company{},
		&Faculty{},
		&Internship{},
		&InternshipApplication{},
		&FacultyApproval{},
		&SavedInternship{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
