package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/gawravmehta/sahaj-os-sub001/internal/config"
)

type Store struct {
	DB *gorm.DB
}

func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN not set")
	}
	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{DB: gdb}, nil
}

// Migrate creates or updates every table of the consent platform.
func (s *Store) Migrate() error {
	return s.DB.AutoMigrate(
		&ConsentArtifactModel{},
		&AuditRecordModel{},
		&WebhookSubscriptionModel{},
		&WebhookEventModel{},
		&ValidationLogModel{},
		&BulkBatchModel{},
		&NotificationModel{},
		&RenewalScheduleModel{},
		&CollectionPointModel{},
	)
}
