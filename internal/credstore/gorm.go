package credstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatsapp-bridge/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultRecordID = "default"

// GormStore keeps the credential record in the bridge database.
type GormStore struct {
	db *gorm.DB
	id string
	mu sync.Mutex
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, id: defaultRecordID}
}

func (s *GormStore) Load(ctx context.Context) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec models.CredentialRecord
	err := s.db.WithContext(ctx).Where("id = ?", s.id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return &Credentials{
		DeviceID:  rec.DeviceID,
		PushName:  rec.PushName,
		Platform:  rec.Platform,
		PairedAt:  rec.PairedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func (s *GormStore) Save(ctx context.Context, creds *Credentials) error {
	if creds == nil || creds.DeviceID == "" {
		return errors.New("save credentials: device id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := models.CredentialRecord{
		ID:       s.id,
		DeviceID: creds.DeviceID,
		PushName: creds.PushName,
		Platform: creds.Platform,
		PairedAt: creds.PairedAt,
	}
	if rec.PairedAt.IsZero() {
		rec.PairedAt = time.Now()
	}
	// paired_at is written once, on insert.
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"device_id", "push_name", "platform", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *GormStore) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.WithContext(ctx).Where("id = ?", s.id).Delete(&models.CredentialRecord{}).Error; err != nil {
		return fmt.Errorf("wipe credentials: %w", err)
	}
	return nil
}
