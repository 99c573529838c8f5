package models

import (
	"time"
)

// CredentialRecord is the durable half of the Credential Set kept next to the
// protocol key store. There is one row per bridge instance.
type CredentialRecord struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	DeviceID  string    `gorm:"type:varchar(255);not null" json:"device_id"` // linked-device routing id
	PushName  string    `gorm:"type:varchar(255)" json:"push_name"`
	Platform  string    `gorm:"type:varchar(100)" json:"platform"`
	PairedAt  time.Time `json:"paired_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CredentialRecord) TableName() string {
	return "bridge_credentials"
}
