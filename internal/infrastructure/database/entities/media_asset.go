package entities

import (
	"time"

	"github.com/lib/pq"
)

// MediaAsset represents the persisted media asset row.
//
// Derived columns stay NULL until the processing worker commits; a NULL
// processed_at marks the asset as still pending.
type MediaAsset struct {
	ID               string `gorm:"type:varchar(40);primaryKey"`
	OriginalFilename string `gorm:"type:varchar(255);not null"`
	FileType         string `gorm:"type:varchar(16);not null"`
	MimeType         string `gorm:"type:varchar(64);not null"`
	FileSize         int64  `gorm:"not null"`
	StoragePath      string `gorm:"type:varchar(255);not null"`
	OwnerID          string `gorm:"type:varchar(64);not null;index:idx_owner_created,priority:1;index:idx_owner_processed,priority:1"`

	Width         *int
	Height        *int
	Duration      *float64
	ThumbnailPath *string        `gorm:"type:varchar(255)"`
	Caption       *string        `gorm:"type:text"`
	Tags          pq.StringArray `gorm:"type:text[]"`
	EmbeddingID   *string        `gorm:"type:varchar(64)"`

	Title       *string `gorm:"type:varchar(255)"`
	Description *string `gorm:"type:text"`
	LicenseType string  `gorm:"type:varchar(32);default:standard"`
	Price       float64 `gorm:"default:0"`

	LastError   *string    `gorm:"type:text"`
	ProcessedAt *time.Time `gorm:"index:idx_owner_processed,priority:2"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index:idx_owner_created,priority:2"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime"`
}

func (MediaAsset) TableName() string {
	return "media_assets"
}
