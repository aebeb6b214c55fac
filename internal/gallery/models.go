package gallery

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used by the relational backend.

type ItemModel struct {
	JobID          string         `gorm:"primaryKey;column:job_id"`
	ModelID        string
	ModelName      string
	Prompt         string         `gorm:"type:text"`
	NegativePrompt string         `gorm:"type:text"`
	Type           string         `gorm:"index"`
	IsNSFW         bool           `gorm:"column:is_nsfw"`
	IsPublic       bool           `gorm:"index"`
	WalletAddress  string         `gorm:"index"`
	Params         datatypes.JSON `gorm:"type:jsonb"`
	ContentIDs     datatypes.JSON `gorm:"type:jsonb;column:content_ids"`
	MediaURLs      datatypes.JSON `gorm:"type:jsonb;column:media_urls"`
	CreatedAt      time.Time      `gorm:"not null;index"`
}

func (ItemModel) TableName() string { return "gallery_items" }

type UserModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	WalletAddress string    `gorm:"uniqueIndex;not null"`
	CreatedAt     time.Time `gorm:"not null"`
	LastSeenAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type JobModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	JobID         string    `gorm:"uniqueIndex;not null;column:job_id"`
	WalletAddress string    `gorm:"not null;index"`
	Status        string    `gorm:"not null"`
	Error         string
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (JobModel) TableName() string { return "generation_jobs" }

type FavoriteModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	WalletAddress string    `gorm:"not null;uniqueIndex:idx_favorites_wallet_job"`
	JobID         string    `gorm:"not null;uniqueIndex:idx_favorites_wallet_job;column:job_id"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (FavoriteModel) TableName() string { return "favorites" }
