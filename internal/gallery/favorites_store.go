package gallery

import (
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Favorite is a (wallet, job) pair. Duplicate favoriting is idempotent, and
// a favorite may outlive its gallery item.
type Favorite struct {
	ID            int64     `json:"id"`
	WalletAddress string    `json:"walletAddress"`
	JobID         string    `json:"jobId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// FavoritesStore handles per-wallet favorites.
type FavoritesStore struct {
	db *gorm.DB
}

// NewFavoritesStore wraps an open DB handle.
func NewFavoritesStore(db *gorm.DB) *FavoritesStore {
	return &FavoritesStore{db: db}
}

// Add marks the job as a favorite. Already-favorited pairs are ignored.
func (s *FavoritesStore) Add(wallet, jobID string) error {
	model := FavoriteModel{
		WalletAddress: strings.ToLower(wallet),
		JobID:         jobID,
		CreatedAt:     time.Now(),
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// Remove unmarks the favorite.
func (s *FavoritesStore) Remove(wallet, jobID string) error {
	return s.db.Delete(&FavoriteModel{},
		"LOWER(wallet_address) = LOWER(?) AND job_id = ?", wallet, jobID).Error
}

// IsFavorited reports whether the wallet favorited the job.
func (s *FavoritesStore) IsFavorited(wallet, jobID string) bool {
	var count int64
	err := s.db.Model(&FavoriteModel{}).
		Where("LOWER(wallet_address) = LOWER(?) AND job_id = ?", wallet, jobID).
		Count(&count).Error
	return err == nil && count > 0
}

// JobIDs returns all job ids favorited by the wallet, newest favorite first.
func (s *FavoritesStore) JobIDs(wallet string) []string {
	var models []FavoriteModel
	err := s.db.Where("LOWER(wallet_address) = LOWER(?)", wallet).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		slog.Error("list favorites", "err", err)
		return []string{}
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.JobID)
	}
	return ids
}

// Items returns the favorited gallery items that still exist. Favorites
// pointing at deleted items are skipped, not errors.
func (s *FavoritesStore) Items(wallet string, limit int) []Item {
	var models []ItemModel
	tx := s.db.Model(&ItemModel{}).
		Joins("INNER JOIN favorites f ON f.job_id = gallery_items.job_id").
		Where("LOWER(f.wallet_address) = LOWER(?)", wallet).
		Order("f.created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		slog.Error("list favorited items", "err", err)
		return []Item{}
	}
	items := make([]Item, 0, len(models))
	for _, m := range models {
		items = append(items, itemFromModel(m))
	}
	return items
}
