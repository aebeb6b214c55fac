package gallery

import (
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// User is an owner identity keyed by lowercase wallet address.
type User struct {
	ID            int64     `json:"id"`
	WalletAddress string    `json:"walletAddress"`
	CreatedAt     time.Time `json:"createdAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
}

// UserStore handles wallet identities.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore wraps an open DB handle.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Connect creates the user on first sight and bumps last_seen_at otherwise.
func (s *UserStore) Connect(wallet string) (*User, error) {
	now := time.Now()
	model := UserModel{
		WalletAddress: strings.ToLower(wallet),
		CreatedAt:     now,
		LastSeenAt:    now,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoUpdates: clause.Assignments(map[string]any{"last_seen_at": now}),
	}).Create(&model).Error
	if err != nil {
		return nil, err
	}
	return s.ByWallet(wallet)
}

// ByWallet returns the user, or nil when absent.
func (s *UserStore) ByWallet(wallet string) (*User, error) {
	var model UserModel
	if err := s.db.First(&model, "wallet_address = ?", strings.ToLower(wallet)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &User{
		ID:            model.ID,
		WalletAddress: model.WalletAddress,
		CreatedAt:     model.CreatedAt,
		LastSeenAt:    model.LastSeenAt,
	}, nil
}
