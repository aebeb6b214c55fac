package gallery

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on Postgres via GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&ItemModel{}, &UserModel{}, &JobModel{}, &FavoriteModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// DB exposes the underlying handle for the secondary stores.
func (s *GormStore) DB() *gorm.DB { return s.db }

// Add inserts the item. On a job id conflict only the media URLs column is
// refreshed; the original record otherwise wins.
func (s *GormStore) Add(item Item) error {
	model := itemToModel(item)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"media_urls"}),
	}).Create(&model).Error
}

// Get returns the item or nil when absent.
func (s *GormStore) Get(jobID string) *Item {
	var model ItemModel
	if err := s.db.First(&model, "job_id = ?", jobID).Error; err != nil {
		return nil
	}
	item := itemFromModel(model)
	return &item
}

// List pages through public items, newest first.
func (s *GormStore) List(typeFilter string, limit, offset int, search string) ListResult {
	tx := s.db.Model(&ItemModel{}).Where("is_public = ?", true)
	if typeFilter != "" && typeFilter != "all" {
		tx = tx.Where("type = ?", typeFilter)
	}
	if search = strings.TrimSpace(search); search != "" {
		tx = tx.Where("prompt ILIKE ?", "%"+escapeLike(search)+"%")
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return ListResult{Items: []Item{}}
	}
	if offset < 0 {
		offset = 0
	}

	var models []ItemModel
	if err := tx.Order("created_at DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return ListResult{Items: []Item{}, Total: int(total)}
	}

	items := make([]Item, 0, len(models))
	for _, m := range models {
		items = append(items, itemFromModel(m))
	}
	return ListResult{
		Items:      items,
		Total:      int(total),
		HasMore:    offset+len(items) < int(total),
		NextOffset: offset + len(items),
	}
}

// ListByWallet returns the wallet's items, public or not, newest first.
func (s *GormStore) ListByWallet(wallet string, limit int) []Item {
	var models []ItemModel
	tx := s.db.Where("LOWER(wallet_address) = LOWER(?)", wallet).Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return []Item{}
	}
	items := make([]Item, 0, len(models))
	for _, m := range models {
		items = append(items, itemFromModel(m))
	}
	return items
}

// Delete removes the item.
func (s *GormStore) Delete(jobID string) error {
	return s.db.Delete(&ItemModel{}, "job_id = ?", jobID).Error
}

// SetPublic toggles the visibility flag.
func (s *GormStore) SetPublic(jobID string, isPublic bool) error {
	return s.db.Model(&ItemModel{}).Where("job_id = ?", jobID).
		Update("is_public", isPublic).Error
}

// Count returns the number of stored items, public and private.
func (s *GormStore) Count() int {
	var count int64
	if err := s.db.Model(&ItemModel{}).Count(&count).Error; err != nil {
		return 0
	}
	return int(count)
}

func itemToModel(item Item) ItemModel {
	createdAt := time.UnixMilli(item.CreatedAt)
	if item.CreatedAt == 0 {
		createdAt = time.Now()
	}
	return ItemModel{
		JobID:          item.JobID,
		ModelID:        item.ModelID,
		ModelName:      item.ModelName,
		Prompt:         item.Prompt,
		NegativePrompt: item.NegativePrompt,
		Type:           item.Type,
		IsNSFW:         item.IsNSFW,
		IsPublic:       item.IsPublic,
		WalletAddress:  strings.ToLower(item.WalletAddress),
		Params:         marshalJSON(item.Params),
		ContentIDs:     marshalJSON(item.ContentIDs),
		MediaURLs:      marshalJSON(item.MediaURLs),
		CreatedAt:      createdAt,
	}
}

// itemFromModel tolerates malformed JSON columns by degrading to empty
// values instead of failing the read.
func itemFromModel(m ItemModel) Item {
	item := Item{
		JobID:          m.JobID,
		ModelID:        m.ModelID,
		ModelName:      m.ModelName,
		Prompt:         m.Prompt,
		NegativePrompt: m.NegativePrompt,
		Type:           m.Type,
		IsNSFW:         m.IsNSFW,
		IsPublic:       m.IsPublic,
		WalletAddress:  m.WalletAddress,
		CreatedAt:      m.CreatedAt.UnixMilli(),
	}
	if len(m.Params) > 0 {
		var params JobParams
		if err := json.Unmarshal([]byte(m.Params), &params); err == nil {
			item.Params = &params
		}
	}
	if len(m.ContentIDs) > 0 {
		var ids []string
		if err := json.Unmarshal([]byte(m.ContentIDs), &ids); err == nil {
			item.ContentIDs = ids
		}
	}
	if len(m.MediaURLs) > 0 {
		var urls []string
		if err := json.Unmarshal([]byte(m.MediaURLs), &urls); err == nil {
			item.MediaURLs = urls
		}
	}
	return item
}

func marshalJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

// escapeLike escapes LIKE metacharacters so user search text matches
// literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
