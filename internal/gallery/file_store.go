package gallery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore keeps the full item set in memory and rewrites the backing JSON
// file on every mutation. Bounded by maxItems (oldest entries trimmed), so it
// only suits moderate gallery sizes; larger deployments use GormStore.
type FileStore struct {
	mu       sync.RWMutex
	items    []Item
	filePath string
	maxItems int
}

// NewFileStore loads any existing data from filePath. A maxItems of zero or
// less defaults to 5000.
func NewFileStore(filePath string, maxItems int) (*FileStore, error) {
	if maxItems <= 0 {
		maxItems = 5000
	}
	s := &FileStore{
		items:    make([]Item, 0),
		filePath: filePath,
		maxItems: maxItems,
	}
	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return nil, fmt.Errorf("create gallery dir: %w", err)
		}
	}
	s.load()
	return s, nil
}

// Add prepends the item (newest first). Duplicate job ids are ignored,
// except that non-empty media URLs on the incoming item refresh the stored
// ones.
func (s *FileStore) Add(item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.items {
		if existing.JobID == item.JobID {
			if len(item.MediaURLs) > 0 {
				s.items[i].MediaURLs = item.MediaURLs
				return s.save()
			}
			return nil
		}
	}

	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().UnixMilli()
	}

	s.items = append([]Item{item}, s.items...)
	if len(s.items) > s.maxItems {
		s.items = s.items[:s.maxItems]
	}
	return s.save()
}

// Get returns a copy of the item, or nil when absent.
func (s *FileStore) Get(jobID string) *Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.items {
		if item.JobID == jobID {
			found := item
			return &found
		}
	}
	return nil
}

// List pages through public items in insertion order (newest first).
func (s *FileStore) List(typeFilter string, limit, offset int, search string) ListResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))

	matched := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		if !item.IsPublic {
			continue
		}
		if typeFilter != "" && typeFilter != "all" && item.Type != typeFilter {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(item.Prompt), search) {
			continue
		}
		matched = append(matched, item)
	}

	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return ListResult{Items: []Item{}, Total: total, HasMore: false, NextOffset: offset}
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := matched[offset:end]

	return ListResult{
		Items:      page,
		Total:      total,
		HasMore:    offset+len(page) < total,
		NextOffset: offset + len(page),
	}
}

// ListByWallet returns the wallet's items, public or not, newest first.
func (s *FileStore) ListByWallet(wallet string, limit int) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wallet = strings.ToLower(strings.TrimSpace(wallet))
	if wallet == "" {
		return []Item{}
	}
	if limit <= 0 {
		limit = len(s.items)
	}

	result := make([]Item, 0, limit)
	for _, item := range s.items {
		if strings.ToLower(item.WalletAddress) == wallet {
			result = append(result, item)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}

// Delete removes the item. Deleting an absent id is not an error.
func (s *FileStore) Delete(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.items {
		if item.JobID == jobID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return s.save()
		}
	}
	return nil
}

// SetPublic toggles the visibility flag.
func (s *FileStore) SetPublic(jobID string, isPublic bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].JobID == jobID {
			s.items[i].IsPublic = isPublic
			return s.save()
		}
	}
	return fmt.Errorf("gallery item %s not found", jobID)
}

// Count returns the number of stored items, public and private.
func (s *FileStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *FileStore) load() {
	if s.filePath == "" {
		return
	}
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return // first run
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return
	}
	s.items = items
}

// save rewrites the whole file; callers hold the write lock.
func (s *FileStore) save() error {
	if s.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode gallery: %w", err)
	}
	if err := os.WriteFile(s.filePath, data, 0o644); err != nil {
		return fmt.Errorf("write gallery: %w", err)
	}
	return nil
}
