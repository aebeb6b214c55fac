package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gridgallery/internal/events"
	"gridgallery/internal/gallery"
)

const (
	defaultGalleryPageSize = 25
	maxGalleryPageSize     = 100
)

// AddItemRequest is the API payload to save a generation into the gallery.
type AddItemRequest struct {
	JobID          string             `json:"jobId"`
	ModelID        string             `json:"modelId"`
	ModelName      string             `json:"modelName"`
	Prompt         string             `json:"prompt"`
	NegativePrompt string             `json:"negativePrompt"`
	Type           string             `json:"type"`
	NSFW           bool               `json:"nsfw"`
	Public         bool               `json:"public"`
	WalletAddress  string             `json:"walletAddress"`
	Params         *gallery.JobParams `json:"params"`
	ContentIDs     []string           `json:"contentIds"`
	MediaURLs      []string           `json:"mediaUrls"`
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListGallery(w, r)
	case http.MethodPost:
		s.handleAddItem(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListGallery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultGalleryPageSize
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxGalleryPageSize {
		limit = maxGalleryPageSize
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}

	result := s.store.List(q.Get("type"), limit, offset, q.Get("q"))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	wallet := req.WalletAddress
	if wallet == "" {
		wallet = requestWallet(r)
	}
	mediaType := req.Type
	if mediaType != gallery.TypeVideo {
		mediaType = gallery.TypeImage
	}

	urls := make([]string, 0, len(req.MediaURLs))
	for _, raw := range req.MediaURLs {
		urls = append(urls, s.normalizeMediaURL(raw))
	}

	item := gallery.Item{
		JobID:          req.JobID,
		ModelID:        req.ModelID,
		ModelName:      req.ModelName,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Type:           mediaType,
		IsNSFW:         req.NSFW,
		IsPublic:       req.Public,
		WalletAddress:  strings.ToLower(wallet),
		CreatedAt:      time.Now().UnixMilli(),
		Params:         req.Params,
		ContentIDs:     req.ContentIDs,
		MediaURLs:      urls,
	}
	if err := s.store.Add(item); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save gallery item")
		return
	}
	s.events.Publish(r.Context(), events.ItemAdded, events.ItemEvent{
		JobID:         item.JobID,
		WalletAddress: item.WalletAddress,
		IsPublic:      item.IsPublic,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"jobId": item.JobID, "saved": true})
}

func (s *Server) handleGalleryByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/gallery/")
	if wallet, ok := strings.CutPrefix(path, "wallet/"); ok {
		s.handleGalleryByWallet(w, r, wallet)
		return
	}

	id, sub, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "gallery item id required")
		return
	}
	switch sub {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.handleGetItem(w, id)
		case http.MethodDelete:
			s.handleDeleteItem(w, r, id)
		default:
			methodNotAllowed(w)
		}
	case "media":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleItemMedia(w, r, id)
	case "visibility":
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleItemVisibility(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleGalleryByWallet(w http.ResponseWriter, r *http.Request, wallet string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet address is required")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	items := s.store.ListByWallet(wallet, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"count":  len(items),
		"wallet": strings.ToLower(wallet),
	})
}

func (s *Server) handleGetItem(w http.ResponseWriter, id string) {
	item := s.store.Get(id)
	if item == nil {
		writeError(w, http.StatusNotFound, "gallery item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// authorizeOwner loads the item and checks the caller owns it. Items saved
// before wallets were recorded have no owner and stay mutable by anyone.
func (s *Server) authorizeOwner(w http.ResponseWriter, r *http.Request, id string) *gallery.Item {
	wallet := requestWallet(r)
	if wallet == "" {
		writeError(w, http.StatusUnauthorized, "wallet address required")
		return nil
	}
	item := s.store.Get(id)
	if item == nil {
		writeError(w, http.StatusNotFound, "gallery item not found")
		return nil
	}
	if item.WalletAddress != "" && !strings.EqualFold(item.WalletAddress, wallet) {
		writeError(w, http.StatusForbidden, "not the owner of this item")
		return nil
	}
	return item
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request, id string) {
	item := s.authorizeOwner(w, r, id)
	if item == nil {
		return
	}
	if err := s.store.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete gallery item")
		return
	}
	if s.media != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		for _, contentID := range item.ContentIDs {
			if err := s.media.Delete(ctx, contentID); err != nil {
				slog.Warn("delete media object", "jobId", id, "contentId", contentID, "err", err)
			}
		}
	}
	s.events.Publish(r.Context(), events.ItemDeleted, events.ItemEvent{
		JobID:         id,
		WalletAddress: item.WalletAddress,
	})
	writeJSON(w, http.StatusOK, map[string]any{"jobId": id, "deleted": true})
}

func (s *Server) handleItemVisibility(w http.ResponseWriter, r *http.Request, id string) {
	item := s.authorizeOwner(w, r, id)
	if item == nil {
		return
	}
	var req struct {
		IsPublic bool `json:"isPublic"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.store.SetPublic(id, req.IsPublic); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update visibility")
		return
	}
	s.events.Publish(r.Context(), events.VisibilityChanged, events.ItemEvent{
		JobID:         id,
		WalletAddress: item.WalletAddress,
		IsPublic:      req.IsPublic,
	})
	writeJSON(w, http.StatusOK, map[string]any{"jobId": id, "isPublic": req.IsPublic})
}

// handleItemMedia re-resolves the item's media URLs. Presigned URLs and
// worker-hosted links expire, so clients call this instead of trusting stored
// URLs forever. Resolution falls through four sources: a live grid status,
// the stored content ids against object storage, the cached URLs normalized
// to the CDN, and finally a guess keyed by the job id.
func (s *Server) handleItemMedia(w http.ResponseWriter, r *http.Request, id string) {
	item := s.store.Get(id)
	if item == nil {
		writeError(w, http.StatusNotFound, "gallery item not found")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	if status, err := s.grid.JobStatus(ctx, id); err == nil && status.Done {
		urls := make([]string, 0, len(status.Generations))
		for _, gen := range status.Generations {
			if ref := gen.MediaRef(); ref != "" && !strings.HasPrefix(ref, "data:") {
				urls = append(urls, s.normalizeMediaURL(ref))
			}
		}
		if len(urls) > 0 {
			writeJSON(w, http.StatusOK, mediaResponse(id, urls, "grid"))
			return
		}
	}

	if s.media != nil && len(item.ContentIDs) > 0 {
		urls := make([]string, 0, len(item.ContentIDs))
		for _, contentID := range item.ContentIDs {
			resolved, err := s.media.ResolveURL(ctx, contentID)
			if err != nil {
				slog.Warn("resolve media object", "jobId", id, "contentId", contentID, "err", err)
				continue
			}
			urls = append(urls, resolved)
		}
		if len(urls) > 0 {
			writeJSON(w, http.StatusOK, mediaResponse(id, urls, "storage"))
			return
		}
	}

	if len(item.MediaURLs) > 0 {
		urls := make([]string, 0, len(item.MediaURLs))
		for _, raw := range item.MediaURLs {
			urls = append(urls, s.normalizeMediaURL(raw))
		}
		writeJSON(w, http.StatusOK, mediaResponse(id, urls, "cache"))
		return
	}

	if s.media != nil {
		if resolved, err := s.media.ResolveURL(ctx, id); err == nil {
			writeJSON(w, http.StatusOK, mediaResponse(id, []string{resolved}, "fallback"))
			return
		}
	}
	writeError(w, http.StatusNotFound, "no media available for this item")
}

func mediaResponse(jobID string, urls []string, source string) map[string]any {
	return map[string]any{"jobId": jobID, "urls": urls, "source": source}
}

func (s *Server) handleConnectUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.users == nil {
		writeError(w, http.StatusServiceUnavailable, "user accounts require the database backend")
		return
	}
	var req struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	wallet := req.WalletAddress
	if wallet == "" {
		wallet = requestWallet(r)
	}
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet address is required")
		return
	}
	user, err := s.users.Connect(wallet)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to connect user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	if s.favorites == nil {
		writeError(w, http.StatusServiceUnavailable, "favorites require the database backend")
		return
	}
	wallet := requestWallet(r)
	if wallet == "" {
		writeError(w, http.StatusUnauthorized, "wallet address required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("ids") == "true" {
			ids := s.favorites.JobIDs(wallet)
			writeJSON(w, http.StatusOK, map[string]any{"jobIds": ids, "count": len(ids)})
			return
		}
		items := s.favorites.Items(wallet, 100)
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
	case http.MethodPost:
		var req struct {
			JobID string `json:"jobId"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.JobID == "" {
			writeError(w, http.StatusBadRequest, "jobId is required")
			return
		}
		if err := s.favorites.Add(wallet, req.JobID); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to add favorite")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"jobId": req.JobID, "favorited": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleFavoriteByID(w http.ResponseWriter, r *http.Request) {
	if s.favorites == nil {
		writeError(w, http.StatusServiceUnavailable, "favorites require the database backend")
		return
	}
	wallet := requestWallet(r)
	if wallet == "" {
		writeError(w, http.StatusUnauthorized, "wallet address required")
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/api/favorites/")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"jobId":     jobID,
			"favorited": s.favorites.IsFavorited(wallet, jobID),
		})
	case http.MethodDelete:
		if err := s.favorites.Remove(wallet, jobID); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to remove favorite")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobId": jobID, "favorited": false})
	default:
		methodNotAllowed(w)
	}
}
