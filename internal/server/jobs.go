package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gridgallery/internal/gallery"
	"gridgallery/internal/grid"
	"gridgallery/internal/presets"
	"gridgallery/internal/prompts"
)

// CreateJobRequest is the API payload to submit a generation job.
type CreateJobRequest struct {
	ModelID          string           `json:"modelId"`
	Prompt           string           `json:"prompt"`
	NegativePrompt   string           `json:"negativePrompt"`
	APIKey           string           `json:"apiKey"`
	WalletAddress    string           `json:"walletAddress"`
	Params           GenerationParams `json:"params"`
	NSFW             bool             `json:"nsfw"`
	Public           bool             `json:"public"`
	SourceImage      string           `json:"sourceImage"`
	SourceMask       string           `json:"sourceMask"`
	SourceProcessing string           `json:"sourceProcessing"`
	MediaType        string           `json:"mediaType"`
}

// GenerationParams are the user-tunable knobs of a submission.
type GenerationParams struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Steps     int     `json:"steps"`
	CfgScale  float64 `json:"cfgScale"`
	Sampler   string  `json:"sampler"`
	Scheduler string  `json:"scheduler"`
	Seed      string  `json:"seed"`
	Denoise   float64 `json:"denoise"`
	Length    int     `json:"length"`
	FPS       int     `json:"fps"`
	Tiling    bool    `json:"tiling"`
	HiresFix  bool    `json:"hiresFix"`
}

func (r CreateJobRequest) validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if strings.TrimSpace(r.ModelID) == "" {
		return errors.New("modelId is required")
	}
	return nil
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req CreateJobRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 10<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	preset, ok := s.catalog.Get(req.ModelID)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown model: %s", req.ModelID))
		return
	}
	apiKey := firstNonEmpty(req.APIKey, s.gridAPIKey)
	if apiKey == "" {
		writeError(w, http.StatusBadRequest, "apiKey is required")
		return
	}
	wallet := req.WalletAddress
	if wallet == "" {
		wallet = requestWallet(r)
	}
	if !s.limiter.Allow(wallet) {
		writeError(w, http.StatusTooManyRequests, "submission rate limit exceeded")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	client := s.grid
	if req.APIKey != "" {
		client = s.grid.WithAPIKey(req.APIKey)
	}
	accepted, err := client.CreateJob(ctx, buildJobRequest(req, preset))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if s.jobs != nil && wallet != "" {
		if _, err := s.jobs.AddJob(wallet, accepted.ID); err != nil {
			slog.Warn("record job", "jobId", accepted.ID, "err", err)
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":  accepted.ID,
		"status": gallery.JobQueued,
	})
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if wallet, ok := strings.CutPrefix(path, "wallet/"); ok {
		s.handleJobsByWallet(w, r, wallet)
		return
	}
	if path == "" {
		writeError(w, http.StatusBadRequest, "job id required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	status, err := s.grid.JobStatus(ctx, path)
	if err != nil {
		// The grid forgets jobs after a retention window; a stored record
		// still answers for them.
		if s.jobs != nil {
			if job, dbErr := s.jobs.Job(path); dbErr == nil && job != nil {
				writeJSON(w, http.StatusOK, JobView{
					JobID:       job.JobID,
					Status:      job.Status,
					Faulted:     job.Status == gallery.JobFaulted,
					Generations: []GenerationView{},
				})
				return
			}
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	view := s.buildJobView(status)
	if s.jobs != nil {
		if err := s.jobs.UpdateStatus(path, view.Status, status.Message); err != nil {
			slog.Warn("update job status", "jobId", path, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleJobsByWallet(w http.ResponseWriter, r *http.Request, wallet string) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job history requires the database backend")
		return
	}
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet address is required")
		return
	}
	var (
		jobs []gallery.Job
		err  error
	)
	if r.URL.Query().Get("pending") == "true" {
		jobs, err = s.jobs.PendingByWallet(wallet)
	} else {
		jobs, err = s.jobs.JobsByWallet(wallet, 100)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// buildJobRequest fills the grid payload from the request with preset
// defaults, clamping user values to the preset limits. Prompts pass through
// category enhancement before submission.
func buildJobRequest(req CreateJobRequest, preset presets.ModelPreset) grid.JobRequest {
	prompt, negative := prompts.Process(req.Prompt, req.NegativePrompt, preset.ID)
	sampler := mapSamplerName(pickString(req.Params.Sampler, preset.Defaults.Sampler))
	scheduler := pickString(req.Params.Scheduler, preset.Defaults.Scheduler)
	width := pickIntInRange(req.Params.Width, preset.Defaults.Width, preset.Limits.Width)
	height := pickIntInRange(req.Params.Height, preset.Defaults.Height, preset.Limits.Height)
	steps := pickIntInRange(req.Params.Steps, preset.Defaults.Steps, preset.Limits.Steps)
	cfgScale := pickFloatInRange(req.Params.CfgScale, preset.Defaults.CfgScale, preset.Limits.CfgScale)
	denoise := pickFloat(req.Params.Denoise, preset.Defaults.Denoise)
	length := pickIntInRange(req.Params.Length, preset.Defaults.Length, preset.Limits.Length)
	fps := pickIntInRange(req.Params.FPS, preset.Defaults.FPS, preset.Limits.FPS)

	params := map[string]any{
		"sampler_name":       sampler,
		"scheduler":          scheduler,
		"cfg_scale":          cfgScale,
		"steps":              steps,
		"karras":             strings.EqualFold(scheduler, "karras"),
		"hires_fix":          req.Params.HiresFix,
		"tiling":             req.Params.Tiling,
		"denoising_strength": denoise,
	}
	if width > 0 {
		params["width"] = width
	}
	if height > 0 {
		params["height"] = height
	}
	if req.Params.Seed != "" {
		params["seed"] = req.Params.Seed
	}
	if length > 0 {
		params["length"] = length
		params["video_length"] = length
	}
	if fps > 0 {
		params["fps"] = fps
	}

	sourceProcessing := req.SourceProcessing
	if sourceProcessing == "" {
		switch {
		case preset.Type == gallery.TypeVideo && req.SourceImage != "":
			sourceProcessing = "img2video"
		case preset.Type == gallery.TypeVideo:
			sourceProcessing = "txt2video"
		case req.SourceImage != "":
			sourceProcessing = "img2img"
		default:
			sourceProcessing = "txt2img"
		}
	}
	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = preset.Type
	}

	return grid.JobRequest{
		Prompt:           prompt,
		NegativePrompt:   negative,
		Models:           []string{gridModelName(preset.ID)},
		NSFW:             req.NSFW,
		CensorNSFW:       !req.NSFW,
		TrustedWorkers:   true,
		R2:               true,
		Shared:           req.Public,
		Params:           params,
		SourceImage:      req.SourceImage,
		SourceMask:       req.SourceMask,
		SourceProcessing: sourceProcessing,
		WalletAddress:    req.WalletAddress,
		MediaType:        mediaType,
	}
}

// mapSamplerName converts workflow sampler names to the k_ prefixed grid
// format. Unknown samplers fall back to k_euler.
func mapSamplerName(sampler string) string {
	samplerMap := map[string]string{
		"uni_pc":             "dpmsolver",
		"unipc":              "dpmsolver",
		"uni_pc_bh2":         "dpmsolver",
		"dpm_2":              "k_dpm_2",
		"dpm_2_ancestral":    "k_dpm_2_a",
		"euler":              "k_euler",
		"euler_ancestral":    "k_euler_a",
		"heun":               "k_heun",
		"lms":                "k_lms",
		"dpm_fast":           "k_dpm_fast",
		"dpm_adaptive":       "k_dpm_adaptive",
		"dpmpp_2s_ancestral": "k_dpmpp_2s_a",
		"dpmpp_2m":           "k_dpmpp_2m",
		"dpmpp_sde":          "k_dpmpp_sde",
		"ddim":               "DDIM",
		"k_euler":            "k_euler",
		"k_euler_a":          "k_euler_a",
		"k_dpm_2":            "k_dpm_2",
		"k_dpm_2_a":          "k_dpm_2_a",
		"k_heun":             "k_heun",
		"k_lms":              "k_lms",
		"k_dpm_fast":         "k_dpm_fast",
		"k_dpm_adaptive":     "k_dpm_adaptive",
		"k_dpmpp_2s_a":       "k_dpmpp_2s_a",
		"k_dpmpp_2m":         "k_dpmpp_2m",
		"k_dpmpp_sde":        "k_dpmpp_sde",
		"dpmsolver":          "dpmsolver",
		"lcm":                "lcm",
	}
	if mapped, ok := samplerMap[strings.ToLower(sampler)]; ok {
		return mapped
	}
	if mapped, ok := samplerMap[sampler]; ok {
		return mapped
	}
	return "k_euler"
}

// JobView is the API-facing state of a grid job.
type JobView struct {
	JobID         string           `json:"jobId"`
	Status        string           `json:"status"`
	Faulted       bool             `json:"faulted"`
	WaitTime      float64          `json:"waitTime"`
	QueuePosition int              `json:"queuePosition"`
	Processing    int              `json:"processing"`
	Finished      int              `json:"finished"`
	Waiting       int              `json:"waiting"`
	Generations   []GenerationView `json:"generations"`
}

// GenerationView is one produced output with its serveable URL.
type GenerationView struct {
	ID         string `json:"id"`
	Seed       string `json:"seed"`
	Kind       string `json:"kind"`
	MimeType   string `json:"mimeType"`
	URL        string `json:"url,omitempty"`
	Base64     string `json:"base64,omitempty"`
	WorkerID   string `json:"workerId,omitempty"`
	WorkerName string `json:"workerName,omitempty"`
}

func (s *Server) buildJobView(status *grid.JobStatus) JobView {
	state := gallery.JobQueued
	switch {
	case status.Faulted:
		state = gallery.JobFaulted
	case status.Done:
		state = gallery.JobCompleted
	case status.Processing > 0:
		state = gallery.JobProcessing
	}

	views := make([]GenerationView, 0, len(status.Generations))
	for _, gen := range status.Generations {
		view := GenerationView{
			ID:         gen.ID,
			Seed:       fmt.Sprintf("%v", gen.Seed),
			MimeType:   gen.Mime,
			WorkerID:   gen.WorkerID,
			WorkerName: gen.Worker,
		}
		switch {
		case gen.Video != "":
			view.Kind = gallery.TypeVideo
			view.URL = s.normalizeMediaURL(gen.Video)
		case strings.Contains(strings.ToLower(gen.Mime), "video"):
			view.Kind = gallery.TypeVideo
			if raw := firstNonEmpty(gen.Video, gen.ImgURL, gen.Img); raw != "" {
				view.URL = s.normalizeMediaURL(raw)
			}
		default:
			view.Kind = gallery.TypeImage
			raw := firstNonEmpty(gen.ImgURL, gen.Img)
			view.Base64 = normalizeBase64(gen.Image)
			if view.Base64 == "" && strings.HasPrefix(raw, "data:image") {
				view.Base64 = raw
			} else if raw != "" {
				view.URL = s.normalizeMediaURL(raw)
			}
		}
		views = append(views, view)
	}

	return JobView{
		JobID:         status.ID,
		Status:        state,
		Faulted:       status.Faulted,
		WaitTime:      status.WaitTime,
		QueuePosition: status.QueuePosition,
		Processing:    status.Processing,
		Finished:      status.Finished,
		Waiting:       status.Waiting,
		Generations:   views,
	}
}

func (s *Server) normalizeMediaURL(raw string) string {
	if s.media == nil {
		return raw
	}
	return s.media.NormalizeURL(raw)
}

func pickString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func pickInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func pickFloat(value, fallback float64) float64 {
	if value > 0 {
		return value
	}
	return fallback
}

func pickIntInRange(value, fallback int, limits *presets.RangeInt) int {
	if limits == nil {
		return pickInt(value, fallback)
	}
	if value <= 0 {
		return clampInt(fallback, limits.Min, limits.Max)
	}
	return clampInt(value, limits.Min, limits.Max)
}

func pickFloatInRange(value, fallback float64, limits *presets.RangeFloat) float64 {
	if limits == nil {
		return pickFloat(value, fallback)
	}
	if value <= 0 {
		return clampFloat(fallback, limits.Min, limits.Max)
	}
	return clampFloat(value, limits.Min, limits.Max)
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func normalizeBase64(raw string) string {
	data := strings.TrimSpace(raw)
	if data == "" {
		return ""
	}
	if strings.HasPrefix(data, "data:image") {
		return data
	}
	if len(data) > 50 {
		return "data:image/webp;base64," + data
	}
	return ""
}
