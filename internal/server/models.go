package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"gridgallery/internal/grid"
	"gridgallery/internal/presets"
	"gridgallery/internal/registry"
)

// ModelView is the merged UI-facing model description: preset data enriched
// with live grid availability and on-chain registry metadata.
type ModelView struct {
	ID                   string           `json:"id"`
	DisplayName          string           `json:"displayName"`
	Type                 string           `json:"type"`
	Description          string           `json:"description"`
	Tags                 []string         `json:"tags"`
	Capabilities         []string         `json:"capabilities"`
	Samplers             []string         `json:"samplers"`
	Schedulers           []string         `json:"schedulers"`
	Status               string           `json:"status"`
	OnlineWorkers        int              `json:"onlineWorkers"`
	QueueLength          int              `json:"queueLength"`
	EstimatedWaitSeconds float64          `json:"estimatedWaitSeconds"`
	Defaults             presets.Defaults `json:"defaults"`
	Limits               presets.Limits   `json:"limits"`
	OnChain              bool             `json:"onChain"`
	Constraints          *ConstraintsView `json:"constraints,omitempty"`
}

// ConstraintsView carries registry-derived generation constraints.
type ConstraintsView struct {
	StepsMin int     `json:"stepsMin,omitempty"`
	StepsMax int     `json:"stepsMax,omitempty"`
	CfgMin   float64 `json:"cfgMin,omitempty"`
	CfgMax   float64 `json:"cfgMax,omitempty"`
	ClipSkip int     `json:"clipSkip,omitempty"`
}

// modelNameAliases maps preset ids to the name variants workers report.
var modelNameAliases = map[string][]string{
	"wan2.2_ti2v_5B":     {"wan2.2_ti2v_5b", "wan2_2_ti2v_5b", "wan2.2-ti2v-5b"},
	"wan2.2-t2v-a14b":    {"wan2_2_t2v_14b", "wan2.2-t2v-14b", "wan2.2_t2v_a14b"},
	"wan2.2-t2v-a14b-hq": {"wan2_2_t2v_14b_hq", "wan2.2-t2v-14b-hq", "wan2.2_t2v_a14b_hq"},
	"FLUX.1-dev":         {"flux.1-dev", "flux1-dev", "flux1.dev", "flux1_dev"},
	"flux.1-krea-dev":    {"flux1-krea-dev", "flux1_krea_dev", "krea", "flux1-krea-dev_fp8_scaled"},
	"Chroma":             {"chroma", "chroma_final"},
	"SDXL 1.0":           {"sdxl 1.0", "sdxl1", "sdxl", "sdxl1.0"},
	"ltxv":               {"ltx-video", "ltxv-13b"},
}

// presetToGridName maps preset ids to the canonical grid model names the
// workers advertise.
var presetToGridName = map[string]string{
	"wan2.2_ti2v_5B":     "wan2_2_ti2v_5b",
	"wan2.2-t2v-a14b":    "wan2_2_t2v_14b",
	"wan2.2-t2v-a14b-hq": "wan2_2_t2v_14b_hq",
}

func gridModelName(presetID string) string {
	if name, ok := presetToGridName[presetID]; ok {
		return name
	}
	return presetID
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	stats, err := s.grid.ModelStats(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	byName := indexStats(stats)

	var chainModels map[string]*registry.Model
	if s.registry != nil && s.registry.Enabled() {
		chainModels, err = s.registry.AllModels(ctx)
		if err != nil {
			slog.Warn("fetch registry models", "err", err)
		}
	}

	available := s.recipeModelSet(ctx)

	list := s.catalog.List()
	views := make([]ModelView, 0, len(list))
	for _, preset := range list {
		if available != nil && !presetAvailable(preset.ID, available) {
			continue
		}
		stat := lookupModelStats(preset.ID, byName)
		var chainModel *registry.Model
		if chainModels != nil {
			chainModel = chainModels[preset.ID]
			if chainModel == nil {
				chainModel = chainModels[strings.ToLower(preset.ID)]
			}
		}
		views = append(views, buildModelView(preset, stat, chainModel))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].DisplayName < views[j].DisplayName })

	writeJSON(w, http.StatusOK, map[string]any{
		"models":       views,
		"chainSource":  s.registry != nil && s.registry.Enabled(),
		"recipeSource": s.recipes != nil && s.recipes.Enabled(),
	})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/models/")
	preset, ok := s.catalog.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	stats, err := s.grid.ModelStats(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	var chainModel *registry.Model
	if s.registry != nil && s.registry.Enabled() {
		if found, _ := s.registry.FindModel(ctx, preset.ID); found != nil {
			// Copy before attaching constraints: found points into the
			// shared registry cache.
			m := *found
			if m.Constraints == nil {
				if c, err := s.registry.ConstraintsByHash(ctx, m.Hash); err == nil && c != nil {
					m.Constraints = c
				}
			}
			chainModel = &m
		}
	}
	writeJSON(w, http.StatusOK, buildModelView(preset, lookupModelStats(preset.ID, indexStats(stats)), chainModel))
}

// handleStyles serves the curated style definitions file verbatim.
func (s *Server) handleStyles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	data, err := os.ReadFile(s.stylesPath)
	if err != nil {
		slog.Error("read styles config", "path", s.stylesPath, "err", err)
		writeError(w, http.StatusInternalServerError, "styles config not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// recipeModelSet returns the normalized names of models referenced by public
// recipes, or nil when recipe filtering is unavailable.
func (s *Server) recipeModelSet(ctx context.Context) map[string]bool {
	if s.recipes == nil || !s.recipes.Enabled() {
		return nil
	}
	models, err := s.recipes.RecipeModels(ctx)
	if err != nil {
		slog.Warn("fetch recipe models", "err", err)
		return nil
	}
	if len(models) == 0 {
		return nil
	}
	set := make(map[string]bool, len(models)*3)
	for _, model := range models {
		set[model] = true
		set[strings.ToLower(model)] = true
		set[normalizeModelFile(model)] = true
	}
	return set
}

// presetAvailable reports whether the preset matches any recipe-referenced
// model, trying the id, its aliases and the grid name, each exact and
// normalized.
func presetAvailable(presetID string, available map[string]bool) bool {
	candidates := []string{presetID, gridModelName(presetID)}
	candidates = append(candidates, modelNameAliases[presetID]...)
	for _, candidate := range candidates {
		if available[candidate] || available[strings.ToLower(candidate)] {
			return true
		}
		if available[normalizeModelFile(candidate)] {
			return true
		}
	}
	norm := normalizeModelFile(presetID)
	for key := range available {
		if strings.Contains(key, norm) || strings.Contains(norm, key) {
			return true
		}
	}
	return false
}

// normalizeModelFile strips model file extensions and separators so file
// names and display names compare equal.
func normalizeModelFile(name string) string {
	for _, ext := range []string{".safetensors", ".ckpt", ".pt", ".pth"} {
		name = strings.TrimSuffix(name, ext)
	}
	name = strings.ToLower(name)
	for _, sep := range []string{"_", "-", ".", " "} {
		name = strings.ReplaceAll(name, sep, "")
	}
	return name
}

func indexStats(stats []grid.ModelStatus) map[string]grid.ModelStatus {
	byName := make(map[string]grid.ModelStatus, len(stats)*2)
	for _, s := range stats {
		byName[strings.ToLower(s.Name)] = s
		byName[s.Name] = s
	}
	return byName
}

// lookupModelStats resolves worker-reported stats for a preset, tolerating
// the naming drift between preset ids and advertised model names.
func lookupModelStats(presetID string, byName map[string]grid.ModelStatus) grid.ModelStatus {
	if stat, ok := byName[presetID]; ok {
		return stat
	}
	lower := strings.ToLower(presetID)
	if stat, ok := byName[lower]; ok {
		return stat
	}
	for _, alias := range modelNameAliases[presetID] {
		if stat, ok := byName[alias]; ok {
			return stat
		}
		if stat, ok := byName[strings.ToLower(alias)]; ok {
			return stat
		}
	}
	normalized := normalizeSeparators(lower)
	for name, stat := range byName {
		if normalizeSeparators(strings.ToLower(name)) == normalized {
			return stat
		}
	}
	return grid.ModelStatus{}
}

func normalizeSeparators(s string) string {
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, ".", "_")
}

func buildModelView(preset presets.ModelPreset, stat grid.ModelStatus, chainModel *registry.Model) ModelView {
	status := "offline"
	if stat.ParseCount() > 0 {
		status = "online"
	}
	view := ModelView{
		ID:                   preset.ID,
		DisplayName:          preset.DisplayName,
		Type:                 preset.Type,
		Description:          preset.Description,
		Tags:                 preset.Tags,
		Capabilities:         preset.Capabilities,
		Samplers:             preset.Samplers,
		Schedulers:           preset.Schedulers,
		Status:               status,
		OnlineWorkers:        stat.ParseCount(),
		QueueLength:          stat.ParseQueued(),
		EstimatedWaitSeconds: stat.ParseETA(),
		Defaults:             preset.Defaults,
		Limits:               preset.Limits,
		OnChain:              chainModel != nil,
	}
	if chainModel == nil {
		return view
	}
	if chainModel.Description != "" && chainModel.Description != preset.Description {
		view.Description = chainModel.Description
	}
	if c := chainModel.Constraints; c != nil {
		view.Constraints = &ConstraintsView{
			StepsMin: int(c.StepsMin),
			StepsMax: int(c.StepsMax),
			CfgMin:   c.CfgMin,
			CfgMax:   c.CfgMax,
			ClipSkip: int(c.ClipSkip),
		}
		if view.Limits.Steps != nil && c.StepsMax > 0 {
			// Limits ranges are shared with the catalog; narrow a copy.
			steps := *view.Limits.Steps
			if int(c.StepsMax) < steps.Max {
				steps.Max = int(c.StepsMax)
			}
			if int(c.StepsMin) > steps.Min {
				steps.Min = int(c.StepsMin)
			}
			view.Limits.Steps = &steps
		}
		if view.Limits.CfgScale != nil && c.CfgMax > 0 {
			cfg := *view.Limits.CfgScale
			if c.CfgMax < cfg.Max {
				cfg.Max = c.CfgMax
			}
			if c.CfgMin > cfg.Min {
				cfg.Min = c.CfgMin
			}
			view.Limits.CfgScale = &cfg
		}
	}
	return view
}
