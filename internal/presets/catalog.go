package presets

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

type RangeInt struct {
	Min  int `json:"min"`
	Max  int `json:"max"`
	Step int `json:"step"`
}

type RangeFloat struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Limits bound the tunable generation parameters of a preset.
type Limits struct {
	Width    *RangeInt   `json:"width,omitempty"`
	Height   *RangeInt   `json:"height,omitempty"`
	Steps    *RangeInt   `json:"steps,omitempty"`
	CfgScale *RangeFloat `json:"cfgScale,omitempty"`
	Length   *RangeInt   `json:"length,omitempty"`
	FPS      *RangeInt   `json:"fps,omitempty"`
}

// Defaults are the starting parameter values for a preset.
type Defaults struct {
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Steps     int     `json:"steps,omitempty"`
	CfgScale  float64 `json:"cfgScale,omitempty"`
	Sampler   string  `json:"sampler,omitempty"`
	Scheduler string  `json:"scheduler,omitempty"`
	Denoise   float64 `json:"denoise,omitempty"`
	Length    int     `json:"length,omitempty"`
	FPS       int     `json:"fps,omitempty"`
	Tiling    bool    `json:"tiling,omitempty"`
	HiresFix  bool    `json:"hiresFix,omitempty"`
}

// ModelPreset is the curated UI-facing description of a model.
type ModelPreset struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"displayName"`
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
	Samplers     []string `json:"samplers"`
	Schedulers   []string `json:"schedulers"`
	Capabilities []string `json:"capabilities"`
	Defaults     Defaults `json:"defaults"`
	Limits       Limits   `json:"limits"`
}

// Catalog is an id-indexed preset collection loaded from a JSON file.
type Catalog struct {
	items map[string]ModelPreset
}

// LoadCatalog reads the preset file. Presets without an id are skipped.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read presets: %w", err)
	}
	var presets []ModelPreset
	if err := json.Unmarshal(data, &presets); err != nil {
		return Catalog{}, fmt.Errorf("decode presets: %w", err)
	}
	items := make(map[string]ModelPreset, len(presets))
	for _, p := range presets {
		if p.ID == "" {
			continue
		}
		items[p.ID] = p
	}
	return Catalog{items: items}, nil
}

// Get returns the preset by id.
func (c Catalog) Get(id string) (ModelPreset, bool) {
	v, ok := c.items[id]
	return v, ok
}

// List returns all presets ordered by id.
func (c Catalog) List() []ModelPreset {
	out := make([]ModelPreset, 0, len(c.items))
	for _, v := range c.items {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of presets.
func (c Catalog) Len() int { return len(c.items) }
