package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"gridgallery/internal/chain"
)

// ModelType classifies a registered model.
type ModelType uint8

const (
	TextModel  ModelType = 0
	ImageModel ModelType = 1
	VideoModel ModelType = 2
)

func (m ModelType) String() string {
	switch m {
	case TextModel:
		return "text"
	case ImageModel:
		return "image"
	case VideoModel:
		return "video"
	default:
		return "unknown"
	}
}

// Model is a model registered in the on-chain registry.
type Model struct {
	Hash         [32]byte
	Type         ModelType
	FileName     string
	DisplayName  string
	Description  string
	IsNSFW       bool
	SizeBytes    uint64
	Inpainting   bool
	Img2Img      bool
	Controlnet   bool
	Lora         bool
	BaseModel    string
	Architecture string
	IsActive     bool
	Constraints  *Constraints
}

// Constraints are per-model generation limits.
type Constraints struct {
	StepsMin          uint16
	StepsMax          uint16
	CfgMin            float64
	CfgMax            float64
	ClipSkip          uint8
	AllowedSamplers   []string
	AllowedSchedulers []string
}

const registryABI = `[
	{
		"inputs": [{"name": "modelId", "type": "uint256"}],
		"name": "getModel",
		"outputs": [
			{
				"components": [
					{"name": "modelHash", "type": "bytes32"},
					{"name": "modelType", "type": "uint8"},
					{"name": "fileName", "type": "string"},
					{"name": "name", "type": "string"},
					{"name": "version", "type": "string"},
					{"name": "ipfsCid", "type": "string"},
					{"name": "downloadUrl", "type": "string"},
					{"name": "sizeBytes", "type": "uint256"},
					{"name": "quantization", "type": "string"},
					{"name": "format", "type": "string"},
					{"name": "vramMB", "type": "uint32"},
					{"name": "baseModel", "type": "string"},
					{"name": "inpainting", "type": "bool"},
					{"name": "img2img", "type": "bool"},
					{"name": "controlnet", "type": "bool"},
					{"name": "lora", "type": "bool"},
					{"name": "isActive", "type": "bool"},
					{"name": "isNSFW", "type": "bool"},
					{"name": "timestamp", "type": "uint256"},
					{"name": "creator", "type": "address"}
				],
				"type": "tuple"
			}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getModelCount",
		"outputs": [{"type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "modelHash", "type": "bytes32"}],
		"name": "getConstraints",
		"outputs": [
			{
				"components": [
					{"name": "stepsMin", "type": "uint16"},
					{"name": "stepsMax", "type": "uint16"},
					{"name": "cfgMinTenths", "type": "uint16"},
					{"name": "cfgMaxTenths", "type": "uint16"},
					{"name": "clipSkip", "type": "uint8"},
					{"name": "allowedSamplers", "type": "bytes32[]"},
					{"name": "allowedSchedulers", "type": "bytes32[]"},
					{"name": "exists", "type": "bool"}
				],
				"type": "tuple"
			}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Client reads the model registry contract and caches the full model set.
// A disabled client answers every query with empty results.
type Client struct {
	caller    chain.Caller
	enabled   bool
	cacheTTL  time.Duration
	callDelay time.Duration

	mu          sync.RWMutex
	cache       map[string]*Model
	cacheExpiry time.Time

	group singleflight.Group
}

// Options tune cache lifetime and the delay between consecutive contract
// calls during a batch fetch.
type Options struct {
	CacheTTL  time.Duration
	CallDelay time.Duration
}

// NewClient dials the registry contract. When enabled is false the returned
// client never touches the network.
func NewClient(rpcURL, contractAddr string, enabled bool, opts Options) (*Client, error) {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	if opts.CallDelay <= 0 {
		opts.CallDelay = 300 * time.Millisecond
	}
	if !enabled {
		return &Client{enabled: false, cache: map[string]*Model{}}, nil
	}
	caller, err := chain.Dial(rpcURL, contractAddr, registryABI)
	if err != nil {
		return nil, fmt.Errorf("registry client: %w", err)
	}
	slog.Info("registry client initialized", "contract", contractAddr)
	return &Client{
		caller:    caller,
		enabled:   true,
		cacheTTL:  opts.CacheTTL,
		callDelay: opts.CallDelay,
		cache:     map[string]*Model{},
	}, nil
}

// NewClientWithCaller builds a client over an existing Caller. Used by tests.
func NewClientWithCaller(caller chain.Caller, opts Options) *Client {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	return &Client{
		caller:    caller,
		enabled:   true,
		cacheTTL:  opts.CacheTTL,
		callDelay: opts.CallDelay,
		cache:     map[string]*Model{},
	}
}

// Enabled reports whether the client talks to the chain.
func (c *Client) Enabled() bool { return c.enabled }

// ModelCount returns the number of registered model slots.
func (c *Client) ModelCount(ctx context.Context) (int64, error) {
	if !c.enabled {
		return 0, nil
	}
	var out []interface{}
	if err := c.caller.Call(ctx, &out, "getModelCount"); err != nil {
		return 0, fmt.Errorf("getModelCount: %w", err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("getModelCount: empty result")
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("getModelCount: unexpected result %T", out[0])
	}
	return count.Int64(), nil
}

// ModelByID fetches one model slot. Absent slots return nil without error.
func (c *Client) ModelByID(ctx context.Context, id int64) (*Model, error) {
	if !c.enabled {
		return nil, nil
	}
	var out []interface{}
	if err := c.caller.Call(ctx, &out, "getModel", big.NewInt(id)); err != nil {
		return nil, fmt.Errorf("getModel %d: %w", id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("getModel %d: empty result", id)
	}
	return decodeModel(out[0])
}

// ConstraintsByHash fetches generation constraints for a model hash. Missing
// constraints are not an error.
func (c *Client) ConstraintsByHash(ctx context.Context, hash [32]byte) (*Constraints, error) {
	if !c.enabled {
		return nil, nil
	}
	var out []interface{}
	if err := c.caller.Call(ctx, &out, "getConstraints", hash); err != nil {
		return nil, nil
	}
	if len(out) == 0 {
		return nil, nil
	}
	return decodeConstraints(out[0])
}

// AllModels returns the alias-indexed set of active models. The set is served
// from cache within the TTL; concurrent refreshes are coalesced into a single
// batch fetch.
func (c *Client) AllModels(ctx context.Context) (map[string]*Model, error) {
	if !c.enabled {
		return map[string]*Model{}, nil
	}

	if cached := c.snapshot(); cached != nil {
		return cached, nil
	}

	v, err, _ := c.group.Do("all-models", func() (interface{}, error) {
		if cached := c.snapshot(); cached != nil {
			return cached, nil
		}
		return c.fetchAll(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]*Model), nil
}

func (c *Client) snapshot() map[string]*Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if time.Now().After(c.cacheExpiry) || len(c.cache) == 0 {
		return nil
	}
	snap := make(map[string]*Model, len(c.cache))
	for k, v := range c.cache {
		snap[k] = v
	}
	return snap
}

// fetchAll walks every model slot sequentially with a delay between calls so
// a burst of reads does not trip RPC rate limits. Individual slot failures
// are tolerated; the cache is replaced only when at least one model loaded.
// Cancellation stops the batch early and keeps whatever loaded so far.
func (c *Client) fetchAll(ctx context.Context) (map[string]*Model, error) {
	count, err := c.ModelCount(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("fetching registry models", "count", count)

	models := make(map[string]*Model)
	loaded, failed := 0, 0

loop:
	for i := int64(1); i <= count; i++ {
		if i > 1 && c.callDelay > 0 {
			select {
			case <-time.After(c.callDelay):
			case <-ctx.Done():
				slog.Warn("registry fetch cancelled", "loaded", loaded)
				break loop
			}
		}
		model, err := c.ModelByID(ctx, i)
		if err != nil {
			if ctx.Err() != nil {
				slog.Warn("registry fetch cancelled", "loaded", loaded)
				break loop
			}
			failed++
			slog.Warn("fetch model failed", "id", i, "err", err)
			continue
		}
		if model == nil || !model.IsActive {
			continue
		}
		loaded++
		indexModel(models, model)
	}

	if loaded > 0 {
		c.mu.Lock()
		c.cache = models
		c.cacheExpiry = time.Now().Add(c.cacheTTL)
		c.mu.Unlock()
	}
	if loaded == 0 && ctx.Err() != nil {
		return models, ctx.Err()
	}
	slog.Info("registry models loaded", "loaded", loaded, "failed", failed)
	return models, nil
}

// indexModel registers the model under its display name, the lowercase form,
// and its file name.
func indexModel(models map[string]*Model, m *Model) {
	models[m.DisplayName] = m
	models[strings.ToLower(m.DisplayName)] = m
	if m.FileName != "" {
		models[m.FileName] = m
	}
}

// FindModel resolves a model by name: exact alias first, then lowercase,
// then with dots and hyphens normalized to underscores. Unknown names return
// nil without error.
func (c *Client) FindModel(ctx context.Context, name string) (*Model, error) {
	models, err := c.AllModels(ctx)
	if err != nil {
		return nil, err
	}
	if m, ok := models[name]; ok {
		return m, nil
	}
	lower := strings.ToLower(name)
	if m, ok := models[lower]; ok {
		return m, nil
	}
	want := normalizeName(lower)
	for key, m := range models {
		if normalizeName(strings.ToLower(key)) == want {
			return m, nil
		}
	}
	return nil, nil
}

func normalizeName(s string) string {
	s = strings.ReplaceAll(s, ".", "_")
	return strings.ReplaceAll(s, "-", "_")
}

// describeModel derives a short human description from the display name.
func describeModel(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "wan2.2"), strings.Contains(lower, "wan2_2"):
		switch {
		case strings.Contains(lower, "ti2v"), strings.Contains(lower, "i2v"):
			return "WAN 2.2 Image-to-Video generation model"
		case strings.Contains(lower, "t2v") && strings.Contains(lower, "hq"):
			return "WAN 2.2 Text-to-Video 14B model - High quality mode"
		case strings.Contains(lower, "t2v"):
			return "WAN 2.2 Text-to-Video model"
		}
		return "WAN 2.2 Video generation model"
	case strings.Contains(lower, "flux"):
		switch {
		case strings.Contains(lower, "kontext"):
			return "FLUX Kontext model for context-aware image generation"
		case strings.Contains(lower, "krea"):
			return "FLUX Krea model - Advanced image generation"
		case strings.Contains(lower, "schnell"):
			return "FLUX Schnell - Fast image generation"
		}
		return "FLUX.1 model for high-quality image generation"
	case strings.Contains(lower, "sdxl"), strings.Contains(lower, "xl"):
		return "Stable Diffusion XL model"
	case strings.Contains(lower, "chroma"):
		return "Chroma model for image generation"
	case strings.Contains(lower, "ltxv"), strings.Contains(lower, "ltx"):
		return "LTX Video generation model"
	}
	return fmt.Sprintf("%s model", name)
}
