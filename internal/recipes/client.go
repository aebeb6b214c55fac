package recipes

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"gridgallery/internal/chain"
)

// Recipe is a published workflow from the on-chain recipe registry. Workflow
// holds the decoded graph; WorkflowError carries the decode failure when the
// payload could not be parsed.
type Recipe struct {
	RecipeID      int64                  `json:"recipeId"`
	RecipeRoot    string                 `json:"recipeRoot"`
	Creator       string                 `json:"creator"`
	CanCreateNFTs bool                   `json:"canCreateNfts"`
	IsPublic      bool                   `json:"isPublic"`
	Compression   uint8                  `json:"compression"`
	CreatedAt     int64                  `json:"createdAt"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	Workflow      map[string]interface{} `json:"workflow,omitempty"`
	WorkflowError string                 `json:"workflowError,omitempty"`
}

const recipeABI = `[
	{
		"inputs": [{"name": "recipeId", "type": "uint256"}],
		"name": "getRecipe",
		"outputs": [
			{
				"components": [
					{"name": "recipeId", "type": "uint256"},
					{"name": "recipeRoot", "type": "bytes32"},
					{"name": "workflowData", "type": "bytes"},
					{"name": "creator", "type": "address"},
					{"name": "canCreateNFTs", "type": "bool"},
					{"name": "isPublic", "type": "bool"},
					{"name": "compression", "type": "uint8"},
					{"name": "createdAt", "type": "uint256"},
					{"name": "name", "type": "string"},
					{"name": "description", "type": "string"}
				],
				"type": "tuple"
			}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getTotalRecipes",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// rawRecipe mirrors the getRecipe output tuple.
type rawRecipe struct {
	RecipeId      *big.Int
	RecipeRoot    [32]byte
	WorkflowData  []byte
	Creator       common.Address
	CanCreateNFTs bool
	IsPublic      bool
	Compression   uint8
	CreatedAt     *big.Int
	Name          string
	Description   string
}

func decodeRecipe(output interface{}) (*Recipe, error) {
	raw, ok := abi.ConvertType(output, new(rawRecipe)).(*rawRecipe)
	if !ok {
		return nil, fmt.Errorf("unexpected getRecipe output %T", output)
	}
	var id, createdAt int64
	if raw.RecipeId != nil {
		id = raw.RecipeId.Int64()
	}
	if raw.CreatedAt != nil {
		createdAt = raw.CreatedAt.Int64()
	}
	workflow, workflowErr := decodeWorkflow(raw.WorkflowData, raw.Compression)
	return &Recipe{
		RecipeID:      id,
		RecipeRoot:    fmt.Sprintf("%x", raw.RecipeRoot),
		Creator:       raw.Creator.Hex(),
		CanCreateNFTs: raw.CanCreateNFTs,
		IsPublic:      raw.IsPublic,
		Compression:   raw.Compression,
		CreatedAt:     createdAt,
		Name:          raw.Name,
		Description:   raw.Description,
		Workflow:      workflow,
		WorkflowError: workflowErr,
	}, nil
}

// Client reads the recipe registry contract and caches the public recipe set.
type Client struct {
	caller    chain.Caller
	enabled   bool
	cacheTTL  time.Duration
	callDelay time.Duration

	mu          sync.RWMutex
	cache       map[string]*Recipe
	cacheExpiry time.Time

	group singleflight.Group
}

// Options tune cache lifetime and the delay between consecutive contract
// calls during a batch fetch.
type Options struct {
	CacheTTL  time.Duration
	CallDelay time.Duration
}

// NewClient dials the recipe registry contract. When enabled is false the
// returned client never touches the network.
func NewClient(rpcURL, contractAddr string, enabled bool, opts Options) (*Client, error) {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	if opts.CallDelay <= 0 {
		opts.CallDelay = 300 * time.Millisecond
	}
	if !enabled {
		return &Client{enabled: false, cache: map[string]*Recipe{}}, nil
	}
	caller, err := chain.Dial(rpcURL, contractAddr, recipeABI)
	if err != nil {
		return nil, fmt.Errorf("recipe client: %w", err)
	}
	slog.Info("recipe client initialized", "contract", contractAddr)
	return &Client{
		caller:    caller,
		enabled:   true,
		cacheTTL:  opts.CacheTTL,
		callDelay: opts.CallDelay,
		cache:     map[string]*Recipe{},
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
		cache:     map[string]*Recipe{},
	}
}

// Enabled reports whether the client talks to the chain.
func (c *Client) Enabled() bool { return c.enabled }

// RecipeCount returns the number of registered recipes.
func (c *Client) RecipeCount(ctx context.Context) (int64, error) {
	if !c.enabled {
		return 0, nil
	}
	var out []interface{}
	if err := c.caller.Call(ctx, &out, "getTotalRecipes"); err != nil {
		return 0, fmt.Errorf("getTotalRecipes: %w", err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("getTotalRecipes: empty result")
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("getTotalRecipes: unexpected result %T", out[0])
	}
	return count.Int64(), nil
}

// RecipeByID fetches a single recipe.
func (c *Client) RecipeByID(ctx context.Context, id int64) (*Recipe, error) {
	if !c.enabled {
		return nil, nil
	}
	var out []interface{}
	if err := c.caller.Call(ctx, &out, "getRecipe", big.NewInt(id)); err != nil {
		return nil, fmt.Errorf("getRecipe %d: %w", id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("getRecipe %d: empty result", id)
	}
	return decodeRecipe(out[0])
}

// AllRecipes returns the public recipes indexed by name and normalized name.
// Served from cache within the TTL; concurrent refreshes are coalesced.
func (c *Client) AllRecipes(ctx context.Context) (map[string]*Recipe, error) {
	if !c.enabled {
		return map[string]*Recipe{}, nil
	}

	if cached := c.snapshot(); cached != nil {
		return cached, nil
	}

	v, err, _ := c.group.Do("all-recipes", func() (interface{}, error) {
		if cached := c.snapshot(); cached != nil {
			return cached, nil
		}
		return c.fetchAll(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]*Recipe), nil
}

func (c *Client) snapshot() map[string]*Recipe {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if time.Now().After(c.cacheExpiry) || len(c.cache) == 0 {
		return nil
	}
	snap := make(map[string]*Recipe, len(c.cache))
	for k, v := range c.cache {
		snap[k] = v
	}
	return snap
}

// fetchAll walks every recipe slot sequentially. Cancellation stops the batch
// early and keeps whatever loaded so far; the cache is replaced only when at
// least one recipe loaded.
func (c *Client) fetchAll(ctx context.Context) (map[string]*Recipe, error) {
	count, err := c.RecipeCount(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("fetching recipes", "count", count)

	recipes := make(map[string]*Recipe)
	loaded, failed := 0, 0

loop:
	for i := int64(1); i <= count; i++ {
		if i > 1 && c.callDelay > 0 {
			select {
			case <-time.After(c.callDelay):
			case <-ctx.Done():
				slog.Warn("recipe fetch cancelled", "loaded", loaded)
				break loop
			}
		}
		recipe, err := c.RecipeByID(ctx, i)
		if err != nil {
			if ctx.Err() != nil {
				slog.Warn("recipe fetch cancelled", "loaded", loaded)
				break loop
			}
			failed++
			slog.Warn("fetch recipe failed", "id", i, "err", err)
			continue
		}
		if recipe == nil || !recipe.IsPublic {
			continue
		}
		loaded++
		recipes[recipe.Name] = recipe
		normalized := strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(recipe.Name, ".", "_"), "-", "_"))
		recipes[normalized] = recipe
	}

	if loaded > 0 {
		c.mu.Lock()
		c.cache = recipes
		c.cacheExpiry = time.Now().Add(c.cacheTTL)
		c.mu.Unlock()
	}
	if loaded == 0 && ctx.Err() != nil {
		return recipes, ctx.Err()
	}
	slog.Info("recipes loaded", "loaded", loaded, "failed", failed)
	return recipes, nil
}

// RecipeModels returns the unique model file names referenced across all
// public recipes. Recipes whose workflow failed to decode are skipped.
func (c *Client) RecipeModels(ctx context.Context) ([]string, error) {
	recipes, err := c.AllRecipes(ctx)
	if err != nil {
		return nil, err
	}
	set := map[string]bool{}
	seen := map[*Recipe]bool{}
	empty := 0
	for _, recipe := range recipes {
		if seen[recipe] {
			continue
		}
		seen[recipe] = true
		if recipe.Workflow == nil {
			continue
		}
		models := ExtractModels(recipe.Workflow)
		if len(models) == 0 {
			empty++
			continue
		}
		for _, model := range models {
			set[model] = true
		}
	}
	if empty > 0 {
		slog.Debug("recipes referencing no models", "count", empty)
	}
	models := make([]string, 0, len(set))
	for model := range set {
		models = append(models, model)
	}
	return models, nil
}
