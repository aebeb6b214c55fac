package recipes

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"
)

type fakeCaller struct {
	mu          sync.Mutex
	countCalls  int
	recipes     map[int64]rawRecipe
	failIDs     map[int64]bool
	afterRecipe func(id int64)
}

func (f *fakeCaller) Call(ctx context.Context, result *[]interface{}, method string, params ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch method {
	case "getTotalRecipes":
		f.countCalls++
		*result = []interface{}{big.NewInt(int64(len(f.recipes)))}
	case "getRecipe":
		id := params[0].(*big.Int).Int64()
		if f.failIDs[id] {
			return fmt.Errorf("rpc: 429 too many requests")
		}
		*result = []interface{}{f.recipes[id]}
		if f.afterRecipe != nil {
			f.afterRecipe(id)
		}
	default:
		return fmt.Errorf("unexpected method %q", method)
	}
	return nil
}

func publicRecipe(id int64, name, workflowJSON string) rawRecipe {
	return rawRecipe{
		RecipeId:     big.NewInt(id),
		WorkflowData: []byte(workflowJSON),
		IsPublic:     true,
		Compression:  CompressionNone,
		CreatedAt:    big.NewInt(1700000000),
		Name:         name,
	}
}

func TestAllRecipesIndexesPublicOnly(t *testing.T) {
	private := publicRecipe(2, "secret", `{"nodes":[]}`)
	private.IsPublic = false
	caller := &fakeCaller{recipes: map[int64]rawRecipe{
		1: publicRecipe(1, "FLUX.1-txt2img", `{"nodes":[]}`),
		2: private,
	}}
	client := NewClientWithCaller(caller, Options{CacheTTL: time.Hour})

	recipes, err := client.AllRecipes(context.Background())
	if err != nil {
		t.Fatalf("all recipes: %v", err)
	}
	if _, ok := recipes["FLUX.1-txt2img"]; !ok {
		t.Fatalf("expected recipe under its name, got keys %v", keys(recipes))
	}
	if _, ok := recipes["flux_1_txt2img"]; !ok {
		t.Fatalf("expected recipe under normalized name, got keys %v", keys(recipes))
	}
	if _, ok := recipes["secret"]; ok {
		t.Fatalf("private recipe must not be indexed")
	}
}

func TestAllRecipesToleratesSlotFailures(t *testing.T) {
	caller := &fakeCaller{
		recipes: map[int64]rawRecipe{
			1: publicRecipe(1, "one", `{"nodes":[]}`),
			2: publicRecipe(2, "two", `{"nodes":[]}`),
			3: publicRecipe(3, "three", `{"nodes":[]}`),
		},
		failIDs: map[int64]bool{2: true},
	}
	client := NewClientWithCaller(caller, Options{CacheTTL: time.Hour})

	recipes, err := client.AllRecipes(context.Background())
	if err != nil {
		t.Fatalf("all recipes: %v", err)
	}
	distinct := map[*Recipe]bool{}
	for _, r := range recipes {
		distinct[r] = true
	}
	if len(distinct) != 2 {
		t.Fatalf("expected 2 recipes past the failed slot, got %d", len(distinct))
	}
}

func TestAllRecipesKeepsPartialResultsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	caller := &fakeCaller{recipes: map[int64]rawRecipe{
		1: publicRecipe(1, "one", `{"nodes":[]}`),
		2: publicRecipe(2, "two", `{"nodes":[]}`),
		3: publicRecipe(3, "three", `{"nodes":[]}`),
	}}
	caller.afterRecipe = func(id int64) {
		if id == 1 {
			cancel()
		}
	}
	client := NewClientWithCaller(caller, Options{CacheTTL: time.Hour, CallDelay: time.Millisecond})

	recipes, err := client.AllRecipes(ctx)
	if err != nil {
		t.Fatalf("expected partial results without error, got %v", err)
	}
	distinct := map[*Recipe]bool{}
	for _, r := range recipes {
		distinct[r] = true
	}
	if len(distinct) != 1 {
		t.Fatalf("expected the one recipe loaded before cancellation, got %d", len(distinct))
	}

	cached, err := client.AllRecipes(context.Background())
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if len(cached) == 0 {
		t.Fatalf("expected partial results to be cached")
	}
	if caller.countCalls != 1 {
		t.Fatalf("expected second call served from cache, got %d batch fetches", caller.countCalls)
	}
}

func TestRecipeByIDCarriesWorkflowError(t *testing.T) {
	bad := publicRecipe(1, "broken", `{"nodes":[]}`)
	bad.Compression = 99
	caller := &fakeCaller{recipes: map[int64]rawRecipe{1: bad}}
	client := NewClientWithCaller(caller, Options{})

	recipe, err := client.RecipeByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("recipe by id: %v", err)
	}
	if recipe.Workflow != nil {
		t.Fatalf("expected nil graph for unsupported compression")
	}
	if recipe.WorkflowError == "" {
		t.Fatalf("expected a workflow error message")
	}
}

func TestAllRecipesServesFromCache(t *testing.T) {
	caller := &fakeCaller{recipes: map[int64]rawRecipe{1: publicRecipe(1, "one", `{"nodes":[]}`)}}
	client := NewClientWithCaller(caller, Options{CacheTTL: time.Hour})

	if _, err := client.AllRecipes(context.Background()); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := client.AllRecipes(context.Background()); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if caller.countCalls != 1 {
		t.Fatalf("expected one batch fetch, got %d", caller.countCalls)
	}
}

func TestRecipeModels(t *testing.T) {
	caller := &fakeCaller{recipes: map[int64]rawRecipe{
		1: publicRecipe(1, "img", `{"1":{"class_type":"CheckpointLoaderSimple","inputs":{"ckpt_name":"sdxl_base.safetensors"}}}`),
		2: publicRecipe(2, "vid", `{"1":{"class_type":"WanVideoModelLoader","inputs":{"model_name":"wan2.2_t2v.safetensors"}}}`),
	}}
	client := NewClientWithCaller(caller, Options{CacheTTL: time.Hour})

	models, err := client.RecipeModels(context.Background())
	if err != nil {
		t.Fatalf("recipe models: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 unique models, got %v", models)
	}
}

func TestDisabledClientReturnsEmpty(t *testing.T) {
	client, err := NewClient("", "", false, Options{})
	if err != nil {
		t.Fatalf("new disabled client: %v", err)
	}
	recipes, err := client.AllRecipes(context.Background())
	if err != nil {
		t.Fatalf("all recipes: %v", err)
	}
	if len(recipes) != 0 {
		t.Fatalf("expected empty set from disabled client")
	}
}

func keys(m map[string]*Recipe) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
